package history

import (
	"testing"

	"github.com/joshyvodetaene/chatual-sub002/model"
	"github.com/stretchr/testify/assert"
)

func TestTracker_CanLoadMore(t *testing.T) {
	t.Run("初始态有HasMore但无游标", func(t *testing.T) {
		tracker := NewTracker()
		assert.True(t, tracker.HasMore())
		assert.False(t, tracker.CanLoadMore(), "缺少游标时不能加载")
	})

	t.Run("有游标且HasMore才可加载", func(t *testing.T) {
		tracker := NewTracker()
		tracker.Set("cur-1", "cur-2", true)
		assert.True(t, tracker.CanLoadMore())
	})

	t.Run("HasMore为false时不可加载", func(t *testing.T) {
		tracker := NewTracker()
		tracker.Set("cur-1", "cur-2", false)
		assert.False(t, tracker.CanLoadMore())
	})

	t.Run("游标为空时不可加载", func(t *testing.T) {
		tracker := NewTracker()
		tracker.Set("", "cur-2", true)
		assert.False(t, tracker.CanLoadMore())
	})
}

func TestTracker_RestoreFrom(t *testing.T) {
	tracker := NewTracker()
	tracker.Set("stale-next", "stale-prev", false)

	entry := FromPage(&model.Page{
		Messages:   []*model.Message{msgAt(1)},
		HasMore:    true,
		NextCursor: "cur-next",
		PrevCursor: "cur-prev",
	})
	tracker.RestoreFrom(entry)

	assert.Equal(t, "cur-next", tracker.NextCursor())
	assert.True(t, tracker.HasMore())
	assert.True(t, tracker.CanLoadMore())
}

func TestTracker_LoadSuppression(t *testing.T) {
	t.Run("在途请求抑制第二次", func(t *testing.T) {
		tracker := NewTracker()

		assert.True(t, tracker.BeginLoad())
		assert.True(t, tracker.Loading())
		assert.False(t, tracker.BeginLoad(), "已有在途请求时必须抑制")

		tracker.EndLoad()
		assert.False(t, tracker.Loading())
		assert.True(t, tracker.BeginLoad(), "结束后可再次开始")
	})
}
