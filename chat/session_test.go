package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/joshyvodetaene/chatual-sub002/history"
	"github.com/joshyvodetaene/chatual-sub002/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func msgAt(roomID string, n int) *model.Message {
	return &model.Message{
		ID:        fmt.Sprintf("%s-msg-%04d", roomID, n),
		RoomID:    roomID,
		Sender:    "alice",
		Content:   fmt.Sprintf("message %d", n),
		CreatedAt: testBase.Add(time.Duration(n) * time.Second),
	}
}

func msgIDs(msgs []*model.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func pageOf(hasMore bool, nextCursor string, msgs ...*model.Message) *model.Page {
	return &model.Page{Messages: msgs, HasMore: hasMore, NextCursor: nextCursor}
}

// ============================================================================
// 可控的拉取服务替身：每次调用都产出一个待回应的请求，
// 测试侧决定何时、以何种结果完成，从而确定性地驱动异步路径。
// ============================================================================

type fetchReply struct {
	page *model.Page
	err  error
}

type fetchCall struct {
	op     string
	roomID string
	cursor string
	limit  int
	reply  chan fetchReply
}

func (c *fetchCall) respond(page *model.Page, err error) {
	c.reply <- fetchReply{page: page, err: err}
}

type fakeService struct {
	calls chan *fetchCall
}

func newFakeService() *fakeService {
	return &fakeService{calls: make(chan *fetchCall, 16)}
}

func (f *fakeService) FetchInitial(ctx context.Context, roomID string) (*model.Page, error) {
	return f.dispatch(ctx, &fetchCall{op: "initial", roomID: roomID, reply: make(chan fetchReply, 1)})
}

func (f *fakeService) FetchOlder(ctx context.Context, roomID, cursor string, limit int) (*model.Page, error) {
	return f.dispatch(ctx, &fetchCall{op: "older", roomID: roomID, cursor: cursor, limit: limit, reply: make(chan fetchReply, 1)})
}

func (f *fakeService) dispatch(ctx context.Context, call *fetchCall) (*model.Page, error) {
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.page, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// next 等待下一次拉取调用
func (f *fakeService) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("等待拉取调用超时")
		return nil
	}
}

// assertNoCall 断言短时间内没有新的拉取调用
func (f *fakeService) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("不应发起拉取调用: %s %s", call.op, call.roomID)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestSession(t *testing.T, fake *fakeService, opts ...SessionOption) *Session {
	t.Helper()
	session, err := NewSession(fake, opts...)
	require.NoError(t, err)
	return session
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// ============================================================================
// 场景测试
// ============================================================================

func TestSession_InitialFetch(t *testing.T) {
	t.Run("首次进房安装初始页", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		assert.True(t, session.IsInitialLoading())
		assert.Empty(t, session.Messages())

		call := fake.next(t)
		assert.Equal(t, "initial", call.op)
		assert.Equal(t, "room-1", call.roomID)
		call.respond(pageOf(true, "cur-1", msgAt("room-1", 1), msgAt("room-1", 2)), nil)

		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")
		assert.Equal(t, []string{"room-1-msg-0001", "room-1-msg-0002"}, msgIDs(session.Messages()))
		assert.True(t, session.HasMoreMessages())
		assert.NoError(t, session.InitialError())
	})

	t.Run("切到同一房间为空操作", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(false, ""), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.assertNoCall(t)
	})

	t.Run("初始拉取失败暴露错误", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(nil, fmt.Errorf("server unavailable"))

		eventually(t, func() bool { return session.InitialError() != nil }, "应记录初始拉取失败")
		assert.False(t, session.IsInitialLoading())
		assert.Empty(t, session.Messages())
	})
}

func TestSession_CacheHitOnSwitch(t *testing.T) {
	t.Run("回到已缓存的房间不发请求", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		ctx := context.Background()

		// 进 room-1 并装入首页
		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		fake.next(t).respond(pageOf(true, "cur-r1", msgAt("room-1", 1)), nil)
		eventually(t, func() bool { return len(session.Messages()) == 1 }, "room-1 首页应安装")

		// 切到 room-2
		require.NoError(t, session.SwitchRoom(ctx, "room-2"))
		fake.next(t).respond(pageOf(false, "", msgAt("room-2", 1)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "room-2 首页应安装")

		// 切回 room-1：消息、游标、HasMore 全部从缓存恢复
		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		fake.assertNoCall(t)
		assert.False(t, session.IsInitialLoading())
		assert.Equal(t, []string{"room-1-msg-0001"}, msgIDs(session.Messages()))
		assert.True(t, session.HasMoreMessages())
	})
}

func TestSession_LoadMore(t *testing.T) {
	setup := func(t *testing.T) (*fakeService, *Session) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(true, "cur-10", msgAt("room-1", 10), msgAt("room-1", 11)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")
		return fake, session
	}

	t.Run("更早的页前插合并并推进游标", func(t *testing.T) {
		fake, session := setup(t)

		session.LoadMoreMessages(context.Background())
		call := fake.next(t)
		assert.Equal(t, "older", call.op)
		assert.Equal(t, "cur-10", call.cursor)
		call.respond(pageOf(true, "cur-8", msgAt("room-1", 8), msgAt("room-1", 9)), nil)

		eventually(t, func() bool { return len(session.Messages()) == 4 }, "历史页应合并")
		assert.Equal(t,
			[]string{"room-1-msg-0008", "room-1-msg-0009", "room-1-msg-0010", "room-1-msg-0011"},
			msgIDs(session.Messages()))
		assert.False(t, session.IsLoadingMore())

		// 游标已推进，下一次用新边界
		session.LoadMoreMessages(context.Background())
		assert.Equal(t, "cur-8", fake.next(t).cursor)
	})

	t.Run("在途请求抑制重复触发", func(t *testing.T) {
		fake, session := setup(t)
		ctx := context.Background()

		session.LoadMoreMessages(ctx)
		call := fake.next(t)

		// 第一次未完成，重复触发必须被吞掉
		session.LoadMoreMessages(ctx)
		session.LoadMoreMessages(ctx)
		fake.assertNoCall(t)

		call.respond(pageOf(false, "", msgAt("room-1", 9)), nil)
		eventually(t, func() bool { return len(session.Messages()) == 3 }, "历史页应合并一次")
	})

	t.Run("没有更早历史时为空操作", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(false, "", msgAt("room-1", 1)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")

		session.LoadMoreMessages(context.Background())
		fake.assertNoCall(t)
	})

	t.Run("失败保持消息与游标原样且可重试", func(t *testing.T) {
		fake, session := setup(t)
		ctx := context.Background()

		session.LoadMoreMessages(ctx)
		fake.next(t).respond(nil, fmt.Errorf("timeout"))

		eventually(t, func() bool { return session.LoadMoreError() != nil }, "应记录加载失败")
		assert.Equal(t, []string{"room-1-msg-0010", "room-1-msg-0011"}, msgIDs(session.Messages()))
		assert.True(t, session.HasMoreMessages())

		// 重试用同一游标，成功后错误清空
		session.LoadMoreMessages(ctx)
		retry := fake.next(t)
		assert.Equal(t, "cur-10", retry.cursor)
		retry.respond(pageOf(false, "", msgAt("room-1", 9)), nil)

		eventually(t, func() bool { return session.LoadMoreError() == nil && len(session.Messages()) == 3 },
			"重试成功应清空错误并合并")
	})
}

func TestSession_StaleCompletionDiscarded(t *testing.T) {
	t.Run("快速切房时过期的初始拉取被丢弃", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		ctx := context.Background()

		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		slowCall := fake.next(t)

		// room-1 的请求还在途，用户已切到 room-2
		require.NoError(t, session.SwitchRoom(ctx, "room-2"))
		fastCall := fake.next(t)
		fastCall.respond(pageOf(false, "", msgAt("room-2", 1)), nil)
		eventually(t, func() bool { return len(session.Messages()) == 1 }, "room-2 首页应安装")

		// 迟到的 room-1 结果不能污染视图，也不能写入缓存
		slowCall.respond(pageOf(false, "", msgAt("room-1", 1)), nil)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, "room-2", session.ActiveRoom())
		assert.Equal(t, []string{"room-2-msg-0001"}, msgIDs(session.Messages()))

		// room-1 既然没有安装过条目，再切回去必须重新拉取
		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		assert.Equal(t, "room-1", fake.next(t).roomID)
	})

	t.Run("过期的加载更早被丢弃", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		ctx := context.Background()

		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		fake.next(t).respond(pageOf(true, "cur-10", msgAt("room-1", 10)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")

		session.LoadMoreMessages(ctx)
		staleCall := fake.next(t)

		// 加载未完成即切房
		require.NoError(t, session.SwitchRoom(ctx, "room-2"))
		fake.next(t).respond(pageOf(false, "", msgAt("room-2", 1)), nil)
		eventually(t, func() bool { return session.ActiveRoom() == "room-2" && len(session.Messages()) == 1 },
			"room-2 首页应安装")

		staleCall.respond(pageOf(true, "cur-8", msgAt("room-1", 8)), nil)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, []string{"room-2-msg-0001"}, msgIDs(session.Messages()))

		// 切回 room-1：缓存里仍是旧条目，过期页没有被并入
		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		assert.Equal(t, []string{"room-1-msg-0010"}, msgIDs(session.Messages()))
	})
}

func TestSession_AddMessage(t *testing.T) {
	setup := func(t *testing.T) (*fakeService, *Session) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(true, "cur-1", msgAt("room-1", 1), msgAt("room-1", 2)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")
		return fake, session
	}

	t.Run("实时消息追加到尾部", func(t *testing.T) {
		_, session := setup(t)

		session.AddMessage(msgAt("room-1", 3))
		assert.Equal(t,
			[]string{"room-1-msg-0001", "room-1-msg-0002", "room-1-msg-0003"},
			msgIDs(session.Messages()))
	})

	t.Run("重复推送幂等", func(t *testing.T) {
		_, session := setup(t)

		session.AddMessage(msgAt("room-1", 3))
		session.AddMessage(msgAt("room-1", 3))
		assert.Len(t, session.Messages(), 3)
	})

	t.Run("迟到的推送落到排序位置", func(t *testing.T) {
		_, session := setup(t)

		session.AddMessage(msgAt("room-1", 3))
		late := msgAt("room-1", 2)
		late.ID = "room-1-msg-0002-b"
		session.AddMessage(late)

		assert.Equal(t,
			[]string{"room-1-msg-0001", "room-1-msg-0002", "room-1-msg-0002-b", "room-1-msg-0003"},
			msgIDs(session.Messages()))
	})

	t.Run("推送不影响分页游标", func(t *testing.T) {
		fake, session := setup(t)

		session.AddMessage(msgAt("room-1", 3))
		session.LoadMoreMessages(context.Background())
		assert.Equal(t, "cur-1", fake.next(t).cursor)
	})

	t.Run("非活跃但已缓存的房间也会并入", func(t *testing.T) {
		fake, session := setup(t)
		ctx := context.Background()

		require.NoError(t, session.SwitchRoom(ctx, "room-2"))
		fake.next(t).respond(pageOf(false, "", msgAt("room-2", 1)), nil)
		eventually(t, func() bool { return session.ActiveRoom() == "room-2" && !session.IsInitialLoading() },
			"room-2 首页应安装")

		// 推送进后台的 room-1，切回即可看到
		session.AddMessage(msgAt("room-1", 3))
		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		fake.assertNoCall(t)
		assert.Len(t, session.Messages(), 3)
	})

	t.Run("未缓存的房间与非法消息被忽略", func(t *testing.T) {
		_, session := setup(t)

		session.AddMessage(msgAt("room-unknown", 1))
		session.AddMessage(&model.Message{RoomID: "room-1"}) // 缺 ID
		assert.Len(t, session.Messages(), 2)
	})
}

func TestSession_SetMessages(t *testing.T) {
	t.Run("整体替换并保留游标", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(true, "cur-1", msgAt("room-1", 1), msgAt("room-1", 2)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")

		session.SetMessages([]*model.Message{msgAt("room-1", 5), msgAt("room-1", 4)})
		assert.Equal(t, []string{"room-1-msg-0004", "room-1-msg-0005"}, msgIDs(session.Messages()))

		// 游标未变，分页继续从旧边界出发
		session.LoadMoreMessages(context.Background())
		assert.Equal(t, "cur-1", fake.next(t).cursor)
	})

	t.Run("无缓存条目时为空操作", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)

		session.SetMessages([]*model.Message{msgAt("room-1", 1)})
		assert.Empty(t, session.Messages())
		fake.assertNoCall(t)
	})
}

func TestSession_Refresh(t *testing.T) {
	t.Run("刷新整体替换条目", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		ctx := context.Background()

		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		fake.next(t).respond(pageOf(true, "cur-old", msgAt("room-1", 1)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")

		require.NoError(t, session.Refresh(ctx))
		call := fake.next(t)
		assert.Equal(t, "initial", call.op)
		call.respond(pageOf(true, "cur-new", msgAt("room-1", 2), msgAt("room-1", 3)), nil)

		eventually(t, func() bool { return len(session.Messages()) == 2 }, "刷新结果应安装")
		assert.Equal(t, []string{"room-1-msg-0002", "room-1-msg-0003"}, msgIDs(session.Messages()))

		// 游标替换为刷新页的值
		session.LoadMoreMessages(ctx)
		assert.Equal(t, "cur-new", fake.next(t).cursor)
	})

	t.Run("刷新使在途的加载更早失效", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		ctx := context.Background()

		require.NoError(t, session.SwitchRoom(ctx, "room-1"))
		fake.next(t).respond(pageOf(true, "cur-6", msgAt("room-1", 5), msgAt("room-1", 6)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "初始拉取应完成")

		// 加载更早在途时发起刷新
		session.LoadMoreMessages(ctx)
		staleCall := fake.next(t)
		assert.Equal(t, "cur-6", staleCall.cursor)

		require.NoError(t, session.Refresh(ctx))
		refreshCall := fake.next(t)
		assert.Equal(t, "initial", refreshCall.op)
		refreshCall.respond(pageOf(true, "cur-new", msgAt("room-1", 7), msgAt("room-1", 8)), nil)
		eventually(t, func() bool { return !session.IsInitialLoading() }, "刷新应完成")
		assert.Equal(t, []string{"room-1-msg-0007", "room-1-msg-0008"}, msgIDs(session.Messages()))

		// 刷新前发起的页迟到：不能前插到刷新后的条目，也不能覆盖刷新页的游标
		staleCall.respond(pageOf(true, "cur-stale", msgAt("room-1", 1), msgAt("room-1", 2)), nil)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, []string{"room-1-msg-0007", "room-1-msg-0008"}, msgIDs(session.Messages()))
		assert.False(t, session.IsLoadingMore())

		session.LoadMoreMessages(ctx)
		assert.Equal(t, "cur-new", fake.next(t).cursor)
	})

	t.Run("没有活跃房间时报错", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		assert.Error(t, session.Refresh(context.Background()))
	})
}

func TestSession_HasMoreMessages(t *testing.T) {
	t.Run("未选择房间时为 false", func(t *testing.T) {
		fake := newFakeService()
		session := newTestSession(t, fake)
		assert.False(t, session.HasMoreMessages())

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(true, "cur-1", msgAt("room-1", 1)), nil)
		eventually(t, func() bool { return session.HasMoreMessages() }, "安装首页后应有更早历史")
	})
}

func TestSession_OnChangeNotification(t *testing.T) {
	t.Run("状态变更触发回调且可安全回读", func(t *testing.T) {
		fake := newFakeService()
		notified := make(chan int, 64)
		var session *Session
		session = newTestSession(t, fake, WithOnChange(func() {
			// 回调在锁外，允许重入读取
			notified <- len(session.Messages())
		}))

		require.NoError(t, session.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(false, "", msgAt("room-1", 1)), nil)

		eventually(t, func() bool { return len(session.Messages()) == 1 }, "初始页应安装")
		assert.NotEmpty(t, notified)
	})
}

func TestSession_SharedStore(t *testing.T) {
	t.Run("注入的缓存跨会话复用", func(t *testing.T) {
		store := history.NewStore()
		fake := newFakeService()
		first := newTestSession(t, fake, WithStore(store))

		require.NoError(t, first.SwitchRoom(context.Background(), "room-1"))
		fake.next(t).respond(pageOf(false, "", msgAt("room-1", 1)), nil)
		eventually(t, func() bool { return len(first.Messages()) == 1 }, "首页应安装")

		// 新会话带同一缓存：进房为缓存命中
		second := newTestSession(t, fake, WithStore(store))
		require.NoError(t, second.SwitchRoom(context.Background(), "room-1"))
		fake.assertNoCall(t)
		assert.Len(t, second.Messages(), 1)
	})
}
