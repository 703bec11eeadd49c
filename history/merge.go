package history

import (
	"sort"

	"github.com/joshyvodetaene/chatual-sub002/model"
)

// FromPage 用一次初始拉取的结果构造缓存条目。
// 页内消息约定为升序，但对乱序/重复投递做防御性整理。
func FromPage(page *model.Page) *Entry {
	return &Entry{
		Messages:   sortAndDedupe(cloneMessages(page.Messages)),
		NextCursor: page.NextCursor,
		PrevCursor: page.PrevCursor,
		HasMore:    page.HasMore,
	}
}

// PrependOlder 将一页更早的历史合并进已有条目（向后分页）。
// 页边界与已有消息重叠时按 ID 去重，合并后游标与 HasMore
// 整体替换为新页的值。
func PrependOlder(entry *Entry, page *model.Page) *Entry {
	seen := make(map[string]struct{}, len(entry.Messages))
	for _, msg := range entry.Messages {
		seen[msg.ID] = struct{}{}
	}

	older := make([]*model.Message, 0, len(page.Messages))
	for _, msg := range page.Messages {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		older = append(older, msg)
	}

	merged := make([]*model.Message, 0, len(older)+len(entry.Messages))
	merged = append(merged, older...)
	merged = append(merged, entry.Messages...)

	return &Entry{
		Messages:   sortAndDedupe(merged),
		NextCursor: page.NextCursor,
		PrevCursor: page.PrevCursor,
		HasMore:    page.HasMore,
	}
}

// InsertLive 将一条实时推送的消息并入条目。
// 已存在同 ID 消息时原样返回（幂等），否则插入到排序位置：
// 推送到达时间戳早于当前尾部也必须落到正确位置，而不是盲目追加。
// 游标与 HasMore 不受实时推送影响。
func InsertLive(entry *Entry, msg *model.Message) *Entry {
	for _, existing := range entry.Messages {
		if existing.ID == msg.ID {
			return entry
		}
	}

	msgs := entry.Messages
	pos := sort.Search(len(msgs), func(i int) bool {
		return msg.Before(msgs[i])
	})

	inserted := make([]*model.Message, 0, len(msgs)+1)
	inserted = append(inserted, msgs[:pos]...)
	inserted = append(inserted, msg)
	inserted = append(inserted, msgs[pos:]...)

	return &Entry{
		Messages:   inserted,
		NextCursor: entry.NextCursor,
		PrevCursor: entry.PrevCursor,
		HasMore:    entry.HasMore,
	}
}

// Replace 整体替换消息序列，保留条目原有的游标与 HasMore。
// 携带自身分页元信息的替换走 FromPage。
func Replace(entry *Entry, msgs []*model.Message) *Entry {
	return &Entry{
		Messages:   sortAndDedupe(cloneMessages(msgs)),
		NextCursor: entry.NextCursor,
		PrevCursor: entry.PrevCursor,
		HasMore:    entry.HasMore,
	}
}

// sortAndDedupe 原地排序并按 ID 去重，返回整理后的序列
func sortAndDedupe(msgs []*model.Message) []*model.Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})

	deduped := msgs[:0]
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		deduped = append(deduped, msg)
	}
	return deduped
}

func cloneMessages(msgs []*model.Message) []*model.Message {
	cloned := make([]*model.Message, len(msgs))
	copy(cloned, msgs)
	return cloned
}
