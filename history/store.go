// Package history 实现消息分页与房间缓存引擎的核心：
// 房间缓存（Store）、游标跟踪（Tracker）与合并逻辑（merge）。
// 缓存是会话内唯一的共享可变资源，所有写入都经由 Put/Mutate，
// 条目不变式：消息序列按 (CreatedAt, ID) 升序且无重复 ID。
package history

import (
	"container/list"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/joshyvodetaene/chatual-sub002/model"
)

// Entry 单个房间的缓存状态：已知消息序列 + 当前游标对 + HasMore
type Entry struct {
	Messages   []*model.Message
	NextCursor string
	PrevCursor string
	HasMore    bool
}

// EmptyEntry 未命中缓存时返回的哨兵条目：
// 无消息、无游标、HasMore 为 true（历史尚未探测）。
func EmptyEntry() *Entry {
	return &Entry{HasMore: true}
}

// 缓存容量默认值
const (
	DefaultMaxRooms           = 64
	DefaultMaxMessagesPerRoom = 2000
)

// StoreOption 配置 Store 的选项
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger      clog.Logger
	maxRooms    int
	maxMessages int
}

// WithStoreLogger 设置日志记录器
func WithStoreLogger(logger clog.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithMaxRooms 设置缓存房间数量上限（LRU 淘汰）
func WithMaxRooms(n int) StoreOption {
	return func(o *storeOptions) {
		o.maxRooms = n
	}
}

// WithMaxMessagesPerRoom 设置单房间消息数量上限
func WithMaxMessagesPerRoom(n int) StoreOption {
	return func(o *storeOptions) {
		o.maxMessages = n
	}
}

type roomEntry struct {
	roomID string
	entry  *Entry
}

// Store 房间缓存：roomID → Entry 的映射。
// 条目在首次成功拉取时惰性创建，超出 maxRooms 按最近使用淘汰。
// 引擎的完成回调串行进入，这里不做锁保护；并发安全由上层
// chat.Session 的互斥保证。
type Store struct {
	rooms       map[string]*list.Element // roomID -> element of *roomEntry
	lru         *list.List               // 头部为最近使用
	logger      clog.Logger
	maxRooms    int
	maxMessages int
}

// NewStore 创建房间缓存
func NewStore(opts ...StoreOption) *Store {
	options := &storeOptions{
		maxRooms:    DefaultMaxRooms,
		maxMessages: DefaultMaxMessagesPerRoom,
	}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &Store{
		rooms:       make(map[string]*list.Element),
		lru:         list.New(),
		logger:      logger.WithNamespace("room_cache"),
		maxRooms:    options.maxRooms,
		maxMessages: options.maxMessages,
	}
}

// Get 返回房间的缓存条目。未命中时返回哨兵空条目，ok 为 false。
// 返回的条目是快照，调用方的修改不会影响缓存。
func (s *Store) Get(roomID string) (*Entry, bool) {
	elem, ok := s.rooms[roomID]
	if !ok {
		return EmptyEntry(), false
	}
	s.lru.MoveToFront(elem)

	entry := elem.Value.(*roomEntry).entry
	return &Entry{
		Messages:   cloneMessages(entry.Messages),
		NextCursor: entry.NextCursor,
		PrevCursor: entry.PrevCursor,
		HasMore:    entry.HasMore,
	}, true
}

// Put 写入/覆盖房间条目，仅整体替换该房间的状态
func (s *Store) Put(roomID string, entry *Entry) error {
	if roomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	entry = s.capEntry(roomID, entry)

	if elem, ok := s.rooms[roomID]; ok {
		elem.Value.(*roomEntry).entry = entry
		s.lru.MoveToFront(elem)
		return nil
	}

	s.rooms[roomID] = s.lru.PushFront(&roomEntry{roomID: roomID, entry: entry})
	s.evictOverflow()
	return nil
}

// Mutate 对已有条目应用一次纯变换；条目不存在时不做任何事
// （初始条目必须先经由初始拉取路径 Put）。返回是否发生了变更。
func (s *Store) Mutate(roomID string, fn func(*Entry) *Entry) bool {
	elem, ok := s.rooms[roomID]
	if !ok {
		return false
	}

	re := elem.Value.(*roomEntry)
	re.entry = s.capEntry(roomID, fn(re.entry))
	s.lru.MoveToFront(elem)
	return true
}

// Len 当前缓存的房间数
func (s *Store) Len() int {
	return len(s.rooms)
}

// capEntry 执行单房间消息上限：超限时丢弃最旧的消息，
// 置 HasMore 并清空 NextCursor——继续用裁剪前的游标拉取
// 会在本地序列里造成空洞，更早的历史只能通过一次刷新重建。
func (s *Store) capEntry(roomID string, entry *Entry) *Entry {
	if s.maxMessages <= 0 || len(entry.Messages) <= s.maxMessages {
		return entry
	}

	overflow := len(entry.Messages) - s.maxMessages
	s.logger.Debug("room history trimmed",
		clog.String("room_id", roomID),
		clog.Int("dropped", overflow))

	return &Entry{
		Messages:   cloneMessages(entry.Messages[overflow:]),
		PrevCursor: entry.PrevCursor,
		HasMore:    true,
	}
}

// evictOverflow 超出 maxRooms 时淘汰最久未使用的房间
func (s *Store) evictOverflow() {
	if s.maxRooms <= 0 {
		return
	}
	for len(s.rooms) > s.maxRooms {
		oldest := s.lru.Back()
		if oldest == nil {
			return
		}
		re := oldest.Value.(*roomEntry)
		s.lru.Remove(oldest)
		delete(s.rooms, re.roomID)
		s.logger.Debug("room entry evicted",
			clog.String("room_id", re.roomID),
			clog.Int("messages", len(re.entry.Messages)))
	}
}
