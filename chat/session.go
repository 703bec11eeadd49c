// Package chat 实现面向消息列表视图的会话引擎：
// 房间切换、初始拉取、向后分页与实时推送合并的统一入口。
//
// 拉取在后台 goroutine 中执行，完成结果携带发起时的
// (epoch, roomID)，应用前重新校验"结果是否仍然相关"——
// 房间已切换的过期完成被静默丢弃，绝不写入错误的缓存条目。
package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceyewan/genesis/clog"
	"github.com/joshyvodetaene/chatual-sub002/fetch"
	"github.com/joshyvodetaene/chatual-sub002/history"
	"github.com/joshyvodetaene/chatual-sub002/model"
)

// SessionOption 配置 Session 的选项
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	logger   clog.Logger
	store    *history.Store
	pageSize int
	onChange func()
}

// WithSessionLogger 设置日志记录器
func WithSessionLogger(logger clog.Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithStore 注入外部构造的房间缓存（默认自建）
func WithStore(store *history.Store) SessionOption {
	return func(o *sessionOptions) {
		o.store = store
	}
}

// WithPageSize 设置"加载更早"的页大小
func WithPageSize(n int) SessionOption {
	return func(o *sessionOptions) {
		o.pageSize = n
	}
}

// WithOnChange 设置状态变更通知回调（视图据此重新渲染）。
// 回调在锁外调用，可安全回读 Session。
func WithOnChange(fn func()) SessionOption {
	return func(o *sessionOptions) {
		o.onChange = fn
	}
}

// Session 会话引擎。房间缓存由 Session 独占持有并通过互斥保护：
// 视图读取与拉取完成回调串行化，合并过程中不存在部分更新可见。
type Session struct {
	mu       sync.Mutex
	store    *history.Store
	fetcher  fetch.Service
	logger   clog.Logger
	pageSize int
	onChange func()

	activeRoom string
	epoch      uint64 // 每次房间切换递增，过期完成据此识别
	tracker    *history.Tracker

	initialLoading bool
	loadingMore    bool
	initialErr     error
	loadMoreErr    error
}

// NewSession 创建会话引擎
func NewSession(fetcher fetch.Service, opts ...SessionOption) (*Session, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}

	options := &sessionOptions{
		pageSize: fetch.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.WithNamespace("session")

	store := options.store
	if store == nil {
		store = history.NewStore(history.WithStoreLogger(logger))
	}

	return &Session{
		store:    store,
		fetcher:  fetcher,
		logger:   logger,
		pageSize: options.pageSize,
		onChange: options.onChange,
		tracker:  history.NewTracker(),
	}, nil
}

// fetchResult 一次拉取的完成结果，携带发起时的上下文标识
type fetchResult struct {
	epoch  uint64
	roomID string
	page   *model.Page
	err    error
}

// SwitchRoom 切换活跃房间。缓存命中时直接恢复消息序列、
// 游标与 HasMore，不发起任何网络请求；未命中时启动初始拉取。
func (s *Session) SwitchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}

	s.mu.Lock()
	if roomID == s.activeRoom {
		s.mu.Unlock()
		return nil
	}

	s.epoch++
	s.activeRoom = roomID
	s.tracker = history.NewTracker()
	s.initialLoading = false
	s.loadingMore = false
	s.initialErr = nil
	s.loadMoreErr = nil

	entry, cached := s.store.Get(roomID)
	if cached {
		s.tracker.RestoreFrom(entry)
		s.logger.Debug("room restored from cache",
			clog.String("room_id", roomID),
			clog.Int("messages", len(entry.Messages)))
		s.mu.Unlock()
		s.notify()
		return nil
	}

	s.initialLoading = true
	epoch := s.epoch
	s.mu.Unlock()
	s.notify()

	go s.runInitialFetch(ctx, epoch, roomID)
	return nil
}

// Refresh 对当前活跃房间强制执行一次初始拉取，
// 成功后整体替换该房间的条目（含分页元信息）。
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	roomID := s.activeRoom
	if roomID == "" {
		s.mu.Unlock()
		return fmt.Errorf("no active room")
	}
	if s.initialLoading {
		s.mu.Unlock()
		return nil
	}

	// 递增 epoch 使在途的"加载更早"完成失效：
	// 刷新后的条目不允许被刷新前的页前插或覆盖游标。
	s.epoch++
	s.tracker = history.NewTracker()
	s.loadingMore = false
	s.loadMoreErr = nil
	s.initialLoading = true
	epoch := s.epoch
	s.mu.Unlock()
	s.notify()

	go s.runInitialFetch(ctx, epoch, roomID)
	return nil
}

func (s *Session) runInitialFetch(ctx context.Context, epoch uint64, roomID string) {
	page, err := s.fetcher.FetchInitial(ctx, roomID)
	s.applyInitial(&fetchResult{epoch: epoch, roomID: roomID, page: page, err: err})
}

// applyInitial 初始拉取完成：先校验结果仍然相关，再安装条目
func (s *Session) applyInitial(res *fetchResult) {
	s.mu.Lock()

	if res.epoch != s.epoch || res.roomID != s.activeRoom {
		s.mu.Unlock()
		s.logger.Debug("stale initial fetch discarded",
			clog.String("room_id", res.roomID))
		return
	}

	if res.err != nil {
		s.initialLoading = false
		s.initialErr = res.err
		s.mu.Unlock()
		s.logger.Warn("initial fetch failed",
			clog.String("room_id", res.roomID),
			clog.Error(res.err))
		s.notify()
		return
	}

	entry := history.FromPage(res.page)
	s.store.Put(res.roomID, entry)
	s.tracker.RestoreFrom(entry)
	s.initialLoading = false
	s.initialErr = nil
	s.mu.Unlock()

	s.logger.Debug("initial page installed",
		clog.String("room_id", res.roomID),
		clog.Int("messages", len(entry.Messages)))
	s.notify()
}

// LoadMoreMessages 触发向后分页。没有更早的页、缺少游标或
// 已有同房间请求在途时为空操作——重复调用与单次调用产生
// 相同的终态。
func (s *Session) LoadMoreMessages(ctx context.Context) {
	s.mu.Lock()
	if s.activeRoom == "" || s.initialLoading || !s.tracker.CanLoadMore() {
		s.mu.Unlock()
		return
	}
	if !s.tracker.BeginLoad() {
		s.mu.Unlock()
		return
	}

	s.loadingMore = true
	epoch := s.epoch
	roomID := s.activeRoom
	cursor := s.tracker.NextCursor()
	limit := s.pageSize
	s.mu.Unlock()
	s.notify()

	go s.runLoadMore(ctx, epoch, roomID, cursor, limit)
}

func (s *Session) runLoadMore(ctx context.Context, epoch uint64, roomID, cursor string, limit int) {
	page, err := s.fetcher.FetchOlder(ctx, roomID, cursor, limit)
	s.applyLoadMore(&fetchResult{epoch: epoch, roomID: roomID, page: page, err: err})
}

// applyLoadMore "加载更早"完成：过期结果丢弃；失败保持
// 游标/HasMore/消息原样，可安全重试；成功则前插合并并推进游标。
func (s *Session) applyLoadMore(res *fetchResult) {
	s.mu.Lock()

	if res.epoch != s.epoch || res.roomID != s.activeRoom {
		s.mu.Unlock()
		s.logger.Debug("stale load-more result discarded",
			clog.String("room_id", res.roomID))
		return
	}

	s.tracker.EndLoad()
	s.loadingMore = false

	if res.err != nil {
		s.loadMoreErr = res.err
		s.mu.Unlock()
		s.logger.Warn("load more failed",
			clog.String("room_id", res.roomID),
			clog.Error(res.err))
		s.notify()
		return
	}

	s.store.Mutate(res.roomID, func(entry *history.Entry) *history.Entry {
		return history.PrependOlder(entry, res.page)
	})
	s.tracker.Set(res.page.NextCursor, res.page.PrevCursor, res.page.HasMore)
	s.loadMoreErr = nil
	s.mu.Unlock()

	s.logger.Debug("older page merged",
		clog.String("room_id", res.roomID),
		clog.Int("count", len(res.page.Messages)))
	s.notify()
}

// AddMessage 实时推送入口。非法载荷丢弃；目标房间已有缓存时
// 按排序位置插入（重复 ID 幂等忽略），未缓存的房间不做任何事。
// 游标与 HasMore 不受影响，因此可与在途的"加载更早"安全交错。
func (s *Session) AddMessage(msg *model.Message) {
	if err := msg.Validate(); err != nil {
		s.logger.Warn("dropping invalid live message", clog.Error(err))
		return
	}

	s.mu.Lock()
	changed := s.store.Mutate(msg.RoomID, func(entry *history.Entry) *history.Entry {
		return history.InsertLive(entry, msg)
	})
	active := msg.RoomID == s.activeRoom
	s.mu.Unlock()

	if changed && active {
		s.notify()
	}
}

// SetMessages 整体替换活跃房间的消息序列，保留已有的游标与
// HasMore；房间尚无缓存条目时不做任何事（初始条目必须经由
// 初始拉取路径建立）。
func (s *Session) SetMessages(msgs []*model.Message) {
	s.mu.Lock()
	roomID := s.activeRoom
	if roomID == "" {
		s.mu.Unlock()
		return
	}
	changed := s.store.Mutate(roomID, func(entry *history.Entry) *history.Entry {
		return history.Replace(entry, msgs)
	})
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Messages 当前活跃房间的有序消息序列（快照）
func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRoom == "" {
		return nil
	}
	entry, _ := s.store.Get(s.activeRoom)
	return entry.Messages
}

// ActiveRoom 当前活跃房间标识
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// IsInitialLoading 初始拉取是否进行中
func (s *Session) IsInitialLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialLoading
}

// IsLoadingMore 向后分页是否进行中
func (s *Session) IsLoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore
}

// HasMoreMessages 活跃房间是否还有更早的历史；尚未选择房间时为 false
func (s *Session) HasMoreMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRoom == "" {
		return false
	}
	return s.tracker.HasMore()
}

// InitialError 最近一次初始拉取的失败（成功后清空）
func (s *Session) InitialError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialErr
}

// LoadMoreError 最近一次"加载更早"的失败（成功后清空）
func (s *Session) LoadMoreError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMoreErr
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
