package history

// Tracker 持有当前活跃房间的分页状态：
// 不透明游标对、HasMore 标记，以及"加载更早一页"的在途防抖。
// 与 Store 一样由上层串行访问，自身不加锁。
type Tracker struct {
	nextCursor string
	prevCursor string
	hasMore    bool
	loading    bool
}

// NewTracker 创建游标跟踪器。初始 HasMore 为 true（历史未探测），
// 但缺少游标时 CanLoadMore 仍为 false。
func NewTracker() *Tracker {
	return &Tracker{hasMore: true}
}

// Set 在任意一次成功拉取后整体替换游标对与 HasMore
func (t *Tracker) Set(nextCursor, prevCursor string, hasMore bool) {
	t.nextCursor = nextCursor
	t.prevCursor = prevCursor
	t.hasMore = hasMore
}

// RestoreFrom 从缓存条目恢复游标状态（房间切换命中缓存时）
func (t *Tracker) RestoreFrom(entry *Entry) {
	t.Set(entry.NextCursor, entry.PrevCursor, entry.HasMore)
}

// NextCursor 当前指向更早历史的游标
func (t *Tracker) NextCursor() string {
	return t.nextCursor
}

// HasMore 是否还有更早的历史
func (t *Tracker) HasMore() bool {
	return t.hasMore
}

// CanLoadMore 当且仅当 HasMore 且存在 next 游标时为 true，
// 防止冗余拉取。缺少 next 游标即意味着没有更早的页。
func (t *Tracker) CanLoadMore() bool {
	return t.hasMore && t.nextCursor != ""
}

// BeginLoad 标记一次"加载更早"开始。已有同房间请求在途时返回 false，
// 第二次请求必须被抑制而不是排队，避免两次完成乱序应用过期游标。
func (t *Tracker) BeginLoad() bool {
	if t.loading {
		return false
	}
	t.loading = true
	return true
}

// EndLoad 标记在途请求结束（成功或失败）
func (t *Tracker) EndLoad() {
	t.loading = false
}

// Loading 是否有在途的"加载更早"请求
func (t *Tracker) Loading() bool {
	return t.loading
}
