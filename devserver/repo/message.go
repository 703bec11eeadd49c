package repo

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/joshyvodetaene/chatual-sub002/model"
	"gorm.io/gorm"
)

// 分页大小约束
const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// MessageRepoOption 配置 MessageRepo 的选项
type MessageRepoOption func(*messageRepoOptions)

type messageRepoOptions struct {
	logger clog.Logger
}

// WithMessageRepoLogger 设置日志记录器
func WithMessageRepoLogger(logger clog.Logger) MessageRepoOption {
	return func(o *messageRepoOptions) {
		o.logger = logger
	}
}

// messageRepo 实现 MessageRepo 接口
type messageRepo struct {
	db     *gorm.DB
	logger clog.Logger
}

// NewMessageRepo 创建 MessageRepo 实例
func NewMessageRepo(db *gorm.DB, opts ...MessageRepoOption) (MessageRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}

	options := &messageRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &messageRepo{
		db:     db,
		logger: logger.WithNamespace("message_repo"),
	}, nil
}

// SaveMessage 保存消息内容
func (r *messageRepo) SaveMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.MsgID == "" {
		return fmt.Errorf("msg_id cannot be empty")
	}
	if msg.RoomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}
	if msg.SenderUsername == "" {
		return fmt.Errorf("sender_username cannot be empty")
	}
	if msg.CreatedAtNano == 0 {
		msg.CreatedAtNano = time.Now().UnixNano()
		msg.CreatedAt = time.Unix(0, msg.CreatedAtNano)
	}

	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.logger.Error("保存消息失败",
			clog.String("room_id", msg.RoomID),
			clog.String("msg_id", msg.MsgID),
			clog.Error(err))
		return fmt.Errorf("failed to save message: %w", err)
	}

	r.logger.Debug("保存消息成功",
		clog.String("room_id", msg.RoomID),
		clog.String("msg_id", msg.MsgID))
	return nil
}

// GetRecentPage 拉取房间"最近"的一页消息。
// 为了高效拿最近 limit 条，先按 (created_at_nano, msg_id) 倒序取
// limit+1 条判断 HasMore，再反转为升序输出；NextCursor 指向
// 本页最旧一条的边界。
func (r *messageRepo) GetRecentPage(ctx context.Context, roomID string, limit int) (*model.Page, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}
	limit = clampLimit(limit)

	var rows []*Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at_nano DESC, msg_id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		r.logger.Error("拉取最近消息失败",
			clog.String("room_id", roomID),
			clog.Int("limit", limit),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}

	return buildPage(rows, limit), nil
}

// GetOlderPage 拉取 cursor 之前更早的一页消息
func (r *messageRepo) GetOlderPage(ctx context.Context, roomID, cursor string, limit int) (*model.Page, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}
	boundNano, boundID, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	var rows []*Message
	err = r.db.WithContext(ctx).
		Where("room_id = ? AND (created_at_nano < ? OR (created_at_nano = ? AND msg_id < ?))",
			roomID, boundNano, boundNano, boundID).
		Order("created_at_nano DESC, msg_id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		r.logger.Error("拉取历史消息失败",
			clog.String("room_id", roomID),
			clog.String("cursor", cursor),
			clog.Int("limit", limit),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get older messages: %w", err)
	}

	return buildPage(rows, limit), nil
}

// buildPage 将倒序查询结果组装为升序 Page。
// rows 比 limit 多取一条用于判断 HasMore，多出的一条丢弃。
func buildPage(rows []*Message, limit int) *model.Page {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	// 倒序 → 升序
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	page := &model.Page{
		Messages: make([]*model.Message, 0, len(rows)),
		HasMore:  hasMore,
	}
	for _, row := range rows {
		page.Messages = append(page.Messages, toWire(row))
	}
	if len(rows) > 0 {
		oldest := rows[0]
		newest := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(oldest.CreatedAtNano, oldest.MsgID)
		page.PrevCursor = EncodeCursor(newest.CreatedAtNano, newest.MsgID)
	}
	return page
}

// toWire 转换为客户端契约的消息
func toWire(row *Message) *model.Message {
	return &model.Message{
		ID:        row.MsgID,
		RoomID:    row.RoomID,
		Sender:    row.SenderUsername,
		Content:   row.Content,
		MsgType:   row.MsgType,
		MediaURL:  row.MediaURL,
		CreatedAt: time.Unix(0, row.CreatedAtNano).UTC(),
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// EncodeCursor 将 (created_at_nano, msg_id) 边界编码为不透明游标
func EncodeCursor(nano int64, msgID string) string {
	raw := fmt.Sprintf("%d:%s", nano, msgID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解码游标，非法游标返回错误
func DecodeCursor(cursor string) (int64, string, error) {
	if cursor == "" {
		return 0, "", fmt.Errorf("cursor cannot be empty")
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid cursor format")
	}
	nano, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return nano, parts[1], nil
}
