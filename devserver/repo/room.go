package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRoomNotFound 房间不存在
var ErrRoomNotFound = errors.New("room not found")

// RoomRepoOption 配置 RoomRepo 的选项
type RoomRepoOption func(*roomRepoOptions)

type roomRepoOptions struct {
	logger clog.Logger
}

// WithRoomRepoLogger 设置日志记录器
func WithRoomRepoLogger(logger clog.Logger) RoomRepoOption {
	return func(o *roomRepoOptions) {
		o.logger = logger
	}
}

type roomRepo struct {
	db     *gorm.DB
	logger clog.Logger
}

// NewRoomRepo 创建 RoomRepo 实例
func NewRoomRepo(db *gorm.DB, opts ...RoomRepoOption) (RoomRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}

	options := &roomRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &roomRepo{
		db:     db,
		logger: logger.WithNamespace("room_repo"),
	}, nil
}

// EnsureRoom 幂等创建房间，已存在则保持不变
func (r *roomRepo) EnsureRoom(ctx context.Context, room *Room) error {
	if room == nil {
		return fmt.Errorf("room cannot be nil")
	}
	if room.RoomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}
	if room.Name == "" {
		return fmt.Errorf("room name cannot be empty")
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoNothing: true,
		}).
		Create(room).Error
	if err != nil {
		r.logger.Error("创建房间失败",
			clog.String("room_id", room.RoomID),
			clog.Error(err))
		return fmt.Errorf("failed to ensure room: %w", err)
	}
	return nil
}

// GetRoom 获取房间详情，不存在返回 ErrRoomNotFound
func (r *roomRepo) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}

	var room Room
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		r.logger.Error("查询房间失败",
			clog.String("room_id", roomID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// ListRoomsForUser 列出用户加入的所有房间
func (r *roomRepo) ListRoomsForUser(ctx context.Context, username string) ([]*Room, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	var rooms []*Room
	err := r.db.WithContext(ctx).
		Joins("JOIN t_room_member ON t_room_member.room_id = t_room.room_id").
		Where("t_room_member.username = ?", username).
		Order("t_room.created_at ASC").
		Find(&rooms).Error
	if err != nil {
		r.logger.Error("查询用户房间列表失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// AddMember 幂等添加房间成员
func (r *roomRepo) AddMember(ctx context.Context, member *RoomMember) error {
	if member == nil {
		return fmt.Errorf("member cannot be nil")
	}
	if member.RoomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}
	if member.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "username"}},
			DoNothing: true,
		}).
		Create(member).Error
	if err != nil {
		r.logger.Error("添加房间成员失败",
			clog.String("room_id", member.RoomID),
			clog.String("username", member.Username),
			clog.Error(err))
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// GetMemberUsernames 获取房间成员用户名列表
func (r *roomRepo) GetMemberUsernames(ctx context.Context, roomID string) ([]string, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}

	var usernames []string
	err := r.db.WithContext(ctx).
		Model(&RoomMember{}).
		Where("room_id = ?", roomID).
		Pluck("username", &usernames).Error
	if err != nil {
		r.logger.Error("查询房间成员失败",
			clog.String("room_id", roomID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	return usernames, nil
}

// IsMember 判断用户是否是房间成员
func (r *roomRepo) IsMember(ctx context.Context, roomID, username string) (bool, error) {
	if roomID == "" {
		return false, fmt.Errorf("room_id cannot be empty")
	}
	if username == "" {
		return false, fmt.Errorf("username cannot be empty")
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&RoomMember{}).
		Where("room_id = ? AND username = ?", roomID, username).
		Count(&count).Error
	if err != nil {
		r.logger.Error("查询成员关系失败",
			clog.String("room_id", roomID),
			clog.String("username", username),
			clog.Error(err))
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}
