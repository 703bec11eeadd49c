// Package repo 实现开发服务端的存储层：用户、房间与消息历史。
// 消息历史查询产出客户端契约里的 Page（含不透明游标），
// 与线上后端的分页语义保持一致。
package repo

import (
	"context"

	"github.com/joshyvodetaene/chatual-sub002/model"
)

// UserRepo 用户数据访问接口
type UserRepo interface {
	// CreateUser 创建新用户（密码已哈希）
	CreateUser(ctx context.Context, user *User) error
	// GetUserByUsername 根据用户名获取用户
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomRepo 房间数据访问接口
type RoomRepo interface {
	// EnsureRoom 幂等创建房间
	EnsureRoom(ctx context.Context, room *Room) error
	// GetRoom 获取房间详情
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// ListRoomsForUser 列出用户加入的所有房间
	ListRoomsForUser(ctx context.Context, username string) ([]*Room, error)
	// AddMember 幂等添加房间成员
	AddMember(ctx context.Context, member *RoomMember) error
	// GetMemberUsernames 获取房间成员用户名列表
	GetMemberUsernames(ctx context.Context, roomID string) ([]string, error)
	// IsMember 判断用户是否是房间成员
	IsMember(ctx context.Context, roomID, username string) (bool, error)
}

// MessageRepo 消息数据访问接口
type MessageRepo interface {
	// SaveMessage 保存消息
	SaveMessage(ctx context.Context, msg *Message) error
	// GetRecentPage 拉取房间最新的一页消息
	GetRecentPage(ctx context.Context, roomID string, limit int) (*model.Page, error)
	// GetOlderPage 拉取 cursor 之前更早的一页消息
	GetOlderPage(ctx context.Context, roomID, cursor string, limit int) (*model.Page, error)
}
