package repo

import (
	"time"
)

// ============================================================================
// 持久化模型（SQLite）
// 以下结构体的 GORM tag 是开发库表结构的唯一真相来源，
// 通过 `go run main.go -module init` 调用 GORM AutoMigrate 建表。
//
// 索引总览：
//
//	表              索引名             列                          用途
//	─────────────── ────────────────── ─────────────────────────── ───────────────────────────
//	t_user          PK                 username                    按用户名精确查询
//	t_room          PK                 room_id                     按房间 ID 精确查询
//	t_room_member   PK                 (room_id, username)         查成员 / 判断成员资格
//	t_room_member   idx_member_user    username                    反查用户加入的所有房间
//	t_message       PK                 msg_id                      按消息 ID 精确查询
//	t_message       idx_room_created   (room_id, created_at_nano)  按房间游标分页拉取历史
//
// ============================================================================

// User 用户表
type User struct {
	Username  string `gorm:"primaryKey;column:username;type:varchar(64);not null"`
	Nickname  string `gorm:"column:nickname;type:varchar(64)"`
	Password  string `gorm:"column:password;type:varchar(128);not null"` // bcrypt hash
	Avatar    string `gorm:"column:avatar;type:varchar(255)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Room 房间表（单聊/群聊）
type Room struct {
	RoomID        string `gorm:"primaryKey;column:room_id;type:varchar(64);not null"`
	Type          int    `gorm:"column:type;type:smallint;not null"` // 1-单聊, 2-群聊
	Name          string `gorm:"column:name;type:varchar(128)"`
	OwnerUsername string `gorm:"column:owner_username;type:varchar(64)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RoomMember 房间成员表
type RoomMember struct {
	RoomID    string `gorm:"primaryKey;column:room_id;type:varchar(64);not null"`
	Username  string `gorm:"primaryKey;column:username;type:varchar(64);not null;index:idx_member_user"`
	Role      int    `gorm:"column:role;type:smallint;default:0"` // 0-成员, 1-管理员
	CreatedAt time.Time
}

// Message 消息表
// 排序与游标统一基于 (created_at_nano, msg_id)，
// 典型查询: WHERE room_id = ? AND (created_at_nano, msg_id) < (?, ?)
//
//	ORDER BY created_at_nano DESC, msg_id DESC LIMIT ?
type Message struct {
	MsgID          string `gorm:"primaryKey;column:msg_id;type:varchar(64);not null"`
	RoomID         string `gorm:"column:room_id;type:varchar(64);not null;index:idx_room_created,priority:1"`
	SenderUsername string `gorm:"column:sender_username;type:varchar(64);not null"`
	Content        string `gorm:"column:content;type:text"`
	MsgType        string `gorm:"column:msg_type;type:varchar(32)"`
	MediaURL       string `gorm:"column:media_url;type:varchar(255)"`
	CreatedAtNano  int64  `gorm:"column:created_at_nano;type:bigint;not null;index:idx_room_created,priority:2"`
	CreatedAt      time.Time
}

// ============================================================================
// 表名映射
// ============================================================================

func (User) TableName() string       { return "t_user" }
func (Room) TableName() string       { return "t_room" }
func (RoomMember) TableName() string { return "t_room_member" }
func (Message) TableName() string    { return "t_message" }

// 房间类型
const (
	RoomTypePrivate = 1
	RoomTypeGroup   = 2
)

// AllModels 返回所有需要 AutoMigrate 的模型列表
func AllModels() []any {
	return []any{
		&User{},
		&Room{},
		&RoomMember{},
		&Message{},
	}
}
