// Package model 定义客户端与服务端之间的数据契约：
// 消息、分页结果与 WebSocket 事件载荷。
// 所有入站数据在边界处通过 Validate 做形状校验，
// 非法载荷在进入缓存引擎之前即被拒绝。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message 一条聊天消息，创建后不可变。
// 排序键为 (CreatedAt, ID)，ID 作为平局裁决保证严格全序。
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	MsgType   string    `json:"msg_type,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate 校验消息的必备字段
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if m.ID == "" {
		return fmt.Errorf("message id cannot be empty")
	}
	if m.RoomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("created_at cannot be zero")
	}
	return nil
}

// Before 按 (CreatedAt, ID) 比较两条消息的先后
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Page 一次拉取的结果：页内消息按排序键升序（旧在前），
// HasMore 表示该页之前是否还有更旧的历史，
// 游标为服务端下发的不透明令牌。
type Page struct {
	Messages   []*Message `json:"messages"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor,omitempty"`
	PrevCursor string     `json:"prev_cursor,omitempty"`
}

// Validate 校验页内每条消息的形状
func (p *Page) Validate() error {
	if p == nil {
		return fmt.Errorf("page cannot be nil")
	}
	for i, msg := range p.Messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("page message %d: %w", i, err)
		}
	}
	return nil
}

// WebSocket 包类型
const (
	PacketTypePulse          = "pulse"
	PacketTypeAck            = "ack"
	PacketTypeMessageCreated = "message_created"
)

// WsPacket WebSocket 消息封包（JSON 信封 + 类型标签）
type WsPacket struct {
	Type string          `json:"type"`
	Seq  string          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageCreated 新消息推送事件
type MessageCreated struct {
	RoomID  string   `json:"room_id"`
	Message *Message `json:"message"`
}

// Validate 校验事件载荷，房间标识必须与消息一致
func (e *MessageCreated) Validate() error {
	if e == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if e.RoomID == "" {
		return fmt.Errorf("event room_id cannot be empty")
	}
	if err := e.Message.Validate(); err != nil {
		return fmt.Errorf("event message: %w", err)
	}
	if e.Message.RoomID != e.RoomID {
		return fmt.Errorf("event room_id mismatch: %s vs %s", e.RoomID, e.Message.RoomID)
	}
	return nil
}

// EncodePacket 将封包编码为字节流
func EncodePacket(packet *WsPacket) ([]byte, error) {
	if packet == nil {
		return nil, fmt.Errorf("packet cannot be nil")
	}
	return json.Marshal(packet)
}

// DecodePacket 将字节流解码为封包
func DecodePacket(data []byte) (*WsPacket, error) {
	packet := &WsPacket{}
	if err := json.Unmarshal(data, packet); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	if packet.Type == "" {
		return nil, fmt.Errorf("decode packet: missing type")
	}
	return packet, nil
}

// NewMessageCreatedPacket 构造新消息推送封包
func NewMessageCreatedPacket(event *MessageCreated) (*WsPacket, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode message_created: %w", err)
	}
	return &WsPacket{Type: PacketTypeMessageCreated, Data: data}, nil
}

// NewPulsePacket 构造心跳封包
func NewPulsePacket(seq string) *WsPacket {
	return &WsPacket{Type: PacketTypePulse, Seq: seq}
}
