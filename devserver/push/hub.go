// Package push 管理开发服务端的 WebSocket 连接并向客户端推送实时事件。
package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
	"github.com/joshyvodetaene/chatual-sub002/model"
)

// 连接默认参数
const (
	defaultMaxMessageSize = 64 * 1024
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 60 * time.Second
)

// Conn 表示一个 WebSocket 连接
type Conn struct {
	username   string
	conn       *websocket.Conn
	send       chan *model.WsPacket
	logger     clog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	onClose    func()
	remoteAddr string

	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
}

// NewConn 创建新的连接
func NewConn(username string, conn *websocket.Conn, logger clog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		username:       username,
		conn:           conn,
		send:           make(chan *model.WsPacket, 256),
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		remoteAddr:     conn.RemoteAddr().String(),
		maxMessageSize: defaultMaxMessageSize,
		pingInterval:   defaultPingInterval,
		pongTimeout:    defaultPongTimeout,
	}
}

// Username 返回连接所属用户名
func (c *Conn) Username() string {
	return c.username
}

// RemoteAddr 返回客户端地址
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Send 将数据包放入发送队列，队列满或连接关闭时返回错误
func (c *Conn) Send(packet *model.WsPacket) error {
	select {
	case c.send <- packet:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close 关闭连接，幂等
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// Run 启动连接的读写协程
func (c *Conn) Run() {
	go c.writePump()
	go c.readPump()
}

// readPump 从 WebSocket 读取消息。
// 开发服务端不处理上行业务消息，读协程只负责 pong 续期、
// 回应客户端的 pulse 心跳和感知断开。
func (c *Conn) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error",
					clog.String("username", c.username),
					clog.Error(err))
			}
			break
		}

		packet, err := model.DecodePacket(message)
		if err != nil {
			c.logger.Warn("failed to decode packet",
				clog.String("username", c.username),
				clog.Error(err))
			continue
		}

		if packet.Type == model.PacketTypePulse {
			_ = c.Send(&model.WsPacket{Type: model.PacketTypeAck, Seq: packet.Seq})
		}
	}
}

// writePump 向 WebSocket 写入消息
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case packet, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := model.EncodePacket(packet)
			if err != nil {
				c.logger.Error("failed to encode packet",
					clog.String("username", c.username),
					clog.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("failed to write message",
					clog.String("username", c.username),
					clog.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Hub 管理所有 WebSocket 连接
type Hub struct {
	connections sync.Map // username -> *Conn
	logger      clog.Logger
}

// NewHub 创建连接管理器
func NewHub(logger clog.Logger) *Hub {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Hub{
		logger: logger.WithNamespace("push"),
	}
}

// Add 添加连接，同一用户的旧连接会被关闭。
// 连接的读写协程退出后自动从管理器中摘除自身，
// 仅当映射中仍是同一个连接时才删除，不会误删该用户的新连接。
func (h *Hub) Add(username string, conn *Conn) {
	if oldConn, ok := h.connections.Load(username); ok {
		h.logger.Warn("user already connected, closing old connection",
			clog.String("username", username))
		oldConn.(*Conn).Close()
	}

	conn.onClose = func() {
		if h.connections.CompareAndDelete(username, conn) {
			h.logger.Info("user disconnected", clog.String("username", username))
		}
	}
	h.connections.Store(username, conn)
	h.logger.Info("user connected",
		clog.String("username", username),
		clog.String("remote_addr", conn.RemoteAddr()))
}

// Remove 移除并关闭连接
func (h *Hub) Remove(username string) {
	if conn, ok := h.connections.LoadAndDelete(username); ok {
		conn.(*Conn).Close()
		h.logger.Info("user disconnected", clog.String("username", username))
	}
}

// SendToUsers 向一组在线用户推送数据包，离线用户跳过
func (h *Hub) SendToUsers(usernames []string, packet *model.WsPacket) {
	for _, username := range usernames {
		conn, ok := h.connections.Load(username)
		if !ok {
			continue
		}
		if err := conn.(*Conn).Send(packet); err != nil {
			h.logger.Warn("failed to push to user",
				clog.String("username", username),
				clog.Error(err))
		}
	}
}

// OnlineCount 获取在线用户数
func (h *Hub) OnlineCount() int {
	count := 0
	h.connections.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

// Close 关闭所有连接
func (h *Hub) Close() error {
	h.connections.Range(func(key, value any) bool {
		value.(*Conn).Close()
		return true
	})
	return nil
}
