package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
	"github.com/joshyvodetaene/chatual-sub002/model"
)

// WSOption 配置 WSSource 的选项
type WSOption func(*wsOptions)

type wsOptions struct {
	logger        clog.Logger
	dialer        *websocket.Dialer
	token         func() string
	pingInterval  time.Duration
	reconnectWait time.Duration
	maxReconnect  time.Duration
	bufferSize    int
}

// WithWSLogger 设置日志记录器
func WithWSLogger(logger clog.Logger) WSOption {
	return func(o *wsOptions) {
		o.logger = logger
	}
}

// WithDialer 设置自定义 Dialer
func WithDialer(dialer *websocket.Dialer) WSOption {
	return func(o *wsOptions) {
		o.dialer = dialer
	}
}

// WithWSTokenProvider 设置访问令牌提供函数，附加为 token 查询参数
func WithWSTokenProvider(fn func() string) WSOption {
	return func(o *wsOptions) {
		o.token = fn
	}
}

// WithPingInterval 设置心跳间隔
func WithPingInterval(d time.Duration) WSOption {
	return func(o *wsOptions) {
		o.pingInterval = d
	}
}

// WithReconnectWait 设置重连初始等待（指数退避至上限）
func WithReconnectWait(initial, max time.Duration) WSOption {
	return func(o *wsOptions) {
		o.reconnectWait = initial
		o.maxReconnect = max
	}
}

// WSSource 基于 gorilla/websocket 的事件源实现
type WSSource struct {
	url    string
	logger clog.Logger
	dialer *websocket.Dialer
	token  func() string

	pingInterval  time.Duration
	reconnectWait time.Duration
	maxReconnect  time.Duration

	events    chan *model.MessageCreated
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSSource 创建 WebSocket 事件源
func NewWSSource(wsURL string, opts ...WSOption) (*WSSource, error) {
	if wsURL == "" {
		return nil, fmt.Errorf("ws url cannot be empty")
	}

	options := &wsOptions{
		dialer:        websocket.DefaultDialer,
		pingInterval:  30 * time.Second,
		reconnectWait: time.Second,
		maxReconnect:  30 * time.Second,
		bufferSize:    256,
	}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = clog.Discard()
	}

	return &WSSource{
		url:           wsURL,
		logger:        logger.WithNamespace("live"),
		dialer:        options.dialer,
		token:         options.token,
		pingInterval:  options.pingInterval,
		reconnectWait: options.reconnectWait,
		maxReconnect:  options.maxReconnect,
		events:        make(chan *model.MessageCreated, options.bufferSize),
		done:          make(chan struct{}),
	}, nil
}

// Events 实现 Source 接口
func (s *WSSource) Events() <-chan *model.MessageCreated {
	return s.events
}

// Run 实现 Source 接口：连接、读取、断线重连，直到 ctx 取消或 Close
func (s *WSSource) Run(ctx context.Context) error {
	defer close(s.events)

	wait := s.reconnectWait
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("websocket dial failed",
				clog.String("url", s.url),
				clog.Error(err))
		} else {
			wait = s.reconnectWait
			s.readLoop(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(wait):
		}

		wait *= 2
		if wait > s.maxReconnect {
			wait = s.maxReconnect
		}
	}
}

// Close 实现 Source 接口
func (s *WSSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *WSSource) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := s.url
	if s.token != nil {
		if token := s.token(); token != "" {
			sep := "?"
			if u, err := url.Parse(endpoint); err == nil && u.RawQuery != "" {
				sep = "&"
			}
			endpoint = endpoint + sep + "token=" + url.QueryEscape(token)
		}
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("websocket connected", clog.String("url", s.url))
	return conn, nil
}

// readLoop 读取并分发封包，连接出错或被关闭后返回
func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// 心跳协程：周期性发送 ping，连接退出时随 stop 结束
	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(conn, stop)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-stop:
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-s.done:
			default:
				s.logger.Warn("websocket read failed", clog.Error(err))
			}
			return
		}
		s.handleFrame(data)
	}
}

func (s *WSSource) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// handleFrame 解码一帧：非法或未知类型的载荷直接丢弃，
// 永远不向合并引擎转发未经校验的事件。
func (s *WSSource) handleFrame(data []byte) {
	packet, err := model.DecodePacket(data)
	if err != nil {
		s.logger.Warn("dropping malformed packet", clog.Error(err))
		return
	}

	switch packet.Type {
	case model.PacketTypeMessageCreated:
		event := &model.MessageCreated{}
		if err := json.Unmarshal(packet.Data, event); err != nil {
			s.logger.Warn("dropping malformed message_created event", clog.Error(err))
			return
		}
		if err := event.Validate(); err != nil {
			s.logger.Warn("dropping invalid message_created event", clog.Error(err))
			return
		}
		select {
		case s.events <- event:
		default:
			s.logger.Warn("event buffer full, dropping event",
				clog.String("room_id", event.RoomID),
				clog.String("msg_id", event.Message.ID))
		}

	case model.PacketTypePulse, model.PacketTypeAck:
		// 连接活跃信号，暂无特殊逻辑

	default:
		s.logger.Debug("ignoring unrecognized packet type",
			clog.String("type", packet.Type))
	}
}
