package api

import (
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
	"github.com/joshyvodetaene/chatual-sub002/devserver/observability"
	"github.com/joshyvodetaene/chatual-sub002/devserver/push"
	"github.com/joshyvodetaene/chatual-sub002/devserver/token"
)

// WebSocket 处理 WebSocket 连接的建立与注册
type WebSocket struct {
	tokens   *token.Manager
	hub      *push.Hub
	logger   clog.Logger
	upgrader *websocket.Upgrader
}

// NewWebSocket 创建 WebSocket 处理器
func NewWebSocket(tokens *token.Manager, hub *push.Hub, logger clog.Logger) *WebSocket {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 开发服务端，不校验 Origin
			return true
		},
	}

	return &WebSocket{
		tokens:   tokens,
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
// 从 URL 参数中获取 token 进行认证
func (ws *WebSocket) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		ws.logger.Warn("websocket connection rejected: missing token",
			clog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	username, err := ws.tokens.Parse(raw)
	if err != nil {
		ws.logger.Warn("websocket connection rejected: invalid token",
			clog.String("remote_addr", r.RemoteAddr),
			clog.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("failed to upgrade websocket",
			clog.String("username", username),
			clog.String("remote_addr", r.RemoteAddr),
			clog.Error(err))
		return
	}

	conn := push.NewConn(username, wsConn, ws.logger)
	ws.hub.Add(username, conn)
	conn.Run()

	observability.RecordWebSocketConnectionEstablished(r.Context())
	observability.SetWebSocketConnectionsActive(r.Context(), ws.hub.OnlineCount())

	ws.logger.Info("websocket connection established",
		clog.String("username", username),
		clog.String("remote_addr", r.RemoteAddr))
}
