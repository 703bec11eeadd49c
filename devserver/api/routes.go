package api

import (
	"github.com/gin-gonic/gin"
	"github.com/joshyvodetaene/chatual-sub002/pkg/health"
)

// RouteConfig 路由配置
type RouteConfig struct {
	RecoveryMiddleware gin.HandlerFunc
	LoggerMiddleware   gin.HandlerFunc
	Probe              *health.Probe
}

// RouteOption 路由选项函数
type RouteOption func(*RouteConfig)

// WithRecovery 设置 Recovery 中间件
func WithRecovery(middleware gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) {
		cfg.RecoveryMiddleware = middleware
	}
}

// WithLogger 设置 Logger 中间件
func WithLogger(middleware gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) {
		cfg.LoggerMiddleware = middleware
	}
}

// WithProbe 设置健康检查探针
func WithProbe(probe *health.Probe) RouteOption {
	return func(cfg *RouteConfig) {
		cfg.Probe = probe
	}
}

// RegisterRoutes 注册路由到 Gin，使用路由分组和中间件
func (h *Handler) RegisterRoutes(router *gin.Engine, ws *WebSocket, opts ...RouteOption) {
	cfg := &RouteConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// 健康检查不走日志中间件
	if cfg.Probe != nil {
		router.GET("/healthz", gin.WrapF(cfg.Probe.LivenessHandler()))
		router.GET("/readyz", gin.WrapF(cfg.Probe.ReadinessHandler()))
	}

	// 创建公共路由组（不需要认证）
	publicGroup := router.Group("")
	if cfg.RecoveryMiddleware != nil {
		publicGroup.Use(cfg.RecoveryMiddleware)
	}
	if cfg.LoggerMiddleware != nil {
		publicGroup.Use(cfg.LoggerMiddleware)
	}

	publicGroup.POST("/api/auth/register", h.Register)
	publicGroup.POST("/api/auth/login", h.Login)

	// 创建认证路由组（需要认证）
	authGroup := router.Group("")
	if cfg.RecoveryMiddleware != nil {
		authGroup.Use(cfg.RecoveryMiddleware)
	}
	if cfg.LoggerMiddleware != nil {
		authGroup.Use(cfg.LoggerMiddleware)
	}
	authGroup.Use(h.authConfig.RequireAuth())

	authGroup.GET("/api/rooms", h.ListRooms)
	authGroup.GET("/api/rooms/:id/messages", h.GetMessages)
	authGroup.POST("/api/rooms/:id/messages", h.SendMessage)

	// WebSocket 握手在升级前自行校验 token（浏览器无法带自定义请求头）
	router.GET("/ws", func(c *gin.Context) {
		ws.HandleWebSocket(c.Writer, c.Request)
	})
}
