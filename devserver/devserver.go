// Package devserver 是自包含的本地聊天后端：
// SQLite 持久化、HTTP/JSON 历史分页接口与 WebSocket 实时推送，
// 供客户端引擎在没有线上后端时联调使用。
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"github.com/gin-gonic/gin"
	"github.com/joshyvodetaene/chatual-sub002/devserver/api"
	"github.com/joshyvodetaene/chatual-sub002/devserver/config"
	"github.com/joshyvodetaene/chatual-sub002/devserver/middleware"
	"github.com/joshyvodetaene/chatual-sub002/devserver/observability"
	"github.com/joshyvodetaene/chatual-sub002/devserver/push"
	"github.com/joshyvodetaene/chatual-sub002/devserver/repo"
	"github.com/joshyvodetaene/chatual-sub002/devserver/token"
	"github.com/joshyvodetaene/chatual-sub002/pkg/health"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Devserver 开发服务端生命周期管理器
type Devserver struct {
	config      *config.Config
	logger      clog.Logger
	db          *gorm.DB
	hub         *push.Hub
	httpServer  *http.Server
	healthProbe *health.Probe

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建 Devserver 实例
func New() (*Devserver, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Devserver{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := s.initComponents(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// initComponents 初始化所有组件
func (s *Devserver) initComponents() error {
	// 1. 初始化可观测性（Trace + Metrics）
	if err := observability.Init(&s.config.Observability); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	// 2. 初始化 Logger（带 Trace Context 支持）
	logger, err := observability.NewLogger(&s.config.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	s.logger = logger.WithNamespace("devserver")

	// 3. 打开 SQLite 数据库
	db, err := OpenDB(s.config.DB.GetPath())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	s.db = db

	// 4. 存储层
	users, err := repo.NewUserRepo(db, repo.WithUserRepoLogger(s.logger))
	if err != nil {
		return fmt.Errorf("user repo init: %w", err)
	}
	rooms, err := repo.NewRoomRepo(db, repo.WithRoomRepoLogger(s.logger))
	if err != nil {
		return fmt.Errorf("room repo init: %w", err)
	}
	messages, err := repo.NewMessageRepo(db, repo.WithMessageRepoLogger(s.logger))
	if err != nil {
		return fmt.Errorf("message repo init: %w", err)
	}

	// 5. 认证与 ID 生成
	tokens, err := token.NewManager(s.config.Auth.GetSecret(), s.config.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token manager init: %w", err)
	}
	idGen, err := idgen.NewGenerator(&idgen.GeneratorConfig{WorkerID: int64(s.config.GetWorkerID())})
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	// 6. 推送与 HTTP 接口
	s.hub = push.NewHub(s.logger)
	s.healthProbe = health.NewProbe()

	handler := api.NewHandler(users, rooms, messages, tokens, s.hub, idGen, s.logger)
	wsHandler := api.NewWebSocket(tokens, s.hub, s.logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	handler.RegisterRoutes(router, wsHandler,
		api.WithRecovery(middleware.Recovery(s.logger)),
		api.WithLogger(middleware.SkipLogger(s.logger, idGen, map[string]struct{}{
			"/healthz": {},
			"/readyz":  {},
		})),
		api.WithProbe(s.healthProbe),
	)

	s.httpServer = &http.Server{
		Addr:    s.config.GetHTTPAddr(),
		Handler: router,
	}

	return nil
}

// OpenDB 打开（必要时创建）SQLite 数据库
func OpenDB(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Run 启动 HTTP 服务
func (s *Devserver) Run() error {
	s.logger.Info("starting devserver...",
		clog.String("addr", s.config.GetHTTPAddr()),
		clog.String("db", s.config.DB.GetPath()))
	s.healthProbe.SetReady(false)
	s.healthProbe.SetShutdown(false)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", clog.Error(err))
			s.cancel()
		}
	}()

	s.healthProbe.SetReady(true)
	return nil
}

// Close 优雅关闭资源
func (s *Devserver) Close() error {
	if s.logger != nil {
		s.logger.Info("shutting down devserver...")
	}
	if s.healthProbe != nil {
		s.healthProbe.SetReady(false)
		s.healthProbe.SetShutdown(true)
	}
	s.cancel()

	// 1. 停止 HTTP 服务
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	// 2. 关闭所有 WebSocket 连接
	if s.hub != nil {
		_ = s.hub.Close()
	}

	// 3. 关闭数据库
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	// 4. 关闭可观测性组件
	obsCtx, obsCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer obsCancel()
	_ = observability.Shutdown(obsCtx)

	return nil
}
