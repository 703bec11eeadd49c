package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshyvodetaene/chatual-sub002/devserver/push"
	"github.com/joshyvodetaene/chatual-sub002/devserver/repo"
	"github.com/joshyvodetaene/chatual-sub002/devserver/token"
	"github.com/joshyvodetaene/chatual-sub002/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/idgen"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	router *gin.Engine
	tokens *token.Manager
	rooms  repo.RoomRepo
}

// setupEnv 搭建内存服务端：SQLite 临时库 + 完整路由
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "api_test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(repo.AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := clog.Discard()
	users, err := repo.NewUserRepo(db)
	require.NoError(t, err)
	rooms, err := repo.NewRoomRepo(db)
	require.NoError(t, err)
	messages, err := repo.NewMessageRepo(db)
	require.NoError(t, err)
	tokens, err := token.NewManager("test-secret", time.Hour)
	require.NoError(t, err)
	gen, err := idgen.NewGenerator(&idgen.GeneratorConfig{WorkerID: 1})
	require.NoError(t, err)
	hub := push.NewHub(logger)

	handler := NewHandler(users, rooms, messages, tokens, hub, gen, logger)
	ws := NewWebSocket(tokens, hub, logger)

	router := gin.New()
	handler.RegisterRoutes(router, ws)

	return &testEnv{router: router, tokens: tokens, rooms: rooms}
}

func (e *testEnv) do(t *testing.T, method, path, authToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// register 注册用户并返回其 token
func (e *testEnv) register(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestAuthEndpoints(t *testing.T) {
	env := setupEnv(t)

	t.Run("注册后可登录", func(t *testing.T) {
		env.register(t, "alice", "alice123")

		rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice",
			"password": "alice123",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("重复注册返回冲突", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"username": "alice",
			"password": "whatever",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("错误密码拒绝登录", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("未认证访问受保护接口", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/rooms", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestMessageEndpoints(t *testing.T) {
	env := setupEnv(t)
	ctx := t.Context()

	aliceToken := env.register(t, "alice", "alice123")
	bobToken := env.register(t, "bob", "bob123")

	require.NoError(t, env.rooms.EnsureRoom(ctx, &repo.Room{
		RoomID: "room-1", Type: repo.RoomTypeGroup, Name: "General",
	}))
	require.NoError(t, env.rooms.AddMember(ctx, &repo.RoomMember{RoomID: "room-1", Username: "alice"}))

	t.Run("发送消息并分页读回", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			rec := env.do(t, http.MethodPost, "/api/rooms/room-1/messages", aliceToken, map[string]string{
				"content": fmt.Sprintf("message %d", i),
			})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}

		rec := env.do(t, http.MethodGet, "/api/rooms/room-1/messages?limit=3", aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page model.Page
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Messages, 3)
		assert.True(t, page.HasMore)
		assert.Equal(t, "message 3", page.Messages[0].Content)
		assert.Equal(t, "message 5", page.Messages[2].Content)

		// 用游标取更早的一页
		rec = env.do(t, http.MethodGet,
			"/api/rooms/room-1/messages?limit=3&cursor="+page.NextCursor, aliceToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var older model.Page
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &older))
		require.Len(t, older.Messages, 2)
		assert.False(t, older.HasMore)
		assert.Equal(t, "message 1", older.Messages[0].Content)
	})

	t.Run("非成员被拒绝", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/rooms/room-1/messages", bobToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/rooms/room-1/messages", bobToken, map[string]string{
			"content": "intrusion",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("空消息体被拒绝", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/rooms/room-1/messages", aliceToken, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRoomListEndpoint(t *testing.T) {
	env := setupEnv(t)
	ctx := t.Context()

	aliceToken := env.register(t, "alice", "alice123")
	require.NoError(t, env.rooms.EnsureRoom(ctx, &repo.Room{RoomID: "room-1", Type: repo.RoomTypeGroup, Name: "General"}))
	require.NoError(t, env.rooms.AddMember(ctx, &repo.RoomMember{RoomID: "room-1", Username: "alice"}))

	rec := env.do(t, http.MethodGet, "/api/rooms", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rooms []struct {
			RoomID string `json:"room_id"`
			Name   string `json:"name"`
		} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "room-1", resp.Rooms[0].RoomID)
	assert.Equal(t, "General", resp.Rooms[0].Name)
}
