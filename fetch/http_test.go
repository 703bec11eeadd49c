package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joshyvodetaene/chatual-sub002/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writePage(t *testing.T, w http.ResponseWriter, page *model.Page) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(page))
}

func TestHTTPService_FetchInitial(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("拉取最近一页", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/rooms/room-1/messages", r.URL.Path)
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			assert.Empty(t, r.URL.Query().Get("cursor"))

			writePage(t, w, &model.Page{
				Messages: []*model.Message{
					{ID: "m1", RoomID: "room-1", Sender: "alice", Content: "hi", CreatedAt: now},
				},
				HasMore:    true,
				NextCursor: "cur-1",
			})
		})

		svc, err := NewHTTPService(server.URL, WithPageSize(20))
		require.NoError(t, err)

		page, err := svc.FetchInitial(context.Background(), "room-1")
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "m1", page.Messages[0].ID)
		assert.True(t, page.HasMore)
		assert.Equal(t, "cur-1", page.NextCursor)
	})

	t.Run("携带Bearer令牌", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			writePage(t, w, &model.Page{})
		})

		svc, err := NewHTTPService(server.URL, WithTokenProvider(func() string { return "test-token" }))
		require.NoError(t, err)

		_, err = svc.FetchInitial(context.Background(), "room-1")
		require.NoError(t, err)
	})

	t.Run("空房间ID应失败", func(t *testing.T) {
		svc, err := NewHTTPService("http://localhost:1")
		require.NoError(t, err)

		_, err = svc.FetchInitial(context.Background(), "")
		assert.Error(t, err)
	})
}

func TestHTTPService_FetchOlder(t *testing.T) {
	t.Run("携带游标与页大小", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "cur-1", r.URL.Query().Get("cursor"))
			assert.Equal(t, "30", r.URL.Query().Get("limit"))
			writePage(t, w, &model.Page{HasMore: false})
		})

		svc, err := NewHTTPService(server.URL)
		require.NoError(t, err)

		page, err := svc.FetchOlder(context.Background(), "room-1", "cur-1", 30)
		require.NoError(t, err)
		assert.False(t, page.HasMore)
	})

	t.Run("空游标应失败", func(t *testing.T) {
		svc, err := NewHTTPService("http://localhost:1")
		require.NoError(t, err)

		_, err = svc.FetchOlder(context.Background(), "room-1", "", 10)
		assert.Error(t, err)
	})
}

func TestHTTPService_Errors(t *testing.T) {
	t.Run("非200状态码转换为拉取错误", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})

		svc, err := NewHTTPService(server.URL)
		require.NoError(t, err)

		_, err = svc.FetchInitial(context.Background(), "room-1")
		require.Error(t, err)

		fe, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, "fetch_initial", fe.Op)
		assert.Equal(t, "room-1", fe.RoomID)
		assert.Equal(t, http.StatusForbidden, fe.Status)
	})

	t.Run("非法JSON转换为拉取错误", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not-json"))
		})

		svc, err := NewHTTPService(server.URL)
		require.NoError(t, err)

		_, err = svc.FetchInitial(context.Background(), "room-1")
		require.Error(t, err)
		_, ok := AsError(err)
		assert.True(t, ok)
	})

	t.Run("页内非法消息在边界被拒绝", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			// 缺少 created_at
			w.Write([]byte(`{"messages":[{"id":"m1","room_id":"room-1"}]}`))
		})

		svc, err := NewHTTPService(server.URL)
		require.NoError(t, err)

		_, err = svc.FetchInitial(context.Background(), "room-1")
		require.Error(t, err)
	})

	t.Run("网络失败时Status为0", func(t *testing.T) {
		svc, err := NewHTTPService("http://127.0.0.1:1",
			WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
		require.NoError(t, err)

		_, err = svc.FetchInitial(context.Background(), "room-1")
		require.Error(t, err)

		fe, ok := AsError(err)
		require.True(t, ok)
		assert.Zero(t, fe.Status)
	})
}
