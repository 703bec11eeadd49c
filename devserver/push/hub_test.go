package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
	"github.com/joshyvodetaene/chatual-sub002/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialTestConn 建立一对服务端/客户端 WebSocket 连接，
// 服务端侧包装为 push.Conn 并注册进 hub。
func dialTestConn(t *testing.T, hub *Hub, username string) *websocket.Conn {
	t.Helper()

	accepted := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(username, wsConn, clog.Discard())
		hub.Add(username, conn)
		conn.Run()
		accepted <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("等待服务端接受连接超时")
	}
	return client
}

func readPacket(t *testing.T, client *websocket.Conn) *model.WsPacket {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	packet, err := model.DecodePacket(data)
	require.NoError(t, err)
	return packet
}

func TestHub_SendToUsers(t *testing.T) {
	hub := NewHub(clog.Discard())
	defer hub.Close()

	alice := dialTestConn(t, hub, "alice")
	_ = dialTestConn(t, hub, "bob")

	event := &model.MessageCreated{
		RoomID: "room-1",
		Message: &model.Message{
			ID: "m1", RoomID: "room-1", Sender: "bob",
			Content: "hello", CreatedAt: time.Now().UTC(),
		},
	}
	packet, err := model.NewMessageCreatedPacket(event)
	require.NoError(t, err)

	// 目标含离线用户，在线的收到，离线的静默跳过
	hub.SendToUsers([]string{"alice", "offline-user"}, packet)

	got := readPacket(t, alice)
	assert.Equal(t, model.PacketTypeMessageCreated, got.Type)
	assert.Equal(t, 2, hub.OnlineCount())
}

func TestHub_DuplicateConnection(t *testing.T) {
	hub := NewHub(clog.Discard())
	defer hub.Close()

	first := dialTestConn(t, hub, "alice")
	_ = dialTestConn(t, hub, "alice")

	// 旧连接被服务端关闭
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 1, hub.OnlineCount())
}

func TestConn_PulseAck(t *testing.T) {
	hub := NewHub(clog.Discard())
	defer hub.Close()

	client := dialTestConn(t, hub, "alice")

	data, err := model.EncodePacket(model.NewPulsePacket("seq-1"))
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, data))

	got := readPacket(t, client)
	assert.Equal(t, model.PacketTypeAck, got.Type)
	assert.Equal(t, "seq-1", got.Seq)
}

func TestHub_ClientDisconnectRemovesConn(t *testing.T) {
	hub := NewHub(clog.Discard())
	defer hub.Close()

	client := dialTestConn(t, hub, "alice")
	_ = dialTestConn(t, hub, "bob")
	require.Equal(t, 2, hub.OnlineCount())

	// 客户端主动断开后，管理器不应继续持有死连接
	client.Close()
	require.Eventually(t, func() bool { return hub.OnlineCount() == 1 },
		2*time.Second, 10*time.Millisecond, "断开的连接应被摘除")

	// 已摘除的用户被视为离线，推送静默跳过
	hub.SendToUsers([]string{"alice"}, model.NewPulsePacket("seq-x"))
}

func TestHub_Remove(t *testing.T) {
	hub := NewHub(clog.Discard())
	defer hub.Close()

	_ = dialTestConn(t, hub, "alice")
	require.Equal(t, 1, hub.OnlineCount())

	hub.Remove("alice")
	assert.Equal(t, 0, hub.OnlineCount())
}
