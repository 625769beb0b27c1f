package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var upgrader = websocket.Upgrader{}

func startEchoServer(t *testing.T, handle func(conn *websocket.Conn, data []byte)) (host string, port int, close func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			handle(conn, data)
		}
	}))

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return u.Hostname(), portNum, server.Close
}

func dialTestClient(t *testing.T, host string, port int) *Client {
	t.Helper()
	cfg := DefaultConfig(host, port)
	cfg.Secure = false
	cfg.ConnectionTimeout = 2 * time.Second
	c := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, c.Dial(context.Background()))
	return c
}

func TestClient_SendFrameRoundTrip(t *testing.T) {
	host, port, closeServer := startEchoServer(t, func(conn *websocket.Conn, data []byte) {
		var req request
		require.NoError(t, json.Unmarshal(data, &req))
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
		payload, _ := json.Marshal(resp)
		conn.WriteMessage(websocket.TextMessage, payload)
	})
	defer closeServer()

	c := dialTestClient(t, host, port)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := c.SendFrame(ctx, "Status.Get", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestClient_IDsAreMonotonicallyIncreasing(t *testing.T) {
	seen := make(chan int64, 3)
	host, port, closeServer := startEchoServer(t, func(conn *websocket.Conn, data []byte) {
		var req request
		require.NoError(t, json.Unmarshal(data, &req))
		seen <- req.ID
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
		payload, _ := json.Marshal(resp)
		conn.WriteMessage(websocket.TextMessage, payload)
	})
	defer closeServer()

	c := dialTestClient(t, host, port)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.SendFrame(ctx, "Status.Get", nil)
		require.NoError(t, err)
	}

	close(seen)
	var ids []int64
	for id := range seen {
		ids = append(ids, id)
	}
	require.Len(t, ids, 3)
	assert.True(t, ids[0] < ids[1] && ids[1] < ids[2])
}

func TestClient_FrameTimeoutDoesNotCloseSocket(t *testing.T) {
	host, port, closeServer := startEchoServer(t, func(conn *websocket.Conn, data []byte) {
		// never respond
	})
	defer closeServer()

	c := dialTestClient(t, host, port)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SendFrame(ctx, "Status.Get", nil)
	require.Error(t, err)
	cat, ok := extractCategory(err)
	require.True(t, ok)
	assert.Equal(t, "NETWORK_TIMEOUT", cat)

	// socket should still be usable for a subsequent call
	assert.False(t, c.closed.Load())
}

func TestClient_SocketCloseFailsOutstandingFutures(t *testing.T) {
	host, port, closeServer := startEchoServer(t, func(conn *websocket.Conn, data []byte) {
		conn.Close()
	})
	defer closeServer()

	c := dialTestClient(t, host, port)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.SendFrame(ctx, "Status.Get", nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "NETWORK_DROPPED") || strings.Contains(err.Error(), "closed"))
}

func TestClient_UnsolicitedFrameRouting(t *testing.T) {
	host, port, closeServer := startEchoServer(t, func(conn *websocket.Conn, data []byte) {
		push := map[string]interface{}{
			"method": "ChangeGroup.Poll",
			"params": map[string]interface{}{"Id": "g1"},
		}
		payload, _ := json.Marshal(push)
		conn.WriteMessage(websocket.TextMessage, payload)
	})
	defer closeServer()

	c := dialTestClient(t, host, port)
	defer c.Close()

	// Trigger the server to push by sending any frame.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go c.SendFrame(ctx, "noop", nil)

	select {
	case frame := <-c.Unsolicited:
		assert.Equal(t, "ChangeGroup.Poll", frame.Method)
	case <-time.After(time.Second):
		t.Fatal("expected unsolicited frame")
	}
}

func extractCategory(err error) (string, bool) {
	msg := err.Error()
	for _, cat := range []string{"NETWORK_TIMEOUT", "NETWORK_DROPPED", "QSYS_CONNECTION_FAILED"} {
		if strings.Contains(msg, cat) {
			return cat, true
		}
	}
	return "", false
}
