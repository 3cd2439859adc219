package bridge_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/silentpen/internal/bridge"
	"github.com/TheMichaelB/silentpen/internal/config"
	"github.com/TheMichaelB/silentpen/test/testutil"
)

func testBridgeConfig() config.BridgeConfig {
	cfg := config.DefaultConfig().Bridge
	cfg.Addr = "127.0.0.1:0"
	cfg.ReadLimit = 64 * 1024
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg config.BridgeConfig) string {
	t.Helper()
	d, _ := newDispatcher(t)
	srv := bridge.NewServer(cfg, d, testutil.NewTestLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + cfg.Path
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req bridge.Request) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestServerCommands(t *testing.T) {
	url := startServer(t, testBridgeConfig())
	conn := dial(t, url, nil)

	resp := roundTrip(t, conn, bridge.Request{
		ID:   "1",
		Cmd:  bridge.CmdSaveDiary,
		Args: json.RawMessage(`{"content":"hello world","password":"pw1"}`),
	})
	assert.Equal(t, "1", resp["id"])
	assert.Equal(t, true, resp["ok"])

	resp = roundTrip(t, conn, bridge.Request{
		ID:   "2",
		Cmd:  bridge.CmdLoadDiary,
		Args: json.RawMessage(`{"password":"pw1"}`),
	})
	assert.Equal(t, true, resp["ok"])
	rows, ok := resp["result"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(11), rows[0].([]interface{})[2])

	resp = roundTrip(t, conn, bridge.Request{
		ID:   "3",
		Cmd:  bridge.CmdLoadDiary,
		Args: json.RawMessage(`{"password":"pw2"}`),
	})
	assert.Equal(t, false, resp["ok"])
	body := resp["error"].(map[string]interface{})
	assert.Equal(t, "WRONG_PASSWORD", body["code"])
	assert.Equal(t, "password error", body["message"])
}

func TestServerMalformedFrame(t *testing.T) {
	url := startServer(t, testBridgeConfig())
	conn := dial(t, url, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp bridge.Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)

	// The connection stays usable
	out := roundTrip(t, conn, bridge.Request{ID: "after", Cmd: bridge.CmdLoadDiary, Args: json.RawMessage(`{"password":"pw"}`)})
	assert.Equal(t, "after", out["id"])
	assert.Equal(t, true, out["ok"])
}

func TestServerConcurrentRequests(t *testing.T) {
	url := startServer(t, testBridgeConfig())
	conn := dial(t, url, nil)

	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, conn.WriteJSON(bridge.Request{
			ID:   string(rune('a' + i)),
			Cmd:  bridge.CmdSaveDiary,
			Args: json.RawMessage(`{"content":"entry","password":"pw"}`),
		}))
	}

	seen := make(map[string]bool)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for i := 0; i < n; i++ {
		var resp bridge.Response
		require.NoError(t, conn.ReadJSON(&resp))
		assert.True(t, resp.OK, "request %s failed: %+v", resp.ID, resp.Error)
		seen[resp.ID] = true
	}
	assert.Len(t, seen, n)

	out := roundTrip(t, conn, bridge.Request{ID: "list", Cmd: bridge.CmdLoadDiary, Args: json.RawMessage(`{"password":"pw"}`)})
	assert.Len(t, out["result"], n)
}

func TestServerOriginCheck(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.AllowedOrigins = []string{"tauri://localhost"}
	url := startServer(t, cfg)

	allowed := http.Header{"Origin": []string{"tauri://localhost"}}
	dial(t, url, allowed)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerShutdown(t *testing.T) {
	cfg := testBridgeConfig()
	d, _ := newDispatcher(t)
	srv := bridge.NewServer(cfg, d, testutil.NewTestLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn := dial(t, "ws://"+ln.Addr().String()+cfg.Path, nil)
	out := roundTrip(t, conn, bridge.Request{ID: "1", Cmd: bridge.CmdLoadDiary, Args: json.RawMessage(`{"password":"pw"}`)})
	assert.Equal(t, true, out["ok"])

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "connection must be closed on shutdown")
}
