package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/duplex-relay/internal/app"
	"github.com/dkeye/duplex-relay/internal/app/orch"
	"github.com/dkeye/duplex-relay/internal/config"
	"github.com/dkeye/duplex-relay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()

	roles := domain.Roles{A: "bernard", B: "liliann"}
	o := orch.New(app.NewRegistry(roles), orch.Options{
		ServerName:       "test relay",
		HeartbeatTimeout: 45 * time.Second,
	})
	cfg := &config.Config{
		Mode:       "release",
		Secret:     "0123456789abcdef0123456789abcdef",
		ReadLimit:  1 << 20,
		SendBuffer: 16,
		WriteWait:  time.Second,
		PongWait:   10 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.NotEmpty(t, resp.Header.Values("Set-Cookie"))
	return c
}

// readType reads until a message of the given type arrives.
func readType(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == typ {
			return m
		}
	}
}

func TestWebSocketIdentifyAndRelayAudio(t *testing.T) {
	srv, o := newTestServer(t)

	a := dial(t, srv)
	welcome := readType(t, a, "welcome")
	assert.Equal(t, "test relay", welcome["server"])
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("bernard")))
	confirmed := readType(t, a, "connection_confirmed")
	assert.Equal(t, "bernard", confirmed["client"])

	b := dial(t, srv)
	readType(t, b, "welcome")
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect","user":"liliann"}`)))
	readType(t, b, "connection_confirmed")

	status := readType(t, a, "user_status")
	for status["users"].(map[string]any)["liliann"] != "connected" {
		status = readType(t, a, "user_status")
	}

	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"audio_data","from":"bernard","to":"liliann","data":"AAECAw=="}`)))
	audio := readType(t, b, "audio_data")
	assert.Equal(t, "AAECAw==", audio["data"])
	assert.Equal(t, float64(44100), audio["sampleRate"])

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte("not a thing")))
	dbg := readType(t, b, "debug")
	assert.Equal(t, "not a thing", dbg["received"])

	assert.Equal(t, 2, o.Registry.Snapshot().Sessions)
}

func TestWebSocketTakeoverClosesOldConnection(t *testing.T) {
	srv, o := newTestServer(t)

	old := dial(t, srv)
	readType(t, old, "welcome")
	require.NoError(t, old.WriteMessage(websocket.TextMessage, []byte("liliann")))
	readType(t, old, "connection_confirmed")

	fresh := dial(t, srv)
	readType(t, fresh, "welcome")
	require.NoError(t, fresh.WriteMessage(websocket.TextMessage, []byte("liliann")))
	readType(t, fresh, "connection_confirmed")

	readType(t, old, "disconnected")
	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := old.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if assert.ErrorAs(t, err, &ce) {
			assert.Equal(t, 4000, ce.Code)
		}
		break
	}

	assert.Eventually(t, func() bool { return len(o.Live()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, o.Registry.Snapshot().Sessions)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := nethttp.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var body struct {
		Status   string `json:"status"`
		Registry struct {
			Users    map[string]string `json:"users"`
			Sessions int               `json:"sessions"`
		} `json:"registry"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"bernard": "disconnected", "liliann": "disconnected"}, body.Registry.Users)
	assert.Equal(t, 0, body.Registry.Sessions)
}
