package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/logging"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/speak"
)

type staticSource struct{ snap speak.Snapshot }

func (s staticSource) Snapshot() speak.Snapshot { return s.snap }

type fakeLogs struct{ entries []logging.LogEntry }

func (f fakeLogs) GetHistory(limit int) []logging.LogEntry {
	if limit <= 0 || limit >= len(f.entries) {
		return f.entries
	}
	return f.entries[len(f.entries)-limit:]
}

func newTestServer(t *testing.T, b *bus.EventBus) (*Server, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New("test")
	src := staticSource{snap: speak.Snapshot{Session: 4, State: speak.StatePlaying, Mouth: 0.5, Label: "AA"}}
	logs := fakeLogs{entries: []logging.LogEntry{
		{Level: "info", Message: "one"},
		{Level: "warn", Message: "two"},
	}}
	s := New(Config{AllowedOrigins: []string{"http://viewer.example"}}, src, logs, b, m, zerolog.Nop())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv, m
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHealthAndSnapshot(t *testing.T) {
	_, srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var snap speak.Snapshot
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&snap))
	assert.Equal(t, uint64(4), snap.Session)
	assert.Equal(t, speak.StatePlaying, snap.State)
}

func TestLogs(t *testing.T) {
	_, srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/logs?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var entries []logging.LogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "two", entries[0].Message)

	bad, err := http.Get(srv.URL + "/logs?limit=abc")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	_, srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, srv, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/snapshot", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://viewer.example")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://viewer.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocket_Broadcast(t *testing.T) {
	s, srv, _ := newTestServer(t, nil)

	conn, _, err := dial(t, srv, "http://viewer.example")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Broadcast()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, "AA", msg.Snapshot.Label)
	assert.Equal(t, 0.5, msg.Snapshot.Mouth)

	conn.Close()
	require.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocket_BusEvents(t *testing.T) {
	b := bus.NewEventBus()
	s, srv, _ := newTestServer(t, b)

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.PublishSync(bus.Event{Type: bus.EventTypeSessionFailed, Data: map[string]any{"error": "boom"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, string(bus.EventTypeSessionFailed), msg.Event)
	assert.Equal(t, "boom", msg.Data["error"])
}

func TestWebsocket_RejectsForeignOrigin(t *testing.T) {
	_, srv, _ := newTestServer(t, nil)

	_, resp, err := dial(t, srv, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebsocket_KeepsListeningViewer(t *testing.T) {
	s := New(Config{PongWait: 300 * time.Millisecond}, staticSource{}, nil, nil, nil, zerolog.Nop())
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(time.Second)

	assert.Equal(t, 1, s.Clients())
	assert.GreaterOrEqual(t, pings.Load(), int32(2))
}

func TestWebsocket_DropsUnresponsiveViewer(t *testing.T) {
	s := New(Config{PongWait: 200 * time.Millisecond}, staticSource{}, nil, nil, nil, zerolog.Nop())
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	// Never reading means pings go unanswered.
	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 20*time.Millisecond)
}
