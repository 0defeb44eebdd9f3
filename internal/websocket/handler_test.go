package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

type recordingHandler struct {
	mu           sync.Mutex
	events       []types.Envelope
	disconnected []string
	reply        bool
}

func (h *recordingHandler) HandleEvent(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	h.mu.Lock()
	h.events = append(h.events, *env)
	h.mu.Unlock()
	if h.reply {
		_ = conn.WriteJSON(types.NewOutbound("ack", map[string]string{"event": env.Event}))
	}
}

func (h *recordingHandler) Disconnect(ctx context.Context, conn interfaces.Connection) {
	h.mu.Lock()
	h.disconnected = append(h.disconnected, conn.ID())
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() ([]types.Envelope, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Envelope(nil), h.events...), append([]string(nil), h.disconnected...)
}

func startHandler(t *testing.T, events EventHandler) (*Registry, string) {
	t.Helper()
	registry := NewRegistry()
	h := NewHandler(registry, events, Options{PingInterval: 50 * time.Millisecond, ReadTimeout: time.Second}, zaptest.NewLogger(t), nil)
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return registry, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandler_DispatchesEventsInOrder(t *testing.T) {
	events := &recordingHandler{reply: true}
	registry, url := startHandler(t, events)
	client := dial(t, url)

	require.NoError(t, client.WriteJSON(map[string]interface{}{"event": "register", "data": map[string]string{"user_id": "u1"}}))
	require.NoError(t, client.WriteJSON(map[string]interface{}{"event": "find-tutors", "data": map[string]string{"subject": "Math"}}))

	for _, want := range []string{"register", "find-tutors"} {
		var ack types.Outbound
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, client.ReadJSON(&ack))
		assert.Equal(t, "ack", ack.Event)
		assert.Equal(t, want, ack.Data.(map[string]interface{})["event"])
	}

	got, _ := events.snapshot()
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(got[0].Data))
	assert.Equal(t, 1, registry.Count())
}

func TestHandler_MalformedFrameGetsErrorEvent(t *testing.T) {
	events := &recordingHandler{}
	_, url := startHandler(t, events)
	client := dial(t, url)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not json")))

	var out types.Outbound
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, client.ReadJSON(&out))
	assert.Equal(t, types.EventError, out.Event)

	got, _ := events.snapshot()
	assert.Empty(t, got)
}

func TestHandler_DisconnectRunsOnce(t *testing.T) {
	events := &recordingHandler{}
	registry, url := startHandler(t, events)
	client := dial(t, url)

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)
	_ = client.Close()

	require.Eventually(t, func() bool {
		_, disc := events.snapshot()
		return len(disc) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, registry.Count())
}

func TestHandler_Heartbeat(t *testing.T) {
	events := &recordingHandler{}
	_, url := startHandler(t, events)
	client := dial(t, url)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return client.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
