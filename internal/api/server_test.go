package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tutorlink/internal/metrics"
	"tutorlink/internal/rooms"
	"tutorlink/pkg/types"
)

type mockHub struct {
	rooms map[string]rooms.RoomStats
}

func (m *mockHub) Stats() map[string]interface{} {
	return map[string]interface{}{"running": true, "rooms": len(m.rooms)}
}

func (m *mockHub) Room(sessionID string) (rooms.RoomStats, bool) {
	r, ok := m.rooms[sessionID]
	return r, ok
}

type mockDB struct{ err error }

func (m mockDB) HealthCheck(context.Context) error { return m.err }

func newTestServer(t *testing.T, db HealthChecker, m *metrics.Metrics) *Server {
	hub := &mockHub{rooms: map[string]rooms.RoomStats{
		"req-1": {
			SessionID:     "req-1",
			Kind:          types.RoomTutoring,
			Members:       []rooms.Member{{ConnectionID: "c1", UserID: "learner"}, {ConnectionID: "c2", UserID: "tutor"}},
			DistinctUsers: 2,
			Billing:       true,
		},
	}}
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	return NewServer(hub, db, ws, m, zaptest.NewLogger(t))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_Health(t *testing.T) {
	w := get(t, newTestServer(t, mockDB{}, nil), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, true, resp.System["hub_running"])
}

func TestServer_HealthUnhealthyStore(t *testing.T) {
	w := get(t, newTestServer(t, mockDB{err: errors.New("locked")}, nil), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unreachable", resp.Database)
	assert.NotContains(t, w.Body.String(), "locked")
}

func TestServer_Room(t *testing.T) {
	s := newTestServer(t, mockDB{}, nil)

	w := get(t, s, "/api/rooms/req-1")
	require.Equal(t, http.StatusOK, w.Code)
	var room rooms.RoomStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&room))
	assert.Equal(t, 2, room.DistinctUsers)
	assert.True(t, room.Billing)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/rooms/req-2").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/rooms/bad%20id").Code)
}

func TestServer_StatsMetricsAndSocket(t *testing.T) {
	m := metrics.New()
	m.SetRooms(1)
	s := newTestServer(t, mockDB{}, m)

	w := get(t, s, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":true,"rooms":1}`, w.Body.String())

	w = get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tutorlink_rooms 1")

	assert.Equal(t, http.StatusTeapot, get(t, s, "/ws").Code)
	assert.NotEmpty(t, get(t, s, "/api/stats").Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MetricsDisabled(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(t, newTestServer(t, mockDB{}, nil), "/metrics").Code)
}
