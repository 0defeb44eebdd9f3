package websocket

import (
	"sync"
	"testing"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}

	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, 0, 0)
	defer conn.Close()

	if err := r.Add(conn); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
	if got, ok := r.Get(conn.ID()); !ok || got != conn {
		t.Error("Get should return the added connection")
	}

	r.Remove(conn)
	r.Remove(conn)
	r.Remove(nil)
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	var conns []*Connection
	for i := 0; i < 3; i++ {
		wsConn, _ := createTestWebSocketConnection(t)
		c := NewConnection(wsConn, 0, 0)
		conns = append(conns, c)
		_ = r.Add(c)
	}

	r.CloseAll()
	for _, c := range conns {
		select {
		case <-c.Done():
		default:
			t.Errorf("connection %s not closed", c.ID())
		}
	}
}

func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	r := NewRegistry()
	wsConn, _ := createTestWebSocketConnection(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewConnection(wsConn, 1, 0)
			_ = r.Add(c)
			_ = r.Count()
			r.Remove(c)
			_ = c.Close()
		}()
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
}
