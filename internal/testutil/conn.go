// Package testutil holds fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tutorlink/pkg/interfaces"
)

var connSeq atomic.Int64

// Frame is a decoded outbound frame as a client would see it.
type Frame struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id"`
	From      string          `json:"from"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the frame's data into v.
func (f Frame) Decode(v interface{}) error {
	return json.Unmarshal(f.Data, v)
}

// FakeConn records every frame written to it.
type FakeConn struct {
	id string

	mu     sync.Mutex
	userID string
	frames []Frame
	closed bool
	notify chan struct{}
}

var _ interfaces.Connection = (*FakeConn)(nil)

func NewFakeConn() *FakeConn {
	return &FakeConn{
		id:     fmt.Sprintf("conn-%d", connSeq.Add(1)),
		notify: make(chan struct{}, 1),
	}
}

// NewFakeConnFor returns a connection that already carries userID.
func NewFakeConnFor(userID string) *FakeConn {
	c := NewFakeConn()
	c.userID = userID
	return c
}

func (c *FakeConn) ID() string { return c.id }

func (c *FakeConn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *FakeConn) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *FakeConn) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *FakeConn) Events() []string {
	frames := c.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

// Count returns how many frames carried event.
func (c *FakeConn) Count(event string) int {
	n := 0
	for _, f := range c.Frames() {
		if f.Event == event {
			n++
		}
	}
	return n
}

// Last returns the most recent frame for event.
func (c *FakeConn) Last(event string) (Frame, bool) {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i], true
		}
	}
	return Frame{}, false
}

func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// WaitFor blocks until a frame for event arrives or fails the test.
func (c *FakeConn) WaitFor(t testing.TB, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if f, ok := c.Last(event); ok {
			return f
		}
		select {
		case <-c.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("connection %s: no %q frame within %v (got %v)", c.id, event, timeout, c.Events())
			return Frame{}
		}
	}
}
