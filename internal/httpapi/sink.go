package httpapi

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var errSinkClosed = errors.New("socket closed")

const frameWriteTimeout = 2 * time.Second

// wsSink writes playback frames to the caller's websocket. gorilla allows
// one concurrent writer, so all writes go through mu.
type wsSink struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

// Live reports whether the socket is still open.
func (s *wsSink) Live() bool {
	return !s.closed.Load()
}

// WriteFrame sends frame as one binary message.
func (s *wsSink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return errSinkClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close marks the sink dead and closes the socket. Repeated calls are no-ops.
func (s *wsSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
