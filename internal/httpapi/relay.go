package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/cxbridge/internal/stt"
)

// controlMessage is a JSON text message from the caller side. No field has
// an effect yet; messages are parsed and dropped.
type controlMessage map[string]any

// audioRelay forwards inbound audio to the recognition stream. Handle never
// blocks on the recognizer: frames are queued and a single goroutine sends
// them in arrival order.
type audioRelay struct {
	stream stt.Stream
	logger *log.Logger
	callID string

	mu      sync.Mutex
	queue   [][]byte
	failed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func newAudioRelay(ctx context.Context, stream stt.Stream, callID string, logger *log.Logger) *audioRelay {
	r := &audioRelay{
		stream: stream,
		logger: logger,
		callID: callID,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r
}

// Handle demultiplexes one inbound websocket message.
func (r *audioRelay) Handle(messageType int, data []byte) {
	switch messageType {
	case websocket.BinaryMessage:
		r.push(data)
	case websocket.TextMessage:
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Printf("socket: ignoring malformed control message for call %s: %v", r.callID, err)
			return
		}
		r.logger.Printf("socket: control message for call %s (%d fields)", r.callID, len(msg))
	}
}

func (r *audioRelay) push(frame []byte) {
	r.mu.Lock()
	r.queue = append(r.queue, frame)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *audioRelay) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, frame := range batch {
			if err := r.stream.StreamAudio(ctx, frame); err != nil {
				r.fail(err)
			}
		}
	}
}

// fail logs the first send error; later frames are dropped silently since
// the stream is not reopened.
func (r *audioRelay) fail(err error) {
	r.mu.Lock()
	first := !r.failed
	r.failed = true
	r.mu.Unlock()
	if first {
		r.logger.Printf("socket: relay to recognizer failed for call %s: %v", r.callID, err)
	}
}

// Close stops the relay goroutine. Queued frames are dropped.
func (r *audioRelay) Close() {
	r.stopped.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}
