package eventlog

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType names one step in a call's lifetime.
type EventType string

const (
	EventCallStarted       EventType = "call_started"
	EventTranscript        EventType = "transcript"
	EventRecognitionError  EventType = "recognition_error"
	EventDialogError       EventType = "dialog_error"
	EventTurnCompleted     EventType = "turn_completed"
	EventWebhookFailed     EventType = "webhook_failed"
	EventPlaybackScheduled EventType = "playback_scheduled"
	EventCallEnded         EventType = "call_ended"
)

const insertEvent = `
	INSERT INTO call_events (call_id, event_type, event_data, created_at)
	VALUES ($1, $2, $3, $4)`

const (
	defaultQueueSize     = 1024
	defaultMaxBatch      = 64
	defaultFlushInterval = 250 * time.Millisecond
	flushTimeout         = 5 * time.Second
)

// batchSender is the part of *pgxpool.Pool the logger writes through.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type event struct {
	callID    string
	eventType EventType
	data      []byte
	at        time.Time
}

// Logger records call events in call_events. Background events are queued
// and written in batches; a full queue drops events rather than stall a call.
type Logger struct {
	db     batchSender
	logger *log.Logger

	maxBatch int
	interval time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan event
	done    chan struct{}
	dropped atomic.Int64
}

// New creates an event logger. A nil pool disables logging.
func New(db *pgxpool.Pool, logger *log.Logger) *Logger {
	if db == nil {
		return &Logger{}
	}
	return newLogger(db, logger, defaultQueueSize, defaultMaxBatch, defaultFlushInterval)
}

func newLogger(db batchSender, logger *log.Logger, queueSize, maxBatch int, interval time.Duration) *Logger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	l := &Logger{
		db:       db,
		logger:   logger,
		maxBatch: maxBatch,
		interval: interval,
		queue:    make(chan event, queueSize),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// Enabled reports whether events are persisted.
func (l *Logger) Enabled() bool {
	return l != nil && l.db != nil
}

// Log writes one event synchronously.
func (l *Logger) Log(ctx context.Context, callID string, eventType EventType, data map[string]any) error {
	if !l.Enabled() || callID == "" {
		return nil
	}
	return l.send(ctx, []event{newEvent(callID, eventType, data)})
}

// LogAsync queues an event for the next batch without blocking the caller.
func (l *Logger) LogAsync(callID string, eventType EventType, data map[string]any) {
	if !l.Enabled() || callID == "" {
		return
	}
	ev := newEvent(callID, eventType, data)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Printf("eventlog: queue full, %d events dropped", n)
		}
	}
}

// Close writes any queued events and stops the background writer. Events
// logged after Close are dropped.
func (l *Logger) Close() {
	if !l.Enabled() {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
}

func newEvent(callID string, eventType EventType, data map[string]any) event {
	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}
	return event{callID: callID, eventType: eventType, data: dataJSON, at: time.Now().UTC()}
}

func (l *Logger) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	pending := make([]event, 0, l.maxBatch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := l.send(ctx, pending); err != nil {
			l.logger.Printf("eventlog: write %d events: %v", len(pending), err)
		}
		cancel()
		pending = pending[:0]
	}

	for {
		select {
		case ev, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			pending = append(pending, ev)
			if len(pending) >= l.maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *Logger) send(ctx context.Context, events []event) error {
	b := &pgx.Batch{}
	for _, ev := range events {
		b.Queue(insertEvent, ev.callID, string(ev.eventType), ev.data, ev.at)
	}
	br := l.db.SendBatch(ctx, b)

	var firstErr error
	for range events {
		if _, err := br.Exec(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := br.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
