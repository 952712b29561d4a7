package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lukasbauer/cxbridge/internal/auth"
	"github.com/lukasbauer/cxbridge/internal/eventlog"
	"github.com/lukasbauer/cxbridge/internal/stt"
	"github.com/lukasbauer/cxbridge/internal/turn"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// callSession is one media socket. It lives from upgrade until the socket
// closes; turns it started may outlive it.
type callSession struct {
	conn   *websocket.Conn
	sink   *wsSink
	logger *log.Logger

	// key addresses the call in the registries. It is the original call
	// uuid, or a generated one when the caller did not send it.
	key         string
	callID      string
	webhookURL  string
	sessionPath string
	startedAt   time.Time

	recognizer stt.Recognizer
	stream     stt.Stream
	relay      *audioRelay
	turns      *turn.Orchestrator
	eventLog   *eventlog.Logger

	turnWG      sync.WaitGroup
	transcribed chan struct{}
	dispatched  atomic.Int64
	cleanupOnce sync.Once
	release     func()

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) handleSocket(w http.ResponseWriter, req *http.Request) {
	if r.calls.IsDraining() {
		http.Error(w, "server draining", http.StatusServiceUnavailable)
		return
	}

	q := req.URL.Query()
	callID := q.Get("original_uuid")
	webhookURL := q.Get("webhook_url")

	if r.cfg.SocketTokenSecret != "" {
		if err := auth.VerifySocketToken(r.cfg.SocketTokenSecret, q.Get("token"), callID); err != nil {
			r.logger.Printf("socket: rejected connection for call %q: %v", callID, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("socket: upgrade failed: %v", err)
		return
	}

	key := callID
	if callID == "" {
		key = uuid.NewString()
		r.logger.Printf("socket: connection without original_uuid, using session %s", key)
		captureError(req, errors.New("missing original_uuid"), "socket: degraded session")
	} else {
		r.logger.Printf("socket: connected with original call uuid %s", callID)
	}
	if webhookURL == "" {
		r.logger.Printf("socket: no webhook_url for call %s, turn results will not be posted", key)
		captureError(req, errors.New("missing webhook_url"), "socket: degraded session")
	}

	ctx, cancel := context.WithCancel(req.Context())

	s := &callSession{
		conn:        conn,
		sink:        newWSSink(conn),
		logger:      r.logger,
		key:         key,
		callID:      callID,
		webhookURL:  webhookURL,
		sessionPath: r.cfg.Agent.SessionPath(key),
		startedAt:   nowUTC(),
		recognizer:  r.recognizer,
		turns:       r.turns,
		eventLog:    r.eventLog,
		transcribed: make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.release = func() {
		r.playback.Release(key, s.sink)
		r.calls.Unregister(s)
	}

	if !r.calls.Register(s) {
		r.logger.Printf("socket: draining, closing call %s", key)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server draining"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		cancel()
		return
	}

	s.run()
}

func (s *callSession) run() {
	defer s.cleanup()

	s.eventLog.LogAsync(s.key, eventlog.EventCallStarted, map[string]any{
		"original_uuid": s.callID,
		"webhook":       s.webhookURL != "",
		"session":       s.sessionPath,
	})

	stream, err := s.recognizer.Open(s.ctx)
	if err != nil {
		s.logger.Printf("socket: failed to open recognition stream for call %s: %v", s.key, err)
		s.eventLog.LogAsync(s.key, eventlog.EventRecognitionError, map[string]any{"error": err.Error()})
		captureCallError(s.key, err, "socket: recognition stream open failed")
		return
	}
	s.stream = stream
	s.relay = newAudioRelay(s.ctx, stream, s.key, s.logger)

	go func() {
		defer close(s.transcribed)
		s.processTranscripts()
	}()

	for {
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("socket: connection closed for call %s", s.key)
			} else {
				s.logger.Printf("socket: read error for call %s: %v", s.key, err)
			}
			return
		}
		s.relay.Handle(mt, msg)
	}
}

// processTranscripts turns every final transcript into a dialog turn. A
// recognition error ends transcript processing for the call; the stream is
// not reopened. Transcripts already buffered when the error arrives are still
// handled.
func (s *callSession) processTranscripts() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case err, ok := <-s.stream.Errors():
			if !ok {
				return
			}
			s.drainTranscripts()
			s.logger.Printf("socket: recognition error for call %s: %v", s.key, err)
			s.eventLog.LogAsync(s.key, eventlog.EventRecognitionError, map[string]any{"error": err.Error()})
			captureCallError(s.key, err, "socket: recognition stream failed")
			return

		case result, ok := <-s.stream.Results():
			if !ok {
				return
			}
			s.handleTranscript(result)
		}
	}
}

func (s *callSession) drainTranscripts() {
	for {
		select {
		case result, ok := <-s.stream.Results():
			if !ok {
				return
			}
			s.handleTranscript(result)
		default:
			return
		}
	}
}

func (s *callSession) handleTranscript(result stt.TranscriptResult) {
	if !result.IsFinal {
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}
	s.logger.Printf("socket: transcript for call %s: %q (confidence %.2f)", s.key, text, result.Confidence)
	s.eventLog.LogAsync(s.key, eventlog.EventTranscript, map[string]any{
		"text":       text,
		"confidence": result.Confidence,
	})
	s.startTurn(text)
}

// startTurn runs the turn in the background. Turns are not cancelled when
// the caller hangs up.
func (s *callSession) startTurn(text string) {
	s.turnWG.Add(1)
	s.dispatched.Add(1)
	go func() {
		defer s.turnWG.Done()
		_, err := s.turns.Run(context.WithoutCancel(s.ctx), turn.Turn{
			Query:       text,
			CallID:      s.key,
			WebhookURL:  s.webhookURL,
			SessionPath: s.sessionPath,
			Sink:        s.sink,
		})
		if err != nil {
			s.logger.Printf("socket: turn failed for call %s: %v", s.key, err)
		}
	}()
}

func (s *callSession) turnCount() int64 {
	return s.dispatched.Load()
}

func (s *callSession) cleanup() {
	s.cleanupOnce.Do(func() {
		s.cancel()

		if s.stream != nil {
			_ = s.stream.Close()
		}
		if s.relay != nil {
			s.relay.Close()
		}
		_ = s.sink.Close()

		s.eventLog.LogAsync(s.key, eventlog.EventCallEnded, map[string]any{
			"turns":       s.dispatched.Load(),
			"duration_ms": time.Since(s.startedAt).Milliseconds(),
		})
		s.logger.Printf("socket: session cleaned up for call %s", s.key)

		// The registries keep the call until its in-flight turns finish.
		go func() {
			if s.stream != nil {
				<-s.transcribed
			}
			s.turnWG.Wait()
			s.release()
		}()
	})
}
