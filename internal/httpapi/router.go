package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/cxbridge/internal/dialog"
	"github.com/lukasbauer/cxbridge/internal/eventlog"
	"github.com/lukasbauer/cxbridge/internal/playback"
	"github.com/lukasbauer/cxbridge/internal/stt"
	"github.com/lukasbauer/cxbridge/internal/turn"
)

type RouterConfig struct {
	// Dialog agent that every call's session path is built against
	Agent dialog.Agent

	// When set, /socket requires a token signed with this secret
	SocketTokenSecret string
}

type Router struct {
	cfg        RouterConfig
	logger     *log.Logger
	recognizer stt.Recognizer
	turns      *turn.Orchestrator
	playback   *playback.Registry
	eventLog   *eventlog.Logger
	calls      *CallRegistry
	mux        *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, recognizer stt.Recognizer, turns *turn.Orchestrator, pb *playback.Registry, eventLog *eventlog.Logger, calls *CallRegistry) http.Handler {
	if calls == nil {
		calls = NewCallRegistry()
	}
	r := &Router{
		cfg:        cfg,
		logger:     logger,
		recognizer: recognizer,
		turns:      turns,
		playback:   pb,
		eventLog:   eventLog,
		calls:      calls,
		mux:        http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(r.mux)
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Media socket from the telephony side
	r.mux.HandleFunc("GET /socket", r.handleSocket)

	// Live call inspection
	r.mux.HandleFunc("GET /calls/{uuid}", r.handleGetCall)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails once draining starts so the load balancer stops
// routing new calls here.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.calls.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleGetCall(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("uuid")
	s, ok := r.calls.Lookup(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}

	pending := 0
	if set := r.playback.Active(key); set != nil {
		pending = set.Pending()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":             s.key,
		"original_uuid":    s.callID != "",
		"session":          s.sessionPath,
		"webhook":          s.webhookURL != "",
		"started_at":       s.startedAt,
		"pending_frames":   pending,
		"turns_dispatched": s.turnCount(),
	})
}

// captureCallError sends an error from a call's background work to Sentry.
func captureCallError(callID string, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("call_id", callID)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
