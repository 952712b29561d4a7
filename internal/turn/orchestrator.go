package turn

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/cxbridge/internal/dialog"
	"github.com/lukasbauer/cxbridge/internal/eventlog"
	"github.com/lukasbauer/cxbridge/internal/playback"
)

// Result is the record posted to the call's webhook after every turn.
type Result struct {
	UUID          string `json:"uuid"`
	UserQuery     string `json:"userQuery"`
	AgentResponse string `json:"agentResponse"`
	MatchedIntent string `json:"matchedIntent"`
	CurrentPage   string `json:"currentPage"`
}

// Notifier delivers turn results in the background.
type Notifier interface {
	Dispatch(ctx context.Context, url string, payload any) <-chan error
}

// Player schedules reply audio for a call, replacing any playback already
// scheduled for it.
type Player interface {
	Play(callID string, audio []byte, sink playback.Sink) *playback.Set
}

// Config holds the per-process turn settings.
type Config struct {
	LanguageCode    string // Dialog engine language, e.g. "en"
	SampleRateHertz int    // Reply audio sample rate, 16000
}

// Turn is one finalized transcript on one call.
type Turn struct {
	Query       string
	CallID      string
	WebhookURL  string
	SessionPath string
	Sink        playback.Sink
}

// Outcome reports what a completed turn did.
type Outcome struct {
	Result   Result
	Webhook  <-chan error  // nil when no webhook was dispatched
	Playback *playback.Set // nil when the reply had no audio
}

// Orchestrator runs dialog turns.
type Orchestrator struct {
	dialog   dialog.Client
	notifier Notifier
	player   Player
	events   *eventlog.Logger
	cfg      Config
	logger   *log.Logger
}

// New creates an orchestrator. events may be nil.
func New(dc dialog.Client, notifier Notifier, player Player, events *eventlog.Logger, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.SampleRateHertz <= 0 {
		cfg.SampleRateHertz = playback.SampleRateHz
	}
	return &Orchestrator{
		dialog:   dc,
		notifier: notifier,
		player:   player,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes one turn: detect intent, dispatch the webhook, schedule the
// reply audio. A dialog failure aborts the turn before any side effect and
// is returned. Webhook delivery is not awaited.
func (o *Orchestrator) Run(ctx context.Context, t Turn) (*Outcome, error) {
	res, err := o.dialog.DetectIntent(ctx, dialog.Request{
		SessionPath:     t.SessionPath,
		Text:            t.Query,
		LanguageCode:    o.cfg.LanguageCode,
		SampleRateHertz: o.cfg.SampleRateHertz,
	})
	if err != nil {
		if errors.Is(err, dialog.ErrEmptyResponse) {
			o.logger.Printf("turn: empty dialog response for call %s", t.CallID)
		} else {
			o.logger.Printf("turn: detect intent failed for call %s: %v", t.CallID, err)
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("call_id", t.CallID)
				scope.SetExtra("query", t.Query)
				sentry.CaptureException(err)
			})
		}
		o.events.LogAsync(t.CallID, eventlog.EventDialogError, map[string]any{
			"query": t.Query,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("turn aborted: %w", err)
	}

	out := &Outcome{
		Result: Result{
			UUID:          t.CallID,
			UserQuery:     res.QueryText,
			AgentResponse: res.AgentResponse(),
			MatchedIntent: res.MatchedIntent,
			CurrentPage:   res.CurrentPage,
		},
	}
	o.logger.Printf("turn: call %s query=%q intent=%q page=%q reply=%q",
		t.CallID, out.Result.UserQuery, out.Result.MatchedIntent, out.Result.CurrentPage, out.Result.AgentResponse)

	o.events.LogAsync(t.CallID, eventlog.EventTurnCompleted, map[string]any{
		"user_query":     out.Result.UserQuery,
		"agent_response": out.Result.AgentResponse,
		"matched_intent": out.Result.MatchedIntent,
		"current_page":   out.Result.CurrentPage,
		"audio_bytes":    len(res.OutputAudio),
	})

	if t.WebhookURL != "" {
		out.Webhook = o.dispatch(ctx, t, out.Result)
	} else {
		o.logger.Printf("turn: no webhook url for call %s, skipping notification", t.CallID)
	}

	// A sink that is already gone would drop every frame; skip scheduling so
	// no playback entry outlives the call.
	if len(res.OutputAudio) > 0 && t.Sink != nil && t.Sink.Live() {
		out.Playback = o.player.Play(t.CallID, res.OutputAudio, t.Sink)
		o.events.LogAsync(t.CallID, eventlog.EventPlaybackScheduled, map[string]any{
			"frames": out.Playback.Len(),
			"bytes":  len(res.OutputAudio),
		})
	}

	return out, nil
}

// dispatch posts the result without tying delivery to the call's lifetime.
func (o *Orchestrator) dispatch(ctx context.Context, t Turn, result Result) <-chan error {
	done := o.notifier.Dispatch(context.WithoutCancel(ctx), t.WebhookURL, result)
	if !o.events.Enabled() {
		return done
	}

	relay := make(chan error, 1)
	go func() {
		err := <-done
		if err != nil {
			o.events.LogAsync(t.CallID, eventlog.EventWebhookFailed, map[string]any{
				"url":   t.WebhookURL,
				"error": err.Error(),
			})
		}
		relay <- err
	}()
	return relay
}
