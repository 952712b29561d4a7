package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/cxbridge/internal/dialog"
	"github.com/lukasbauer/cxbridge/internal/eventlog"
	"github.com/lukasbauer/cxbridge/internal/httpapi"
	"github.com/lukasbauer/cxbridge/internal/notifications"
	"github.com/lukasbauer/cxbridge/internal/playback"
	"github.com/lukasbauer/cxbridge/internal/stt"
	"github.com/lukasbauer/cxbridge/internal/turn"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	eventLog   *eventlog.Logger
	recognizer stt.Recognizer
	dialog     *dialog.CXClient
	playback   *playback.Registry
	turns      *turn.Orchestrator

	closers []io.Closer
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// The event log is optional; without a database every event is dropped.
	if cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		if err := eventlog.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
	} else {
		logger.Printf("DATABASE_URL not set, call event log disabled")
	}
	a.eventLog = eventlog.New(a.db, logger)

	sttCfg := stt.DefaultConfig()
	sttCfg.LanguageCode = cfg.STTLanguage
	sttCfg.Model = cfg.STTModel

	switch cfg.STTProvider {
	case "deepgram":
		a.recognizer = stt.NewDeepgramRecognizer(cfg.DeepgramAPIKey, sttCfg, logger)
	default:
		rec, err := stt.NewGoogleRecognizer(ctx, sttCfg)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("speech client: %w", err)
		}
		a.recognizer = rec
		a.closers = append(a.closers, rec)
	}

	endpoint := cfg.DialogEndpoint
	if endpoint == "" {
		endpoint = dialog.Endpoint(cfg.AgentLocation)
	}
	dc, err := dialog.NewCXClient(ctx, endpoint)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("dialog client: %w", err)
	}
	a.dialog = dc
	a.closers = append(a.closers, dc)

	a.playback = playback.NewRegistry()
	scheduler := playback.NewScheduler(a.playback, playback.SchedulerConfig{}, logger)
	a.turns = turn.New(
		dc,
		notifications.NewWebhook(cfg.WebhookTimeout, logger),
		scheduler,
		a.eventLog,
		turn.Config{LanguageCode: cfg.DialogLanguage, SampleRateHertz: playback.SampleRateHz},
		logger,
	)

	logger.Printf("dialog agent %s in %s via %s, stt provider %s (%s)",
		cfg.AgentID, cfg.AgentLocation, endpoint, cfg.STTProvider, cfg.STTLanguage)
	return a, nil
}

func (a *App) Router(calls *httpapi.CallRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		Agent: dialog.Agent{
			ProjectID: a.cfg.ProjectID,
			Location:  a.cfg.AgentLocation,
			AgentID:   a.cfg.AgentID,
		},
		SocketTokenSecret: a.cfg.SocketTokenSecret,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.recognizer, a.turns, a.playback, a.eventLog, calls)
}

func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	a.eventLog.Close()
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	return firstErr
}
