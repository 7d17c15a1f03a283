package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ashureev/bai/internal/alarmtime"
	"github.com/ashureev/bai/internal/backend"
	"github.com/ashureev/bai/internal/config"
	"github.com/ashureev/bai/internal/device"
	"github.com/ashureev/bai/internal/dispatch"
	"github.com/ashureev/bai/internal/session"
	"github.com/ashureev/bai/internal/store"
	"github.com/ashureev/bai/internal/transcript"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *store.SQLite
	resolver *alarmtime.Resolver
	bridge   *device.Bridge
	recorder transcript.Recorder
	ctrl     *session.Controller
}

// appOptions selects the device collaborators and log format.
type appOptions struct {
	logFormat string
	alarms    device.AlarmScheduler
	speaker   device.Speaker
	notifiers []device.Notifier
	// configure may pick collaborators once the configuration is known.
	configure func(cfg *config.Config, logger *slog.Logger, opts *appOptions) error
}

func loadConfig(errOut io.Writer, logFormat string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(errOut, logFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newResolver(cfg *config.Config, logger *slog.Logger) (*alarmtime.Resolver, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load alarm timezone: %w", err)
	}
	return alarmtime.NewResolver(loc, time.Local, logger), nil
}

// openApp loads configuration, opens the store and starts a session.
func openApp(ctx context.Context, s *streams, opts appOptions) (*app, error) {
	if opts.logFormat == "" {
		opts.logFormat = "text"
	}
	cfg, logger, err := loadConfig(s.err, opts.logFormat)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, recorder: transcript.Nop{}}
	if opts.configure != nil {
		if err := opts.configure(cfg, logger, &opts); err != nil {
			return nil, err
		}
	}

	a.db, err = store.NewSQLite(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.resolver, err = newResolver(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	client, err := backend.NewHTTPClient(backend.HTTPClientConfig{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.recorder, err = transcript.New(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		a.recorder = transcript.Nop{}
		a.Close()
		return nil, fmt.Errorf("start transcript: %w", err)
	}

	a.bridge = device.NewBridge(a.resolver, opts.alarms, opts.speaker, logger, opts.notifiers...)

	a.ctrl, err = session.New(ctx, session.Options{
		Store:       a.db,
		Client:      client,
		Protocol:    backend.ProtocolVersion(cfg.Backend.ProtocolVersion),
		Emitter:     a.bridge,
		ContextMode: dispatch.ContextMode(cfg.ContextMode),
		Recorder:    a.recorder,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store and flushes the transcript.
func (a *app) Close() {
	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}
