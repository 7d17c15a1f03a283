package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/bai/internal/api"
	"github.com/ashureev/bai/internal/config"
	"github.com/ashureev/bai/internal/device"
	"github.com/ashureev/bai/internal/events"
	"github.com/ashureev/bai/internal/health"
	"github.com/ashureev/bai/internal/mqtt"
)

func newServeCommand(s *streams) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge for a UI shell",
		Long: `Run the HTTP bridge. A UI shell posts messages to /api/chat, manages the
permanent context under /api/context and listens for notices on /ws/events.

When MQTT_BROKER is set, alarms, speech and notices are also published to the
paired device. When GRPC_HEALTH_ADDR is set, a gRPC health service reports
whether the store is usable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, s)
		},
	}
}

func runServe(ctx context.Context, s *streams) error {
	var (
		hub       *events.Hub
		mqttDev   *mqtt.Device
		serverLog *slog.Logger
	)

	a, err := openApp(ctx, s, appOptions{
		logFormat: "json",
		configure: func(cfg *config.Config, logger *slog.Logger, opts *appOptions) error {
			serverLog = logger
			hub = events.NewHub(cfg.AllowedOrigins, logger)
			opts.notifiers = append(opts.notifiers, hub)

			if cfg.MQTTEnabled() {
				mqttDev = mqtt.NewDevice(mqtt.Config{
					Broker:     cfg.MQTT.Broker,
					DeviceName: cfg.MQTT.DeviceName,
					Username:   cfg.MQTT.Username,
					Password:   cfg.MQTT.Password,
				}, logger)
				opts.alarms = mqttDev
				opts.speaker = mqttDev
				opts.notifiers = append(opts.notifiers, mqttDev)
				return nil
			}
			// Without a paired device, alarms and speech go to the log stream.
			console := device.NewConsole(s.err, nil)
			opts.alarms = console
			opts.speaker = console
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	handler := api.NewHandler(a.ctrl, hub, serverLog)
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           api.NewRouter(handler, hub, a.cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		// Turns can take as long as the backend timeout.
		WriteTimeout: a.cfg.Backend.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		serverLog.Info("Server listening", "addr", srv.Addr, "session_id", a.ctrl.ID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		serverLog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if addr := a.cfg.GRPCHealthAddr; addr != "" {
		hs := health.NewServer(a.db, health.DefaultProbeInterval, serverLog)
		g.Go(func() error { return hs.Serve(gctx, addr) })
	}

	if mqttDev != nil {
		g.Go(func() error { return mqttDev.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	serverLog.Info("Server stopped successfully")
	return nil
}
