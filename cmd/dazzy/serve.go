package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/dazzy/internal/api"
	"github.com/nugget/dazzy/internal/buildinfo"
	"github.com/nugget/dazzy/internal/config"
	"github.com/nugget/dazzy/internal/connwatch"
	"github.com/nugget/dazzy/internal/mqtt"
)

// runServe is the long-running mode: the HTTP API, the MQTT bridge
// when a broker is configured, and health probes for the remote
// collaborators. SIGINT or SIGTERM starts a graceful shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Dazzy", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	if cfgPath == "" {
		logger.Warn("no config file found, using defaults")
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "name", cfg.Assistant.Name)

	if err := prepareDataDir(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newCore(ctx, cfg, logger, coreOptions{
		Onboarding: cfg.Assistant.OnboardingEnabled(),
		Opener:     systemOpener(cfg, logger),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	// --- Connection health ---
	// Remote collaborators are optional at runtime; probes only feed
	// /health and the bus.
	health := connwatch.NewManager(c.bus, logger)
	defer health.Stop()
	if c.wiki != nil {
		health.Watch(ctx, "encyclopedia", c.wiki.Ping, connwatch.DefaultSchedule())
	}
	if c.llm != nil {
		health.Watch(ctx, "completion", c.llm.Ping, connwatch.DefaultSchedule())
	}

	server := api.NewServer(api.Config{
		Address:   cfg.Listen.Address,
		Port:      cfg.Listen.Port,
		Assistant: c.assistant,
		Health:    health,
		Metrics:   c.metrics,
		Bus:       c.bus,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	// --- MQTT bridge ---
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		bridge := mqtt.New(cfg.MQTT, instanceID, c.assistant, c.bus, logger)

		// The bridge outlives gctx long enough to publish "offline".
		mqttCtx, mqttCancel := context.WithCancel(context.WithoutCancel(gctx))
		g.Go(func() error { return bridge.Start(mqttCtx) })
		g.Go(func() error {
			<-gctx.Done()
			defer mqttCancel()
			stopCtx, stopCancel := context.WithTimeout(mqttCtx, 5*time.Second)
			defer stopCancel()
			if err := bridge.Stop(stopCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
			return nil
		})

		health.Watch(ctx, "mqtt", func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return bridge.AwaitConnection(awaitCtx)
		}, connwatch.DefaultSchedule())

		logger.Info("mqtt bridge enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt bridge disabled (not configured)")
	}

	err = g.Wait()
	if ctx.Err() == nil && err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Dazzy stopped")
	return nil
}
