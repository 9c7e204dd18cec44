package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/turnstile/internal/agent"
	"github.com/ent0n29/turnstile/internal/audit"
	"github.com/ent0n29/turnstile/internal/clock"
	"github.com/ent0n29/turnstile/internal/config"
	"github.com/ent0n29/turnstile/internal/console"
	"github.com/ent0n29/turnstile/internal/discovery"
	"github.com/ent0n29/turnstile/internal/events"
	"github.com/ent0n29/turnstile/internal/execution"
	"github.com/ent0n29/turnstile/internal/gate"
	"github.com/ent0n29/turnstile/internal/httpapi"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/observability"
	"github.com/ent0n29/turnstile/internal/permission"
	"github.com/ent0n29/turnstile/internal/queue"
	"github.com/ent0n29/turnstile/internal/relay"
	"github.com/ent0n29/turnstile/internal/session"
)

type BuildResult struct {
	Config   config.Config
	Handler  http.Handler
	Registry *session.Registry
	Queue    *queue.Queue
	Gate     *gate.Gate
	Broker   *permission.Broker
	Hub      *console.Hub
	Relay    *relay.Relay
	Metrics  *observability.Metrics

	// Start launches the background sweeper and event subscribers. They run
	// until ctx is done or Cleanup is called.
	Start func(ctx context.Context) error

	// Cleanup should be called on shutdown to release external resources (bus, DB, running turn).
	Cleanup func(ctx context.Context) error
}

// Build wires every component from cfg. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config, log *logger.Logger) (*BuildResult, error) {
	log = logger.OrDefault(log)
	clk := clock.Real()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	registry := session.NewRegistry(clk)
	registry.SetTrackHook(func(session.Session) {
		metrics.SetTrackedSessions(registry.Len())
	})

	g := gate.New(cfg.GatePassphrase, cfg.GateIdleTimeout, clk)
	g.SetLockHook(func(reason gate.Reason) {
		metrics.ObserveGate("locked", string(reason))
		log.Info("gate locked", zap.String("reason", string(reason)))
	})
	g.SetUnlockHook(func() {
		metrics.ObserveGate("unlocked", "passphrase")
		log.Info("gate unlocked")
	})

	q := queue.New(cfg.QueueMaxSize, log, metrics)

	bus, err := events.NewEventBus(events.NATSConfig{URL: cfg.NATSURL, ClientID: cfg.NATSClientID}, log)
	if err != nil {
		return nil, fmt.Errorf("event bus init failed: %w", err)
	}

	store, err := audit.NewStore(ctx, cfg.DatabaseURL, cfg.AuditHistoryLimit)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("audit store init failed: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Mode:        cfg.AgentMode,
		CLIPath:     cfg.AgentCLIPath,
		TurnTimeout: cfg.AgentTurnTimeout,
		KillGrace:   cfg.AgentKillGrace,
		PublicURL:   cfg.PublicURL,
		HookSecret:  cfg.HookSecret,
		Logger:      log,
	})
	if err != nil {
		_ = store.Close()
		bus.Close()
		return nil, fmt.Errorf("agent runner init failed: %w", err)
	}

	hub := console.NewHub(log, metrics)
	broker := permission.NewBroker(permission.Options{
		Timeout:   cfg.PermissionTimeout,
		SafeTools: cfg.PermissionSafeTools,
		Clock:     clk,
		Notifier:  hub,
		Bus:       bus,
		Logger:    log,
		Metrics:   metrics,
	})
	hub.SetPendingSource(broker)

	turns := execution.NewFactory(execution.Options{
		Runner:   runner,
		Registry: registry,
		Queue:    q,
		Replier:  hub,
		Audit:    store,
		Logger:   log,
	})

	rl := relay.New(relay.Options{
		Registry:                registry,
		Queue:                   q,
		Gate:                    g,
		Broker:                  broker,
		Turns:                   turns,
		Clock:                   clk,
		Logger:                  log,
		DefaultWorkingDirectory: cfg.AgentDefaultCWD,
	})

	listener := discovery.NewListener(bus, registry, log)
	recorder := audit.NewRecorder(store, bus, log)

	api := httpapi.New(httpapi.Deps{
		Config:  cfg,
		Broker:  broker,
		Relay:   rl,
		Hub:     hub,
		Bus:     bus,
		Audit:   store,
		Metrics: metrics,
		Logger:  log,
	})

	start := func(ctx context.Context) error {
		if err := listener.Start(); err != nil {
			return fmt.Errorf("session listener start failed: %w", err)
		}
		if err := recorder.Start(); err != nil {
			listener.Stop()
			return fmt.Errorf("audit recorder start failed: %w", err)
		}
		g.StartSweeper(ctx, cfg.GateSweepInterval)
		return nil
	}

	cleanup := func(ctx context.Context) error {
		var errs []string
		if n := broker.Shutdown(); n > 0 {
			log.Info("denied pending permissions on shutdown", zap.Int("count", n))
		}
		if err := q.Close(ctx); err != nil {
			errs = append(errs, err.Error())
		}
		recorder.Stop()
		listener.Stop()
		bus.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		Handler:  api.Router(),
		Registry: registry,
		Queue:    q,
		Gate:     g,
		Broker:   broker,
		Hub:      hub,
		Relay:    rl,
		Metrics:  metrics,
		Start:    start,
		Cleanup:  cleanup,
	}, nil
}
