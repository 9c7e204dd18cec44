package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/turnstile/internal/app"
	"github.com/ent0n29/turnstile/internal/config"
	"github.com/ent0n29/turnstile/internal/hookclient"
	"github.com/ent0n29/turnstile/internal/logger"
	"github.com/ent0n29/turnstile/internal/tracing"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "turnstile",
		Short:         "Remote operator relay and approval gate for a coding assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newHookCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := built.Start(ctx); err != nil {
		_ = built.Cleanup(context.Background())
		return err
	}

	// Authorization callbacks block until the operator decides, so responses
	// are not bounded by a write timeout.
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.Handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening",
			zap.String("addr", cfg.BindAddr),
			zap.String("agent_mode", cfg.AgentMode),
			zap.Bool("gate_enabled", cfg.GateEnabled()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Pending approvals are denied first so blocked callbacks can return.
		if err := built.Cleanup(shutdownCtx); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

func newHookCommand() *cobra.Command {
	hook := &cobra.Command{
		Use:   "hook",
		Short: "Assistant hook helpers that forward stdin to the relay server",
	}
	hook.AddCommand(&cobra.Command{
		Use:   "pre-tool-use",
		Short: "Ask the relay whether a tool call may run and print the decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 2<<20))
			if err != nil {
				payload = nil
			}
			out := newHookClient().PreToolUse(cmd.Context(), payload)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	})
	hook.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Report the current session to the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 2<<20))
			if err != nil {
				return err
			}
			if err := newHookClient().Report(cmd.Context(), payload); err != nil {
				// A missed report must not fail the assistant's hook chain.
				fmt.Fprintln(cmd.ErrOrStderr(), "session report failed:", err)
			}
			return nil
		},
	})
	return hook
}

func newHookClient() *hookclient.Client {
	base := strings.TrimSpace(os.Getenv("TURNSTILE_URL"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APP_PUBLIC_URL"))
	}
	secret := strings.TrimSpace(os.Getenv("TURNSTILE_HOOK_SECRET"))
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("HOOK_SECRET"))
	}
	// stdout carries the decision, so logs go to stderr.
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		log = logger.Nop()
	}
	return hookclient.New(base, secret, log)
}
