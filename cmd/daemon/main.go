// SPDX-License-Identifier: MIT

// Command daemon runs the clipmux control plane: the websocket gateway,
// the endpoint pool and the operator surface, in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipmux/clipmux/internal/api"
	"github.com/clipmux/clipmux/internal/chat"
	"github.com/clipmux/clipmux/internal/config"
	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/llm"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/metrics"
	"github.com/clipmux/clipmux/internal/pool"
	"github.com/clipmux/clipmux/internal/session"
	"github.com/clipmux/clipmux/internal/version"
	"github.com/clipmux/clipmux/internal/videogen"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clipmux %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg := config.FromEnv()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "clipmux"})
	logger := log.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.invalid").
			Msg("configuration rejected")
	}
	logger.Debug().
		Interface("settings", config.MaskSettings(cfg)).
		Str(log.FieldEvent, "config.loaded").
		Msg("effective configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.ListenAddr).
		Msg("starting clipmux")

	logger.Info().Msgf("→ Endpoints: %d configured (max %d)", len(cfg.EndpointURLs), cfg.MaxNodes)
	if cfg.StaticDir != "" {
		logger.Info().Msgf("→ Web client: %s", cfg.StaticDir)
	} else {
		logger.Info().Msg("→ Web client: disabled")
	}
	if cfg.SecretToken != "" {
		logger.Info().Msg("→ Operator secret: configured")
	} else {
		logger.Warn().Msg("→ Operator secret: NOT configured, /api/metrics stays locked")
	}
	if cfg.MaintenanceMode {
		logger.Warn().Msg("→ Maintenance mode: ON, new sessions are refused")
	}

	endpoints := pool.New(cfg.EndpointURLs, pool.Options{})
	tracker := metrics.NewTracker(metrics.Options{})
	sessions := session.NewRegistry()
	rooms := chat.NewRegistry()
	resolver := identity.NewResolver(identity.Options{AdminAccounts: cfg.AdminAccounts})

	studio := llm.NewStudio(llm.NewClient(llm.Options{
		Token: cfg.HFToken,
		Model: cfg.TextModel,
	}))

	history := videogen.NewHistory(nil)
	render := videogen.NewService(videogen.ServiceOptions{
		Pool:      endpoints,
		Generator: videogen.NewClient(videogen.ClientOptions{Token: cfg.HFToken}),
		History:   history,
	})

	server, err := api.New(api.Options{
		Settings: cfg,
		Resolver: resolver,
		Tracker:  tracker,
		Sessions: sessions,
		Chat:     rooms,
		Studio:   studio,
		Video:    render,
		Pool:     endpoints,
		History:  history,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "startup.failed").
			Msg("server construction failed")
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No blanket write timeout: websocket sessions outlive any fixed
		// budget; per-write deadlines are enforced on the connection.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str(log.FieldEvent, "listening").
			Str("addr", cfg.ListenAddr).
			Msg("accepting connections")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "listen.failed").
			Msg("http server failed")
	case <-ctx.Done():
	}

	logger.Info().
		Str(log.FieldEvent, "shutdown").
		Dur("timeout", cfg.ShutdownTimeout).
		Msg("draining sessions")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sessions.CloseAll(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown incomplete, closing hard")
		_ = httpSrv.Close()
	}
	logger.Info().Msg("server exiting")
}
