// Package main is the entry point for the filemaker-mcp server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"git.cscs.ch/openchami/filemaker-mcp/api"
	"git.cscs.ch/openchami/filemaker-mcp/internal/auth"
	"git.cscs.ch/openchami/filemaker-mcp/internal/bulk"
	"git.cscs.ch/openchami/filemaker-mcp/internal/cache"
	"git.cscs.ch/openchami/filemaker-mcp/internal/config"
	"git.cscs.ch/openchami/filemaker-mcp/internal/fmclient"
	"git.cscs.ch/openchami/filemaker-mcp/internal/policy"
	"git.cscs.ch/openchami/filemaker-mcp/internal/ratelimit"
	"git.cscs.ch/openchami/filemaker-mcp/internal/server"
	"git.cscs.ch/openchami/filemaker-mcp/internal/tools"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const (
	shutdownTimeout  = 15 * time.Second
	readinessTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	// stdout carries JSON-RPC in stdio mode, so logs always go to stderr.
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "filemaker-mcp").Str("version", version).Logger()

	logger := log.With().Str("component", "main").Logger()
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("filemaker-mcp stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("filemaker-mcp stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Str("transport", cfg.Transport).Str("host", cfg.FileMaker.Host).Str("database", cfg.FileMaker.Database).Msg("starting filemaker-mcp")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := auth.Resolve(auth.Options{
		AllowFile: cfg.AllowCredentialsFile,
		FilePath:  cfg.CredentialsPath,
		Database:  cfg.FileMaker.Database,
	})
	if err != nil {
		return fmt.Errorf("resolving FileMaker credentials: %w", err)
	}
	logger.Info().Str("credentials_source", string(creds.Source)).Msg("resolved FileMaker credentials")

	client, err := fmclient.New(fmclient.Config{
		Host:       cfg.FileMaker.Host,
		Database:   cfg.FileMaker.Database,
		Username:   creds.Username,
		Password:   creds.Password,
		Timeout:    cfg.FileMaker.RequestTimeout,
		MaxRetries: cfg.FileMaker.MaxRetries,
		RateLimit:  cfg.FileMaker.RequestRate,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("creating FileMaker client: %w", err)
	}
	if err := client.Login(ctx); err != nil {
		// Tool calls retry authentication lazily, so a down server is not fatal here.
		logger.Warn().Err(err).Msg("initial FileMaker login failed")
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		if err := client.Logout(logoutCtx); err != nil {
			logger.Warn().Err(err).Msg("FileMaker logout failed")
		}
	}()

	runner := tools.NewRunner(
		client,
		cache.New(),
		ratelimit.New(ratelimit.WithLimits(cfg.RateLimits)),
		tools.Config{
			BatchSize:  cfg.BatchSize,
			PageSize:   cfg.PageSize,
			MaxPages:   cfg.MaxPages,
			CacheTTL:   cfg.CacheTTL,
			RateWindow: cfg.RateWindow,
			Pacing: bulk.Options{
				ChunkDelay:     cfg.ChunkDelay,
				PageDelay:      cfg.PageDelay,
				ServerLocation: cfg.FileMaker.Location,
			},
		},
		log.Logger,
	)

	registry, err := server.NewToolRegistry(api.ToolsContract)
	if err != nil {
		return fmt.Errorf("parsing MCP tool contract: %w", err)
	}
	modeGuard, err := policy.NewGuard(cfg.Mode, cfg.EnableWrite)
	if err != nil {
		return fmt.Errorf("invalid mode configuration: %w", err)
	}
	logger.Info().Str("mode", modeGuard.Mode()).Bool("write_enabled", cfg.EnableWrite).Msg("execution policy initialized")

	var authn server.SessionAuthenticator
	if cfg.SessionToken != "" {
		authn = server.NewTokenSessionAuthenticator(cfg.SessionToken)
	}

	g, gctx := errgroup.WithContext(ctx)
	switch cfg.Transport {
	case config.TransportStdio:
		go func() {
			// Unblocks the stdin reader on shutdown.
			<-gctx.Done()
			_ = os.Stdin.Close()
		}()
		g.Go(func() error {
			return server.RunStdio(gctx, os.Stdin, os.Stdout, registry, modeGuard, authn, runner, version, log.Logger)
		})

	case config.TransportHTTP:
		httpServer := server.NewHTTPServer(
			server.HTTPOptions{
				Build:          server.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate},
				Contract:       api.ToolsContract,
				MetricsEnabled: cfg.MetricsEnabled,
				Ready: func() error {
					pingCtx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
					defer cancel()
					return client.Ping(pingCtx)
				},
			},
			registry,
			modeGuard,
			authn,
			runner,
			log.Logger,
		)
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httpServer.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      0, // SSE streams outlive any fixed write deadline.
			IdleTimeout:       120 * time.Second,
		}

		g.Go(func() error {
			logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving HTTP: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info().Msg("shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, os.ErrClosed)) {
		return nil
	}
	return err
}
