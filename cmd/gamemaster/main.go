package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/cert"
	"github.com/JoanyBuclon/Space-Invader/internal/lobby"
	"github.com/JoanyBuclon/Space-Invader/internal/monitor"
	"github.com/JoanyBuclon/Space-Invader/internal/platform/httpplatform"
	"github.com/JoanyBuclon/Space-Invader/internal/router"
	"github.com/JoanyBuclon/Space-Invader/internal/transport/quicstream"
	"github.com/JoanyBuclon/Space-Invader/internal/transport/ws"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, close := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer close()

	cfg, err := loadConfig(".env")
	if err != nil {
		abort("load config", err)
	}

	logs := monitor.NewLogStream(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}),
		cfg.LogHistory,
	)
	logger := slog.New(logs)
	slog.SetDefault(logger)

	logger.DebugContext(ctx, "load config", slog.Any("config", cfg))

	manager := lobby.New(cfg.lobby(), lobby.WithLogger(logger.With(slog.String("component", "lobby"))))
	rt := router.New(manager, logger.With(slog.String("component", "router")))
	checkOrigin := httpplatform.OriginChecker(cfg.HTTP.AllowedOrigins)

	gameWS := ws.NewHandler(rt,
		ws.WithLogger(logger.With(slog.String("component", "websocket"))),
		ws.WithCheckOrigin(checkOrigin),
	)
	mon := monitor.New(manager,
		monitor.WithLogger(logger.With(slog.String("component", "monitor"))),
		monitor.WithInterval(cfg.HTTP.DashboardInterval),
		monitor.WithLogStream(logs),
		monitor.WithCheckOrigin(checkOrigin),
	)

	mux := monitor.NewRouter(mon)
	mux.Handle("GET /game", gameWS)

	var handler http.Handler = httpplatform.Wrap(
		mux,
		httpplatform.LogRequests(logger.With(slog.String("component", "http"))),
		httpplatform.AllowOrigins(cfg.HTTP.AllowedOrigins),
	)

	var quicSrv *quicstream.Server
	if cfg.QUIC.Listen != "" {
		tlsConf, acmeMgr := newTLSConfig(cfg.Cert)
		if acmeMgr != nil {
			handler = acmeMgr.HTTPHandler(handler)
		}

		quicSrv = quicstream.NewServer(rt)
		quicSrv.TLSConfig = tlsConf
		quicSrv.Logger = logger.With(slog.String("component", "quic"))
	}

	httpSrv := http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: handler,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return manager.Run(ctx)
	})

	eg.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("listen and serve HTTP: %w", err)
		}

		return nil
	})

	if quicSrv != nil {
		eg.Go(func() error {
			if err := quicSrv.ListenAndServe(cfg.QUIC.Listen); err != nil {
				if errors.Is(err, quicstream.ErrServerClosed) {
					return nil
				}

				return fmt.Errorf("listen and serve QUIC: %w", err)
			}

			return nil
		})
	}

	logger.Info("listening",
		slog.Group("address",
			slog.String("http", cfg.HTTP.Listen),
			slog.String("quic", cfg.QUIC.Listen),
		),
		slog.Int("min_players", cfg.Lobby.MinPlayers),
		slog.Int("max_players", cfg.Lobby.MaxPlayers),
	)

	<-ctx.Done()

	logger.Info("shutting down")
	forced := time.AfterFunc(cfg.ShutdownGrace, func() {
		logger.Error("forced shutdown after timeout", slog.Duration("grace", cfg.ShutdownGrace))
		os.Exit(1)
	})
	defer forced.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := manager.Close(); err != nil {
		logger.Error("close lobby", "error", err)
	}

	if err := mon.Close(); err != nil {
		logger.Error("close monitor", "error", err)
	}
	logs.Close()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown HTTP server", "error", err)
	}

	if err := gameWS.Close(); err != nil {
		logger.Error("close websocket connections", "error", err)
	}

	if quicSrv != nil {
		if err := quicSrv.Close(); err != nil {
			logger.Error("shutdown QUIC server", "error", err)
		}
	}

	if err := eg.Wait(); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}

func newTLSConfig(cfg certConfig) (*tls.Config, *autocert.Manager) {
	if cfg.SelfSigned {
		tlsConf, ca, err := cert.SelfSigned(cfg.Domains)
		if err != nil {
			abort("create self signed cert", err)
		}

		if err := cert.WriteCACert(cfg.Dir, ca); err != nil {
			abort("write CA certificate", err)
		}

		return tlsConf, nil
	}

	mgr := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(cfg.Dir),
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
	}
	return mgr.TLSConfig(), mgr
}

func abort(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
