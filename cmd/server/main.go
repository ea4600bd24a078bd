package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ogero/discogs-covers/internal"
	"github.com/ogero/discogs-covers/internal/cache"
	"github.com/ogero/discogs-covers/internal/common"
	"github.com/ogero/discogs-covers/internal/config"
	"github.com/ogero/discogs-covers/internal/loki"
	"github.com/ogero/discogs-covers/pkg/discogs"
	slogchi "github.com/samber/slog-chi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		common.Log.Error("Failed to config.Load", "err", err)
		os.Exit(1)
	}

	loggerShutdown, err := common.InitLogger(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OTLPExporterEndpoint, cfg.LogLevel)
	if err != nil {
		common.Log.Error("Failed to common.InitLogger", "err", err)
		os.Exit(1)
	}

	instrumentationShutdown, err := common.InitInstrumentation(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OTLPExporterEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitInstrumentation", "err", err)
		os.Exit(1)
	}

	if err := cache.Init(); err != nil {
		common.Log.Error("Failed to cache.Init", "err", err)
		os.Exit(1)
	}

	var lokiClient loki.Loki
	if cfg.LokiHost != "" {
		lokiClient = loki.NewLoki(cfg.LokiHost, cfg.ServiceName)
	}

	coverService, err := internal.NewCoverService(internal.CoverServiceOptions{
		StatsWebsocketChannel: cfg.StatsWebsocketChannel,
		MinCoverSize:          cfg.MinCoverSize,
		CoverCacheTTL:         cfg.CoverCacheTTL,
		DiscogsOptions: []discogs.Option{
			discogs.WithBaseURL(cfg.DiscogsAPIURL),
			discogs.WithVersion(cfg.ServiceVersion),
			discogs.WithTimeout(cfg.DiscogsTimeout),
			discogs.WithMaxImageSize(cfg.MaxImageSize),
		},
	}, lokiClient)
	if err != nil {
		common.Log.Error("Failed to internal.NewCoverService", "err", err)
		os.Exit(1)
	}

	pollingCtx, stopPolling := context.WithCancel(context.Background())
	go coverService.StartPollingStats(pollingCtx, cfg.StatsPollingInterval)

	app, err := internal.NewApp(coverService)
	if err != nil {
		common.Log.Error("Failed to internal.NewApp", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(slogchi.NewWithConfig(common.Log, slogchi.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithTraceID:      true,
		WithSpanID:       true,
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Requested-With",
			"Accept",
			"Accept-Language",
			"Accept-Encoding",
			"Content-Language",
			"Origin",
		},
		MaxAge: 300,
	}))
	app.Routes(r)

	// Listen
	srv := &http.Server{
		Addr: cfg.ServerListenAddr,
		Handler: otelhttp.NewHandler(r, "http.server",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
	}
	go func() {
		common.Log.Info("Listening", "addr", cfg.ServerListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Log.Error("Failed to http.Server.ListenAndServe", "err", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to http server shutdown", "err", err)
	}

	if err := coverService.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to internal.CoverService.Shutdown", "err", err)
	}

	if err := cache.Close(); err != nil {
		common.Log.Error("Failed to cache.Close", "err", err)
	}

	common.Log.Info("Bye!")
	instrumentationShutdown(ctx)
	_ = loggerShutdown(ctx)
}
