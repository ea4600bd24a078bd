package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of the covers service and the fetch driver, read from the environment.
type Config struct {
	// ServiceName identifies the service in telemetry and as the Loki service_name label.
	ServiceName string `env:"SERVICE_NAME" envDefault:"discogs-covers"`
	// ServiceVersion is reported in telemetry and in the Discogs User-Agent.
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"0.0.1"`
	// ServiceEnvironment is the deployment environment, "lcl" and "dk" also log to stdout.
	ServiceEnvironment string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	// OTLPExporterEndpoint is the gRPC OTLP collector. Telemetry export is disabled when empty.
	OTLPExporterEndpoint string `env:"OTLP_EXPORTER_ENDPOINT"`
	// LogLevel is the minimum level written by the stdout handler.
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// ServerListenAddr specifies the network address that the HTTP server will listen on.
	ServerListenAddr string `env:"SERVER_LISTEN_ADDR" envDefault:":3594"`

	// DiscogsAPIURL is the Discogs API base URL.
	DiscogsAPIURL string `env:"DISCOGS_API_URL" envDefault:"https://api.discogs.com"`
	// DiscogsTimeout bounds every single Discogs request.
	DiscogsTimeout time.Duration `env:"DISCOGS_TIMEOUT" envDefault:"10s"`
	// MaxImageSize is the largest image body, in bytes, that will be read.
	MaxImageSize int64 `env:"MAX_IMAGE_SIZE" envDefault:"5242880"`
	// MinCoverSize is the smallest accepted width and height, in pixels.
	MinCoverSize int `env:"MIN_COVER_SIZE" envDefault:"200"`
	// CoverCacheTTL is how long an accepted cover is kept in memory.
	CoverCacheTTL time.Duration `env:"COVER_CACHE_TTL" envDefault:"24h"`

	// LokiHost is the Loki base URL used for usage stats. Stats polling is disabled when empty.
	LokiHost string `env:"LOKI_HOST"`
	// StatsWebsocketChannel is the centrifuge channel stats are published to.
	StatsWebsocketChannel string `env:"STATS_WEBSOCKET_CHANNEL" envDefault:"stats"`
	// StatsPollingInterval is how often Loki is polled.
	StatsPollingInterval time.Duration `env:"STATS_POLLING_INTERVAL" envDefault:"1m"`
}

// Load parses the Config from the environment and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to env.ParseAs: %w", err)
	}

	u, err := url.Parse(cfg.DiscogsAPIURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DISCOGS_API_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid DISCOGS_API_URL: %q", cfg.DiscogsAPIURL)
	}
	cfg.DiscogsAPIURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	if cfg.MaxImageSize <= 0 {
		return nil, fmt.Errorf("invalid MAX_IMAGE_SIZE: %d", cfg.MaxImageSize)
	}
	if cfg.MinCoverSize < 0 {
		return nil, fmt.Errorf("invalid MIN_COVER_SIZE: %d", cfg.MinCoverSize)
	}

	return &cfg, nil
}
