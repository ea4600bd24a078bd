package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/ogero/discogs-covers/internal/cache"
	"github.com/ogero/discogs-covers/internal/common"
	"github.com/ogero/discogs-covers/internal/loki"
	"github.com/ogero/discogs-covers/pkg/covers"
	"github.com/ogero/discogs-covers/pkg/discogs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	_ "golang.org/x/image/webp"
)

var (
	// ErrCoverNotFound is returned when no Discogs image was accepted as a cover.
	ErrCoverNotFound = errors.New("cover not found")
	// ErrSearchFailed is returned when Discogs could not be searched at all.
	ErrSearchFailed = errors.New("discogs search failed")
)

// Cover is an accepted album cover.
type Cover struct {
	// Data is the raw image.
	Data []byte
	// ContentType is the sniffed media type of Data.
	ContentType string
	// Width of the image in pixels.
	Width int
	// Height of the image in pixels.
	Height int
}

// Quota is the last known Discogs rate limit state.
type Quota struct {
	Remaining   *int     `json:"remaining"`
	Limit       *int     `json:"limit"`
	Used        *int     `json:"used"`
	UsedPercent *float64 `json:"usedPercent"`
}

// Stats represents statistical data broadcast to websocket clients.
type Stats struct {
	// SearchesCount24 represents the number of cover searches performed in the last 24 hours.
	SearchesCount24 int `json:"searchesCount24"`
	// CoversCount24 represents the number of covers accepted within the last 24 hours.
	CoversCount24 int `json:"coversCount24"`
	// TitleInstant holds the last searched "artist - album".
	TitleInstant string `json:"titleInstant"`
	// Quota is the last known Discogs rate limit state.
	Quota Quota `json:"quota"`
}

// CoverServiceOptions configures NewCoverService.
type CoverServiceOptions struct {
	// StatsWebsocketChannel is the channel Stats are published to.
	StatsWebsocketChannel string
	// MinCoverSize is the smallest accepted width and height, in pixels.
	MinCoverSize int
	// CoverCacheTTL is how long accepted covers are memoized.
	CoverCacheTTL time.Duration
	// DiscogsOptions are passed to discogs.NewDiscogs.
	DiscogsOptions []discogs.Option
}

// CoverService finds album covers and keeps track of the Discogs quota.
type CoverService interface {
	// Handler handles incoming HTTP requests via a websocket handler
	http.Handler
	// GetCover returns the first acceptable cover of album by artist.
	GetCover(ctx context.Context, artist, album string) (*Cover, error)
	// Quota returns the last known Discogs rate limit state.
	Quota() Quota
	// BroadcastStats updates and publishes statistical data to a websocket channel.
	// Accepts a function to modify stats and returns an error if updating or publishing fails.
	BroadcastStats(statsUpdater func(stats *Stats) error) error
	// StartPollingStats fetches and broadcasts usage stats every interval until ctx is done.
	StartPollingStats(ctx context.Context, interval time.Duration)
	// Shutdown stops the websocket node.
	Shutdown(ctx context.Context) error
}

type coverService struct {
	statsWebsocketChannel string
	minCoverSize          int
	coverCacheTTL         time.Duration
	fetcher               *covers.Fetcher
	loki                  loki.Loki

	node             *centrifuge.Node
	websocketHandler *centrifuge.WebsocketHandler
	statsMutex       *sync.Mutex
	stats            Stats
}

// NewCoverService creates a CoverService with its own Discogs client. lokiClient may be nil.
func NewCoverService(opts CoverServiceOptions, lokiClient loki.Loki) (CoverService, error) {
	svc := &coverService{
		statsWebsocketChannel: opts.StatsWebsocketChannel,
		minCoverSize:          opts.MinCoverSize,
		coverCacheTTL:         opts.CoverCacheTTL,
		loki:                  lokiClient,

		statsMutex: &sync.Mutex{},
	}

	discogsOptions := append([]discogs.Option{discogs.WithResponseObserver(svc.observeRateLimit)}, opts.DiscogsOptions...)
	svc.fetcher = covers.NewFetcher(discogs.NewDiscogs(discogsOptions...), common.Log)

	node, err := centrifuge.New(centrifuge.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to centrifuge.New: %w", err)
	}
	svc.node = node

	node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return centrifuge.ConnectReply{}, nil
	})

	node.OnConnect(func(client *centrifuge.Client) {
		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			if e.Channel != svc.statsWebsocketChannel {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			cb(centrifuge.SubscribeReply{
				Options: centrifuge.SubscribeOptions{},
			}, nil)

			go func() {
				err := svc.BroadcastStats(func(data *Stats) error { return nil })
				if err != nil {
					common.Log.Warn("Failed to internal.CoverService.BroadcastStats", "err", err)
				}
			}()
		})
	})

	if err := node.Run(); err != nil {
		return nil, fmt.Errorf("failed to centrifuge.Node.Run: %w", err)
	}

	svc.websocketHandler = centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		ReadBufferSize:     1024,
		UseWriteBufferPool: true,
	})

	return svc, nil
}

// GetCover returns the first acceptable cover of album by artist.
// Accepted covers are memoized, misses and failures are not.
func (s *coverService) GetCover(ctx context.Context, artist, album string) (*Cover, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.CoverService.GetCover")
	defer span.End()

	artist = common.NormalizeQuery(artist)
	album = common.NormalizeQuery(album)
	span.SetAttributes(attribute.String("cover.artist", artist), attribute.String("cover.album", album))

	go func() {
		err := s.BroadcastStats(func(data *Stats) error {
			data.TitleInstant = artist + " - " + album
			return nil
		})
		if err != nil {
			common.Log.WarnContext(ctx, "Failed to internal.CoverService.BroadcastStats", "err", err)
		}
	}()

	cacheResult := "hit"
	cover, err := cache.Memoize[Cover](common.CoverCacheKey(artist, album), s.coverCacheTTL, func() (*Cover, error) {

		cacheResult = "miss"

		var (
			cover  *Cover
			reason string
		)
		s.fetcher.FetchCover(ctx, artist, album, s.acceptCover(ctx, &cover), func(r string) {
			reason = r
		})
		if reason != "" {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrSearchFailed, reason)
		}
		if cover == nil {
			return nil, ErrCoverNotFound
		}

		common.Log.InfoContext(ctx, "Accepted cover", "artist", artist, "album", album,
			"type", cover.ContentType, "width", cover.Width, "height", cover.Height, "size", len(cover.Data))
		common.CoversAcceptedTotal.Add(ctx, 1)

		return cover, nil
	})
	span.SetAttributes(attribute.String("cache.discogs.cover.result", cacheResult))
	common.CacheGetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key.prefix", "discogs.cover"),
		attribute.String("result", cacheResult),
	))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return cover, nil
}

// acceptCover accepts the first decodable image whose sides are at least minCoverSize, storing it in dst.
func (s *coverService) acceptCover(ctx context.Context, dst **Cover) covers.AcceptFunc {
	return func(r io.Reader) bool {
		data, err := io.ReadAll(r)
		if err != nil {
			common.Log.WarnContext(ctx, "Rejected cover, failed to io.ReadAll", "err", err)
			return false
		}

		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			common.Log.DebugContext(ctx, "Rejected cover, failed to image.DecodeConfig", "err", err)
			return false
		}

		if cfg.Width < s.minCoverSize || cfg.Height < s.minCoverSize {
			common.Log.DebugContext(ctx, "Rejected cover, too small", "format", format, "width", cfg.Width, "height", cfg.Height)
			return false
		}

		*dst = &Cover{
			Data:        data,
			ContentType: http.DetectContentType(data),
			Width:       cfg.Width,
			Height:      cfg.Height,
		}
		return true
	}
}

// observeRateLimit logs and records the quota reported by every Discogs response.
func (s *coverService) observeRateLimit(ctx context.Context, h http.Header) {
	discogs.LogRateLimit(ctx, common.Log, h)

	rl := discogs.ParseRateLimit(h)
	if rl.Remaining == nil && rl.Limit == nil {
		return
	}

	if rl.Remaining != nil {
		common.DiscogsRateLimitRemaining.Record(ctx, int64(*rl.Remaining))
	}

	err := s.BroadcastStats(func(stats *Stats) error {
		stats.Quota = Quota{
			Remaining: rl.Remaining,
			Limit:     rl.Limit,
			Used:      rl.Used,
		}
		if p, ok := rl.UsedPercent(); ok {
			stats.Quota.UsedPercent = &p
		}
		return nil
	})
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to internal.CoverService.BroadcastStats", "err", err)
	}
}

// Quota returns the last known Discogs rate limit state.
func (s *coverService) Quota() Quota {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	return s.stats.Quota
}

// BroadcastStats updates and publishes statistical data to a websocket channel.
// Accepts a function to modify stats and returns an error if updating or publishing fails.
func (s *coverService) BroadcastStats(statsUpdater func(stats *Stats) error) error {
	stats, err := func() (Stats, error) {
		s.statsMutex.Lock()
		defer s.statsMutex.Unlock()
		err := statsUpdater(&s.stats)
		if err != nil {
			return Stats{}, err
		}
		return s.stats, nil
	}()
	if err != nil {
		return fmt.Errorf("failed to statsUpdater: %w", err)
	}

	b, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}

	_, err = s.node.Publish(s.statsWebsocketChannel, b)
	if err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Publish: %w", err)
	}

	return nil
}

// StartPollingStats fetches and broadcasts usage stats every interval until ctx is done.
func (s *coverService) StartPollingStats(ctx context.Context, interval time.Duration) {
	if s.loki == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		searches, err := s.loki.GetSearches24(ctx)
		if err != nil {
			common.Log.Error("failed to get loki.Loki.GetSearches24", "err", err)
		}
		coversCount, err := s.loki.GetCovers24(ctx)
		if err != nil {
			common.Log.Error("failed to get loki.Loki.GetCovers24", "err", err)
		}
		err = s.BroadcastStats(func(stats *Stats) error {
			if searches != 0 {
				stats.SearchesCount24 = searches
			}
			if coversCount != 0 {
				stats.CoversCount24 = coversCount
			}
			return nil
		})
		if err != nil {
			common.Log.Warn("failed to internal.CoverService.BroadcastStats", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ServeHTTP handles incoming HTTP requests via a websocket handler
func (s *coverService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	newCtx := centrifuge.SetCredentials(ctx, &centrifuge.Credentials{})
	r = r.WithContext(newCtx)

	s.websocketHandler.ServeHTTP(w, r)
}

// Shutdown stops the websocket node.
func (s *coverService) Shutdown(ctx context.Context) error {
	return s.node.Shutdown(ctx)
}
