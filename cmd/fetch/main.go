// Command fetch saves Discogs cover candidates of an album to temporary files and prints their paths.
//
//	fetch -artist Metallica -album "Ride the lightning" -max 5
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ogero/discogs-covers/internal/common"
	"github.com/ogero/discogs-covers/internal/config"
	"github.com/ogero/discogs-covers/pkg/covers"
	"github.com/ogero/discogs-covers/pkg/discogs"
)

func main() {
	artist := flag.String("artist", "Metallica", "artist name")
	album := flag.String("album", "Ride the lightning", "album title")
	maxImages := flag.Int("max", 50, "stop after saving this many images")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		common.Log.Error("Failed to config.Load", "err", err)
		os.Exit(1)
	}

	if _, err := common.InitLogger(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, "", slog.LevelDebug); err != nil {
		common.Log.Error("Failed to common.InitLogger", "err", err)
		os.Exit(1)
	}

	if err := common.ValidateArtist(*artist); err != nil {
		common.Log.Error("Failed to common.ValidateArtist", "err", err)
		os.Exit(2)
	}
	if err := common.ValidateAlbum(*album); err != nil {
		common.Log.Error("Failed to common.ValidateAlbum", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := discogs.NewDiscogs(
		discogs.WithBaseURL(cfg.DiscogsAPIURL),
		discogs.WithVersion(cfg.ServiceVersion),
		discogs.WithTimeout(cfg.DiscogsTimeout),
		discogs.WithMaxImageSize(cfg.MaxImageSize),
		discogs.WithResponseObserver(func(ctx context.Context, h http.Header) {
			discogs.LogRateLimit(ctx, common.Log, h)
		}),
	)

	saved := 0
	onAccept := func(image io.Reader) bool {
		path, err := save(image)
		if err != nil {
			common.Log.WarnContext(ctx, "Failed to save image", "err", err)
			return false
		}
		saved++
		fmt.Println(path)
		return saved >= *maxImages
	}

	failed := false
	onError := func(reason string) {
		failed = true
		fmt.Fprintln(os.Stderr, reason)
	}

	covers.NewFetcher(d, common.Log).FetchCover(ctx, *artist, *album, onAccept, onError)

	if failed {
		os.Exit(1)
	}
}

func save(image io.Reader) (string, error) {
	f, err := os.CreateTemp("", "cover-*")
	if err != nil {
		return "", fmt.Errorf("failed to os.CreateTemp: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, image); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to io.Copy: %w", err)
	}

	return f.Name(), nil
}
