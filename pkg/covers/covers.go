/*
Package covers finds album covers on Discogs.

A fetch searches the master releases of an album, walks every image of every
master in the order Discogs returns them and hands each image to an acceptance
callback until one is accepted.
*/
package covers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ogero/discogs-covers/pkg/discogs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AcceptFunc receives the contents of a candidate image. Returning true accepts it and stops the fetch,
// returning false rejects it and moves on to the next candidate.
// image is only readable until AcceptFunc returns.
type AcceptFunc func(image io.Reader) bool

// ErrorFunc receives a human readable reason when a fetch cannot go on.
type ErrorFunc func(reason string)

// Fetcher streams album cover candidates from Discogs.
type Fetcher struct {
	discogs discogs.Discogs
	log     *slog.Logger
}

// NewFetcher creates a Fetcher backed by d. A nil log falls back to slog.Default.
func NewFetcher(d discogs.Discogs, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{discogs: d, log: log}
}

/*
FetchCover looks for covers of album by artist and feeds them to onAccept one by one.

Masters and images are visited in the order Discogs returns them. The fetch stops as soon as
onAccept returns true. Finding nothing, or having every candidate rejected, is not an error.

A failing search or a cancelled ctx aborts the fetch and is reported to onError.
A master or image that cannot be fetched is logged and skipped. onError may be nil.
*/
func (f *Fetcher) FetchCover(ctx context.Context, artist, album string, onAccept AcceptFunc, onError ErrorFunc) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "covers.Fetcher.FetchCover")
	defer span.End()
	span.SetAttributes(attribute.String("covers.artist", artist), attribute.String("covers.album", album))

	fail := func(reason string) {
		span.SetAttributes(attribute.String("covers.error", reason))
		if onError != nil {
			onError(reason)
		}
	}

	f.log.DebugContext(ctx, "Looking for a cover", "album", album, "artist", artist)

	results, err := f.discogs.Search(ctx, artist, album)
	if err != nil {
		span.RecordError(err)
		fail(fmt.Sprintf("failed to search Discogs for %q from %q: %v", album, artist, err))
		return
	}

	if len(results.Results) == 0 {
		f.log.InfoContext(ctx, "Can't find a cover", "album", album, "artist", artist)
		return
	}

	masters := results.Results
	for masterNb, master := range masters {
		f.log.DebugContext(ctx, "Opening master", "url", master.ResourceURL, "nb", masterNb+1, "of", len(masters))

		details, err := f.discogs.GetMaster(ctx, master.ResourceURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				fail(fmt.Sprintf("fetch interrupted: %v", ctxErr))
				return
			}
			span.RecordError(err)
			f.log.WarnContext(ctx, "Failed to discogs.Discogs.GetMaster, skipping", "url", master.ResourceURL, "err", err)
			continue
		}

		images := details.Images
		for imageNb, image := range images {
			f.log.DebugContext(ctx, "Downloading", "url", image.ResourceURL, "nb", imageNb+1, "of", len(images))

			accepted, err := f.offer(ctx, image, onAccept)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					fail(fmt.Sprintf("fetch interrupted: %v", ctxErr))
					return
				}
				span.RecordError(err)
				f.log.WarnContext(ctx, "Failed to discogs.Discogs.GetImage, skipping", "url", image.ResourceURL, "err", err)
				continue
			}

			if accepted {
				span.SetAttributes(attribute.Int("covers.master-id", details.ID), attribute.String("covers.image", image.ResourceURL))
				return
			}
		}
	}

	f.log.InfoContext(ctx, "No cover accepted", "album", album, "artist", artist, "masters", len(masters))
}

func (f *Fetcher) offer(ctx context.Context, image *discogs.Image, onAccept AcceptFunc) (bool, error) {
	body, err := f.discogs.GetImage(ctx, image.ResourceURL)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := body.Close(); err != nil && !errors.Is(err, context.Canceled) {
			f.log.DebugContext(ctx, "Failed to close image body", "url", image.ResourceURL, "err", err)
		}
	}()

	return onAccept(body), nil
}
