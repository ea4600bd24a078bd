package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ogero/discogs-covers/internal/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// App represents the main application structure that holds the cover service.
type App struct {
	CoverService CoverService
}

/*
NewApp creates a new instance of the App struct.

Parameters:
  - coverService: The service used to find covers.

Returns:
  - A pointer to the newly created App instance.
*/
func NewApp(coverService CoverService) (*App, error) {
	return &App{
		CoverService: coverService,
	}, nil
}

// Routes registers the App handlers on r.
func (a *App) Routes(r chi.Router) {
	r.Get("/covers/{artist}/{album}", a.CoverHandler)
	r.Get("/quota", a.QuotaHandler)
	r.Get("/connection/websocket", a.WebsocketHandler)
}

/*
CoverHandler serves the cover of an album.

This method validates the artist and album path parameters, finds the first acceptable cover
on Discogs and writes the image. It answers 404 when no cover was accepted and 502 when Discogs could not be searched.
*/
func (a *App) CoverHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "CoverHandler")

	artist, err := pathParam(r, "artist")
	if err == nil {
		err = common.ValidateArtist(artist)
	}
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateArtist", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.artist", artist))

	album, err := pathParam(r, "album")
	if err == nil {
		err = common.ValidateAlbum(album)
	}
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateAlbum", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.album", album))

	cover, err := a.CoverService.GetCover(ctx, artist, album)
	switch {
	case errors.Is(err, ErrCoverNotFound):
		common.Log.InfoContext(ctx, "No cover found", "artist", artist, "album", album)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		common.Log.InfoContext(ctx, "Cover search interrupted", "artist", artist, "album", album, "err", err)
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	case errors.Is(err, ErrSearchFailed):
		common.Log.ErrorContext(ctx, "Failed to CoverService.GetCover", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadGateway)
		return
	case err != nil:
		common.Log.ErrorContext(ctx, "Failed to CoverService.GetCover", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", cover.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(cover.Data)))
	w.Header().Set("CDN-Cache-Control", "public, max-age=1296000")
	w.Header().Set("Cache-Control", "public, max-age=1296000")

	_, err = w.Write(cover.Data)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
		return
	}
}

// QuotaHandler serves the last known Discogs rate limit state as JSON.
func (a *App) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "QuotaHandler")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	err := json.NewEncoder(w).Encode(a.CoverService.Quota())
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		span.RecordError(err)
		return
	}
}

// pathParam returns the decoded value of the key URL parameter.
// chi matches on r.URL.RawPath when it is set, leaving its params escaped.
func pathParam(r *http.Request, key string) (string, error) {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value, nil
	}
	return url.PathUnescape(value)
}

// WebsocketHandler handles WebSocket connections
func (a *App) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "WebsocketHandler")

	a.CoverService.ServeHTTP(w, r)
}
