package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ogero/discogs-covers/pkg/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the public Discogs API host.
	DefaultBaseURL = "https://api.discogs.com"
	// DefaultMaxImageSize caps every downloaded image body.
	DefaultMaxImageSize = 5 * 1024 * 1024

	mediaType  = "application/vnd.discogs.v2.discogs+json"
	homepage   = "https://github.com/ogero/discogs-covers"
	searchPath = "/database/search"
)

// ErrImageTooBig is returned while reading an image body that goes past the configured size.
var ErrImageTooBig = errors.New("image is too big")

// SearchResults holds the master releases matching a search, in relevance order.
type SearchResults struct {
	Results []*SearchResult
}

// SearchResult is a reference to a master release.
type SearchResult struct {
	ID          int
	Title       string
	ResourceURL string
}

// Master is a master release: the canonical grouping of an album's editions.
type Master struct {
	ID     int
	Title  string
	Year   int
	Images []*Image
}

// Image is a reference to an image of a master release.
type Image struct {
	Type        string
	ResourceURL string
	URI         string
	Width       int
	Height      int
}

// Discogs defines the methods to interact with the Discogs database API.
type Discogs interface {
	// Search finds the master releases of album by artist. Only the first results page is returned.
	Search(ctx context.Context, artist, album string) (*SearchResults, error)
	// GetMaster fetches a master release by the resource URL returned from Search.
	GetMaster(ctx context.Context, resourceURL string) (*Master, error)
	// GetImage opens the image at resourceURL. The caller must close the returned body.
	GetImage(ctx context.Context, resourceURL string) (io.ReadCloser, error)
}

type options struct {
	baseURL      string
	version      string
	timeout      time.Duration
	maxImageSize int64
	observers    []transport.ResponseObserver
}

// Option customizes the client returned by NewDiscogs.
type Option func(*options)

// WithBaseURL overrides the API host, mostly useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

// WithVersion sets the application version advertised in the User-Agent.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// WithTimeout sets the timeout of every single request.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithMaxImageSize caps the bytes that can be read from a single image.
func WithMaxImageSize(size int64) Option {
	return func(o *options) { o.maxImageSize = size }
}

// WithResponseObserver registers a function called with the headers of every API response.
func WithResponseObserver(observer func(ctx context.Context, h http.Header)) Option {
	return func(o *options) {
		o.observers = append(o.observers, func(res *http.Response) {
			ctx := context.Background()
			if res.Request != nil {
				ctx = res.Request.Context()
			}
			observer(ctx, res.Header)
		})
	}
}

// UserAgent builds the User-Agent header identifying this application to Discogs.
func UserAgent(version string) string {
	return fmt.Sprintf("DiscogsCovers/%s +%s", version, homepage)
}

// NewDiscogs creates a new instance of the Discogs service.
func NewDiscogs(opts ...Option) Discogs {
	o := &options{
		baseURL:      DefaultBaseURL,
		version:      "dev",
		timeout:      10 * time.Second,
		maxImageSize: DefaultMaxImageSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 100
	t.MaxIdleConnsPerHost = 100

	var rt http.RoundTripper = transport.NewModifyHeadersRoundTripper(t,
		transport.WithUserAgent(UserAgent(o.version)),
		transport.WithAccept(mediaType),
	)
	rt = transport.NewObserveResponseRoundTripper(rt, o.observers...)
	rt = otelhttp.NewTransport(rt)

	return &discogs{
		httpClient: &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		},
		baseURL:      o.baseURL,
		maxImageSize: o.maxImageSize,
	}
}

type discogs struct {
	httpClient   *http.Client
	baseURL      string
	maxImageSize int64
}

// Search finds the master releases of album by artist.
func (d *discogs) Search(ctx context.Context, artist, album string) (*SearchResults, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "discogs.Discogs.Search")
	defer span.End()

	query := url.Values{}
	query.Set("type", "master")
	query.Set("artist", artist)
	query.Set("release_title", album)

	searchResponse := struct {
		Results []struct {
			ID          int    `json:"id"`
			Title       string `json:"title"`
			ResourceURL string `json:"resource_url"`
		} `json:"results"`
	}{}

	err := d.getJSON(ctx, d.baseURL+searchPath+"?"+query.Encode(), &searchResponse)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if searchResponse.Results == nil {
		err = fmt.Errorf("missing results in search response")
		span.RecordError(err)
		return nil, err
	}

	results := &SearchResults{
		Results: make([]*SearchResult, 0, len(searchResponse.Results)),
	}
	for _, r := range searchResponse.Results {
		results.Results = append(results.Results, &SearchResult{
			ID:          r.ID,
			Title:       r.Title,
			ResourceURL: r.ResourceURL,
		})
	}
	span.SetAttributes(attribute.Int("discogs.results-count", len(results.Results)))

	return results, nil
}

// GetMaster fetches a master release by its resource URL.
func (d *discogs) GetMaster(ctx context.Context, resourceURL string) (*Master, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "discogs.Discogs.GetMaster")
	defer span.End()
	span.SetAttributes(attribute.String("discogs.resource-url", resourceURL))

	if resourceURL == "" {
		return nil, fmt.Errorf("missing master resource_url")
	}

	masterResponse := struct {
		ID     int    `json:"id"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
		Images []struct {
			Type        string `json:"type"`
			ResourceURL string `json:"resource_url"`
			URI         string `json:"uri"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
		} `json:"images"`
	}{}

	err := d.getJSON(ctx, resourceURL, &masterResponse)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if masterResponse.Images == nil {
		err = fmt.Errorf("missing images in master %d", masterResponse.ID)
		span.RecordError(err)
		return nil, err
	}

	master := &Master{
		ID:     masterResponse.ID,
		Title:  masterResponse.Title,
		Year:   masterResponse.Year,
		Images: make([]*Image, 0, len(masterResponse.Images)),
	}
	for _, i := range masterResponse.Images {
		master.Images = append(master.Images, &Image{
			Type:        i.Type,
			ResourceURL: i.ResourceURL,
			URI:         i.URI,
			Width:       i.Width,
			Height:      i.Height,
		})
	}
	span.SetAttributes(attribute.Int("discogs.images-count", len(master.Images)))

	return master, nil
}

// GetImage opens the image at resourceURL. Reading past the configured size fails with ErrImageTooBig.
func (d *discogs) GetImage(ctx context.Context, resourceURL string) (io.ReadCloser, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "discogs.Discogs.GetImage")
	defer span.End()
	span.SetAttributes(attribute.String("discogs.resource-url", resourceURL))

	if resourceURL == "" {
		return nil, fmt.Errorf("missing image resource_url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	res, err := d.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to http.Client.Do: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		err = fmt.Errorf("invalid status code: %d", res.StatusCode)
		span.RecordError(err)
		return nil, err
	}

	return &limitedReadCloser{
		Reader: LimitReader(res.Body, d.maxImageSize, ErrImageTooBig),
		Closer: res.Body,
	}, nil
}

func (d *discogs) getJSON(ctx context.Context, rawURL string, v any) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	res, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("invalid status code: %d", res.StatusCode)
	}

	err = json.NewDecoder(res.Body).Decode(v)
	if err != nil {
		return fmt.Errorf("failed to json.NewDecoder.Decode: %w", err)
	}

	return nil
}
