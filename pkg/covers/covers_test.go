package covers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ogero/discogs-covers/pkg/covers"
	"github.com/ogero/discogs-covers/pkg/discogs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDiscogs serves a search with masters masters, each one having images images.
type fakeDiscogs struct {
	*httptest.Server

	t       *testing.T
	masters int
	images  int
	failing map[string]int

	mu         sync.Mutex
	requests   []string
	userAgents []string
}

func newFakeDiscogs(t *testing.T, masters, images int) *fakeDiscogs {
	f := &fakeDiscogs{t: t, masters: masters, images: images, failing: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDiscogs) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path)
	f.userAgents = append(f.userAgents, r.Header.Get("User-Agent"))
	f.mu.Unlock()

	if status, ok := f.failing[r.URL.Path]; ok {
		w.WriteHeader(status)
		return
	}

	switch {
	case r.URL.Path == "/database/search":
		results := make([]map[string]any, 0, f.masters)
		for m := 1; m <= f.masters; m++ {
			results = append(results, map[string]any{
				"id":           m,
				"resource_url": fmt.Sprintf("%s/masters/%d", f.URL, m),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	case strings.HasPrefix(r.URL.Path, "/masters/"):
		var m int
		_, _ = fmt.Sscanf(r.URL.Path, "/masters/%d", &m)
		images := make([]map[string]any, 0, f.images)
		for i := 1; i <= f.images; i++ {
			images = append(images, map[string]any{
				"type":         "secondary",
				"resource_url": fmt.Sprintf("%s/images/%d-%d.jpg", f.URL, m, i),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": m, "images": images})
	case strings.HasPrefix(r.URL.Path, "/images/"):
		_, _ = w.Write([]byte("image " + strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/images/"), ".jpg")))
	default:
		f.t.Errorf("unexpected request %s", r.URL)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDiscogs) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeDiscogs) fetcher() *covers.Fetcher {
	return covers.NewFetcher(discogs.NewDiscogs(discogs.WithBaseURL(f.URL), discogs.WithVersion("test")), nil)
}

// recorder collects what the fetcher hands to the callbacks.
type recorder struct {
	acceptAt int
	offered  []string
	errors   []string
}

func (r *recorder) onAccept(image io.Reader) bool {
	b, err := io.ReadAll(image)
	if err != nil {
		return false
	}
	r.offered = append(r.offered, string(b))
	return len(r.offered) == r.acceptAt
}

func (r *recorder) onError(reason string) {
	r.errors = append(r.errors, reason)
}

func TestFetchCover_NoResults(t *testing.T) {
	fake := newFakeDiscogs(t, 0, 0)
	rec := &recorder{}

	fake.fetcher().FetchCover(context.Background(), "Nobody", "Nothing", rec.onAccept, rec.onError)

	assert.Equal(t, []string{"/database/search"}, fake.Requests())
	assert.Empty(t, rec.offered)
	assert.Empty(t, rec.errors)
}

func TestFetchCover_AllRejected(t *testing.T) {
	fake := newFakeDiscogs(t, 2, 3)
	rec := &recorder{}

	fake.fetcher().FetchCover(context.Background(), "Metallica", "Master of Puppets", rec.onAccept, rec.onError)

	assert.Equal(t, []string{
		"/database/search",
		"/masters/1",
		"/images/1-1.jpg", "/images/1-2.jpg", "/images/1-3.jpg",
		"/masters/2",
		"/images/2-1.jpg", "/images/2-2.jpg", "/images/2-3.jpg",
	}, fake.Requests())
	assert.Len(t, fake.Requests(), 1+2+2*3)
	assert.Equal(t, []string{"image 1-1", "image 1-2", "image 1-3", "image 2-1", "image 2-2", "image 2-3"}, rec.offered)
	assert.Empty(t, rec.errors)
}

func TestFetchCover_StopsOnAccept(t *testing.T) {
	fake := newFakeDiscogs(t, 3, 2)
	rec := &recorder{acceptAt: 3}

	fake.fetcher().FetchCover(context.Background(), "Metallica", "...And Justice for All", rec.onAccept, rec.onError)

	assert.Equal(t, []string{
		"/database/search",
		"/masters/1",
		"/images/1-1.jpg", "/images/1-2.jpg",
		"/masters/2",
		"/images/2-1.jpg",
	}, fake.Requests())
	assert.Equal(t, "image 2-1", rec.offered[len(rec.offered)-1])
	assert.Empty(t, rec.errors)
}

func TestFetchCover_RideTheLightning(t *testing.T) {
	fake := newFakeDiscogs(t, 1, 2)
	rec := &recorder{acceptAt: 2}

	fake.fetcher().FetchCover(context.Background(), "Metallica", "Ride the lightning", rec.onAccept, rec.onError)

	require.Len(t, fake.Requests(), 4)
	assert.Equal(t, []string{"image 1-1", "image 1-2"}, rec.offered)
	assert.Empty(t, rec.errors)
	for _, ua := range fake.userAgents {
		assert.Equal(t, "DiscogsCovers/test +https://github.com/ogero/discogs-covers", ua)
	}
}

func TestFetchCover_SearchFailure(t *testing.T) {
	fake := newFakeDiscogs(t, 1, 1)
	fake.failing["/database/search"] = http.StatusInternalServerError
	rec := &recorder{acceptAt: 1}

	fake.fetcher().FetchCover(context.Background(), "Metallica", "Load", rec.onAccept, rec.onError)

	assert.Equal(t, []string{"/database/search"}, fake.Requests())
	assert.Empty(t, rec.offered)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "invalid status code: 500")
}

func TestFetchCover_SkipsFailingMasterAndImage(t *testing.T) {
	fake := newFakeDiscogs(t, 2, 2)
	fake.failing["/masters/1"] = http.StatusInternalServerError
	fake.failing["/images/2-1.jpg"] = http.StatusNotFound
	rec := &recorder{}

	fake.fetcher().FetchCover(context.Background(), "Metallica", "Reload", rec.onAccept, rec.onError)

	assert.Equal(t, []string{
		"/database/search",
		"/masters/1",
		"/masters/2",
		"/images/2-1.jpg", "/images/2-2.jpg",
	}, fake.Requests())
	assert.Equal(t, []string{"image 2-2"}, rec.offered)
	assert.Empty(t, rec.errors)
}

func TestFetchCover_Cancelled(t *testing.T) {
	fake := newFakeDiscogs(t, 1, 1)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake.fetcher().FetchCover(ctx, "Metallica", "St. Anger", rec.onAccept, rec.onError)

	assert.Empty(t, fake.Requests())
	assert.Empty(t, rec.offered)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "context canceled")
}

func TestFetchCover_NilErrorFunc(t *testing.T) {
	fake := newFakeDiscogs(t, 1, 1)
	fake.failing["/database/search"] = http.StatusBadGateway

	assert.NotPanics(t, func() {
		fake.fetcher().FetchCover(context.Background(), "Metallica", "Lulu", func(io.Reader) bool { return true }, nil)
	})
}
