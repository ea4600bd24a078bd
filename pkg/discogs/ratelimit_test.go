package discogs_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/ogero/discogs-covers/pkg/discogs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		name          string
		header        http.Header
		wantRemaining *int
		wantLimit     *int
		wantUsed      *int
	}{
		{"both known", headers("x-ratelimit-remaining", "10", "x-ratelimit-limit", "100"), ptr(10), ptr(100), nil},
		{"discogs names", headers("X-Discogs-Ratelimit-Remaining", "55", "X-Discogs-Ratelimit", "60", "X-Discogs-Ratelimit-Used", "5"), ptr(55), ptr(60), ptr(5)},
		{"generic names win", headers("X-Ratelimit-Remaining", "1", "X-Discogs-Ratelimit-Remaining", "2"), ptr(1), nil, nil},
		{"empty", http.Header{}, nil, nil, nil},
		{"non numeric", headers("x-ratelimit-remaining", "many", "x-ratelimit-limit", " 25 "), nil, ptr(25), nil},
		{"non numeric falls back", headers("X-Ratelimit-Remaining", "n/a", "X-Discogs-Ratelimit-Remaining", "7"), ptr(7), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := discogs.ParseRateLimit(tt.header)
			assert.Equal(t, tt.wantRemaining, rl.Remaining)
			assert.Equal(t, tt.wantLimit, rl.Limit)
			assert.Equal(t, tt.wantUsed, rl.Used)
		})
	}
}

func TestRateLimit_UsedPercent(t *testing.T) {
	p, ok := discogs.RateLimit{Remaining: ptr(10), Limit: ptr(100)}.UsedPercent()
	require.True(t, ok)
	assert.InDelta(t, 90, p, 0.0001)

	p, ok = discogs.RateLimit{Remaining: ptr(45), Limit: ptr(60)}.UsedPercent()
	require.True(t, ok)
	assert.InDelta(t, 25, p, 0.0001)

	_, ok = discogs.RateLimit{Remaining: ptr(0), Limit: ptr(0)}.UsedPercent()
	assert.False(t, ok)

	_, ok = discogs.RateLimit{Limit: ptr(60)}.UsedPercent()
	assert.False(t, ok)
}

func TestLogRateLimit(t *testing.T) {
	tests := []struct {
		name         string
		header       http.Header
		wantLevel    string
		wantContains []string
	}{
		{
			name:         "nearly exhausted warns",
			header:       headers("x-ratelimit-remaining", "10", "x-ratelimit-limit", "100"),
			wantLevel:    "level=WARN",
			wantContains: []string{"You used 90% of your allowed images' fetching on Discogs", "24 hours"},
		},
		{
			name:         "plenty left",
			header:       headers("x-ratelimit-remaining", "99", "x-ratelimit-limit", "100"),
			wantLevel:    "level=DEBUG",
			wantContains: []string{"You used 1% of your allowed images' fetching on Discogs."},
		},
		{
			name:         "nothing known",
			header:       http.Header{},
			wantLevel:    "level=DEBUG",
			wantContains: []string{"You can still query (unknown) times Discogs for images (your max is (unknown) times)."},
		},
		{
			name:         "only remaining known",
			header:       headers("x-ratelimit-remaining", "0"),
			wantLevel:    "level=DEBUG",
			wantContains: []string{"You can still query 0 times Discogs for images (your max is (unknown) times)."},
		},
		{
			name:         "zero limit is unknown",
			header:       headers("x-ratelimit-remaining", "0", "x-ratelimit-limit", "0"),
			wantLevel:    "level=DEBUG",
			wantContains: []string{"You can still query 0 times Discogs for images (your max is 0 times)."},
		},
		{
			name:         "garbage degrades to unknown",
			header:       headers("x-ratelimit-remaining", "ten", "x-ratelimit-limit", "100"),
			wantLevel:    "level=DEBUG",
			wantContains: []string{"You can still query (unknown) times Discogs for images (your max is 100 times)."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			discogs.LogRateLimit(context.Background(), log, tt.header)

			out := buf.String()
			assert.Contains(t, out, tt.wantLevel)
			for _, s := range tt.wantContains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func ptr(i int) *int {
	return &i
}
