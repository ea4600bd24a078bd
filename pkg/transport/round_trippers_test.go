package transport_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/ogero/discogs-covers/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func TestModifyHeadersRoundTripper(t *testing.T) {
	mockRT := &mockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "TestAgent", req.Header.Get("User-Agent"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			return nil, nil
		},
	}

	rt := transport.NewModifyHeadersRoundTripper(mockRT,
		transport.WithUserAgent("TestAgent"),
		transport.WithAccept("application/json"))

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	_, _ = rt.RoundTrip(req)

	assert.Empty(t, req.Header.Get("User-Agent"), "original request must not be mutated")
}

func TestObserveResponseRoundTripper(t *testing.T) {

	t.Run("Observers see the response", func(t *testing.T) {
		mockRT := &mockRoundTripper{
			RoundTripFunc: func(req *http.Request) (*http.Response, error) {
				h := http.Header{}
				h.Set("X-Ratelimit-Remaining", "59")
				return &http.Response{StatusCode: http.StatusOK, Header: h}, nil
			},
		}

		var seen []string
		rt := transport.NewObserveResponseRoundTripper(mockRT,
			func(res *http.Response) { seen = append(seen, "first:"+res.Header.Get("X-Ratelimit-Remaining")) },
			func(res *http.Response) { seen = append(seen, "second:"+res.Header.Get("X-Ratelimit-Remaining")) },
		)

		req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
		require.NoError(t, err)

		res, err := rt.RoundTrip(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, []string{"first:59", "second:59"}, seen)
	})

	t.Run("Observers are skipped on transport errors", func(t *testing.T) {
		mockRT := &mockRoundTripper{
			RoundTripFunc: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
		}

		called := false
		rt := transport.NewObserveResponseRoundTripper(mockRT, func(res *http.Response) { called = true })

		req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
		require.NoError(t, err)

		_, err = rt.RoundTrip(req)
		assert.Error(t, err)
		assert.False(t, called)
	})
}
