package transport

import (
	"net/http"
)

// ModifyHeadersOption is a function type used to modify HTTP headers in a request.
// It takes a function that sets a header key and value, allowing for flexible header modification.
type ModifyHeadersOption func(func(key string, value string))

type modifyHeadersRoundTripper struct {
	roundTripper http.RoundTripper
	options      []ModifyHeadersOption
}

// NewModifyHeadersRoundTripper will add headers to a request.
func NewModifyHeadersRoundTripper(rt http.RoundTripper, opts ...ModifyHeadersOption) http.RoundTripper {
	return &modifyHeadersRoundTripper{roundTripper: rt, options: opts}
}

func (rt *modifyHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for _, opt := range rt.options {
		opt(req.Header.Set)
	}
	return rt.roundTripper.RoundTrip(req)
}

// WithUserAgent is a functional option to set the HTTP client user agent.
func WithUserAgent(userAgent string) ModifyHeadersOption {
	return func(f func(key string, value string)) {
		f("User-Agent", userAgent)
	}
}

// WithAccept is a functional option to set the HTTP client accepted media type.
func WithAccept(accept string) ModifyHeadersOption {
	return func(f func(key string, value string)) {
		f("Accept", accept)
	}
}

// ResponseObserver is notified with every response that makes it back from the wrapped round tripper.
type ResponseObserver func(res *http.Response)

type observeResponseRoundTripper struct {
	roundTripper http.RoundTripper
	observers    []ResponseObserver
}

// NewObserveResponseRoundTripper will call every observer with each successful round trip response.
// Observers must not consume the response body.
func NewObserveResponseRoundTripper(rt http.RoundTripper, observers ...ResponseObserver) http.RoundTripper {
	return &observeResponseRoundTripper{roundTripper: rt, observers: observers}
}

func (rt *observeResponseRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := rt.roundTripper.RoundTrip(req)
	if err != nil || res == nil {
		return res, err
	}
	for _, observer := range rt.observers {
		observer(res)
	}
	return res, nil
}
