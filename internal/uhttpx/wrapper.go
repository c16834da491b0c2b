// Package uhttpx is a small HTTP client wrapper, in the shape of the
// upstream SDK's uhttp package: a *http.Client plus Do/NewRequest helpers
// that centralize status-code checking and header construction.
package uhttpx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type (
	// DoOption inspects a response once the request has completed; a
	// non-nil error is returned from Do alongside the response.
	DoOption func(*http.Response) error

	// RequestOption contributes headers to an outgoing request being built.
	RequestOption func() (map[string]string, error)

	// Client wraps a *http.Client with the Do/NewRequest conveniences used
	// throughout the config interceptor.
	Client struct {
		HTTPClient *http.Client
	}
)

func New(httpClient *http.Client) *Client {
	return &Client{HTTPClient: httpClient}
}

// WithHeader copies a single header value through if present.
func WithHeader(name, value string) RequestOption {
	return func() (map[string]string, error) {
		if value == "" {
			return nil, nil
		}
		return map[string]string{name: value}, nil
	}
}

func (c *Client) NewRequest(ctx context.Context, method string, u *url.URL, options ...RequestOption) (*http.Request, error) {
	headers := make(map[string]string)
	for _, opt := range options {
		h, err := opt()
		if err != nil {
			return nil, err
		}
		for k, v := range h {
			headers[k] = v
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Do issues req and runs each DoOption over the response in order. Do
// itself does not check the status code; pass RequireSuccess for that. When
// an option fails, the response is still returned with the error so callers
// that need to relay the body/status can do so.
func (c *Client) Do(req *http.Request, options ...DoOption) (*http.Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	for _, opt := range options {
		if err := opt(resp); err != nil {
			return resp, err
		}
	}

	return resp, nil
}

// RequireSuccess is a DoOption that turns a non-2xx response into an error.
func RequireSuccess() DoOption {
	return func(resp *http.Response) error {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("uhttpx: unexpected status code: %d", resp.StatusCode)
		}
		return nil
	}
}
