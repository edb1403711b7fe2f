// Package rest is a client of the dpservice HTTP API.
//
// Errors from the server are returned as *ResponseError.
// They unwrap to domain sentinels, so errors.Is works across the wire:
//
//	_, err := c.Submit(ctx, d)
//	if errors.Is(err, domain.ErrDuplicateJob) {
//		...
//	}
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cmcf/autoprocess/pkg/utils"
)

type Client struct {
	httpclient *http.Client
	api        string
}

type Option func(*Client) *Client

// WithHTTPClient replaces the http.Client used by the Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) *Client {
		c.httpclient = hc
		return c
	}
}

// NewClient creates a Client of dpservice at server.
//
// # Args
//
// - server: base URL of dpservice, like "http://dpservice.example.com:8080".
// API paths are under server + "/api".
//
// # Returns
//
// - *Client
//
// - error: when server is not an absolute URL.
func NewClient(server string, options ...Option) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("server url is broken: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("server url should be absolute: %s", server)
	}

	c := &Client{
		httpclient: new(http.Client),
		api:        strings.TrimSuffix(server, "/") + "/api",
	}
	for _, opt := range options {
		c = opt(c)
	}
	return c, nil
}

// build URL with path
func (c *Client) apipath(path ...string) string {
	path = utils.Map(path, func(p string) string {
		return url.PathEscape(strings.Trim(p, "/"))
	})
	return strings.Join(append([]string{c.api}, path...), "/")
}

type requestOption func(*http.Request)

func bearer(token string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func query(key string, value string) requestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		q.Set(key, value)
		r.URL.RawQuery = q.Encode()
	}
}

// do sends a request with body encoded as JSON. A nil body sends no payload.
func (c *Client) do(ctx context.Context, method string, url string, body any, options ...requestOption) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range options {
		opt(req)
	}

	return c.httpclient.Do(req)
}

// call sends a request and decodes the response into a new T.
func call[T any](ctx context.Context, c *Client, method string, url string, body any, options ...requestOption) (T, error) {
	var ret T
	resp, err := c.do(ctx, method, url, body, options...)
	if err != nil {
		return ret, err
	}
	defer resp.Body.Close()

	if err := unmarshalJsonResponse(resp, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}
