package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolhub/offlinesync/internal/store"
)

var ErrNetworkUnavailable = errors.New("network unavailable")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Request is the serializable identity of an intercepted request. Path
// includes the query string; Navigation marks top-level document requests.
type Request struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	Navigation bool        `json:"navigation,omitempty"`
}

func (r Request) IsGET() bool {
	return r.Method == "" || r.Method == http.MethodGet
}

// CacheKey is the request identity used for stored entries. Only GET
// requests participate in caching, so method is not part of the key.
func (r Request) CacheKey() string {
	return r.Path
}

// Fetcher executes a request against the upstream origin. A transport
// failure is an error (wrapping ErrNetworkUnavailable); an HTTP response of
// any status is a snapshot, and callers decide what a usable status is.
type Fetcher interface {
	Do(ctx context.Context, req Request) (*store.ResponseSnapshot, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("upstream base URL required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Do(ctx context.Context, req Request) (*store.ResponseSnapshot, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return &store.ResponseSnapshot{
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      payload,
		FetchedAt: time.Now().UTC(),
	}, nil
}
