// Package fetch implements the outbound-HTTP capability exposed to
// sandboxed handlers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	parley "github.com/novandi/parley"
)

const maxBodyBytes = 1 << 20 // 1MB

// Client performs HTTP requests on behalf of sandboxed handler code.
// The handler never touches the network directly; every request funnels
// through here, so the host controls timeout and response size.
type Client struct {
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// New creates a Client with a 15-second timeout.
func New(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do performs one capability fetch. With req.Readable set, HTML responses
// are reduced to their readable text content.
func (c *Client) Do(ctx context.Context, req parley.FetchRequest) (parley.FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return parley.FetchResponse{}, fmt.Errorf("invalid request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ParleyBot/1.0)")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return parley.FetchResponse{}, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return parley.FetchResponse{}, fmt.Errorf("read error: %w", err)
	}

	content := string(data)
	if req.Readable && strings.Contains(resp.Header.Get("Content-Type"), "html") {
		if extracted := extractReadable(content, req.URL); extracted != "" {
			content = extracted
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return parley.FetchResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    content,
	}, nil
}

// extractReadable runs readability extraction, returning "" when the page
// yields no article text.
func extractReadable(html, rawURL string) string {
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}
