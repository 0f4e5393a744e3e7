package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	quoteBodyLimit   = 4 << 20
	catalogBodyLimit = 32 << 20
)

const userAgent = "Mozilla/5.0 (compatible; CryptoPriceBot/1.0; +https://github.com/Armin-kho/crypto-price-bot)"

//go:generate mockgen -package=sources_test -destination=mock_http_client_test.go -source=http.go HTTPClient

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type clientConfig struct {
	baseURL string
	client  HTTPClient
	header  http.Header
	now     func() time.Time
}

type Option func(*clientConfig)

// WithBaseURL overrides the provider API root. An empty u keeps the default.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) {
		if u = strings.TrimRight(u, "/"); u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(client HTTPClient) Option {
	return func(c *clientConfig) { c.client = client }
}

// WithHeader adds a header to every upstream request.
func WithHeader(key, value string) Option {
	return func(c *clientConfig) { c.header.Set(key, value) }
}

func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) { c.now = now }
}

func newClientConfig(baseURL string, opts []Option) clientConfig {
	c := clientConfig{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
		header:  http.Header{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// statusError keeps the upstream status and body snippet for adapters that branch on them.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string { return fmt.Sprintf("http %d: %s", e.Code, e.Body) }

// httpGet performs one upstream call and maps every failure onto a ProviderError.
// At most limit bytes of the body are read.
func httpGet(ctx context.Context, c clientConfig, p Provider, urlStr string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, newError(p, MalformedResponse, "build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p, Kind: Unreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{Provider: p, Kind: statusKind(resp.StatusCode), Err: &statusError{Code: resp.StatusCode, Body: snippet(b)}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &ProviderError{Provider: p, Kind: Unreachable, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, newError(p, MalformedResponse, "empty body")
	}
	return body, nil
}

func statusKind(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusTeapot:
		// Binance answers 418 once an IP ban is in place.
		return RateLimited
	case code >= 500:
		return Unreachable
	default:
		return MalformedResponse
	}
}

func decodeJSON(p Provider, body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return newError(p, MalformedResponse, "decode: %w (%s)", err, snippet(body))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// toDecimal accepts the loose number encodings upstream APIs use.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" || s == "-" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func unixTime(v any) (time.Time, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
