// Package rewardsapi looks up per-wallet rewards from the off-chain rewards
// service. Lookups never fail hard: a missing credential or a service that
// answers on none of its routes yields an absent result.
package rewardsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/screwyprof/restaker/pkg/metrics"
)

// Sentinel errors for rewards lookups
var (
	ErrConfigurationMissing = errors.New("rewards api key not configured")
	ErrUnexpectedStatus     = errors.New("unexpected status code")
	ErrDecodeFailed         = errors.New("decoding response failed")
)

// Default configuration values
const (
	DefaultPathPrefix = "/v1/eigenlayer"
	DefaultTimeout    = 10 * time.Second
	DefaultRPS        = 5.0
)

const source = "rewards"

// Item is one reward entry. Fields stay raw so that the normalizer decides
// which alias wins.
type Item map[string]json.RawMessage

// Payload is the rewards service response body. Elements stay undecoded so
// one malformed entry cannot discard the rest of the list.
type Payload struct {
	Rewards []json.RawMessage `json:"rewards"`
}

// NewPayload encodes items into a payload
func NewPayload(items ...Item) Payload {
	p := Payload{Rewards: make([]json.RawMessage, 0, len(items))}
	for _, it := range items {
		raw, err := json.Marshal(it)
		if err != nil {
			continue
		}
		p.Rewards = append(p.Rewards, raw)
	}
	return p
}

// Option configures the Client
type Option func(*Client)

// WithPathPrefix sets the route prefix shared by all candidate endpoints
func WithPathPrefix(prefix string) Option {
	return func(c *Client) { c.pathPrefix = "/" + strings.Trim(prefix, "/") }
}

// WithTimeout bounds each endpoint attempt
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client represents a rewards service client
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pathPrefix string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	warnOnce   sync.Once
}

// NewClient creates a rewards client. An empty apiKey disables all lookups.
func NewClient(httpClient *http.Client, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		pathPrefix: DefaultPathPrefix,
		timeout:    DefaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRPS), 1),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether lookups can reach the service at all.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// FetchRewards returns the rewards of address from the first candidate
// endpoint that answers. The boolean is false when no data is available.
func (c *Client) FetchRewards(ctx context.Context, address string) (Payload, bool) {
	if !c.Configured() {
		c.warnOnce.Do(func() {
			c.logger.WarnContext(ctx, "Rewards lookups disabled, using placeholder data",
				slog.Any("error", ErrConfigurationMissing),
			)
		})
		c.metrics.Upstream(source, metrics.OutcomeSkipped)
		return Payload{}, false
	}

	for _, endpoint := range c.endpoints(address) {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.Upstream(source, metrics.OutcomeAbsent)
			return Payload{}, false
		}

		payload, err := c.get(ctx, endpoint)
		if err != nil {
			c.metrics.Upstream(source, metrics.OutcomeError)
			c.logger.DebugContext(ctx, "Rewards endpoint failed",
				slog.String("endpoint", endpoint),
				slog.Any("error", err),
			)
			continue
		}

		c.metrics.Upstream(source, metrics.OutcomeOK)
		return payload, true
	}

	c.metrics.Upstream(source, metrics.OutcomeAbsent)
	return Payload{}, false
}

// endpoints lists the candidate routes in priority order
func (c *Client) endpoints(address string) []string {
	base := c.baseURL + c.pathPrefix
	query := url.Values{"delegator": {address}}
	return []string{
		base + "/rewards/delegator/" + url.PathEscape(address),
		base + "/rewards?" + query.Encode(),
	}
}

func (c *Client) get(ctx context.Context, endpoint string) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Payload{}, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Payload{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return payload, nil
}
