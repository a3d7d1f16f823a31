// Package subgraph queries the restaking indexer over GraphQL.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/screwyprof/restaker/pkg/clock"
	"github.com/screwyprof/restaker/pkg/metrics"
	"github.com/screwyprof/restaker/pkg/retry"
)

// Sentinel errors for indexer requests
var (
	ErrUnexpectedStatus    = errors.New("unexpected status code")
	ErrGraphQL             = errors.New("graphql error")
	ErrDecodeFailed        = errors.New("decoding response failed")
	ErrUpstreamUnavailable = errors.New("indexer unavailable")
)

const source = "subgraph"

// Option configures the Client
type Option func(*Client)

// WithRetry sets the attempt budget and linear backoff unit for every query
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// WithClock injects a custom Clock used for backoff waits
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the logger for failed attempts
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client represents an indexer GraphQL client
type Client struct {
	httpClient  *http.Client
	url         string
	maxAttempts int
	baseDelay   time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewClient creates a new indexer client posting queries to url
func NewClient(httpClient *http.Client, url string, opts ...Option) *Client {
	c := &Client{
		httpClient:  httpClient,
		url:         url,
		maxAttempts: retry.DefaultMaxAttempts,
		baseDelay:   retry.DefaultBaseDelay,
		clock:       clock.SystemClock{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDelegations runs the delegations query for one page
func (c *Client) FetchDelegations(ctx context.Context, pageSize, offset int) (DelegationsPage, error) {
	return fetch[DelegationsPage](ctx, c, "fetchDelegations", delegationsQuery, pageSize, offset)
}

// FetchOperators runs the operators query for one page
func (c *Client) FetchOperators(ctx context.Context, pageSize, offset int) (OperatorsPage, error) {
	return fetch[OperatorsPage](ctx, c, "fetchOperators", operatorsQuery, pageSize, offset)
}

func fetch[T any](ctx context.Context, c *Client, operation, query string, pageSize, offset int) (T, error) {
	vars := map[string]int{"first": pageSize, "skip": offset}

	page, err := retry.Do(ctx, func(ctx context.Context) (T, error) {
		var out T
		err := c.post(ctx, query, vars, &out)
		if err != nil {
			c.metrics.Upstream(source, metrics.OutcomeError)
			return out, err
		}
		c.metrics.Upstream(source, metrics.OutcomeOK)
		return out, nil
	},
		retry.WithMaxAttempts(c.maxAttempts),
		retry.WithBaseDelay(c.baseDelay),
		retry.WithClock(c.clock),
		retry.WithLogger(c.logger),
		retry.WithOperation(operation),
	)
	if err != nil {
		return page, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return page, nil
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]int `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *Client) post(ctx context.Context, query string, vars map[string]int, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			messages[i] = e.Message
		}
		return fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(messages, "; "))
	}

	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrGraphQL)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return nil
}
