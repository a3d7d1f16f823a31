// Package ops serves the operational endpoints of the populator: liveness,
// the outcome of the last run and Prometheus metrics.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/screwyprof/restaker/pkg/httpkit"
	"github.com/screwyprof/restaker/populator"
)

// Routes
const (
	HealthRoute  = http.MethodGet + " " + "/healthz"
	StatusRoute  = http.MethodGet + " " + "/status"
	MetricsRoute = http.MethodGet + " " + "/metrics"
)

const pingTimeout = 2 * time.Second

// Sentinel errors
var (
	ErrDatabaseUnavailable = errors.New("database unavailable")
	ErrStatusUnavailable   = errors.New("failed to load last run")
)

// RunFinder returns the most recent population run
type RunFinder interface {
	LastRun(ctx context.Context) (populator.RunRecord, error)
}

// Pinger checks database reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	runs     RunFinder
	db       Pinger
	gatherer prometheus.Gatherer
}

func NewHandler(runs RunFinder, db Pinger, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		runs:     runs,
		db:       db,
		gatherer: gatherer,
	}
}

func (h *Handler) AddRoutes(m *http.ServeMux) {
	m.Handle(HealthRoute, httpkit.HandlerFunc(h.Health))
	m.Handle(StatusRoute, httpkit.HandlerFunc(h.Status))
	m.Handle(MetricsRoute, promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

// Health reports whether the database answers a ping
func (h *Handler) Health(_ http.ResponseWriter, r *http.Request) http.HandlerFunc {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return httpkit.JsonError(httpkit.NewError(http.StatusServiceUnavailable, fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)))
	}
	return httpkit.JSON(healthResponse{Status: "ok"})
}

// Status returns the last recorded run
func (h *Handler) Status(_ http.ResponseWriter, r *http.Request) http.HandlerFunc {
	run, err := h.runs.LastRun(r.Context())
	if errors.Is(err, populator.ErrNoRuns) {
		return httpkit.JsonError(httpkit.NewError(http.StatusNotFound, err))
	}
	if err != nil {
		return httpkit.JsonError(httpkit.NewError(http.StatusInternalServerError, fmt.Errorf("%w: %w", ErrStatusUnavailable, err)))
	}
	return httpkit.JSON(statusResponse{
		LastRun:   run,
		Succeeded: run.State == populator.StateDone,
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

type statusResponse struct {
	LastRun   populator.RunRecord `json:"lastRun"`
	Succeeded bool                `json:"succeeded"`
}
