package populator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/screwyprof/restaker/pkg/clock"
	"github.com/screwyprof/restaker/pkg/metrics"
	"github.com/screwyprof/restaker/pkg/rewardsapi"
	"github.com/screwyprof/restaker/pkg/subgraph"
)

// Placeholder reasons
const (
	reasonMock   = "mock"
	reasonAbsent = "absent"
)

// Option configures the Service
// ------------------------------------------------
type Option func(*Service)

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger; every line of a run carries its run_id
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPageSize sets the number of items requested per indexer page
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMaxPages bounds the number of pages fetched per indexer query
func WithMaxPages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// WithMockMode forces placeholder rewards for every wallet
func WithMockMode(enabled bool) Option {
	return func(s *Service) { s.mockMode = enabled }
}

// WithPlaceholderSeed seeds the placeholder reward generator
func WithPlaceholderSeed(seed uint64) Option {
	return func(s *Service) { s.seed = seed }
}

// WithStETHStrategy sets the strategy address accepted for staker deposits
func WithStETHStrategy(address string) Option {
	return func(s *Service) { s.stethStrategy = address }
}

// WithRunIDs replaces the run ID generator
func WithRunIDs(next func() string) Option {
	return func(s *Service) { s.newRunID = next }
}

// Service runs population runs: delegations, operators, rewards, then
// cross-entity statistics, strictly in that order.
// ---------------------------------------------------------------------
type Service struct {
	indexer       Indexer
	rewards       RewardSource
	store         Store
	reconciler    *Reconciler
	placeholder   *PlaceholderGenerator
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics.Metrics
	pageSize      int
	maxPages      int
	mockMode      bool
	seed          uint64
	stethStrategy string
	newRunID      func() string
}

// NewService constructs a Service with required dependencies and options.
// rewards may be nil, in which case every wallet gets placeholder rewards.
func NewService(indexer Indexer, rewards RewardSource, store Store, opts ...Option) *Service {
	s := &Service{
		indexer:  indexer,
		rewards:  rewards,
		store:    store,
		clock:    clock.SystemClock{},
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
		maxPages: DefaultMaxPages,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = NewReconciler(store, s.clock)
	s.placeholder = NewPlaceholderGenerator(s.seed, s.clock)
	return s
}

// Start launches one population run and returns the events channel and done channel.
//
// Shutdown pattern:
//  1. Cancel context to request shutdown: cancel()
//  2. The in-flight request or write completes, the run stops before the next item
//  3. Wait for complete shutdown: <-done
//
// Example:
//
//	events, done := service.Start(ctx)
//	closer := populator.NewSubscriber(events, ...)
//	<-done
//	closer()
//
// The events channel is closed after the final RunCompleted, RunFailed or
// RunInterrupted event.
func (s *Service) Start(ctx context.Context) (<-chan Event, <-chan struct{}) {
	events := make(chan Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(events)
		defer close(done)
		_, _ = s.execute(ctx, func(e Event) { events <- e })
	}()
	return events, done
}

// Run executes one population run synchronously. It returns ErrInterrupted
// when ctx is cancelled mid-run and an ErrStageFailed error when a source
// fails for good.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	return s.execute(ctx, func(Event) {})
}

type stageResult struct {
	written int
	skipped int
}

type stage struct {
	state State
	fn    func(ctx context.Context, r *run) (stageResult, error)
}

// run holds the state of a single population run
type run struct {
	id        string
	startedAt time.Time
	log       *slog.Logger
	emit      func(Event)
	metrics   *metrics.Metrics
	stage     State
	summary   Summary
	wallets   []string
	operators map[string]string
	norm      *Normalizer
}

func (s *Service) newRun(emit func(Event)) *run {
	id := s.newRunID()
	log := s.logger.With(slog.String("run_id", id))
	return &run{
		id:        id,
		startedAt: s.clock.Now(),
		log:       log,
		emit:      emit,
		metrics:   s.metrics,
		stage:     StateIdle,
		summary: Summary{
			RunID:   id,
			Written: make(map[Family]int),
			Skipped: make(map[Family]int),
		},
		operators: make(map[string]string),
		norm:      NewNormalizer(s.stethStrategy, s.clock, log),
	}
}

// execute orchestrates the stages, respecting context cancellation
// ----------------------------------------------------------------
func (s *Service) execute(ctx context.Context, emit func(Event)) (Summary, error) {
	r := s.newRun(emit)
	r.emit(RunStarted{RunID: r.id, StartedAt: r.startedAt})

	stages := []stage{
		{StateFetchingDelegations, s.populateDelegations},
		{StateFetchingOperators, s.populateOperators},
		{StateFetchingRewards, s.populateRewards},
		{StateReconcilingStats, s.reconcileStats},
	}

	for _, st := range stages {
		r.stage = st.state
		if ctx.Err() != nil {
			return s.finish(ctx, r, ErrInterrupted)
		}

		r.emit(StageStarted{RunID: r.id, Stage: st.state})
		began := s.clock.Now()

		res, err := st.fn(ctx, r)
		if err != nil {
			if !errors.Is(err, ErrInterrupted) {
				err = fmt.Errorf("%w: %s: %w", ErrStageFailed, st.state, err)
			}
			return s.finish(ctx, r, err)
		}

		r.emit(StageCompleted{
			RunID:    r.id,
			Stage:    st.state,
			Written:  res.written,
			Skipped:  res.skipped,
			Duration: s.clock.Now().Sub(began),
		})
	}

	return s.finish(ctx, r, nil)
}

// finish persists the run record and emits the final event
func (s *Service) finish(ctx context.Context, r *run, runErr error) (Summary, error) {
	finishedAt := s.clock.Now()
	r.summary.Duration = finishedAt.Sub(r.startedAt)

	record := RunRecord{
		RunID:      r.id,
		StartedAt:  r.startedAt,
		FinishedAt: finishedAt,
		Summary:    r.summary,
	}

	switch {
	case runErr == nil:
		record.State = StateDone
	case errors.Is(runErr, ErrInterrupted):
		record.State = StateInterrupted
		record.Error = runErr.Error()
	default:
		record.State = StateFailed
		record.Error = runErr.Error()
	}

	if err := s.store.SaveRun(context.WithoutCancel(ctx), record); err != nil {
		r.log.Warn("Failed to record population run", slog.Any("error", err))
	}
	s.metrics.RunFinished(string(record.State), r.summary.Duration, finishedAt, runErr == nil)

	switch record.State {
	case StateDone:
		r.emit(RunCompleted{RunID: r.id, Summary: r.summary})
	case StateInterrupted:
		r.emit(RunInterrupted{RunID: r.id, Stage: r.stage})
	default:
		r.emit(RunFailed{RunID: r.id, Stage: r.stage, Err: runErr})
	}

	return r.summary, runErr
}

// populateDelegations pages through delegation data and persists it
func (s *Service) populateDelegations(ctx context.Context, r *run) (stageResult, error) {
	ioCtx := context.WithoutCancel(ctx)

	var all subgraph.DelegationsPage
	for page := range s.maxPages {
		if ctx.Err() != nil {
			return stageResult{}, ErrInterrupted
		}
		p, err := s.indexer.FetchDelegations(ioCtx, s.pageSize, page*s.pageSize)
		if err != nil {
			return stageResult{}, err
		}
		all.Delegations = append(all.Delegations, p.Delegations...)
		all.Stakers = append(all.Stakers, p.Stakers...)
		if !p.HasMore(s.pageSize) {
			break
		}
	}

	records, skips := r.norm.NormalizeDelegations(all)
	res := stageResult{skipped: r.reportSkips(skips)}

	for _, rec := range records {
		if ctx.Err() != nil {
			return res, ErrInterrupted
		}
		r.seeWallet(rec.UserAddress, rec.TargetOperatorAddress)

		if err := s.reconciler.UpsertDelegation(ioCtx, rec); err != nil {
			r.writeFailed(FamilyDelegation, rec.UserAddress, err)
			res.skipped++
			continue
		}
		r.written(FamilyDelegation)
		res.written++
	}
	return res, nil
}

// populateOperators pages through operator data and persists it
func (s *Service) populateOperators(ctx context.Context, r *run) (stageResult, error) {
	ioCtx := context.WithoutCancel(ctx)

	var all subgraph.OperatorsPage
	for page := range s.maxPages {
		if ctx.Err() != nil {
			return stageResult{}, ErrInterrupted
		}
		p, err := s.indexer.FetchOperators(ioCtx, s.pageSize, page*s.pageSize)
		if err != nil {
			return stageResult{}, err
		}
		all.Operators = append(all.Operators, p.Operators...)
		all.Slashings = append(all.Slashings, p.Slashings...)
		if !p.HasMore(s.pageSize) {
			break
		}
	}

	records, skips := r.norm.NormalizeOperators(all)
	res := stageResult{skipped: r.reportSkips(skips)}

	for _, rec := range records {
		if ctx.Err() != nil {
			return res, ErrInterrupted
		}
		if err := s.reconciler.UpsertOperator(ioCtx, rec); err != nil {
			r.writeFailed(FamilyOperator, rec.OperatorAddress, err)
			res.skipped++
			continue
		}
		r.written(FamilyOperator)
		res.written++
	}
	return res, nil
}

// populateRewards looks up rewards for every wallet seen in this run, one at
// a time. Only positive totals are persisted.
func (s *Service) populateRewards(ctx context.Context, r *run) (stageResult, error) {
	ioCtx := context.WithoutCancel(ctx)
	res := stageResult{}
	r.summary.Wallets = len(r.wallets)

	for _, wallet := range r.wallets {
		if ctx.Err() != nil {
			return res, ErrInterrupted
		}

		payload := s.rewardPayload(ioCtx, r, wallet)
		rec, skips := r.norm.NormalizeRewards(wallet, payload)
		res.skipped += r.reportSkips(skips)

		if !rec.TotalRewardsReceived.IsPositive() {
			r.log.Debug("No rewards to persist", slog.String("wallet", wallet))
			continue
		}

		if _, err := s.reconciler.UpsertReward(ioCtx, rec); err != nil {
			r.writeFailed(FamilyReward, wallet, err)
			res.skipped++
			continue
		}
		r.written(FamilyReward)
		res.written++
	}
	return res, nil
}

func (s *Service) rewardPayload(ctx context.Context, r *run, wallet string) rewardsapi.Payload {
	reason := reasonMock
	if !s.mockMode && s.rewards != nil {
		if payload, ok := s.rewards.FetchRewards(ctx, wallet); ok {
			return payload
		}
		reason = reasonAbsent
	}

	r.summary.PlaceholderWallets++
	s.metrics.Fallback(reason)
	r.log.Debug("Using placeholder rewards",
		slog.String("wallet", wallet),
		slog.String("reason", reason),
	)
	return s.placeholder.Rewards(r.operators[wallet])
}

// reconcileStats recomputes delegator counts and collects run statistics
func (s *Service) reconcileStats(ctx context.Context, r *run) (stageResult, error) {
	ioCtx := context.WithoutCancel(ctx)

	updated, err := s.reconciler.RecomputeDelegatorCounts(ioCtx)
	if err != nil {
		return stageResult{}, err
	}
	r.summary.DelegatorCountsUpdated = updated

	stats, err := s.reconciler.Stats(ioCtx)
	if err != nil {
		return stageResult{}, err
	}
	r.summary.Stats = stats

	return stageResult{written: updated}, nil
}

func (r *run) seeWallet(wallet, operator string) {
	if _, ok := r.operators[wallet]; !ok {
		r.wallets = append(r.wallets, wallet)
	}
	r.operators[wallet] = operator
}

func (r *run) written(family Family) {
	r.summary.Written[family]++
	r.metrics.Upserted(string(family))
}

// reportSkips counts skips already logged by the normalizer
func (r *run) reportSkips(skips []Skip) int {
	for _, sk := range skips {
		r.skipped(sk.Family, sk.RecordID, sk.Err)
	}
	return len(skips)
}

func (r *run) writeFailed(family Family, id string, err error) {
	r.log.Warn("Failed to persist record",
		slog.String("family", string(family)),
		slog.String("recordID", id),
		slog.Any("error", err),
	)
	r.skipped(family, id, err)
}

func (r *run) skipped(family Family, id string, err error) {
	r.summary.Skipped[family]++
	r.metrics.Skipped(string(family))
	r.emit(RecordSkipped{RunID: r.id, Family: family, RecordID: id, Err: err})
}
