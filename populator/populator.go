// Package populator drives population runs: it pulls restaking data from the
// indexer and the rewards service, normalizes it and reconciles it into the
// store.
package populator

import (
	"context"
	"errors"
	"time"

	"github.com/screwyprof/restaker/pkg/rewardsapi"
	"github.com/screwyprof/restaker/pkg/subgraph"
	"github.com/screwyprof/restaker/pkg/units"
)

// Sentinel errors for failure cases
var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrStageFailed     = errors.New("stage failed")
	ErrInterrupted     = errors.New("run interrupted")
	ErrNoRuns          = errors.New("no population run recorded")
)

// Default configuration values
const (
	DefaultPageSize = 1000
	DefaultMaxPages = 5
)

// State is a stage of a population run
type State string

const (
	StateIdle                State = "idle"
	StateFetchingDelegations State = "fetching_delegations"
	StateFetchingOperators   State = "fetching_operators"
	StateFetchingRewards     State = "fetching_rewards"
	StateReconcilingStats    State = "reconciling_stats"
	StateDone                State = "done"
	StateFailed              State = "failed"
	StateInterrupted         State = "interrupted"
)

// Family names an entity family
type Family string

const (
	FamilyDelegation Family = "delegation"
	FamilyOperator   Family = "operator"
	FamilyReward     Family = "reward"
)

// Indexer fetches paged raw data from the indexing service
// ---------------------------------------------------------
type Indexer interface {
	FetchDelegations(ctx context.Context, pageSize, offset int) (subgraph.DelegationsPage, error)
	FetchOperators(ctx context.Context, pageSize, offset int) (subgraph.OperatorsPage, error)
}

// RewardSource looks up rewards of one wallet; false means no data available
type RewardSource interface {
	FetchRewards(ctx context.Context, address string) (rewardsapi.Payload, bool)
}

// RewardUpdate receives the persisted record (nil when absent) and returns
// the record to store.
type RewardUpdate func(existing *RewardRecord) (RewardRecord, error)

// Store provides persistence for canonical records
// ------------------------------------------------
type Store interface {
	// UpsertDelegation replaces the delegation of the same user
	UpsertDelegation(ctx context.Context, d DelegationRecord) error
	// UpsertOperator replaces the operator of the same address but keeps its
	// stored delegator count
	UpsertOperator(ctx context.Context, o OperatorRecord) error
	// UpdateReward applies fn to the reward record of wallet atomically
	UpdateReward(ctx context.Context, wallet string, fn RewardUpdate) (RewardRecord, error)
	// DelegationCounts counts delegations per target operator
	DelegationCounts(ctx context.Context) (map[string]int, error)
	// DelegatorCounts returns the stored delegator count of every operator
	DelegatorCounts(ctx context.Context) (map[string]int, error)
	// SetDelegatorCount overwrites the delegator count of one operator
	SetDelegatorCount(ctx context.Context, operator string, count int, at time.Time) error
	// Stats aggregates the persisted records
	Stats(ctx context.Context) (Stats, error)
	// SaveRun records the outcome of a population run
	SaveRun(ctx context.Context, run RunRecord) error
	// LastRun returns the most recent run or ErrNoRuns
	LastRun(ctx context.Context) (RunRecord, error)
}

// Stats aggregates persisted state
type Stats struct {
	Delegations      int          `json:"delegations"`
	Operators        int          `json:"operators"`
	Rewards          int          `json:"rewards"`
	ActiveOperators  int          `json:"activeOperators"`
	SlashedOperators int          `json:"slashedOperators"`
	TotalValueLocked units.Amount `json:"totalValueLocked"`
	TotalRewards     units.Amount `json:"totalRewards"`
}

// Summary describes a finished population run
type Summary struct {
	RunID                  string         `json:"runId"`
	Stats                  Stats          `json:"stats"`
	Written                map[Family]int `json:"written"`
	Skipped                map[Family]int `json:"skipped"`
	Wallets                int            `json:"wallets"`
	PlaceholderWallets     int            `json:"placeholderWallets"`
	DelegatorCountsUpdated int            `json:"delegatorCountsUpdated"`
	Duration               time.Duration  `json:"duration"`
}

// RunRecord is the persisted outcome of a population run
type RunRecord struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	State      State     `json:"state"`
	Summary    Summary   `json:"summary"`
	Error      string    `json:"error,omitempty"`
}

// Event represents a run lifecycle event
// --------------------------------------
type Event any

type RunStarted struct {
	RunID     string
	StartedAt time.Time
}

type StageStarted struct {
	RunID string
	Stage State
}

type StageCompleted struct {
	RunID    string
	Stage    State
	Written  int
	Skipped  int
	Duration time.Duration
}

type RecordSkipped struct {
	RunID    string
	Family   Family
	RecordID string
	Err      error
}

type RunCompleted struct {
	RunID   string
	Summary Summary
}

type RunFailed struct {
	RunID string
	Stage State
	Err   error
}

type RunInterrupted struct {
	RunID string
	Stage State
}
