// Package populatortest provides in-memory doubles for populator tests.
package populatortest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/screwyprof/restaker/pkg/units"
	"github.com/screwyprof/restaker/populator"
)

// Store is an in-memory populator.Store. Failures can be injected per
// operation through the Fail* fields.
type Store struct {
	mu          sync.Mutex
	delegations map[string]populator.DelegationRecord
	operators   map[string]populator.OperatorRecord
	rewards     map[string]populator.RewardRecord
	runs        []populator.RunRecord

	// SetCountCalls counts SetDelegatorCount writes
	SetCountCalls int

	FailDelegation func(populator.DelegationRecord) error
	FailReward     func(wallet string) error
	FailStats      error
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		delegations: make(map[string]populator.DelegationRecord),
		operators:   make(map[string]populator.OperatorRecord),
		rewards:     make(map[string]populator.RewardRecord),
	}
}

func (s *Store) UpsertDelegation(_ context.Context, d populator.DelegationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDelegation != nil {
		if err := s.FailDelegation(d); err != nil {
			return err
		}
	}
	s.delegations[d.UserAddress] = d
	return nil
}

// UpsertOperator keeps the stored delegator count of a known operator
func (s *Store) UpsertOperator(_ context.Context, o populator.OperatorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.SlashHistory = slices.Clone(o.SlashHistory)
	if existing, ok := s.operators[o.OperatorAddress]; ok {
		o.DelegatorCount = existing.DelegatorCount
	}
	s.operators[o.OperatorAddress] = o
	return nil
}

func (s *Store) UpdateReward(_ context.Context, wallet string, fn populator.RewardUpdate) (populator.RewardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailReward != nil {
		if err := s.FailReward(wallet); err != nil {
			return populator.RewardRecord{}, err
		}
	}

	var existing *populator.RewardRecord
	if rec, ok := s.rewards[wallet]; ok {
		clone := rec.Clone()
		existing = &clone
	}

	updated, err := fn(existing)
	if err != nil {
		return populator.RewardRecord{}, err
	}
	s.rewards[wallet] = updated.Clone()
	return updated, nil
}

func (s *Store) DelegationCounts(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, d := range s.delegations {
		counts[d.TargetOperatorAddress]++
	}
	return counts, nil
}

func (s *Store) DelegatorCounts(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.operators))
	for addr, o := range s.operators {
		counts[addr] = o.DelegatorCount
	}
	return counts, nil
}

func (s *Store) SetDelegatorCount(_ context.Context, operator string, count int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SetCountCalls++
	o := s.operators[operator]
	o.DelegatorCount = count
	o.LastUpdated = at
	s.operators[operator] = o
	return nil
}

func (s *Store) Stats(context.Context) (populator.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailStats != nil {
		return populator.Stats{}, s.FailStats
	}

	stats := populator.Stats{
		Delegations: len(s.delegations),
		Operators:   len(s.operators),
		Rewards:     len(s.rewards),
	}
	for _, d := range s.delegations {
		stats.TotalValueLocked = stats.TotalValueLocked.Add(d.AmountRestaked)
	}
	for _, o := range s.operators {
		switch o.Status {
		case populator.OperatorActive:
			stats.ActiveOperators++
		case populator.OperatorSlashed:
			stats.SlashedOperators++
		}
	}
	for _, r := range s.rewards {
		stats.TotalRewards = stats.TotalRewards.Add(r.TotalRewardsReceived)
	}
	return stats, nil
}

func (s *Store) SaveRun(_ context.Context, run populator.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) LastRun(context.Context) (populator.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.runs) == 0 {
		return populator.RunRecord{}, populator.ErrNoRuns
	}
	return s.runs[len(s.runs)-1], nil
}

// Delegations returns the stored delegations keyed by user
func (s *Store) Delegations() map[string]populator.DelegationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.delegations)
}

// Operators returns the stored operators keyed by address
func (s *Store) Operators() map[string]populator.OperatorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.operators)
}

// Rewards returns the stored reward records keyed by wallet
func (s *Store) Rewards() map[string]populator.RewardRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.rewards)
}

// Runs returns every recorded run in order
func (s *Store) Runs() []populator.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.runs)
}

// SeedOperator stores o as if persisted by an earlier run
func (s *Store) SeedOperator(o populator.OperatorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[o.OperatorAddress] = o
}

// SeedReward stores r as if persisted by an earlier run
func (s *Store) SeedReward(r populator.RewardRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards[r.WalletAddress] = r.Clone()
}

var _ populator.Store = (*Store)(nil)

// Amount parses s and panics on error
func Amount(s string) units.Amount {
	return units.MustParseAmount(s)
}
