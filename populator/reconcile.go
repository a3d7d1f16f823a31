package populator

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/screwyprof/restaker/pkg/clock"
)

// Reconciler merges normalized records into the store. Delegations and
// operators are replaced by key; rewards are merged additively.
type Reconciler struct {
	store Store
	clock clock.Clock
}

// NewReconciler creates a Reconciler writing to store
func NewReconciler(store Store, clk clock.Clock) *Reconciler {
	return &Reconciler{store: store, clock: clk}
}

// UpsertDelegation replaces the delegation of rec.UserAddress
func (r *Reconciler) UpsertDelegation(ctx context.Context, rec DelegationRecord) error {
	if rec.AmountRestaked.IsNegative() {
		return fmt.Errorf("%w: negative stake for %s", ErrMalformedRecord, rec.UserAddress)
	}
	rec.LastUpdated = r.clock.Now()
	return r.store.UpsertDelegation(ctx, rec)
}

// UpsertOperator replaces the operator of rec.OperatorAddress
func (r *Reconciler) UpsertOperator(ctx context.Context, rec OperatorRecord) error {
	if !ValidCommission(rec.Commission) {
		return fmt.Errorf("%w: commission %s out of range for %s", ErrMalformedRecord, rec.Commission, rec.OperatorAddress)
	}
	rec.LastUpdated = r.clock.Now()
	return r.store.UpsertOperator(ctx, rec)
}

// UpsertReward inserts rec or merges it into the persisted record of the same
// wallet. Merging is additive, so applying the same record twice doubles it.
func (r *Reconciler) UpsertReward(ctx context.Context, rec RewardRecord) (RewardRecord, error) {
	return r.store.UpdateReward(ctx, rec.WalletAddress, func(existing *RewardRecord) (RewardRecord, error) {
		now := r.clock.Now()

		var merged RewardRecord
		if existing == nil {
			merged = RewardRecord{WalletAddress: rec.WalletAddress}.Merge(rec, now)
		} else {
			merged = existing.Merge(rec, now)
		}
		merged.LastUpdated = now
		return merged, nil
	})
}

// RecomputeDelegatorCounts sets every operator's delegator count to the
// number of delegations targeting it. Only changed operators are written.
func (r *Reconciler) RecomputeDelegatorCounts(ctx context.Context) (int, error) {
	want, err := r.store.DelegationCounts(ctx)
	if err != nil {
		return 0, err
	}
	have, err := r.store.DelegatorCounts(ctx)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	updated := 0
	for _, operator := range slices.Sorted(maps.Keys(have)) {
		if have[operator] == want[operator] {
			continue
		}
		if err := r.store.SetDelegatorCount(ctx, operator, want[operator], now); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Stats aggregates the persisted records
func (r *Reconciler) Stats(ctx context.Context) (Stats, error) {
	return r.store.Stats(ctx)
}
