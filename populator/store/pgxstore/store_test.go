//go:build integration

package pgxstore_test

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/restaker/migrator/migratortest"
	"github.com/screwyprof/restaker/pkg/subgraph"
	"github.com/screwyprof/restaker/pkg/units"
	"github.com/screwyprof/restaker/populator"
	"github.com/screwyprof/restaker/populator/populatortest"
	"github.com/screwyprof/restaker/populator/store/pgxstore"
)

const migrationsDir = "../../../migrator/migrations"

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestStoreDelegations(t *testing.T) {
	t.Parallel()

	t.Run("it replaces the delegation of the same user without losing precision", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		first := delegation(1, 1, "1.000000000000000001")
		second := delegation(1, 2, "32.5")

		// Act
		require.NoError(t, store.UpsertDelegation(t.Context(), first))
		require.NoError(t, store.UpsertDelegation(t.Context(), second))

		// Assert
		got, err := store.Delegation(t.Context(), wallet(1))
		require.NoError(t, err)
		assert.True(t, got.AmountRestaked.Equal(units.MustParseAmount("32.5")))
		assert.Equal(t, operatorAddr(2), got.TargetOperatorAddress)
		assert.Equal(t, second.DelegationTimestamp, got.DelegationTimestamp)

		require.NoError(t, store.UpsertDelegation(t.Context(), first))
		got, err = store.Delegation(t.Context(), wallet(1))
		require.NoError(t, err)
		assert.Equal(t, "1.000000000000000001", got.AmountRestaked.Decimal().String())
	})

	t.Run("it counts delegations per target operator", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		for w, op := range map[int]int{1: 1, 2: 1, 3: 2} {
			require.NoError(t, store.UpsertDelegation(t.Context(), delegation(w, op, "1")))
		}

		// Act
		counts, err := store.DelegationCounts(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, map[string]int{operatorAddr(1): 2, operatorAddr(2): 1}, counts)
	})
}

func TestStoreOperators(t *testing.T) {
	t.Parallel()

	t.Run("it round-trips slash history and metadata", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		op := operatorRecord(1)
		op.AppendSlash(populator.SlashEvent{Timestamp: epoch.Add(-time.Hour), AmountSlashed: units.MustParseAmount("0.5"), Reason: "double sign"})
		op.Metadata = populator.OperatorMetadata{URI: "https://operator.example/1"}
		op.Commission = decimal.RequireFromString("12.5")

		// Act
		require.NoError(t, store.UpsertOperator(t.Context(), op))

		// Assert
		got, err := store.Operator(t.Context(), operatorAddr(1))
		require.NoError(t, err)
		assert.Equal(t, populator.OperatorSlashed, got.Status)
		require.Len(t, got.SlashHistory, 1)
		assert.True(t, got.SlashHistory[0].AmountSlashed.Equal(units.MustParseAmount("0.5")))
		assert.Equal(t, "double sign", got.SlashHistory[0].Reason)
		assert.Equal(t, op.Metadata, got.Metadata)
		assert.True(t, got.Commission.Equal(op.Commission))
	})

	t.Run("it keeps the stored delegator count on upsert", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		require.NoError(t, store.UpsertOperator(t.Context(), operatorRecord(1)))
		require.NoError(t, store.SetDelegatorCount(t.Context(), operatorAddr(1), 7, epoch))

		// Act
		require.NoError(t, store.UpsertOperator(t.Context(), operatorRecord(1)))

		// Assert
		counts, err := store.DelegatorCounts(t.Context())
		require.NoError(t, err)
		assert.Equal(t, map[string]int{operatorAddr(1): 7}, counts)
	})
}

func TestStoreRewards(t *testing.T) {
	t.Parallel()

	t.Run("it merges reward records additively", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		reconciler := populator.NewReconciler(store, populatortest.NewClock(epoch))

		// Act
		_, err := reconciler.UpsertReward(t.Context(), reward(1, "10", 2))
		require.NoError(t, err)
		_, err = reconciler.UpsertReward(t.Context(), reward(1, "5", 1))
		require.NoError(t, err)

		// Assert
		got, err := store.Reward(t.Context(), wallet(1))
		require.NoError(t, err)
		assert.True(t, got.TotalRewardsReceived.Equal(units.MustParseAmount("15")))
		assert.Equal(t, 3, got.TotalRewardEvents)
		assert.True(t, got.AverageRewardAmount.Equal(units.MustParseAmount("5")))
		assert.Len(t, got.RewardsBreakdown[operatorAddr(1)].Timestamps, 3)
	})

	t.Run("it serializes concurrent updates of the same wallet", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		reconciler := populator.NewReconciler(store, populatortest.NewClock(epoch))
		const writers = 8

		// Act
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := reconciler.UpsertReward(t.Context(), reward(1, "1", 1))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		// Assert
		for err := range errs {
			require.NoError(t, err)
		}
		got, err := store.Reward(t.Context(), wallet(1))
		require.NoError(t, err)
		assert.True(t, got.TotalRewardsReceived.Equal(units.MustParseAmount(fmt.Sprint(writers))))
		assert.Equal(t, writers, got.TotalRewardEvents)
	})

	t.Run("it leaves the record untouched when the update is rejected", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		reconciler := populator.NewReconciler(store, populatortest.NewClock(epoch))
		_, err := reconciler.UpsertReward(t.Context(), reward(1, "10", 2))
		require.NoError(t, err)

		// Act
		_, err = store.UpdateReward(t.Context(), wallet(1), func(*populator.RewardRecord) (populator.RewardRecord, error) {
			return populator.RewardRecord{}, assert.AnError
		})

		// Assert
		require.ErrorIs(t, err, pgxstore.ErrUpdateRejected)
		got, err := store.Reward(t.Context(), wallet(1))
		require.NoError(t, err)
		assert.True(t, got.TotalRewardsReceived.Equal(units.MustParseAmount("10")))
	})
}

func TestStoreStats(t *testing.T) {
	t.Parallel()

	t.Run("it aggregates persisted records", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		reconciler := populator.NewReconciler(store, populatortest.NewClock(epoch))
		require.NoError(t, store.UpsertDelegation(t.Context(), delegation(1, 1, "1.5")))
		require.NoError(t, store.UpsertDelegation(t.Context(), delegation(2, 1, "2.25")))
		require.NoError(t, store.UpsertOperator(t.Context(), operatorRecord(1)))
		slashed := operatorRecord(2)
		slashed.AppendSlash(populator.SlashEvent{Timestamp: epoch, AmountSlashed: units.MustParseAmount("1")})
		require.NoError(t, store.UpsertOperator(t.Context(), slashed))
		_, err := reconciler.UpsertReward(t.Context(), reward(1, "0.75", 1))
		require.NoError(t, err)

		// Act
		stats, err := store.Stats(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Delegations)
		assert.Equal(t, 2, stats.Operators)
		assert.Equal(t, 1, stats.Rewards)
		assert.Equal(t, 1, stats.ActiveOperators)
		assert.Equal(t, 1, stats.SlashedOperators)
		assert.True(t, stats.TotalValueLocked.Equal(units.MustParseAmount("3.75")))
		assert.True(t, stats.TotalRewards.Equal(units.MustParseAmount("0.75")))
	})

	t.Run("it reports zero totals for an empty database", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)

		// Act
		stats, err := store.Stats(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Zero(t, stats.Delegations)
		assert.True(t, stats.TotalValueLocked.IsZero())
		assert.True(t, stats.TotalRewards.IsZero())
	})
}

func TestStoreRuns(t *testing.T) {
	t.Parallel()

	t.Run("it returns ErrNoRuns before the first run", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)

		// Act
		_, err := store.LastRun(t.Context())

		// Assert
		require.ErrorIs(t, err, populator.ErrNoRuns)
	})

	t.Run("it returns the most recent run", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		older := runRecord(epoch, populator.StateFailed)
		older.Error = "stage failed"
		newer := runRecord(epoch.Add(time.Hour), populator.StateDone)
		newer.Summary.Written = map[populator.Family]int{populator.FamilyDelegation: 3}

		// Act
		require.NoError(t, store.SaveRun(t.Context(), newer))
		require.NoError(t, store.SaveRun(t.Context(), older))

		// Assert
		got, err := store.LastRun(t.Context())
		require.NoError(t, err)
		assert.Equal(t, newer.RunID, got.RunID)
		assert.Equal(t, populator.StateDone, got.State)
		assert.Equal(t, 3, got.Summary.Written[populator.FamilyDelegation])
		assert.Equal(t, newer.FinishedAt, got.FinishedAt)
	})
}

func TestServiceWithPostgres(t *testing.T) {
	t.Parallel()

	t.Run("it populates the database and stays consistent across runs", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store := newStore(t)
		clock := populatortest.NewClock(epoch)
		indexer := &populatortest.Indexer{
			DelegationPages: []subgraph.DelegationsPage{{
				Delegations: []subgraph.DelegationEvent{
					delegationEvent(1, 1), delegationEvent(2, 1), delegationEvent(3, 2),
				},
			}},
			OperatorPages: []subgraph.OperatorsPage{{
				Operators: []subgraph.Operator{operatorEvent(1), operatorEvent(2)},
			}},
		}
		svc := populator.NewService(indexer, nil, store,
			populator.WithClock(clock),
			populator.WithMockMode(true),
			populator.WithPlaceholderSeed(7),
			populator.WithLogger(slog.New(slog.DiscardHandler)),
		)

		// Act
		first, err := svc.Run(t.Context())
		require.NoError(t, err)
		clock.Advance(time.Hour)
		_, err = svc.Run(t.Context())
		require.NoError(t, err)

		// Assert
		assert.Equal(t, 3, first.Stats.Delegations)
		assert.Equal(t, 2, first.Stats.Operators)
		counts, err := store.DelegatorCounts(t.Context())
		require.NoError(t, err)
		assert.Equal(t, map[string]int{operatorAddr(1): 2, operatorAddr(2): 1}, counts)

		last, err := store.LastRun(t.Context())
		require.NoError(t, err)
		assert.Equal(t, populator.StateDone, last.State)
		assert.Equal(t, 0, last.Summary.DelegatorCountsUpdated)
	})
}

func newStore(t *testing.T) *pgxstore.Store {
	t.Helper()

	pool := migratortest.CreateTestDatabase(t, migrationsDir)
	store, _ := pgxstore.New(pool)
	return store
}

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", 0xc000+n)
}

func operatorAddr(n int) string {
	return fmt.Sprintf("0x%040x", 0xa000+n)
}

func delegation(w, op int, amount string) populator.DelegationRecord {
	return populator.DelegationRecord{
		UserAddress:           wallet(w),
		AmountRestaked:        units.MustParseAmount(amount),
		TargetOperatorAddress: operatorAddr(op),
		DelegationTimestamp:   epoch.Add(time.Duration(w+op) * time.Minute),
		TransactionHash:       fmt.Sprintf("0x%064x", w),
		BlockNumber:           int64(19_000_000 + w),
		Status:                populator.DelegationActive,
		LastUpdated:           epoch,
	}
}

func operatorRecord(op int) populator.OperatorRecord {
	return populator.OperatorRecord{
		OperatorAddress:       operatorAddr(op),
		TotalDelegatedStake:   units.MustParseAmount("100"),
		Status:                populator.OperatorActive,
		RegistrationTimestamp: epoch.Add(-30 * 24 * time.Hour),
		LastActivityTimestamp: epoch.Add(-30 * 24 * time.Hour),
		LastUpdated:           epoch,
	}
}

// reward builds a record of events rewards summing to total, one day apart
func reward(w int, total string, events int) populator.RewardRecord {
	each := units.MustParseAmount(total).DivInt(int64(events))
	var rec populator.RewardRecord
	rec.WalletAddress = wallet(w)
	for i := range events {
		rec.AddBreakdown(populator.RewardBreakdown{
			OperatorAddress:   operatorAddr(1),
			AmountReceived:    each,
			Timestamps:        []time.Time{epoch.Add(-time.Duration(i+1) * 24 * time.Hour)},
			TransactionHashes: []string{""},
			BlockNumbers:      []int64{0},
		})
	}
	rec.Recompute(epoch)
	return rec
}

func delegationEvent(w, op int) subgraph.DelegationEvent {
	return subgraph.DelegationEvent{
		ID:              fmt.Sprintf("delegation-%d", w),
		Delegator:       subgraph.Ref{ID: wallet(w)},
		Operator:        subgraph.OperatorRef{ID: operatorAddr(op)},
		Shares:          "1000000000000000000",
		CreatedAt:       strconv.FormatInt(epoch.Add(-time.Duration(w)*time.Hour).Unix(), 10),
		TransactionHash: fmt.Sprintf("0x%064x", w),
		BlockNumber:     strconv.Itoa(19_000_000 + w),
	}
}

func operatorEvent(op int) subgraph.Operator {
	return subgraph.Operator{
		ID:              operatorAddr(op),
		DelegatedShares: "2000000000000000000",
		TotalShares:     "2000000000000000000",
		CreatedAt:       strconv.FormatInt(epoch.Add(-30*24*time.Hour).Unix(), 10),
		BlockNumber:     "18000000",
		TransactionHash: fmt.Sprintf("0x%064x", 1000+op),
	}
}

func runRecord(startedAt time.Time, state populator.State) populator.RunRecord {
	return populator.RunRecord{
		RunID:      uuid.NewString(),
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Minute),
		State:      state,
		Summary:    populator.Summary{Written: map[populator.Family]int{}, Skipped: map[populator.Family]int{}},
	}
}
