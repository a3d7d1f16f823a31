package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screwyprof/restaker/pkg/units"
	"github.com/screwyprof/restaker/populator"
	"github.com/screwyprof/restaker/populator/store/dbrow"
)

// Sentinel errors for store operations
var (
	ErrTransactionFailed = errors.New("transaction failed")
	ErrUpsertFailed      = errors.New("upsert operation failed")
	ErrQueryFailed       = errors.New("query failed")
	ErrUpdateRejected    = errors.New("update rejected")
)

// SQL statements
const (
	upsertDelegationSQL = `
		INSERT INTO delegations (
			user_address, amount_restaked, target_operator_address, delegation_timestamp,
			transaction_hash, block_number, status, last_updated
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_address) DO UPDATE SET
			amount_restaked = EXCLUDED.amount_restaked,
			target_operator_address = EXCLUDED.target_operator_address,
			delegation_timestamp = EXCLUDED.delegation_timestamp,
			transaction_hash = EXCLUDED.transaction_hash,
			block_number = EXCLUDED.block_number,
			status = EXCLUDED.status,
			last_updated = EXCLUDED.last_updated`

	// delegator_count is derived from delegations and only written by SetDelegatorCount
	upsertOperatorSQL = `
		INSERT INTO operators (
			operator_address, operator_name, total_delegated_stake, slash_history, status,
			registration_timestamp, last_activity_timestamp, delegator_count, commission,
			metadata, last_updated
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
		ON CONFLICT (operator_address) DO UPDATE SET
			operator_name = EXCLUDED.operator_name,
			total_delegated_stake = EXCLUDED.total_delegated_stake,
			slash_history = EXCLUDED.slash_history,
			status = EXCLUDED.status,
			registration_timestamp = EXCLUDED.registration_timestamp,
			last_activity_timestamp = EXCLUDED.last_activity_timestamp,
			commission = EXCLUDED.commission,
			metadata = EXCLUDED.metadata,
			last_updated = EXCLUDED.last_updated`

	lockRewardSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

	selectRewardSQL = `
		SELECT
			wallet_address,
			total_rewards_received::text AS total_rewards_received,
			rewards_breakdown,
			first_reward_timestamp,
			last_reward_timestamp,
			total_reward_events,
			average_reward_amount::text AS average_reward_amount,
			daily_average::text AS daily_average,
			weekly_average::text AS weekly_average,
			monthly_average::text AS monthly_average,
			last_updated
		FROM rewards
		WHERE wallet_address = $1`

	upsertRewardSQL = `
		INSERT INTO rewards (
			wallet_address, total_rewards_received, rewards_breakdown, first_reward_timestamp,
			last_reward_timestamp, total_reward_events, average_reward_amount, daily_average,
			weekly_average, monthly_average, last_updated
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11)
		ON CONFLICT (wallet_address) DO UPDATE SET
			total_rewards_received = EXCLUDED.total_rewards_received,
			rewards_breakdown = EXCLUDED.rewards_breakdown,
			first_reward_timestamp = EXCLUDED.first_reward_timestamp,
			last_reward_timestamp = EXCLUDED.last_reward_timestamp,
			total_reward_events = EXCLUDED.total_reward_events,
			average_reward_amount = EXCLUDED.average_reward_amount,
			daily_average = EXCLUDED.daily_average,
			weekly_average = EXCLUDED.weekly_average,
			monthly_average = EXCLUDED.monthly_average,
			last_updated = EXCLUDED.last_updated`

	delegationCountsSQL = `
		SELECT target_operator_address, COUNT(*)::int
		FROM delegations
		GROUP BY target_operator_address`

	delegatorCountsSQL = `SELECT operator_address, delegator_count FROM operators`

	setDelegatorCountSQL = `
		UPDATE operators
		SET delegator_count = $2, last_updated = $3
		WHERE operator_address = $1`

	statsSQL = `
		SELECT
			(SELECT COUNT(*)::int FROM delegations),
			(SELECT COUNT(*)::int FROM operators),
			(SELECT COUNT(*)::int FROM rewards),
			(SELECT COUNT(*)::int FROM operators WHERE status = 'active'),
			(SELECT COUNT(*)::int FROM operators WHERE status = 'slashed'),
			(SELECT COALESCE(SUM(amount_restaked), 0)::text FROM delegations),
			(SELECT COALESCE(SUM(total_rewards_received), 0)::text FROM rewards)`

	saveRunSQL = `
		INSERT INTO population_runs (run_id, started_at, finished_at, state, summary, error)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			state = EXCLUDED.state,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error`

	lastRunSQL = `
		SELECT run_id::text AS run_id, started_at, finished_at, state, summary, error
		FROM population_runs
		ORDER BY started_at DESC
		LIMIT 1`

	selectDelegationSQL = `
		SELECT
			user_address,
			amount_restaked::text AS amount_restaked,
			target_operator_address,
			delegation_timestamp,
			transaction_hash,
			block_number,
			status,
			last_updated
		FROM delegations
		WHERE user_address = $1`

	selectOperatorSQL = `
		SELECT
			operator_address,
			operator_name,
			total_delegated_stake::text AS total_delegated_stake,
			slash_history,
			status,
			registration_timestamp,
			last_activity_timestamp,
			delegator_count,
			commission::text AS commission,
			metadata,
			last_updated
		FROM operators
		WHERE operator_address = $1`
)

// Store implements populator.Store interface using pgx
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store with an existing connection pool
// Returns the store and a closer function
func New(pool *pgxpool.Pool) (*Store, func()) {
	store := &Store{pool: pool}
	closer := func() {
		pool.Close()
	}
	return store, closer
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertDelegation replaces the delegation of the same user
func (s *Store) UpsertDelegation(ctx context.Context, d populator.DelegationRecord) error {
	row := dbrow.FromDelegation(d)
	_, err := s.pool.Exec(ctx, upsertDelegationSQL,
		row.UserAddress,
		row.AmountRestaked,
		row.TargetOperatorAddress,
		row.DelegationTimestamp,
		row.TransactionHash,
		row.BlockNumber,
		row.Status,
		row.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("%w: delegation %s: %w", ErrUpsertFailed, d.UserAddress, err)
	}
	return nil
}

// UpsertOperator replaces the operator of the same address, keeping the
// stored delegator count
func (s *Store) UpsertOperator(ctx context.Context, o populator.OperatorRecord) error {
	row, err := dbrow.FromOperator(o)
	if err != nil {
		return fmt.Errorf("%w: operator %s: %w", ErrUpsertFailed, o.OperatorAddress, err)
	}

	_, err = s.pool.Exec(ctx, upsertOperatorSQL,
		row.OperatorAddress,
		row.OperatorName,
		row.TotalDelegatedStake,
		row.SlashHistory,
		row.Status,
		row.RegistrationTimestamp,
		row.LastActivityTimestamp,
		row.DelegatorCount,
		row.Commission,
		row.Metadata,
		row.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("%w: operator %s: %w", ErrUpsertFailed, o.OperatorAddress, err)
	}
	return nil
}

// UpdateReward reads the reward ledger of wallet under a row lock, applies fn
// and writes the result back in the same transaction. Concurrent updates of
// the same wallet are serialized by an advisory lock so that first inserts
// cannot race either.
func (s *Store) UpdateReward(ctx context.Context, wallet string, fn populator.RewardUpdate) (populator.RewardRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // No-op if commit succeeds

	if _, err := tx.Exec(ctx, lockRewardSQL, wallet); err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	existing, err := s.lockedReward(ctx, tx, wallet)
	if err != nil {
		return populator.RewardRecord{}, err
	}

	updated, err := fn(existing)
	if err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: %w", ErrUpdateRejected, err)
	}

	row, err := dbrow.FromReward(updated)
	if err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: reward %s: %w", ErrUpsertFailed, wallet, err)
	}
	_, err = tx.Exec(ctx, upsertRewardSQL,
		row.WalletAddress,
		row.TotalRewardsReceived,
		row.RewardsBreakdown,
		row.FirstRewardTimestamp,
		row.LastRewardTimestamp,
		row.TotalRewardEvents,
		row.AverageRewardAmount,
		row.DailyAverage,
		row.WeeklyAverage,
		row.MonthlyAverage,
		row.LastUpdated,
	)
	if err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: reward %s: %w", ErrUpsertFailed, wallet, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return updated, nil
}

func (s *Store) lockedReward(ctx context.Context, tx pgx.Tx, wallet string) (*populator.RewardRecord, error) {
	rows, err := tx.Query(ctx, selectRewardSQL+" FOR UPDATE", wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: reward %s: %w", ErrQueryFailed, wallet, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[dbrow.Reward])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reward %s: %w", ErrQueryFailed, wallet, err)
	}

	rec, err := row.Record()
	if err != nil {
		return nil, fmt.Errorf("%w: reward %s: %w", ErrQueryFailed, wallet, err)
	}
	return &rec, nil
}

type countRow struct {
	Key   string
	Count int
}

// DelegationCounts counts delegations per target operator
func (s *Store) DelegationCounts(ctx context.Context) (map[string]int, error) {
	return s.counts(ctx, delegationCountsSQL)
}

// DelegatorCounts returns the stored delegator count of every operator
func (s *Store) DelegatorCounts(ctx context.Context) (map[string]int, error) {
	return s.counts(ctx, delegatorCountsSQL)
}

func (s *Store) counts(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[countRow])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	counts := make(map[string]int, len(collected))
	for _, c := range collected {
		counts[c.Key] = c.Count
	}
	return counts, nil
}

// SetDelegatorCount overwrites the delegator count of one operator
func (s *Store) SetDelegatorCount(ctx context.Context, operator string, count int, at time.Time) error {
	_, err := s.pool.Exec(ctx, setDelegatorCountSQL, operator, count, at.UTC())
	if err != nil {
		return fmt.Errorf("%w: delegator count %s: %w", ErrUpsertFailed, operator, err)
	}
	return nil
}

// Stats aggregates the persisted records
func (s *Store) Stats(ctx context.Context) (populator.Stats, error) {
	var (
		stats        populator.Stats
		tvl, rewards string
	)
	err := s.pool.QueryRow(ctx, statsSQL).Scan(
		&stats.Delegations,
		&stats.Operators,
		&stats.Rewards,
		&stats.ActiveOperators,
		&stats.SlashedOperators,
		&tvl,
		&rewards,
	)
	if err != nil {
		return populator.Stats{}, fmt.Errorf("%w: stats: %w", ErrQueryFailed, err)
	}

	if stats.TotalValueLocked, err = units.ParseAmount(tvl); err != nil {
		return populator.Stats{}, fmt.Errorf("%w: stats: %w", ErrQueryFailed, err)
	}
	if stats.TotalRewards, err = units.ParseAmount(rewards); err != nil {
		return populator.Stats{}, fmt.Errorf("%w: stats: %w", ErrQueryFailed, err)
	}
	return stats, nil
}

// SaveRun records the outcome of a population run
func (s *Store) SaveRun(ctx context.Context, run populator.RunRecord) error {
	row, err := dbrow.FromRun(run)
	if err != nil {
		return fmt.Errorf("%w: run %s: %w", ErrUpsertFailed, run.RunID, err)
	}

	_, err = s.pool.Exec(ctx, saveRunSQL,
		row.RunID,
		row.StartedAt,
		row.FinishedAt,
		row.State,
		row.Summary,
		row.Error,
	)
	if err != nil {
		return fmt.Errorf("%w: run %s: %w", ErrUpsertFailed, run.RunID, err)
	}
	return nil
}

// LastRun returns the most recent run or populator.ErrNoRuns
func (s *Store) LastRun(ctx context.Context) (populator.RunRecord, error) {
	rows, err := s.pool.Query(ctx, lastRunSQL)
	if err != nil {
		return populator.RunRecord{}, fmt.Errorf("%w: last run: %w", ErrQueryFailed, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[dbrow.Run])
	if errors.Is(err, pgx.ErrNoRows) {
		return populator.RunRecord{}, populator.ErrNoRuns
	}
	if err != nil {
		return populator.RunRecord{}, fmt.Errorf("%w: last run: %w", ErrQueryFailed, err)
	}

	run, err := row.Record()
	if err != nil {
		return populator.RunRecord{}, fmt.Errorf("%w: last run: %w", ErrQueryFailed, err)
	}
	return run, nil
}

// Delegation returns the stored delegation of user
func (s *Store) Delegation(ctx context.Context, user string) (populator.DelegationRecord, error) {
	rows, err := s.pool.Query(ctx, selectDelegationSQL, user)
	if err != nil {
		return populator.DelegationRecord{}, fmt.Errorf("%w: delegation %s: %w", ErrQueryFailed, user, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[dbrow.Delegation])
	if err != nil {
		return populator.DelegationRecord{}, fmt.Errorf("%w: delegation %s: %w", ErrQueryFailed, user, err)
	}
	return row.Record()
}

// Operator returns the stored operator of address
func (s *Store) Operator(ctx context.Context, address string) (populator.OperatorRecord, error) {
	rows, err := s.pool.Query(ctx, selectOperatorSQL, address)
	if err != nil {
		return populator.OperatorRecord{}, fmt.Errorf("%w: operator %s: %w", ErrQueryFailed, address, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[dbrow.Operator])
	if err != nil {
		return populator.OperatorRecord{}, fmt.Errorf("%w: operator %s: %w", ErrQueryFailed, address, err)
	}
	return row.Record()
}

// Reward returns the stored reward ledger of wallet
func (s *Store) Reward(ctx context.Context, wallet string) (populator.RewardRecord, error) {
	rows, err := s.pool.Query(ctx, selectRewardSQL, wallet)
	if err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: reward %s: %w", ErrQueryFailed, wallet, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[dbrow.Reward])
	if err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: reward %s: %w", ErrQueryFailed, wallet, err)
	}
	return row.Record()
}
