// Package dbrow maps populator records to and from database rows.
//
// Numeric columns travel as text so that amounts keep full precision;
// nested collections are stored as JSONB documents.
package dbrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/screwyprof/restaker/pkg/units"
	"github.com/screwyprof/restaker/populator"
)

// ErrInvalidRow is returned when a stored row cannot be converted back
var ErrInvalidRow = errors.New("invalid database row")

// Delegation represents a delegation as stored in the database
type Delegation struct {
	UserAddress           string    `db:"user_address"`
	AmountRestaked        string    `db:"amount_restaked"`
	TargetOperatorAddress string    `db:"target_operator_address"`
	DelegationTimestamp   time.Time `db:"delegation_timestamp"`
	TransactionHash       string    `db:"transaction_hash"`
	BlockNumber           int64     `db:"block_number"`
	Status                string    `db:"status"`
	LastUpdated           time.Time `db:"last_updated"`
}

// FromDelegation converts a delegation record to its row
func FromDelegation(d populator.DelegationRecord) Delegation {
	return Delegation{
		UserAddress:           d.UserAddress,
		AmountRestaked:        d.AmountRestaked.String(),
		TargetOperatorAddress: d.TargetOperatorAddress,
		DelegationTimestamp:   d.DelegationTimestamp.UTC(),
		TransactionHash:       d.TransactionHash,
		BlockNumber:           d.BlockNumber,
		Status:                string(d.Status),
		LastUpdated:           d.LastUpdated.UTC(),
	}
}

// Record converts the row back to a delegation record
func (r Delegation) Record() (populator.DelegationRecord, error) {
	amount, err := units.ParseAmount(r.AmountRestaked)
	if err != nil {
		return populator.DelegationRecord{}, fmt.Errorf("%w: amount_restaked: %w", ErrInvalidRow, err)
	}
	return populator.DelegationRecord{
		UserAddress:           r.UserAddress,
		AmountRestaked:        amount,
		TargetOperatorAddress: r.TargetOperatorAddress,
		DelegationTimestamp:   r.DelegationTimestamp.UTC(),
		TransactionHash:       r.TransactionHash,
		BlockNumber:           r.BlockNumber,
		Status:                populator.DelegationStatus(r.Status),
		LastUpdated:           r.LastUpdated.UTC(),
	}, nil
}

// Operator represents an operator as stored in the database
type Operator struct {
	OperatorAddress       string    `db:"operator_address"`
	OperatorName          string    `db:"operator_name"`
	TotalDelegatedStake   string    `db:"total_delegated_stake"`
	SlashHistory          []byte    `db:"slash_history"`
	Status                string    `db:"status"`
	RegistrationTimestamp time.Time `db:"registration_timestamp"`
	LastActivityTimestamp time.Time `db:"last_activity_timestamp"`
	DelegatorCount        int       `db:"delegator_count"`
	Commission            string    `db:"commission"`
	Metadata              []byte    `db:"metadata"`
	LastUpdated           time.Time `db:"last_updated"`
}

// FromOperator converts an operator record to its row
func FromOperator(o populator.OperatorRecord) (Operator, error) {
	history := o.SlashHistory
	if history == nil {
		history = []populator.SlashEvent{}
	}
	slashes, err := json.Marshal(history)
	if err != nil {
		return Operator{}, fmt.Errorf("%w: slash_history: %w", ErrInvalidRow, err)
	}
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return Operator{}, fmt.Errorf("%w: metadata: %w", ErrInvalidRow, err)
	}

	return Operator{
		OperatorAddress:       o.OperatorAddress,
		OperatorName:          o.OperatorName,
		TotalDelegatedStake:   o.TotalDelegatedStake.String(),
		SlashHistory:          slashes,
		Status:                string(o.Status),
		RegistrationTimestamp: o.RegistrationTimestamp.UTC(),
		LastActivityTimestamp: o.LastActivityTimestamp.UTC(),
		DelegatorCount:        o.DelegatorCount,
		Commission:            o.Commission.String(),
		Metadata:              metadata,
		LastUpdated:           o.LastUpdated.UTC(),
	}, nil
}

// Record converts the row back to an operator record
func (r Operator) Record() (populator.OperatorRecord, error) {
	stake, err := units.ParseAmount(r.TotalDelegatedStake)
	if err != nil {
		return populator.OperatorRecord{}, fmt.Errorf("%w: total_delegated_stake: %w", ErrInvalidRow, err)
	}
	commission, err := decimal.NewFromString(r.Commission)
	if err != nil {
		return populator.OperatorRecord{}, fmt.Errorf("%w: commission: %w", ErrInvalidRow, err)
	}

	var history []populator.SlashEvent
	if err := json.Unmarshal(r.SlashHistory, &history); err != nil {
		return populator.OperatorRecord{}, fmt.Errorf("%w: slash_history: %w", ErrInvalidRow, err)
	}
	var metadata populator.OperatorMetadata
	if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
		return populator.OperatorRecord{}, fmt.Errorf("%w: metadata: %w", ErrInvalidRow, err)
	}

	return populator.OperatorRecord{
		OperatorAddress:       r.OperatorAddress,
		OperatorName:          r.OperatorName,
		TotalDelegatedStake:   stake,
		SlashHistory:          history,
		Status:                populator.OperatorStatus(r.Status),
		RegistrationTimestamp: r.RegistrationTimestamp.UTC(),
		LastActivityTimestamp: r.LastActivityTimestamp.UTC(),
		DelegatorCount:        r.DelegatorCount,
		Commission:            commission,
		Metadata:              metadata,
		LastUpdated:           r.LastUpdated.UTC(),
	}, nil
}

// Reward represents a reward ledger as stored in the database
type Reward struct {
	WalletAddress        string    `db:"wallet_address"`
	TotalRewardsReceived string    `db:"total_rewards_received"`
	RewardsBreakdown     []byte    `db:"rewards_breakdown"`
	FirstRewardTimestamp time.Time `db:"first_reward_timestamp"`
	LastRewardTimestamp  time.Time `db:"last_reward_timestamp"`
	TotalRewardEvents    int       `db:"total_reward_events"`
	AverageRewardAmount  string    `db:"average_reward_amount"`
	DailyAverage         string    `db:"daily_average"`
	WeeklyAverage        string    `db:"weekly_average"`
	MonthlyAverage       string    `db:"monthly_average"`
	LastUpdated          time.Time `db:"last_updated"`
}

// FromReward converts a reward record to its row
func FromReward(r populator.RewardRecord) (Reward, error) {
	breakdown := r.RewardsBreakdown
	if breakdown == nil {
		breakdown = map[string]populator.RewardBreakdown{}
	}
	raw, err := json.Marshal(breakdown)
	if err != nil {
		return Reward{}, fmt.Errorf("%w: rewards_breakdown: %w", ErrInvalidRow, err)
	}

	return Reward{
		WalletAddress:        r.WalletAddress,
		TotalRewardsReceived: r.TotalRewardsReceived.String(),
		RewardsBreakdown:     raw,
		FirstRewardTimestamp: r.FirstRewardTimestamp.UTC(),
		LastRewardTimestamp:  r.LastRewardTimestamp.UTC(),
		TotalRewardEvents:    r.TotalRewardEvents,
		AverageRewardAmount:  r.AverageRewardAmount.String(),
		DailyAverage:         r.RewardFrequency.DailyAverage.String(),
		WeeklyAverage:        r.RewardFrequency.WeeklyAverage.String(),
		MonthlyAverage:       r.RewardFrequency.MonthlyAverage.String(),
		LastUpdated:          r.LastUpdated.UTC(),
	}, nil
}

// Record converts the row back to a reward record
func (r Reward) Record() (populator.RewardRecord, error) {
	amounts := map[string]string{
		"total_rewards_received": r.TotalRewardsReceived,
		"average_reward_amount":  r.AverageRewardAmount,
		"daily_average":          r.DailyAverage,
		"weekly_average":         r.WeeklyAverage,
		"monthly_average":        r.MonthlyAverage,
	}
	parsed := make(map[string]units.Amount, len(amounts))
	for col, s := range amounts {
		a, err := units.ParseAmount(s)
		if err != nil {
			return populator.RewardRecord{}, fmt.Errorf("%w: %s: %w", ErrInvalidRow, col, err)
		}
		parsed[col] = a
	}

	var breakdown map[string]populator.RewardBreakdown
	if err := json.Unmarshal(r.RewardsBreakdown, &breakdown); err != nil {
		return populator.RewardRecord{}, fmt.Errorf("%w: rewards_breakdown: %w", ErrInvalidRow, err)
	}
	for op, b := range breakdown {
		for i, ts := range b.Timestamps {
			b.Timestamps[i] = ts.UTC()
		}
		breakdown[op] = b
	}

	return populator.RewardRecord{
		WalletAddress:        r.WalletAddress,
		TotalRewardsReceived: parsed["total_rewards_received"],
		RewardsBreakdown:     breakdown,
		FirstRewardTimestamp: r.FirstRewardTimestamp.UTC(),
		LastRewardTimestamp:  r.LastRewardTimestamp.UTC(),
		TotalRewardEvents:    r.TotalRewardEvents,
		AverageRewardAmount:  parsed["average_reward_amount"],
		RewardFrequency: populator.RewardFrequency{
			DailyAverage:   parsed["daily_average"],
			WeeklyAverage:  parsed["weekly_average"],
			MonthlyAverage: parsed["monthly_average"],
		},
		LastUpdated: r.LastUpdated.UTC(),
	}, nil
}

// Run represents a population run as stored in the database
type Run struct {
	RunID      string    `db:"run_id"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	State      string    `db:"state"`
	Summary    []byte    `db:"summary"`
	Error      string    `db:"error"`
}

// FromRun converts a run record to its row
func FromRun(r populator.RunRecord) (Run, error) {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return Run{}, fmt.Errorf("%w: summary: %w", ErrInvalidRow, err)
	}
	return Run{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		State:      string(r.State),
		Summary:    summary,
		Error:      r.Error,
	}, nil
}

// Record converts the row back to a run record
func (r Run) Record() (populator.RunRecord, error) {
	var summary populator.Summary
	if err := json.Unmarshal(r.Summary, &summary); err != nil {
		return populator.RunRecord{}, fmt.Errorf("%w: summary: %w", ErrInvalidRow, err)
	}
	return populator.RunRecord{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		State:      populator.State(r.State),
		Summary:    summary,
		Error:      r.Error,
	}, nil
}
