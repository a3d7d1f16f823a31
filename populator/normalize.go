package populator

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/screwyprof/restaker/pkg/clock"
	"github.com/screwyprof/restaker/pkg/subgraph"
	"github.com/screwyprof/restaker/pkg/units"
)

const stethMarker = "steth"

// Skip describes an upstream item dropped during normalization
type Skip struct {
	Family   Family
	RecordID string
	Err      error
}

// Normalizer turns raw upstream payloads into canonical records. Every item
// is transformed on its own: a malformed item is logged, reported as a Skip
// and contributes nothing to the output.
type Normalizer struct {
	stethStrategy string
	clock         clock.Clock
	logger        *slog.Logger
}

// NewNormalizer creates a Normalizer. stethStrategy is the configured strategy
// address accepted in addition to any strategy containing "steth".
func NewNormalizer(stethStrategy string, clk clock.Clock, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		stethStrategy: strings.TrimSpace(stethStrategy),
		clock:         clk,
		logger:        logger,
	}
}

// NormalizeDelegations maps delegation events and matching staker deposits
// to delegation records.
func (n *Normalizer) NormalizeDelegations(page subgraph.DelegationsPage) ([]DelegationRecord, []Skip) {
	var (
		records []DelegationRecord
		skips   []Skip
	)

	for _, ev := range page.Delegations {
		rec, err := delegationFromEvent(ev)
		if err != nil {
			skips = append(skips, n.skip(FamilyDelegation, ev.ID, err))
			continue
		}
		records = append(records, rec)
	}

	for _, staker := range page.Stakers {
		for _, dep := range staker.Deposits {
			if !n.isStETHStrategy(dep.Strategy.ID) {
				continue
			}
			rec, err := delegationFromDeposit(staker, dep)
			if err != nil {
				skips = append(skips, n.skip(FamilyDelegation, dep.ID, err))
				continue
			}
			records = append(records, rec)
		}
	}

	return records, skips
}

// NormalizeOperators maps operators to operator records with their slash
// history attached.
func (n *Normalizer) NormalizeOperators(page subgraph.OperatorsPage) ([]OperatorRecord, []Skip) {
	var (
		records []OperatorRecord
		skips   []Skip
	)

	slashes := make(map[string][]SlashEvent)
	for _, s := range page.Slashings {
		operator, ev, err := slashFromSlashing(s)
		if err != nil {
			skips = append(skips, n.skip(FamilyOperator, s.ID, err))
			continue
		}
		slashes[operator] = append(slashes[operator], ev)
	}

	for _, op := range page.Operators {
		rec, err := operatorFromRaw(op)
		if err != nil {
			skips = append(skips, n.skip(FamilyOperator, op.ID, err))
			continue
		}

		history := slashes[rec.OperatorAddress]
		slices.SortStableFunc(history, func(a, b SlashEvent) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		for _, ev := range history {
			rec.AppendSlash(ev)
		}
		records = append(records, rec)
	}

	return records, skips
}

func (n *Normalizer) isStETHStrategy(strategy string) bool {
	if strings.Contains(strings.ToLower(strategy), stethMarker) {
		return true
	}
	return n.stethStrategy != "" && strings.EqualFold(strategy, n.stethStrategy)
}

func (n *Normalizer) skip(family Family, id string, err error) Skip {
	n.logger.Warn("Skipping malformed record",
		slog.String("family", string(family)),
		slog.String("recordID", id),
		slog.Any("error", err),
	)
	return Skip{Family: family, RecordID: id, Err: err}
}

func delegationFromEvent(ev subgraph.DelegationEvent) (DelegationRecord, error) {
	user, err := units.NormalizeAddress(ev.Delegator.ID)
	if err != nil {
		return DelegationRecord{}, malformed("delegator", err)
	}
	operator, err := units.NormalizeAddress(ev.Operator.ID)
	if err != nil {
		return DelegationRecord{}, malformed("operator", err)
	}
	return buildDelegation(user, operator, ev.Shares, ev.CreatedAt, ev.TransactionHash, ev.BlockNumber)
}

func delegationFromDeposit(staker subgraph.Staker, dep subgraph.Deposit) (DelegationRecord, error) {
	user, err := units.NormalizeAddress(staker.ID)
	if err != nil {
		return DelegationRecord{}, malformed("staker", err)
	}

	operator := units.ZeroAddress
	if staker.DelegatedTo != nil && staker.DelegatedTo.ID != "" {
		if operator, err = units.NormalizeAddress(staker.DelegatedTo.ID); err != nil {
			return DelegationRecord{}, malformed("delegatedTo", err)
		}
	}
	return buildDelegation(user, operator, dep.Shares, dep.CreatedAt, dep.TransactionHash, dep.BlockNumber)
}

func buildDelegation(user, operator, shares, createdAt, txHash, block string) (DelegationRecord, error) {
	amount, err := nonNegativeAmount(shares)
	if err != nil {
		return DelegationRecord{}, malformed("shares", err)
	}
	ts, err := parseUnixSeconds(createdAt)
	if err != nil {
		return DelegationRecord{}, malformed("createdAt", err)
	}
	hash, err := optionalTxHash(txHash)
	if err != nil {
		return DelegationRecord{}, malformed("transactionHash", err)
	}
	blockNumber, err := optionalBlockNumber(block)
	if err != nil {
		return DelegationRecord{}, malformed("blockNumber", err)
	}

	return DelegationRecord{
		UserAddress:           user,
		AmountRestaked:        amount,
		TargetOperatorAddress: operator,
		DelegationTimestamp:   ts,
		TransactionHash:       hash,
		BlockNumber:           blockNumber,
		Status:                DelegationActive,
	}, nil
}

func slashFromSlashing(s subgraph.Slashing) (string, SlashEvent, error) {
	operator, err := units.NormalizeAddress(s.Operator.ID)
	if err != nil {
		return "", SlashEvent{}, malformed("operator", err)
	}
	amount, err := nonNegativeAmount(s.Amount)
	if err != nil {
		return "", SlashEvent{}, malformed("amount", err)
	}
	ts, err := parseUnixSeconds(s.CreatedAt)
	if err != nil {
		return "", SlashEvent{}, malformed("createdAt", err)
	}
	hash, err := optionalTxHash(s.TransactionHash)
	if err != nil {
		return "", SlashEvent{}, malformed("transactionHash", err)
	}
	block, err := optionalBlockNumber(s.BlockNumber)
	if err != nil {
		return "", SlashEvent{}, malformed("blockNumber", err)
	}

	return operator, SlashEvent{
		Timestamp:       ts,
		AmountSlashed:   amount,
		TransactionHash: hash,
		BlockNumber:     block,
	}, nil
}

func operatorFromRaw(op subgraph.Operator) (OperatorRecord, error) {
	address, err := units.NormalizeAddress(op.ID)
	if err != nil {
		return OperatorRecord{}, malformed("id", err)
	}
	stake, err := nonNegativeAmount(cmp.Or(strings.TrimSpace(op.TotalShares), "0"))
	if err != nil {
		return OperatorRecord{}, malformed("totalShares", err)
	}
	created, err := parseUnixSeconds(op.CreatedAt)
	if err != nil {
		return OperatorRecord{}, malformed("createdAt", err)
	}

	return OperatorRecord{
		OperatorAddress:       address,
		TotalDelegatedStake:   stake,
		Status:                OperatorActive,
		RegistrationTimestamp: created,
		LastActivityTimestamp: created,
		Metadata:              OperatorMetadata{URI: op.MetadataURI},
	}, nil
}

func malformed(field string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformedRecord, field, err)
}

func nonNegativeAmount(base string) (units.Amount, error) {
	amount, err := units.FromBaseUnits(base, units.Ether)
	if err != nil {
		return units.Zero, err
	}
	if amount.IsNegative() {
		return units.Zero, fmt.Errorf("%w: negative %s", units.ErrInvalidAmount, base)
	}
	return amount, nil
}

func parseUnixSeconds(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid unix timestamp %q: %w", s, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func optionalTxHash(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !units.IsValidTxHash(s) {
		return "", fmt.Errorf("invalid transaction hash %q", s)
	}
	return strings.ToLower(s), nil
}

func optionalBlockNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid block number %q", s)
	}
	return n, nil
}
