package populator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/screwyprof/restaker/pkg/rewardsapi"
	"github.com/screwyprof/restaker/pkg/units"
)

// field is an extraction rule: the first alias present with a non-null
// value wins.
type field struct {
	name    string
	aliases []string
}

// Reward item fields in priority order. A missing timestamp defaults to now
// and a missing operator to the zero address; a missing amount makes the
// item malformed.
var (
	amountField      = field{name: "amount", aliases: []string{"amount", "value"}}
	operatorField    = field{name: "operator", aliases: []string{"operator", "validator"}}
	timestampField   = field{name: "timestamp", aliases: []string{"timestamp", "block_time"}}
	txHashField      = field{name: "tx_hash", aliases: []string{"tx_hash"}}
	blockNumberField = field{name: "block_number", aliases: []string{"block_number"}}
)

var jsonNull = []byte("null")

func (f field) lookup(item rewardsapi.Item) (json.RawMessage, bool) {
	for _, alias := range f.aliases {
		raw, ok := item[alias]
		if ok && len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
			return raw, true
		}
	}
	return nil, false
}

// scalar reads a JSON string or number as text
func (f field) scalar(item rewardsapi.Item) (string, bool, error) {
	raw, ok := f.lookup(item)
	if !ok {
		return "", false, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true, nil
	}
	return "", false, fmt.Errorf("%s: expected string or number, got %s", f.name, raw)
}

// NormalizeRewards maps a rewards payload of wallet to a reward record with
// one breakdown per operator. The total is the exact sum of all accepted items.
func (n *Normalizer) NormalizeRewards(wallet string, payload rewardsapi.Payload) (RewardRecord, []Skip) {
	now := n.clock.Now()
	record := RewardRecord{
		WalletAddress:    wallet,
		RewardsBreakdown: make(map[string]RewardBreakdown),
	}

	var skips []Skip
	for i, raw := range payload.Rewards {
		b, err := breakdownFromRaw(raw, now)
		if err != nil {
			skips = append(skips, n.skip(FamilyReward, wallet+"#"+strconv.Itoa(i), err))
			continue
		}
		record.AddBreakdown(b)
	}

	record.Recompute(now)
	return record, skips
}

// breakdownFromRaw accepts only JSON objects; any other element is malformed
func breakdownFromRaw(raw json.RawMessage, now time.Time) (RewardBreakdown, error) {
	var item rewardsapi.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return RewardBreakdown{}, malformed("item", err)
	}
	if item == nil {
		return RewardBreakdown{}, malformed("item", fmt.Errorf("expected object, got %s", raw))
	}
	return breakdownFromItem(item, now)
}

func breakdownFromItem(item rewardsapi.Item, now time.Time) (RewardBreakdown, error) {
	amountText, ok, err := amountField.scalar(item)
	if err != nil {
		return RewardBreakdown{}, malformed(amountField.name, err)
	}
	if !ok {
		return RewardBreakdown{}, malformed(amountField.name, fmt.Errorf("%w: missing", units.ErrInvalidAmount))
	}
	amount, err := units.FromBaseUnits(amountText, units.Ether)
	if err != nil {
		return RewardBreakdown{}, malformed(amountField.name, err)
	}
	if amount.IsNegative() {
		return RewardBreakdown{}, malformed(amountField.name, fmt.Errorf("%w: negative %s", units.ErrInvalidAmount, amountText))
	}

	operator := units.ZeroAddress
	if text, ok, err := operatorField.scalar(item); err != nil {
		return RewardBreakdown{}, malformed(operatorField.name, err)
	} else if ok {
		if operator, err = units.NormalizeAddress(text); err != nil {
			return RewardBreakdown{}, malformed(operatorField.name, err)
		}
	}

	ts := now
	if text, ok, err := timestampField.scalar(item); err != nil {
		return RewardBreakdown{}, malformed(timestampField.name, err)
	} else if ok {
		if ts, err = parseRewardTime(text); err != nil {
			return RewardBreakdown{}, malformed(timestampField.name, err)
		}
	}

	b := RewardBreakdown{
		OperatorAddress: operator,
		AmountReceived:  amount,
		Timestamps:      []time.Time{ts},
	}

	if text, ok, err := txHashField.scalar(item); err != nil {
		return RewardBreakdown{}, malformed(txHashField.name, err)
	} else if ok && text != "" {
		hash, err := optionalTxHash(text)
		if err != nil {
			return RewardBreakdown{}, malformed(txHashField.name, err)
		}
		b.TransactionHashes = []string{hash}
	}

	if text, ok, err := blockNumberField.scalar(item); err != nil {
		return RewardBreakdown{}, malformed(blockNumberField.name, err)
	} else if ok && text != "" {
		block, err := optionalBlockNumber(text)
		if err != nil {
			return RewardBreakdown{}, malformed(blockNumberField.name, err)
		}
		b.BlockNumbers = []int64{block}
	}

	return b, nil
}

// parseRewardTime accepts unix seconds, in any numeric notation, or RFC 3339.
// Fractional seconds are truncated.
func parseRewardTime(s string) (time.Time, error) {
	if secs, err := decimal.NewFromString(s); err == nil {
		return time.Unix(secs.IntPart(), 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}
