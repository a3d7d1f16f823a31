package populator

import (
	"maps"
	"slices"
	"time"

	"github.com/screwyprof/restaker/pkg/units"
)

const day = 24 * time.Hour

// RewardBreakdown is the per-operator sub-ledger of a wallet
type RewardBreakdown struct {
	OperatorAddress   string       `json:"operatorAddress"`
	AmountReceived    units.Amount `json:"amountReceived"`
	Timestamps        []time.Time  `json:"timestamps"`
	TransactionHashes []string     `json:"transactionHashes"`
	BlockNumbers      []int64      `json:"blockNumbers"`
}

// Events returns the number of reward events in the breakdown
func (b RewardBreakdown) Events() int {
	return len(b.Timestamps)
}

// Append adds other to b: amounts are summed and sequences concatenated.
func (b RewardBreakdown) Append(other RewardBreakdown) RewardBreakdown {
	return RewardBreakdown{
		OperatorAddress:   b.OperatorAddress,
		AmountReceived:    b.AmountReceived.Add(other.AmountReceived),
		Timestamps:        append(slices.Clone(b.Timestamps), other.Timestamps...),
		TransactionHashes: append(slices.Clone(b.TransactionHashes), other.TransactionHashes...),
		BlockNumbers:      append(slices.Clone(b.BlockNumbers), other.BlockNumbers...),
	}
}

// RewardFrequency holds the average reward per day, week and month
type RewardFrequency struct {
	DailyAverage   units.Amount `json:"dailyAverage"`
	WeeklyAverage  units.Amount `json:"weeklyAverage"`
	MonthlyAverage units.Amount `json:"monthlyAverage"`
}

// RewardRecord is the reward ledger of one wallet, keyed by WalletAddress.
// Event count, average, first/last timestamps and frequency are derived from
// the breakdowns by Recompute.
type RewardRecord struct {
	WalletAddress        string
	TotalRewardsReceived units.Amount
	RewardsBreakdown     map[string]RewardBreakdown
	FirstRewardTimestamp time.Time
	LastRewardTimestamp  time.Time
	TotalRewardEvents    int
	AverageRewardAmount  units.Amount
	RewardFrequency      RewardFrequency
	LastUpdated          time.Time
}

// AddBreakdown merges b into the breakdown of the same operator, or inserts it.
// The running total grows by b's amount.
func (r *RewardRecord) AddBreakdown(b RewardBreakdown) {
	if r.RewardsBreakdown == nil {
		r.RewardsBreakdown = make(map[string]RewardBreakdown)
	}
	if existing, ok := r.RewardsBreakdown[b.OperatorAddress]; ok {
		r.RewardsBreakdown[b.OperatorAddress] = existing.Append(b)
	} else {
		r.RewardsBreakdown[b.OperatorAddress] = RewardBreakdown{OperatorAddress: b.OperatorAddress}.Append(b)
	}
	r.TotalRewardsReceived = r.TotalRewardsReceived.Add(b.AmountReceived)
}

// Merge returns r with every breakdown of incoming added to it. The receiver
// is not modified.
func (r RewardRecord) Merge(incoming RewardRecord, now time.Time) RewardRecord {
	merged := r.Clone()
	for _, op := range slices.Sorted(maps.Keys(incoming.RewardsBreakdown)) {
		merged.AddBreakdown(incoming.RewardsBreakdown[op])
	}
	merged.Recompute(now)
	return merged
}

// Clone returns a deep copy of r
func (r RewardRecord) Clone() RewardRecord {
	out := r
	out.RewardsBreakdown = make(map[string]RewardBreakdown, len(r.RewardsBreakdown))
	for op, b := range r.RewardsBreakdown {
		out.RewardsBreakdown[op] = RewardBreakdown{OperatorAddress: b.OperatorAddress}.Append(b)
	}
	return out
}

// Recompute derives event count, average, first/last timestamps and
// frequency from the breakdowns. Frequency is zero until a whole day has
// passed since the first reward.
func (r *RewardRecord) Recompute(now time.Time) {
	r.TotalRewardEvents = 0
	var first, last time.Time
	for _, b := range r.RewardsBreakdown {
		r.TotalRewardEvents += b.Events()
		for _, ts := range b.Timestamps {
			if first.IsZero() || ts.Before(first) {
				first = ts
			}
			if ts.After(last) {
				last = ts
			}
		}
	}
	if !first.IsZero() {
		r.FirstRewardTimestamp = first
		r.LastRewardTimestamp = last
	}

	r.AverageRewardAmount = r.TotalRewardsReceived.DivInt(int64(r.TotalRewardEvents))

	r.RewardFrequency = RewardFrequency{}
	if r.FirstRewardTimestamp.IsZero() {
		return
	}
	elapsedDays := int64(now.Sub(r.FirstRewardTimestamp) / day)
	if elapsedDays <= 0 {
		return
	}
	r.RewardFrequency = RewardFrequency{
		DailyAverage:   r.TotalRewardsReceived.DivInt(elapsedDays),
		WeeklyAverage:  r.TotalRewardsReceived.Mul(7).DivInt(elapsedDays),
		MonthlyAverage: r.TotalRewardsReceived.Mul(30).DivInt(elapsedDays),
	}
}
