package populator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/restaker/populator"
)

func breakdown(op int, amt string, at ...time.Time) populator.RewardBreakdown {
	b := populator.RewardBreakdown{
		OperatorAddress: operatorAddr(op),
		AmountReceived:  amount(amt),
		Timestamps:      at,
	}
	for i := range at {
		b.TransactionHashes = append(b.TransactionHashes, txHash(op*100+i))
		b.BlockNumbers = append(b.BlockNumbers, int64(op*100+i))
	}
	return b
}

func rewardRecord(w int, now time.Time, breakdowns ...populator.RewardBreakdown) populator.RewardRecord {
	rec := populator.RewardRecord{WalletAddress: wallet(w)}
	for _, b := range breakdowns {
		rec.AddBreakdown(b)
	}
	rec.Recompute(now)
	return rec
}

func TestRewardRecordMerge(t *testing.T) {
	t.Parallel()

	t.Run("it appends to the breakdown of the same operator", func(t *testing.T) {
		t.Parallel()

		// Arrange
		now := epoch.Add(10 * 24 * time.Hour)
		existing := rewardRecord(1, now, breakdown(1, "10", epoch, epoch.Add(24*time.Hour)))
		incoming := rewardRecord(1, now, breakdown(1, "5", epoch.Add(5*24*time.Hour)))

		// Act
		merged := existing.Merge(incoming, now)

		// Assert
		b := merged.RewardsBreakdown[operatorAddr(1)]
		assert.Equal(t, "15", b.AmountReceived.String())
		assert.Equal(t, 3, b.Events())
		assert.Len(t, b.TransactionHashes, 3)
		assert.Len(t, b.BlockNumbers, 3)
		assert.True(t, merged.TotalRewardsReceived.Sub(existing.TotalRewardsReceived).Equal(amount("5")))
		assert.Equal(t, 3, merged.TotalRewardEvents)
		assert.Equal(t, "5", merged.AverageRewardAmount.String())
		assert.Equal(t, epoch, merged.FirstRewardTimestamp)
		assert.Equal(t, epoch.Add(5*24*time.Hour), merged.LastRewardTimestamp)

		assert.Equal(t, 2, existing.RewardsBreakdown[operatorAddr(1)].Events(), "receiver is not modified")
	})

	t.Run("it inserts a breakdown for a new operator", func(t *testing.T) {
		t.Parallel()

		// Arrange
		now := epoch.Add(24 * time.Hour)
		existing := rewardRecord(1, now, breakdown(1, "1", epoch))
		incoming := rewardRecord(1, now, breakdown(2, "2", epoch))

		// Act
		merged := existing.Merge(incoming, now)

		// Assert
		require.Len(t, merged.RewardsBreakdown, 2)
		assert.Equal(t, "2", merged.RewardsBreakdown[operatorAddr(2)].AmountReceived.String())
		assert.Equal(t, "3", merged.TotalRewardsReceived.String())
	})
}

func TestRewardRecordRecompute(t *testing.T) {
	t.Parallel()

	t.Run("it scales the daily average by whole elapsed days", func(t *testing.T) {
		t.Parallel()

		// Arrange
		now := epoch.Add(10*24*time.Hour + 23*time.Hour)

		// Act
		rec := rewardRecord(1, now, breakdown(1, "30", epoch, epoch.Add(time.Hour)))

		// Assert
		assert.Equal(t, "3", rec.RewardFrequency.DailyAverage.String())
		assert.Equal(t, "21", rec.RewardFrequency.WeeklyAverage.String())
		assert.Equal(t, "90", rec.RewardFrequency.MonthlyAverage.String())
		assert.Equal(t, "15", rec.AverageRewardAmount.String())
	})

	t.Run("it keeps frequency at zero within the first day", func(t *testing.T) {
		t.Parallel()

		// Act
		rec := rewardRecord(1, epoch.Add(23*time.Hour), breakdown(1, "30", epoch))

		// Assert
		assert.True(t, rec.RewardFrequency.DailyAverage.IsZero())
		assert.True(t, rec.RewardFrequency.WeeklyAverage.IsZero())
		assert.True(t, rec.RewardFrequency.MonthlyAverage.IsZero())
	})

	t.Run("it reports a zero average without events", func(t *testing.T) {
		t.Parallel()

		// Act
		rec := rewardRecord(1, epoch)

		// Assert
		assert.Zero(t, rec.TotalRewardEvents)
		assert.True(t, rec.AverageRewardAmount.IsZero())
	})
}

func TestOperatorAppendSlash(t *testing.T) {
	t.Parallel()

	t.Run("it moves an active operator to slashed", func(t *testing.T) {
		t.Parallel()

		// Arrange
		op := populator.OperatorRecord{Status: populator.OperatorActive, LastActivityTimestamp: epoch}

		// Act
		op.AppendSlash(populator.SlashEvent{Timestamp: epoch.Add(time.Hour), AmountSlashed: amount("1")})

		// Assert
		assert.Equal(t, populator.OperatorSlashed, op.Status)
		assert.Equal(t, epoch.Add(time.Hour), op.LastActivityTimestamp)
	})

	t.Run("it leaves other statuses untouched", func(t *testing.T) {
		t.Parallel()

		// Arrange
		op := populator.OperatorRecord{Status: populator.OperatorJailed}

		// Act
		op.AppendSlash(populator.SlashEvent{Timestamp: epoch})

		// Assert
		assert.Equal(t, populator.OperatorJailed, op.Status)
	})

	t.Run("it keeps the history ordered by time", func(t *testing.T) {
		t.Parallel()

		// Arrange
		op := populator.OperatorRecord{Status: populator.OperatorActive}

		// Act
		for _, h := range []int{5, 1, 3, 1} {
			op.AppendSlash(populator.SlashEvent{Timestamp: epoch.Add(time.Duration(h) * time.Hour)})
		}

		// Assert
		require.Len(t, op.SlashHistory, 4)
		for i := 1; i < len(op.SlashHistory); i++ {
			assert.False(t, op.SlashHistory[i].Timestamp.Before(op.SlashHistory[i-1].Timestamp))
		}
		assert.Equal(t, epoch.Add(5*time.Hour), op.LastActivityTimestamp)
	})
}
