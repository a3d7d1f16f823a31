package populator

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/screwyprof/restaker/pkg/units"
)

// OperatorStatus is the lifecycle state of an operator
type OperatorStatus string

const (
	OperatorActive       OperatorStatus = "active"
	OperatorJailed       OperatorStatus = "jailed"
	OperatorSlashed      OperatorStatus = "slashed"
	OperatorInactive     OperatorStatus = "inactive"
	OperatorDeregistered OperatorStatus = "deregistered"
)

// SlashEvent is a penalty owned by one operator
type SlashEvent struct {
	Timestamp       time.Time    `json:"timestamp"`
	AmountSlashed   units.Amount `json:"amountSlashed"`
	Reason          string       `json:"reason,omitempty"`
	TransactionHash string       `json:"transactionHash,omitempty"`
	BlockNumber     int64        `json:"blockNumber,omitempty"`
}

// OperatorMetadata holds optional descriptive fields
type OperatorMetadata struct {
	Website     string `json:"website,omitempty"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// OperatorRecord is the canonical operator, keyed by OperatorAddress.
// DelegatorCount is derived from persisted delegations and never taken from upstream.
type OperatorRecord struct {
	OperatorAddress       string
	OperatorName          string
	TotalDelegatedStake   units.Amount
	SlashHistory          []SlashEvent
	Status                OperatorStatus
	RegistrationTimestamp time.Time
	LastActivityTimestamp time.Time
	DelegatorCount        int
	Commission            decimal.Decimal
	Metadata              OperatorMetadata
	LastUpdated           time.Time
}

var maxCommission = decimal.NewFromInt(100)

// ValidCommission reports whether c is a percentage in [0,100]
func ValidCommission(c decimal.Decimal) bool {
	return !c.IsNegative() && c.LessThanOrEqual(maxCommission)
}

// AppendSlash records a slash keeping the history ordered by time. An active
// operator becomes slashed.
func (o *OperatorRecord) AppendSlash(ev SlashEvent) {
	i, _ := slices.BinarySearchFunc(o.SlashHistory, ev.Timestamp, func(e SlashEvent, t time.Time) int {
		if e.Timestamp.After(t) {
			return 1
		}
		return -1
	})
	o.SlashHistory = slices.Insert(o.SlashHistory, i, ev)

	if o.Status == OperatorActive {
		o.Status = OperatorSlashed
	}
	if ev.Timestamp.After(o.LastActivityTimestamp) {
		o.LastActivityTimestamp = ev.Timestamp
	}
}
