package populator

import (
	"time"

	"github.com/screwyprof/restaker/pkg/units"
)

// DelegationStatus is the lifecycle state of a delegation
type DelegationStatus string

const (
	DelegationActive    DelegationStatus = "active"
	DelegationUnstaking DelegationStatus = "unstaking"
	DelegationWithdrawn DelegationStatus = "withdrawn"
)

// DelegationRecord is the canonical stake of one wallet, keyed by UserAddress.
//
// The indexer does not report exits, so normalized records are always active.
type DelegationRecord struct {
	UserAddress           string
	AmountRestaked        units.Amount
	TargetOperatorAddress string
	DelegationTimestamp   time.Time
	TransactionHash       string
	BlockNumber           int64
	Status                DelegationStatus
	LastUpdated           time.Time
}
