package populator_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/screwyprof/restaker/pkg/rewardsapi"
	"github.com/screwyprof/restaker/pkg/subgraph"
	"github.com/screwyprof/restaker/pkg/units"
	"github.com/screwyprof/restaker/populator"
	"github.com/screwyprof/restaker/populator/populatortest"
)

const (
	stethStrategy = "0x93c4b944d05dfe6df7645a86cd2206016c51564d"
	otherStrategy = "0x54945180db7943c0ed0fee7edab2bd24620256bc"
)

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func wallet(n int) string {
	return fmt.Sprintf("0x%040x", 0xc000+n)
}

func operatorAddr(n int) string {
	return fmt.Sprintf("0x%040x", 0xa000+n)
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func amount(s string) units.Amount {
	return populatortest.Amount(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newNormalizer(clock *populatortest.Clock) *populator.Normalizer {
	return populator.NewNormalizer(stethStrategy, clock, discardLogger())
}

// delegationEvent delegates shares from wallet(w) to operatorAddr(op)
func delegationEvent(w, op int, shares string) subgraph.DelegationEvent {
	return subgraph.DelegationEvent{
		ID:              fmt.Sprintf("delegation-%d", w),
		Delegator:       subgraph.Ref{ID: wallet(w)},
		Operator:        subgraph.OperatorRef{ID: operatorAddr(op), MetadataURI: "https://operator.example/" + strconv.Itoa(op)},
		Shares:          shares,
		CreatedAt:       unix(epoch.Add(time.Duration(w) * time.Hour)),
		TransactionHash: txHash(w),
		BlockNumber:     strconv.Itoa(19_000_000 + w),
	}
}

func operator(op int, totalShares string) subgraph.Operator {
	return subgraph.Operator{
		ID:              operatorAddr(op),
		MetadataURI:     "https://operator.example/" + strconv.Itoa(op),
		DelegatedShares: totalShares,
		TotalShares:     totalShares,
		CreatedAt:       unix(epoch.Add(-30 * 24 * time.Hour)),
		BlockNumber:     "18000000",
		TransactionHash: txHash(1000 + op),
	}
}

func slashing(id string, op int, amount string, at time.Time) subgraph.Slashing {
	return subgraph.Slashing{
		ID:              id,
		Operator:        subgraph.Ref{ID: operatorAddr(op)},
		Amount:          amount,
		CreatedAt:       unix(at),
		TransactionHash: txHash(2000 + at.Second()),
		BlockNumber:     "19500000",
	}
}

// payload wraps raw reward elements into a rewards response body
func payload(items ...string) rewardsapi.Payload {
	p := rewardsapi.Payload{Rewards: make([]json.RawMessage, len(items))}
	for i, raw := range items {
		if !json.Valid([]byte(raw)) {
			panic("invalid json: " + raw)
		}
		p.Rewards[i] = json.RawMessage(raw)
	}
	return p
}

// ether renders a decimal ETH amount as a wei string
func ether(s string) string {
	base, err := units.ToBaseUnits(s, units.Ether)
	if err != nil {
		panic(err)
	}
	return base.String()
}
