package populator

import (
	"encoding/hex"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/screwyprof/restaker/pkg/clock"
	"github.com/screwyprof/restaker/pkg/rewardsapi"
)

const (
	placeholderMaxItems = 5
	placeholderMaxDays  = 90
	placeholderBaseBlk  = 19_000_000

	// wei per micro-ether
	microEtherZeros = "000000000000"
)

// PlaceholderGenerator produces synthetic reward payloads for wallets the
// rewards service has no data for. Output is reproducible for a given seed.
type PlaceholderGenerator struct {
	rng   *rand.Rand
	clock clock.Clock
}

// NewPlaceholderGenerator creates a generator seeded with seed
func NewPlaceholderGenerator(seed uint64, clk clock.Clock) *PlaceholderGenerator {
	return &PlaceholderGenerator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		clock: clk,
	}
}

// Rewards returns between one and five strictly positive reward items
// attributed to operator.
func (g *PlaceholderGenerator) Rewards(operator string) rewardsapi.Payload {
	now := g.clock.Now()
	count := 1 + g.rng.IntN(placeholderMaxItems)

	items := make([]rewardsapi.Item, count)
	for i := range items {
		// 0.000001 .. 0.999999 ETH, in wei
		micro := 1 + g.rng.IntN(999_999)
		age := time.Duration(g.rng.IntN(placeholderMaxDays*24)) * time.Hour

		items[i] = rewardsapi.Item{
			"amount":       quote(strconv.Itoa(micro) + microEtherZeros),
			"operator":     quote(operator),
			"timestamp":    json.RawMessage(strconv.FormatInt(now.Add(-age).Unix(), 10)),
			"tx_hash":      quote(g.txHash()),
			"block_number": json.RawMessage(strconv.Itoa(placeholderBaseBlk + g.rng.IntN(1_000_000))),
		}
	}
	return rewardsapi.NewPayload(items...)
}

func (g *PlaceholderGenerator) txHash() string {
	buf := make([]byte, 32)
	for i := 0; i < len(buf); i += 8 {
		v := g.rng.Uint64()
		for j := range 8 {
			buf[i+j] = byte(v >> (8 * j))
		}
	}
	return "0x" + hex.EncodeToString(buf)
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
