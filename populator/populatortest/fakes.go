package populatortest

import (
	"context"
	"sync"
	"time"

	"github.com/screwyprof/restaker/pkg/rewardsapi"
	"github.com/screwyprof/restaker/pkg/subgraph"
)

// Clock is a fixed clock whose waits return immediately
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock fixed at now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Indexer serves fixed pages by offset. A configured error is returned for
// every call of that query.
type Indexer struct {
	mu              sync.Mutex
	DelegationPages []subgraph.DelegationsPage
	OperatorPages   []subgraph.OperatorsPage
	DelegationsErr  error
	OperatorsErr    error
	Offsets         []int

	// AfterCall runs after every call, e.g. to cancel a run mid-stage
	AfterCall func()
}

func (i *Indexer) FetchDelegations(_ context.Context, pageSize, offset int) (subgraph.DelegationsPage, error) {
	defer i.after()
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Offsets = append(i.Offsets, offset)
	if i.DelegationsErr != nil {
		return subgraph.DelegationsPage{}, i.DelegationsErr
	}
	if n := offset / pageSize; n < len(i.DelegationPages) {
		return i.DelegationPages[n], nil
	}
	return subgraph.DelegationsPage{}, nil
}

func (i *Indexer) FetchOperators(_ context.Context, pageSize, offset int) (subgraph.OperatorsPage, error) {
	defer i.after()
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Offsets = append(i.Offsets, offset)
	if i.OperatorsErr != nil {
		return subgraph.OperatorsPage{}, i.OperatorsErr
	}
	if n := offset / pageSize; n < len(i.OperatorPages) {
		return i.OperatorPages[n], nil
	}
	return subgraph.OperatorsPage{}, nil
}

func (i *Indexer) after() {
	if i.AfterCall != nil {
		i.AfterCall()
	}
}

// Rewards serves fixed payloads per wallet; wallets without a payload are absent
type Rewards struct {
	mu       sync.Mutex
	Payloads map[string]rewardsapi.Payload
	Calls    []string
}

func (r *Rewards) FetchRewards(_ context.Context, address string) (rewardsapi.Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Calls = append(r.Calls, address)
	p, ok := r.Payloads[address]
	return p, ok
}
