// Package ledgertest provides an in-memory marketplace ledger that enforces
// the task, submission and review rules, for tests and local demos.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/pkg/types"
)

type submission struct {
	worker common.Address
	proof  string
	status types.SubmissionStatus
}

type task struct {
	header types.TaskHeader
	subs   []*submission
	// extra raw entries returned verbatim by Submissions
	extra []types.RawSubmission
}

type review struct {
	active bool
	yes    uint64
	no     uint64
	voters map[common.Address]bool
	worker common.Address
}

type readFault struct {
	key any
	err error
}

// wildcard matches every key of a read method.
type wildcard struct{}

// Chain is the shared ledger state. Obtain per-identity views with As.
type Chain struct {
	mu sync.Mutex

	now    time.Time
	nextID types.TaskID
	txSeq  int64

	tasks       map[types.TaskID]*task
	order       []types.TaskID
	reviews     map[types.TaskID]*review
	reviewOrder []types.TaskID
	names       map[common.Address]string
	reputation  map[common.Address]uint64
	balances    map[common.Address]*big.Int
	judges      map[common.Address]bool
	resolveAt   uint64

	faults       map[string][]readFault
	readDelay    func(method string, key any) time.Duration
	hangFinality bool
	dispatched   int
	reads        map[string]int
}

// NewChain creates an empty ledger whose clock starts at now.
func NewChain(now time.Time) *Chain {
	return &Chain{
		now:        now,
		nextID:     1,
		tasks:      make(map[types.TaskID]*task),
		reviews:    make(map[types.TaskID]*review),
		names:      make(map[common.Address]string),
		reputation: make(map[common.Address]uint64),
		balances:   make(map[common.Address]*big.Int),
		judges:     make(map[common.Address]bool),
		faults:     make(map[string][]readFault),
		reads:      make(map[string]int),
	}
}

// As returns a Ledger bound to addr as the signing identity.
func (c *Chain) As(addr common.Address) *Account {
	return &Account{chain: c, addr: addr}
}

// Now returns the ledger clock.
func (c *Chain) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the ledger clock forward.
func (c *Chain) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Fund sets an address balance.
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(amount)
}

// SetName registers a display name without a transaction.
func (c *Chain) SetName(addr common.Address, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[addr] = name
}

// AddJudge makes addr eligible to vote on reviews.
func (c *Chain) AddJudge(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.judges[addr] = true
}

// SetResolveThreshold sets how many same-side votes resolve a review.
// Zero means a simple majority of the registered judges.
func (c *Chain) SetResolveThreshold(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveAt = n
}

// FailRead makes every call of method fail with err.
func (c *Chain) FailRead(method string, err error) {
	c.FailReadFor(method, wildcard{}, err)
}

// FailReadFor makes calls of method keyed by key (a task id or an address)
// fail with err.
func (c *Chain) FailReadFor(method string, key any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[method] = append(c.faults[method], readFault{key: key, err: err})
}

// ClearFaults removes every injected read failure.
func (c *Chain) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = make(map[string][]readFault)
}

// SetReadDelay delays reads by the returned duration, to shuffle completion
// order of concurrent reads.
func (c *Chain) SetReadDelay(fn func(method string, key any) time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDelay = fn
}

// HangFinality makes every Handle.Wait block until its context ends.
func (c *Chain) HangFinality(hang bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangFinality = hang
}

// AppendRawSubmission adds an entry that Submissions returns as is, after
// the real ones.
func (c *Chain) AppendRawSubmission(id types.TaskID, raw types.RawSubmission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[id]; ok {
		t.extra = append(t.extra, raw)
	}
}

// ForceTaskState overwrites a task's lifecycle state.
func (c *Chain) ForceTaskState(id types.TaskID, state types.TaskState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[id]; ok {
		t.header.State = state
	}
}

// Dispatched returns how many writes reached the ledger.
func (c *Chain) Dispatched() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatched
}

// Reads returns how many times method was called.
func (c *Chain) Reads(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[method]
}

// beginRead records the call, applies any delay and returns an injected
// failure for the key.
func (c *Chain) beginRead(ctx context.Context, method string, key any) error {
	c.mu.Lock()
	c.reads[method]++
	delayFn := c.readDelay
	var injected error
	for _, f := range c.faults[method] {
		if _, all := f.key.(wildcard); all || f.key == key {
			injected = f.err
			break
		}
	}
	c.mu.Unlock()

	if delayFn != nil {
		if d := delayFn(method, key); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	if injected != nil {
		return injected
	}
	return ctx.Err()
}

func (c *Chain) threshold() uint64 {
	if c.resolveAt > 0 {
		return c.resolveAt
	}
	return uint64(len(c.judges))/2 + 1
}

func (c *Chain) pay(addr common.Address, amount *big.Int) {
	bal, ok := c.balances[addr]
	if !ok {
		bal = new(big.Int)
		c.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

func (c *Chain) approve(t *task, s *submission) {
	s.status = types.StatusApproved
	t.header.State = types.TaskApproved
	t.header.ApprovedWorker = s.worker
	c.reputation[s.worker]++
	c.pay(s.worker, t.header.Reward)
}

func (c *Chain) findSub(t *task, worker common.Address) *submission {
	for _, s := range t.subs {
		if s.worker == worker {
			return s
		}
	}
	return nil
}

func rejected(op, format string, args ...any) error {
	return types.NewLedgerError(types.ErrRejectedByLedger, op, fmt.Sprintf(format, args...), nil)
}
