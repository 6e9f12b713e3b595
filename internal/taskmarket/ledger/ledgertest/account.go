package ledgertest

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// Account is the Chain seen and driven by one identity.
type Account struct {
	chain *Chain
	addr  common.Address
}

var _ ledger.Ledger = (*Account)(nil)

func (a *Account) Address() common.Address { return a.addr }

// Reads

func (a *Account) ListTaskIDs(ctx context.Context) ([]types.TaskID, error) {
	c := a.chain
	if err := c.beginRead(ctx, "ListTaskIDs", nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.TaskID(nil), c.order...), nil
}

func (a *Account) TaskHeader(ctx context.Context, id types.TaskID) (types.TaskHeader, error) {
	c := a.chain
	if err := c.beginRead(ctx, "TaskHeader", id); err != nil {
		return types.TaskHeader{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return types.TaskHeader{}, rejected("getTask", "Task does not exist")
	}
	h := t.header
	h.Reward = new(big.Int).Set(t.header.Reward)
	h.CreatorName = c.names[h.Creator]
	return h, nil
}

func (a *Account) Submissions(ctx context.Context, id types.TaskID) ([]types.RawSubmission, error) {
	c := a.chain
	if err := c.beginRead(ctx, "Submissions", id); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, rejected("getSubmissions", "Task does not exist")
	}
	out := make([]types.RawSubmission, 0, len(t.subs)+len(t.extra))
	for _, s := range t.subs {
		out = append(out, types.RawSubmission{
			Worker:     s.worker,
			WorkerName: c.names[s.worker],
			Proof:      s.proof,
			Submitted:  s.status >= types.StatusSubmitted,
			Rejected:   s.status == types.StatusRejected,
		})
	}
	return append(out, t.extra...), nil
}

func (a *Account) SubmissionStatus(ctx context.Context, worker common.Address, id types.TaskID) (types.SubmissionStatus, error) {
	c := a.chain
	if err := c.beginRead(ctx, "SubmissionStatus", worker); err != nil {
		return types.StatusNone, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return types.StatusNone, nil
	}
	if s := c.findSub(t, worker); s != nil {
		return s.status, nil
	}
	return types.StatusNone, nil
}

func (a *Account) Reputation(ctx context.Context, worker common.Address) (uint64, error) {
	c := a.chain
	if err := c.beginRead(ctx, "Reputation", worker); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reputation[worker], nil
}

func (a *Account) ListActiveReviewIDs(ctx context.Context) ([]types.TaskID, error) {
	c := a.chain
	if err := c.beginRead(ctx, "ListActiveReviewIDs", nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []types.TaskID
	for _, id := range c.reviewOrder {
		if c.reviews[id].active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (a *Account) ReviewStatus(ctx context.Context, id types.TaskID, caller common.Address) (types.ReviewStatus, error) {
	c := a.chain
	if err := c.beginRead(ctx, "ReviewStatus", id); err != nil {
		return types.ReviewStatus{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reviews[id]
	if !ok {
		return types.ReviewStatus{}, nil
	}
	return types.ReviewStatus{
		Active:         r.active,
		YesCount:       r.yes,
		NoCount:        r.no,
		CallerVoted:    r.voters[caller],
		DisputedWorker: r.worker,
	}, nil
}

func (a *Account) DisplayName(ctx context.Context, addr common.Address) (string, error) {
	c := a.chain
	if err := c.beginRead(ctx, "DisplayName", addr); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[addr], nil
}

func (a *Account) IsJudge(ctx context.Context, addr common.Address) (bool, error) {
	c := a.chain
	if err := c.beginRead(ctx, "IsJudge", addr); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.judges[addr], nil
}

func (a *Account) JudgeCount(ctx context.Context) (uint64, error) {
	c := a.chain
	if err := c.beginRead(ctx, "JudgeCount", nil); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.judges)), nil
}

func (a *Account) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	c := a.chain
	if err := c.beginRead(ctx, "Balance", addr); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// Writes

// handle applies its write once, at Wait, after re-checking the rules
// against the state at that time.
type handle struct {
	chain *Chain
	hash  common.Hash
	apply func() error

	once sync.Once
	err  error
}

func (h *handle) TxHash() common.Hash { return h.hash }

func (h *handle) Wait(ctx context.Context) error {
	h.chain.mu.Lock()
	hang := h.chain.hangFinality
	h.chain.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.once.Do(func() {
		h.chain.mu.Lock()
		defer h.chain.mu.Unlock()
		h.err = h.apply()
	})
	return h.err
}

// dispatch runs check under the lock, as a preflight would, and returns a
// handle that re-runs check and then commit at finality.
func (a *Account) dispatch(ctx context.Context, check func() error, commit func()) (ledger.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewLedgerError(types.ErrConnectivityLost, "dispatch", "", err)
	}
	c := a.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := check(); err != nil {
		return nil, err
	}
	c.dispatched++
	c.txSeq++
	return &handle{
		chain: c,
		hash:  common.BigToHash(big.NewInt(c.txSeq)),
		apply: func() error {
			if err := check(); err != nil {
				return err
			}
			commit()
			return nil
		},
	}, nil
}

func (a *Account) task(op string, id types.TaskID) (*task, error) {
	t, ok := a.chain.tasks[id]
	if !ok {
		return nil, rejected(op, "Task does not exist")
	}
	return t, nil
}

func (a *Account) CreateTask(ctx context.Context, description string, deadline time.Time, reward *big.Int) (ledger.Handle, error) {
	c := a.chain
	const op = "createTask"
	check := func() error {
		if strings.TrimSpace(description) == "" {
			return rejected(op, "Description required")
		}
		if reward == nil || reward.Sign() <= 0 {
			return rejected(op, "Reward must be > 0")
		}
		if !deadline.After(c.now) {
			return rejected(op, "Deadline must be in the future")
		}
		if bal, ok := c.balances[a.addr]; ok && bal.Cmp(reward) < 0 {
			return rejected(op, "insufficient funds")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		id := c.nextID
		c.nextID++
		if bal, ok := c.balances[a.addr]; ok {
			bal.Sub(bal, reward)
		}
		c.tasks[id] = &task{header: types.TaskHeader{
			Creator:     a.addr,
			Description: description,
			Reward:      new(big.Int).Set(reward),
			Deadline:    deadline,
			State:       types.TaskOpen,
		}}
		c.order = append(c.order, id)
	})
}

func (a *Account) ClaimTask(ctx context.Context, id types.TaskID) (ledger.Handle, error) {
	c := a.chain
	const op = "claimTask"
	check := func() error {
		t, err := a.task(op, id)
		if err != nil {
			return err
		}
		switch {
		case t.header.State != types.TaskOpen:
			return rejected(op, "Task not open")
		case t.header.Creator == a.addr:
			return rejected(op, "Creator cannot claim")
		case c.now.After(t.header.Deadline):
			return rejected(op, "Task expired")
		}
		if s := c.findSub(t, a.addr); s != nil && s.status != types.StatusNone {
			return rejected(op, "Already claimed")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		t := c.tasks[id]
		if s := c.findSub(t, a.addr); s != nil {
			s.status = types.StatusClaimed
			return
		}
		t.subs = append(t.subs, &submission{worker: a.addr, status: types.StatusClaimed})
	})
}

func (a *Account) SubmitProof(ctx context.Context, id types.TaskID, proof string) (ledger.Handle, error) {
	c := a.chain
	const op = "submitTask"
	check := func() error {
		t, err := a.task(op, id)
		if err != nil {
			return err
		}
		if t.header.State.IsClosed() {
			return rejected(op, "Task closed")
		}
		if proof == "" {
			return rejected(op, "Proof required")
		}
		s := c.findSub(t, a.addr)
		if s == nil || !s.status.CanTransition(types.StatusSubmitted) {
			return rejected(op, "Not claimed")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		s := c.findSub(c.tasks[id], a.addr)
		s.proof = proof
		s.status = types.StatusSubmitted
	})
}

// creatorSubmitted checks the caller created the open task and worker's
// submission is awaiting a decision.
func (a *Account) creatorSubmitted(op string, id types.TaskID, worker common.Address) error {
	t, err := a.task(op, id)
	if err != nil {
		return err
	}
	if t.header.Creator != a.addr {
		return rejected(op, "Only creator")
	}
	if t.header.State.IsClosed() {
		return rejected(op, "Task closed")
	}
	s := a.chain.findSub(t, worker)
	if s == nil || s.status != types.StatusSubmitted {
		return rejected(op, "Not submitted")
	}
	return nil
}

func (a *Account) ApproveSubmission(ctx context.Context, id types.TaskID, worker common.Address) (ledger.Handle, error) {
	c := a.chain
	const op = "approveTask"
	return a.dispatch(ctx, func() error { return a.creatorSubmitted(op, id, worker) }, func() {
		t := c.tasks[id]
		c.approve(t, c.findSub(t, worker))
	})
}

func (a *Account) RejectSubmission(ctx context.Context, id types.TaskID, worker common.Address) (ledger.Handle, error) {
	c := a.chain
	const op = "rejectSubmission"
	return a.dispatch(ctx, func() error { return a.creatorSubmitted(op, id, worker) }, func() {
		c.findSub(c.tasks[id], worker).status = types.StatusRejected
	})
}

func (a *Account) RaiseDispute(ctx context.Context, id types.TaskID) (ledger.Handle, error) {
	c := a.chain
	const op = "raiseReviewRequest"
	check := func() error {
		t, err := a.task(op, id)
		if err != nil {
			return err
		}
		s := c.findSub(t, a.addr)
		if s == nil || s.status != types.StatusRejected {
			return rejected(op, "Not rejected")
		}
		if r, ok := c.reviews[id]; ok && r.active {
			return rejected(op, "Review already active")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		if _, ok := c.reviews[id]; !ok {
			c.reviewOrder = append(c.reviewOrder, id)
		}
		c.reviews[id] = &review{active: true, voters: make(map[common.Address]bool), worker: a.addr}
	})
}

func (a *Account) CastVote(ctx context.Context, id types.TaskID, approve bool) (ledger.Handle, error) {
	c := a.chain
	const op = "voteOnReview"
	check := func() error {
		if !c.judges[a.addr] {
			return rejected(op, "Not a judge")
		}
		r, ok := c.reviews[id]
		if !ok || !r.active {
			return rejected(op, "Review not active")
		}
		if r.voters[a.addr] {
			return rejected(op, "Already voted")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		r := c.reviews[id]
		r.voters[a.addr] = true
		if approve {
			r.yes++
		} else {
			r.no++
		}
		need := c.threshold()
		switch {
		case r.yes >= need:
			r.active = false
			t := c.tasks[id]
			if s := c.findSub(t, r.worker); s != nil && !t.header.State.IsClosed() {
				c.approve(t, s)
			}
		case r.no >= need:
			r.active = false
		}
	})
}

func (a *Account) CancelTask(ctx context.Context, id types.TaskID) (ledger.Handle, error) {
	c := a.chain
	const op = "cancelTask"
	check := func() error {
		t, err := a.task(op, id)
		if err != nil {
			return err
		}
		switch {
		case t.header.Creator != a.addr:
			return rejected(op, "Only creator")
		case t.header.State != types.TaskOpen:
			return rejected(op, "Task not open")
		case len(t.subs) > 0 && !c.now.After(t.header.Deadline):
			return rejected(op, "Task has submissions")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		t := c.tasks[id]
		t.header.State = types.TaskCancelled
		c.pay(t.header.Creator, t.header.Reward)
	})
}

func (a *Account) SetDisplayName(ctx context.Context, name string) (ledger.Handle, error) {
	c := a.chain
	const op = "setName"
	check := func() error {
		if strings.TrimSpace(name) == "" {
			return rejected(op, "Name required")
		}
		return nil
	}
	return a.dispatch(ctx, check, func() {
		c.names[a.addr] = name
	})
}
