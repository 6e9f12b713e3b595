package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/aggregator"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger/ledgertest"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/notify"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/quorum"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/retry"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

type stubPrompt struct {
	name  string
	err   error
	calls int
}

func (p *stubPrompt) PromptName(ctx context.Context) (string, error) {
	p.calls++
	return p.name, p.err
}

// collector drains a bus subscription in the background.
type collector struct {
	mu  sync.Mutex
	got []notify.Notification
	wg  sync.WaitGroup
}

func collect(bus *notify.Bus) (*collector, func()) {
	c := &collector{}
	_, ch, cancel := bus.Subscribe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for n := range ch {
			c.mu.Lock()
			c.got = append(c.got, n)
			c.mu.Unlock()
		}
	}()
	return c, func() {
		cancel()
		c.wg.Wait()
	}
}

func (c *collector) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Kind, 0, len(c.got))
	for _, n := range c.got {
		out = append(out, n.Kind)
	}
	return out
}

func newSession(chain *ledgertest.Chain) (*Session, *notify.Bus) {
	bus := notify.NewBus(logging.NewNoOpLogger())
	s := New(chain.As(common.Address{}), bus, Config{
		Aggregator: aggregator.Config{
			DefaultJudgeCount: 3,
			Retry: &retry.RetryConfig{
				MaxRetries:    2,
				InitialDelay:  time.Millisecond,
				MaxDelay:      time.Millisecond,
				BackoffFactor: 1,
			},
		},
		Now: chain.Now,
	}, logging.NewNoOpLogger())
	return s, bus
}

func seed(t *testing.T, chain *ledgertest.Chain) {
	t.Helper()
	ctx := context.Background()
	chain.SetName(bob, "bob")
	h, err := chain.As(bob).CreateTask(ctx, "label images", t0.Add(time.Hour), big.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))
}

func TestConnect_BindsIdentityAndNotifies(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	s, bus := newSession(chain)
	notes, stop := collect(bus)

	snap, err := s.Connect(context.Background(), alice, chain.As(alice))
	require.NoError(t, err)
	stop()

	require.NotNil(t, snap.Identity)
	assert.Equal(t, alice, snap.Identity.Address)
	assert.Same(t, snap, s.Snapshot())
	assert.False(t, s.ReadOnly())
	assert.Equal(t, []notify.Kind{notify.KindInfo}, notes.kinds())

	open := s.OpenForCaller(common.Address{})
	require.Len(t, open, 1)
	assert.Equal(t, "label images", open[0].Description)
	assert.Empty(t, s.OpenForCaller(bob), "creators don't see their own tasks as open")
	assert.Len(t, s.CreatedByCaller(bob), 1)
}

func TestConnect_RejectsMismatchedSigner(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	s, _ := newSession(chain)

	_, err := s.Connect(context.Background(), alice, chain.As(bob))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = s.Connect(context.Background(), common.Address{}, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, common.Address{}, s.Caller())
}

func TestAnonymousAndDisconnect(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	s, _ := newSession(chain)
	ctx := context.Background()

	snap, err := s.Synchronize(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Identity)
	assert.Len(t, snap.Tasks, 1)

	_, err = s.Connect(ctx, alice, nil)
	require.NoError(t, err)
	assert.True(t, s.ReadOnly())

	snap, err = s.Disconnect(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Identity)
	assert.Equal(t, common.Address{}, s.Caller())
}

func TestSession_BeforeFirstSynchronization(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	s := New(chain.As(alice), notify.NewBus(logging.NewNoOpLogger()), Config{}, logging.NewNoOpLogger())
	require.Nil(t, s.Snapshot())

	assert.NotPanics(t, func() {
		d := s.ReviewDecision(1)
		assert.Equal(t, quorum.Resolved, d.Verdict)
		assert.Equal(t, types.TaskID(1), d.TaskID)

		_, ok := s.ActionsFor(1, alice)
		assert.False(t, ok)
		assert.Empty(t, s.OpenForCaller(alice))
		assert.Empty(t, s.CreatedByCaller(bob))
		assert.Empty(t, s.SubmittedByCaller(alice))
		assert.Empty(t, s.JudgeQueue())
	})
}

// A synchronization that was started for one identity must not publish
// after the session has been disconnected from it.
func TestDisconnect_DuringSynchronization(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	s, _ := newSession(chain)
	ctx := context.Background()

	_, err := s.Connect(ctx, alice, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	var delayed atomic.Bool
	chain.SetReadDelay(func(method string, _ any) time.Duration {
		if method == "ListTaskIDs" && delayed.CompareAndSwap(false, true) {
			close(started)
			return 100 * time.Millisecond
		}
		return 0
	})

	errs := make(chan error, 1)
	go func() {
		_, err := s.Synchronize(ctx)
		errs <- err
	}()
	<-started

	snap, err := s.Disconnect(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Identity)

	err = <-errs
	assert.ErrorIs(t, err, types.ErrLedgerUnavailable)
	require.NotNil(t, s.Snapshot())
	assert.Nil(t, s.Snapshot().Identity)
	assert.Equal(t, common.Address{}, s.Caller())
}

func TestSynchronize_FailureKeepsPublishedSnapshot(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	s, bus := newSession(chain)
	ctx := context.Background()

	before, err := s.Synchronize(ctx)
	require.NoError(t, err)

	notes, stop := collect(bus)
	chain.FailRead("ListTaskIDs", errors.New("connection refused"))
	_, err = s.Synchronize(ctx)
	stop()

	assert.ErrorIs(t, err, types.ErrLedgerUnavailable)
	assert.Same(t, before, s.Snapshot())
	assert.Equal(t, []notify.Kind{notify.KindError}, notes.kinds())
}

func TestSynchronize_ConcurrentCallsAllPublishWholeSnapshots(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	s, _ := newSession(chain)
	_, err := s.Connect(context.Background(), alice, chain.As(alice))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := s.Synchronize(context.Background())
			assert.NoError(t, err)
			assert.Len(t, snap.Tasks, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, alice, s.Snapshot().Identity.Address)
}

func TestEnsureNamed(t *testing.T) {
	t.Run("already named", func(t *testing.T) {
		chain := ledgertest.NewChain(t0)
		chain.SetName(alice, "alice")
		s, _ := newSession(chain)
		prompt := &stubPrompt{name: "other"}
		s.SetNamePrompt(prompt)
		_, err := s.Connect(context.Background(), alice, chain.As(alice))
		require.NoError(t, err)

		require.NoError(t, s.EnsureNamed(context.Background()))
		assert.Zero(t, prompt.calls)
		assert.Zero(t, chain.Dispatched())
	})

	t.Run("registers and synchronizes once", func(t *testing.T) {
		chain := ledgertest.NewChain(t0)
		s, _ := newSession(chain)
		s.SetNamePrompt(&stubPrompt{name: "alice"})
		_, err := s.Connect(context.Background(), alice, chain.As(alice))
		require.NoError(t, err)
		reads := chain.Reads("ListTaskIDs")

		require.NoError(t, s.EnsureNamed(context.Background()))
		assert.Equal(t, 1, chain.Dispatched())
		assert.Equal(t, reads+1, chain.Reads("ListTaskIDs"))
		assert.Equal(t, "alice", s.Snapshot().Identity.Name)
	})

	failures := []struct {
		name   string
		prompt NamePrompt
		writer bool
	}{
		{"declined", &stubPrompt{}, true},
		{"prompt error", &stubPrompt{err: errors.New("stdin closed")}, true},
		{"no prompt", nil, true},
		{"read-only", &stubPrompt{name: "alice"}, false},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			chain := ledgertest.NewChain(t0)
			s, _ := newSession(chain)
			if tt.prompt != nil {
				s.SetNamePrompt(tt.prompt)
			}
			var err error
			if tt.writer {
				_, err = s.Connect(context.Background(), alice, chain.As(alice))
			} else {
				_, err = s.Connect(context.Background(), alice, nil)
			}
			require.NoError(t, err)

			err = s.EnsureNamed(context.Background())
			assert.ErrorIs(t, err, types.ErrNameRequired)
			assert.Zero(t, chain.Dispatched())
		})
	}
}

func TestPerform_CreateTaskGatesOnName(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	s, bus := newSession(chain)
	_, err := s.Connect(context.Background(), alice, chain.As(alice))
	require.NoError(t, err)

	params := types.ActionParams{Description: "write docs", Reward: big.NewInt(5), Deadline: t0.Add(time.Hour)}

	_, err = s.Perform(context.Background(), types.ActionCreateTask, params)
	require.ErrorIs(t, err, types.ErrNameRequired)
	assert.Zero(t, chain.Dispatched())

	s.SetNamePrompt(&stubPrompt{name: "alice"})
	notes, stop := collect(bus)
	res, err := s.Perform(context.Background(), types.ActionCreateTask, params)
	stop()
	require.NoError(t, err)

	assert.Equal(t, 2, chain.Dispatched(), "name registration, then the task")
	require.Len(t, res.Snapshot.Tasks, 1)
	assert.Equal(t, "alice", res.Snapshot.Identity.Name)
	assert.Same(t, res.Snapshot, s.Snapshot())
	assert.Equal(t, []notify.Kind{notify.KindSuccess, notify.KindSuccess}, notes.kinds())

	created := s.CreatedByCaller(common.Address{})
	require.Len(t, created, 1)
	actions, ok := s.ActionsFor(created[0].ID, common.Address{})
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, types.ActionCancelTask, actions[0].Action)

	_, ok = s.ActionsFor(99, common.Address{})
	assert.False(t, ok)
}

func TestPerform_ReadOnlySkipsNamePrompt(t *testing.T) {
	chain := ledgertest.NewChain(t0)
	s, _ := newSession(chain)
	prompt := &stubPrompt{name: "alice"}
	s.SetNamePrompt(prompt)
	_, err := s.Connect(context.Background(), alice, nil)
	require.NoError(t, err)

	_, err = s.Perform(context.Background(), types.ActionCreateTask, types.ActionParams{
		Description: "x", Reward: big.NewInt(1), Deadline: t0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Zero(t, prompt.calls)
}

func TestJudgeQueueAndDecision(t *testing.T) {
	ctx := context.Background()
	chain := ledgertest.NewChain(t0)
	seed(t, chain)
	chain.AddJudge(alice)

	worker := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	run := func(h ledger.Handle, err error) {
		t.Helper()
		require.NoError(t, err)
		require.NoError(t, h.Wait(ctx))
	}
	run(chain.As(worker).ClaimTask(ctx, 1))
	run(chain.As(worker).SubmitProof(ctx, 1, "ipfs://x"))
	run(chain.As(bob).RejectSubmission(ctx, 1, worker))
	run(chain.As(worker).RaiseDispute(ctx, 1))

	s, _ := newSession(chain)
	_, err := s.Connect(ctx, alice, chain.As(alice))
	require.NoError(t, err)

	queue := s.JudgeQueue()
	require.Len(t, queue, 1)
	assert.Equal(t, worker, queue[0].Review.Worker)
	require.NotNil(t, queue[0].Submission)
	assert.Equal(t, types.StatusRejected, queue[0].Submission.Status)
	assert.True(t, s.ReviewDecision(1).CanVote)

	_, err = s.Perform(ctx, types.ActionCastVote, types.ActionParams{TaskID: 1, Approve: true})
	require.NoError(t, err)
	assert.Empty(t, s.JudgeQueue(), "a single judge resolves the review")
	task, ok := s.Snapshot().Task(1)
	require.True(t, ok)
	assert.Equal(t, types.TaskApproved, task.State)
}
