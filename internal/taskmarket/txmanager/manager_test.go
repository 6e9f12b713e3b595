package txmanager

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/aggregator"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger/ledgertest"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/notify"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	worker  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	judge   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	now     = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Publish(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

type countingSyncer struct {
	agg    *aggregator.Aggregator
	caller common.Address
	err    error

	mu    sync.Mutex
	calls int
}

func (s *countingSyncer) Synchronize(ctx context.Context) (*types.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.agg.Synchronize(ctx, s.caller)
}

func (s *countingSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	chain  *ledgertest.Chain
	syncer *countingSyncer
	notes  *recorder
	mgr    *Manager
}

func newHarness(t *testing.T, caller common.Address, writer ledger.Writer) *harness {
	t.Helper()
	chain := ledgertest.NewChain(now)
	if writer == nil {
		writer = chain.As(caller)
	}
	h := &harness{
		chain: chain,
		syncer: &countingSyncer{
			agg:    aggregator.New(chain.As(caller), aggregator.Config{Now: chain.Now}, logging.NewNoOpLogger()),
			caller: caller,
		},
		notes: &recorder{},
	}
	h.mgr = NewManager(writer, h.syncer, h.notes, Config{FinalityTimeout: time.Second, Now: chain.Now}, logging.NewNoOpLogger())
	return h
}

// commit returns a sink for a direct ledger write that fails the test
// unless the write is dispatched and final.
func (h *harness) commit(t *testing.T) func(ledger.Handle, error) {
	t.Helper()
	return func(handle ledger.Handle, err error) {
		t.Helper()
		require.NoError(t, err)
		require.NoError(t, handle.Wait(context.Background()))
	}
}

func (h *harness) snapshot(t *testing.T) *types.Snapshot {
	t.Helper()
	snap, err := h.syncer.agg.Synchronize(context.Background(), h.syncer.caller)
	require.NoError(t, err)
	return snap
}

func createParams() types.ActionParams {
	return types.ActionParams{Description: "translate", Reward: big.NewInt(10), Deadline: now.Add(time.Hour)}
}

func TestPerform_SuccessResynchronizes(t *testing.T) {
	h := newHarness(t, worker, nil)
	h.commit(t)(h.chain.As(creator).CreateTask(context.Background(), "translate", now.Add(time.Hour), big.NewInt(10)))

	res, err := h.mgr.Perform(context.Background(), h.snapshot(t), types.ActionClaimTask, types.ActionParams{TaskID: 1})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	require.NotNil(t, res.Snapshot)

	task, ok := res.Snapshot.Task(1)
	require.True(t, ok)
	sub, ok := task.SubmissionBy(worker)
	require.True(t, ok)
	assert.Equal(t, types.StatusClaimed, sub.Status)

	assert.Equal(t, 1, h.syncer.count())
	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindSuccess, notes[0].Kind)
	assert.Equal(t, "Task claimed!", notes[0].Message)
	assert.Equal(t, res.TxHash.Hex(), notes[0].TxHash)
}

func TestPerform_InvalidInputNeverDispatches(t *testing.T) {
	tests := []struct {
		name   string
		action types.Action
		params func(types.ActionParams) types.ActionParams
	}{
		{"zero reward", types.ActionCreateTask, func(p types.ActionParams) types.ActionParams { p.Reward = big.NewInt(0); return p }},
		{"nil reward", types.ActionCreateTask, func(p types.ActionParams) types.ActionParams { p.Reward = nil; return p }},
		{"blank description", types.ActionCreateTask, func(p types.ActionParams) types.ActionParams { p.Description = "  "; return p }},
		{"past deadline", types.ActionCreateTask, func(p types.ActionParams) types.ActionParams { p.Deadline = now.Add(-time.Second); return p }},
		{"empty proof", types.ActionSubmitProof, func(p types.ActionParams) types.ActionParams { return types.ActionParams{TaskID: 1} }},
		{"missing worker", types.ActionApproveSubmission, func(p types.ActionParams) types.ActionParams { return types.ActionParams{TaskID: 1} }},
		{"empty name", types.ActionSetDisplayName, func(p types.ActionParams) types.ActionParams { return types.ActionParams{Name: " "} }},
		{"unknown action", types.Action("bribe-judge"), func(p types.ActionParams) types.ActionParams { return p }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, creator, nil)
			res, err := h.mgr.Perform(context.Background(), h.snapshot(t), tt.action, tt.params(createParams()))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
			assert.Equal(t, 0, h.chain.Dispatched())
			assert.Equal(t, 0, h.syncer.count())
			assert.Len(t, h.notes.all(), 1)
		})
	}
}

func TestPerform_CancellationGuard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, creator, nil)
	for i := 0; i < 3; i++ {
		h.commit(t)(h.chain.As(creator).CreateTask(ctx, "t", now.Add(time.Hour), big.NewInt(1)))
	}
	h.commit(t)(h.chain.As(worker).ClaimTask(ctx, 1))
	h.commit(t)(h.chain.As(worker).ClaimTask(ctx, 2))
	h.commit(t)(h.chain.As(worker).SubmitProof(ctx, 2, "p"))
	h.commit(t)(h.chain.As(creator).ApproveSubmission(ctx, 2, worker))
	dispatched := h.chain.Dispatched()
	snap := h.snapshot(t)

	// claimed before the deadline
	_, err := h.mgr.Perform(ctx, snap, types.ActionCancelTask, types.ActionParams{TaskID: 1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	// already closed
	_, err = h.mgr.Perform(ctx, snap, types.ActionCancelTask, types.ActionParams{TaskID: 2})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	// unknown
	_, err = h.mgr.Perform(ctx, snap, types.ActionCancelTask, types.ActionParams{TaskID: 99})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, dispatched, h.chain.Dispatched())

	// no submissions: allowed
	_, err = h.mgr.Perform(ctx, snap, types.ActionCancelTask, types.ActionParams{TaskID: 3})
	require.NoError(t, err)

	// claimed but past the deadline: allowed
	h.chain.Advance(2 * time.Hour)
	_, err = h.mgr.Perform(ctx, h.snapshot(t), types.ActionCancelTask, types.ActionParams{TaskID: 1})
	require.NoError(t, err)
}

func TestPerform_VotingGuard(t *testing.T) {
	snap := &types.Snapshot{Reviews: []types.Review{
		{TaskID: 1, Active: true, CallerVoted: true},
		{TaskID: 2, Active: false},
	}}
	h := newHarness(t, judge, nil)

	for _, id := range []types.TaskID{1, 2, 3} {
		_, err := h.mgr.Perform(context.Background(), snap, types.ActionCastVote, types.ActionParams{TaskID: id, Approve: true})
		assert.ErrorIs(t, err, types.ErrInvalidInput, "task %s", id)
	}
	assert.Equal(t, 0, h.chain.Dispatched())
	assert.Len(t, h.notes.all(), 3)
}

func TestPerform_RejectedByLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, creator, nil)
	h.commit(t)(h.chain.As(creator).CreateTask(ctx, "t", now.Add(time.Hour), big.NewInt(1)))
	before := h.snapshot(t)

	res, err := h.mgr.Perform(ctx, before, types.ActionClaimTask, types.ActionParams{TaskID: 1})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, types.ErrRejectedByLedger)
	assert.False(t, types.IsRetryable(err))
	assert.Equal(t, 0, h.syncer.count())

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindError, notes[0].Kind)
	assert.Equal(t, "Creator cannot claim", notes[0].Message)
}

func TestPerform_FinalityTimeout(t *testing.T) {
	h := newHarness(t, creator, nil)
	h.mgr.cfg.FinalityTimeout = 20 * time.Millisecond
	h.chain.HangFinality(true)

	res, err := h.mgr.Perform(context.Background(), h.snapshot(t), types.ActionCreateTask, createParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSubmissionTimeout)
	assert.True(t, types.IsRetryable(err))
	require.NotNil(t, res)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.Nil(t, res.Snapshot)
	assert.Equal(t, 1, h.syncer.count(), "state is refreshed before a retry")
	assert.Len(t, h.notes.all(), 1)
}

func TestPerform_ResyncFailureIsNotSuccess(t *testing.T) {
	h := newHarness(t, creator, nil)
	snap := h.snapshot(t)
	h.syncer.err = types.NewLedgerError(types.ErrLedgerUnavailable, "listTaskIds", "", errors.New("connection refused"))

	res, err := h.mgr.Perform(context.Background(), snap, types.ActionCreateTask, createParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrLedgerUnavailable)
	require.NotNil(t, res)

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindError, notes[0].Kind)
}

func TestPerform_ReadOnlySession(t *testing.T) {
	chain := ledgertest.NewChain(now)
	notes := &recorder{}
	mgr := NewManager(nil, &countingSyncer{}, notes, Config{Now: chain.Now}, logging.NewNoOpLogger())

	_, err := mgr.Perform(context.Background(), &types.Snapshot{}, types.ActionClaimTask, types.ActionParams{TaskID: 1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Len(t, notes.all(), 1)
}

// cancellingWriter cancels the caller's context as soon as a write is
// dispatched, like a client hanging up mid-request.
type cancellingWriter struct {
	ledger.Writer
	cancel context.CancelFunc
}

func (w *cancellingWriter) CreateTask(ctx context.Context, description string, deadline time.Time, reward *big.Int) (ledger.Handle, error) {
	h, err := w.Writer.CreateTask(ctx, description, deadline, reward)
	w.cancel()
	return h, err
}

func TestPerform_CompletesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, creator, nil)
	h.mgr.writer = &cancellingWriter{Writer: h.chain.As(creator), cancel: cancel}

	res, err := h.mgr.Perform(ctx, h.snapshot(t), types.ActionCreateTask, createParams())
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Len(t, res.Snapshot.Tasks, 1)
	assert.Error(t, ctx.Err())
}

type unreachableWriter struct {
	ledger.Writer
}

func (unreachableWriter) CreateTask(context.Context, string, time.Time, *big.Int) (ledger.Handle, error) {
	return nil, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
}

func TestPerform_ConnectivityLost(t *testing.T) {
	h := newHarness(t, creator, nil)
	h.mgr.writer = unreachableWriter{Writer: h.chain.As(creator)}

	res, err := h.mgr.Perform(context.Background(), h.snapshot(t), types.ActionCreateTask, createParams())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, types.ErrConnectivityLost)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 0, h.syncer.count())
	assert.Equal(t, 0, h.chain.Dispatched())
	assert.Len(t, h.notes.all(), 1)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "invalid_input", Outcome(types.InvalidInputf("x")))
	assert.Equal(t, "name_required", Outcome(types.ErrNameRequired))
	assert.Equal(t, "timeout", Outcome(types.NewLedgerError(types.ErrSubmissionTimeout, "op", "", nil)))
	assert.Equal(t, "connectivity_lost", Outcome(types.NewLedgerError(types.ErrConnectivityLost, "op", "", nil)))
	assert.Equal(t, "error", Outcome(errors.New("other")))
}
