// Package txmanager drives a ledger write from local validation to a
// reconciled snapshot.
package txmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/metrics"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/notify"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

const defaultFinalityTimeout = 2 * time.Minute

// Syncer rebuilds and publishes the session snapshot.
type Syncer interface {
	Synchronize(ctx context.Context) (*types.Snapshot, error)
}

type Config struct {
	// FinalityTimeout bounds the wait for finality, and separately the
	// reconciling synchronization.
	FinalityTimeout time.Duration
	Now             func() time.Time
}

// Result describes a dispatched write.
type Result struct {
	Action types.Action `json:"action"`
	TxHash common.Hash  `json:"txHash"`
	// Snapshot is the reconciled snapshot, set on success.
	Snapshot *types.Snapshot `json:"-"`
}

type Manager struct {
	writer   ledger.Writer
	syncer   Syncer
	notifier notify.Notifier
	cfg      Config
	logger   logging.Logger
}

// NewManager creates a manager. A nil writer makes every action fail as
// invalid input (read-only session).
func NewManager(writer ledger.Writer, syncer Syncer, notifier notify.Notifier, cfg Config, logger logging.Logger) *Manager {
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = defaultFinalityTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{writer: writer, syncer: syncer, notifier: notifier, cfg: cfg, logger: logger}
}

// Perform validates, dispatches and awaits action, then re-synchronizes.
// snap is the snapshot the request was made against and backs the local
// checks. Exactly one notification is published per call.
//
// The returned Result is non-nil whenever the write was dispatched, even
// when an error is returned, so callers can report the transaction hash of
// a write that timed out or could not be reconciled.
//
// Once dispatched, finality and reconciliation run to completion even if
// ctx is cancelled.
func (m *Manager) Perform(ctx context.Context, snap *types.Snapshot, action types.Action, params types.ActionParams) (*Result, error) {
	start := time.Now()
	res, err := m.perform(ctx, snap, action, params)

	outcome := Outcome(err)
	metrics.WritesTotal.WithLabelValues(string(action), outcome).Inc()
	if res != nil {
		metrics.WriteDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		m.logger.Warn("Action failed", "action", action, "outcome", outcome, "error", err)
		m.notifier.Publish(notify.Failure(action, err))
		return res, err
	}
	m.logger.Info("Action completed", "action", action, "tx_hash", res.TxHash.Hex(), "duration", time.Since(start))
	m.notifier.Publish(notify.Success(action, res.TxHash.Hex()))
	return res, nil
}

func (m *Manager) perform(ctx context.Context, snap *types.Snapshot, action types.Action, params types.ActionParams) (*Result, error) {
	if err := m.Validate(snap, action, params); err != nil {
		return nil, err
	}

	handle, err := m.dispatch(ctx, action, params)
	if err != nil {
		return nil, dispatchError(string(action), err)
	}
	res := &Result{Action: action, TxHash: handle.TxHash()}
	m.logger.Info("Awaiting finality", "action", action, "tx_hash", res.TxHash.Hex())

	// the write is in flight; the caller abandoning ctx must not leave the
	// snapshot stale for other consumers
	detached := context.WithoutCancel(ctx)

	waitCtx, cancel := context.WithTimeout(detached, m.cfg.FinalityTimeout)
	err = handle.Wait(waitCtx)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		m.reconcileAfterTimeout(detached, action)
		return res, types.NewLedgerError(types.ErrSubmissionTimeout, string(action),
			fmt.Sprintf("transaction %s not final after %s; synchronize before retrying", res.TxHash.Hex(), m.cfg.FinalityTimeout), err)
	case errors.Is(err, types.ErrRejectedByLedger):
		return res, err
	default:
		return res, types.NewLedgerError(types.ErrConnectivityLost, string(action), "lost track of transaction "+res.TxHash.Hex(), err)
	}

	syncCtx, cancel := context.WithTimeout(detached, m.cfg.FinalityTimeout)
	defer cancel()
	fresh, err := m.syncer.Synchronize(syncCtx)
	if err != nil {
		return res, types.NewLedgerError(types.ErrLedgerUnavailable, string(action),
			"confirmed, but the refreshed state could not be read", err)
	}
	res.Snapshot = fresh
	return res, nil
}

// reconcileAfterTimeout refreshes the snapshot so a retry is decided
// against current state. Its failure is only logged.
func (m *Manager) reconcileAfterTimeout(ctx context.Context, action types.Action) {
	syncCtx, cancel := context.WithTimeout(ctx, m.cfg.FinalityTimeout)
	defer cancel()
	if _, err := m.syncer.Synchronize(syncCtx); err != nil {
		m.logger.Warn("Synchronization after finality timeout failed", "action", action, "error", err)
	}
}

func (m *Manager) dispatch(ctx context.Context, action types.Action, p types.ActionParams) (ledger.Handle, error) {
	switch action {
	case types.ActionCreateTask:
		return m.writer.CreateTask(ctx, strings.TrimSpace(p.Description), p.Deadline, p.Reward)
	case types.ActionClaimTask:
		return m.writer.ClaimTask(ctx, p.TaskID)
	case types.ActionSubmitProof:
		return m.writer.SubmitProof(ctx, p.TaskID, strings.TrimSpace(p.Proof))
	case types.ActionApproveSubmission:
		return m.writer.ApproveSubmission(ctx, p.TaskID, p.Worker)
	case types.ActionRejectSubmission:
		return m.writer.RejectSubmission(ctx, p.TaskID, p.Worker)
	case types.ActionRaiseDispute:
		return m.writer.RaiseDispute(ctx, p.TaskID)
	case types.ActionCastVote:
		return m.writer.CastVote(ctx, p.TaskID, p.Approve)
	case types.ActionCancelTask:
		return m.writer.CancelTask(ctx, p.TaskID)
	case types.ActionSetDisplayName:
		return m.writer.SetDisplayName(ctx, strings.TrimSpace(p.Name))
	default:
		return nil, types.InvalidInputf("unknown action %q", action)
	}
}

// dispatchError keeps classified ledger errors and treats anything else as
// a failure to reach the ledger.
func dispatchError(op string, err error) error {
	var le *types.LedgerError
	if errors.As(err, &le) || errors.Is(err, types.ErrInvalidInput) {
		return err
	}
	return types.NewLedgerError(types.ErrConnectivityLost, op, "", err)
}

// Outcome labels err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, types.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, types.ErrNameRequired):
		return "name_required"
	case errors.Is(err, types.ErrRejectedByLedger):
		return "rejected"
	case errors.Is(err, types.ErrSubmissionTimeout):
		return "timeout"
	case errors.Is(err, types.ErrConnectivityLost):
		return "connectivity_lost"
	case errors.Is(err, types.ErrLedgerUnavailable):
		return "ledger_unavailable"
	default:
		return "error"
	}
}
