package txmanager

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/pkg/types"
)

// Validate runs the checks that need no ledger call. Ownership and status
// rules stay with the ledger, except the cancel and vote guards, which are
// checked against snap.
func (m *Manager) Validate(snap *types.Snapshot, action types.Action, p types.ActionParams) error {
	if m.writer == nil {
		return types.InvalidInputf("%s: read-only session", action)
	}
	now := m.cfg.Now()

	switch action {
	case types.ActionCreateTask:
		if strings.TrimSpace(p.Description) == "" {
			return types.InvalidInputf("description is required")
		}
		if p.Reward == nil || p.Reward.Sign() <= 0 {
			return types.InvalidInputf("reward must be greater than zero")
		}
		if !p.Deadline.After(now) {
			return types.InvalidInputf("deadline %s is not in the future", p.Deadline.Format("2006-01-02 15:04"))
		}

	case types.ActionClaimTask, types.ActionRaiseDispute:

	case types.ActionSubmitProof:
		if strings.TrimSpace(p.Proof) == "" {
			return types.InvalidInputf("proof reference is required")
		}

	case types.ActionApproveSubmission, types.ActionRejectSubmission:
		if p.Worker == (common.Address{}) {
			return types.InvalidInputf("worker address is required")
		}

	case types.ActionCancelTask:
		task, ok := snap.Task(p.TaskID)
		if !ok {
			return types.InvalidInputf("task %s is not in the current snapshot", p.TaskID)
		}
		if task.State != types.TaskOpen {
			return types.InvalidInputf("task %s is %s, only open tasks can be cancelled", p.TaskID, task.State)
		}
		if !task.Cancellable(now) {
			return types.InvalidInputf("task %s has submissions and its deadline has not passed", p.TaskID)
		}

	case types.ActionCastVote:
		review, ok := snap.Review(p.TaskID)
		if !ok || !review.Active {
			return types.InvalidInputf("task %s has no active review", p.TaskID)
		}
		if review.CallerVoted {
			return types.InvalidInputf("already voted on task %s", p.TaskID)
		}

	case types.ActionSetDisplayName:
		if strings.TrimSpace(p.Name) == "" {
			return types.InvalidInputf("display name is required")
		}

	default:
		return types.InvalidInputf("unknown action %q", action)
	}
	return nil
}
