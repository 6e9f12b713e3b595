// Package views derives role-specific task lists from a snapshot. Every
// function is pure: it reads the snapshot and never modifies it. Addresses
// are compared as 20-byte values, so hex casing never matters.
package views

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/quorum"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// OpenForCaller lists Open tasks the caller did not create and holds no
// active submission on. Tasks past their deadline at now are left out.
func OpenForCaller(s *types.Snapshot, caller common.Address, now time.Time) []types.Task {
	return filter(s, func(t *types.Task) bool {
		if t.State != types.TaskOpen || t.CreatedBy(caller) || t.Expired(now) {
			return false
		}
		sub, ok := t.SubmissionBy(caller)
		return !ok || sub.Status == types.StatusNone
	})
}

// CreatedByCaller lists tasks the caller created, in any state.
func CreatedByCaller(s *types.Snapshot, caller common.Address) []types.Task {
	return filter(s, func(t *types.Task) bool {
		return t.CreatedBy(caller)
	})
}

// SubmittedByCaller lists tasks holding a submission from the caller, in
// any state.
func SubmittedByCaller(s *types.Snapshot, caller common.Address) []types.Task {
	return filter(s, func(t *types.Task) bool {
		_, ok := t.SubmissionBy(caller)
		return ok
	})
}

// filter returns copies of matching tasks in snapshot order. Submission
// slices are cloned so callers can't reach into the snapshot.
func filter(s *types.Snapshot, keep func(*types.Task) bool) []types.Task {
	out := []types.Task{}
	if s == nil {
		return out
	}
	for i := range s.Tasks {
		if !keep(&s.Tasks[i]) {
			continue
		}
		t := s.Tasks[i]
		t.Submissions = append([]types.Submission{}, t.Submissions...)
		out = append(out, t)
	}
	return out
}

// AvailableAction is an action the caller may request on a task. Worker is
// set for actions aimed at one submission.
type AvailableAction struct {
	Action types.Action   `json:"action"`
	TaskID types.TaskID   `json:"taskId"`
	Worker common.Address `json:"worker,omitempty"`
}

// ActionsFor lists the actions worth offering to caller on task at now.
// The ledger stays the authority; this only hides actions it would refuse.
// s supplies the active reviews; a nil s is treated as having none.
func ActionsFor(s *types.Snapshot, task *types.Task, caller common.Address, now time.Time) []AvailableAction {
	var out []AvailableAction
	add := func(a types.Action, worker common.Address) {
		out = append(out, AvailableAction{Action: a, TaskID: task.ID, Worker: worker})
	}

	if task.CreatedBy(caller) {
		if task.Cancellable(now) {
			add(types.ActionCancelTask, common.Address{})
		}
		if task.State.IsClosed() {
			return out
		}
		for _, sub := range task.Submissions {
			if sub.Status == types.StatusSubmitted {
				add(types.ActionApproveSubmission, sub.Worker)
				add(types.ActionRejectSubmission, sub.Worker)
			}
		}
		return out
	}

	sub, hasSub := task.SubmissionBy(caller)
	switch {
	case !hasSub || sub.Status == types.StatusNone:
		if task.State == types.TaskOpen && !task.Expired(now) {
			add(types.ActionClaimTask, common.Address{})
		}
	case sub.Status == types.StatusClaimed:
		if !task.State.IsClosed() {
			add(types.ActionSubmitProof, common.Address{})
		}
	case sub.Status == types.StatusRejected:
		if r, ok := s.Review(task.ID); !ok || !r.Active {
			add(types.ActionRaiseDispute, common.Address{})
		}
	}
	return out
}

// JudgeItem is an active review joined with the disputed task and
// submission, for judges deciding how to vote.
type JudgeItem struct {
	Review     types.Review      `json:"review"`
	Task       *types.Task       `json:"task,omitempty"`
	Submission *types.Submission `json:"submission,omitempty"`
	Decision   quorum.Decision   `json:"decision"`
}

// JudgeQueue lists active reviews for a judge-eligible caller. It is empty
// for everyone else. Task and Submission are nil when the task was omitted
// from the snapshot.
func JudgeQueue(s *types.Snapshot) []JudgeItem {
	out := []JudgeItem{}
	if s == nil || !s.IsJudge {
		return out
	}
	for _, r := range s.Reviews {
		item := JudgeItem{Review: r, Decision: quorum.Decide(r, s.JudgeCount)}
		if t, ok := s.Task(r.TaskID); ok {
			task := *t
			task.Submissions = append([]types.Submission{}, t.Submissions...)
			item.Task = &task
			if sub, ok := task.SubmissionBy(r.Worker); ok {
				item.Submission = sub
			}
		}
		out = append(out, item)
	}
	return out
}
