package chainio

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/pkg/types"
)

// submissionTuple mirrors TaskMarketplace.Submission.
type submissionTuple struct {
	Worker    common.Address
	Name      string
	Proof     string
	Submitted bool
	Rejected  bool
}

func (c *Client) call(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, classify(method, err, types.ErrLedgerUnavailable)
	}
	return out, nil
}

func unpackErr(method string, err error) error {
	return types.NewLedgerError(types.ErrLedgerUnavailable, method, "unexpected return data", err)
}

func toTaskIDs(method string, v interface{}) ([]types.TaskID, error) {
	raw := *abi.ConvertType(v, new([]*big.Int)).(*[]*big.Int)
	ids := make([]types.TaskID, 0, len(raw))
	for _, id := range raw {
		if !id.IsUint64() {
			return nil, unpackErr(method, fmt.Errorf("task id %s out of range", id))
		}
		ids = append(ids, types.TaskID(id.Uint64()))
	}
	return ids, nil
}

func taskIDArg(id types.TaskID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

func (c *Client) ListTaskIDs(ctx context.Context) ([]types.TaskID, error) {
	out, err := c.call(ctx, c.caller, "getAllTaskIds")
	if err != nil {
		return nil, err
	}
	return toTaskIDs("getAllTaskIds", out[0])
}

// TaskHeader joins getTask with the description, which the contract only
// returns alongside the submission list.
func (c *Client) TaskHeader(ctx context.Context, id types.TaskID) (types.TaskHeader, error) {
	out, err := c.call(ctx, c.caller, "getTask", taskIDArg(id))
	if err != nil {
		return types.TaskHeader{}, err
	}
	state := types.TaskState(*abi.ConvertType(out[4], new(uint8)).(*uint8))
	if !state.Valid() {
		return types.TaskHeader{}, unpackErr("getTask", fmt.Errorf("unknown task state %d", state))
	}
	deadline := *abi.ConvertType(out[3], new(*big.Int)).(**big.Int)
	header := types.TaskHeader{
		Creator:        *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		CreatorName:    *abi.ConvertType(out[1], new(string)).(*string),
		Reward:         *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Deadline:       time.Unix(deadline.Int64(), 0).UTC(),
		State:          state,
		ApprovedWorker: *abi.ConvertType(out[6], new(common.Address)).(*common.Address),
	}

	subsOut, err := c.call(ctx, c.caller, "getSubmissions", taskIDArg(id))
	if err != nil {
		return types.TaskHeader{}, err
	}
	header.Description = *abi.ConvertType(subsOut[1], new(string)).(*string)
	return header, nil
}

func (c *Client) Submissions(ctx context.Context, id types.TaskID) ([]types.RawSubmission, error) {
	out, err := c.call(ctx, c.caller, "getSubmissions", taskIDArg(id))
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]submissionTuple)).(*[]submissionTuple)
	subs := make([]types.RawSubmission, 0, len(tuples))
	for _, t := range tuples {
		subs = append(subs, types.RawSubmission{
			Worker:     t.Worker,
			WorkerName: t.Name,
			Proof:      t.Proof,
			Submitted:  t.Submitted,
			Rejected:   t.Rejected,
		})
	}
	return subs, nil
}

func (c *Client) SubmissionStatus(ctx context.Context, worker common.Address, id types.TaskID) (types.SubmissionStatus, error) {
	out, err := c.call(ctx, c.caller, "submissionStatus", worker, taskIDArg(id))
	if err != nil {
		return types.StatusNone, err
	}
	status := types.SubmissionStatus(*abi.ConvertType(out[0], new(uint8)).(*uint8))
	if !status.Valid() {
		return types.StatusNone, unpackErr("submissionStatus", fmt.Errorf("unknown status %d", status))
	}
	return status, nil
}

func (c *Client) Reputation(ctx context.Context, worker common.Address) (uint64, error) {
	out, err := c.call(ctx, c.caller, "getReputation", worker)
	if err != nil {
		return 0, err
	}
	rep := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !rep.IsUint64() {
		return 0, unpackErr("getReputation", fmt.Errorf("reputation %s out of range", rep))
	}
	return rep.Uint64(), nil
}

func (c *Client) ListActiveReviewIDs(ctx context.Context) ([]types.TaskID, error) {
	out, err := c.call(ctx, c.caller, "getActiveReviewIds")
	if err != nil {
		return nil, err
	}
	return toTaskIDs("getActiveReviewIds", out[0])
}

// ReviewStatus reads the tally as seen by caller; the contract derives the
// voted flag from the message sender.
func (c *Client) ReviewStatus(ctx context.Context, id types.TaskID, caller common.Address) (types.ReviewStatus, error) {
	out, err := c.call(ctx, caller, "getReviewStatus", taskIDArg(id))
	if err != nil {
		return types.ReviewStatus{}, err
	}
	yes := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	no := *abi.ConvertType(out[2], new(*big.Int)).(**big.Int)
	return types.ReviewStatus{
		Active:         *abi.ConvertType(out[0], new(bool)).(*bool),
		YesCount:       yes.Uint64(),
		NoCount:        no.Uint64(),
		CallerVoted:    *abi.ConvertType(out[3], new(bool)).(*bool),
		DisputedWorker: *abi.ConvertType(out[4], new(common.Address)).(*common.Address),
	}, nil
}

func (c *Client) DisplayName(ctx context.Context, addr common.Address) (string, error) {
	var (
		out []interface{}
		err error
	)
	if addr == c.caller && addr != (common.Address{}) {
		out, err = c.call(ctx, addr, "getMyName")
	} else {
		out, err = c.call(ctx, c.caller, "getName", addr)
	}
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (c *Client) IsJudge(ctx context.Context, addr common.Address) (bool, error) {
	out, err := c.call(ctx, c.caller, "isJudge", addr)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *Client) JudgeCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.caller, "judgeCount")
	if err != nil {
		return 0, err
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return n.Uint64(), nil
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, classify("balance", err, types.ErrLedgerUnavailable)
	}
	return bal, nil
}
