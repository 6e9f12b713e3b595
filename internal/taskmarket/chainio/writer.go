package chainio

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// gasHeadroomPercent pads the estimate; state may move between estimation
// and inclusion.
const gasHeadroomPercent = 120

// txHandle awaits a dispatched transaction.
type txHandle struct {
	client *Client
	method string
	tx     *ethtypes.Transaction
	msg    ethereum.CallMsg
}

func (h *txHandle) TxHash() common.Hash {
	return h.tx.Hash()
}

func (h *txHandle) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, h.client.backend, h.tx)
	if err != nil {
		return err
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		h.client.logger.Info("Transaction confirmed",
			"method", h.method,
			"tx_hash", h.tx.Hash().Hex(),
			"block", receipt.BlockNumber.String(),
			"gas_used", receipt.GasUsed,
		)
		return nil
	}

	reason := h.client.replayRevert(ctx, h.msg, receipt.BlockNumber)
	h.client.logger.Warn("Transaction reverted",
		"method", h.method,
		"tx_hash", h.tx.Hash().Hex(),
		"reason", reason,
	)
	return types.NewLedgerError(types.ErrRejectedByLedger, h.method, reason, nil)
}

// replayRevert re-executes a reverted call against the parent of its block
// to recover the revert reason.
func (c *Client) replayRevert(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	var at *big.Int
	if block != nil && block.Sign() > 0 {
		at = new(big.Int).Sub(block, big.NewInt(1))
	}
	if _, err := c.backend.CallContract(ctx, msg, at); err != nil {
		return revertReason(err)
	}
	return "execution reverted"
}

// transact estimates, signs and broadcasts a contract call. Estimation runs
// the call against current state, so most refusals surface here with the
// contract's reason before anything is broadcast.
func (c *Client) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (ledger.Handle, error) {
	if c.auth == nil {
		return nil, types.InvalidInputf("%s: read-only session", method)
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, types.InvalidInputf("%s: %v", method, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	msg := ethereum.CallMsg{From: c.auth.From, To: &c.address, Value: value, Data: input}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classify(method, err, types.ErrConnectivityLost)
	}

	opts := *c.auth
	opts.Context = ctx
	opts.Value = value
	opts.GasLimit = gas * gasHeadroomPercent / 100

	tx, err := c.contract.RawTransact(&opts, input)
	if err != nil {
		return nil, classify(method, err, types.ErrConnectivityLost)
	}
	c.logger.Info("Transaction dispatched",
		"method", method,
		"tx_hash", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
		"gas_limit", tx.Gas(),
	)
	return &txHandle{client: c, method: method, tx: tx, msg: msg}, nil
}

func (c *Client) CreateTask(ctx context.Context, description string, deadline time.Time, reward *big.Int) (ledger.Handle, error) {
	return c.transact(ctx, reward, "createTask", description, big.NewInt(deadline.Unix()))
}

func (c *Client) ClaimTask(ctx context.Context, id types.TaskID) (ledger.Handle, error) {
	return c.transact(ctx, nil, "claimTask", taskIDArg(id))
}

func (c *Client) SubmitProof(ctx context.Context, id types.TaskID, proof string) (ledger.Handle, error) {
	return c.transact(ctx, nil, "submitTask", taskIDArg(id), proof)
}

func (c *Client) ApproveSubmission(ctx context.Context, id types.TaskID, worker common.Address) (ledger.Handle, error) {
	return c.transact(ctx, nil, "approveTask", taskIDArg(id), worker)
}

func (c *Client) RejectSubmission(ctx context.Context, id types.TaskID, worker common.Address) (ledger.Handle, error) {
	return c.transact(ctx, nil, "rejectSubmission", taskIDArg(id), worker)
}

func (c *Client) RaiseDispute(ctx context.Context, id types.TaskID) (ledger.Handle, error) {
	return c.transact(ctx, nil, "raiseReviewRequest", taskIDArg(id))
}

func (c *Client) CastVote(ctx context.Context, id types.TaskID, approve bool) (ledger.Handle, error) {
	return c.transact(ctx, nil, "voteOnReview", taskIDArg(id), approve)
}

func (c *Client) CancelTask(ctx context.Context, id types.TaskID) (ledger.Handle, error) {
	return c.transact(ctx, nil, "cancelTask", taskIDArg(id))
}

func (c *Client) SetDisplayName(ctx context.Context, name string) (ledger.Handle, error) {
	return c.transact(ctx, nil, "setName", name)
}
