package chainio

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/trigg3rX/taskmarket/pkg/types"
)

const revertPrefix = "execution reverted: "

// classify maps an RPC failure onto the error taxonomy. A JSON-RPC error
// response means the node executed and refused the call; anything else is a
// transport failure of kind transport.
func classify(op string, err error, transport error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewLedgerError(transport, op, "", err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return types.NewLedgerError(types.ErrRejectedByLedger, op, revertReason(err), err)
	}
	return types.NewLedgerError(transport, op, "", err)
}

// revertReason extracts the contract's reason string from a revert, falling
// back to the node's message.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := revertData(dataErr.ErrorData()); len(data) > 0 {
			if reason, uerr := abi.UnpackRevert(data); uerr == nil {
				return reason
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, revertPrefix); i >= 0 {
		return msg[i+len(revertPrefix):]
	}
	return msg
}

func revertData(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		if b, err := hexutil.Decode(d); err == nil {
			return b
		}
	case []byte:
		return d
	}
	return nil
}
