package chainio

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// jsonRPCError mimics an error response decoded by the rpc client.
type jsonRPCError struct {
	msg  string
	code int
	data interface{}
}

func (e *jsonRPCError) Error() string          { return e.msg }
func (e *jsonRPCError) ErrorCode() int         { return e.code }
func (e *jsonRPCError) ErrorData() interface{} { return e.data }

func revertPayload(t *testing.T, reason string) string {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

// fakeBackend answers eth_call from canned outputs keyed by method name.
type fakeBackend struct {
	Backend
	parsed  abi.ABI
	results map[string][]interface{}
	callErr error
	lastMsg ethereum.CallMsg
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.lastMsg = call
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := f.parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.results[method.Name]...)
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	parsed, err := ParsedABI()
	require.NoError(t, err)
	backend.parsed = parsed
	client, err := NewClient(backend, common.HexToAddress("0x01"), common.HexToAddress("0xca11e5"), nil, logging.NewNoOpLogger())
	require.NoError(t, err)
	return client
}

func TestParsedABI_HasLedgerMethods(t *testing.T) {
	parsed, err := ParsedABI()
	require.NoError(t, err)

	for _, name := range []string{
		"getAllTaskIds", "getTask", "getSubmissions", "submissionStatus", "getReputation",
		"getActiveReviewIds", "getReviewStatus", "getName", "getMyName", "isJudge", "judgeCount",
		"createTask", "claimTask", "submitTask", "approveTask", "rejectSubmission",
		"raiseReviewRequest", "voteOnReview", "cancelTask", "setName",
	} {
		_, ok := parsed.Methods[name]
		assert.True(t, ok, name)
	}
	assert.True(t, parsed.Methods["createTask"].IsPayable())
}

func TestRevertReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "abi encoded reason",
			err:  &jsonRPCError{msg: "execution reverted", code: 3, data: revertPayload(t, "Task not open")},
			want: "Task not open",
		},
		{
			name: "reason in message",
			err:  errors.New("execution reverted: Only creator"),
			want: "Only creator",
		},
		{
			name: "plain message",
			err:  errors.New("insufficient funds for gas * price + value"),
			want: "insufficient funds for gas * price + value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, revertReason(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	rpcErr := &jsonRPCError{msg: "execution reverted", code: 3, data: revertPayload(t, "Already claimed")}
	err := classify("claimTask", rpcErr, types.ErrConnectivityLost)
	assert.ErrorIs(t, err, types.ErrRejectedByLedger)
	assert.ErrorIs(t, err, rpcErr)
	assert.Equal(t, "Already claimed", types.Reason(err))

	err = classify("claimTask", errors.New("dial tcp: connection refused"), types.ErrConnectivityLost)
	assert.ErrorIs(t, err, types.ErrConnectivityLost)
	assert.False(t, errors.Is(err, types.ErrRejectedByLedger))

	err = classify("getAllTaskIds", context.DeadlineExceeded, types.ErrLedgerUnavailable)
	assert.ErrorIs(t, err, types.ErrLedgerUnavailable)

	assert.NoError(t, classify("noop", nil, types.ErrLedgerUnavailable))
}

func TestClient_ReadsDecodeContractOutputs(t *testing.T) {
	worker := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creator := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	deadline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	backend := &fakeBackend{results: map[string][]interface{}{
		"getAllTaskIds": {[]*big.Int{big.NewInt(1), big.NewInt(2)}},
		"getTask": {
			creator, "alice", big.NewInt(10), big.NewInt(deadline.Unix()),
			uint8(types.TaskOpen), "Open", common.Address{},
		},
		"getSubmissions": {
			[]submissionTuple{{Worker: worker, Name: "bob", Proof: "ipfs://x", Submitted: true}},
			"translate the README",
		},
		"submissionStatus": {uint8(types.StatusSubmitted)},
	}}
	client := newTestClient(t, backend)
	ctx := context.Background()

	ids, err := client.ListTaskIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.TaskID{1, 2}, ids)

	header, err := client.TaskHeader(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, creator, header.Creator)
	assert.Equal(t, "alice", header.CreatorName)
	assert.Equal(t, "translate the README", header.Description)
	assert.Equal(t, 0, header.Reward.Cmp(big.NewInt(10)))
	assert.True(t, header.Deadline.Equal(deadline))
	assert.Equal(t, types.TaskOpen, header.State)

	subs, err := client.Submissions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, types.RawSubmission{Worker: worker, WorkerName: "bob", Proof: "ipfs://x", Submitted: true}, subs[0])

	status, err := client.SubmissionStatus(ctx, worker, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSubmitted, status)
	assert.Equal(t, common.HexToAddress("0xca11e5"), backend.lastMsg.From)
}

func TestClient_ReadFailureIsLedgerUnavailable(t *testing.T) {
	client := newTestClient(t, &fakeBackend{callErr: errors.New("connection reset by peer")})

	_, err := client.ListTaskIDs(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrLedgerUnavailable)
}

func TestClient_ReadOnlyRejectsWrites(t *testing.T) {
	client := newTestClient(t, &fakeBackend{})
	assert.True(t, client.ReadOnly())

	_, err := client.ClaimTask(context.Background(), 1)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
