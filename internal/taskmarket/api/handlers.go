package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/quorum"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/session"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/txmanager"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

type Handler struct {
	session *session.Session
	logger  logging.Logger
}

func NewHandler(sess *session.Session, logger logging.Logger) *Handler {
	return &Handler{session: sess, logger: logger}
}

// ActionRequest is the JSON body of POST /actions/:action. Reward is in
// whole currency units, e.g. "0.25".
type ActionRequest struct {
	TaskID      types.TaskID `json:"taskId"`
	Description string       `json:"description"`
	Reward      string       `json:"reward"`
	Deadline    time.Time    `json:"deadline"`
	Proof       string       `json:"proof"`
	Worker      string       `json:"worker"`
	Approve     bool         `json:"approve"`
	Name        string       `json:"name"`
}

func (r ActionRequest) params() (types.ActionParams, error) {
	p := types.ActionParams{
		TaskID:      r.TaskID,
		Description: r.Description,
		Deadline:    r.Deadline,
		Proof:       r.Proof,
		Approve:     r.Approve,
		Name:        r.Name,
	}
	if r.Reward != "" {
		reward, err := types.ParseEther(r.Reward)
		if err != nil {
			return p, err
		}
		p.Reward = reward
	}
	if r.Worker != "" {
		worker, err := types.ParseAddress(r.Worker)
		if err != nil {
			return p, err
		}
		p.Worker = worker
	}
	return p, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNameRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, types.ErrRejectedByLedger):
		return http.StatusConflict
	case errors.Is(err, types.ErrSubmissionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrConnectivityLost):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error, extra gin.H) {
	body := gin.H{
		"error":     err.Error(),
		"reason":    types.Reason(err),
		"retryable": types.IsRetryable(err),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(statusFor(err), body)
}

// caller reads the optional ?caller= query parameter. The zero address
// stands for the session identity.
func (h *Handler) caller(c *gin.Context) (common.Address, bool) {
	raw := c.Query("caller")
	if raw == "" {
		return common.Address{}, true
	}
	addr, err := types.ParseAddress(raw)
	if err != nil {
		h.fail(c, err, nil)
		return common.Address{}, false
	}
	return addr, true
}

// snapshot writes 503 and returns nil until the first synchronization.
func (h *Handler) snapshot(c *gin.Context) *types.Snapshot {
	snap := h.session.Snapshot()
	if snap == nil {
		h.fail(c, types.NewLedgerError(types.ErrLedgerUnavailable, "snapshot", "not synchronized yet", nil), nil)
	}
	return snap
}

func (h *Handler) HandleStatus(c *gin.Context) {
	body := gin.H{
		"caller":   h.session.Caller().Hex(),
		"readOnly": h.session.ReadOnly(),
	}
	if snap := h.session.Snapshot(); snap != nil {
		body["syncedAt"] = snap.SyncedAt
		body["degraded"] = snap.Degraded()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) HandleSnapshot(c *gin.Context) {
	if snap := h.snapshot(c); snap != nil {
		c.JSON(http.StatusOK, snap)
	}
}

func (h *Handler) HandleSync(c *gin.Context) {
	snap, err := h.session.Synchronize(c.Request.Context())
	if err != nil {
		h.logger.Warn("Synchronization request failed", "error", err)
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) taskList(c *gin.Context, list func(common.Address) []types.Task) {
	addr, ok := h.caller(c)
	if !ok || h.snapshot(c) == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list(addr)})
}

func (h *Handler) HandleOpenTasks(c *gin.Context) {
	h.taskList(c, h.session.OpenForCaller)
}

func (h *Handler) HandleCreatedTasks(c *gin.Context) {
	h.taskList(c, h.session.CreatedByCaller)
}

func (h *Handler) HandleSubmittedTasks(c *gin.Context) {
	h.taskList(c, h.session.SubmittedByCaller)
}

func (h *Handler) HandleTaskActions(c *gin.Context) {
	id, err := types.ParseTaskID(c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	addr, ok := h.caller(c)
	if !ok || h.snapshot(c) == nil {
		return
	}
	actions, found := h.session.ActionsFor(id, addr)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "task " + id.String() + " not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": id, "actions": actions})
}

// HandleReviews returns the quorum view of every active review, and the
// judge queue when the session identity is a judge.
func (h *Handler) HandleReviews(c *gin.Context) {
	snap := h.snapshot(c)
	if snap == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"judgeCount": snap.JudgeCount,
		"decisions":  quorum.All(snap),
		"queue":      h.session.JudgeQueue(),
	})
}

func (h *Handler) HandleAction(c *gin.Context) {
	action, err := types.ParseAction(c.Param("action"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	var req ActionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, types.InvalidInputf("request body: %v", err), nil)
			return
		}
	}
	params, err := req.params()
	if err != nil {
		h.fail(c, err, nil)
		return
	}

	res, err := h.session.Perform(c.Request.Context(), action, params)
	if err != nil {
		h.fail(c, err, resultFields(res))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action":  res.Action,
		"txHash":  res.TxHash.Hex(),
		"message": action.SuccessMessage(),
	})
}

// resultFields reports the transaction of a dispatched write that failed
// later, so the client can look it up.
func resultFields(res *txmanager.Result) gin.H {
	if res == nil {
		return nil
	}
	return gin.H{"txHash": res.TxHash.Hex()}
}

// HandleEvents streams notifications as server-sent events until the
// client goes away.
func (h *Handler) HandleEvents(c *gin.Context) {
	id, ch, cancel := h.session.Subscribe()
	defer cancel()
	h.logger.Debug("Event stream opened", "subscriber", id)

	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(strings.ToLower(string(n.Kind)), n)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	h.logger.Debug("Event stream closed", "subscriber", id)
}
