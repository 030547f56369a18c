package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claimwise/voicepipe/internal/models"
	pgrepo "github.com/claimwise/voicepipe/internal/repositories/postgres"
	"github.com/claimwise/voicepipe/internal/services"
	"github.com/claimwise/voicepipe/internal/utils"
)

type CallHandler struct {
	svc   *services.CallService
	calls *pgrepo.CallStore
}

func NewCallHandler(svc *services.CallService, calls *pgrepo.CallStore) *CallHandler {
	return &CallHandler{svc: svc, calls: calls}
}

type CreateCallRequest struct {
	PhoneNumber      string            `json:"phone_number" binding:"required"`
	JobID            string            `json:"job_id"`
	CustomerName     string            `json:"customer_name"`
	ClaimNumber      string            `json:"claim_number"`
	InsuranceCompany string            `json:"insurance_company"`
	Metadata         map[string]string `json:"metadata"`
}

type CreateCallResponse struct {
	CallID    string `json:"call_id"`
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	CreatedAt string `json:"created_at"`
}

// Create places the call and returns immediately; monitoring, analysis, and
// the CRM write all happen in the background.
func (h *CallHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CallHandler.Create", "invalid request body", err))
		return
	}

	resp, err := h.svc.CallAndWriteResultsToCRM(c.Request.Context(), models.CallRequest{
		PhoneNumber:      req.PhoneNumber,
		JobID:            req.JobID,
		CustomerName:     req.CustomerName,
		ClaimNumber:      req.ClaimNumber,
		InsuranceCompany: req.InsuranceCompany,
		Metadata:         req.Metadata,
	}, userID)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, "CallHandler.Create", "voice provider rejected the call", err))
		return
	}

	c.JSON(http.StatusOK, CreateCallResponse{
		CallID:    resp.CallID,
		Status:    string(resp.Status),
		Provider:  string(resp.Provider),
		CreatedAt: resp.CreatedAt.Format(time.RFC3339),
	})
}

func (h *CallHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	callID := c.Param("call_id")
	rec, err := h.calls.GetCallByCallID(c.Request.Context(), callID)
	if err != nil {
		if err == utils.ErrNotFound {
			writeError(c, utils.E(utils.CodeNotFound, "CallHandler.Get", "call not found", err))
			return
		}
		writeError(c, utils.E(utils.CodeInternal, "CallHandler.Get", "failed to load call", err))
		return
	}

	if rec.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "CallHandler.Get", "forbidden", nil))
		return
	}

	c.JSON(http.StatusOK, rec)
}
