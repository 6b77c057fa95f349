// Package api holds the gin handlers for the generation endpoints.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/dispatch"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/middleware"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// MaxQueryLength bounds the free-text query
const MaxQueryLength = 500

// GenerationService is the dispatch layer as seen by the handlers
type GenerationService interface {
	Submit(ctx context.Context, req *types.GenerationRequest) (*dispatch.Submission, error)
	Cancel(ctx context.Context, requestID string) (*dispatch.CancelResult, error)
	Status(ctx context.Context, requestID string) (*types.StatusReport, error)
	Health(ctx context.Context) types.QueueHealth
}

// GenerationHandler handles recipe generation requests
type GenerationHandler struct {
	service GenerationService
	log     *zap.Logger
}

// NewGenerationHandler creates a new GenerationHandler instance
func NewGenerationHandler(service GenerationService, log *zap.Logger) *GenerationHandler {
	return &GenerationHandler{service: service, log: log}
}

// GenerateRequest is the submit body
type GenerateRequest struct {
	Query            string                 `json:"query" binding:"required"`
	Save             bool                   `json:"save"`
	SubscriptionTier string                 `json:"subscriptionTier"`
	UserPreferences  *types.UserPreferences `json:"userPreferences"`
}

// CancelRequest is the cancel body
type CancelRequest struct {
	RequestID string `json:"requestId" binding:"required"`
}

// SubmitResponse is returned for queued submissions
type SubmitResponse struct {
	RequestID string       `json:"requestId"`
	Status    types.Status `json:"status"`
}

// CompletedResponse is returned when generation ran inline
type CompletedResponse struct {
	RequestID      string             `json:"requestId"`
	Status         types.Status       `json:"status"`
	Recipe         *types.RecipeDraft `json:"recipe"`
	Merged         bool               `json:"merged"`
	PersonalCopyID string             `json:"personalCopyId,omitempty"`
}

// Generate submits a generation request
func (h *GenerationHandler) Generate(c *gin.Context) {
	var body GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: "query is required", Code: string(apperrors.CodeValidation)})
		return
	}
	query := strings.TrimSpace(body.Query)
	if query == "" || len(query) > MaxQueryLength {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: "query must be between 1 and 500 characters", Code: string(apperrors.CodeValidation)})
		return
	}

	req := &types.GenerationRequest{
		Query:            query,
		UserID:           middleware.UserID(c),
		Save:             body.Save,
		SubscriptionTier: body.SubscriptionTier,
		UserPreferences:  body.UserPreferences,
	}
	// the token's tier wins over the body
	if tier, ok := c.Get(middleware.ContextTier); ok {
		if s, ok := tier.(string); ok {
			req.SubscriptionTier = s
		}
	}

	sub, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		if apperrors.IsCancelled(err) {
			c.JSON(http.StatusConflict, gin.H{
				"requestId": req.RequestID,
				"status":    types.StatusCancelled,
				"error":     apperrors.UserMessage(err),
				"code":      apperrors.CodeCancelled,
			})
			return
		}
		_ = c.Error(err)
		return
	}

	if sub.Mode == types.ModeQueued {
		c.JSON(http.StatusAccepted, SubmitResponse{RequestID: sub.RequestID, Status: sub.Status})
		return
	}

	resp := CompletedResponse{RequestID: sub.RequestID, Status: types.StatusCompleted}
	if sub.Result != nil {
		resp.Recipe = sub.Result.Recipe
		resp.Merged = sub.Result.Merged
		resp.PersonalCopyID = sub.Result.PersonalCopyID
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel stops a queued or running generation
func (h *GenerationHandler) Cancel(c *gin.Context) {
	var body CancelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, middleware.ErrorResponse{Error: "requestId is required", Code: string(apperrors.CodeValidation)})
		return
	}

	res, err := h.service.Cancel(c.Request.Context(), strings.TrimSpace(body.RequestID))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Status reports the progress of a generation
func (h *GenerationHandler) Status(c *gin.Context) {
	report, err := h.service.Status(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if report.Status == types.StatusNotFound {
		c.JSON(http.StatusNotFound, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// QueueHealth describes the background queue
func (h *GenerationHandler) QueueHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health(c.Request.Context()))
}
