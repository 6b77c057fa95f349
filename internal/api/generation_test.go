package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/dispatch"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/middleware"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockService struct {
	mock.Mock
}

func (m *mockService) Submit(ctx context.Context, req *types.GenerationRequest) (*dispatch.Submission, error) {
	args := m.Called(ctx, req)
	if req.RequestID == "" {
		req.RequestID = "req-1"
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.Submission), args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, requestID string) (*dispatch.CancelResult, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.CancelResult), args.Error(1)
}

func (m *mockService) Status(ctx context.Context, requestID string) (*types.StatusReport, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.StatusReport), args.Error(1)
}

func (m *mockService) Health(ctx context.Context) types.QueueHealth {
	return m.Called(ctx).Get(0).(types.QueueHealth)
}

const secret = "test-secret"

func setupRouter(svc GenerationService) *gin.Engine {
	h := NewGenerationHandler(svc, zap.NewNop())
	r := gin.New()
	r.Use(middleware.ErrorHandler(zap.NewNop()))
	g := r.Group("/api/v1/recipes/generate", middleware.OptionalAuth(middleware.NewJWTValidator(secret)))
	g.POST("", h.Generate)
	g.POST("/cancel", h.Cancel)
	g.GET("/queue/health", h.QueueHealth)
	g.GET("/:requestId/status", h.Status)
	return r
}

func do(r *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGenerateQueued(t *testing.T) {
	svc := new(mockService)
	svc.On("Submit", mock.Anything, mock.MatchedBy(func(r *types.GenerationRequest) bool {
		return r.Query == "vegetarian lasagna" && r.UserID == nil && !r.Save
	})).Return(&dispatch.Submission{RequestID: "req-9", Mode: types.ModeQueued, Status: types.StatusProcessing}, nil)

	w := do(setupRouter(svc), http.MethodPost, "/api/v1/recipes/generate",
		map[string]any{"query": "  vegetarian lasagna ", "save": false}, "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"requestId":"req-9","status":"processing"}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestGenerateSynchronous(t *testing.T) {
	svc := new(mockService)
	recipe := &types.RecipeDraft{Title: "Lasagna", Ingredients: []string{"pasta"}, Steps: []types.Step{{Text: "bake"}}}
	svc.On("Submit", mock.Anything, mock.Anything).Return(&dispatch.Submission{
		RequestID: "req-2",
		Mode:      types.ModeSynchronous,
		Status:    types.StatusCompleted,
		Result:    &types.GenerationResult{Recipe: recipe},
	}, nil)

	w := do(setupRouter(svc), http.MethodPost, "/api/v1/recipes/generate", map[string]any{"query": "lasagna"}, "")

	assert.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "Lasagna", out["recipe"].(map[string]any)["title"])
}

func TestGenerateUsesTokenIdentity(t *testing.T) {
	userID := uuid.New()
	token, err := middleware.NewJWTValidator(secret).IssueToken(userID, types.TierPro, time.Hour)
	require.NoError(t, err)

	svc := new(mockService)
	svc.On("Submit", mock.Anything, mock.MatchedBy(func(r *types.GenerationRequest) bool {
		return r.UserID != nil && *r.UserID == userID && r.SubscriptionTier == types.TierPro && r.Save
	})).Return(&dispatch.Submission{RequestID: "req-3", Mode: types.ModeQueued, Status: types.StatusProcessing}, nil)

	w := do(setupRouter(svc), http.MethodPost, "/api/v1/recipes/generate",
		map[string]any{"query": "soup", "save": true, "subscriptionTier": "free"}, token)

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

func TestGenerateRejectsBadBodies(t *testing.T) {
	r := setupRouter(new(mockService))
	long := make([]byte, MaxQueryLength+1)
	for i := range long {
		long[i] = 'a'
	}

	for name, body := range map[string]any{
		"missing query": map[string]any{"save": true},
		"blank query":   map[string]any{"query": "   "},
		"too long":      map[string]any{"query": string(long)},
	} {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/recipes/generate", body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGenerateSynchronousFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperrors.NewValidationError("no steps"), http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"external", apperrors.NewExternalServiceError("text generation", errors.New("timeout")), http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR"},
		{"cancelled", apperrors.NewCancelledError("req-1", "quality_check"), http.StatusConflict, "CANCELLED"},
		{"persistence", apperrors.NewPersistenceError("save", errors.New("db down")), http.StatusInternalServerError, "PERSISTENCE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			svc.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := do(setupRouter(svc), http.MethodPost, "/api/v1/recipes/generate", map[string]any{"query": "stew"}, "")
			assert.Equal(t, tt.status, w.Code)
			out := decode(t, w)
			assert.Equal(t, tt.code, out["code"])
			assert.NotContains(t, out["error"], "db down")
			if tt.code == "CANCELLED" {
				assert.Equal(t, "cancelled", out["status"])
			}
		})
	}
}

func TestCancel(t *testing.T) {
	svc := new(mockService)
	svc.On("Cancel", mock.Anything, "req-1").Return(&dispatch.CancelResult{Success: true, Message: "cancellation requested"}, nil)
	svc.On("Cancel", mock.Anything, "ghost").Return(nil, apperrors.NewNotFoundError("ghost"))
	r := setupRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/recipes/generate/cancel", map[string]any{"requestId": "req-1"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"cancellation requested"}`, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/recipes/generate/cancel", map[string]any{"requestId": "ghost"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["code"])

	w = do(r, http.MethodPost, "/api/v1/recipes/generate/cancel", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatus(t *testing.T) {
	progress := 60
	svc := new(mockService)
	svc.On("Status", mock.Anything, "req-1").Return(&types.StatusReport{
		RequestID:          "req-1",
		Status:             types.StatusProcessing,
		State:              "active",
		Progress:           &progress,
		PartialRecipe:      &types.RecipeDraft{Title: "Stew"},
		PollingRecommended: true,
	}, nil)
	svc.On("Status", mock.Anything, "ghost").Return(&types.StatusReport{RequestID: "ghost", Status: types.StatusNotFound}, nil)
	r := setupRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/recipes/generate/req-1/status", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "processing", out["status"])
	assert.EqualValues(t, 60, out["progress"])
	assert.Equal(t, "Stew", out["partialRecipe"].(map[string]any)["title"])

	w = do(r, http.MethodGet, "/api/v1/recipes/generate/ghost/status", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["status"])
}

func TestQueueHealth(t *testing.T) {
	svc := new(mockService)
	svc.On("Health", mock.Anything).Return(types.QueueHealth{
		QueueConfigured: true,
		QueueConnected:  true,
		IsQueueActive:   true,
		Counts:          map[string]int64{"waiting": 2},
	})

	w := do(setupRouter(svc), http.MethodGet, "/api/v1/recipes/generate/queue/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, true, out["isQueueActive"])
	assert.EqualValues(t, 2, out["counts"].(map[string]any)["waiting"])
}

func TestHealth(t *testing.T) {
	r := gin.New()
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	r.GET("/ok", NewHealthHandler(map[string]Pinger{"db": ok}).Health)
	r.GET("/degraded", NewHealthHandler(map[string]Pinger{"db": ok, "redis": down}).Health)

	w := do(r, http.MethodGet, "/ok", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = do(r, http.MethodGet, "/degraded", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	out := decode(t, w)
	assert.Equal(t, "unavailable", out["checks"].(map[string]any)["redis"])
}
