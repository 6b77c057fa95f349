package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorHandler renders the last error a handler attached with c.Error
// as a JSON envelope, and turns panics into a 500.
func ErrorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic while serving request",
					zap.Any("panic", rec),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error: "internal server error",
					Code:  string(apperrors.CodeInternal),
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status := apperrors.StatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.JSON(status, ErrorResponse{
			Error: apperrors.UserMessage(err),
			Code:  string(apperrors.CodeOf(err)),
		})
	}
}
