// Package apperrors is the error taxonomy of the generation pipeline.
//
// Every failure that leaves the pipeline is an *AppError so the dispatch
// layer and the HTTP surface can map it to a status without inspecting
// provider-specific errors.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an AppError
type Code string

const (
	CodeValidation      Code = "VALIDATION_FAILED"
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeCancelled       Code = "CANCELLED"
	CodeNotFound        Code = "NOT_FOUND"
	CodePersistence     Code = "PERSISTENCE_ERROR"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// ErrCancelled is the sentinel carried by every cancellation error.
var ErrCancelled = errors.New("generation cancelled")

// AppError represents an application error with structured information
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status a synchronous caller should see
func (e *AppError) StatusCode() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeCancelled:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports malformed AI output. Never retried.
func NewValidationError(details string) *AppError {
	return &AppError{Code: CodeValidation, Message: "generated recipe failed validation", Details: details}
}

// NewExternalServiceError wraps a collaborator failure
func NewExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: "external service error",
		Details: fmt.Sprintf("failed to communicate with %s", service),
		Cause:   cause,
	}
}

// NewCancelledError is raised at a checkpoint once cancellation is observed
func NewCancelledError(requestID, stage string) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Message: "generation cancelled",
		Details: fmt.Sprintf("request %s stopped before %s", requestID, stage),
		Cause:   ErrCancelled,
	}
}

// NewNotFoundError reports an unknown request id
func NewNotFoundError(requestID string) *AppError {
	return &AppError{Code: CodeNotFound, Message: "generation request not found", Details: requestID}
}

// NewPersistenceError wraps a repository failure
func NewPersistenceError(operation string, cause error) *AppError {
	return &AppError{Code: CodePersistence, Message: "failed to persist recipe", Details: operation, Cause: cause}
}

// CodeOf returns the taxonomy code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, ErrCancelled) {
		return CodeCancelled
	}
	return CodeInternal
}

func IsCancelled(err error) bool  { return CodeOf(err) == CodeCancelled }
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }
func IsNotFound(err error) bool   { return CodeOf(err) == CodeNotFound }
func IsExternal(err error) bool   { return CodeOf(err) == CodeExternalService }

// StatusCode maps any error to an HTTP status.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	if errors.Is(err, ErrCancelled) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// UserMessage is the reason shown to clients. It never includes causes.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "recipe generation failed"
	}
	switch appErr.Code {
	case CodeValidation:
		if appErr.Details != "" {
			return fmt.Sprintf("%s: %s", appErr.Message, appErr.Details)
		}
		return appErr.Message
	case CodeExternalService:
		return "an AI service failed while generating the recipe"
	case CodeCancelled:
		return "generation was cancelled"
	case CodeNotFound:
		return appErr.Message
	default:
		return "recipe generation failed"
	}
}
