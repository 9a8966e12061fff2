// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeContextMalformed ErrorCode = "CONTEXT_MALFORMED"
	ErrCodeCaseNotFound     ErrorCode = "CASE_NOT_FOUND"
	ErrCodeCaseLoadFailed   ErrorCode = "CASE_LOAD_FAILED"

	ErrCodeTemplateLoadFailed ErrorCode = "TEMPLATE_LOAD_FAILED"

	ErrCodeRewriteFailed ErrorCode = "REWRITE_FAILED"

	ErrCodeReviewEnqueueFailed ErrorCode = "REVIEW_ENQUEUE_FAILED"
	ErrCodeRecordUpdateFailed  ErrorCode = "RECORD_UPDATE_FAILED"
	ErrCodeAuditIndexFailed    ErrorCode = "AUDIT_INDEX_FAILED"

	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewContextMalformedError reports a Case Context that fails its precondition.
// Never retryable: the same snapshot will fail the same way.
func NewContextMalformedError(caseID string, err error) *StandardError {
	return newError(ErrCodeContextMalformed, "Case context is malformed",
		fmt.Sprintf("caseId: %s, error: %v", caseID, err), false, err)
}

func NewCaseNotFoundError(caseID string) *StandardError {
	return newError(ErrCodeCaseNotFound, "Case not found in record store",
		fmt.Sprintf("caseId: %s", caseID), false, nil)
}

func NewCaseLoadFailedError(caseID string, err error) *StandardError {
	return newError(ErrCodeCaseLoadFailed, "Case record store error",
		fmt.Sprintf("caseId: %s, error: %v", caseID, err), true, err)
}

func NewTemplateLoadFailedError(path string, err error) *StandardError {
	return newError(ErrCodeTemplateLoadFailed, "Template assets could not be loaded",
		fmt.Sprintf("path: %s, error: %v", path, err), false, err)
}

func NewRewriteFailedError(err error) *StandardError {
	return newError(ErrCodeRewriteFailed, "Generative rewrite failed", err.Error(), true, err)
}

func NewReviewEnqueueFailedError(caseID string, err error) *StandardError {
	return newError(ErrCodeReviewEnqueueFailed, "Draft could not be queued for human review",
		fmt.Sprintf("caseId: %s, error: %v", caseID, err), true, err)
}

func NewRecordUpdateFailedError(caseID string, err error) *StandardError {
	return newError(ErrCodeRecordUpdateFailed, "Case record update failed",
		fmt.Sprintf("caseId: %s, error: %v", caseID, err), true, err)
}

func NewAuditIndexFailedError(err error) *StandardError {
	return newError(ErrCodeAuditIndexFailed, "Audit document could not be indexed", err.Error(), true, err)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Job input is invalid", details, false, nil)
}

// ==========================
// 4. BPMN Mapping & Retry Policy
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeContextMalformed:    "CONTEXT_MALFORMED",
	ErrCodeCaseNotFound:        "CASE_NOT_FOUND",
	ErrCodeCaseLoadFailed:      "CASE_LOAD_FAILED",
	ErrCodeTemplateLoadFailed:  "TEMPLATE_LOAD_FAILED",
	ErrCodeRewriteFailed:       "REWRITE_FAILED",
	ErrCodeReviewEnqueueFailed: "REVIEW_ENQUEUE_FAILED",
	ErrCodeRecordUpdateFailed:  "RECORD_UPDATE_FAILED",
	ErrCodeAuditIndexFailed:    "AUDIT_INDEX_FAILED",
	ErrCodeInvalidInput:        "INVALID_INPUT",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCaseLoadFailed,
		ErrCodeReviewEnqueueFailed,
		ErrCodeRecordUpdateFailed:
		return 3

	case ErrCodeAuditIndexFailed:
		return 1

	default:
		return 0 // Business errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// AsStandardError unwraps err to a *StandardError, wrapping unknown errors as INTERNAL_ERROR.
func AsStandardError(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return newError(ErrCodeInternalError, "Unexpected error", err.Error(), false, err)
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "CONTEXT") || strings.HasPrefix(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.HasPrefix(codeStr, "CASE") || strings.HasPrefix(codeStr, "RECORD"):
		return "RECORD_STORE"
	case strings.HasPrefix(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.HasPrefix(codeStr, "REWRITE"):
		return "AI"
	case strings.HasPrefix(codeStr, "REVIEW"):
		return "REVIEW"
	case strings.HasPrefix(codeStr, "AUDIT"):
		return "AUDIT"
	default:
		return "OTHER"
	}
}
