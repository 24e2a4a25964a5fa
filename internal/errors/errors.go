// Package errors defines the application error taxonomy and its handling.
package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation       = "E100"
	CodeExternalAPI      = "E300"
	CodeState            = "E400"
	CodeRateLimit        = "E500"
	CodeJobRunning       = "E600"
	CodeRequestsDisabled = "E700"
	CodeShuttingDown     = "E800"
	CodeInternal         = "E900"
)

// AppError carries a user-facing message alongside the internal one.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("❌ Invalid input. %s", msg),
		Severity:    SeverityLow,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("External API error: %s", apiName),
		UserMessage: "⚠️ The service is temporarily unavailable. Please try again later.",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "❌ That action is not available right now. Send /start to begin again.",
		Severity:    SeverityLow,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("⏳ Too many requests. Try again in %d seconds.", retryAfter),
		Severity:    SeverityLow,
		Retryable:   true,
	}
}

func NewJobRunningError(userID int64) *AppError {
	return &AppError{
		Code:        CodeJobRunning,
		Message:     fmt.Sprintf("job already running for user %d", userID),
		UserMessage: "⏳ A request is already running. Send /stop to cancel it first.",
		Severity:    SeverityLow,
	}
}

func NewRequestsDisabledError() *AppError {
	return &AppError{
		Code:        CodeRequestsDisabled,
		Message:     "remote requests are disabled",
		UserMessage: "🚫 Requests are currently disabled by the admin. Please try later.",
		Severity:    SeverityLow,
	}
}

func NewShuttingDownError() *AppError {
	return &AppError{
		Code:        CodeShuttingDown,
		Message:     "job supervisor is shutting down",
		UserMessage: "🔧 The bot is restarting. Please try again in a minute.",
		Severity:    SeverityLow,
	}
}

func NewInternalError(cause error) *AppError {
	msg := "internal error"
	if cause != nil {
		msg = fmt.Sprintf("internal error: %s", cause.Error())
	}

	return &AppError{
		Code:        CodeInternal,
		Message:     msg,
		UserMessage: "⚠️ An internal error occurred. Please try again later.",
		Severity:    SeverityHigh,
		cause:       cause,
	}
}
