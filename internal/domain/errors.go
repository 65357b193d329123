package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrProviderError  = fmt.Errorf("provider error")
	ErrTimeout        = fmt.Errorf("operation timed out")
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
	ErrStreamNotReady = fmt.Errorf("stream not ready")
)

// Upstream errors.
var (
	ErrStrategyNotFound    = fmt.Errorf("generation strategy not found")
	ErrContextOverflow     = fmt.Errorf("context window exceeded")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")
	ErrModelInvalid        = fmt.Errorf("model not accepted by upstream")
	ErrUpstreamUnavailable = fmt.Errorf("upstream service unavailable")
	ErrCircuitOpen         = fmt.Errorf("circuit open")
	ErrStreamInterrupted   = fmt.Errorf("upstream stream interrupted")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Converse.Stream")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on a fresh request. The relay itself never retries.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeStreamNotReady      ErrorCode = "STREAM_NOT_READY"
	CodeStrategyNotFound    ErrorCode = "STRATEGY_NOT_FOUND"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeModelInvalid        ErrorCode = "MODEL_INVALID"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeStreamInterrupted   ErrorCode = "STREAM_INTERRUPTED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidInput:        CodeInvalidInput,
	ErrProviderError:       CodeProviderError,
	ErrTimeout:             CodeTimeout,
	ErrConfigLoad:          CodeConfigLoad,
	ErrStreamNotReady:      CodeStreamNotReady,
	ErrStrategyNotFound:    CodeStrategyNotFound,
	ErrContextOverflow:     CodeContextOverflow,
	ErrRateLimit:           CodeRateLimit,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrModelInvalid:        CodeModelInvalid,
	ErrUpstreamUnavailable: CodeUpstreamUnavailable,
	ErrCircuitOpen:         CodeCircuitOpen,
	ErrStreamInterrupted:   CodeStreamInterrupted,
}

// errorCodePrecedence orders sentinels from most to least specific. An error
// may wrap several sentinels (e.g. an interrupted stream caused by throttling);
// the most specific one names the code.
var errorCodePrecedence = []error{
	ErrContextOverflow,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrModelInvalid,
	ErrCircuitOpen,
	ErrUpstreamUnavailable,
	ErrTimeout,
	ErrStreamNotReady,
	ErrStrategyNotFound,
	ErrInvalidInput,
	ErrConfigLoad,
	ErrStreamInterrupted,
	ErrProviderError,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range errorCodePrecedence {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
