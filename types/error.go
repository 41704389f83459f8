package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// LLM collaborator error codes.
const (
	ErrMissingCredential ErrorCode = "LLM_MISSING_CREDENTIAL"
	ErrUnauthorized      ErrorCode = "LLM_UNAUTHORIZED"
	ErrInvalidRequest    ErrorCode = "LLM_INVALID_REQUEST"
	ErrRateLimited       ErrorCode = "LLM_RATE_LIMITED"
	ErrQuotaExceeded     ErrorCode = "LLM_QUOTA_EXCEEDED"
	ErrUpstreamTimeout   ErrorCode = "LLM_UPSTREAM_TIMEOUT"
	ErrUpstreamError     ErrorCode = "LLM_UPSTREAM_ERROR"
	ErrModelOverloaded   ErrorCode = "LLM_MODEL_OVERLOADED"
	ErrMalformedResponse ErrorCode = "LLM_MALFORMED_RESPONSE"
)

// Engine error codes.
const (
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrRoutingCycle      ErrorCode = "ROUTING_CYCLE"
	ErrCompressionFailed ErrorCode = "COMPRESSION_FAILED"
	ErrEmptyContent      ErrorCode = "EMPTY_CONTENT"
	ErrBufferOverflow    ErrorCode = "BUFFER_OVERFLOW"
)

// Persistence error codes.
const (
	ErrInvalidSessionID ErrorCode = "INVALID_SESSION_ID"
	ErrInvalidForkID    ErrorCode = "INVALID_FORK_ID"
	ErrInvalidTurn      ErrorCode = "INVALID_TURN_NUMBER"
	ErrCheckpointWrite  ErrorCode = "CHECKPOINT_WRITE_FAILED"
	ErrForkNotFound     ErrorCode = "FORK_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	if g, ok := err.(*GameError); ok {
		return g.Retryable()
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	switch e := err.(type) {
	case *Error:
		return e.Code
	case *GameError:
		return e.Code
	}
	return ""
}

// GameError is the round-level failure surfaced to callers of the
// orchestrator. It carries enough recovery metadata for the caller to
// decide between retry, rollback, and showing the player a message.
// The orchestrator guarantees that a GameError is always attached to an
// otherwise-untouched prior state.
type GameError struct {
	Code               ErrorCode `json:"code"`
	Message            string    `json:"message"`
	Provider           string    `json:"provider,omitempty"`
	Agent              string    `json:"agent,omitempty"`
	RetryCount         int       `json:"retry_count"`
	LastCheckpointTurn int       `json:"last_checkpoint_turn"`
	Cause              error     `json:"-"`
}

// Error implements the error interface.
func (e *GameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] agent=%s %s: %v", e.Code, e.Agent, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] agent=%s %s", e.Code, e.Agent, e.Message)
}

// Unwrap returns the underlying cause.
func (e *GameError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the underlying failure category is transient.
func (e *GameError) Retryable() bool {
	switch e.Code {
	case ErrRateLimited, ErrUpstreamTimeout, ErrUpstreamError, ErrModelOverloaded:
		return true
	}
	if c, ok := e.Cause.(*Error); ok {
		return c.Retryable
	}
	return false
}

// NarrativeMessage renders a player-facing description of the failure,
// including the last known-good checkpoint turn for recovery.
func (e *GameError) NarrativeMessage() string {
	var what string
	switch e.Code {
	case ErrMissingCredential, ErrUnauthorized:
		what = "the storyteller's connection is not configured"
	case ErrRateLimited, ErrModelOverloaded:
		what = "the storyteller needs a moment to catch their breath"
	case ErrUpstreamTimeout, ErrUpstreamError:
		what = "the storyteller's voice faded mid-sentence"
	default:
		what = "the story was interrupted unexpectedly"
	}
	return fmt.Sprintf("The tale pauses: %s. The chronicle is safe up to turn %d.", what, e.LastCheckpointTurn)
}

// NewGameError creates a GameError from a round failure.
func NewGameError(code ErrorCode, agent, message string) *GameError {
	return &GameError{Code: code, Agent: agent, Message: message}
}

// WithCause attaches the underlying error.
func (e *GameError) WithCause(cause error) *GameError {
	e.Cause = cause
	if c, ok := cause.(*Error); ok && e.Provider == "" {
		e.Provider = c.Provider
	}
	return e
}

// WithCheckpointTurn records the last successfully persisted turn.
func (e *GameError) WithCheckpointTurn(turn int) *GameError {
	e.LastCheckpointTurn = turn
	return e
}

// WithRetryCount records how many attempts have been made.
func (e *GameError) WithRetryCount(n int) *GameError {
	e.RetryCount = n
	return e
}
