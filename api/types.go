package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/questflow/types"
)

// ====== Session types ======

// SessionRequest creates and starts a campaign session.
type SessionRequest struct {
	// Session identifier, unique among managed sessions.
	SessionID string `json:"session_id" example:"session_001" binding:"required"`
	// Player-character agent IDs; the DM is always added.
	PlayerCharacters []string `json:"player_characters" example:"pc1,pc2" binding:"required"`
	// Round cap for the autopilot run; zero runs until stall or stop.
	MaxRounds int `json:"max_rounds,omitempty" example:"20"`
}

// SessionStatusResponse reports one managed session.
type SessionStatusResponse struct {
	// Session identifier.
	SessionID string `json:"session_id" example:"session_001"`
	// Whether the session's autopilot is still driving rounds.
	Running bool `json:"running" example:"true"`
	// Stop reason once finished: turn_limit, stall, error, stopped.
	Reason string `json:"reason,omitempty" example:"stall"`
	// Narrative length in ground-truth log lines.
	LogLines int `json:"log_lines" example:"42"`
	// Terminal error, present for reason=error.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ActionRequest submits a human-controlled character's action.
type ActionRequest struct {
	// The action text, spoken as the controlled character.
	Action string `json:"action" example:"I pick the lock." binding:"required"`
}

// ====== Fork types ======

// ForkRequest creates a new timeline branch.
type ForkRequest struct {
	// Human-readable branch name.
	Name string `json:"name" example:"what-if-we-fought"`
	// Turn to branch from; -1 branches from the latest checkpoint.
	FromTurn int `json:"from_turn" example:"-1"`
}

// ForkInfo describes one timeline branch.
type ForkInfo struct {
	ID        string    `json:"id" example:"fork_4f2c"`
	Name      string    `json:"name" example:"what-if-we-fought"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count" example:"12"`
	Archived  bool      `json:"archived" example:"false"`
}

// ForkListResponse lists a session's branches.
type ForkListResponse struct {
	Forks []ForkInfo `json:"forks"`
}

// ForkCompareResponse reports where two timelines diverge.
type ForkCompareResponse struct {
	// Checkpoint turn numbers held by each timeline.
	TurnsA []int `json:"turns_a"`
	TurnsB []int `json:"turns_b"`
	// First log line index where the timelines differ; -1 when one is a
	// prefix of the other.
	DivergedAtLine int `json:"diverged_at_line" example:"7"`
	CommonLogLines int `json:"common_log_lines" example:"7"`
}

// ====== Event stream types ======

// EventEnvelope frames one engine event on the websocket stream.
type EventEnvelope struct {
	// Event type: turn_update, round_complete, round_failed, retry,
	// heartbeat, autopilot, combat, compression.
	Type string `json:"type" example:"turn_update"`
	// Event occurrence time.
	At time.Time `json:"at"`
	// Type-specific event body.
	Payload any `json:"payload"`
}

// ====== Error types ======

// ErrorResponse is the error envelope of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable failure description.
type ErrorDetail struct {
	// Engine error code.
	Code string `json:"code" example:"INVALID_REQUEST"`
	// Human-readable message.
	Message string `json:"message" example:"Invalid request parameters"`
	// HTTP status the error maps to.
	HTTPStatus int `json:"http_status,omitempty" example:"400"`
	// Whether retrying the request can succeed.
	Retryable bool `json:"retryable,omitempty" example:"false"`
	// Upstream provider that produced the failure, when known.
	Provider string `json:"provider,omitempty" example:"openai"`
}

// NewErrorDetail converts an engine error into its wire form.
func NewErrorDetail(err error) ErrorDetail {
	var e *types.Error
	if errors.As(err, &e) {
		status := e.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return ErrorDetail{
			Code:       string(e.Code),
			Message:    e.Message,
			HTTPStatus: status,
			Retryable:  e.Retryable,
			Provider:   e.Provider,
		}
	}

	var g *types.GameError
	if errors.As(err, &g) {
		return ErrorDetail{
			Code:       string(g.Code),
			Message:    g.NarrativeMessage(),
			HTTPStatus: http.StatusInternalServerError,
			Retryable:  g.Retryable(),
			Provider:   g.Provider,
		}
	}

	return ErrorDetail{
		Code:       string(types.ErrInternalError),
		Message:    err.Error(),
		HTTPStatus: http.StatusInternalServerError,
	}
}
