// Package flow drives the per-user session generation conversation: it
// collects credentials turn by turn, runs the remote login handshake and
// hands the exported string session back to the user.
package flow

import (
	"context"
	"time"

	"sessionbot/internal/models"
	"sessionbot/internal/session"
)

// Inbound is one text message from a user
type Inbound struct {
	UserID int64
	ChatID int64
	Text   string
}

// Keyboard selects the reply markup the transport attaches to a reply
type Keyboard int

const (
	KeyboardNone Keyboard = iota
	KeyboardBackends
	KeyboardCancel
	KeyboardMenu
)

// Reply is an outbound message
type Reply struct {
	Text     string
	Keyboard Keyboard
}

// Notifier delivers replies to a chat
type Notifier interface {
	Send(ctx context.Context, chatID int64, reply Reply) error
}

// OutcomeRecorder persists finished flows for statistics
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome models.FlowOutcome) error
}

// Timeouts bound how long a prompt waits for its reply. Connect bounds
// dialing Telegram.
type Timeouts struct {
	Credential time.Duration
	Code       time.Duration
	Connect    time.Duration
}

// DefaultTimeouts are 5 minutes for credential prompts and 10 for the code
var DefaultTimeouts = Timeouts{
	Credential: 300 * time.Second,
	Code:       600 * time.Second,
	Connect:    30 * time.Second,
}

// Outcome is how a flow ended
type Outcome string

const (
	OutcomeDone               Outcome = "done"
	OutcomeMalformedInput     Outcome = "malformed_input"
	OutcomeInvalidCredentials Outcome = "invalid_credentials"
	OutcomeInvalidIdentifier  Outcome = "invalid_identifier"
	OutcomeCodeInvalid        Outcome = "code_invalid"
	OutcomeCodeExpired        Outcome = "code_expired"
	OutcomePasswordInvalid    Outcome = "password_invalid"
	OutcomeTokenInvalid       Outcome = "token_invalid"
	OutcomeFailure            Outcome = "failure"
	OutcomeTimeout            Outcome = "timeout"
	OutcomeCancelled          Outcome = "cancelled"
)

func (o Outcome) step() session.Step {
	switch o {
	case OutcomeDone:
		return session.StepDone
	case OutcomeCancelled:
		return session.StepCancelled
	default:
		return session.StepError
	}
}

func (o Outcome) message() string {
	switch o {
	case OutcomeMalformedInput:
		return textMalformedAppID
	case OutcomeInvalidCredentials:
		return textInvalidCredentials
	case OutcomeInvalidIdentifier:
		return textInvalidIdentifier
	case OutcomeCodeInvalid:
		return textCodeInvalid
	case OutcomeCodeExpired:
		return textCodeExpired
	case OutcomePasswordInvalid:
		return textPasswordInvalid
	case OutcomeTokenInvalid:
		return textTokenInvalid
	case OutcomeFailure:
		return textFailure
	case OutcomeTimeout:
		return textTimeout
	case OutcomeCancelled:
		return textCancelled
	default:
		return ""
	}
}
