// Package session holds in-flight session generation flows, one per user.
package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"sessionbot/internal/remote"
)

// Step is the position of a flow in the conversation
type Step int

const (
	StepIdle Step = iota
	StepAwaitBackendChoice
	StepAwaitAppID
	StepAwaitAppSecret
	StepAwaitIdentifier
	StepAuthenticatingBot
	StepAwaitOTP
	StepAwait2FAPassword
	StepExporting
	StepDone
	StepError
	StepCancelled
)

var stepNames = map[Step]string{
	StepIdle:               "idle",
	StepAwaitBackendChoice: "await_backend_choice",
	StepAwaitAppID:         "await_app_id",
	StepAwaitAppSecret:     "await_app_secret",
	StepAwaitIdentifier:    "await_identifier",
	StepAuthenticatingBot:  "authenticating_bot",
	StepAwaitOTP:           "await_otp",
	StepAwait2FAPassword:   "await_2fa_password",
	StepExporting:          "exporting",
	StepDone:               "done",
	StepError:              "error",
	StepCancelled:          "cancelled",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Terminal reports whether the step ends the flow
func (s Step) Terminal() bool {
	return s == StepDone || s == StepError || s == StepCancelled
}

// Session is one user's in-flight flow. Client is owned by the session and
// is closed through Close on every exit path.
type Session struct {
	UserID int64
	ChatID int64
	FlowID string

	Backend remote.Backend
	Kind    remote.AccountKind
	Step    Step

	Credentials remote.Credentials
	Challenge   *remote.Challenge
	Client      remote.Client

	Deadline time.Time
}

// Expired reports whether the reply deadline has passed
func (s *Session) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// Close disconnects the live client, if any. Errors are logged, never
// returned, so Close is safe on every cleanup path.
func (s *Session) Close(logger *zap.Logger) {
	if s.Client == nil {
		return
	}
	client := s.Client
	s.Client = nil
	s.Challenge = nil

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while disconnecting client",
				zap.Int64("user_id", s.UserID),
				zap.String("flow_id", s.FlowID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := client.Disconnect(); err != nil {
		logger.Warn("Failed to disconnect client",
			zap.Error(err),
			zap.Int64("user_id", s.UserID),
			zap.String("flow_id", s.FlowID),
			zap.String("backend", string(s.Backend)),
		)
	}
}
