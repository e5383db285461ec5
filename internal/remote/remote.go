// Package remote defines the account-access operations the session flow needs
// from a Telegram MTProto client, independent of the client library behind it.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Backend identifies the MTProto client library used for a flow
type Backend string

const (
	BackendGotd   Backend = "gotd"
	BackendGogram Backend = "gogram"
)

// AccountKind tells whether the flow signs in a human account or a bot
type AccountKind string

const (
	KindUser AccountKind = "user"
	KindBot  AccountKind = "bot"
)

// ParseBackend converts callback data into a Backend
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendGotd, BackendGogram:
		return Backend(s), nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// ParseAccountKind converts callback data into an AccountKind
func ParseAccountKind(s string) (AccountKind, error) {
	switch AccountKind(s) {
	case KindUser, KindBot:
		return AccountKind(s), nil
	}
	return "", fmt.Errorf("unknown account kind %q", s)
}

// Result is the outcome of an authentication step that the remote side
// answered. Expected branches (password needed, wrong code) are results,
// not errors.
type Result int

const (
	ResultAuthenticated Result = iota + 1
	ResultPasswordRequired
	ResultCodeInvalid
	ResultCodeExpired
	ResultPasswordInvalid
	ResultTokenInvalid
)

func (r Result) String() string {
	switch r {
	case ResultAuthenticated:
		return "authenticated"
	case ResultPasswordRequired:
		return "password_required"
	case ResultCodeInvalid:
		return "code_invalid"
	case ResultCodeExpired:
		return "code_expired"
	case ResultPasswordInvalid:
		return "password_invalid"
	case ResultTokenInvalid:
		return "token_invalid"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

var (
	// ErrConnection is returned when the client cannot reach Telegram
	ErrConnection = errors.New("connection failed")
	// ErrInvalidCredentials is returned when the api id/hash pair is rejected
	ErrInvalidCredentials = errors.New("invalid api id or api hash")
	// ErrInvalidIdentifier is returned for malformed or unusable phone numbers
	ErrInvalidIdentifier = errors.New("invalid phone number")
	// ErrNotAuthenticated is returned by ExportSession before sign in completed
	ErrNotAuthenticated = errors.New("client is not authenticated")
)

// Credentials are collected from the user step by step
type Credentials struct {
	AppID    int
	AppHash  string
	Phone    string
	BotToken string
}

// Challenge correlates a code request with its verification
type Challenge struct {
	Phone string
	Hash  string
}

// Client is a connected, not necessarily authenticated, MTProto client.
// Disconnect must be safe to call any number of times.
type Client interface {
	RequestCode(ctx context.Context, phone string) (Challenge, error)
	SubmitCode(ctx context.Context, challenge Challenge, code string) (Result, error)
	SubmitPassword(ctx context.Context, password string) (Result, error)
	AuthenticateBot(ctx context.Context, token string) (Result, error)
	ExportSession(ctx context.Context) (string, error)
	SendToSelf(ctx context.Context, text string) error
	Disconnect() error
}

// Connector opens clients for one backend
type Connector interface {
	Backend() Backend
	Connect(ctx context.Context, appID int, appHash string) (Client, error)
}
