// Package gogram implements remote.Connector on top of
// github.com/amarnathcjd/gogram.
package gogram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/amarnathcjd/gogram/telegram"
	"go.uber.org/zap"

	"sessionbot/internal/remote"
)

// Connector opens gogram clients with memory-only sessions
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a gogram connector
func NewConnector(logger *zap.Logger) *Connector {
	return &Connector{logger: logger}
}

// Backend implements remote.Connector
func (c *Connector) Backend() remote.Backend {
	return remote.BackendGogram
}

// Connect creates the client and dials Telegram. gogram calls are not
// context aware, so ctx only bounds how long Connect waits.
func (c *Connector) Connect(ctx context.Context, appID int, appHash string) (remote.Client, error) {
	type dialResult struct {
		tc  *telegram.Client
		err error
	}

	resCh := make(chan dialResult, 1)
	go func() {
		tc, err := telegram.NewClient(telegram.ClientConfig{
			AppID:         int32(appID),
			AppHash:       appHash,
			MemorySession: true,
		})
		if err == nil {
			err = tc.Connect()
		}
		resCh <- dialResult{tc: tc, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			if res.tc != nil {
				_ = res.tc.Stop()
			}
			return nil, classifyConnect(res.err)
		}
		return &Client{tc: res.tc, logger: c.logger}, nil
	case <-ctx.Done():
		go func() {
			// release the client once the dial returns
			if res := <-resCh; res.tc != nil {
				_ = res.tc.Stop()
			}
		}()
		return nil, fmt.Errorf("%w: %v", remote.ErrConnection, ctx.Err())
	}
}

// Client is a connected gogram client
type Client struct {
	tc     *telegram.Client
	logger *zap.Logger

	once sync.Once

	mu         sync.Mutex
	authorized bool
}

// RequestCode sends the login code to phone
func (c *Client) RequestCode(_ context.Context, phone string) (remote.Challenge, error) {
	hash, err := c.tc.SendCode(phone)
	if err != nil {
		return remote.Challenge{}, classifySendCode(err)
	}
	return remote.Challenge{Phone: phone, Hash: hash}, nil
}

// SubmitCode signs in with the code received for challenge
func (c *Client) SubmitCode(_ context.Context, challenge remote.Challenge, code string) (remote.Result, error) {
	_, err := c.tc.AuthSignIn(challenge.Phone, challenge.Hash, code, nil)
	res, err := classifySignIn(err)
	if res == remote.ResultAuthenticated {
		c.setAuthorized()
	}
	return res, err
}

// SubmitPassword runs the SRP password check
func (c *Client) SubmitPassword(_ context.Context, password string) (remote.Result, error) {
	accountPassword, err := c.tc.AccountGetPassword()
	if err != nil {
		return 0, fmt.Errorf("get password settings: %w", err)
	}

	srp, err := telegram.GetInputCheckPassword(password, accountPassword)
	if err != nil {
		return 0, fmt.Errorf("compute password check: %w", err)
	}

	_, err = c.tc.AuthCheckPassword(srp)
	res, err := classifyPassword(err)
	if res == remote.ResultAuthenticated {
		c.setAuthorized()
	}
	return res, err
}

// AuthenticateBot signs in as a bot
func (c *Client) AuthenticateBot(_ context.Context, token string) (remote.Result, error) {
	res, err := classifyBot(c.tc.LoginBot(token))
	if res == remote.ResultAuthenticated {
		c.setAuthorized()
	}
	return res, err
}

// ExportSession returns gogram's string session
func (c *Client) ExportSession(_ context.Context) (string, error) {
	if !c.isAuthorized() {
		return "", remote.ErrNotAuthenticated
	}
	s := c.tc.ExportSession()
	if s == "" {
		return "", fmt.Errorf("gogram returned an empty session")
	}
	return s, nil
}

// SendToSelf posts text to the account's Saved Messages
func (c *Client) SendToSelf(_ context.Context, text string) error {
	if _, err := c.tc.SendMessage("me", text); err != nil {
		return fmt.Errorf("send to saved messages: %w", err)
	}
	return nil
}

// Disconnect stops the client. Repeated calls are no-ops.
func (c *Client) Disconnect() error {
	var err error
	c.once.Do(func() {
		err = c.tc.Stop()
	})
	return err
}

func (c *Client) setAuthorized() {
	c.mu.Lock()
	c.authorized = true
	c.mu.Unlock()
}

func (c *Client) isAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// gogram surfaces RPC errors as text, e.g. "[PHONE_CODE_INVALID] The
// provided phone code is invalid (code 400)".
func hasRPCError(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range codes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

func classifyConnect(err error) error {
	if hasRPCError(err, "API_ID_INVALID") {
		return fmt.Errorf("%w: %v", remote.ErrInvalidCredentials, err)
	}
	return fmt.Errorf("%w: %v", remote.ErrConnection, err)
}

func classifySendCode(err error) error {
	switch {
	case hasRPCError(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return fmt.Errorf("%w: %v", remote.ErrInvalidCredentials, err)
	case hasRPCError(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_FLOOD", "PHONE_NUMBER_UNOCCUPIED"):
		return fmt.Errorf("%w: %v", remote.ErrInvalidIdentifier, err)
	}
	return fmt.Errorf("send code: %w", err)
}

func classifySignIn(err error) (remote.Result, error) {
	switch {
	case err == nil:
		return remote.ResultAuthenticated, nil
	case hasRPCError(err, "SESSION_PASSWORD_NEEDED"):
		return remote.ResultPasswordRequired, nil
	case hasRPCError(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return remote.ResultCodeInvalid, nil
	case hasRPCError(err, "PHONE_CODE_EXPIRED"):
		return remote.ResultCodeExpired, nil
	}
	return 0, fmt.Errorf("sign in: %w", err)
}

func classifyPassword(err error) (remote.Result, error) {
	switch {
	case err == nil:
		return remote.ResultAuthenticated, nil
	case hasRPCError(err, "PASSWORD_HASH_INVALID"):
		return remote.ResultPasswordInvalid, nil
	}
	return 0, fmt.Errorf("check password: %w", err)
}

func classifyBot(err error) (remote.Result, error) {
	switch {
	case err == nil:
		return remote.ResultAuthenticated, nil
	case hasRPCError(err, "ACCESS_TOKEN_INVALID", "ACCESS_TOKEN_EXPIRED"):
		return remote.ResultTokenInvalid, nil
	case hasRPCError(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return 0, fmt.Errorf("%w: %v", remote.ErrInvalidCredentials, err)
	}
	return 0, fmt.Errorf("bot sign in: %w", err)
}
