// Package gotd implements remote.Connector on top of github.com/gotd/td.
package gotd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"sessionbot/internal/remote"
)

// Connector opens gotd clients backed by in-memory session storage
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a gotd connector
func NewConnector(logger *zap.Logger) *Connector {
	return &Connector{logger: logger}
}

// Backend implements remote.Connector
func (c *Connector) Backend() remote.Backend {
	return remote.BackendGotd
}

// Connect starts the client run loop in the background and waits until the
// MTProto session is initialized. The loop stays alive until Disconnect.
func (c *Connector) Connect(ctx context.Context, appID int, appHash string) (remote.Client, error) {
	storage := &session.StorageMemory{}
	tc := telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: storage,
		Logger:         c.logger.Named("gotd"),
		NoUpdates:      true,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	client := &Client{
		tc:      tc,
		storage: storage,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  c.logger,
	}

	ready := make(chan struct{})
	go func() {
		defer close(client.done)
		client.runErr = tc.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		return client, nil
	case <-client.done:
		return nil, fmt.Errorf("%w: %v", remote.ErrConnection, client.runErr)
	case <-ctx.Done():
		_ = client.Disconnect()
		return nil, fmt.Errorf("%w: %v", remote.ErrConnection, ctx.Err())
	}
}

// Client is a running gotd client
type Client struct {
	tc      *telegram.Client
	storage *session.StorageMemory
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
	once   sync.Once

	mu         sync.Mutex
	authorized bool
}

// RequestCode sends the login code to phone
func (c *Client) RequestCode(ctx context.Context, phone string) (remote.Challenge, error) {
	sent, err := c.tc.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return remote.Challenge{}, classifySendCode(err)
	}

	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return remote.Challenge{Phone: phone, Hash: s.PhoneCodeHash}, nil
	default:
		return remote.Challenge{}, fmt.Errorf("unexpected sent code %T", sent)
	}
}

// SubmitCode signs in with the code received for challenge
func (c *Client) SubmitCode(ctx context.Context, challenge remote.Challenge, code string) (remote.Result, error) {
	_, err := c.tc.Auth().SignIn(ctx, challenge.Phone, code, challenge.Hash)
	res, err := classifySignIn(err)
	if res == remote.ResultAuthenticated {
		c.setAuthorized()
	}
	return res, err
}

// SubmitPassword completes sign in for accounts with two-step verification
func (c *Client) SubmitPassword(ctx context.Context, password string) (remote.Result, error) {
	_, err := c.tc.Auth().Password(ctx, password)
	res, err := classifyPassword(err)
	if res == remote.ResultAuthenticated {
		c.setAuthorized()
	}
	return res, err
}

// AuthenticateBot signs in as a bot
func (c *Client) AuthenticateBot(ctx context.Context, token string) (remote.Result, error) {
	_, err := c.tc.Auth().Bot(ctx, token)
	res, err := classifyBot(err)
	if res == remote.ResultAuthenticated {
		c.setAuthorized()
	}
	return res, err
}

// ExportSession returns the session as a Telethon string session
func (c *Client) ExportSession(ctx context.Context) (string, error) {
	if !c.isAuthorized() {
		return "", remote.ErrNotAuthenticated
	}

	loader := &session.Loader{Storage: c.storage}
	data, err := loader.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return EncodeTelethon(data)
}

// SendToSelf posts text to the account's Saved Messages
func (c *Client) SendToSelf(ctx context.Context, text string) error {
	if _, err := message.NewSender(c.tc.API()).Self().Text(ctx, text); err != nil {
		return fmt.Errorf("send to saved messages: %w", err)
	}
	return nil
}

// Disconnect stops the run loop and waits for it to exit
func (c *Client) Disconnect() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
			c.logger.Debug("gotd client stopped with error", zap.Error(c.runErr))
		}
	})
	return nil
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

func classifySendCode(err error) error {
	switch {
	case tgerr.Is(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return fmt.Errorf("%w: %v", remote.ErrInvalidCredentials, err)
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_FLOOD", "PHONE_NUMBER_UNOCCUPIED"):
		return fmt.Errorf("%w: %v", remote.ErrInvalidIdentifier, err)
	}
	return fmt.Errorf("send code: %w", err)
}

func classifySignIn(err error) (remote.Result, error) {
	switch {
	case err == nil:
		return remote.ResultAuthenticated, nil
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return remote.ResultPasswordRequired, nil
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return remote.ResultCodeInvalid, nil
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return remote.ResultCodeExpired, nil
	}
	return 0, fmt.Errorf("sign in: %w", err)
}

func classifyPassword(err error) (remote.Result, error) {
	switch {
	case err == nil:
		return remote.ResultAuthenticated, nil
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return remote.ResultPasswordInvalid, nil
	}
	return 0, fmt.Errorf("check password: %w", err)
}

func classifyBot(err error) (remote.Result, error) {
	switch {
	case err == nil:
		return remote.ResultAuthenticated, nil
	case tgerr.Is(err, "ACCESS_TOKEN_INVALID", "ACCESS_TOKEN_EXPIRED"):
		return remote.ResultTokenInvalid, nil
	case tgerr.Is(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return 0, fmt.Errorf("%w: %v", remote.ErrInvalidCredentials, err)
	}
	return 0, fmt.Errorf("bot sign in: %w", err)
}
