// Package remotetest provides a scriptable in-memory remote.Connector for
// tests of the session flow.
package remotetest

import (
	"context"
	"sync"

	"sessionbot/internal/remote"
)

// Script configures the answers of clients opened by a Connector. Zero
// values mean success.
type Script struct {
	ConnectErr     error
	RequestCodeErr error
	CodeResults    []remote.Result
	CodeErr        error
	PasswordResult remote.Result
	PasswordErr    error
	BotResult      remote.Result
	BotErr         error
	ExportErr      error
	SelfErr        error
	Token          string
}

// Call is one recorded adapter invocation
type Call struct {
	Method string
	Args   []string
}

// Connector is a fake remote.Connector that counts connects and disconnects
type Connector struct {
	backend remote.Backend

	mu          sync.Mutex
	script      Script
	clients     []*Client
	connects    int
	disconnects int
}

// NewConnector creates a fake connector for backend
func NewConnector(backend remote.Backend, script Script) *Connector {
	if script.Token == "" {
		script.Token = "1FAKESESSION"
	}
	return &Connector{backend: backend, script: script}
}

// Backend implements remote.Connector
func (c *Connector) Backend() remote.Backend {
	return c.backend
}

// SetScript replaces the script for clients opened afterwards
func (c *Connector) SetScript(script Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if script.Token == "" {
		script.Token = "1FAKESESSION"
	}
	c.script = script
}

// Connect implements remote.Connector
func (c *Connector) Connect(_ context.Context, appID int, appHash string) (remote.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.script.ConnectErr != nil {
		return nil, c.script.ConnectErr
	}

	c.connects++
	client := &Client{
		connector: c,
		script:    c.script,
		AppID:     appID,
		AppHash:   appHash,
	}
	c.clients = append(c.clients, client)
	return client, nil
}

// Connects returns the number of successful connects
func (c *Connector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Disconnects returns the number of clients closed at least once
func (c *Connector) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Clients returns every client opened so far
func (c *Connector) Clients() []*Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Client, len(c.clients))
	copy(out, c.clients)
	return out
}

// Client is a fake remote.Client
type Client struct {
	connector *Connector
	script    Script

	AppID   int
	AppHash string

	mu            sync.Mutex
	calls         []Call
	codeAttempts  int
	authenticated bool
	closed        bool
	closeCalls    int
	selfMessages  []string
}

func (c *Client) record(method string, args ...string) {
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// RequestCode implements remote.Client
func (c *Client) RequestCode(_ context.Context, phone string) (remote.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("RequestCode", phone)
	if c.script.RequestCodeErr != nil {
		return remote.Challenge{}, c.script.RequestCodeErr
	}
	return remote.Challenge{Phone: phone, Hash: "hash-" + phone}, nil
}

// SubmitCode implements remote.Client
func (c *Client) SubmitCode(_ context.Context, challenge remote.Challenge, code string) (remote.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SubmitCode", challenge.Phone, challenge.Hash, code)
	if c.script.CodeErr != nil {
		return 0, c.script.CodeErr
	}

	res := remote.ResultAuthenticated
	if c.codeAttempts < len(c.script.CodeResults) {
		res = c.script.CodeResults[c.codeAttempts]
	}
	c.codeAttempts++
	if res == remote.ResultAuthenticated {
		c.authenticated = true
	}
	return res, nil
}

// SubmitPassword implements remote.Client
func (c *Client) SubmitPassword(_ context.Context, password string) (remote.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SubmitPassword", password)
	if c.script.PasswordErr != nil {
		return 0, c.script.PasswordErr
	}
	res := c.script.PasswordResult
	if res == 0 {
		res = remote.ResultAuthenticated
	}
	if res == remote.ResultAuthenticated {
		c.authenticated = true
	}
	return res, nil
}

// AuthenticateBot implements remote.Client
func (c *Client) AuthenticateBot(_ context.Context, token string) (remote.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("AuthenticateBot", token)
	if c.script.BotErr != nil {
		return 0, c.script.BotErr
	}
	res := c.script.BotResult
	if res == 0 {
		res = remote.ResultAuthenticated
	}
	if res == remote.ResultAuthenticated {
		c.authenticated = true
	}
	return res, nil
}

// ExportSession implements remote.Client
func (c *Client) ExportSession(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ExportSession")
	if c.script.ExportErr != nil {
		return "", c.script.ExportErr
	}
	if !c.authenticated {
		return "", remote.ErrNotAuthenticated
	}
	return c.script.Token, nil
}

// SendToSelf implements remote.Client
func (c *Client) SendToSelf(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SendToSelf", text)
	if c.script.SelfErr != nil {
		return c.script.SelfErr
	}
	c.selfMessages = append(c.selfMessages, text)
	return nil
}

// Disconnect implements remote.Client
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closeCalls++
	first := !c.closed
	c.closed = true
	c.mu.Unlock()

	if first {
		c.connector.mu.Lock()
		c.connector.disconnects++
		c.connector.mu.Unlock()
	}
	return nil
}

// Calls returns the recorded invocations, Disconnect excluded
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Closed reports whether Disconnect was called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCalls returns how many times Disconnect was called
func (c *Client) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// SelfMessages returns texts delivered to Saved Messages
func (c *Client) SelfMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.selfMessages))
	copy(out, c.selfMessages)
	return out
}
