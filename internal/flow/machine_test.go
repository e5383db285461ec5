package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbot/internal/remote"
	"sessionbot/internal/remote/remotetest"
	"sessionbot/internal/session"
)

func TestMachine_UserFlowCompletes(t *testing.T) {
	// user submits credentials, phone and a spaced code, sign in succeeds
	h := newHarness(t, remotetest.Script{Token: "1USERSESSION"})
	ctx := context.Background()
	userID := int64(1)
	in := Inbound{UserID: userID, ChatID: userID, Text: "/generate"}

	h.machine.Begin(ctx, in)
	assert.Equal(t, session.StepAwaitBackendChoice, h.step(userID))
	assert.Equal(t, KeyboardBackends, h.notifier.last().Reply.Keyboard)

	h.machine.ChooseBackend(ctx, in, remote.BackendGotd, remote.KindUser)
	assert.Equal(t, session.StepAwaitAppID, h.step(userID))

	h.send(userID, "12345")
	assert.Equal(t, session.StepAwaitAppSecret, h.step(userID))
	sess, _ := h.store.Get(userID)
	assert.Equal(t, 12345, sess.Credentials.AppID)
	assert.Nil(t, sess.Client)

	h.send(userID, "abc")
	assert.Equal(t, session.StepAwaitIdentifier, h.step(userID))

	h.send(userID, "+10000000000")
	assert.Equal(t, session.StepAwaitOTP, h.step(userID))
	sess, _ = h.store.Get(userID)
	require.NotNil(t, sess.Client)
	require.NotNil(t, sess.Challenge)
	assert.Equal(t, "+10000000000", sess.Challenge.Phone)

	clients := h.gotd.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, 12345, clients[0].AppID)
	assert.Equal(t, "abc", clients[0].AppHash)

	h.send(userID, "1 2 3 4 5")

	_, ok := h.store.Get(userID)
	assert.False(t, ok, "session must be removed after export")
	assert.Equal(t, 1, h.gotd.Connects())
	assert.Equal(t, 1, h.gotd.Disconnects())

	calls := clients[0].Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "RequestCode", calls[0].Method)
	assert.Equal(t, remotetest.Call{Method: "SubmitCode", Args: []string{"+10000000000", "hash-+10000000000", "12345"}}, calls[1])
	assert.Equal(t, "ExportSession", calls[2].Method)
	assert.Equal(t, "SendToSelf", calls[3].Method)

	require.Len(t, clients[0].SelfMessages(), 1)
	assert.Contains(t, clients[0].SelfMessages()[0], "1USERSESSION")
	assert.Len(t, h.notifier.containing(userID, "1USERSESSION"), 1)
	assert.Equal(t, []string{"done"}, h.outcomes())
}

func TestMachine_TwoStepPassword(t *testing.T) {
	h := newHarness(t, remotetest.Script{
		CodeResults: []remote.Result{remote.ResultPasswordRequired},
	})
	userID := int64(2)

	h.start(userID, remote.BackendGotd, remote.KindUser)
	h.send(userID, "+10000000000")
	h.send(userID, "12345")

	assert.Equal(t, session.StepAwait2FAPassword, h.step(userID))
	sess, _ := h.store.Get(userID)
	assert.NotNil(t, sess.Client, "client stays open while waiting for the password")
	assert.Equal(t, 0, h.gotd.Disconnects())
	assert.Contains(t, h.notifier.last().Reply.Text, "two-step verification")

	h.send(userID, "hunter2")

	_, ok := h.store.Get(userID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.gotd.Disconnects())

	calls := h.gotd.Clients()[0].Calls()
	assert.Equal(t, remotetest.Call{Method: "SubmitPassword", Args: []string{"hunter2"}}, calls[2])
	assert.Len(t, h.notifier.containing(userID, "1FAKESESSION"), 1)
	assert.Equal(t, []string{"done"}, h.outcomes())
}

func TestMachine_PasswordRequiredNeverEndsFlow(t *testing.T) {
	for _, backend := range []remote.Backend{remote.BackendGotd, remote.BackendGogram} {
		t.Run(string(backend), func(t *testing.T) {
			h := newHarness(t, remotetest.Script{
				CodeResults: []remote.Result{remote.ResultPasswordRequired},
			})
			h.start(3, backend, remote.KindUser)
			h.send(3, "+10000000000")
			h.send(3, "00000")

			assert.Equal(t, session.StepAwait2FAPassword, h.step(3))
			assert.Empty(t, h.outcomes())
		})
	}
}

func TestMachine_BotTokenInvalid(t *testing.T) {
	h := newHarness(t, remotetest.Script{BotResult: remote.ResultTokenInvalid})
	userID := int64(4)

	h.start(userID, remote.BackendGogram, remote.KindBot)
	assert.Contains(t, h.notifier.last().Reply.Text, "bot token")

	h.send(userID, "12345:bad")

	_, ok := h.store.Get(userID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.gogram.Connects())
	assert.Equal(t, 1, h.gogram.Disconnects())

	calls := h.gogram.Clients()[0].Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, remotetest.Call{Method: "AuthenticateBot", Args: []string{"12345:bad"}}, calls[0])
	assert.Equal(t, textTokenInvalid, h.notifier.last().Reply.Text)
	assert.Equal(t, []string{"token_invalid"}, h.outcomes())
}

func TestMachine_BotFlowCompletes(t *testing.T) {
	h := newHarness(t, remotetest.Script{Token: "1BOTSESSION"})
	userID := int64(5)

	h.start(userID, remote.BackendGotd, remote.KindBot)
	h.send(userID, "12345:good")

	_, ok := h.store.Get(userID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.gotd.Disconnects())

	client := h.gotd.Clients()[0]
	assert.Empty(t, client.SelfMessages(), "bots have no Saved Messages")
	for _, c := range client.Calls() {
		assert.NotEqual(t, "SendToSelf", c.Method)
	}
	assert.Len(t, h.notifier.containing(userID, "1BOTSESSION"), 1)
	assert.Equal(t, []string{"done"}, h.outcomes())
}

func TestMachine_CancelWhileAwaitingCode(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	ctx := context.Background()
	userID := int64(6)

	h.start(userID, remote.BackendGotd, remote.KindUser)
	h.send(userID, "+10000000000")
	require.Equal(t, session.StepAwaitOTP, h.step(userID))

	h.machine.Cancel(ctx, Inbound{UserID: userID, ChatID: userID, Text: "/cancel"})

	_, ok := h.store.Get(userID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.gotd.Disconnects())
	assert.Equal(t, textCancelled, h.notifier.last().Reply.Text)

	callsBefore := len(h.gotd.Clients()[0].Calls())
	h.send(userID, "12345")
	assert.Equal(t, callsBefore, len(h.gotd.Clients()[0].Calls()), "no adapter calls after cancel")
	assert.Equal(t, textNoFlow, h.notifier.last().Reply.Text)
	assert.Equal(t, []string{"cancelled"}, h.outcomes())
}

func TestMachine_CancelWithoutFlow(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	h.machine.Cancel(context.Background(), Inbound{UserID: 9, ChatID: 9})
	assert.Equal(t, textNothingToDo, h.notifier.last().Reply.Text)
	assert.Empty(t, h.outcomes())
}

func TestMachine_DiscardPaths(t *testing.T) {
	testCases := []struct {
		name     string
		script   remotetest.Script
		kind     remote.AccountKind
		inputs   []string
		advance  time.Duration
		outcome  Outcome
		connects int
	}{
		{
			name:    "malformed app id",
			inputs:  []string{"twelve"},
			outcome: OutcomeMalformedInput,
		},
		{
			name:    "app id beyond 32 bits",
			inputs:  []string{"4294967297"},
			outcome: OutcomeMalformedInput,
		},
		{
			name:    "connection error",
			script:  remotetest.Script{ConnectErr: fmt.Errorf("%w: dial tcp: timeout", remote.ErrConnection)},
			inputs:  []string{"12345", "abc", "+10000000000"},
			outcome: OutcomeFailure,
		},
		{
			name:     "invalid credentials",
			script:   remotetest.Script{RequestCodeErr: fmt.Errorf("%w: API_ID_INVALID", remote.ErrInvalidCredentials)},
			inputs:   []string{"12345", "abc", "+10000000000"},
			outcome:  OutcomeInvalidCredentials,
			connects: 1,
		},
		{
			name:     "invalid phone",
			script:   remotetest.Script{RequestCodeErr: fmt.Errorf("%w: PHONE_NUMBER_INVALID", remote.ErrInvalidIdentifier)},
			inputs:   []string{"12345", "abc", "12"},
			outcome:  OutcomeInvalidIdentifier,
			connects: 1,
		},
		{
			name:     "invalid code",
			script:   remotetest.Script{CodeResults: []remote.Result{remote.ResultCodeInvalid}},
			inputs:   []string{"12345", "abc", "+10000000000", "11111"},
			outcome:  OutcomeCodeInvalid,
			connects: 1,
		},
		{
			name:     "expired code",
			script:   remotetest.Script{CodeResults: []remote.Result{remote.ResultCodeExpired}},
			inputs:   []string{"12345", "abc", "+10000000000", "11111"},
			outcome:  OutcomeCodeExpired,
			connects: 1,
		},
		{
			name: "invalid password",
			script: remotetest.Script{
				CodeResults:    []remote.Result{remote.ResultPasswordRequired},
				PasswordResult: remote.ResultPasswordInvalid,
			},
			inputs:   []string{"12345", "abc", "+10000000000", "11111", "wrong"},
			outcome:  OutcomePasswordInvalid,
			connects: 1,
		},
		{
			name:     "unclassified sign in error",
			script:   remotetest.Script{CodeErr: errors.New("rpc error: FLOOD_WAIT")},
			inputs:   []string{"12345", "abc", "+10000000000", "11111"},
			outcome:  OutcomeFailure,
			connects: 1,
		},
		{
			name:     "export failure",
			script:   remotetest.Script{ExportErr: errors.New("storage empty")},
			inputs:   []string{"12345", "abc", "+10000000000", "11111"},
			outcome:  OutcomeFailure,
			connects: 1,
		},
		{
			name:     "bot credentials rejected",
			script:   remotetest.Script{BotErr: fmt.Errorf("%w: API_ID_INVALID", remote.ErrInvalidCredentials)},
			kind:     remote.KindBot,
			inputs:   []string{"12345", "abc", "1:token"},
			outcome:  OutcomeInvalidCredentials,
			connects: 1,
		},
		{
			name:     "code prompt timeout",
			inputs:   []string{"12345", "abc", "+10000000000"},
			advance:  601 * time.Second,
			outcome:  OutcomeTimeout,
			connects: 1,
		},
		{
			name:    "credential prompt timeout",
			inputs:  []string{"12345"},
			advance: 301 * time.Second,
			outcome: OutcomeTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.script)
			ctx := context.Background()
			userID := int64(100)
			kind := tc.kind
			if kind == "" {
				kind = remote.KindUser
			}

			in := Inbound{UserID: userID, ChatID: userID}
			h.machine.Begin(ctx, in)
			h.machine.ChooseBackend(ctx, in, remote.BackendGotd, kind)
			for _, text := range tc.inputs {
				h.send(userID, text)
			}
			if tc.advance > 0 {
				h.clock.Advance(tc.advance)
				h.send(userID, "anything")
			}

			_, ok := h.store.Get(userID)
			assert.False(t, ok, "session must be removed")
			assert.Equal(t, tc.connects, h.gotd.Connects())
			assert.Equal(t, h.gotd.Connects(), h.gotd.Disconnects(), "every connect needs a disconnect")
			assert.Equal(t, []string{string(tc.outcome)}, h.outcomes())
			assert.Equal(t, tc.outcome.message(), h.notifier.last().Reply.Text)
		})
	}
}

func TestMachine_CodeTimeoutIsLongerThanCredentialTimeout(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	userID := int64(7)

	h.start(userID, remote.BackendGotd, remote.KindUser)
	h.send(userID, "+10000000000")

	h.clock.Advance(400 * time.Second)
	h.send(userID, "12345")

	assert.Equal(t, []string{"done"}, h.outcomes())
}

func TestMachine_CodeNormalization(t *testing.T) {
	variants := []string{"1 2 3 4 5", "12345", " 12 345\n", "1\t2 3 4 5"}

	var submitted []remotetest.Call
	for _, code := range variants {
		h := newHarness(t, remotetest.Script{})
		h.start(8, remote.BackendGotd, remote.KindUser)
		h.send(8, "+10000000000")
		h.send(8, code)

		calls := h.gotd.Clients()[0].Calls()
		require.GreaterOrEqual(t, len(calls), 2)
		submitted = append(submitted, calls[1])
	}

	for _, c := range submitted[1:] {
		assert.Equal(t, submitted[0], c)
	}
	assert.Equal(t, "12345", submitted[0].Args[2])
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "12345", NormalizeCode("1 2 3 4 5"))
	assert.Equal(t, NormalizeCode("12345"), NormalizeCode(NormalizeCode("1 2 3 4 5")))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestMachine_RestartClosesPreviousClientOnce(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	ctx := context.Background()
	userID := int64(10)
	in := Inbound{UserID: userID, ChatID: userID}

	h.start(userID, remote.BackendGotd, remote.KindUser)
	h.send(userID, "+10000000000")
	first := h.gotd.Clients()[0]
	require.False(t, first.Closed())

	// picking a backend again restarts the flow
	h.machine.ChooseBackend(ctx, in, remote.BackendGotd, remote.KindUser)
	assert.Equal(t, 1, first.CloseCalls())
	assert.Equal(t, session.StepAwaitAppID, h.step(userID))

	h.send(userID, "777")
	h.send(userID, "def")
	h.send(userID, "+10000000001")
	require.Len(t, h.gotd.Clients(), 2)
	assert.Equal(t, 1, first.CloseCalls())
	assert.False(t, h.gotd.Clients()[1].Closed())

	// /generate restarts as well
	h.machine.Begin(ctx, in)
	assert.Equal(t, 1, first.CloseCalls())
	assert.Equal(t, 1, h.gotd.Clients()[1].CloseCalls())
	assert.Equal(t, session.StepAwaitBackendChoice, h.step(userID))
	assert.Empty(t, h.outcomes(), "a restart is not a finished flow")
}

func TestMachine_AppCredentialsAreKeptWhenConnecting(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	userID := int64(11)

	h.start(userID, remote.BackendGogram, remote.KindUser)
	h.send(userID, "+10000000000")

	sess, ok := h.store.Get(userID)
	require.True(t, ok)
	assert.Equal(t, 12345, sess.Credentials.AppID)
	assert.Equal(t, "abc", sess.Credentials.AppHash)
	assert.Equal(t, "+10000000000", sess.Credentials.Phone)
	assert.Equal(t, 1, h.gogram.Connects())
	assert.Equal(t, 0, h.gotd.Connects())
}

func TestMachine_TextBeforeBackendChoice(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	ctx := context.Background()

	h.send(12, "hello")
	assert.Equal(t, textNoFlow, h.notifier.last().Reply.Text)

	h.machine.Begin(ctx, Inbound{UserID: 12, ChatID: 12})
	h.send(12, "12345")
	assert.Equal(t, session.StepAwaitBackendChoice, h.step(12))
	assert.Equal(t, KeyboardBackends, h.notifier.last().Reply.Keyboard)
}

func TestMachine_UnknownBackend(t *testing.T) {
	h := newHarness(t, remotetest.Script{})
	ctx := context.Background()
	in := Inbound{UserID: 13, ChatID: 13}

	h.machine.Begin(ctx, in)
	h.machine.ChooseBackend(ctx, in, remote.Backend("telethon"), remote.KindUser)

	assert.Equal(t, session.StepAwaitBackendChoice, h.step(13))
	assert.Equal(t, textBackendMissing, h.notifier.last().Reply.Text)
}

func TestMachine_ShutdownClosesClients(t *testing.T) {
	h := newHarness(t, remotetest.Script{})

	h.start(20, remote.BackendGotd, remote.KindUser)
	h.send(20, "+10000000000")
	h.start(21, remote.BackendGotd, remote.KindUser)

	h.machine.Shutdown()

	assert.Equal(t, 0, h.machine.Active())
	assert.Equal(t, 1, h.gotd.Connects())
	assert.Equal(t, 1, h.gotd.Disconnects())
}

func TestMachine_ConcurrentUsers(t *testing.T) {
	h := newHarness(t, remotetest.Script{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		userID := int64(1000 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.start(userID, remote.BackendGotd, remote.KindUser)
			h.send(userID, "+10000000000")
			h.send(userID, "12345")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.machine.Active())
	assert.Equal(t, 20, h.gotd.Connects())
	assert.Equal(t, 20, h.gotd.Disconnects())
	assert.Len(t, h.outcomes(), 20)
}
