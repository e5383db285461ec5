package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionbot/internal/models"
	"sessionbot/internal/remote"
	"sessionbot/internal/session"
)

// Machine advances one user's flow by exactly one transition per inbound
// message. All work for a user runs under that user's store lock.
type Machine struct {
	store    *session.Store
	backends *remote.Registry
	notifier Notifier
	exporter *Exporter
	recorder OutcomeRecorder
	logger   *zap.Logger
	timeouts Timeouts
	now      func() time.Time
}

// NewMachine creates a state machine. recorder may be nil.
func NewMachine(store *session.Store, backends *remote.Registry, notifier Notifier, recorder OutcomeRecorder, logger *zap.Logger, timeouts Timeouts) *Machine {
	if timeouts.Credential <= 0 {
		timeouts.Credential = DefaultTimeouts.Credential
	}
	if timeouts.Code <= 0 {
		timeouts.Code = DefaultTimeouts.Code
	}
	if timeouts.Connect <= 0 {
		timeouts.Connect = DefaultTimeouts.Connect
	}
	return &Machine{
		store:    store,
		backends: backends,
		notifier: notifier,
		exporter: NewExporter(notifier, logger),
		recorder: recorder,
		logger:   logger,
		timeouts: timeouts,
		now:      time.Now,
	}
}

// Active returns the number of in-flight flows
func (m *Machine) Active() int {
	return m.store.Len()
}

// Begin starts a new flow at backend selection, closing any previous one
func (m *Machine) Begin(ctx context.Context, in Inbound) {
	unlock := m.store.Lock(in.UserID)
	defer unlock()

	m.discard(in.UserID)

	sess := &session.Session{
		UserID: in.UserID,
		ChatID: in.ChatID,
		FlowID: uuid.NewString(),
	}
	m.advance(sess, session.StepAwaitBackendChoice, m.timeouts.Credential)

	m.logger.Info("Flow started", m.fields(sess)...)
	m.reply(ctx, in.ChatID, Reply{Text: textChooseBackend, Keyboard: KeyboardBackends})
}

// ChooseBackend selects the client library and account kind. It always
// starts a fresh flow, closing any previous one first.
func (m *Machine) ChooseBackend(ctx context.Context, in Inbound, backend remote.Backend, kind remote.AccountKind) {
	unlock := m.store.Lock(in.UserID)
	defer unlock()

	if _, err := m.backends.Connector(backend); err != nil {
		m.logger.Warn("Backend not available", zap.Error(err), zap.Int64("user_id", in.UserID))
		m.reply(ctx, in.ChatID, Reply{Text: textBackendMissing, Keyboard: KeyboardBackends})
		return
	}

	flowID := ""
	if prev, ok := m.store.Get(in.UserID); ok && prev.Step == session.StepAwaitBackendChoice {
		flowID = prev.FlowID
	}
	m.discard(in.UserID)
	if flowID == "" {
		flowID = uuid.NewString()
	}

	sess := &session.Session{
		UserID:  in.UserID,
		ChatID:  in.ChatID,
		FlowID:  flowID,
		Backend: backend,
		Kind:    kind,
	}
	m.advance(sess, session.StepAwaitAppID, m.timeouts.Credential)

	m.logger.Info("Backend selected", m.fields(sess)...)
	m.reply(ctx, in.ChatID, Reply{Text: textAskAppID, Keyboard: KeyboardCancel})
}

// Handle consumes one text message
func (m *Machine) Handle(ctx context.Context, in Inbound) {
	unlock := m.store.Lock(in.UserID)
	defer unlock()

	sess, ok := m.store.Get(in.UserID)
	if !ok {
		m.reply(ctx, in.ChatID, Reply{Text: textNoFlow})
		return
	}
	if sess.Expired(m.now()) {
		m.finish(ctx, sess, OutcomeTimeout, nil)
		return
	}

	switch sess.Step {
	case session.StepAwaitBackendChoice:
		m.reply(ctx, in.ChatID, Reply{Text: textChooseBackend, Keyboard: KeyboardBackends})
	case session.StepAwaitAppID:
		m.handleAppID(ctx, sess, in.Text)
	case session.StepAwaitAppSecret:
		m.handleAppSecret(ctx, sess, in.Text)
	case session.StepAwaitIdentifier:
		m.handleIdentifier(ctx, sess, in.Text)
	case session.StepAwaitOTP:
		m.handleCode(ctx, sess, in.Text)
	case session.StepAwait2FAPassword:
		m.handlePassword(ctx, sess, in.Text)
	default:
		m.finish(ctx, sess, OutcomeFailure, fmt.Errorf("message in unexpected step %s", sess.Step))
	}
}

// Cancel aborts the user's flow at any step
func (m *Machine) Cancel(ctx context.Context, in Inbound) {
	unlock := m.store.Lock(in.UserID)
	defer unlock()

	sess, ok := m.store.Get(in.UserID)
	if !ok {
		m.reply(ctx, in.ChatID, Reply{Text: textNothingToDo})
		return
	}
	m.finish(ctx, sess, OutcomeCancelled, nil)
}

// Expire ends the user's flow if its deadline passed. It reports whether a
// flow was ended.
func (m *Machine) Expire(ctx context.Context, userID int64) bool {
	unlock := m.store.Lock(userID)
	defer unlock()

	sess, ok := m.store.Get(userID)
	if !ok || !sess.Expired(m.now()) {
		return false
	}
	m.finish(ctx, sess, OutcomeTimeout, nil)
	return true
}

// Shutdown closes every live client and drops all flows
func (m *Machine) Shutdown() {
	for _, userID := range m.store.UserIDs() {
		unlock := m.store.Lock(userID)
		if sess, ok := m.store.Get(userID); ok {
			sess.Close(m.logger)
			m.store.Remove(userID)
			m.logger.Info("Flow dropped on shutdown", m.fields(sess)...)
		}
		unlock()
	}
}

func (m *Machine) handleAppID(ctx context.Context, sess *session.Session, text string) {
	// Telegram app ids are 32-bit on the wire
	appID, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
	if err != nil {
		m.finish(ctx, sess, OutcomeMalformedInput, err)
		return
	}

	sess.Credentials.AppID = int(appID)
	m.advance(sess, session.StepAwaitAppSecret, m.timeouts.Credential)
	m.reply(ctx, sess.ChatID, Reply{Text: textAskAppHash, Keyboard: KeyboardCancel})
}

func (m *Machine) handleAppSecret(ctx context.Context, sess *session.Session, text string) {
	sess.Credentials.AppHash = text
	m.advance(sess, session.StepAwaitIdentifier, m.timeouts.Credential)

	prompt := textAskPhone
	if sess.Kind == remote.KindBot {
		prompt = textAskBotToken
	}
	m.reply(ctx, sess.ChatID, Reply{Text: prompt, Keyboard: KeyboardCancel})
}

func (m *Machine) handleIdentifier(ctx context.Context, sess *session.Session, text string) {
	identifier := strings.TrimSpace(text)

	connector, err := m.backends.Connector(sess.Backend)
	if err != nil {
		m.finish(ctx, sess, OutcomeFailure, err)
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.timeouts.Connect)
	client, err := connector.Connect(connectCtx, sess.Credentials.AppID, sess.Credentials.AppHash)
	cancel()
	if err != nil {
		m.finish(ctx, sess, outcomeFor(err), err)
		return
	}
	sess.Client = client

	if sess.Kind == remote.KindBot {
		sess.Credentials.BotToken = identifier
		sess.Step = session.StepAuthenticatingBot

		res, err := client.AuthenticateBot(ctx, identifier)
		if err != nil {
			m.finish(ctx, sess, outcomeFor(err), err)
			return
		}
		switch res {
		case remote.ResultAuthenticated:
			m.complete(ctx, sess)
		case remote.ResultTokenInvalid:
			m.finish(ctx, sess, OutcomeTokenInvalid, nil)
		default:
			m.finish(ctx, sess, OutcomeFailure, fmt.Errorf("unexpected bot sign in result %s", res))
		}
		return
	}

	sess.Credentials.Phone = identifier
	m.reply(ctx, sess.ChatID, Reply{Text: textSendingCode})

	challenge, err := client.RequestCode(ctx, identifier)
	if err != nil {
		m.finish(ctx, sess, outcomeFor(err), err)
		return
	}

	sess.Challenge = &challenge
	m.advance(sess, session.StepAwaitOTP, m.timeouts.Code)
	m.reply(ctx, sess.ChatID, Reply{Text: textAskCode, Keyboard: KeyboardCancel})
}

func (m *Machine) handleCode(ctx context.Context, sess *session.Session, text string) {
	if sess.Client == nil || sess.Challenge == nil {
		m.finish(ctx, sess, OutcomeFailure, errors.New("code received without a pending challenge"))
		return
	}

	res, err := sess.Client.SubmitCode(ctx, *sess.Challenge, NormalizeCode(text))
	if err != nil {
		m.finish(ctx, sess, outcomeFor(err), err)
		return
	}

	switch res {
	case remote.ResultAuthenticated:
		m.complete(ctx, sess)
	case remote.ResultPasswordRequired:
		m.advance(sess, session.StepAwait2FAPassword, m.timeouts.Credential)
		m.reply(ctx, sess.ChatID, Reply{Text: textAskPassword, Keyboard: KeyboardCancel})
	case remote.ResultCodeInvalid:
		m.finish(ctx, sess, OutcomeCodeInvalid, nil)
	case remote.ResultCodeExpired:
		m.finish(ctx, sess, OutcomeCodeExpired, nil)
	default:
		m.finish(ctx, sess, OutcomeFailure, fmt.Errorf("unexpected sign in result %s", res))
	}
}

func (m *Machine) handlePassword(ctx context.Context, sess *session.Session, text string) {
	if sess.Client == nil {
		m.finish(ctx, sess, OutcomeFailure, errors.New("password received without a live client"))
		return
	}

	res, err := sess.Client.SubmitPassword(ctx, text)
	if err != nil {
		m.finish(ctx, sess, outcomeFor(err), err)
		return
	}

	switch res {
	case remote.ResultAuthenticated:
		m.complete(ctx, sess)
	case remote.ResultPasswordInvalid:
		m.finish(ctx, sess, OutcomePasswordInvalid, nil)
	default:
		m.finish(ctx, sess, OutcomeFailure, fmt.Errorf("unexpected password result %s", res))
	}
}

// complete exports the session and ends the flow whatever the export result
func (m *Machine) complete(ctx context.Context, sess *session.Session) {
	sess.Step = session.StepExporting
	if _, err := m.exporter.Export(ctx, sess); err != nil {
		m.finish(ctx, sess, OutcomeFailure, err)
		return
	}
	m.finish(ctx, sess, OutcomeDone, nil)
}

// finish closes the live client, removes the session and tells the user
func (m *Machine) finish(ctx context.Context, sess *session.Session, outcome Outcome, cause error) {
	step := sess.Step
	sess.Close(m.logger)
	sess.Step = outcome.step()
	m.store.Remove(sess.UserID)

	fields := append(m.fields(sess),
		zap.String("outcome", string(outcome)),
		zap.Stringer("last_step", step),
	)
	switch outcome {
	case OutcomeDone, OutcomeCancelled, OutcomeTimeout:
		m.logger.Info("Flow finished", fields...)
	case OutcomeFailure:
		m.logger.Error("Flow failed", append(fields, zap.Error(cause))...)
	default:
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		m.logger.Warn("Flow rejected", fields...)
	}

	if text := outcome.message(); text != "" {
		m.reply(ctx, sess.ChatID, Reply{Text: text})
	}
	m.record(ctx, sess, outcome)
}

// discard drops the user's current flow without notifying anyone
func (m *Machine) discard(userID int64) {
	prev, ok := m.store.Get(userID)
	if !ok {
		return
	}
	prev.Close(m.logger)
	m.store.Remove(userID)
	if prev.Step != session.StepAwaitBackendChoice {
		m.logger.Info("Flow replaced", m.fields(prev)...)
	}
}

func (m *Machine) advance(sess *session.Session, step session.Step, timeout time.Duration) {
	sess.Step = step
	sess.Deadline = m.now().Add(timeout)
	m.store.Put(sess)
}

func (m *Machine) reply(ctx context.Context, chatID int64, r Reply) {
	if err := m.notifier.Send(ctx, chatID, r); err != nil {
		m.logger.Warn("Failed to send reply", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

func (m *Machine) record(ctx context.Context, sess *session.Session, outcome Outcome) {
	if m.recorder == nil {
		return
	}
	err := m.recorder.RecordOutcome(ctx, models.FlowOutcome{
		UserID:  sess.UserID,
		Backend: string(sess.Backend),
		Kind:    string(sess.Kind),
		Outcome: string(outcome),
		At:      m.now(),
	})
	if err != nil {
		m.logger.Warn("Failed to record flow outcome", zap.Error(err), zap.String("flow_id", sess.FlowID))
	}
}

func (m *Machine) fields(sess *session.Session) []zap.Field {
	return []zap.Field{
		zap.Int64("user_id", sess.UserID),
		zap.String("flow_id", sess.FlowID),
		zap.String("backend", string(sess.Backend)),
		zap.String("kind", string(sess.Kind)),
		zap.Stringer("step", sess.Step),
	}
}

func outcomeFor(err error) Outcome {
	switch {
	case errors.Is(err, remote.ErrInvalidCredentials):
		return OutcomeInvalidCredentials
	case errors.Is(err, remote.ErrInvalidIdentifier):
		return OutcomeInvalidIdentifier
	default:
		return OutcomeFailure
	}
}

// NormalizeCode strips every whitespace rune so "1 2 3 4 5" equals "12345"
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)
}
