package flow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sessionbot/internal/remote"
	"sessionbot/internal/remote/remotetest"
	"sessionbot/internal/session"
	"sessionbot/internal/storage/stubs"
)

type sentMessage struct {
	ChatID int64
	Reply  Reply
}

// fakeNotifier records replies and fails for chats listed in failures
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	attempts []sentMessage
	failures map[int64]error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failures: make(map[int64]error)}
}

func (n *fakeNotifier) Send(_ context.Context, chatID int64, reply Reply) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	msg := sentMessage{ChatID: chatID, Reply: reply}
	n.attempts = append(n.attempts, msg)
	if err := n.failures[chatID]; err != nil {
		return err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) fail(chatID int64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[chatID] = err
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentMessage, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *fakeNotifier) last() sentMessage {
	msgs := n.messages()
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

// containing returns messages sent to chatID whose text contains substr
func (n *fakeNotifier) containing(chatID int64, substr string) []sentMessage {
	var out []sentMessage
	for _, m := range n.messages() {
		if m.ChatID == chatID && strings.Contains(m.Reply.Text, substr) {
			out = append(out, m)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	machine  *Machine
	store    *session.Store
	gotd     *remotetest.Connector
	gogram   *remotetest.Connector
	notifier *fakeNotifier
	db       *stubs.MockDB
	clock    *fakeClock
}

func newHarness(t *testing.T, script remotetest.Script) *harness {
	t.Helper()

	h := &harness{
		store:    session.NewStore(),
		gotd:     remotetest.NewConnector(remote.BackendGotd, script),
		gogram:   remotetest.NewConnector(remote.BackendGogram, script),
		notifier: newFakeNotifier(),
		db:       stubs.NewMockDB(),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	h.machine = NewMachine(h.store, remote.NewRegistry(h.gotd, h.gogram), h.notifier, h.db, zap.NewNop(), DefaultTimeouts)
	h.machine.now = h.clock.Now
	return h
}

func (h *harness) connector(backend remote.Backend) *remotetest.Connector {
	if backend == remote.BackendGogram {
		return h.gogram
	}
	return h.gotd
}

func (h *harness) step(userID int64) session.Step {
	unlock := h.store.Lock(userID)
	defer unlock()

	sess, ok := h.store.Get(userID)
	if !ok {
		return session.StepIdle
	}
	return sess.Step
}

func (h *harness) send(userID int64, text string) {
	h.machine.Handle(context.Background(), Inbound{UserID: userID, ChatID: userID, Text: text})
}

// start runs backend selection and credential entry up to the identifier prompt
func (h *harness) start(userID int64, backend remote.Backend, kind remote.AccountKind) {
	ctx := context.Background()
	in := Inbound{UserID: userID, ChatID: userID, Text: "/generate"}
	h.machine.Begin(ctx, in)
	h.machine.ChooseBackend(ctx, in, backend, kind)
	h.send(userID, "12345")
	h.send(userID, "abc")
}

func (h *harness) outcomes() []string {
	var out []string
	for _, o := range h.db.Outcomes() {
		out = append(out, o.Outcome)
	}
	return out
}
