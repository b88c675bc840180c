package agents

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ppi-control/internal/adapter/store"
	"ppi-control/internal/domain"
	"ppi-control/internal/usecase/eventbus"
	"ppi-control/internal/usecase/feed"
	"ppi-control/internal/usecase/orchestrator"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testEpoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	channel string
	content string
}

// fakeNotifier records deliveries and fails channels listed in down.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	down map[string]bool
}

func (n *fakeNotifier) Send(_ context.Context, channel, content string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down[channel] {
		return false
	}
	n.sent = append(n.sent, sentMessage{channel: channel, content: content})
	return true
}

func (n *fakeNotifier) Sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *testClock
	mem      *store.MemoryStore
	sink     *feed.Sink
	bus      *eventbus.Bus
	router   *orchestrator.Router
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    &testClock{now: testEpoch},
		mem:      store.NewMemoryStore(),
		notifier: &fakeNotifier{down: map[string]bool{}},
	}
	h.sink = feed.New(h.mem, newTestLogger(), feed.WithClock(h.clock.Now))
	h.bus = eventbus.New(newTestLogger())
	t.Cleanup(h.bus.Close)
	h.router = orchestrator.New(h.sink, h.bus, newTestLogger())

	deps := Deps{
		Store:         h.mem,
		Dispatch:      h.router,
		Feed:          h.sink,
		Notifier:      h.notifier,
		AlertChannels: []string{"slack"},
		Clock:         h.clock.Now,
		Logger:        newTestLogger(),
	}
	for _, a := range NewAll(deps) {
		require.NoError(t, h.router.Register(a.ID(), a))
	}
	h.router.Seal()
	return h
}

// submit routes p to agent as the system sender and requires no fault.
func (h *harness) submit(to domain.AgentID, p domain.Payload) domain.Result {
	h.t.Helper()
	res, err := h.submitErr(to, p)
	require.NoError(h.t, err)
	return res
}

func (h *harness) submitErr(to domain.AgentID, p domain.Payload) (domain.Result, error) {
	h.t.Helper()
	msg, err := domain.NewMessage(domain.SenderSystem, to, p)
	require.NoError(h.t, err)
	return h.router.Submit(h.ctx, msg)
}

// ok requires a success result and returns its value as T.
func ok[T any](t *testing.T, res domain.Result) T {
	t.Helper()
	require.False(t, res.Failed(), "unexpected failure: %+v", res.Failure)
	v, isT := res.Value.(T)
	require.True(t, isT, "result value is %T", res.Value)
	return v
}

// audits returns every persisted audit entry in append order.
func (h *harness) audits() []domain.FeedEntry {
	h.t.Helper()
	entries, err := h.sink.Recent(h.ctx, 0)
	require.NoError(h.t, err)
	slices.Reverse(entries)
	return entries
}

func (h *harness) auditsBy(agent domain.AgentID) []domain.FeedEntry {
	var out []domain.FeedEntry
	for _, e := range h.audits() {
		if e.Agent == agent {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) records(collection string, filter map[string]any) []domain.Record {
	h.t.Helper()
	recs, err := h.mem.Query(h.ctx, collection, domain.Query{Filter: filter, OrderBy: "created_at"})
	require.NoError(h.t, err)
	return recs
}

// seed inserts v directly, bypassing the agents.
func seed[T any](h *harness, collection string, v T) T {
	h.t.Helper()
	out, err := insert(h.ctx, h.mem, collection, v)
	require.NoError(h.t, err)
	return out
}

func (h *harness) failStore(collection string) {
	h.mem.SetFault(func(op, c string) error {
		if c == collection && op != "Query" {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
}

func (h *harness) createPayment(projectID, beneficiary string, amount float64) domain.Payment {
	h.t.Helper()
	return ok[domain.Payment](h.t, h.submit(domain.AgentFinancial, domain.CreatePayment{
		ProjectID:   projectID,
		Beneficiary: beneficiary,
		Amount:      amount,
	}))
}

func (h *harness) attachDocs(projectID, paymentID string, types ...string) {
	h.t.Helper()
	for _, typ := range types {
		res := h.submit(domain.AgentDatabase, domain.StoreData{
			ProjectID: projectID,
			Name:      typ + ".pdf",
			Type:      typ,
			Category:  domain.DocumentCategoryCompliance,
			Metadata:  map[string]any{"paymentId": paymentID},
		})
		require.False(h.t, res.Failed())
	}
}

func intPtr(i int) *int { return &i }
