package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/adapter/store"
	"ppi-control/internal/domain"
	"ppi-control/internal/usecase/agents"
	"ppi-control/internal/usecase/eventbus"
	"ppi-control/internal/usecase/feed"
	"ppi-control/internal/usecase/orchestrator"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	msgs []domain.Message
	res  domain.Result
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, msg domain.Message) (domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.res, f.err
}

func (f *fakeSubmitter) Agents() []domain.AgentID { return []domain.AgentID{domain.AgentLeader} }

func (f *fakeSubmitter) Messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.msgs...)
}

// fakeFeed holds entries oldest first and serves them newest first.
type fakeFeed struct {
	mu      sync.Mutex
	entries []domain.FeedEntry
	limit   int
}

func (f *fakeFeed) Recent(_ context.Context, limit int) ([]domain.FeedEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	out := make([]domain.FeedEntry, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *fakeFeed) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeFeed) Seq() uint64 { return uint64(len(f.entries)) }

func startHandlerServer(t *testing.T, deps HandlerDeps) (*Server, *Counters) {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = newTestLogger()
	}
	srv := NewServer(&testBus{}, newTestAuth(), "127.0.0.1:0", newTestLogger())
	counters, err := RegisterHandlers(srv, deps)
	require.NoError(t, err)
	return runServer(t, srv), counters
}

func TestSubmitSchemaRejectsBadEnvelopes(t *testing.T) {
	sub := &fakeSubmitter{res: domain.OK("done")}
	srv, counters := startHandlerServer(t, HandlerDeps{Router: sub, Feed: &fakeFeed{}})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	tests := []struct {
		name    string
		payload any
	}{
		{"missing to", map[string]any{"action": "task:create"}},
		{"missing action", map[string]any{"to": "leader"}},
		{"malformed action", map[string]any{"to": "leader", "action": "create task"}},
		{"scheduler sender", map[string]any{"from": "scheduler", "to": "leader", "action": "report:daily"}},
		{"unknown field", map[string]any{"to": "leader", "action": "report:daily", "priority": "high"}},
		{"payload not object", map[string]any{"to": "leader", "action": "report:daily", "payload": []int{1}}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := call(t, ws, uint64(i+1), "submit", tt.payload)
			assert.Contains(t, resp.Error, "rpc payload invalid")
		})
	}
	assert.Empty(t, sub.Messages())
	assert.Equal(t, int64(len(tests)), counters.Rejected.Load())
}

func TestSubmitRejectsMissingPayloadFields(t *testing.T) {
	sub := &fakeSubmitter{res: domain.OK("done")}
	srv, _ := startHandlerServer(t, HandlerDeps{Router: sub, Feed: &fakeFeed{}})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp, _ := call(t, ws, 1, "submit", map[string]any{
		"to":      "leader",
		"action":  "task:create",
		"payload": map[string]any{"projectId": "p1"},
	})
	assert.Contains(t, resp.Error, "missing title")
	assert.Empty(t, sub.Messages())
}

func TestSubmitDecodesAndRoutes(t *testing.T) {
	sub := &fakeSubmitter{res: domain.OK(map[string]string{"id": "t1"})}
	srv, counters := startHandlerServer(t, HandlerDeps{Router: sub, Feed: &fakeFeed{}})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp, _ := call(t, ws, 1, "submit", map[string]any{
		"to":      "leader",
		"action":  "task:create",
		"payload": map[string]any{"projectId": "p1", "title": "Pour foundation"},
	})
	require.Empty(t, resp.Error)

	msgs := sub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SenderSystem, msgs[0].From, "from defaults to system")
	assert.Equal(t, domain.AgentLeader, msgs[0].To)
	assert.Equal(t, domain.CreateTask{ProjectID: "p1", Title: "Pour foundation"}, msgs[0].Payload)

	var out struct {
		MessageID string            `json:"message_id"`
		Result    map[string]string `json:"result"`
		Failed    bool              `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.Equal(t, msgs[0].ID, out.MessageID)
	assert.Equal(t, "t1", out.Result["id"])
	assert.False(t, out.Failed)
	assert.Equal(t, int64(1), counters.Submits.Load())
}

func TestSubmitReportsFaultsAsFrameErrors(t *testing.T) {
	sub := &fakeSubmitter{err: domain.WrapOp("Store.Insert", domain.ErrStoreUnavailable)}
	srv, counters := startHandlerServer(t, HandlerDeps{Router: sub, Feed: &fakeFeed{}})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp, _ := call(t, ws, 1, "submit", map[string]any{"to": "leader", "action": "report:daily"})
	assert.Contains(t, resp.Error, domain.ErrStoreUnavailable.Error())
	assert.Equal(t, int64(1), counters.SubmitFaults.Load())
}

func TestFeedRecentClampsLimit(t *testing.T) {
	entries := make([]domain.FeedEntry, 3)
	for i := range entries {
		entries[i] = domain.FeedEntry{Seq: uint64(i + 1), Agent: domain.AgentLeader, Category: "task", Action: fmt.Sprintf("a%d", i)}
	}
	fd := &fakeFeed{entries: entries}
	srv, _ := startHandlerServer(t, HandlerDeps{Router: &fakeSubmitter{}, Feed: fd})
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp, _ := call(t, ws, 1, "feed.recent", map[string]int{"limit": 2})
	require.Empty(t, resp.Error)
	var out FeedRecentResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	require.Len(t, out.Entries, 2)
	assert.Equal(t, uint64(3), out.Entries[0].Seq, "newest first")
	assert.Equal(t, uint64(3), out.Seq)

	call(t, ws, 2, "feed.recent", nil)
	assert.Equal(t, defaultFeedLimit, fd.lastLimit())

	call(t, ws, 3, "feed.recent", map[string]int{"limit": 10_000})
	assert.Equal(t, maxFeedLimit, fd.lastLimit())

	resp, _ = call(t, ws, 4, "feed.recent", "ten")
	assert.Contains(t, resp.Error, "rpc payload invalid")
}

// fullStack wires the real router, feed and agents behind the gateway.
func fullStack(t *testing.T) *Server {
	t.Helper()
	logger := newTestLogger()
	mem := store.NewMemoryStore()
	sink := feed.New(mem, logger)
	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)
	router := orchestrator.New(sink, bus, logger)

	for _, a := range agents.NewAll(agents.Deps{
		Store:    mem,
		Dispatch: router,
		Feed:     sink,
		Notifier: nopNotifier{},
		Clock:    func() time.Time { return time.Now().UTC() },
		Logger:   logger,
	}) {
		require.NoError(t, router.Register(a.ID(), a))
	}
	router.Seal()

	srv := NewServer(bus, newTestAuth(), "127.0.0.1:0", logger, WithAuditSource(router))
	_, err := RegisterHandlers(srv, HandlerDeps{Router: router, Feed: sink, Bus: bus, Logger: logger})
	require.NoError(t, err)
	return runServer(t, srv)
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, string) bool { return true }

func TestSubmitEndToEndPushesAudit(t *testing.T) {
	srv := fullStack(t)
	ws := dialWS(t, srv.BoundAddr(), "test-token")
	waitClients(t, srv, 1)

	resp, events := call(t, ws, 1, "submit", map[string]any{
		"to":      "purchase",
		"action":  "purchase:create",
		"payload": map[string]any{"projectId": "p1", "item": "cement"},
	})
	require.Empty(t, resp.Error)

	var out SubmitResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.False(t, out.Failed)

	var audits []domain.FeedEntry
	for _, f := range events {
		if f.Method != string(domain.EventFeedAppended) {
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(f.Payload, &ev))
		var entry domain.FeedEntry
		require.NoError(t, json.Unmarshal(ev.Payload, &entry))
		audits = append(audits, entry)
	}
	require.NotEmpty(t, audits, "audit entry is pushed before the response")
	assert.Equal(t, "p1", audits[0].ProjectID)
	assert.Equal(t, domain.AgentPurchase, audits[0].Agent)

	recent, _ := call(t, ws, 2, "feed.recent", map[string]int{"limit": 5})
	var feedOut FeedRecentResponse
	require.NoError(t, json.Unmarshal(recent.Payload, &feedOut))
	require.NotEmpty(t, feedOut.Entries)
	assert.Equal(t, audits[len(audits)-1].Seq, feedOut.Seq)
}

func TestSubmitUnknownAgentIsFailureResult(t *testing.T) {
	srv := fullStack(t)
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp, _ := call(t, ws, 1, "submit", map[string]any{"to": "accountant", "action": "report:daily"})
	require.Empty(t, resp.Error, "routing failures are results, not errors")

	var out struct {
		Failed bool           `json:"failed"`
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &out))
	assert.True(t, out.Failed)
	assert.NotEmpty(t, out.Result["error"])
}
