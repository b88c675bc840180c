// Package orchestrator routes addressed messages between the registered
// agents and owns the audit sink reference.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"ppi-control/internal/domain"
	"ppi-control/internal/infra/tracer"
)

// AuditSink is the append-only log behind AppendAudit and OnAudit.
type AuditSink interface {
	Append(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error)
	Subscribe(fn domain.AuditFunc) func()
}

// Router delivers messages to registered agents synchronously. The registry
// is filled once at startup and sealed before traffic is accepted.
type Router struct {
	mu     sync.RWMutex
	agents map[domain.AgentID]domain.Agent
	sealed bool

	sink   AuditSink
	bus    domain.EventBus
	edges  []Edge
	logger *slog.Logger
}

// New creates a Router. bus may be nil, in which case broadcasts are dropped.
func New(sink AuditSink, bus domain.EventBus, logger *slog.Logger) *Router {
	return &Router{
		agents: make(map[domain.AgentID]domain.Agent),
		sink:   sink,
		bus:    bus,
		edges:  chainTable,
		logger: logger.With("component", "router"),
	}
}

// Register binds id to agent. Each id binds once, and only before Seal.
func (r *Router) Register(id domain.AgentID, agent domain.Agent) error {
	if !id.Valid() {
		return domain.NewSubSystemError("router", "Router.Register", domain.ErrInvalidInput, fmt.Sprintf("agent id %q", id))
	}
	if agent == nil || agent.ID() != id {
		return domain.NewSubSystemError("router", "Router.Register", domain.ErrInvalidInput, fmt.Sprintf("agent does not answer to %q", id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return domain.NewSubSystemError("router", "Router.Register", domain.ErrRegistrySealed, string(id))
	}
	if _, exists := r.agents[id]; exists {
		return domain.NewSubSystemError("router", "Router.Register", domain.ErrDuplicate, string(id))
	}
	r.agents[id] = agent
	r.logger.Info("agent registered", "agent", string(id))
	return nil
}

// Seal freezes the registry. Later Register calls fail with ErrRegistrySealed.
func (r *Router) Seal() {
	r.mu.Lock()
	r.sealed = true
	n := len(r.agents)
	r.mu.Unlock()
	r.logger.Info("agent registry sealed", "agents", n)
}

// Agents returns the registered ids in a stable order.
func (r *Router) Agents() []domain.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.AgentID, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Agent returns the agent registered under id.
func (r *Router) Agent(id domain.AgentID) (domain.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Submit is the external entry point. It behaves like Route inside a
// workflow-level span.
func (r *Router) Submit(ctx context.Context, msg domain.Message) (domain.Result, error) {
	ctx, span := tracer.StartSpan(ctx, "router.submit",
		trace.WithAttributes(
			tracer.StringAttr("message.id", msg.ID),
			tracer.StringAttr("message.from", string(msg.From)),
			tracer.StringAttr("message.to", string(msg.To)),
			tracer.StringAttr("message.action", string(msg.Action)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := r.Route(ctx, msg)
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("workflow failed",
			"message_id", msg.ID,
			"to", string(msg.To),
			"action", string(msg.Action),
			"error", err,
			"code", string(domain.ErrorCodeOf(err)),
		)
		return domain.Result{}, err
	}
	tracer.SetOK(span)
	r.logger.Info("workflow completed",
		"message_id", msg.ID,
		"to", string(msg.To),
		"action", string(msg.Action),
		"failed", res.Failed(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Route resolves msg.To and invokes the agent synchronously. An unknown
// target yields a routing failure, never an error.
func (r *Router) Route(ctx context.Context, msg domain.Message) (res domain.Result, err error) {
	ctx, span := tracer.StartSpan(ctx, "router.route",
		trace.WithAttributes(
			tracer.StringAttr("agent", string(msg.To)),
			tracer.StringAttr("action", string(msg.Action)),
		),
	)
	defer span.End()

	agent, ok := r.Agent(msg.To)
	if !ok {
		r.logger.Warn("route to unknown agent",
			"message_id", msg.ID,
			"from", string(msg.From),
			"to", string(msg.To),
			"action", string(msg.Action),
		)
		span.AddEvent("unknown agent")
		return domain.RoutingFailure("unknown agent", "agent", string(msg.To)), nil
	}

	if msg.Payload == nil {
		return domain.Fail("invalid payload", "action", string(msg.Action), "detail", "missing payload"), nil
	}
	if msg.Payload.Action() != msg.Action {
		return domain.Fail("invalid payload", "action", string(msg.Action), "detail", "payload is for "+string(msg.Payload.Action())), nil
	}
	if verr := msg.Payload.Validate(); verr != nil {
		r.logger.Debug("payload rejected", "to", string(msg.To), "action", string(msg.Action), "error", verr)
		return domain.Fail("invalid payload", "action", string(msg.Action), "detail", verr.Error()), nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent %s panicked handling %s: %v", msg.To, msg.Action, p)
			r.logger.Error("agent panicked", "agent", string(msg.To), "action", string(msg.Action), "panic", p)
			tracer.RecordError(span, err)
			res = domain.Result{}
		}
	}()

	res, err = agent.Handle(ctx, msg)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Result{}, domain.WrapOp(fmt.Sprintf("%s %s", msg.To, msg.Action), err)
	}
	if res.Failed() {
		span.AddEvent("business failure", trace.WithAttributes(tracer.StringAttr("reason", res.Failure.Reason)))
		r.logger.Debug("agent returned failure",
			"agent", string(msg.To),
			"action", string(msg.Action),
			"reason", res.Failure.Reason,
		)
	} else {
		tracer.SetOK(span)
	}
	return res, nil
}

// Chain routes a follow-up emitted while handling parent. The edge
// (parent.To, parent.Action) -> (to, payload action) must be declared in the
// chain table. Routing and business failures of the follow-up are logged and
// returned as a Result; only faults come back as errors.
func (r *Router) Chain(ctx context.Context, parent domain.Message, to domain.AgentID, payload domain.Payload) (domain.Result, error) {
	if payload == nil {
		return domain.Result{}, domain.NewSubSystemError("router", "Router.Chain", domain.ErrInvalidInput, "nil payload")
	}
	if !declared(r.edges, parent.To, parent.Action, to, payload.Action()) {
		return domain.Result{}, domain.NewSubSystemError("router", "Router.Chain", domain.ErrChainNotDeclared,
			fmt.Sprintf("%s %s -> %s %s", parent.To, parent.Action, to, payload.Action()))
	}
	msg, err := domain.NewMessage(parent.To, to, payload)
	if err != nil {
		return domain.Result{}, domain.WrapOp("Router.Chain", err)
	}

	res, err := r.Route(ctx, msg)
	if err != nil {
		return domain.Result{}, err
	}
	if res.Failed() {
		level := slog.LevelInfo
		if res.Failure.Kind == domain.FailureRouting {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "chained step failed",
			"parent_id", parent.ID,
			"from", string(parent.To),
			"to", string(to),
			"action", string(payload.Action()),
			"reason", res.Failure.Reason,
		)
	}
	return res, nil
}

// Broadcast publishes a fire-and-forget event. Delivery is best-effort.
func (r *Router) Broadcast(ctx context.Context, eventType domain.EventType, payload any) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("broadcast payload not encodable", "event", string(eventType), "error", err)
		return
	}
	r.bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: data})
}

// AppendAudit passes entry through the audit sink, in call order.
func (r *Router) AppendAudit(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error) {
	return r.sink.Append(ctx, entry)
}

// OnAudit streams every appended entry to fn until the returned function is called.
func (r *Router) OnAudit(fn domain.AuditFunc) func() {
	return r.sink.Subscribe(fn)
}
