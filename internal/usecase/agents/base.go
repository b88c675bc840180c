// Package agents holds the nine domain agents. Each agent evaluates one
// business area and reaches the others only through a Dispatcher.
package agents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ppi-control/internal/domain"
)

// Business thresholds.
const (
	OverdueThreshold       = 15 * 24 * time.Hour
	DeadlineHorizon        = 48 * time.Hour
	PaymentDeadlineHorizon = 7 * 24 * time.Hour
	MinQuotations          = 3
)

// RequiredDocTypes must all be attached to a payment for it to pass verification.
var RequiredDocTypes = []string{"nota_fiscal", "comprovante", "termo"}

// GeneralProject groups daily-feed items collected without a project.
const GeneralProject = "general"

// Dispatcher is the slice of the Router an agent may use.
type Dispatcher interface {
	Chain(ctx context.Context, parent domain.Message, to domain.AgentID, payload domain.Payload) (domain.Result, error)
	Broadcast(ctx context.Context, eventType domain.EventType, payload any)
	AppendAudit(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error)
}

// FeedReader reads back persisted audit entries for reports.
type FeedReader interface {
	Since(ctx context.Context, from time.Time) ([]domain.FeedEntry, error)
}

// Deps are the collaborators shared by every agent.
type Deps struct {
	Store    domain.Store
	Dispatch Dispatcher
	Feed     FeedReader
	// Notifier and AlertChannels are used by the messenger only.
	Notifier      domain.Notifier
	AlertChannels []string
	Clock         func() time.Time
	Logger        *slog.Logger
}

type base struct {
	id       domain.AgentID
	store    domain.Store
	dispatch Dispatcher
	feed     FeedReader
	clock    func() time.Time
	logger   *slog.Logger
}

func newBase(id domain.AgentID, deps Deps) base {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		id:       id,
		store:    deps.Store,
		dispatch: deps.Dispatch,
		feed:     deps.Feed,
		clock:    clock,
		logger:   logger.With("agent", string(id)),
	}
}

func (b base) ID() domain.AgentID { return b.id }

func (b base) now() time.Time { return b.clock().UTC() }

// audit appends one entry attributed to this agent.
func (b base) audit(ctx context.Context, projectID, taskID, category, action string, details any) error {
	_, err := b.dispatch.AppendAudit(ctx, domain.FeedEntry{
		ProjectID: projectID,
		TaskID:    taskID,
		Agent:     b.id,
		Category:  category,
		Action:    action,
		Details:   details,
	})
	return err
}

// acknowledge answers task:assigned. Receiving a task changes no state.
func (b base) acknowledge(p domain.TaskAssigned) domain.Result {
	b.logger.Info("task received", "task_id", p.Task.ID, "title", p.Task.Title)
	return domain.OK(map[string]any{"acknowledged": true, "agent": b.id, "taskId": p.Task.ID})
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// --- typed store helpers ---

func insert[T any](ctx context.Context, s domain.Store, collection string, v T) (T, error) {
	var out T
	rec, err := domain.ToRecord(v)
	if err != nil {
		return out, err
	}
	saved, err := s.Insert(ctx, collection, rec)
	if err != nil {
		return out, err
	}
	err = saved.Decode(&out)
	return out, err
}

func update[T any](ctx context.Context, s domain.Store, collection, id string, patch domain.Record) (T, error) {
	var out T
	saved, err := s.Update(ctx, collection, id, patch)
	if err != nil {
		return out, err
	}
	err = saved.Decode(&out)
	return out, err
}

// find loads one record by id. A missing record is reported as ok=false.
func find[T any](ctx context.Context, s domain.Store, collection, id string) (T, bool, error) {
	var out T
	recs, err := s.Query(ctx, collection, domain.Query{Filter: map[string]any{"id": id}, Limit: 1})
	if err != nil || len(recs) == 0 {
		return out, false, err
	}
	if err := recs[0].Decode(&out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func queryAll[T any](ctx context.Context, s domain.Store, collection string, q domain.Query) ([]T, error) {
	recs, err := s.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAll[T](recs)
}

// filter builds an equality filter, skipping empty string values.
func filter(kv ...string) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			m[kv[i]] = kv[i+1]
		}
	}
	return m
}

// notFound reports whether err is a vanished-record update race.
func notFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// NewAll builds one instance of every agent, in registration order.
func NewAll(deps Deps) []domain.Agent {
	return []domain.Agent{
		NewLeader(deps),
		NewFinancial(deps),
		NewCompliance(deps),
		NewMessenger(deps),
		NewDatabase(deps),
		NewSpreadsheet(deps),
		NewDailyFeed(deps),
		NewPurchase(deps),
		NewSummary(deps),
	}
}
