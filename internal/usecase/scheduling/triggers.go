package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ppi-control/internal/domain"
)

// Submitter is the router entry point triggers fire into.
type Submitter interface {
	Submit(ctx context.Context, msg domain.Message) (domain.Result, error)
}

// Bindings wires the built-in triggers to agent actions.
type Bindings struct {
	Submit Submitter
	Store  domain.Store
	Logger *slog.Logger
}

// RegisterDefaults registers every built-in trigger on s and arms it with
// the schedule from specs, falling back to DefaultSpecs. A spec of "off"
// registers the trigger for RunNow without arming it.
func (b Bindings) RegisterDefaults(s *Scheduler, specs map[Trigger]string) error {
	jobs := map[Trigger]Job{
		TriggerDailyReport:   b.send(domain.AgentLeader, domain.DailyReport{}),
		TriggerDeadlineCheck: b.send(domain.AgentLeader, domain.ScanDeadlines{}),
		TriggerWeeklyReport:  b.send(domain.AgentLeader, domain.WeeklyReport{}),
		TriggerFeedFlush:     b.send(domain.AgentDailyFeed, domain.SendFeed{}),
		TriggerRiskSweep:     b.riskSweep,
	}
	for name, job := range jobs {
		s.Register(name, job)
		spec := specs[name]
		if spec == "" {
			spec = DefaultSpecs[name]
		}
		if spec == "off" {
			continue
		}
		if err := s.Schedule(name, spec); err != nil {
			return err
		}
	}
	return nil
}

func (b Bindings) send(to domain.AgentID, payload domain.Payload) Job {
	return func(ctx context.Context) error {
		return b.submit(ctx, to, payload)
	}
}

func (b Bindings) submit(ctx context.Context, to domain.AgentID, payload domain.Payload) error {
	msg, err := domain.NewMessage(domain.SenderScheduler, to, payload)
	if err != nil {
		return err
	}
	res, err := b.Submit.Submit(ctx, msg)
	if err != nil {
		return err
	}
	if res.Failed() {
		b.logger().Info("scheduled action declined",
			"to", string(to),
			"action", string(payload.Action()),
			"reason", res.Failure.Reason)
	}
	return nil
}

// riskSweep runs the overdue check across all projects, then glosa
// detection for each project that has paid payments. One project's fault
// does not stop the others.
func (b Bindings) riskSweep(ctx context.Context) error {
	if err := b.submit(ctx, domain.AgentFinancial, domain.CheckRisks{}); err != nil {
		return err
	}
	projects, err := b.paidProjects(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range projects {
		if err := b.submit(ctx, domain.AgentFinancial, domain.DetectGlosa{ProjectID: p}); err != nil {
			errs = append(errs, fmt.Errorf("glosa %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (b Bindings) paidProjects(ctx context.Context) ([]string, error) {
	recs, err := b.Store.Query(ctx, domain.CollectionPayments, domain.Query{
		Filter:  map[string]any{"status": string(domain.PaymentPaid)},
		OrderBy: "created_at",
	})
	if err != nil {
		return nil, domain.WrapOp("scheduler.riskSweep", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		p, _ := r["project_id"].(string)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func (b Bindings) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
