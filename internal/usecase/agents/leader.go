package agents

import (
	"context"
	"time"

	"ppi-control/internal/domain"
)

// Leader owns the task lifecycle, deadline escalation and periodic reports.
type Leader struct {
	base
}

// NewLeader creates the workflow lead agent.
func NewLeader(deps Deps) *Leader {
	return &Leader{base: newBase(domain.AgentLeader, deps)}
}

func (a *Leader) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.CreateTask:
		return a.createTask(ctx, msg, p)
	case domain.MoveTask:
		return a.moveTask(ctx, p)
	case domain.AssignTask:
		return a.assignTask(ctx, msg, p)
	case domain.ScanDeadlines:
		return a.scanDeadlines(ctx, msg)
	case domain.DailyReport:
		return a.dailyReport(ctx)
	case domain.WeeklyReport:
		return a.weeklyReport(ctx)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

func (a *Leader) createTask(ctx context.Context, msg domain.Message, p domain.CreateTask) (domain.Result, error) {
	now := a.now()
	priority := p.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	task, err := insert(ctx, a.store, domain.CollectionTasks, domain.Task{
		ProjectID:   p.ProjectID,
		Title:       p.Title,
		Description: p.Description,
		Column:      domain.ColumnNew,
		Priority:    priority,
		DueDate:     p.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, task.ProjectID, task.ID, "task", "Task created: "+task.Title, map[string]any{"task": task}); err != nil {
		return domain.Result{}, err
	}

	if _, err := a.dispatch.Chain(ctx, msg, domain.AgentMessenger, domain.Notify{
		Type:      "task_created",
		ProjectID: task.ProjectID,
		TaskID:    task.ID,
		Data:      map[string]any{"title": task.Title},
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(task), nil
}

func (a *Leader) moveTask(ctx context.Context, p domain.MoveTask) (domain.Result, error) {
	task, ok, err := find[domain.Task](ctx, a.store, domain.CollectionTasks, p.TaskID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Fail("Task not found", "taskId", p.TaskID), nil
	}

	previous := task.Column
	task, err = update[domain.Task](ctx, a.store, domain.CollectionTasks, task.ID, domain.Record{
		"column":     p.Column,
		"updated_at": a.now(),
	})
	if notFound(err) {
		return domain.Fail("Task not found", "taskId", p.TaskID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, task.ProjectID, task.ID, "task", "Task moved to: "+string(p.Column), map[string]any{
		"task":           task,
		"previousColumn": previous,
		"newColumn":      p.Column,
	}); err != nil {
		return domain.Result{}, err
	}
	a.dispatch.Broadcast(ctx, domain.EventTaskUpdated, task)
	return domain.OK(task), nil
}

func (a *Leader) assignTask(ctx context.Context, msg domain.Message, p domain.AssignTask) (domain.Result, error) {
	task, ok, err := find[domain.Task](ctx, a.store, domain.CollectionTasks, p.TaskID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Fail("Task not found", "taskId", p.TaskID), nil
	}

	task, err = update[domain.Task](ctx, a.store, domain.CollectionTasks, task.ID, domain.Record{
		"assigned_agent": p.Agent,
		"column":         domain.ColumnAllocated,
		"updated_at":     a.now(),
	})
	if notFound(err) {
		return domain.Fail("Task not found", "taskId", p.TaskID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, task.ProjectID, task.ID, "task", "Task assigned to: "+string(p.Agent), map[string]any{
		"task":          task,
		"assignedAgent": p.Agent,
	}); err != nil {
		return domain.Result{}, err
	}

	// An unknown assignee comes back as a routing failure; the assignment stands.
	if _, err := a.dispatch.Chain(ctx, msg, p.Agent, domain.TaskAssigned{Task: task}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(task), nil
}

// DeadlineScan is the result of one deadline escalation pass.
type DeadlineScan struct {
	Checked int      `json:"checked"`
	Alerted []string `json:"alerted"`
}

func (a *Leader) scanDeadlines(ctx context.Context, msg domain.Message) (domain.Result, error) {
	tasks, err := queryAll[domain.Task](ctx, a.store, domain.CollectionTasks, domain.Query{OrderBy: "due_date"})
	if err != nil {
		return domain.Result{}, err
	}

	horizon := a.now().Add(DeadlineHorizon)
	scan := DeadlineScan{Alerted: []string{}}
	for _, t := range tasks {
		if t.DueDate == nil || t.Column.Terminal() {
			continue
		}
		scan.Checked++
		if t.DueDate.After(horizon) {
			continue
		}
		res, err := a.dispatch.Chain(ctx, msg, domain.AgentMessenger, domain.Alert{
			Type:      "deadline_warning",
			ProjectID: t.ProjectID,
			TaskID:    t.ID,
			Data: map[string]any{
				"title":   t.Title,
				"dueDate": t.DueDate,
				"column":  t.Column,
				"overdue": t.DueDate.Before(a.now()),
			},
		})
		if err != nil {
			return domain.Result{}, err
		}
		if !res.Failed() {
			scan.Alerted = append(scan.Alerted, t.ID)
		}
	}
	if len(scan.Alerted) > 0 {
		a.logger.Info("deadline alerts sent", "count", len(scan.Alerted))
	}
	return domain.OK(scan), nil
}

// Report is a periodic activity report.
type Report struct {
	Period      string                    `json:"period"`
	Date        string                    `json:"date"`
	From        string                    `json:"from"`
	Activities  []domain.FeedEntry        `json:"activities"`
	TaskSummary map[domain.TaskColumn]int `json:"taskSummary"`
	GeneratedBy domain.AgentID            `json:"generatedBy"`
	GeneratedAt string                    `json:"generatedAt"`
}

func (a *Leader) dailyReport(ctx context.Context) (domain.Result, error) {
	now := a.now()
	return a.report(ctx, "daily", startOfDay(now), "Daily report generated")
}

func (a *Leader) weeklyReport(ctx context.Context) (domain.Result, error) {
	now := a.now()
	return a.report(ctx, "weekly", now.Add(-7*24*time.Hour), "Weekly report generated")
}

func (a *Leader) report(ctx context.Context, period string, from time.Time, action string) (domain.Result, error) {
	now := a.now()
	activities, err := a.feed.Since(ctx, from)
	if err != nil {
		return domain.Result{}, err
	}
	tasks, err := queryAll[domain.Task](ctx, a.store, domain.CollectionTasks, domain.Query{})
	if err != nil {
		return domain.Result{}, err
	}
	summary := make(map[domain.TaskColumn]int)
	for _, t := range tasks {
		summary[t.Column]++
	}
	if activities == nil {
		activities = []domain.FeedEntry{}
	}

	rep := Report{
		Period:      period,
		Date:        now.Format(time.DateOnly),
		From:        from.Format(time.RFC3339),
		Activities:  activities,
		TaskSummary: summary,
		GeneratedBy: a.id,
		GeneratedAt: now.Format(time.RFC3339),
	}
	if err := a.audit(ctx, "", "", "report", action, map[string]any{
		"period":        period,
		"date":          rep.Date,
		"activityCount": len(activities),
		"taskSummary":   summary,
	}); err != nil {
		return domain.Result{}, err
	}
	a.dispatch.Broadcast(ctx, domain.EventReportGenerated, map[string]any{
		"period":        period,
		"date":          rep.Date,
		"activityCount": len(activities),
	})
	return domain.OK(rep), nil
}

var _ domain.Agent = (*Leader)(nil)
