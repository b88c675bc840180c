package agents

import (
	"context"

	"ppi-control/internal/domain"
)

// Dashboard areas accepted by dashboard:generate.
const (
	AreaFinancial = "financial"
	AreaTasks     = "tasks"
	AreaRisks     = "risks"
	AreaOverview  = "overview"
)

// DashboardAreas lists the valid areas in display order.
var DashboardAreas = []string{AreaFinancial, AreaTasks, AreaRisks, AreaOverview}

// Summary aggregates records into read models.
type Summary struct {
	base
}

func NewSummary(deps Deps) *Summary {
	return &Summary{base: newBase(domain.AgentSummary, deps)}
}

func (a *Summary) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.ProjectSummary:
		return a.project(ctx, p)
	case domain.FinancialSummary:
		return wrap(a.financial(ctx, p.ProjectID))
	case domain.TaskSummary:
		return wrap(a.tasks(ctx, p.ProjectID))
	case domain.RiskSummary:
		return wrap(a.risks(ctx, p.ProjectID))
	case domain.GenerateDashboard:
		return a.dashboard(ctx, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

func wrap[T any](v T, err error) (domain.Result, error) {
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(v), nil
}

type AmountStat struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

type FinancialStats struct {
	Total struct {
		Count   int     `json:"count"`
		Amount  float64 `json:"amount"`
		Average float64 `json:"average"`
	} `json:"total"`
	Paid    AmountStat `json:"paid"`
	Pending AmountStat `json:"pending"`
}

func (a *Summary) financial(ctx context.Context, projectID string) (FinancialStats, error) {
	var s FinancialStats
	payments, err := queryAll[domain.Payment](ctx, a.store, domain.CollectionPayments, domain.Query{Filter: filter("project_id", projectID)})
	if err != nil {
		return s, err
	}
	for _, p := range payments {
		s.Total.Count++
		s.Total.Amount += p.Amount
		switch p.Status {
		case domain.PaymentPaid:
			s.Paid.Count++
			s.Paid.Amount += p.Amount
		case domain.PaymentPending:
			s.Pending.Count++
			s.Pending.Amount += p.Amount
		}
	}
	if s.Total.Count > 0 {
		s.Total.Average = s.Total.Amount / float64(s.Total.Count)
	}
	return s, nil
}

type TaskStats struct {
	ByColumn   map[string]int `json:"byColumn"`
	ByPriority map[string]int `json:"byPriority"`
	Total      int            `json:"total"`
}

func (a *Summary) tasks(ctx context.Context, projectID string) (TaskStats, error) {
	s := TaskStats{
		ByColumn: map[string]int{},
		ByPriority: map[string]int{
			string(domain.PriorityLow):    0,
			string(domain.PriorityMedium): 0,
			string(domain.PriorityHigh):   0,
		},
	}
	tasks, err := queryAll[domain.Task](ctx, a.store, domain.CollectionTasks, domain.Query{Filter: filter("project_id", projectID)})
	if err != nil {
		return s, err
	}
	for _, t := range tasks {
		s.ByColumn[string(t.Column)]++
		s.ByPriority[string(t.Priority)]++
		s.Total++
	}
	return s, nil
}

type RiskStats struct {
	BySeverity map[string]int `json:"bySeverity"`
	ByStatus   map[string]int `json:"byStatus"`
	Total      int            `json:"total"`
}

func (a *Summary) risks(ctx context.Context, projectID string) (RiskStats, error) {
	s := RiskStats{
		BySeverity: map[string]int{
			string(domain.SeverityLow):    0,
			string(domain.SeverityMedium): 0,
			string(domain.SeverityHigh):   0,
		},
		ByStatus: map[string]int{
			string(domain.RiskActive):   0,
			string(domain.RiskResolved): 0,
		},
	}
	risks, err := queryAll[domain.Risk](ctx, a.store, domain.CollectionRisks, domain.Query{Filter: filter("project_id", projectID)})
	if err != nil {
		return s, err
	}
	for _, r := range risks {
		s.BySeverity[string(r.Severity)]++
		s.ByStatus[string(r.Status)]++
		s.Total++
	}
	return s, nil
}

// ProjectOverview is the cross-domain summary of one project.
type ProjectOverview struct {
	ProjectID string        `json:"projectId"`
	Project   domain.Record `json:"project,omitempty"`
	Tasks     struct {
		ByColumn map[string]int `json:"byColumn"`
		Total    int            `json:"total"`
	} `json:"tasks"`
	Financial struct {
		ByStatus     map[string]AmountStat `json:"byStatus"`
		TotalPaid    float64               `json:"totalPaid"`
		TotalPending float64               `json:"totalPending"`
	} `json:"financial"`
	Documents struct {
		ByCategory map[string]int `json:"byCategory"`
		Total      int            `json:"total"`
	} `json:"documents"`
	Risks struct {
		BySeverity map[string]int `json:"bySeverity"`
		Total      int            `json:"total"`
	} `json:"risks"`
}

func (a *Summary) overview(ctx context.Context, projectID string) (ProjectOverview, error) {
	var o ProjectOverview
	o.ProjectID = projectID

	projects, err := a.store.Query(ctx, domain.CollectionProjects, domain.Query{Filter: filter("id", projectID), Limit: 1})
	if err != nil {
		return o, err
	}
	if len(projects) > 0 {
		o.Project = projects[0]
	}

	tasks, err := a.tasks(ctx, projectID)
	if err != nil {
		return o, err
	}
	o.Tasks.ByColumn, o.Tasks.Total = tasks.ByColumn, tasks.Total

	payments, err := queryAll[domain.Payment](ctx, a.store, domain.CollectionPayments, domain.Query{Filter: filter("project_id", projectID)})
	if err != nil {
		return o, err
	}
	o.Financial.ByStatus = map[string]AmountStat{}
	for _, p := range payments {
		st := o.Financial.ByStatus[string(p.Status)]
		st.Count++
		st.Amount += p.Amount
		o.Financial.ByStatus[string(p.Status)] = st
	}
	o.Financial.TotalPaid = o.Financial.ByStatus[string(domain.PaymentPaid)].Amount
	o.Financial.TotalPending = o.Financial.ByStatus[string(domain.PaymentPending)].Amount

	docs, err := queryAll[domain.Document](ctx, a.store, domain.CollectionDocuments, domain.Query{Filter: filter("project_id", projectID)})
	if err != nil {
		return o, err
	}
	o.Documents.ByCategory = map[string]int{}
	for _, d := range docs {
		o.Documents.ByCategory[d.Category]++
	}
	o.Documents.Total = len(docs)

	risks, err := a.risks(ctx, projectID)
	if err != nil {
		return o, err
	}
	o.Risks.BySeverity, o.Risks.Total = risks.BySeverity, risks.Total
	return o, nil
}

func (a *Summary) project(ctx context.Context, p domain.ProjectSummary) (domain.Result, error) {
	o, err := a.overview(ctx, p.ProjectID)
	if err != nil {
		return domain.Result{}, err
	}
	if err := a.audit(ctx, p.ProjectID, "", "summary", "Project summary generated", map[string]any{
		"tasks":     o.Tasks.Total,
		"documents": o.Documents.Total,
		"risks":     o.Risks.Total,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(o), nil
}

// GlobalOverview aggregates every project when no project is named.
type GlobalOverview struct {
	Financial FinancialStats `json:"financial"`
	Tasks     TaskStats      `json:"tasks"`
	Risks     RiskStats      `json:"risks"`
}

func (a *Summary) dashboard(ctx context.Context, p domain.GenerateDashboard) (domain.Result, error) {
	var (
		view any
		err  error
	)
	switch p.Area {
	case AreaFinancial:
		view, err = a.financial(ctx, p.ProjectID)
	case AreaTasks:
		view, err = a.tasks(ctx, p.ProjectID)
	case AreaRisks:
		view, err = a.risks(ctx, p.ProjectID)
	case AreaOverview:
		if p.ProjectID != "" {
			view, err = a.overview(ctx, p.ProjectID)
			break
		}
		var g GlobalOverview
		if g.Financial, err = a.financial(ctx, ""); err != nil {
			break
		}
		if g.Tasks, err = a.tasks(ctx, ""); err != nil {
			break
		}
		g.Risks, err = a.risks(ctx, "")
		view = g
	default:
		return domain.Fail("Unknown dashboard area", "area", p.Area, "available", DashboardAreas), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, p.ProjectID, "", "dashboard", "Dashboard generated: "+p.Area, map[string]any{
		"area":      p.Area,
		"projectId": p.ProjectID,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(view), nil
}

var _ domain.Agent = (*Summary)(nil)
