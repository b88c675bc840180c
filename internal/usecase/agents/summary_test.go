package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

func seedSummaryData(h *harness) {
	h.t.Helper()
	paid := h.createPayment("p1", "Ana", 100)
	h.createPayment("p1", "Bia", 50)
	h.createPayment("p2", "Caio", 30)
	h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: paid.ID})

	t1 := h.createTask("p1", "one", nil)
	h.createTask("p1", "two", nil)
	h.submit(domain.AgentLeader, domain.MoveTask{TaskID: t1.ID, Column: domain.ColumnDone})
	h.submit(domain.AgentLeader, domain.CreateTask{ProjectID: "p2", Title: "three", Priority: domain.PriorityHigh})

	risk := seed(h, domain.CollectionRisks, domain.Risk{ProjectID: "p1", Kind: domain.RiskDelayedPayment, Severity: domain.SeverityHigh, Status: domain.RiskActive})
	seed(h, domain.CollectionRisks, domain.Risk{ProjectID: "p2", Kind: domain.RiskDelayedPayment, Severity: domain.SeverityLow, Status: domain.RiskActive})
	h.submit(domain.AgentCompliance, domain.ResolveRisk{RiskID: risk.ID})

	seed(h, domain.CollectionProjects, domain.Record{"id": "p1", "name": "Bolsa 2026"})
}

func TestSummary_Financial(t *testing.T) {
	h := newHarness(t)
	seedSummaryData(h)

	s := ok[FinancialStats](t, h.submit(domain.AgentSummary, domain.FinancialSummary{ProjectID: "p1"}))
	assert.Equal(t, 2, s.Total.Count)
	assert.InDelta(t, 150, s.Total.Amount, 1e-9)
	assert.InDelta(t, 75, s.Total.Average, 1e-9)
	assert.Equal(t, AmountStat{Count: 1, Amount: 100}, s.Paid)
	assert.Equal(t, AmountStat{Count: 1, Amount: 50}, s.Pending)

	all := ok[FinancialStats](t, h.submit(domain.AgentSummary, domain.FinancialSummary{}))
	assert.Equal(t, 3, all.Total.Count)
}

func TestSummary_Tasks(t *testing.T) {
	h := newHarness(t)
	seedSummaryData(h)

	s := ok[TaskStats](t, h.submit(domain.AgentSummary, domain.TaskSummary{}))
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, map[string]int{"new": 2, "done": 1}, s.ByColumn)
	assert.Equal(t, map[string]int{"low": 0, "medium": 2, "high": 1}, s.ByPriority)
}

func TestSummary_Risks(t *testing.T) {
	h := newHarness(t)
	seedSummaryData(h)

	s := ok[RiskStats](t, h.submit(domain.AgentSummary, domain.RiskSummary{}))
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, map[string]int{"low": 1, "medium": 0, "high": 1}, s.BySeverity)
	assert.Equal(t, map[string]int{"active": 1, "resolved": 1}, s.ByStatus)
}

func TestSummary_ReadOnlyViewsDoNotAudit(t *testing.T) {
	h := newHarness(t)
	seedSummaryData(h)
	before := len(h.audits())

	h.submit(domain.AgentSummary, domain.FinancialSummary{})
	h.submit(domain.AgentSummary, domain.TaskSummary{})
	h.submit(domain.AgentSummary, domain.RiskSummary{})
	assert.Len(t, h.audits(), before)
}

func TestSummary_Project(t *testing.T) {
	h := newHarness(t)
	seedSummaryData(h)

	o := ok[ProjectOverview](t, h.submit(domain.AgentSummary, domain.ProjectSummary{ProjectID: "p1"}))
	assert.Equal(t, "Bolsa 2026", o.Project["name"])
	assert.Equal(t, 2, o.Tasks.Total)
	assert.InDelta(t, 100, o.Financial.TotalPaid, 1e-9)
	assert.InDelta(t, 50, o.Financial.TotalPending, 1e-9)
	assert.Equal(t, 1, o.Risks.Total)
	assert.Equal(t, 0, o.Documents.Total)

	last := h.audits()[len(h.audits())-1]
	assert.Equal(t, domain.AgentSummary, last.Agent)
	assert.Equal(t, "summary", last.Category)
	assert.Equal(t, "p1", last.ProjectID)
}

func TestSummary_Dashboard(t *testing.T) {
	h := newHarness(t)
	seedSummaryData(h)

	for _, area := range DashboardAreas {
		res := h.submit(domain.AgentSummary, domain.GenerateDashboard{Area: area})
		require.False(t, res.Failed(), area)
	}
	global := ok[GlobalOverview](t, h.submit(domain.AgentSummary, domain.GenerateDashboard{Area: AreaOverview}))
	assert.Equal(t, 3, global.Tasks.Total)

	scoped := ok[ProjectOverview](t, h.submit(domain.AgentSummary, domain.GenerateDashboard{Area: AreaOverview, ProjectID: "p2"}))
	assert.Equal(t, 1, scoped.Tasks.Total)

	dash := 0
	for _, e := range h.audits() {
		if e.Category == "dashboard" {
			dash++
		}
	}
	assert.Equal(t, 6, dash)
}

func TestSummary_UnknownDashboardArea(t *testing.T) {
	h := newHarness(t)
	res := h.submit(domain.AgentSummary, domain.GenerateDashboard{Area: "weather"})
	require.True(t, res.Failed())
	assert.Equal(t, "Unknown dashboard area", res.Failure.Reason)
	assert.Equal(t, DashboardAreas, res.Failure.Context["available"])
	assert.Empty(t, h.audits())
}
