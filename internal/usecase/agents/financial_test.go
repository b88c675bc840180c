package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

func TestFinancial_CreatePayment(t *testing.T) {
	h := newHarness(t)

	p := h.createPayment("p1", "Ana", 1200)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, domain.DefaultPaymentCategory, p.Category)
	assert.Nil(t, p.PaymentDate)

	entries := h.audits()
	require.Len(t, entries, 1)
	assert.Equal(t, "financial", entries[0].Category)
	assert.Equal(t, "p1", entries[0].ProjectID)
	assert.Equal(t, "Payment created: Ana - R$ 1200.00", entries[0].Action)
}

func TestFinancial_CreatePaymentRequiresPositiveAmount(t *testing.T) {
	h := newHarness(t)
	_, err := domain.NewMessage(domain.SenderSystem, domain.AgentFinancial, domain.CreatePayment{ProjectID: "p1", Beneficiary: "Ana"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.audits())
}

func TestFinancial_RegisterCompliantPayment(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment("p1", "Ana", 500)
	h.attachDocs("p1", p.ID, RequiredDocTypes...)

	paid := ok[domain.Payment](t, h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: p.ID}))
	assert.Equal(t, domain.PaymentPaid, paid.Status)
	require.NotNil(t, paid.PaymentDate)
	assert.Equal(t, testEpoch, *paid.PaymentDate)

	checks := h.records(domain.CollectionComplianceChecks, map[string]any{"payment_id": p.ID})
	require.Len(t, checks, 1)
	assert.Equal(t, "passed", checks[0]["status"])
	assert.Empty(t, h.auditsBy(domain.AgentMessenger))
	assert.Empty(t, h.notifier.Sent())
}

func TestFinancial_RegisterWithoutDocsRaisesRisk(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment("p1", "Bruno", 800)
	h.attachDocs("p1", p.ID, "nota_fiscal")
	bare := h.createPayment("p1", "Carla", 300)

	paid := ok[domain.Payment](t, h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: p.ID}))
	assert.Equal(t, domain.PaymentPaid, paid.Status)

	checks := h.records(domain.CollectionComplianceChecks, map[string]any{"payment_id": p.ID})
	require.Len(t, checks, 1)
	assert.Equal(t, "failed", checks[0]["status"])
	assert.Equal(t, []any{"comprovante", "termo"}, checks[0]["issues"].(map[string]any)["missingDocs"])

	alerts := h.auditsBy(domain.AgentMessenger)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Alert: compliance_issue", alerts[0].Action)
	require.Len(t, h.notifier.Sent(), 1)
	assert.Contains(t, h.notifier.Sent()[0].content, "[ERROR] compliance_issue")

	// A paid payment with no compliance document at all becomes a glosa risk.
	h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: bare.ID})
	findings := ok[[]domain.RiskFinding](t, h.submit(domain.AgentFinancial, domain.DetectGlosa{ProjectID: "p1"}))
	require.Len(t, findings, 1)
	assert.Equal(t, bare.ID, findings[0].PaymentID)

	risks := h.records(domain.CollectionRisks, map[string]any{"payment_id": bare.ID})
	require.Len(t, risks, 1)
	assert.Equal(t, "high", risks[0]["severity"])
	assert.Equal(t, "active", risks[0]["status"])
	assert.Equal(t, "missing_documentation", risks[0]["kind"])
}

func TestFinancial_RegisterTwice(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment("p1", "Ana", 100)
	h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: p.ID})
	before := len(h.audits())

	res := h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: p.ID})
	require.True(t, res.Failed())
	assert.Equal(t, "Payment already paid", res.Failure.Reason)
	assert.Len(t, h.audits(), before)
}

func TestFinancial_RegisterMissing(t *testing.T) {
	h := newHarness(t)
	res := h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: "missing"})
	require.True(t, res.Failed())
	assert.Equal(t, "Payment not found", res.Failure.Reason)
	assert.Empty(t, h.audits())
}

func TestFinancial_RegisterWithChainedFaultKeepsPayment(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment("p1", "Ana", 100)
	h.failStore(domain.CollectionComplianceChecks)

	_, err := h.submitErr(domain.AgentFinancial, domain.RegisterPayment{PaymentID: p.ID})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	recs := h.records(domain.CollectionPayments, map[string]any{"id": p.ID})
	require.Len(t, recs, 1)
	assert.Equal(t, "paid", recs[0]["status"])

	fin := h.auditsBy(domain.AgentFinancial)
	require.Len(t, fin, 2)
	assert.Contains(t, fin[1].Action, "Payment registered")
	assert.Empty(t, h.auditsBy(domain.AgentCompliance))
}

func TestFinancial_ValidatePayment(t *testing.T) {
	h := newHarness(t)

	v := ok[PaymentValidation](t, h.submit(domain.AgentFinancial, domain.ValidatePayment{Beneficiary: "Ana"}))
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 2)
	assert.True(t, v.Validations["beneficiaryValid"])
	assert.False(t, v.Validations["amountValid"])

	p := h.createPayment("p1", "Ana", 10)
	v = ok[PaymentValidation](t, h.submit(domain.AgentFinancial, domain.ValidatePayment{PaymentID: p.ID}))
	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)
	require.NotNil(t, v.Payment)
	assert.Equal(t, p.ID, v.Payment.ID)

	res := h.submit(domain.AgentFinancial, domain.ValidatePayment{PaymentID: "missing"})
	assert.True(t, res.Failed())

	// Validation is read-only.
	assert.Len(t, h.audits(), 1)
}

func TestFinancial_CheckRisks(t *testing.T) {
	h := newHarness(t)
	old1 := h.createPayment("p1", "Ana", 100)
	h.createPayment("p2", "Caio", 300)
	h.clock.Advance(10 * 24 * time.Hour)
	h.createPayment("p1", "Recent", 200)
	h.clock.Advance(6 * 24 * time.Hour)

	before := len(h.audits())
	findings := ok[[]domain.RiskFinding](t, h.submit(domain.AgentFinancial, domain.CheckRisks{}))
	require.Len(t, findings, 2)
	assert.Equal(t, old1.ID, findings[0].PaymentID)
	assert.Equal(t, domain.RiskDelayedPayment, findings[0].Kind)
	assert.Equal(t, domain.SeverityHigh, findings[0].Severity)

	riskAudits := h.audits()[before:]
	require.Len(t, riskAudits, 2)
	projects := []string{riskAudits[0].ProjectID, riskAudits[1].ProjectID}
	assert.ElementsMatch(t, []string{"p1", "p2"}, projects)
	for _, e := range riskAudits {
		assert.Equal(t, "risk", e.Category)
	}
	assert.Len(t, h.records(domain.CollectionRisks, nil), 2)

	// A second sweep does not duplicate active risks.
	again := ok[[]domain.RiskFinding](t, h.submit(domain.AgentFinancial, domain.CheckRisks{}))
	assert.Empty(t, again)
	assert.Len(t, h.records(domain.CollectionRisks, nil), 2)
	assert.Len(t, h.audits(), before+2)
}

func TestFinancial_CheckRisksScopedToProject(t *testing.T) {
	h := newHarness(t)
	h.createPayment("p1", "Ana", 100)
	h.createPayment("p2", "Caio", 300)
	h.clock.Advance(16 * 24 * time.Hour)

	findings := ok[[]domain.RiskFinding](t, h.submit(domain.AgentFinancial, domain.CheckRisks{ProjectID: "p2"}))
	require.Len(t, findings, 1)
	assert.Len(t, h.records(domain.CollectionRisks, map[string]any{"project_id": "p1"}), 0)
}

func TestFinancial_DetectGlosa(t *testing.T) {
	h := newHarness(t)
	documented := h.createPayment("p1", "Ana", 100)
	h.attachDocs("p1", documented.ID, "comprovante")
	bare := h.createPayment("p1", "Bruno", 200)
	h.createPayment("p1", "Unpaid", 50)
	h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: documented.ID})
	h.submit(domain.AgentFinancial, domain.RegisterPayment{PaymentID: bare.ID})

	findings := ok[[]domain.RiskFinding](t, h.submit(domain.AgentFinancial, domain.DetectGlosa{ProjectID: "p1"}))
	require.Len(t, findings, 1)
	assert.Equal(t, bare.ID, findings[0].PaymentID)

	glosa := 0
	for _, e := range h.audits() {
		if e.Category == "glosa" {
			glosa++
		}
	}
	assert.Equal(t, 2, glosa, "one from financial, one from compliance")

	// Re-detection reports the finding again but compliance records no duplicate.
	compBefore := len(h.auditsBy(domain.AgentCompliance))
	h.submit(domain.AgentFinancial, domain.DetectGlosa{ProjectID: "p1"})
	assert.Len(t, h.records(domain.CollectionRisks, map[string]any{"payment_id": bare.ID}), 1)
	assert.Len(t, h.auditsBy(domain.AgentCompliance), compBefore)
}

func TestFinancial_DetectGlosaCleanProject(t *testing.T) {
	h := newHarness(t)
	findings := ok[[]domain.RiskFinding](t, h.submit(domain.AgentFinancial, domain.DetectGlosa{ProjectID: "p1"}))
	assert.Empty(t, findings)
	assert.Empty(t, h.audits())
}

func TestFinancial_CheckDeadlines(t *testing.T) {
	h := newHarness(t)
	in3 := testEpoch.Add(3 * 24 * time.Hour)
	in10 := testEpoch.Add(10 * 24 * time.Hour)
	for _, d := range []*time.Time{&in3, &in10, nil} {
		h.submit(domain.AgentFinancial, domain.CreatePayment{ProjectID: "p1", Beneficiary: "X", Amount: 1, PaymentDate: d})
	}
	before := len(h.audits())

	due := ok[[]domain.Payment](t, h.submit(domain.AgentFinancial, domain.CheckPaymentDeadlines{ProjectID: "p1"}))
	require.Len(t, due, 1)
	require.NotNil(t, due[0].PaymentDate)
	assert.True(t, due[0].PaymentDate.Equal(in3))
	assert.Len(t, h.audits(), before)
}
