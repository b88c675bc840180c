package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

func TestMissingDocTypes(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  []string
	}{
		{"none", nil, []string{"nota_fiscal", "comprovante", "termo"}},
		{"partial", []string{"termo", "nota_fiscal"}, []string{"comprovante"}},
		{"complete", []string{"comprovante", "termo", "nota_fiscal"}, []string{}},
		{"extras ignored", []string{"contrato", "nota_fiscal", "comprovante", "termo"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := make([]domain.Document, 0, len(tt.types))
			for _, typ := range tt.types {
				docs = append(docs, domain.Document{Type: typ})
			}
			assert.Equal(t, tt.want, missingDocTypes(docs))
		})
	}
}

func TestCompliance_VerifyPassesOnlyWithAllDocs(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3} {
		h := newHarness(t)
		p := h.createPayment("p1", "Ana", 100)
		h.attachDocs("p1", p.ID, RequiredDocTypes[:n]...)

		v := ok[Verification](t, h.submit(domain.AgentCompliance, domain.VerifyPayment{PaymentID: p.ID}))
		assert.Equal(t, n == 3, v.IsCompliant, "docs=%d", n)
		assert.Len(t, v.MissingDocs, 3-n)
		assert.NotEmpty(t, v.CheckID)

		comp := h.auditsBy(domain.AgentCompliance)
		require.Len(t, comp, 1)
		assert.Equal(t, "compliance", comp[0].Category)
		assert.Equal(t, "p1", comp[0].ProjectID)

		wantAlerts := 0
		if n < 3 {
			wantAlerts = 1
		}
		assert.Len(t, h.auditsBy(domain.AgentMessenger), wantAlerts)
	}
}

func TestCompliance_VerifyIgnoresOtherPaymentsDocs(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment("p1", "Ana", 100)
	other := h.createPayment("p1", "Bia", 100)
	h.attachDocs("p1", other.ID, RequiredDocTypes...)

	v := ok[Verification](t, h.submit(domain.AgentCompliance, domain.VerifyPayment{PaymentID: p.ID}))
	assert.False(t, v.IsCompliant)
}

func TestCompliance_VerifyMissingPayment(t *testing.T) {
	h := newHarness(t)
	res := h.submit(domain.AgentCompliance, domain.VerifyPayment{PaymentID: "nope"})
	require.True(t, res.Failed())
	assert.Equal(t, "Payment not found", res.Failure.Reason)
	assert.Empty(t, h.records(domain.CollectionComplianceChecks, nil))
}

func TestCompliance_CheckDocument(t *testing.T) {
	h := newHarness(t)
	doc := ok[domain.Document](t, h.submit(domain.AgentDatabase, domain.StoreData{ProjectID: "p1", Name: "contract.pdf"}))

	dc := ok[DocumentCheck](t, h.submit(domain.AgentCompliance, domain.CheckDocument{DocumentID: doc.ID}))
	assert.True(t, dc.Checks["hasName"])
	assert.True(t, dc.Checks["hasType"])
	assert.False(t, dc.Checks["hasContent"])
	assert.True(t, dc.Checks["isValid"])
	assert.Len(t, h.auditsBy(domain.AgentCompliance), 1)

	res := h.submit(domain.AgentCompliance, domain.CheckDocument{DocumentID: "nope"})
	require.True(t, res.Failed())
	assert.Equal(t, "Document not found", res.Failure.Reason)
}

func TestCompliance_AuditRate(t *testing.T) {
	h := newHarness(t)

	empty := ok[AuditReport](t, h.submit(domain.AgentCompliance, domain.RunComplianceAudit{ProjectID: "p1"}))
	assert.Equal(t, 0, empty.TotalChecks)
	assert.InDelta(t, 100.0, empty.ComplianceRate, 0)

	good := h.createPayment("p1", "Ana", 1)
	h.attachDocs("p1", good.ID, RequiredDocTypes...)
	for _, id := range []string{good.ID, h.createPayment("p1", "B", 1).ID, h.createPayment("p1", "C", 1).ID} {
		h.submit(domain.AgentCompliance, domain.VerifyPayment{PaymentID: id})
	}

	rep := ok[AuditReport](t, h.submit(domain.AgentCompliance, domain.RunComplianceAudit{ProjectID: "p1"}))
	assert.Equal(t, 3, rep.TotalChecks)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 2, rep.Failed)
	assert.InDelta(t, 33.33, rep.ComplianceRate, 0.001)
	assert.Len(t, rep.Issues, 2)

	last := h.audits()[len(h.audits())-1]
	assert.Equal(t, "Audit completed: 33.33% compliance", last.Action)
}

func TestCompliance_RecordGlosaRisksDedupes(t *testing.T) {
	h := newHarness(t)
	batch := domain.RecordGlosaRisks{
		ProjectID: "p1",
		Risks: []domain.RiskFinding{
			{Kind: domain.RiskMissingDocumentation, PaymentID: "pay-1", Severity: domain.SeverityHigh, Description: "a"},
			{Kind: domain.RiskMissingDocumentation, PaymentID: "pay-2", Description: "b"},
		},
	}

	out := ok[GlosaOutcome](t, h.submit(domain.AgentCompliance, batch))
	assert.Equal(t, GlosaOutcome{Handled: true, Count: 2}, out)
	assert.Len(t, h.auditsBy(domain.AgentCompliance), 1)

	risks := h.records(domain.CollectionRisks, map[string]any{"payment_id": "pay-2"})
	require.Len(t, risks, 1)
	assert.Equal(t, "high", risks[0]["severity"], "severity defaults to high")

	again := ok[GlosaOutcome](t, h.submit(domain.AgentCompliance, batch))
	assert.Equal(t, GlosaOutcome{Handled: true, Skipped: 2}, again)
	assert.Len(t, h.auditsBy(domain.AgentCompliance), 1)
	assert.Len(t, h.records(domain.CollectionRisks, nil), 2)
}

func TestCompliance_ResolveRisk(t *testing.T) {
	h := newHarness(t)
	risk := seed(h, domain.CollectionRisks, domain.Risk{
		ProjectID:    "p1",
		Kind:         domain.RiskDelayedPayment,
		Description:  "late",
		Severity:     domain.SeverityHigh,
		Status:       domain.RiskActive,
		IdentifiedAt: testEpoch,
	})

	resolved := ok[domain.Risk](t, h.submit(domain.AgentCompliance, domain.ResolveRisk{RiskID: risk.ID}))
	assert.Equal(t, domain.RiskResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Len(t, h.auditsBy(domain.AgentCompliance), 1)

	res := h.submit(domain.AgentCompliance, domain.ResolveRisk{RiskID: risk.ID})
	require.True(t, res.Failed())
	assert.Equal(t, "Risk already resolved", res.Failure.Reason)
	assert.Len(t, h.auditsBy(domain.AgentCompliance), 1)
}
