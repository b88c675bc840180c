package agents

import (
	"context"
	"fmt"
	"math"
	"slices"

	"ppi-control/internal/domain"
)

// Compliance gates payments on their supporting documents and records risks.
type Compliance struct {
	base
}

func NewCompliance(deps Deps) *Compliance {
	return &Compliance{base: newBase(domain.AgentCompliance, deps)}
}

func (a *Compliance) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.VerifyPayment:
		return a.verifyPayment(ctx, msg, p)
	case domain.CheckDocument:
		return a.checkDocument(ctx, p)
	case domain.RunComplianceAudit:
		return a.runAudit(ctx, p)
	case domain.RecordGlosaRisks:
		return a.recordGlosaRisks(ctx, p)
	case domain.ResolveRisk:
		return a.resolveRisk(ctx, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

// Verification is the outcome of a payment document check.
type Verification struct {
	Payment     domain.Payment `json:"payment"`
	IsCompliant bool           `json:"isCompliant"`
	MissingDocs []string       `json:"missingDocs"`
	CheckID     string         `json:"checkId"`
}

// missingDocTypes returns the required types absent from docs, in required order.
func missingDocTypes(docs []domain.Document) []string {
	present := make(map[string]bool, len(docs))
	for _, d := range docs {
		present[d.Type] = true
	}
	missing := []string{}
	for _, t := range RequiredDocTypes {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

func (a *Compliance) verifyPayment(ctx context.Context, msg domain.Message, p domain.VerifyPayment) (domain.Result, error) {
	payment, ok, err := find[domain.Payment](ctx, a.store, domain.CollectionPayments, p.PaymentID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Fail("Payment not found", "paymentId", p.PaymentID), nil
	}

	docs, err := queryAll[domain.Document](ctx, a.store, domain.CollectionDocuments, domain.Query{
		Filter: map[string]any{"metadata.paymentId": payment.ID},
	})
	if err != nil {
		return domain.Result{}, err
	}
	missing := missingDocTypes(docs)
	compliant := len(missing) == 0

	status := domain.CheckPassed
	if !compliant {
		status = domain.CheckFailed
	}
	check, err := insert(ctx, a.store, domain.CollectionComplianceChecks, domain.ComplianceCheck{
		ProjectID: payment.ProjectID,
		PaymentID: payment.ID,
		CheckType: domain.CheckTypePaymentVerification,
		Status:    status,
		Issues:    domain.ComplianceIssues{MissingDocs: missing},
		CheckedAt: a.now(),
	})
	if err != nil {
		return domain.Result{}, err
	}

	verdict := "approved"
	if !compliant {
		verdict = "pending"
	}
	if err := a.audit(ctx, payment.ProjectID, payment.TaskID, "compliance", "Document verification: "+verdict, map[string]any{
		"payment":     payment,
		"missingDocs": missing,
		"isCompliant": compliant,
	}); err != nil {
		return domain.Result{}, err
	}

	if !compliant {
		if _, err := a.dispatch.Chain(ctx, msg, domain.AgentMessenger, domain.Alert{
			Type:      "compliance_issue",
			ProjectID: payment.ProjectID,
			TaskID:    payment.TaskID,
			Data: map[string]any{
				"paymentId":   payment.ID,
				"beneficiary": payment.Beneficiary,
				"amount":      payment.Amount,
				"missingDocs": missing,
			},
		}); err != nil {
			return domain.Result{}, err
		}
	}
	return domain.OK(Verification{Payment: payment, IsCompliant: compliant, MissingDocs: missing, CheckID: check.ID}), nil
}

// DocumentCheck reports the presence checks run against one document.
type DocumentCheck struct {
	Document domain.Document `json:"document"`
	Checks   map[string]bool `json:"checks"`
}

func (a *Compliance) checkDocument(ctx context.Context, p domain.CheckDocument) (domain.Result, error) {
	doc, ok, err := find[domain.Document](ctx, a.store, domain.CollectionDocuments, p.DocumentID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Fail("Document not found", "documentId", p.DocumentID), nil
	}

	checks := map[string]bool{
		"hasName":    doc.Name != "",
		"hasType":    doc.Type != "",
		"hasContent": doc.Content != "",
	}
	checks["isValid"] = checks["hasName"] && checks["hasType"]

	if err := a.audit(ctx, doc.ProjectID, "", "compliance", "Document checked: "+doc.Name, map[string]any{
		"documentId": doc.ID,
		"checks":     checks,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(DocumentCheck{Document: doc, Checks: checks}), nil
}

// AuditReport summarises the compliance checks recorded for a project.
type AuditReport struct {
	ProjectID      string                    `json:"projectId"`
	TotalChecks    int                       `json:"totalChecks"`
	Passed         int                       `json:"passed"`
	Failed         int                       `json:"failed"`
	ComplianceRate float64                   `json:"complianceRate"`
	Issues         []domain.ComplianceIssues `json:"issues"`
}

func (a *Compliance) runAudit(ctx context.Context, p domain.RunComplianceAudit) (domain.Result, error) {
	checks, err := queryAll[domain.ComplianceCheck](ctx, a.store, domain.CollectionComplianceChecks, domain.Query{
		Filter:  filter("project_id", p.ProjectID),
		OrderBy: "checked_at",
		Desc:    true,
	})
	if err != nil {
		return domain.Result{}, err
	}

	report := AuditReport{ProjectID: p.ProjectID, TotalChecks: len(checks), ComplianceRate: 100, Issues: []domain.ComplianceIssues{}}
	for _, c := range checks {
		switch c.Status {
		case domain.CheckPassed:
			report.Passed++
		case domain.CheckFailed:
			report.Failed++
			report.Issues = append(report.Issues, c.Issues)
		}
	}
	if report.TotalChecks > 0 {
		report.ComplianceRate = math.Round(float64(report.Passed)/float64(report.TotalChecks)*10000) / 100
	}

	action := fmt.Sprintf("Audit completed: %.2f%% compliance", report.ComplianceRate)
	if err := a.audit(ctx, p.ProjectID, "", "compliance", action, report); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(report), nil
}

// GlosaOutcome reports how many glosa risks were recorded.
type GlosaOutcome struct {
	Handled bool `json:"handled"`
	Count   int  `json:"count"`
	Skipped int  `json:"skipped"`
}

func (a *Compliance) recordGlosaRisks(ctx context.Context, p domain.RecordGlosaRisks) (domain.Result, error) {
	existing, err := queryAll[domain.Risk](ctx, a.store, domain.CollectionRisks, domain.Query{
		Filter: filter(
			"project_id", p.ProjectID,
			"status", string(domain.RiskActive),
			"kind", string(domain.RiskMissingDocumentation),
		),
	})
	if err != nil {
		return domain.Result{}, err
	}
	covered := make([]string, 0, len(existing))
	for _, r := range existing {
		covered = append(covered, r.PaymentID)
	}

	now := a.now()
	out := GlosaOutcome{Handled: true}
	recorded := []domain.RiskFinding{}
	for _, f := range p.Risks {
		if f.PaymentID != "" && slices.Contains(covered, f.PaymentID) {
			out.Skipped++
			continue
		}
		severity := f.Severity
		if severity == "" {
			severity = domain.SeverityHigh
		}
		if _, err := insert(ctx, a.store, domain.CollectionRisks, domain.Risk{
			ProjectID:    p.ProjectID,
			PaymentID:    f.PaymentID,
			Kind:         domain.RiskMissingDocumentation,
			Description:  f.Description,
			Severity:     severity,
			Status:       domain.RiskActive,
			IdentifiedAt: now,
		}); err != nil {
			return domain.Result{}, err
		}
		covered = append(covered, f.PaymentID)
		recorded = append(recorded, f)
	}
	out.Count = len(recorded)
	if out.Count == 0 {
		return domain.OK(out), nil
	}

	if err := a.audit(ctx, p.ProjectID, "", "glosa", "Glosa risks recorded for action", map[string]any{"risks": recorded}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(out), nil
}

func (a *Compliance) resolveRisk(ctx context.Context, p domain.ResolveRisk) (domain.Result, error) {
	risk, ok, err := find[domain.Risk](ctx, a.store, domain.CollectionRisks, p.RiskID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Fail("Risk not found", "riskId", p.RiskID), nil
	}
	if risk.Status == domain.RiskResolved {
		return domain.Fail("Risk already resolved", "riskId", p.RiskID), nil
	}

	risk, err = update[domain.Risk](ctx, a.store, domain.CollectionRisks, risk.ID, domain.Record{
		"status":      domain.RiskResolved,
		"resolved_at": a.now(),
	})
	if notFound(err) {
		return domain.Fail("Risk not found", "riskId", p.RiskID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, risk.ProjectID, "", "risk", "Risk resolved: "+risk.Description, map[string]any{"risk": risk}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(risk), nil
}

var _ domain.Agent = (*Compliance)(nil)
