package agents

import (
	"context"
	"fmt"

	"ppi-control/internal/domain"
)

// Financial issues payments and raises payment-related risks.
type Financial struct {
	base
}

func NewFinancial(deps Deps) *Financial {
	return &Financial{base: newBase(domain.AgentFinancial, deps)}
}

func (a *Financial) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.CreatePayment:
		return a.createPayment(ctx, p)
	case domain.RegisterPayment:
		return a.registerPayment(ctx, msg, p)
	case domain.ValidatePayment:
		return a.validatePayment(ctx, p)
	case domain.CheckRisks:
		return a.checkRisks(ctx, p)
	case domain.DetectGlosa:
		return a.detectGlosa(ctx, msg, p)
	case domain.CheckPaymentDeadlines:
		return a.checkDeadlines(ctx, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

func (a *Financial) createPayment(ctx context.Context, p domain.CreatePayment) (domain.Result, error) {
	now := a.now()
	category := p.Category
	if category == "" {
		category = domain.DefaultPaymentCategory
	}
	payment, err := insert(ctx, a.store, domain.CollectionPayments, domain.Payment{
		ProjectID:   p.ProjectID,
		TaskID:      p.TaskID,
		Beneficiary: p.Beneficiary,
		Amount:      p.Amount,
		Status:      domain.PaymentPending,
		PaymentDate: p.PaymentDate,
		Category:    category,
		Notes:       p.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Result{}, err
	}

	action := fmt.Sprintf("Payment created: %s - R$ %.2f", payment.Beneficiary, payment.Amount)
	if err := a.audit(ctx, payment.ProjectID, payment.TaskID, "financial", action, map[string]any{"payment": payment}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(payment), nil
}

func (a *Financial) registerPayment(ctx context.Context, msg domain.Message, p domain.RegisterPayment) (domain.Result, error) {
	payment, ok, err := find[domain.Payment](ctx, a.store, domain.CollectionPayments, p.PaymentID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Fail("Payment not found", "paymentId", p.PaymentID), nil
	}
	if payment.Status == domain.PaymentPaid {
		return domain.Fail("Payment already paid", "paymentId", p.PaymentID), nil
	}

	now := a.now()
	paidAt := now
	if p.PaymentDate != nil {
		paidAt = p.PaymentDate.UTC()
	}
	payment, err = update[domain.Payment](ctx, a.store, domain.CollectionPayments, payment.ID, domain.Record{
		"status":       domain.PaymentPaid,
		"payment_date": paidAt,
		"updated_at":   now,
	})
	if notFound(err) {
		return domain.Fail("Payment not found", "paymentId", p.PaymentID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	action := fmt.Sprintf("Payment registered: %s - R$ %.2f", payment.Beneficiary, payment.Amount)
	if err := a.audit(ctx, payment.ProjectID, payment.TaskID, "financial", action, map[string]any{"payment": payment}); err != nil {
		return domain.Result{}, err
	}

	if _, err := a.dispatch.Chain(ctx, msg, domain.AgentCompliance, domain.VerifyPayment{PaymentID: payment.ID}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(payment), nil
}

// PaymentValidation reports which payment fields passed their checks.
type PaymentValidation struct {
	Valid       bool            `json:"valid"`
	Errors      []string        `json:"errors"`
	Validations map[string]bool `json:"validations"`
	Payment     *domain.Payment `json:"payment,omitempty"`
}

func (a *Financial) validatePayment(ctx context.Context, p domain.ValidatePayment) (domain.Result, error) {
	draft := domain.Payment{ProjectID: p.ProjectID, Beneficiary: p.Beneficiary, Amount: p.Amount}
	var stored *domain.Payment
	if p.PaymentID != "" {
		payment, ok, err := find[domain.Payment](ctx, a.store, domain.CollectionPayments, p.PaymentID)
		if err != nil {
			return domain.Result{}, err
		}
		if !ok {
			return domain.Fail("Payment not found", "paymentId", p.PaymentID), nil
		}
		draft = payment
		stored = &payment
	}

	v := PaymentValidation{
		Errors: []string{},
		Validations: map[string]bool{
			"amountValid":      draft.Amount > 0,
			"beneficiaryValid": draft.Beneficiary != "",
			"projectValid":     draft.ProjectID != "",
		},
		Payment: stored,
	}
	if !v.Validations["amountValid"] {
		v.Errors = append(v.Errors, "amount must be greater than zero")
	}
	if !v.Validations["beneficiaryValid"] {
		v.Errors = append(v.Errors, "beneficiary is required")
	}
	if !v.Validations["projectValid"] {
		v.Errors = append(v.Errors, "project is required")
	}
	v.Valid = len(v.Errors) == 0
	return domain.OK(v), nil
}

func (a *Financial) checkRisks(ctx context.Context, p domain.CheckRisks) (domain.Result, error) {
	pending, err := queryAll[domain.Payment](ctx, a.store, domain.CollectionPayments, domain.Query{
		Filter:  filter("status", string(domain.PaymentPending), "project_id", p.ProjectID),
		OrderBy: "created_at",
	})
	if err != nil {
		return domain.Result{}, err
	}
	known, err := a.activeRiskPayments(ctx, p.ProjectID, domain.RiskDelayedPayment)
	if err != nil {
		return domain.Result{}, err
	}

	now := a.now()
	cutoff := now.Add(-OverdueThreshold)
	findings := []domain.RiskFinding{}
	byProject := make(map[string][]domain.RiskFinding)
	var projects []string
	for _, payment := range pending {
		if !payment.CreatedAt.Before(cutoff) || known[payment.ID] {
			continue
		}
		finding := domain.RiskFinding{
			Kind:        domain.RiskDelayedPayment,
			PaymentID:   payment.ID,
			Severity:    domain.SeverityHigh,
			Description: "Payment pending for more than 15 days: " + payment.Beneficiary,
		}
		if _, err := insert(ctx, a.store, domain.CollectionRisks, domain.Risk{
			ProjectID:    payment.ProjectID,
			PaymentID:    payment.ID,
			Kind:         finding.Kind,
			Description:  finding.Description,
			Severity:     finding.Severity,
			Status:       domain.RiskActive,
			IdentifiedAt: now,
		}); err != nil {
			return domain.Result{}, err
		}
		if _, seen := byProject[payment.ProjectID]; !seen {
			projects = append(projects, payment.ProjectID)
		}
		byProject[payment.ProjectID] = append(byProject[payment.ProjectID], finding)
		findings = append(findings, finding)
	}

	for _, projectID := range projects {
		risks := byProject[projectID]
		action := fmt.Sprintf("%d risk(s) identified", len(risks))
		if err := a.audit(ctx, projectID, "", "risk", action, map[string]any{"risks": risks}); err != nil {
			return domain.Result{}, err
		}
	}
	return domain.OK(findings), nil
}

// activeRiskPayments returns the payment ids already carrying an active risk of kind.
func (a *Financial) activeRiskPayments(ctx context.Context, projectID string, kind domain.RiskKind) (map[string]bool, error) {
	risks, err := queryAll[domain.Risk](ctx, a.store, domain.CollectionRisks, domain.Query{
		Filter: filter("status", string(domain.RiskActive), "kind", string(kind), "project_id", projectID),
	})
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(risks))
	for _, r := range risks {
		if r.PaymentID != "" {
			known[r.PaymentID] = true
		}
	}
	return known, nil
}

func (a *Financial) detectGlosa(ctx context.Context, msg domain.Message, p domain.DetectGlosa) (domain.Result, error) {
	paid, err := queryAll[domain.Payment](ctx, a.store, domain.CollectionPayments, domain.Query{
		Filter:  filter("project_id", p.ProjectID, "status", string(domain.PaymentPaid)),
		OrderBy: "created_at",
	})
	if err != nil {
		return domain.Result{}, err
	}
	docs, err := queryAll[domain.Document](ctx, a.store, domain.CollectionDocuments, domain.Query{
		Filter: filter("project_id", p.ProjectID, "category", domain.DocumentCategoryCompliance),
	})
	if err != nil {
		return domain.Result{}, err
	}
	documented := make(map[string]bool, len(docs))
	for _, d := range docs {
		if ref := d.PaymentRef(); ref != "" {
			documented[ref] = true
		}
	}

	findings := []domain.RiskFinding{}
	for _, payment := range paid {
		if documented[payment.ID] {
			continue
		}
		findings = append(findings, domain.RiskFinding{
			Kind:        domain.RiskMissingDocumentation,
			PaymentID:   payment.ID,
			Severity:    domain.SeverityHigh,
			Description: "Payment without supporting documentation: " + payment.Beneficiary,
		})
	}
	if len(findings) == 0 {
		return domain.OK(findings), nil
	}

	action := fmt.Sprintf("%d glosa risk(s) identified", len(findings))
	if err := a.audit(ctx, p.ProjectID, "", "glosa", action, map[string]any{"glosaRisks": findings}); err != nil {
		return domain.Result{}, err
	}
	if _, err := a.dispatch.Chain(ctx, msg, domain.AgentCompliance, domain.RecordGlosaRisks{
		ProjectID: p.ProjectID,
		Risks:     findings,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(findings), nil
}

func (a *Financial) checkDeadlines(ctx context.Context, p domain.CheckPaymentDeadlines) (domain.Result, error) {
	payments, err := queryAll[domain.Payment](ctx, a.store, domain.CollectionPayments, domain.Query{
		Filter:  filter("project_id", p.ProjectID),
		OrderBy: "payment_date",
	})
	if err != nil {
		return domain.Result{}, err
	}
	horizon := a.now().Add(PaymentDeadlineHorizon)
	due := []domain.Payment{}
	for _, payment := range payments {
		if payment.Status == domain.PaymentPaid || payment.PaymentDate == nil {
			continue
		}
		if !payment.PaymentDate.After(horizon) {
			due = append(due, payment)
		}
	}
	return domain.OK(due), nil
}

var _ domain.Agent = (*Financial)(nil)
