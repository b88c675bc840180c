package agents

import (
	"context"
	"fmt"
	"math"
	"slices"

	"ppi-control/internal/domain"
)

// Purchase runs the quotation workflow for project purchases.
type Purchase struct {
	base
}

func NewPurchase(deps Deps) *Purchase {
	return &Purchase{base: newBase(domain.AgentPurchase, deps)}
}

func (a *Purchase) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.CreatePurchase:
		return a.create(ctx, p)
	case domain.AddQuotation:
		return a.addQuotation(ctx, p)
	case domain.CompareQuotations:
		return a.compare(ctx, p)
	case domain.SelectQuotation:
		return a.selectQuotation(ctx, p)
	case domain.CompletePurchase:
		return a.complete(ctx, p)
	case domain.PurchaseDashboard:
		return a.dashboard(ctx, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

func purchaseNotFound(id string) domain.Result {
	return domain.Fail("Purchase not found", "purchaseId", id)
}

func (a *Purchase) create(ctx context.Context, p domain.CreatePurchase) (domain.Result, error) {
	now := a.now()
	purchase, err := insert(ctx, a.store, domain.CollectionPurchases, domain.Purchase{
		ProjectID:   p.ProjectID,
		TaskID:      p.TaskID,
		Item:        p.Item,
		Description: p.Description,
		Status:      domain.PurchasePendingQuotations,
		Quotations:  []domain.Quotation{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, purchase.ProjectID, purchase.TaskID, "purchase", "Purchase created: "+purchase.Item, map[string]any{"purchase": purchase}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(purchase), nil
}

func (a *Purchase) addQuotation(ctx context.Context, p domain.AddQuotation) (domain.Result, error) {
	purchase, ok, err := find[domain.Purchase](ctx, a.store, domain.CollectionPurchases, p.PurchaseID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if purchase.Status == domain.PurchaseSelected || purchase.Status == domain.PurchaseCompleted {
		return domain.Fail("Purchase no longer accepts quotations", "purchaseId", purchase.ID, "status", purchase.Status), nil
	}

	quotations := append(slices.Clone(purchase.Quotations), p.Quotation)
	status := domain.PurchasePendingQuotations
	if len(quotations) >= MinQuotations {
		status = domain.PurchaseReadyForComparison
	}
	purchase, err = update[domain.Purchase](ctx, a.store, domain.CollectionPurchases, purchase.ID, domain.Record{
		"quotations": quotations,
		"status":     status,
		"updated_at": a.now(),
	})
	if notFound(err) {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	action := fmt.Sprintf("Quotation added: %s - R$ %.2f", p.Quotation.Supplier, p.Quotation.Price)
	if err := a.audit(ctx, purchase.ProjectID, purchase.TaskID, "purchase", action, map[string]any{
		"purchaseId":     purchase.ID,
		"quotation":      p.Quotation,
		"quotationCount": len(purchase.Quotations),
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(purchase), nil
}

// Comparison ranks a purchase's quotations by price.
type Comparison struct {
	Quotations     []domain.Quotation `json:"quotations"`
	Sorted         []domain.Quotation `json:"sorted"`
	Cheapest       domain.Quotation   `json:"cheapest"`
	MostExpensive  domain.Quotation   `json:"mostExpensive"`
	Average        float64            `json:"average"`
	Savings        float64            `json:"savings"`
	SavingsPercent float64            `json:"savingsPercent"`
}

// compareQuotations expects at least one quotation with positive prices.
func compareQuotations(qs []domain.Quotation) Comparison {
	sorted := slices.Clone(qs)
	slices.SortStableFunc(sorted, func(x, y domain.Quotation) int {
		switch {
		case x.Price < y.Price:
			return -1
		case x.Price > y.Price:
			return 1
		}
		return 0
	})
	var sum float64
	for _, q := range qs {
		sum += q.Price
	}
	cheapest, priciest := sorted[0], sorted[len(sorted)-1]
	savings := priciest.Price - cheapest.Price
	var pct float64
	if priciest.Price > 0 {
		pct = math.Round(savings/priciest.Price*10000) / 100
	}
	return Comparison{
		Quotations:     qs,
		Sorted:         sorted,
		Cheapest:       cheapest,
		MostExpensive:  priciest,
		Average:        sum / float64(len(qs)),
		Savings:        savings,
		SavingsPercent: pct,
	}
}

func (a *Purchase) compare(ctx context.Context, p domain.CompareQuotations) (domain.Result, error) {
	purchase, ok, err := find[domain.Purchase](ctx, a.store, domain.CollectionPurchases, p.PurchaseID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if len(purchase.Quotations) < MinQuotations {
		return domain.Fail("Need at least 3 quotations for comparison", "currentCount", len(purchase.Quotations)), nil
	}
	return domain.OK(compareQuotations(purchase.Quotations)), nil
}

// Selection is the outcome of purchase:select.
type Selection struct {
	Purchase domain.Purchase  `json:"purchase"`
	Selected domain.Quotation `json:"selected"`
}

func (a *Purchase) selectQuotation(ctx context.Context, p domain.SelectQuotation) (domain.Result, error) {
	purchase, ok, err := find[domain.Purchase](ctx, a.store, domain.CollectionPurchases, p.PurchaseID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if purchase.Status == domain.PurchaseCompleted {
		return domain.Fail("Purchase already completed", "purchaseId", purchase.ID), nil
	}
	idx := *p.QuotationIndex
	if len(purchase.Quotations) < MinQuotations || idx < 0 || idx >= len(purchase.Quotations) {
		return domain.Fail("Invalid quotation index", "quotationIndex", idx, "currentCount", len(purchase.Quotations)), nil
	}
	selected := purchase.Quotations[idx]

	purchase, err = update[domain.Purchase](ctx, a.store, domain.CollectionPurchases, purchase.ID, domain.Record{
		"selected_quotation_index": idx,
		"status":                   domain.PurchaseSelected,
		"updated_at":               a.now(),
	})
	if notFound(err) {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	action := fmt.Sprintf("Quotation selected: %s - R$ %.2f", selected.Supplier, selected.Price)
	if err := a.audit(ctx, purchase.ProjectID, purchase.TaskID, "purchase", action, map[string]any{
		"purchaseId":        purchase.ID,
		"selectedQuotation": selected,
		"quotationIndex":    idx,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(Selection{Purchase: purchase, Selected: selected}), nil
}

func (a *Purchase) complete(ctx context.Context, p domain.CompletePurchase) (domain.Result, error) {
	purchase, ok, err := find[domain.Purchase](ctx, a.store, domain.CollectionPurchases, p.PurchaseID)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if purchase.Status != domain.PurchaseSelected {
		return domain.Fail("Purchase has no selected quotation", "purchaseId", purchase.ID, "status", purchase.Status), nil
	}

	purchase, err = update[domain.Purchase](ctx, a.store, domain.CollectionPurchases, purchase.ID, domain.Record{
		"status":     domain.PurchaseCompleted,
		"updated_at": a.now(),
	})
	if notFound(err) {
		return purchaseNotFound(p.PurchaseID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, purchase.ProjectID, purchase.TaskID, "purchase", "Purchase completed: "+purchase.Item, map[string]any{"purchaseId": purchase.ID}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(purchase), nil
}

// PurchaseStats counts purchases per workflow status.
type PurchaseStats struct {
	Total    int               `json:"total"`
	ByStatus map[string]int    `json:"byStatus"`
	Items    []domain.Purchase `json:"purchases"`
}

func (a *Purchase) dashboard(ctx context.Context, p domain.PurchaseDashboard) (domain.Result, error) {
	purchases, err := queryAll[domain.Purchase](ctx, a.store, domain.CollectionPurchases, domain.Query{
		Filter:  filter("project_id", p.ProjectID),
		OrderBy: "created_at",
		Desc:    true,
	})
	if err != nil {
		return domain.Result{}, err
	}
	stats := PurchaseStats{
		Total:    len(purchases),
		ByStatus: map[string]int{"pending": 0, "ready": 0, "selected": 0, "completed": 0},
		Items:    purchases,
	}
	for _, pu := range purchases {
		switch pu.Status {
		case domain.PurchasePendingQuotations:
			stats.ByStatus["pending"]++
		case domain.PurchaseReadyForComparison:
			stats.ByStatus["ready"]++
		case domain.PurchaseSelected:
			stats.ByStatus["selected"]++
		case domain.PurchaseCompleted:
			stats.ByStatus["completed"]++
		}
	}
	return domain.OK(stats), nil
}

var _ domain.Agent = (*Purchase)(nil)
