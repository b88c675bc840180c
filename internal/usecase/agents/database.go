package agents

import (
	"context"
	"fmt"
	"time"

	"ppi-control/internal/domain"
)

// Database owns the documents collection.
type Database struct {
	base
}

func NewDatabase(deps Deps) *Database {
	return &Database{base: newBase(domain.AgentDatabase, deps)}
}

func (a *Database) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.StoreData:
		return a.storeData(ctx, p)
	case domain.QueryData:
		return a.queryData(ctx, p)
	case domain.UpdateData:
		return a.updateData(ctx, p)
	case domain.CategorizeData:
		return a.categorizeData(ctx, p)
	case domain.ExportData:
		return a.exportData(ctx, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

func (a *Database) storeData(ctx context.Context, p domain.StoreData) (domain.Result, error) {
	now := a.now()
	docType := p.Type
	if docType == "" {
		docType = domain.DocumentTypeDefault
	}
	category := p.Category
	if category == "" {
		category = domain.DocumentCategoryGeneral
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	doc, err := insert(ctx, a.store, domain.CollectionDocuments, domain.Document{
		ProjectID: p.ProjectID,
		Name:      p.Name,
		Type:      docType,
		Category:  category,
		Content:   p.Content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, doc.ProjectID, "", "database", "Data stored: "+doc.Name, map[string]any{
		"documentId": doc.ID,
		"type":       doc.Type,
		"category":   doc.Category,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(doc), nil
}

func (a *Database) queryData(ctx context.Context, p domain.QueryData) (domain.Result, error) {
	docs, err := queryAll[domain.Document](ctx, a.store, domain.CollectionDocuments, domain.Query{
		Filter:  filter("project_id", p.ProjectID, "category", p.Category, "type", p.Type),
		OrderBy: "created_at",
		Desc:    true,
		Limit:   p.Limit,
	})
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(docs), nil
}

func (a *Database) updateData(ctx context.Context, p domain.UpdateData) (domain.Result, error) {
	patch := domain.Record{"updated_at": a.now()}
	if p.Content != "" {
		patch["content"] = p.Content
	}
	if p.Metadata != nil {
		patch["metadata"] = p.Metadata
	}
	doc, err := update[domain.Document](ctx, a.store, domain.CollectionDocuments, p.DocumentID, patch)
	if notFound(err) {
		return domain.Fail("Document not found", "documentId", p.DocumentID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, doc.ProjectID, "", "database", "Data updated: "+doc.Name, map[string]any{"documentId": doc.ID}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(doc), nil
}

func (a *Database) categorizeData(ctx context.Context, p domain.CategorizeData) (domain.Result, error) {
	doc, err := update[domain.Document](ctx, a.store, domain.CollectionDocuments, p.DocumentID, domain.Record{
		"category":   p.Category,
		"updated_at": a.now(),
	})
	if notFound(err) {
		return domain.Fail("Document not found", "documentId", p.DocumentID), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if err := a.audit(ctx, doc.ProjectID, "", "database", "Document categorized as: "+p.Category, map[string]any{
		"documentId": doc.ID,
		"category":   p.Category,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(doc), nil
}

// ExportedDocument is the flattened form of a document in an export.
type ExportedDocument struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *Database) exportData(ctx context.Context, p domain.ExportData) (domain.Result, error) {
	docs, err := queryAll[domain.Document](ctx, a.store, domain.CollectionDocuments, domain.Query{
		Filter:  filter("project_id", p.ProjectID),
		OrderBy: "created_at",
	})
	if err != nil {
		return domain.Result{}, err
	}
	out := make([]ExportedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, ExportedDocument{
			ID:        d.ID,
			Name:      d.Name,
			Type:      d.Type,
			Category:  d.Category,
			Content:   d.Content,
			CreatedAt: d.CreatedAt,
		})
	}

	action := fmt.Sprintf("Data exported: %d documents", len(out))
	if err := a.audit(ctx, p.ProjectID, "", "database", action, map[string]any{"count": len(out)}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(out), nil
}

var _ domain.Agent = (*Database)(nil)
