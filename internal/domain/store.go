package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Named record collections.
const (
	CollectionProjects         = "projects"
	CollectionTasks            = "tasks"
	CollectionPayments         = "payments"
	CollectionDocuments        = "documents"
	CollectionRisks            = "risks"
	CollectionPurchases        = "purchases"
	CollectionComplianceChecks = "compliance_checks"
	CollectionFeedLogs         = "feed_logs"
	CollectionChannelMessages  = "channel_messages"
)

// Record is a schemaless row in a named collection. Values follow JSON
// decoding rules (numbers are float64, nested objects are map[string]any).
type Record map[string]any

// ID returns the record's "id" field.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Query selects records by equality. Filter keys may use dotted paths into
// nested objects (e.g. "metadata.paymentId").
type Query struct {
	Filter  map[string]any
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int // records skipped after ordering
}

// Store is the persistence collaborator. Faults surface as ErrStoreUnavailable;
// Update on a missing id returns ErrNotFound; Delete on a missing id returns nil, nil.
type Store interface {
	Insert(ctx context.Context, collection string, rec Record) (Record, error)
	Update(ctx context.Context, collection, id string, patch Record) (Record, error)
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	Delete(ctx context.Context, collection, id string) (Record, error)
}

// ToRecord converts a typed value into a Record through its JSON form.
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Decode fills v from the record's JSON form.
func (r Record) Decode(v any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// DecodeAll converts a query result into typed values.
func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := r.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
