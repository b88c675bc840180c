package store

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"ppi-control/internal/domain"
)

// normalize returns a deep copy of v in JSON-decoded form.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeRecord(rec domain.Record) (domain.Record, error) {
	v, err := normalize(rec)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return domain.Record{}, nil
	}
	return domain.Record(m), nil
}

// lookup resolves a dotted path inside a record.
func lookup(rec domain.Record, path string) (any, bool) {
	var cur any = map[string]any(rec)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(rec domain.Record, filter map[string]any) bool {
	for path, want := range filter {
		got, ok := lookup(rec, path)
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// compareValues orders JSON values: nil first, then numbers, timestamps and strings.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			at, aerr := time.Parse(time.RFC3339Nano, av)
			bt, berr := time.Parse(time.RFC3339Nano, bv)
			if aerr == nil && berr == nil {
				return at.Compare(bt)
			}
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// mergePatch applies a shallow patch: top-level keys replace, nil deletes.
func mergePatch(rec, patch domain.Record) {
	for k, v := range patch {
		if k == "id" {
			continue
		}
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
}
