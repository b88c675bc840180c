package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Agent owns one business domain and is reachable only through the Router.
// Handle returns a Result for expected business outcomes and a non-nil error
// only for collaborator faults.
type Agent interface {
	ID() AgentID
	Handle(ctx context.Context, msg Message) (Result, error)
}

// FailureKind separates business outcomes from routing problems.
type FailureKind string

const (
	FailureBusiness FailureKind = "business"
	FailureRouting  FailureKind = "routing"
)

// Failure is a structured non-success outcome. It serialises as
// {"error": reason, ...context}.
type Failure struct {
	Kind    FailureKind
	Reason  string
	Context map[string]any
}

func (f *Failure) Error() string { return f.Reason }

func (f *Failure) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Context)+1)
	for k, v := range f.Context {
		m[k] = v
	}
	m["error"] = f.Reason
	return json.Marshal(m)
}

// Result is what every routed message yields: a success value or a Failure.
type Result struct {
	Value   any
	Failure *Failure
}

// OK wraps a success value.
func OK(v any) Result { return Result{Value: v} }

// Fail builds a business failure. kv is an alternating key/value list merged
// into the failure context.
func Fail(reason string, kv ...any) Result {
	return Result{Failure: &Failure{Kind: FailureBusiness, Reason: reason, Context: pairs(kv)}}
}

// RoutingFailure builds the result returned for an unresolvable target.
func RoutingFailure(reason string, kv ...any) Result {
	return Result{Failure: &Failure{Kind: FailureRouting, Reason: reason, Context: pairs(kv)}}
}

// UnknownAction is the result every agent returns for an unmatched action.
func UnknownAction(action ActionName) Result {
	return Fail("unknown action", "action", string(action))
}

// Failed reports whether the result carries a Failure.
func (r Result) Failed() bool { return r.Failure != nil }

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failure != nil {
		return r.Failure.MarshalJSON()
	}
	return json.Marshal(r.Value)
}

func pairs(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return m
}
