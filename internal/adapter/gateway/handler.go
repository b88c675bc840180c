package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kaptinlin/jsonschema"

	"ppi-control/internal/domain"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 500
)

// Submitter is the router entry point used by the submit method.
type Submitter interface {
	Submit(ctx context.Context, msg domain.Message) (domain.Result, error)
	Agents() []domain.AgentID
}

// FeedReader serves the feed.recent method and the status routes.
type FeedReader interface {
	Recent(ctx context.Context, limit int) ([]domain.FeedEntry, error)
	Seq() uint64
}

// BusStats reports event bus counters.
type BusStats interface {
	Stats() (published, dropped uint64)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Router   Submitter
	Feed     FeedReader
	Bus      BusStats // can be nil
	Channels []string
	Logger   *slog.Logger
}

// Counters tracks submit traffic for the status and metrics routes.
type Counters struct {
	Submits        atomic.Int64
	SubmitFailures atomic.Int64
	SubmitFaults   atomic.Int64
	Rejected       atomic.Int64
}

// submitEnvelope is the submit request body.
type submitEnvelope struct {
	From    domain.AgentID    `json:"from,omitempty"`
	To      domain.AgentID    `json:"to"`
	Action  domain.ActionName `json:"action"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// SubmitResponse is the result body of a successful submit call. Business
// and routing failures travel in Result, not in the frame error.
type SubmitResponse struct {
	MessageID string        `json:"message_id"`
	Result    domain.Result `json:"result"`
	Failed    bool          `json:"failed"`
}

type feedRecentRequest struct {
	Limit int `json:"limit"`
}

// FeedRecentResponse is the result body of feed.recent.
type FeedRecentResponse struct {
	Entries []domain.FeedEntry `json:"entries"`
	Seq     uint64             `json:"seq"`
}

// submitSchema constrains the envelope shape. Payload contents are checked by
// the typed decoders afterwards.
func submitSchema() []byte {
	senders := make([]string, 0, len(domain.Agents)+1)
	senders = append(senders, string(domain.SenderSystem))
	for _, a := range domain.Agents {
		senders = append(senders, string(a))
	}
	schema := map[string]any{
		"type":     "object",
		"required": []string{"to", "action"},
		"properties": map[string]any{
			"from":    map[string]any{"type": "string", "enum": senders},
			"to":      map[string]any{"type": "string", "minLength": 1},
			"action":  map[string]any{"type": "string", "pattern": "^[a-z]+:[A-Za-z]+$"},
			"payload": map[string]any{"type": "object"},
		},
		"additionalProperties": false,
	}
	b, _ := json.Marshal(schema)
	return b
}

// envelopeValidator checks raw submit bodies against submitSchema.
type envelopeValidator struct {
	schema *jsonschema.Schema
}

func newEnvelopeValidator() (*envelopeValidator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(submitSchema())
	if err != nil {
		return nil, fmt.Errorf("compile submit schema: %w", err)
	}
	return &envelopeValidator{schema: schema}, nil
}

func (v *envelopeValidator) validate(raw json.RawMessage) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.NewDomainError("Gateway.submit", domain.ErrRPCInvalidPayload, err.Error())
	}
	result := v.schema.Validate(data)
	if !result.IsValid() {
		return domain.NewDomainError("Gateway.submit", domain.ErrRPCInvalidPayload, fmt.Sprintf("%s", result.Error()))
	}
	return nil
}

// RegisterHandlers wires the RPC methods and HTTP routes onto s.
func RegisterHandlers(s *Server, deps HandlerDeps) (*Counters, error) {
	v, err := newEnvelopeValidator()
	if err != nil {
		return nil, err
	}
	counters := &Counters{}
	logger := deps.Logger.With("component", "gateway")

	s.RegisterHandler("submit", submitHandler(deps, v, counters, logger))
	s.RegisterHandler("feed.recent", feedRecentHandler(deps))
	RegisterRESTHandlers(s, deps, counters)
	return counters, nil
}

func submitHandler(deps HandlerDeps, v *envelopeValidator, counters *Counters, logger *slog.Logger) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if err := v.validate(payload); err != nil {
			counters.Rejected.Add(1)
			return nil, err
		}
		var env submitEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			counters.Rejected.Add(1)
			return nil, domain.NewDomainError("Gateway.submit", domain.ErrRPCInvalidPayload, err.Error())
		}
		if env.From == "" {
			env.From = domain.SenderSystem
		}

		p, err := domain.DecodePayload(env.Action, env.Payload)
		if err != nil {
			counters.Rejected.Add(1)
			return nil, err
		}
		msg, err := domain.NewMessage(env.From, env.To, p)
		if err != nil {
			counters.Rejected.Add(1)
			return nil, err
		}

		counters.Submits.Add(1)
		logger.Debug("submit received",
			"client", client.Name,
			"message_id", msg.ID,
			"to", string(msg.To),
			"action", string(msg.Action),
		)
		res, err := deps.Router.Submit(ctx, msg)
		if err != nil {
			counters.SubmitFaults.Add(1)
			return nil, err
		}
		if res.Failed() {
			counters.SubmitFailures.Add(1)
		}
		return json.Marshal(SubmitResponse{MessageID: msg.ID, Result: res, Failed: res.Failed()})
	}
}

func feedRecentHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		req := feedRecentRequest{Limit: defaultFeedLimit}
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, domain.NewDomainError("Gateway.feedRecent", domain.ErrRPCInvalidPayload, err.Error())
			}
		}
		switch {
		case req.Limit <= 0:
			req.Limit = defaultFeedLimit
		case req.Limit > maxFeedLimit:
			req.Limit = maxFeedLimit
		}

		entries, err := deps.Feed.Recent(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []domain.FeedEntry{}
		}
		return json.Marshal(FeedRecentResponse{Entries: entries, Seq: deps.Feed.Seq()})
	}
}
