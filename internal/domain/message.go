package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentID is the routing key of a registered agent.
type AgentID string

const (
	AgentLeader      AgentID = "leader"
	AgentFinancial   AgentID = "financial"
	AgentCompliance  AgentID = "compliance"
	AgentMessenger   AgentID = "messenger"
	AgentDatabase    AgentID = "database"
	AgentSpreadsheet AgentID = "spreadsheet"
	AgentDailyFeed   AgentID = "dailyfeed"
	AgentPurchase    AgentID = "purchase"
	AgentSummary     AgentID = "summary"

	// Senders that are never routing targets.
	SenderSystem    AgentID = "system"
	SenderScheduler AgentID = "scheduler"
)

// Agents lists every routable role in registration order.
var Agents = []AgentID{
	AgentLeader,
	AgentFinancial,
	AgentCompliance,
	AgentMessenger,
	AgentDatabase,
	AgentSpreadsheet,
	AgentDailyFeed,
	AgentPurchase,
	AgentSummary,
}

// Valid reports whether id names one of the nine routable agents.
func (id AgentID) Valid() bool {
	for _, a := range Agents {
		if a == id {
			return true
		}
	}
	return false
}

// validSender reports whether id may appear in Message.From.
func (id AgentID) validSender() bool {
	return id.Valid() || id == SenderSystem || id == SenderScheduler
}

// Message is one addressed request between agents. It is never persisted.
type Message struct {
	ID        string     `json:"id"`
	From      AgentID    `json:"from"`
	To        AgentID    `json:"to"`
	Action    ActionName `json:"action"`
	Payload   Payload    `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewMessage builds an immutable message with a fresh UUID, validating the
// payload at construction.
func NewMessage(from, to AgentID, payload Payload) (Message, error) {
	if payload == nil {
		return Message{}, NewSubSystemError("payload", "NewMessage", ErrInvalidInput, "nil payload")
	}
	if !from.validSender() {
		return Message{}, NewSubSystemError("payload", "NewMessage", ErrInvalidInput, fmt.Sprintf("invalid sender %q", from))
	}
	if err := payload.Validate(); err != nil {
		return Message{}, err
	}
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Action:    payload.Action(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}
