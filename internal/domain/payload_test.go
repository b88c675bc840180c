package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_Valid(t *testing.T) {
	p, err := DecodePayload(ActionPaymentCreate, json.RawMessage(`{"projectId":"p1","beneficiary":"Ana","amount":500}`))
	require.NoError(t, err)

	cp, ok := p.(CreatePayment)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, "p1", cp.ProjectID)
	assert.Equal(t, 500.0, cp.Amount)
	assert.Equal(t, ActionPaymentCreate, cp.Action())
}

func TestDecodePayload_MissingFields(t *testing.T) {
	_, err := DecodePayload(ActionPaymentCreate, json.RawMessage(`{"projectId":"p1"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "beneficiary")
	assert.Contains(t, err.Error(), "amount")
	assert.Equal(t, CodePayloadInvalid, ErrorCodeOf(err))
}

func TestAddQuotation_RequiresDeadline(t *testing.T) {
	_, err := DecodePayload(ActionPurchaseAddQuotation, json.RawMessage(`{"purchaseId":"x","quotation":{"supplier":"A","price":10}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "quotation.deadline")

	p, err := DecodePayload(ActionPurchaseAddQuotation, json.RawMessage(`{"purchaseId":"x","quotation":{"supplier":"A","price":10,"deadline":"5 days"}}`))
	require.NoError(t, err)
	assert.Equal(t, "5 days", p.(AddQuotation).Quotation.Deadline)
}

func TestDecodePayload_SelectIndexZeroIsPresent(t *testing.T) {
	p, err := DecodePayload(ActionPurchaseSelect, json.RawMessage(`{"purchaseId":"x","quotationIndex":0}`))
	require.NoError(t, err)
	sel := p.(SelectQuotation)
	require.NotNil(t, sel.QuotationIndex)
	assert.Equal(t, 0, *sel.QuotationIndex)

	_, err = DecodePayload(ActionPurchaseSelect, json.RawMessage(`{"purchaseId":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecodePayload_EmptyBody(t *testing.T) {
	p, err := DecodePayload(ActionFeedSend, nil)
	require.NoError(t, err)
	assert.IsType(t, SendFeed{}, p)
}

func TestDecodePayload_BadJSON(t *testing.T) {
	_, err := DecodePayload(ActionTaskCreate, json.RawMessage(`{"projectId":`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecodePayload_UnknownActionIsRaw(t *testing.T) {
	p, err := DecodePayload("task:teleport", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	raw, ok := p.(RawPayload)
	require.True(t, ok)
	assert.Equal(t, ActionName("task:teleport"), raw.Action())
	assert.False(t, KnownAction("task:teleport"))
	assert.True(t, KnownAction(ActionTaskCreate))
}

func TestCreateTask_InvalidPriority(t *testing.T) {
	err := CreateTask{ProjectID: "p", Title: "t", Priority: "urgent"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(AgentFinancial, AgentCompliance, VerifyPayment{PaymentID: "pay-1"})
	require.NoError(t, err)

	_, perr := uuid.Parse(msg.ID)
	assert.NoError(t, perr)
	assert.Equal(t, ActionPaymentVerify, msg.Action)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestNewMessage_Rejects(t *testing.T) {
	_, err := NewMessage(AgentFinancial, AgentCompliance, VerifyPayment{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewMessage("intruder", AgentCompliance, VerifyPayment{PaymentID: "p"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewMessage(AgentFinancial, AgentCompliance, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAgentIDValid(t *testing.T) {
	for _, id := range Agents {
		assert.True(t, id.Valid(), id)
	}
	assert.False(t, SenderScheduler.Valid())
	assert.False(t, AgentID("ghost").Valid())
	assert.Len(t, Agents, 9)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Fail("Need at least 3 quotations for comparison", "currentCount", 2))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Need at least 3 quotations for comparison","currentCount":2}`, string(data))

	data, err = json.Marshal(OK(map[string]any{"sent": false}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sent":false}`, string(data))

	r := RoutingFailure("unknown agent", "to", "ghost")
	assert.True(t, r.Failed())
	assert.Equal(t, FailureRouting, r.Failure.Kind)
}

func TestRecordRoundTrip(t *testing.T) {
	doc := Document{Name: "nf", Type: "nota_fiscal", Metadata: map[string]any{"paymentId": "pay-1"}}
	rec, err := ToRecord(doc)
	require.NoError(t, err)
	assert.Equal(t, "", rec.ID())

	var back Document
	require.NoError(t, rec.Decode(&back))
	assert.Equal(t, "pay-1", back.PaymentRef())
}
