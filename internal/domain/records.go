package domain

import "time"

// TaskColumn is a kanban column. Moves between columns are unrestricted.
type TaskColumn string

const (
	ColumnNew        TaskColumn = "new"
	ColumnAllocated  TaskColumn = "allocated"
	ColumnInProgress TaskColumn = "in_progress"
	ColumnCompleted  TaskColumn = "completed"
	ColumnDone       TaskColumn = "done"
)

// Terminal reports whether a task in this column no longer escalates deadlines.
func (c TaskColumn) Terminal() bool {
	return c == ColumnCompleted || c == ColumnDone
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type Task struct {
	ID            string     `json:"id,omitempty"`
	ProjectID     string     `json:"project_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Column        TaskColumn `json:"column"`
	Priority      Priority   `json:"priority"`
	AssignedAgent AgentID    `json:"assigned_agent,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// DefaultPaymentCategory applies when a payment is created without one.
const DefaultPaymentCategory = "bolsa"

type Payment struct {
	ID          string        `json:"id,omitempty"`
	ProjectID   string        `json:"project_id"`
	TaskID      string        `json:"task_id,omitempty"`
	Beneficiary string        `json:"beneficiary"`
	Amount      float64       `json:"amount"`
	Status      PaymentStatus `json:"status"`
	PaymentDate *time.Time    `json:"payment_date,omitempty"`
	Category    string        `json:"category"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type PurchaseStatus string

const (
	PurchasePendingQuotations  PurchaseStatus = "pending_quotations"
	PurchaseReadyForComparison PurchaseStatus = "ready_for_comparison"
	PurchaseSelected           PurchaseStatus = "selected"
	PurchaseCompleted          PurchaseStatus = "completed"
)

// Quotation is a supplier's offer against a purchase.
type Quotation struct {
	Supplier string  `json:"supplier"`
	Price    float64 `json:"price"`
	Deadline string  `json:"deadline,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

type Purchase struct {
	ID                     string         `json:"id,omitempty"`
	ProjectID              string         `json:"project_id"`
	TaskID                 string         `json:"task_id,omitempty"`
	Item                   string         `json:"item"`
	Description            string         `json:"description,omitempty"`
	Status                 PurchaseStatus `json:"status"`
	Quotations             []Quotation    `json:"quotations"`
	SelectedQuotationIndex *int           `json:"selected_quotation_index,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type RiskStatus string

const (
	RiskActive   RiskStatus = "active"
	RiskResolved RiskStatus = "resolved"
)

// RiskKind distinguishes the rule that raised a risk.
type RiskKind string

const (
	RiskDelayedPayment       RiskKind = "delayed_payment"
	RiskMissingDocumentation RiskKind = "missing_documentation"
)

type Risk struct {
	ID           string     `json:"id,omitempty"`
	ProjectID    string     `json:"project_id"`
	PaymentID    string     `json:"payment_id,omitempty"`
	Kind         RiskKind   `json:"kind"`
	Description  string     `json:"description"`
	Severity     Severity   `json:"severity"`
	Status       RiskStatus `json:"status"`
	IdentifiedAt time.Time  `json:"identified_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

type CheckStatus string

const (
	CheckPassed CheckStatus = "passed"
	CheckFailed CheckStatus = "failed"
)

// CheckTypePaymentVerification is the check type recorded by payment verification.
const CheckTypePaymentVerification = "payment_verification"

type ComplianceIssues struct {
	MissingDocs []string `json:"missingDocs"`
}

type ComplianceCheck struct {
	ID        string           `json:"id,omitempty"`
	ProjectID string           `json:"project_id"`
	PaymentID string           `json:"payment_id,omitempty"`
	CheckType string           `json:"check_type"`
	Status    CheckStatus      `json:"status"`
	Issues    ComplianceIssues `json:"issues"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Document categories and types the rules look at.
const (
	DocumentCategoryCompliance = "compliance"
	DocumentCategoryGeneral    = "general"
	DocumentTypeDefault        = "document"
)

type Document struct {
	ID        string         `json:"id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PaymentRef returns the payment id referenced in the document metadata.
func (d Document) PaymentRef() string {
	if d.Metadata == nil {
		return ""
	}
	s, _ := d.Metadata["paymentId"].(string)
	return s
}

type ChannelMessage struct {
	ID        string         `json:"id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Channel   string         `json:"channel"`
	Direction string         `json:"direction"`
	Content   string         `json:"content"`
	Delivered *bool          `json:"delivered,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}
