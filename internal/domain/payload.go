package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionName selects a handler branch inside the target agent.
// Names are namespaced as "<domain>:<verb>".
type ActionName string

const (
	// Shared by every agent.
	ActionTaskAssigned ActionName = "task:assigned"

	ActionTaskCreate   ActionName = "task:create"
	ActionTaskMove     ActionName = "task:move"
	ActionTaskAssign   ActionName = "task:assign"
	ActionDeadlineScan ActionName = "deadline:scan"
	ActionReportDaily  ActionName = "report:daily"
	ActionReportWeekly ActionName = "report:weekly"

	ActionPaymentCreate   ActionName = "payment:create"
	ActionPaymentRegister ActionName = "payment:register"
	ActionPaymentValidate ActionName = "payment:validate"
	ActionRiskCheck       ActionName = "risk:check"
	ActionGlosaDetect     ActionName = "glosa:detect"
	ActionDeadlineCheck   ActionName = "deadline:check"

	ActionPaymentVerify   ActionName = "payment:verify"
	ActionDocumentCheck   ActionName = "document:check"
	ActionComplianceAudit ActionName = "compliance:audit"
	ActionGlosaRisk       ActionName = "glosa:risk"
	ActionRiskResolve     ActionName = "risk:resolve"

	ActionNotify      ActionName = "message:notify"
	ActionAlert       ActionName = "message:alert"
	ActionLog         ActionName = "message:log"
	ActionChannelSend ActionName = "channel:send"

	ActionDataStore      ActionName = "data:store"
	ActionDataQuery      ActionName = "data:query"
	ActionDataUpdate     ActionName = "data:update"
	ActionDataCategorize ActionName = "data:categorize"
	ActionDataExport     ActionName = "data:export"

	ActionSpreadsheetImport  ActionName = "spreadsheet:import"
	ActionSpreadsheetParse   ActionName = "spreadsheet:parse"
	ActionSpreadsheetDeliver ActionName = "spreadsheet:deliver"

	ActionFeedCollect ActionName = "feed:collect"
	ActionFeedSend    ActionName = "feed:send"
	ActionFeedGet     ActionName = "feed:get"

	ActionPurchaseCreate       ActionName = "purchase:create"
	ActionPurchaseAddQuotation ActionName = "purchase:addQuotation"
	ActionPurchaseCompare      ActionName = "purchase:compare"
	ActionPurchaseSelect       ActionName = "purchase:select"
	ActionPurchaseComplete     ActionName = "purchase:complete"
	ActionPurchaseDashboard    ActionName = "purchase:dashboard"

	ActionSummaryProject    ActionName = "summary:project"
	ActionSummaryFinancial  ActionName = "summary:financial"
	ActionSummaryTasks      ActionName = "summary:tasks"
	ActionSummaryRisks      ActionName = "summary:risks"
	ActionDashboardGenerate ActionName = "dashboard:generate"
)

// Payload is one variant of the per-action tagged union carried by a Message.
type Payload interface {
	Action() ActionName
	Validate() error
}

type field struct {
	name    string
	present bool
}

func has(name string, present bool) field { return field{name: name, present: present} }

// checkFields returns an ErrInvalidInput naming every absent field.
func checkFields(action ActionName, fields ...field) error {
	var absent []string
	for _, f := range fields {
		if !f.present {
			absent = append(absent, f.name)
		}
	}
	if len(absent) == 0 {
		return nil
	}
	return NewSubSystemError("payload", string(action), ErrInvalidInput, "missing "+strings.Join(absent, ", "))
}

// --- shared ---

// TaskAssigned notifies an agent that a task was allocated to it.
type TaskAssigned struct {
	Task Task `json:"task"`
}

func (TaskAssigned) Action() ActionName { return ActionTaskAssigned }
func (p TaskAssigned) Validate() error {
	return checkFields(ActionTaskAssigned, has("task.id", p.Task.ID != ""))
}

// --- leader ---

type CreateTask struct {
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

func (CreateTask) Action() ActionName { return ActionTaskCreate }
func (p CreateTask) Validate() error {
	if err := checkFields(ActionTaskCreate, has("projectId", p.ProjectID != ""), has("title", p.Title != "")); err != nil {
		return err
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return NewSubSystemError("payload", string(ActionTaskCreate), ErrInvalidInput, fmt.Sprintf("priority %q", p.Priority))
	}
	return nil
}

type MoveTask struct {
	TaskID string     `json:"taskId"`
	Column TaskColumn `json:"column"`
}

func (MoveTask) Action() ActionName { return ActionTaskMove }
func (p MoveTask) Validate() error {
	return checkFields(ActionTaskMove, has("taskId", p.TaskID != ""), has("column", p.Column != ""))
}

type AssignTask struct {
	TaskID string  `json:"taskId"`
	Agent  AgentID `json:"agent"`
}

func (AssignTask) Action() ActionName { return ActionTaskAssign }
func (p AssignTask) Validate() error {
	return checkFields(ActionTaskAssign, has("taskId", p.TaskID != ""), has("agent", p.Agent != ""))
}

type ScanDeadlines struct{}

func (ScanDeadlines) Action() ActionName { return ActionDeadlineScan }
func (ScanDeadlines) Validate() error { return nil }

type DailyReport struct{}

func (DailyReport) Action() ActionName { return ActionReportDaily }
func (DailyReport) Validate() error { return nil }

type WeeklyReport struct{}

func (WeeklyReport) Action() ActionName { return ActionReportWeekly }
func (WeeklyReport) Validate() error { return nil }

// --- financial ---

type CreatePayment struct {
	ProjectID   string     `json:"projectId"`
	TaskID      string     `json:"taskId,omitempty"`
	Beneficiary string     `json:"beneficiary"`
	Amount      float64    `json:"amount"`
	Category    string     `json:"category,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
}

func (CreatePayment) Action() ActionName { return ActionPaymentCreate }
func (p CreatePayment) Validate() error {
	return checkFields(ActionPaymentCreate,
		has("projectId", p.ProjectID != ""),
		has("beneficiary", p.Beneficiary != ""),
		has("amount", p.Amount > 0),
	)
}

type RegisterPayment struct {
	PaymentID   string     `json:"paymentId"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
}

func (RegisterPayment) Action() ActionName { return ActionPaymentRegister }
func (p RegisterPayment) Validate() error {
	return checkFields(ActionPaymentRegister, has("paymentId", p.PaymentID != ""))
}

// ValidatePayment checks a stored payment when PaymentID is set, otherwise the
// draft fields. Outcomes are reported in the result, so no field is required.
type ValidatePayment struct {
	PaymentID   string  `json:"paymentId,omitempty"`
	ProjectID   string  `json:"projectId,omitempty"`
	Beneficiary string  `json:"beneficiary,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
}

func (ValidatePayment) Action() ActionName { return ActionPaymentValidate }
func (ValidatePayment) Validate() error { return nil }

// CheckRisks scans one project, or every project when ProjectID is empty.
type CheckRisks struct {
	ProjectID string `json:"projectId,omitempty"`
}

func (CheckRisks) Action() ActionName { return ActionRiskCheck }
func (CheckRisks) Validate() error { return nil }

type DetectGlosa struct {
	ProjectID string `json:"projectId"`
}

func (DetectGlosa) Action() ActionName { return ActionGlosaDetect }
func (p DetectGlosa) Validate() error {
	return checkFields(ActionGlosaDetect, has("projectId", p.ProjectID != ""))
}

type CheckPaymentDeadlines struct {
	ProjectID string `json:"projectId,omitempty"`
}

func (CheckPaymentDeadlines) Action() ActionName { return ActionDeadlineCheck }
func (CheckPaymentDeadlines) Validate() error { return nil }

// --- compliance ---

type VerifyPayment struct {
	PaymentID string `json:"paymentId"`
}

func (VerifyPayment) Action() ActionName { return ActionPaymentVerify }
func (p VerifyPayment) Validate() error {
	return checkFields(ActionPaymentVerify, has("paymentId", p.PaymentID != ""))
}

type CheckDocument struct {
	DocumentID string `json:"documentId"`
}

func (CheckDocument) Action() ActionName { return ActionDocumentCheck }
func (p CheckDocument) Validate() error {
	return checkFields(ActionDocumentCheck, has("documentId", p.DocumentID != ""))
}

type RunComplianceAudit struct {
	ProjectID string `json:"projectId"`
}

func (RunComplianceAudit) Action() ActionName { return ActionComplianceAudit }
func (p RunComplianceAudit) Validate() error {
	return checkFields(ActionComplianceAudit, has("projectId", p.ProjectID != ""))
}

// RiskFinding is one detected risk before it is recorded.
type RiskFinding struct {
	Kind        RiskKind `json:"type"`
	PaymentID   string   `json:"paymentId,omitempty"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// RecordGlosaRisks is the batched glosa hand-off from financial to compliance.
type RecordGlosaRisks struct {
	ProjectID string        `json:"projectId"`
	Risks     []RiskFinding `json:"risks"`
}

func (RecordGlosaRisks) Action() ActionName { return ActionGlosaRisk }
func (p RecordGlosaRisks) Validate() error {
	return checkFields(ActionGlosaRisk, has("projectId", p.ProjectID != ""))
}

type ResolveRisk struct {
	RiskID string `json:"riskId"`
}

func (ResolveRisk) Action() ActionName { return ActionRiskResolve }
func (p ResolveRisk) Validate() error {
	return checkFields(ActionRiskResolve, has("riskId", p.RiskID != ""))
}

// --- messenger ---

type Notify struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"projectId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (Notify) Action() ActionName { return ActionNotify }
func (p Notify) Validate() error {
	return checkFields(ActionNotify, has("type", p.Type != ""))
}

type Alert struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"projectId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (Alert) Action() ActionName { return ActionAlert }
func (p Alert) Validate() error {
	return checkFields(ActionAlert, has("type", p.Type != ""))
}

type LogMessage struct {
	ProjectID string         `json:"projectId,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	Direction string         `json:"direction,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (LogMessage) Action() ActionName { return ActionLog }
func (p LogMessage) Validate() error {
	return checkFields(ActionLog, has("content", p.Content != ""))
}

type SendToChannel struct {
	ProjectID string `json:"projectId,omitempty"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
}

func (SendToChannel) Action() ActionName { return ActionChannelSend }
func (p SendToChannel) Validate() error {
	return checkFields(ActionChannelSend, has("channel", p.Channel != ""), has("content", p.Content != ""))
}

// --- database ---

type StoreData struct {
	ProjectID string         `json:"projectId,omitempty"`
	Name      string         `json:"name"`
	Type      string         `json:"type,omitempty"`
	Category  string         `json:"category,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (StoreData) Action() ActionName { return ActionDataStore }
func (p StoreData) Validate() error {
	return checkFields(ActionDataStore, has("name", p.Name != ""))
}

type QueryData struct {
	ProjectID string `json:"projectId,omitempty"`
	Category  string `json:"category,omitempty"`
	Type      string `json:"type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (QueryData) Action() ActionName { return ActionDataQuery }
func (QueryData) Validate() error { return nil }

type UpdateData struct {
	DocumentID string         `json:"documentId"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (UpdateData) Action() ActionName { return ActionDataUpdate }
func (p UpdateData) Validate() error {
	return checkFields(ActionDataUpdate, has("documentId", p.DocumentID != ""))
}

type CategorizeData struct {
	DocumentID string `json:"documentId"`
	Category   string `json:"category"`
}

func (CategorizeData) Action() ActionName { return ActionDataCategorize }
func (p CategorizeData) Validate() error {
	return checkFields(ActionDataCategorize, has("documentId", p.DocumentID != ""), has("category", p.Category != ""))
}

type ExportData struct {
	ProjectID string `json:"projectId"`
}

func (ExportData) Action() ActionName { return ActionDataExport }
func (p ExportData) Validate() error {
	return checkFields(ActionDataExport, has("projectId", p.ProjectID != ""))
}

// --- spreadsheet ---

type ImportSpreadsheet struct {
	ProjectID string `json:"projectId,omitempty"`
	Content   string `json:"content"`
}

func (ImportSpreadsheet) Action() ActionName { return ActionSpreadsheetImport }
func (p ImportSpreadsheet) Validate() error {
	return checkFields(ActionSpreadsheetImport, has("content", p.Content != ""))
}

type ParseSpreadsheet struct {
	Content string `json:"content"`
	Format  string `json:"format,omitempty"`
}

func (ParseSpreadsheet) Action() ActionName { return ActionSpreadsheetParse }
func (p ParseSpreadsheet) Validate() error {
	return checkFields(ActionSpreadsheetParse, has("content", p.Content != ""))
}

type DeliverSpreadsheet struct {
	ProjectID string              `json:"projectId"`
	Records   []map[string]string `json:"records"`
	Category  string              `json:"category,omitempty"`
	Source    string              `json:"source,omitempty"`
}

func (DeliverSpreadsheet) Action() ActionName { return ActionSpreadsheetDeliver }
func (p DeliverSpreadsheet) Validate() error {
	return checkFields(ActionSpreadsheetDeliver, has("projectId", p.ProjectID != ""))
}

// --- dailyfeed ---

type CollectFeed struct {
	ProjectID string         `json:"projectId,omitempty"`
	Type      string         `json:"type,omitempty"`
	Category  string         `json:"category,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (CollectFeed) Action() ActionName { return ActionFeedCollect }
func (CollectFeed) Validate() error { return nil }

type SendFeed struct{}

func (SendFeed) Action() ActionName { return ActionFeedSend }
func (SendFeed) Validate() error { return nil }

type GetFeed struct{}

func (GetFeed) Action() ActionName { return ActionFeedGet }
func (GetFeed) Validate() error { return nil }

// --- purchase ---

type CreatePurchase struct {
	ProjectID   string `json:"projectId"`
	TaskID      string `json:"taskId,omitempty"`
	Item        string `json:"item"`
	Description string `json:"description,omitempty"`
}

func (CreatePurchase) Action() ActionName { return ActionPurchaseCreate }
func (p CreatePurchase) Validate() error {
	return checkFields(ActionPurchaseCreate, has("projectId", p.ProjectID != ""), has("item", p.Item != ""))
}

type AddQuotation struct {
	PurchaseID string    `json:"purchaseId"`
	Quotation  Quotation `json:"quotation"`
}

func (AddQuotation) Action() ActionName { return ActionPurchaseAddQuotation }
func (p AddQuotation) Validate() error {
	return checkFields(ActionPurchaseAddQuotation,
		has("purchaseId", p.PurchaseID != ""),
		has("quotation.supplier", p.Quotation.Supplier != ""),
		has("quotation.price", p.Quotation.Price > 0),
		has("quotation.deadline", p.Quotation.Deadline != ""),
	)
}

type CompareQuotations struct {
	PurchaseID string `json:"purchaseId"`
}

func (CompareQuotations) Action() ActionName { return ActionPurchaseCompare }
func (p CompareQuotations) Validate() error {
	return checkFields(ActionPurchaseCompare, has("purchaseId", p.PurchaseID != ""))
}

type SelectQuotation struct {
	PurchaseID     string `json:"purchaseId"`
	QuotationIndex *int   `json:"quotationIndex"`
}

func (SelectQuotation) Action() ActionName { return ActionPurchaseSelect }
func (p SelectQuotation) Validate() error {
	return checkFields(ActionPurchaseSelect, has("purchaseId", p.PurchaseID != ""), has("quotationIndex", p.QuotationIndex != nil))
}

type CompletePurchase struct {
	PurchaseID string `json:"purchaseId"`
}

func (CompletePurchase) Action() ActionName { return ActionPurchaseComplete }
func (p CompletePurchase) Validate() error {
	return checkFields(ActionPurchaseComplete, has("purchaseId", p.PurchaseID != ""))
}

type PurchaseDashboard struct {
	ProjectID string `json:"projectId,omitempty"`
}

func (PurchaseDashboard) Action() ActionName { return ActionPurchaseDashboard }
func (PurchaseDashboard) Validate() error { return nil }

// --- summary ---

type ProjectSummary struct {
	ProjectID string `json:"projectId"`
}

func (ProjectSummary) Action() ActionName { return ActionSummaryProject }
func (p ProjectSummary) Validate() error {
	return checkFields(ActionSummaryProject, has("projectId", p.ProjectID != ""))
}

type FinancialSummary struct {
	ProjectID string `json:"projectId,omitempty"`
}

func (FinancialSummary) Action() ActionName { return ActionSummaryFinancial }
func (FinancialSummary) Validate() error { return nil }

type TaskSummary struct {
	ProjectID string `json:"projectId,omitempty"`
}

func (TaskSummary) Action() ActionName { return ActionSummaryTasks }
func (TaskSummary) Validate() error { return nil }

type RiskSummary struct {
	ProjectID string `json:"projectId,omitempty"`
}

func (RiskSummary) Action() ActionName { return ActionSummaryRisks }
func (RiskSummary) Validate() error { return nil }

type GenerateDashboard struct {
	ProjectID string `json:"projectId,omitempty"`
	Area      string `json:"area"`
}

func (GenerateDashboard) Action() ActionName { return ActionDashboardGenerate }
func (p GenerateDashboard) Validate() error {
	return checkFields(ActionDashboardGenerate, has("area", p.Area != ""))
}

// RawPayload carries an action no agent declares. Agents answer it with an
// "unknown action" result.
type RawPayload struct {
	Name ActionName      `json:"-"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (p RawPayload) Action() ActionName { return p.Name }
func (p RawPayload) Validate() error {
	return checkFields(p.Name, has("action", p.Name != ""))
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var payloadDecoders = map[ActionName]func(json.RawMessage) (Payload, error){
	ActionTaskAssigned: decodeAs[TaskAssigned],

	ActionTaskCreate:   decodeAs[CreateTask],
	ActionTaskMove:     decodeAs[MoveTask],
	ActionTaskAssign:   decodeAs[AssignTask],
	ActionDeadlineScan: decodeAs[ScanDeadlines],
	ActionReportDaily:  decodeAs[DailyReport],
	ActionReportWeekly: decodeAs[WeeklyReport],

	ActionPaymentCreate:   decodeAs[CreatePayment],
	ActionPaymentRegister: decodeAs[RegisterPayment],
	ActionPaymentValidate: decodeAs[ValidatePayment],
	ActionRiskCheck:       decodeAs[CheckRisks],
	ActionGlosaDetect:     decodeAs[DetectGlosa],
	ActionDeadlineCheck:   decodeAs[CheckPaymentDeadlines],

	ActionPaymentVerify:   decodeAs[VerifyPayment],
	ActionDocumentCheck:   decodeAs[CheckDocument],
	ActionComplianceAudit: decodeAs[RunComplianceAudit],
	ActionGlosaRisk:       decodeAs[RecordGlosaRisks],
	ActionRiskResolve:     decodeAs[ResolveRisk],

	ActionNotify:      decodeAs[Notify],
	ActionAlert:       decodeAs[Alert],
	ActionLog:         decodeAs[LogMessage],
	ActionChannelSend: decodeAs[SendToChannel],

	ActionDataStore:      decodeAs[StoreData],
	ActionDataQuery:      decodeAs[QueryData],
	ActionDataUpdate:     decodeAs[UpdateData],
	ActionDataCategorize: decodeAs[CategorizeData],
	ActionDataExport:     decodeAs[ExportData],

	ActionSpreadsheetImport:  decodeAs[ImportSpreadsheet],
	ActionSpreadsheetParse:   decodeAs[ParseSpreadsheet],
	ActionSpreadsheetDeliver: decodeAs[DeliverSpreadsheet],

	ActionFeedCollect: decodeAs[CollectFeed],
	ActionFeedSend:    decodeAs[SendFeed],
	ActionFeedGet:     decodeAs[GetFeed],

	ActionPurchaseCreate:       decodeAs[CreatePurchase],
	ActionPurchaseAddQuotation: decodeAs[AddQuotation],
	ActionPurchaseCompare:      decodeAs[CompareQuotations],
	ActionPurchaseSelect:       decodeAs[SelectQuotation],
	ActionPurchaseComplete:     decodeAs[CompletePurchase],
	ActionPurchaseDashboard:    decodeAs[PurchaseDashboard],

	ActionSummaryProject:    decodeAs[ProjectSummary],
	ActionSummaryFinancial:  decodeAs[FinancialSummary],
	ActionSummaryTasks:      decodeAs[TaskSummary],
	ActionSummaryRisks:      decodeAs[RiskSummary],
	ActionDashboardGenerate: decodeAs[GenerateDashboard],
}

// DecodePayload builds the union variant for action from raw JSON and checks
// required fields. Actions without a declared variant decode to RawPayload.
func DecodePayload(action ActionName, raw json.RawMessage) (Payload, error) {
	decode, ok := payloadDecoders[action]
	if !ok {
		p := RawPayload{Name: action, Data: raw}
		return p, p.Validate()
	}
	p, err := decode(raw)
	if err != nil {
		return nil, NewSubSystemError("payload", string(action), ErrInvalidInput, err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// KnownAction reports whether action has a declared payload variant.
func KnownAction(action ActionName) bool {
	_, ok := payloadDecoders[action]
	return ok
}
