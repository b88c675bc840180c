package agents

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"ppi-control/internal/domain"
)

// Spreadsheet formats accepted by spreadsheet:parse.
const (
	FormatCSV = "csv"
	FormatTSV = "tsv"
)

// Spreadsheet row defaults used on delivery.
const (
	SpreadsheetRowType  = "spreadsheet_row"
	SpreadsheetCategory = "spreadsheet"
)

// Spreadsheet turns tabular uploads into records and hands them to the database agent.
type Spreadsheet struct {
	base
}

func NewSpreadsheet(deps Deps) *Spreadsheet {
	return &Spreadsheet{base: newBase(domain.AgentSpreadsheet, deps)}
}

func (a *Spreadsheet) Handle(ctx context.Context, msg domain.Message) (domain.Result, error) {
	switch p := msg.Payload.(type) {
	case domain.ImportSpreadsheet:
		return a.importSheet(ctx, p)
	case domain.ParseSpreadsheet:
		return a.parseSheet(p)
	case domain.DeliverSpreadsheet:
		return a.deliver(ctx, msg, p)
	case domain.TaskAssigned:
		return a.acknowledge(p), nil
	default:
		return domain.UnknownAction(msg.Action), nil
	}
}

// Sheet is a parsed table: the header row plus one map per data row.
type Sheet struct {
	Headers []string            `json:"headers"`
	Records []map[string]string `json:"records"`
	Count   int                 `json:"count"`
}

// parseTable reads content with the given field separator. Short rows are
// padded with empty values; blank lines are skipped.
func parseTable(content string, comma rune) (Sheet, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Sheet{}, errors.New("no header row")
	}
	if err != nil {
		return Sheet{}, err
	}
	sheet := Sheet{Headers: make([]string, len(header)), Records: []map[string]string{}}
	for i, h := range header {
		sheet.Headers[i] = strings.TrimSpace(h)
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sheet{}, err
		}
		rec := make(map[string]string, len(sheet.Headers))
		for i, h := range sheet.Headers {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			} else {
				rec[h] = ""
			}
		}
		sheet.Records = append(sheet.Records, rec)
	}
	sheet.Count = len(sheet.Records)
	return sheet, nil
}

func (a *Spreadsheet) importSheet(ctx context.Context, p domain.ImportSpreadsheet) (domain.Result, error) {
	sheet, err := parseTable(p.Content, ',')
	if err != nil {
		return domain.Fail("Invalid spreadsheet", "detail", err.Error()), nil
	}

	action := fmt.Sprintf("Spreadsheet imported: %d records", sheet.Count)
	if err := a.audit(ctx, p.ProjectID, "", "spreadsheet", action, map[string]any{
		"headers":     sheet.Headers,
		"recordCount": sheet.Count,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(sheet), nil
}

// ParsedSheet is the read-only result of spreadsheet:parse.
type ParsedSheet struct {
	Parsed []map[string]string `json:"parsed"`
	Format string              `json:"format"`
}

func (a *Spreadsheet) parseSheet(p domain.ParseSpreadsheet) (domain.Result, error) {
	format := strings.ToLower(p.Format)
	if format == "" {
		format = FormatCSV
	}
	var comma rune
	switch format {
	case FormatCSV:
		comma = ','
	case FormatTSV:
		comma = '\t'
	default:
		return domain.Fail("Unsupported format", "format", p.Format, "supported", []string{FormatCSV, FormatTSV}), nil
	}
	sheet, err := parseTable(p.Content, comma)
	if err != nil {
		return domain.Fail("Invalid spreadsheet", "detail", err.Error()), nil
	}
	return domain.OK(ParsedSheet{Parsed: sheet.Records, Format: format}), nil
}

// Delivery reports the outcome of each chained data:store.
type Delivery struct {
	Delivered int             `json:"delivered"`
	Failed    int             `json:"failed"`
	Results   []domain.Result `json:"results"`
}

// recordName picks a display name for a row.
func recordName(rec map[string]string) string {
	if v := rec["name"]; v != "" {
		return v
	}
	if v := rec["id"]; v != "" {
		return v
	}
	return "record"
}

func (a *Spreadsheet) deliver(ctx context.Context, msg domain.Message, p domain.DeliverSpreadsheet) (domain.Result, error) {
	out := Delivery{Results: []domain.Result{}}
	if len(p.Records) == 0 {
		return domain.OK(out), nil
	}
	category := p.Category
	if category == "" {
		category = SpreadsheetCategory
	}

	for _, rec := range p.Records {
		content, err := json.Marshal(rec)
		if err != nil {
			return domain.Result{}, fmt.Errorf("encode spreadsheet row: %w", err)
		}
		res, err := a.dispatch.Chain(ctx, msg, domain.AgentDatabase, domain.StoreData{
			ProjectID: p.ProjectID,
			Name:      recordName(rec),
			Type:      SpreadsheetRowType,
			Category:  category,
			Content:   string(content),
			Metadata:  map[string]any{"source": p.Source},
		})
		if err != nil {
			return domain.Result{}, err
		}
		if res.Failed() {
			out.Failed++
		} else {
			out.Delivered++
		}
		out.Results = append(out.Results, res)
	}

	action := fmt.Sprintf("%d records delivered to database", out.Delivered)
	if err := a.audit(ctx, p.ProjectID, "", "spreadsheet", action, map[string]any{
		"count":  out.Delivered,
		"failed": out.Failed,
		"source": p.Source,
	}); err != nil {
		return domain.Result{}, err
	}
	return domain.OK(out), nil
}

var _ domain.Agent = (*Spreadsheet)(nil)
