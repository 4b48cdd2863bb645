// Package report builds the daily usage spreadsheet from the exchange log
// and mails it to the operators.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/mspsdc/helpdesk/internal/models"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the usage rows.
const SheetName = "Usage Logs"

const (
	queryColWidth    = 40
	responseColWidth = 80
	maxColWidth      = 60
	stampLayout      = "2006-01-02 15:04:05"
)

var headers = []string{
	"ID", "UserID", "UserQuery", "BotResponse", "Channel", "Backend",
	"CreatedDate", "CreatedTime", "RequestedAt", "RespondedAt", "LatencySeconds",
}

// Source returns the exchanges logged on one day.
type Source interface {
	ForDate(ctx context.Context, day time.Time) ([]models.Exchange, error)
}

// Report is the outcome of Build for one day. Path is empty when the day had
// no exchanges.
type Report struct {
	Day      time.Time
	Rows     int
	Filename string
	Path     string
}

// Empty reports whether the day had no usage.
func (r Report) Empty() bool { return r.Rows == 0 }

// Filename returns the attachment name for day.
func Filename(day time.Time) string {
	return "MSPSDC.Chatbot.Usage." + day.Format(exchangelog.DateLayout) + ".xlsx"
}

// Builder writes usage spreadsheets.
type Builder struct {
	source    Source
	outputDir string
}

// BuilderOpts holds parameters for creating a Builder.
type BuilderOpts struct {
	Source    Source
	OutputDir string // defaults to ./RAG_logs
}

// NewBuilder creates a Builder.
func NewBuilder(opts BuilderOpts) (*Builder, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("report: source is required")
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = "./RAG_logs"
	}
	return &Builder{source: opts.Source, outputDir: dir}, nil
}

// Build writes the spreadsheet for day into the output directory.
func (b *Builder) Build(ctx context.Context, day time.Time) (Report, error) {
	rows, err := b.source.ForDate(ctx, day)
	if err != nil {
		return Report{}, fmt.Errorf("report: %w", err)
	}
	r := Report{Day: day, Rows: len(rows), Filename: Filename(day)}
	if len(rows) == 0 {
		return r, nil
	}

	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("report: create output dir: %w", err)
	}
	r.Path = filepath.Join(b.outputDir, r.Filename)
	if err := writeWorkbook(r.Path, rows); err != nil {
		return Report{}, fmt.Errorf("report: %w", err)
	}
	return r, nil
}

func writeWorkbook(path string, rows []models.Exchange) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	widths := make([]int, len(headers))
	table := make([][]interface{}, 0, len(rows)+1)
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	table = append(table, header)
	for _, e := range rows {
		table = append(table, exchangeRow(e))
	}

	for i, row := range table {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
		for col, v := range row {
			if n := utf8.RuneCountInString(cellText(v)); n > widths[col] {
				widths[col] = n
			}
		}
	}

	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return fmt.Errorf("wrap style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), len(table))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, wrap); err != nil {
		return fmt.Errorf("apply style: %w", err)
	}

	for i := range headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, col, col, columnWidth(col, widths[i])); err != nil {
			return fmt.Errorf("column %s width: %w", col, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// columnWidth fixes the query and response columns and sizes the rest to
// their longest value, capped.
func columnWidth(col string, longest int) float64 {
	switch col {
	case "C":
		return queryColWidth
	case "D":
		return responseColWidth
	}
	return float64(min(longest+2, maxColWidth))
}

func exchangeRow(e models.Exchange) []interface{} {
	var latency interface{}
	if e.LatencySeconds != nil {
		latency = *e.LatencySeconds
	}
	return []interface{}{
		e.ID,
		e.UserID,
		e.UserQuery,
		e.BotResponse,
		e.Channel,
		e.Backend,
		e.CreatedDate,
		e.CreatedTime,
		e.RequestedAt.Format(stampLayout),
		e.RespondedAt.Format(stampLayout),
		latency,
	}
}

func cellText(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
