package report

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mspsdc/helpdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSource struct {
	rows []models.Exchange
	err  error
	days []time.Time
}

func (f *fakeSource) ForDate(ctx context.Context, day time.Time) ([]models.Exchange, error) {
	f.days = append(f.days, day)
	return f.rows, f.err
}

var reportDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleRows() []models.Exchange {
	latency := 2.5
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []models.Exchange{
		{
			ID:             1,
			UserID:         "919811294652",
			UserQuery:      "How do I apply for a caste certificate?",
			BotResponse:    "You can apply online through the MSPSDC portal.",
			Channel:        "whatsapp",
			Backend:        "main_llm",
			CreatedDate:    "01-03-2024",
			CreatedTime:    "10:00:00",
			RequestedAt:    at,
			RespondedAt:    at.Add(2500 * time.Millisecond),
			LatencySeconds: &latency,
		},
		{
			ID:          2,
			UserID:      "U42",
			UserQuery:   "hi",
			BotResponse: "Hello! How can I help?",
			Channel:     "slack",
			Backend:     "demo",
			CreatedDate: "01-03-2024",
			CreatedTime: "10:05:00",
			RequestedAt: at,
			RespondedAt: at,
		},
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "MSPSDC.Chatbot.Usage.01-03-2024.xlsx", Filename(reportDay))
}

func TestNewBuilder_RequiresSource(t *testing.T) {
	_, err := NewBuilder(BuilderOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source is required")
}

func TestBuild_EmptyDay(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(BuilderOpts{Source: &fakeSource{}, OutputDir: dir})
	require.NoError(t, err)

	r, err := b.Build(context.Background(), reportDay)
	require.NoError(t, err)
	assert.True(t, r.Empty())
	assert.Empty(t, r.Path)
	assert.Equal(t, "MSPSDC.Chatbot.Usage.01-03-2024.xlsx", r.Filename)
}

func TestBuild_WritesWorkbook(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "RAG_logs")
	src := &fakeSource{rows: sampleRows()}
	b, err := NewBuilder(BuilderOpts{Source: src, OutputDir: dir})
	require.NoError(t, err)

	r, err := b.Build(context.Background(), reportDay)
	require.NoError(t, err)
	require.Len(t, src.days, 1)
	assert.True(t, src.days[0].Equal(reportDay))
	assert.Equal(t, 2, r.Rows)
	assert.Equal(t, filepath.Join(dir, "MSPSDC.Chatbot.Usage.01-03-2024.xlsx"), r.Path)

	f, err := excelize.OpenFile(r.Path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "How do I apply for a caste certificate?", rows[1][2])
	assert.Equal(t, "main_llm", rows[1][5])
	assert.Equal(t, "2.5", rows[1][10])
	assert.Len(t, rows[2], len(headers)-1, "null latency leaves the last cell empty")

	width := func(col string) float64 {
		w, err := f.GetColWidth(SheetName, col)
		require.NoError(t, err)
		return w
	}
	assert.Equal(t, float64(queryColWidth), width("C"))
	assert.Equal(t, float64(responseColWidth), width("D"))
	assert.Equal(t, float64(len("919811294652")+2), width("B"))
	assert.LessOrEqual(t, width("I"), float64(maxColWidth))

	styleID, err := f.GetCellStyle(SheetName, "D2")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Alignment)
	assert.True(t, style.Alignment.WrapText)
}

func TestBuild_SourceError(t *testing.T) {
	b, _ := NewBuilder(BuilderOpts{Source: &fakeSource{err: errors.New("db locked")}, OutputDir: t.TempDir()})
	_, err := b.Build(context.Background(), reportDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestColumnWidth(t *testing.T) {
	assert.Equal(t, float64(40), columnWidth("C", 500))
	assert.Equal(t, float64(80), columnWidth("D", 3))
	assert.Equal(t, float64(7), columnWidth("A", 5))
	assert.Equal(t, float64(60), columnWidth("J", 200))
}
