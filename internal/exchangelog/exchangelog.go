// Package exchangelog records every answered message in the usage log table
// and serves the queries the report and health endpoints need.
package exchangelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/metrics"
	"github.com/mspsdc/helpdesk/internal/models"
	"gorm.io/gorm"
)

// Date and time layouts stored in CreatedDate / CreatedTime.
const (
	DateLayout = "02-01-2006"
	TimeLayout = "15:04:05"
)

// Entry is one exchange to record.
type Entry struct {
	UserID      string
	Query       string
	Response    string
	Channel     string
	Backend     string
	RequestedAt time.Time
	RespondedAt time.Time
}

// Logger appends exchanges to the database. Storage failures are logged and
// counted, never returned, so a broken database can't hold up a reply.
type Logger struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Logger over an already-migrated database.
func New(db *gorm.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// Record stores one exchange.
func (l *Logger) Record(ctx context.Context, e Entry) {
	latency := Latency(e.RequestedAt, e.RespondedAt)
	if latency == nil {
		log.Warn("exchangelog: latency unavailable", "user", e.UserID, "requested", e.RequestedAt, "responded", e.RespondedAt)
	} else {
		metrics.ExchangeLatency.Observe(*latency)
	}

	stamp := e.RespondedAt
	if stamp.IsZero() {
		stamp = l.now()
	}
	row := models.Exchange{
		UserID:         e.UserID,
		UserQuery:      e.Query,
		BotResponse:    e.Response,
		Channel:        e.Channel,
		Backend:        e.Backend,
		CreatedDate:    stamp.Format(DateLayout),
		CreatedTime:    stamp.Format(TimeLayout),
		RequestedAt:    e.RequestedAt,
		RespondedAt:    e.RespondedAt,
		LatencySeconds: latency,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		metrics.LogWriteFailures.Inc()
		log.Error("exchangelog: insert failed", "user", e.UserID, "channel", e.Channel, "err", err)
	}
}

// Latency returns responded - requested in seconds, or nil when either
// stamp is missing or the difference would be negative.
func Latency(requested, responded time.Time) *float64 {
	if requested.IsZero() || responded.IsZero() || responded.Before(requested) {
		return nil
	}
	s := responded.Sub(requested).Seconds()
	return &s
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
}

// ParseStamp parses a timestamp reported by a backend. Full date-times are
// accepted in RFC 3339 or "2006-01-02 15:04:05" form; bare clock readings
// ("15:04:05", optionally with fractional seconds) are placed on day's date.
func ParseStamp(s string, day time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("exchangelog: empty timestamp")
	}
	loc := day.Location()
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	clock, err := time.ParseInLocation(TimeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("exchangelog: unrecognised timestamp %q", s)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), loc), nil
}

// ForDate returns every exchange created on the given day, oldest first.
func (l *Logger) ForDate(ctx context.Context, day time.Time) ([]models.Exchange, error) {
	var rows []models.Exchange
	err := l.db.WithContext(ctx).
		Where("created_date = ?", day.Format(DateLayout)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("exchangelog: query %s: %w", day.Format(DateLayout), err)
	}
	return rows, nil
}

// Stats summarises the log for the health endpoint.
type Stats struct {
	Exchanges      int64   `json:"exchanges"`
	AvgLatencySecs float64 `json:"avg_latency_seconds"`
}

// Stats counts all exchanges and averages the non-null latencies.
func (l *Logger) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	db := l.db.WithContext(ctx).Model(&models.Exchange{})
	if err := db.Count(&s.Exchanges).Error; err != nil {
		return Stats{}, fmt.Errorf("exchangelog: count: %w", err)
	}
	var avg sql.NullFloat64
	row := l.db.WithContext(ctx).Model(&models.Exchange{}).
		Select("AVG(latency_seconds)").
		Where("latency_seconds IS NOT NULL").
		Row()
	if err := row.Scan(&avg); err != nil {
		return Stats{}, fmt.Errorf("exchangelog: average latency: %w", err)
	}
	s.AvgLatencySecs = avg.Float64
	return s, nil
}
