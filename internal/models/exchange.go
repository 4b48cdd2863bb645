package models

import "time"

// Exchange is one answered user message, appended to the usage log and
// never updated afterwards.
type Exchange struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	UserID         string     `gorm:"size:128;index"`
	UserQuery      string     `gorm:"type:text"`
	BotResponse    string     `gorm:"type:text"`
	Channel        string     `gorm:"size:16;index"`
	Backend        string     `gorm:"size:16"`
	CreatedDate    string     `gorm:"size:10;index"` // dd-mm-yyyy
	CreatedTime    string     `gorm:"size:8"`        // HH:MM:SS
	RequestedAt    time.Time
	RespondedAt    time.Time
	LatencySeconds *float64
}

// TableName keeps the table name used by the existing report tooling.
func (Exchange) TableName() string {
	return "rag_timed_logs"
}
