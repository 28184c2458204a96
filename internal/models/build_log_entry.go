package models

import "time"

// BuildLogEntry is a persisted copy of one orchestrator log line.
type BuildLogEntry struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"size:36;uniqueIndex:idx_run_seq"`
	Seq        uint64 `gorm:"uniqueIndex:idx_run_seq"`
	Level      string `gorm:"size:16;index"`
	Message    string `gorm:"type:text"`
	WorkItemID string `gorm:"size:64;index"`
	CreatedAt  time.Time
}
