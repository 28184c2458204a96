package models

import "time"

// BuildRun is the history record of one orchestrated build. It is written
// as the run changes state and is never used to resume a build.
type BuildRun struct {
	ID           string `gorm:"primaryKey;size:36"`
	ContextID    string `gorm:"size:128;index"`
	Status       string `gorm:"size:16;index"`
	CurrentIndex int
	Total        int
	Done         int
	Errored      int
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   *time.Time
	UpdatedAt    time.Time
}
