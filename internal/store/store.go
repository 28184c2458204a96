// Package store persists build-run history: one row per run and the log
// lines it produced. History is informational; runs are never resumed
// from it.
package store

import (
	"fmt"

	"github.com/zulandar/storyforge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultListLimit bounds ListRuns when the caller passes no limit.
const DefaultListLimit = 20

// Store reads and writes run history through GORM.
type Store struct {
	db *gorm.DB
}

// New wraps an open, migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveRun inserts the run or updates its progress columns.
func (s *Store) SaveRun(run models.BuildRun) error {
	result := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_index", "total", "done", "errored", "finished_at", "updated_at",
		}),
	}).Create(&run)
	if result.Error != nil {
		return fmt.Errorf("store: save run %s: %w", run.ID, result.Error)
	}
	return nil
}

// AppendLogs writes a batch of log lines. Lines already stored for the same
// run and sequence number are skipped, so a batch may be retried.
func (s *Store) AppendLogs(entries []models.BuildLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "seq"}},
		DoNothing: true,
	}).Create(&entries)
	if result.Error != nil {
		return fmt.Errorf("store: append %d logs: %w", len(entries), result.Error)
	}
	return nil
}

// GetRun loads a single run by ID.
func (s *Store) GetRun(id string) (*models.BuildRun, error) {
	var run models.BuildRun
	if err := s.db.Where("id = ?", id).First(&run).Error; err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns the most recently started runs first.
func (s *Store) ListRuns(limit int) ([]models.BuildRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var runs []models.BuildRun
	if err := s.db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return runs, nil
}

// RunLogs returns a run's log lines in sequence order.
func (s *Store) RunLogs(runID string) ([]models.BuildLogEntry, error) {
	var entries []models.BuildLogEntry
	if err := s.db.Where("run_id = ?", runID).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("store: logs for run %s: %w", runID, err)
	}
	return entries, nil
}
