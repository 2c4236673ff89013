// Package runstore persists run history to SQLite: one row per
// segmentation run plus its state transitions, so the audit subcommand
// and batch mode can report what happened after the fact.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lumenimaging/segrunner/internal/domain"
	_ "modernc.org/sqlite"
)

// RunRecord is one persisted run.
type RunRecord struct {
	ID              string
	State           domain.RunState
	Task            string
	Device          string
	UseFast         bool
	OutputType      domain.OutputType
	OutputDirectory string
	SelectedClasses []string
	ImportedCount   int
	RTStructCount   int
	ErrorMessage    string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// Transition is one recorded state change of a run.
type Transition struct {
	RunID     string
	State     domain.RunState
	EnteredAt time.Time
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a new run row and its initial transition.
func (s *Store) SaveRun(record *RunRecord) error {
	classesJSON, err := json.Marshal(record.SelectedClasses)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, state, task, device, use_fast, output_type, output_directory, selected_classes, imported_count, rtstruct_count, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		string(record.State),
		record.Task,
		record.Device,
		record.UseFast,
		string(record.OutputType),
		record.OutputDirectory,
		string(classesJSON),
		record.ImportedCount,
		record.RTStructCount,
		record.ErrorMessage,
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return err
	}
	return s.recordTransition(record.ID, record.State)
}

// UpdateRunState moves a run to a new state and records the transition.
func (s *Store) UpdateRunState(id string, state domain.RunState) error {
	_, err := s.db.Exec(`UPDATE runs SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return err
	}
	return s.recordTransition(id, state)
}

// FinishRun closes out a run with its terminal state and counters.
func (s *Store) FinishRun(id string, state domain.RunState, errorMessage string, imported, rtstructs int) error {
	if !state.Terminal() {
		return fmt.Errorf("finish requires a terminal state, got %s", state)
	}
	_, err := s.db.Exec(`
		UPDATE runs SET state = ?, error_message = ?, imported_count = ?, rtstruct_count = ?, finished_at = ?
		WHERE id = ?
	`, string(state), errorMessage, imported, rtstructs, time.Now(), id)
	if err != nil {
		return err
	}
	return s.recordTransition(id, state)
}

func (s *Store) recordTransition(runID string, state domain.RunState) error {
	_, err := s.db.Exec(`INSERT INTO transitions (run_id, state) VALUES (?, ?)`,
		runID, string(state))
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, state, task, device, use_fast, output_type, output_directory, selected_classes, imported_count, rtstruct_count, error_message, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row.Scan)
}

// ListRecentRuns returns the newest runs first, at most limit of them.
func (s *Store) ListRecentRuns(limit int) ([]*RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, state, task, device, use_fast, output_type, output_directory, selected_classes, imported_count, rtstruct_count, error_message, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Transitions returns a run's state history in order.
func (s *Store) Transitions(runID string) ([]Transition, error) {
	rows, err := s.db.Query(`
		SELECT run_id, state, entered_at FROM transitions WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var state string
		if err := rows.Scan(&tr.RunID, &state, &tr.EnteredAt); err != nil {
			return nil, err
		}
		tr.State = domain.RunState(state)
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func scanRun(scan func(...interface{}) error) (*RunRecord, error) {
	var record RunRecord
	var state, outputType, classesJSON string
	var task, device, outputDir, errorMessage sql.NullString
	var finishedAt sql.NullTime

	err := scan(&record.ID, &state, &task, &device, &record.UseFast, &outputType,
		&outputDir, &classesJSON, &record.ImportedCount, &record.RTStructCount,
		&errorMessage, &record.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	record.State = domain.RunState(state)
	record.OutputType = domain.OutputType(outputType)
	record.Task = task.String
	record.Device = device.String
	record.OutputDirectory = outputDir.String
	record.ErrorMessage = errorMessage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		record.FinishedAt = &t
	}

	if classesJSON != "" && classesJSON != "null" {
		if err := json.Unmarshal([]byte(classesJSON), &record.SelectedClasses); err != nil {
			return nil, err
		}
	}
	return &record, nil
}
