package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/hnpwa-feed/models"
)

// timeFormat has a fixed width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Database records snapshot runs and the files they wrote
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	CREATE TABLE IF NOT EXISTS publish_runs (
		id TEXT PRIMARY KEY,
		dest TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		files_written INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS published_files (
		run_id TEXT NOT NULL REFERENCES publish_runs(id),
		path TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		written_at TEXT NOT NULL,
		PRIMARY KEY (run_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_publish_runs_started ON publish_runs(started_at DESC);
	`

	_, err := d.db.Exec(query)
	return err
}

// StartRun records the start of a snapshot run
func (d *Database) StartRun(run *models.PublishRun) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	_, err := d.db.Exec(
		`INSERT INTO publish_runs (id, dest, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Dest, run.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	return nil
}

// FinishRun records the outcome of a snapshot run
func (d *Database) FinishRun(run *models.PublishRun) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var finishedAt string
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC().Format(timeFormat)
	}

	_, err := d.db.Exec(
		`UPDATE publish_runs SET finished_at = ?, files_written = ?, error = ? WHERE id = ?`,
		finishedAt, run.FilesWritten, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	d.log.WithFields(logrus.Fields{
		"run_id":        run.ID,
		"files_written": run.FilesWritten,
	}).Debug("Recorded publish run")

	return nil
}

// SaveFile records a file written by a snapshot run
func (d *Database) SaveFile(file *models.PublishedFile) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO published_files (run_id, path, bytes, written_at) VALUES (?, ?, ?, ?)`,
		file.RunID, file.Path, file.Bytes, file.WrittenAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	return nil
}

// GetRecentRuns returns the latest N runs, newest first
func (d *Database) GetRecentRuns(limit int) ([]models.PublishRun, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT id, dest, started_at, COALESCE(finished_at, ''), files_written, error
	FROM publish_runs
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.PublishRun, 0, limit)
	for rows.Next() {
		var run models.PublishRun
		var startedAt string
		var finishedAt string

		if err := rows.Scan(&run.ID, &run.Dest, &startedAt, &finishedAt, &run.FilesWritten, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.StartedAt, _ = time.Parse(timeFormat, startedAt)
		if finishedAt != "" {
			if t, err := time.Parse(timeFormat, finishedAt); err == nil {
				run.FinishedAt = &t
			}
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

// GetRunFiles returns the files written by a run, ordered by path
func (d *Database) GetRunFiles(runID string) ([]models.PublishedFile, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	rows, err := d.db.Query(
		`SELECT run_id, path, bytes, written_at FROM published_files WHERE run_id = ? ORDER BY path`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query files for run %s: %w", runID, err)
	}
	defer rows.Close()

	files := make([]models.PublishedFile, 0)
	for rows.Next() {
		var file models.PublishedFile
		var writtenAt string

		if err := rows.Scan(&file.RunID, &file.Path, &file.Bytes, &writtenAt); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}

		file.WrittenAt, _ = time.Parse(timeFormat, writtenAt)
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return files, nil
}
