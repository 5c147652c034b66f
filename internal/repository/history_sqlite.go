package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

// Fixed width so timestamps sort correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteHistory archives reports in a single local database file.
type SQLiteHistory struct {
	db *sql.DB
}

func NewSQLiteHistory(ctx context.Context, path string) (*SQLiteHistory, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	statements := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS job_history (
			job_id        TEXT PRIMARY KEY,
			status        TEXT NOT NULL,
			input_root    TEXT NOT NULL,
			output_root   TEXT NOT NULL,
			settings      TEXT NOT NULL,
			total_items   INTEGER NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			result        TEXT,
			created_at    TEXT NOT NULL,
			finished_at   TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_job_history_finished ON job_history(finished_at)",
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare sqlite history: %w", err)
		}
	}

	return &SQLiteHistory{db: db}, nil
}

func (r *SQLiteHistory) Close() error {
	return r.db.Close()
}

func (r *SQLiteHistory) Archive(ctx context.Context, entry domain.HistoryEntry) error {
	settings, result, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	var resultText sql.NullString
	if result != nil {
		resultText = sql.NullString{String: string(result), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO job_history (
			job_id, status, input_root, output_root, settings,
			total_items, error_message, result, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.JobID,
		string(entry.Status),
		entry.InputRoot,
		entry.OutputRoot,
		string(settings),
		entry.TotalItems,
		entry.ErrorMessage,
		resultText,
		entry.CreatedAt.UTC().Format(sqliteTimeLayout),
		entry.FinishedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (r *SQLiteHistory) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int, error) {
	filter = normalizeFilter(filter)

	baseQuery := "FROM job_history"
	args := make([]any, 0, 3)
	if filter.Status != "" {
		baseQuery += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	listQuery := `SELECT job_id, status, input_root, output_root, settings, total_items, error_message, result, created_at, finished_at ` +
		baseQuery + ` ORDER BY finished_at DESC LIMIT ? OFFSET ?`
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var (
			entry      domain.HistoryEntry
			status     string
			settings   string
			result     sql.NullString
			createdAt  string
			finishedAt string
		)
		if err := rows.Scan(
			&entry.JobID,
			&status,
			&entry.InputRoot,
			&entry.OutputRoot,
			&settings,
			&entry.TotalItems,
			&entry.ErrorMessage,
			&result,
			&createdAt,
			&finishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Status = domain.JobStatus(status)
		if entry.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, 0, fmt.Errorf("parse created_at: %w", err)
		}
		if entry.FinishedAt, err = time.Parse(sqliteTimeLayout, finishedAt); err != nil {
			return nil, 0, fmt.Errorf("parse finished_at: %w", err)
		}
		var resultBytes []byte
		if result.Valid {
			resultBytes = []byte(result.String)
		}
		if err := decodeEntry(&entry, []byte(settings), resultBytes); err != nil {
			return nil, 0, err
		}
		items = append(items, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate history entries: %w", err)
	}

	return items, total, nil
}
