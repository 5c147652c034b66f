package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

type PostgresHistory struct {
	pool *pgxpool.Pool
}

func NewPostgresHistory(ctx context.Context, databaseURL string) (*PostgresHistory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_history (
			job_id        TEXT PRIMARY KEY,
			status        TEXT NOT NULL,
			input_root    TEXT NOT NULL,
			output_root   TEXT NOT NULL,
			settings      JSONB NOT NULL,
			total_items   INTEGER NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			result        JSONB,
			created_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create job_history table: %w", err)
	}
	return &PostgresHistory{pool: pool}, nil
}

func (r *PostgresHistory) Close() {
	r.pool.Close()
}

func (r *PostgresHistory) Archive(ctx context.Context, entry domain.HistoryEntry) error {
	settings, result, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO job_history (
			job_id,
			status,
			input_root,
			output_root,
			settings,
			total_items,
			error_message,
			result,
			created_at,
			finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (job_id) DO NOTHING
	`,
		entry.JobID,
		string(entry.Status),
		entry.InputRoot,
		entry.OutputRoot,
		settings,
		entry.TotalItems,
		entry.ErrorMessage,
		result,
		entry.CreatedAt,
		entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (r *PostgresHistory) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int, error) {
	filter = normalizeFilter(filter)

	baseQuery := "FROM job_history"
	args := make([]any, 0, 3)
	if filter.Status != "" {
		baseQuery += " WHERE status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT job_id, status, input_root, output_root, settings, total_items, error_message, result, created_at, finished_at
		%s
		ORDER BY finished_at DESC
		LIMIT $%d OFFSET $%d`,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var (
			entry      domain.HistoryEntry
			status     string
			settings   []byte
			result     []byte
			createdAt  time.Time
			finishedAt time.Time
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
		entry.CreatedAt = createdAt
		entry.FinishedAt = finishedAt
		if err := decodeEntry(&entry, settings, result); err != nil {
			return nil, 0, err
		}
		items = append(items, entry)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate history entries: %w", rows.Err())
	}

	return items, total, nil
}

func encodeEntry(entry domain.HistoryEntry) ([]byte, []byte, error) {
	settings, err := json.Marshal(entry.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("encode settings: %w", err)
	}
	var result []byte
	if entry.Result != nil {
		result, err = json.Marshal(entry.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	return settings, result, nil
}

func decodeEntry(entry *domain.HistoryEntry, settings, result []byte) error {
	if err := json.Unmarshal(settings, &entry.Settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if len(result) > 0 {
		var decoded domain.Result
		if err := json.Unmarshal(result, &decoded); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		entry.Result = &decoded
	}
	return nil
}
