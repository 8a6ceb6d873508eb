package runhistory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/fixtrack/notifier/internal/model"
)

var ErrNoRunsFound = errors.New("no scheduler runs found")

// Repository persists one row per scheduler run for operational visibility.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new run-history repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Start inserts a 'running' row and returns its ID for the later Finish call.
func (r *Repository) Start(ctx context.Context) (int64, error) {
	query := `
		INSERT INTO scheduler_runs (started_at, status)
		VALUES (NOW(), $1)
		RETURNING id;
    `

	var id int64
	if err := r.db.Master.QueryRowContext(ctx, query, model.RunStatusRunning).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to start run record: %w", err)
	}

	return id, nil
}

// Finish records the outcome of a run. runErr may be nil.
func (r *Repository) Finish(ctx context.Context, id int64, status string, summary model.RunSummary, runErr error) error {
	query := `
		UPDATE scheduler_runs
		SET finished_at = NOW(),
		    status = $1,
		    sent_count = $2,
		    already_sent_count = $3,
		    failed_count = $4,
		    error = $5
		WHERE id = $6;
    `

	var errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	if _, err := r.db.ExecContext(
		ctx, query, status, summary.SentCount, summary.AlreadySentCount, summary.FailedCount, errMsg, id,
	); err != nil {
		return fmt.Errorf("failed to finish run record: %w", err)
	}

	return nil
}

// List returns the most recent runs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]model.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, sent_count, already_sent_count, failed_count, error
		FROM scheduler_runs
		ORDER BY started_at DESC
		LIMIT $1;
    `

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []model.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	if len(records) == 0 {
		return nil, ErrNoRunsFound
	}

	return records, nil
}

// Latest returns the most recent run record.
func (r *Repository) Latest(ctx context.Context) (model.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, sent_count, already_sent_count, failed_count, error
		FROM scheduler_runs
		ORDER BY started_at DESC
		LIMIT 1;
    `

	rec, err := scanRun(r.db.Master.QueryRowContext(ctx, query).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, ErrNoRunsFound
		}

		return model.RunRecord{}, err
	}

	return rec, nil
}

func scanRun(scan func(dest ...any) error) (model.RunRecord, error) {
	var (
		rec        model.RunRecord
		finishedAt sql.NullTime
		errMsg     sql.NullString
	)

	if err := scan(
		&rec.ID, &rec.StartedAt, &finishedAt, &rec.Status,
		&rec.SentCount, &rec.AlreadySentCount, &rec.FailedCount, &errMsg,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, err
		}

		return model.RunRecord{}, fmt.Errorf("failed to scan run record: %w", err)
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	rec.Error = errMsg.String

	return rec, nil
}
