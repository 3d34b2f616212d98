// Package repository provides data access for run history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lwneal/sharescript/internal/model"
)

// RunRepository provides data access for script runs.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run record.
func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	query := `
		INSERT INTO runs (id, script_path, status, pid, cast_path, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.ScriptPath,
		run.Status,
		run.PID,
		run.CastPath,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Finish marks a run as ended with the given status and exit code.
func (r *RunRepository) Finish(ctx context.Context, id string, status model.RunStatus, exitCode *int) error {
	query := `
		UPDATE runs
		SET status = ?, exit_code = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return model.ErrRunNotFound
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.Run, error) {
	query := `
		SELECT id, script_path, status, exit_code, pid, cast_path, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run := &model.Run{}
	var exitCode sql.NullInt64
	var pid sql.NullInt64
	var castPath sql.NullString
	var finishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.ScriptPath,
		&run.Status,
		&exitCode,
		&pid,
		&castPath,
		&run.StartedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if pid.Valid {
		p := int(pid.Int64)
		run.PID = &p
	}
	if castPath.Valid {
		run.CastPath = castPath.String
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return run, nil
}

// List retrieves runs, most recent first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, script_path, status, exit_code, pid, cast_path, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run := &model.Run{}
		var exitCode sql.NullInt64
		var pid sql.NullInt64
		var castPath sql.NullString
		var finishedAt sql.NullTime

		if err := rows.Scan(
			&run.ID,
			&run.ScriptPath,
			&run.Status,
			&exitCode,
			&pid,
			&castPath,
			&run.StartedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		if pid.Valid {
			p := int(pid.Int64)
			run.PID = &p
		}
		if castPath.Valid {
			run.CastPath = castPath.String
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Delete removes a run record.
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
