package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/transfa/user-service/internal/domain"
)

// ProgressRepository is the append-only registration ledger.
type ProgressRepository interface {
	HasProgressStatus(ctx context.Context, userID, status string) (bool, error)
	InsertProgressIfAbsent(ctx context.Context, progress *domain.RegistrationProgress) (bool, error)
	LatestProgress(ctx context.Context, userID string) (*domain.RegistrationProgress, error)
	ListProgress(ctx context.Context, userID string) ([]domain.RegistrationProgress, error)
}

// HasProgressStatus reports whether any ledger entry of the user carries status.
func (r *PostgresRepository) HasProgressStatus(ctx context.Context, userID, status string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM registration_progress WHERE user_id = $1 AND status = $2)`,
		userID, status,
	).Scan(&exists)
	return exists, err
}

// InsertProgressIfAbsent relies on the (user_id, sub_status) primary key to keep one record per step.
func (r *PostgresRepository) InsertProgressIfAbsent(ctx context.Context, progress *domain.RegistrationProgress) (bool, error) {
	query := `
		INSERT INTO registration_progress (user_id, sub_status, status, last_step_completed, next_step)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (user_id, sub_status) DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		progress.UserID,
		progress.SubStatus,
		progress.Status,
		progress.LastStepCompleted,
		progress.NextStep,
	).Scan(&progress.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert registration progress %s/%s: %w", progress.UserID, progress.SubStatus, err)
	}
	return true, nil
}

// LatestProgress returns the newest ledger entry of the user, or nil.
func (r *PostgresRepository) LatestProgress(ctx context.Context, userID string) (*domain.RegistrationProgress, error) {
	rows, err := r.queryProgress(ctx, userID, `ORDER BY created_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListProgress returns the ledger of the user, oldest first.
func (r *PostgresRepository) ListProgress(ctx context.Context, userID string) ([]domain.RegistrationProgress, error) {
	return r.queryProgress(ctx, userID, `ORDER BY created_at ASC`)
}

func (r *PostgresRepository) queryProgress(ctx context.Context, userID, suffix string) ([]domain.RegistrationProgress, error) {
	query := `
		SELECT user_id, status, sub_status, last_step_completed, COALESCE(next_step, ''), created_at
		FROM registration_progress
		WHERE user_id = $1 ` + suffix
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query registration progress for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.RegistrationProgress
	for rows.Next() {
		var p domain.RegistrationProgress
		if err := rows.Scan(&p.UserID, &p.Status, &p.SubStatus, &p.LastStepCompleted, &p.NextStep, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
