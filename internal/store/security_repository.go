package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/transfa/user-service/internal/domain"
)

// SecurityDetailsRepository stores the per-user security record.
type SecurityDetailsRepository interface {
	CreateSecurityDetails(ctx context.Context, details *domain.SecurityDetails) error
	FindSecurityDetails(ctx context.Context, userID string) (*domain.SecurityDetails, error)
	// UpdateSecurityQuestions replaces the question set if details.Version is still current.
	UpdateSecurityQuestions(ctx context.Context, details *domain.SecurityDetails) error
	// IncrementLoginFailures adds one failed login in a single atomic write and returns the new state.
	IncrementLoginFailures(ctx context.Context, userID string) (*domain.SecurityDetails, error)
}

// storedQuestion is the persisted shape of a security question; the domain type hides the hash from JSON.
type storedQuestion struct {
	Question   string `json:"question"`
	AnswerHash string `json:"answerHash"`
}

func encodeQuestions(questions []domain.SecurityQuestion) (string, error) {
	stored := make([]storedQuestion, 0, len(questions))
	for _, q := range questions {
		stored = append(stored, storedQuestion{Question: q.Question, AnswerHash: q.AnswerHash})
	}
	blob, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

func decodeQuestions(blob string) ([]domain.SecurityQuestion, error) {
	var stored []storedQuestion
	if err := json.Unmarshal([]byte(blob), &stored); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	questions := make([]domain.SecurityQuestion, 0, len(stored))
	for _, q := range stored {
		questions = append(questions, domain.SecurityQuestion{Question: q.Question, AnswerHash: q.AnswerHash})
	}
	return questions, nil
}

const securityColumns = `user_id, is_contact_number_verified, is_email_verified, two_factor_enabled,
	login_failed_attempts, security_questions::text, version, updated_at`

// CreateSecurityDetails inserts the initial security record of a user.
func (r *PostgresRepository) CreateSecurityDetails(ctx context.Context, details *domain.SecurityDetails) error {
	questions, err := encodeQuestions(details.SecurityQuestions)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO security_details (user_id, is_contact_number_verified, is_email_verified,
			two_factor_enabled, login_failed_attempts, security_questions, version)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, 1)
		RETURNING version, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		details.UserID,
		details.IsContactNumberVerified,
		details.IsEmailVerified,
		details.TwoFactorEnabled,
		details.LoginFailedAttempts,
		questions,
	).Scan(&details.Version, &details.UpdatedAt)
	if err != nil {
		if _, ok := asUniqueViolation(err); ok {
			return fmt.Errorf("create security details for %s: %w", details.UserID, domain.ErrConflict)
		}
		return fmt.Errorf("create security details for %s: %w", details.UserID, err)
	}
	return nil
}

// FindSecurityDetails loads the security record of a user.
func (r *PostgresRepository) FindSecurityDetails(ctx context.Context, userID string) (*domain.SecurityDetails, error) {
	query := `SELECT ` + securityColumns + ` FROM security_details WHERE user_id = $1`
	details, err := scanSecurityDetails(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSecurityDetailsNotFound
		}
		return nil, fmt.Errorf("find security details for %s: %w", userID, err)
	}
	return details, nil
}

// UpdateSecurityQuestions only touches the question set, so concurrent counter increments are never lost.
func (r *PostgresRepository) UpdateSecurityQuestions(ctx context.Context, details *domain.SecurityDetails) error {
	questions, err := encodeQuestions(details.SecurityQuestions)
	if err != nil {
		return err
	}
	query := `
		UPDATE security_details
		SET security_questions = $2::jsonb, version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $3
		RETURNING version, updated_at
	`
	err = r.db.QueryRow(ctx, query, details.UserID, questions, details.Version).Scan(&details.Version, &details.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update security questions for %s: %w", details.UserID, err)
	}
	if _, findErr := r.FindSecurityDetails(ctx, details.UserID); findErr != nil {
		return findErr
	}
	return fmt.Errorf("update security questions for %s: %w", details.UserID, domain.ErrStaleWrite)
}

// IncrementLoginFailures bumps the counter with a single UPDATE so parallel calls never lose an increment.
func (r *PostgresRepository) IncrementLoginFailures(ctx context.Context, userID string) (*domain.SecurityDetails, error) {
	query := `
		UPDATE security_details
		SET login_failed_attempts = login_failed_attempts + 1, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + securityColumns
	details, err := scanSecurityDetails(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSecurityDetailsNotFound
		}
		return nil, fmt.Errorf("increment login failures for %s: %w", userID, err)
	}
	return details, nil
}

func scanSecurityDetails(row pgx.Row) (*domain.SecurityDetails, error) {
	var (
		details   domain.SecurityDetails
		questions string
	)
	err := row.Scan(
		&details.UserID,
		&details.IsContactNumberVerified,
		&details.IsEmailVerified,
		&details.TwoFactorEnabled,
		&details.LoginFailedAttempts,
		&questions,
		&details.Version,
		&details.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	details.SecurityQuestions, err = decodeQuestions(questions)
	if err != nil {
		return nil, fmt.Errorf("decode security questions of %s: %w", details.UserID, err)
	}
	return &details, nil
}
