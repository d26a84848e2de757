package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transfa/user-service/internal/domain"
)

// UserRepository defines the interface for user data storage.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	// UpdateUser replaces the stored user if its version still matches user.Version.
	UpdateUser(ctx context.Context, user *domain.User) error
	FindUserByID(ctx context.Context, userID string) (*domain.User, error)
	// FindUserByEmailOrContact returns nil when no user has the email or primary contact number.
	FindUserByEmailOrContact(ctx context.Context, email, contactNumber string) (*domain.User, error)
	UserIDExists(ctx context.Context, userID string) (bool, error)
}

// Repository groups every store the service depends on.
type Repository interface {
	UserRepository
	SecurityDetailsRepository
	ProgressRepository
	OutboxRepository
}

const (
	uniqueViolation = "23505"
	usersPrimaryKey = "users_pkey"
)

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `user_id, first_name, last_name, email_id, primary_contact_number,
	contact_numbers::text, addresses::text, status, role, version, created_at, updated_at`

// CreateUser inserts a new user record. A duplicate email or contact number yields ErrUserAlreadyExists,
// a taken user id yields ErrUserIDTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	contacts, addresses, err := marshalUserCollections(user)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (user_id, first_name, last_name, email_id, primary_contact_number,
			contact_numbers, addresses, status, role, version)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, 1)
		RETURNING version, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		user.UserID,
		user.FirstName,
		user.LastName,
		normalizeEmail(user.EmailID),
		user.PrimaryContactNumber,
		contacts,
		addresses,
		user.Status,
		user.Role,
	).Scan(&user.Version, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pgErr, ok := asUniqueViolation(err); ok {
			return createUserConflict(user.UserID, pgErr)
		}
		return fmt.Errorf("create user %s: %w", user.UserID, err)
	}
	return nil
}

// UpdateUser writes user back if nobody else changed it since it was read.
func (r *PostgresRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	contacts, addresses, err := marshalUserCollections(user)
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, email_id = $4, primary_contact_number = $5,
			contact_numbers = $6::jsonb, addresses = $7::jsonb, status = $8, role = $9,
			version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $10
		RETURNING version, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		user.UserID,
		user.FirstName,
		user.LastName,
		normalizeEmail(user.EmailID),
		user.PrimaryContactNumber,
		contacts,
		addresses,
		user.Status,
		user.Role,
		user.Version,
	).Scan(&user.Version, &user.UpdatedAt)
	if err == nil {
		return nil
	}
	if pgErr, ok := asUniqueViolation(err); ok {
		if strings.Contains(pgErr.ConstraintName, "contact") {
			return fmt.Errorf("update user %s: %w", user.UserID, domain.ErrContactNumberTaken)
		}
		return fmt.Errorf("update user %s: %w", user.UserID, domain.ErrUserAlreadyExists)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update user %s: %w", user.UserID, err)
	}

	exists, existsErr := r.UserIDExists(ctx, user.UserID)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return fmt.Errorf("update user %s: %w", user.UserID, domain.ErrStaleWrite)
}

// FindUserByID loads a user by id.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return user, nil
}

// FindUserByEmailOrContact looks a user up by either unique key.
func (r *PostgresRepository) FindUserByEmailOrContact(ctx context.Context, email, contactNumber string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email_id = $1 OR primary_contact_number = $2 LIMIT 1`
	user, err := scanUser(r.db.QueryRow(ctx, query, normalizeEmail(email), contactNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by email or contact: %w", err)
	}
	return user, nil
}

// UserIDExists reports whether userID is already taken.
func (r *PostgresRepository) UserIDExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists)
	return exists, err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user      domain.User
		contacts  string
		addresses string
		status    string
	)
	err := row.Scan(
		&user.UserID,
		&user.FirstName,
		&user.LastName,
		&user.EmailID,
		&user.PrimaryContactNumber,
		&contacts,
		&addresses,
		&status,
		&user.Role,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Status = domain.UserStatus(status)
	if err := json.Unmarshal([]byte(contacts), &user.ContactNumbers); err != nil {
		return nil, fmt.Errorf("decode contact numbers of %s: %w", user.UserID, err)
	}
	if err := json.Unmarshal([]byte(addresses), &user.Addresses); err != nil {
		return nil, fmt.Errorf("decode addresses of %s: %w", user.UserID, err)
	}
	return &user, nil
}

func marshalUserCollections(user *domain.User) (string, string, error) {
	contacts := user.ContactNumbers
	if contacts == nil {
		contacts = []domain.ContactNumber{}
	}
	addresses := user.Addresses
	if addresses == nil {
		addresses = []domain.Address{}
	}
	contactsBlob, err := json.Marshal(contacts)
	if err != nil {
		return "", "", err
	}
	addressesBlob, err := json.Marshal(addresses)
	if err != nil {
		return "", "", err
	}
	return string(contactsBlob), string(addressesBlob), nil
}

func asUniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr, true
	}
	return nil, false
}

// createUserConflict separates a taken primary key from a duplicate email or contact number.
func createUserConflict(userID string, pgErr *pgconn.PgError) error {
	if pgErr.ConstraintName == usersPrimaryKey {
		return fmt.Errorf("create user %s: %w", userID, domain.ErrUserIDTaken)
	}
	return fmt.Errorf("create user %s (%s): %w", userID, pgErr.ConstraintName, domain.ErrUserAlreadyExists)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
