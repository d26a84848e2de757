package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/transfa/user-service/internal/domain"
)

const (
	usersTable    = "users"
	securityTable = "security_details"
	progressTable = "registration_progress"
	outboxTable   = "event_outbox"

	idIndex      = "id"
	emailIndex   = "email"
	contactIndex = "contact"
	userIndex    = "user"
	statusIndex  = "status"
)

type progressRow struct {
	UserID    string
	SubStatus string
	Status    string
	Seq       uint64
	Progress  domain.RegistrationProgress
}

type outboxRow struct {
	ID                  string
	Exchange            string
	RoutingKey          string
	Payload             []byte
	Status              string
	Attempts            int
	Seq                 uint64
	NextAttemptAt       time.Time
	ProcessingStartedAt time.Time
	PublishedAt         time.Time
	LastError           string
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			usersTable: {
				Name: usersTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex:      {Name: idIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "UserID"}},
					emailIndex:   {Name: emailIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "EmailID", Lowercase: true}},
					contactIndex: {Name: contactIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "PrimaryContactNumber"}},
				},
			},
			securityTable: {
				Name: securityTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {Name: idIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "UserID"}},
				},
			},
			progressTable: {
				Name: progressTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:   idIndex,
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserID"},
							&memdb.StringFieldIndex{Field: "SubStatus"},
						}},
					},
					userIndex: {Name: userIndex, Indexer: &memdb.StringFieldIndex{Field: "UserID"}},
					statusIndex: {
						Name: statusIndex,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserID"},
							&memdb.StringFieldIndex{Field: "Status"},
						}},
					},
				},
			},
			outboxTable: {
				Name: outboxTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex:     {Name: idIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					statusIndex: {Name: statusIndex, Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
		},
	}
}

// MemoryRepository keeps every record in a go-memdb database. Write transactions are
// serialised by memdb, which gives the single-record atomicity the service relies on.
type MemoryRepository struct {
	db  *memdb.MemDB
	seq atomic.Uint64
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() (*MemoryRepository, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryRepository{db: db}, nil
}

func (m *MemoryRepository) CreateUser(_ context.Context, user *domain.User) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	// An id clash is reported only when email and contact are both free.
	for _, unique := range []struct{ index, value string }{
		{emailIndex, user.EmailID},
		{contactIndex, user.PrimaryContactNumber},
		{idIndex, user.UserID},
	} {
		existing, err := txn.First(usersTable, unique.index, unique.value)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		if unique.index == idIndex {
			return fmt.Errorf("create user %s: %w", user.UserID, domain.ErrUserIDTaken)
		}
		return fmt.Errorf("create user %s (%s): %w", user.UserID, unique.index, domain.ErrUserAlreadyExists)
	}

	now := nowUTC()
	stored := user.Clone()
	stored.EmailID = normalizeEmail(stored.EmailID)
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := txn.Insert(usersTable, stored); err != nil {
		return err
	}
	txn.Commit()

	user.Version, user.CreatedAt, user.UpdatedAt = stored.Version, stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (m *MemoryRepository) UpdateUser(_ context.Context, user *domain.User) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(usersTable, idIndex, user.UserID)
	if err != nil {
		return err
	}
	if raw == nil {
		return domain.ErrUserNotFound
	}
	current := raw.(*domain.User)
	if current.Version != user.Version {
		return fmt.Errorf("update user %s: %w", user.UserID, domain.ErrStaleWrite)
	}

	if other, err := txn.First(usersTable, contactIndex, user.PrimaryContactNumber); err != nil {
		return err
	} else if other != nil && other.(*domain.User).UserID != user.UserID {
		return fmt.Errorf("update user %s: %w", user.UserID, domain.ErrContactNumberTaken)
	}
	if other, err := txn.First(usersTable, emailIndex, user.EmailID); err != nil {
		return err
	} else if other != nil && other.(*domain.User).UserID != user.UserID {
		return fmt.Errorf("update user %s: %w", user.UserID, domain.ErrUserAlreadyExists)
	}

	stored := user.Clone()
	stored.EmailID = normalizeEmail(stored.EmailID)
	stored.Version = current.Version + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = nowUTC()
	if err := txn.Insert(usersTable, stored); err != nil {
		return err
	}
	txn.Commit()

	user.Version, user.UpdatedAt = stored.Version, stored.UpdatedAt
	return nil
}

func (m *MemoryRepository) FindUserByID(_ context.Context, userID string) (*domain.User, error) {
	raw, err := m.db.Txn(false).First(usersTable, idIndex, userID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, domain.ErrUserNotFound
	}
	return raw.(*domain.User).Clone(), nil
}

func (m *MemoryRepository) FindUserByEmailOrContact(_ context.Context, email, contactNumber string) (*domain.User, error) {
	txn := m.db.Txn(false)
	if raw, err := txn.First(usersTable, emailIndex, normalizeEmail(email)); err != nil {
		return nil, err
	} else if raw != nil {
		return raw.(*domain.User).Clone(), nil
	}
	raw, err := txn.First(usersTable, contactIndex, contactNumber)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*domain.User).Clone(), nil
}

func (m *MemoryRepository) UserIDExists(_ context.Context, userID string) (bool, error) {
	raw, err := m.db.Txn(false).First(usersTable, idIndex, userID)
	return raw != nil, err
}

func (m *MemoryRepository) CreateSecurityDetails(_ context.Context, details *domain.SecurityDetails) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(securityTable, idIndex, details.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("create security details for %s: %w", details.UserID, domain.ErrConflict)
	}

	stored := details.Clone()
	stored.Version = 1
	stored.UpdatedAt = nowUTC()
	if err := txn.Insert(securityTable, stored); err != nil {
		return err
	}
	txn.Commit()

	details.Version, details.UpdatedAt = stored.Version, stored.UpdatedAt
	return nil
}

func (m *MemoryRepository) FindSecurityDetails(_ context.Context, userID string) (*domain.SecurityDetails, error) {
	raw, err := m.db.Txn(false).First(securityTable, idIndex, userID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, domain.ErrSecurityDetailsNotFound
	}
	return raw.(*domain.SecurityDetails).Clone(), nil
}

func (m *MemoryRepository) UpdateSecurityQuestions(_ context.Context, details *domain.SecurityDetails) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(securityTable, idIndex, details.UserID)
	if err != nil {
		return err
	}
	if raw == nil {
		return domain.ErrSecurityDetailsNotFound
	}
	current := raw.(*domain.SecurityDetails)
	if current.Version != details.Version {
		return fmt.Errorf("update security questions for %s: %w", details.UserID, domain.ErrStaleWrite)
	}

	stored := current.Clone()
	stored.SecurityQuestions = append([]domain.SecurityQuestion(nil), details.SecurityQuestions...)
	stored.Version = current.Version + 1
	stored.UpdatedAt = nowUTC()
	if err := txn.Insert(securityTable, stored); err != nil {
		return err
	}
	txn.Commit()

	details.Version, details.UpdatedAt = stored.Version, stored.UpdatedAt
	return nil
}

func (m *MemoryRepository) IncrementLoginFailures(_ context.Context, userID string) (*domain.SecurityDetails, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(securityTable, idIndex, userID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, domain.ErrSecurityDetailsNotFound
	}

	stored := raw.(*domain.SecurityDetails).Clone()
	stored.LoginFailedAttempts++
	stored.UpdatedAt = nowUTC()
	if err := txn.Insert(securityTable, stored); err != nil {
		return nil, err
	}
	txn.Commit()
	return stored.Clone(), nil
}

func (m *MemoryRepository) HasProgressStatus(_ context.Context, userID, status string) (bool, error) {
	raw, err := m.db.Txn(false).First(progressTable, statusIndex, userID, status)
	return raw != nil, err
}

func (m *MemoryRepository) InsertProgressIfAbsent(_ context.Context, progress *domain.RegistrationProgress) (bool, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(progressTable, idIndex, progress.UserID, progress.SubStatus)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	progress.CreatedAt = nowUTC()
	row := &progressRow{
		UserID:    progress.UserID,
		SubStatus: progress.SubStatus,
		Status:    progress.Status,
		Seq:       m.seq.Add(1),
		Progress:  *progress,
	}
	if err := txn.Insert(progressTable, row); err != nil {
		return false, err
	}
	txn.Commit()
	return true, nil
}

func (m *MemoryRepository) LatestProgress(ctx context.Context, userID string) (*domain.RegistrationProgress, error) {
	all, err := m.ListProgress(ctx, userID)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return &all[len(all)-1], nil
}

func (m *MemoryRepository) ListProgress(_ context.Context, userID string) ([]domain.RegistrationProgress, error) {
	it, err := m.db.Txn(false).Get(progressTable, userIndex, userID)
	if err != nil {
		return nil, err
	}
	var rows []*progressRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*progressRow))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })

	out := make([]domain.RegistrationProgress, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Progress)
	}
	return out, nil
}

func (m *MemoryRepository) EnqueueEvent(_ context.Context, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	txn := m.db.Txn(true)
	defer txn.Abort()
	row := &outboxRow{
		ID:            uuid.NewString(),
		Exchange:      strings.TrimSpace(exchange),
		RoutingKey:    strings.TrimSpace(routingKey),
		Payload:       blob,
		Status:        outboxStatusPending,
		Seq:           m.seq.Add(1),
		NextAttemptAt: nowUTC(),
	}
	if err := txn.Insert(outboxTable, row); err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	txn.Commit()
	return nil
}

func (m *MemoryRepository) ClaimOutboxMessages(_ context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = defaultStaleAfter
	}
	now := nowUTC()
	staleBefore := now.Add(-time.Duration(staleAfterSeconds) * time.Second)

	txn := m.db.Txn(true)
	defer txn.Abort()

	var due []*outboxRow
	for _, status := range []string{outboxStatusPending, outboxStatusProcessing} {
		it, err := txn.Get(outboxTable, statusIndex, status)
		if err != nil {
			return nil, err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			row := obj.(*outboxRow)
			if (row.Status == outboxStatusPending && !row.NextAttemptAt.After(now)) ||
				(row.Status == outboxStatusProcessing && row.ProcessingStartedAt.Before(staleBefore)) {
				due = append(due, row)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Seq < due[j].Seq })
	if len(due) > limit {
		due = due[:limit]
	}

	messages := make([]OutboxMessage, 0, len(due))
	for _, row := range due {
		claimed := *row
		claimed.Status = outboxStatusProcessing
		claimed.ProcessingStartedAt = now
		claimed.Attempts++
		if err := txn.Insert(outboxTable, &claimed); err != nil {
			return nil, err
		}
		messages = append(messages, OutboxMessage{
			ID:         claimed.ID,
			Exchange:   claimed.Exchange,
			RoutingKey: claimed.RoutingKey,
			Payload:    claimed.Payload,
			Attempts:   claimed.Attempts,
		})
	}
	txn.Commit()
	return messages, nil
}

func (m *MemoryRepository) MarkOutboxPublished(_ context.Context, id string) error {
	return m.updateOutbox(id, func(row *outboxRow) {
		row.Status = outboxStatusPublished
		row.PublishedAt = nowUTC()
		row.ProcessingStartedAt = time.Time{}
		row.LastError = ""
	})
}

func (m *MemoryRepository) MarkOutboxFailed(_ context.Context, id string, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	return m.updateOutbox(id, func(row *outboxRow) {
		row.Status = outboxStatusPending
		row.NextAttemptAt = nowUTC().Add(time.Duration(retryAfterSeconds) * time.Second)
		row.ProcessingStartedAt = time.Time{}
		row.LastError = truncateReason(reason)
	})
}

func (m *MemoryRepository) PurgePublishedOutbox(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := nowUTC().Add(-olderThan)

	txn := m.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(outboxTable, statusIndex, outboxStatusPublished)
	if err != nil {
		return 0, err
	}
	var expired []*outboxRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if row := obj.(*outboxRow); row.PublishedAt.Before(cutoff) {
			expired = append(expired, row)
		}
	}
	for _, row := range expired {
		if err := txn.Delete(outboxTable, row); err != nil {
			return 0, err
		}
	}
	txn.Commit()
	return int64(len(expired)), nil
}

// OutboxStatus returns the delivery status of an outbox message; used by diagnostics and tests.
func (m *MemoryRepository) OutboxStatus(id string) (string, bool) {
	raw, err := m.db.Txn(false).First(outboxTable, idIndex, id)
	if err != nil || raw == nil {
		return "", false
	}
	return raw.(*outboxRow).Status, true
}

func (m *MemoryRepository) updateOutbox(id string, mutate func(*outboxRow)) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(outboxTable, idIndex, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("outbox message %s: %w", id, domain.ErrNotFound)
	}
	row := *raw.(*outboxRow)
	mutate(&row)
	if err := txn.Insert(outboxTable, &row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
