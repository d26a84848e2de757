package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/user-service/internal/domain"
)

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	return repo
}

func testUser(id, email, contact string) *domain.User {
	return &domain.User{
		UserID:               id,
		FirstName:            "Alice",
		LastName:             "Smith",
		EmailID:              email,
		PrimaryContactNumber: contact,
		ContactNumbers:       []domain.ContactNumber{{ContactNumber: contact, Type: domain.ContactPrimary}},
		Status:               domain.StatusActive,
		Role:                 domain.DefaultRole,
	}
}

func TestMemoryCreateUserUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateUser(ctx, testUser("ARYA000001", "alice@x.com", "9876543210")))

	tests := []struct {
		name string
		user *domain.User
	}{
		{name: "same_id", user: testUser("ARYA000001", "bob@x.com", "9000000001")},
		{name: "same_email_other_case", user: testUser("ARYA000002", "ALICE@x.com", "9000000002")},
		{name: "same_contact", user: testUser("ARYA000003", "carol@x.com", "9876543210")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CreateUser(ctx, tt.user)
			if !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
		})
	}
}

func TestMemoryCreateUserIDTaken(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateUser(ctx, testUser("ARYA000001", "alice@x.com", "9876543210")))

	err := repo.CreateUser(ctx, testUser("ARYA000001", "bob@x.com", "9000000001"))
	require.ErrorIs(t, err, domain.ErrUserIDTaken)
	assert.NotErrorIs(t, err, domain.ErrUserAlreadyExists)

	err = repo.CreateUser(ctx, testUser("ARYA000001", "alice@x.com", "9000000001"))
	assert.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}

func TestMemoryFindUserByEmailOrContact(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateUser(ctx, testUser("ARYA000001", "alice@x.com", "9876543210")))

	byEmail, err := repo.FindUserByEmailOrContact(ctx, "Alice@X.com", "")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "ARYA000001", byEmail.UserID)

	byContact, err := repo.FindUserByEmailOrContact(ctx, "", "9876543210")
	require.NoError(t, err)
	require.NotNil(t, byContact)

	none, err := repo.FindUserByEmailOrContact(ctx, "nobody@x.com", "9000000000")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.FindUserByID(ctx, "ARYA999999")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestMemoryUpdateUserVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateUser(ctx, testUser("ARYA000001", "alice@x.com", "9876543210")))

	first, err := repo.FindUserByID(ctx, "ARYA000001")
	require.NoError(t, err)
	second, err := repo.FindUserByID(ctx, "ARYA000001")
	require.NoError(t, err)

	first.Status = domain.StatusBlocked
	require.NoError(t, repo.UpdateUser(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.FirstName = "Alicia"
	err = repo.UpdateUser(ctx, second)
	assert.ErrorIs(t, err, domain.ErrStaleWrite)

	stored, err := repo.FindUserByID(ctx, "ARYA000001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, stored.Status)
	assert.Equal(t, "Alice", stored.FirstName)
}

func TestMemoryUpdateUserContactTaken(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateUser(ctx, testUser("ARYA000001", "alice@x.com", "9876543210")))
	require.NoError(t, repo.CreateUser(ctx, testUser("ARYA000002", "bob@x.com", "9123456780")))

	bob, err := repo.FindUserByID(ctx, "ARYA000002")
	require.NoError(t, err)
	bob.PrimaryContactNumber = "9876543210"
	assert.ErrorIs(t, repo.UpdateUser(ctx, bob), domain.ErrContactNumberTaken)
}

func TestMemoryStoredUserIsIsolated(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := testUser("ARYA000001", "alice@x.com", "9876543210")
	require.NoError(t, repo.CreateUser(ctx, user))

	user.ContactNumbers[0].Type = domain.ContactOthers
	loaded, err := repo.FindUserByID(ctx, "ARYA000001")
	require.NoError(t, err)
	loaded.ContactNumbers = append(loaded.ContactNumbers, domain.ContactNumber{ContactNumber: "9000000000"})

	again, err := repo.FindUserByID(ctx, "ARYA000001")
	require.NoError(t, err)
	require.Len(t, again.ContactNumbers, 1)
	assert.Equal(t, domain.ContactPrimary, again.ContactNumbers[0].Type)
}

func TestMemoryIncrementLoginFailuresConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateSecurityDetails(ctx, &domain.SecurityDetails{UserID: "ARYA000001"}))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementLoginFailures(ctx, "ARYA000001"); err != nil {
				t.Errorf("IncrementLoginFailures() error = %v", err)
			}
		}()
	}
	wg.Wait()

	details, err := repo.FindSecurityDetails(ctx, "ARYA000001")
	require.NoError(t, err)
	assert.Equal(t, 25, details.LoginFailedAttempts)
	assert.Equal(t, int64(1), details.Version)

	_, err = repo.IncrementLoginFailures(ctx, "ARYA999999")
	assert.ErrorIs(t, err, domain.ErrSecurityDetailsNotFound)
}

func TestMemoryUpdateSecurityQuestionsKeepsCounter(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateSecurityDetails(ctx, &domain.SecurityDetails{UserID: "ARYA000001"}))

	details, err := repo.FindSecurityDetails(ctx, "ARYA000001")
	require.NoError(t, err)
	_, err = repo.IncrementLoginFailures(ctx, "ARYA000001")
	require.NoError(t, err)

	details.SecurityQuestions = []domain.SecurityQuestion{{Question: "pet", AnswerHash: "h"}}
	require.NoError(t, repo.UpdateSecurityQuestions(ctx, details))

	stored, err := repo.FindSecurityDetails(ctx, "ARYA000001")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginFailedAttempts)
	assert.Len(t, stored.SecurityQuestions, 1)

	details.Version = 1
	assert.ErrorIs(t, repo.UpdateSecurityQuestions(ctx, details), domain.ErrStaleWrite)
}

func TestMemoryProgressLedger(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	inserted, err := repo.InsertProgressIfAbsent(ctx, domain.StepBasicDetailsAdded.NewProgress("ARYA000001"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertProgressIfAbsent(ctx, domain.StepBasicDetailsAdded.NewProgress("ARYA000001"))
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = repo.InsertProgressIfAbsent(ctx, domain.StepAddAddress.NewProgress("ARYA000001"))
	require.NoError(t, err)

	records, err := repo.ListProgress(ctx, "ARYA000001")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "BASIC_DETAILS_ADDED", records[0].SubStatus)
	assert.False(t, records[0].CreatedAt.IsZero())

	latest, err := repo.LatestProgress(ctx, "ARYA000001")
	require.NoError(t, err)
	assert.Equal(t, "ADD_ADDRESS", latest.SubStatus)

	complete, err := repo.HasProgressStatus(ctx, "ARYA000001", domain.RegistrationComplete)
	require.NoError(t, err)
	assert.False(t, complete)

	none, err := repo.LatestProgress(ctx, "ARYA999999")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	event := domain.UserLifecycleEvent{UserID: "ARYA000001", Status: "BASIC_DETAILS_ADDED"}
	require.NoError(t, repo.EnqueueEvent(ctx, "user-lifecycle", "ARYA000001", event))

	claimed, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	msg := claimed[0]
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, "ARYA000001", msg.RoutingKey)

	var decoded domain.UserLifecycleEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, event.Status, decoded.Status)

	again, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed message must not be handed out twice")

	require.NoError(t, repo.MarkOutboxFailed(ctx, msg.ID, 300, "broker down"))
	status, ok := repo.OutboxStatus(msg.ID)
	require.True(t, ok)
	assert.Equal(t, outboxStatusPending, status)

	notDue, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	assert.Empty(t, notDue)

	require.NoError(t, repo.MarkOutboxPublished(ctx, msg.ID))
	status, _ = repo.OutboxStatus(msg.ID)
	assert.Equal(t, outboxStatusPublished, status)

	assert.ErrorIs(t, repo.MarkOutboxPublished(ctx, "missing"), domain.ErrNotFound)
}

func TestMemoryPurgePublishedOutbox(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.EnqueueEvent(ctx, "user-lifecycle", "ARYA000001", map[string]int{"n": i}))
	}
	claimed, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	require.NoError(t, repo.MarkOutboxPublished(ctx, claimed[0].ID))
	require.NoError(t, repo.MarkOutboxPublished(ctx, claimed[1].ID))
	require.NoError(t, repo.updateOutbox(claimed[0].ID, func(row *outboxRow) {
		row.PublishedAt = nowUTC().Add(-48 * time.Hour)
	}))

	n, err := repo.PurgePublishedOutbox(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := repo.OutboxStatus(claimed[0].ID)
	assert.False(t, ok)
	status, ok := repo.OutboxStatus(claimed[1].ID)
	assert.True(t, ok)
	assert.Equal(t, outboxStatusPublished, status)
	status, _ = repo.OutboxStatus(claimed[2].ID)
	assert.Equal(t, outboxStatusProcessing, status)
}
