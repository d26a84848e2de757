package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/user-service/internal/domain"
)

type idCheckerStub struct {
	taken map[string]bool
	err   error
	calls int
}

func (s *idCheckerStub) UserIDExists(_ context.Context, userID string) (bool, error) {
	s.calls++
	return s.taken[userID], s.err
}

func TestDeriveUserID(t *testing.T) {
	got := DeriveUserID("Alice", "Smith", 1700000000000)
	if !userIDPattern.MatchString(got) {
		t.Fatalf("DeriveUserID() = %q, want ARYA + 6 upper hex digits", got)
	}
	if again := DeriveUserID("Alice", "Smith", 1700000000000); again != got {
		t.Fatalf("DeriveUserID() not deterministic: %q vs %q", got, again)
	}
	if other := DeriveUserID("Alice", "Smith", 1700000000001); other == got {
		t.Fatalf("expected a different id for a different timestamp")
	}
}

func TestUserIDGeneratorRetriesCollisions(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	checker := &idCheckerStub{taken: map[string]bool{
		DeriveUserID("Alice", "Smith", fixed.UnixMilli()):   true,
		DeriveUserID("Alice", "Smith", fixed.UnixMilli()+1): true,
	}}
	gen := NewUserIDGenerator(checker)
	gen.now = func() time.Time { return fixed }

	id, err := gen.Next(context.Background(), "Alice", "Smith")
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := DeriveUserID("Alice", "Smith", fixed.UnixMilli()+2); id != want {
		t.Fatalf("Next() = %q, want %q", id, want)
	}
	if checker.calls != 3 {
		t.Fatalf("expected 3 lookups, got %d", checker.calls)
	}
}

func TestUserIDGeneratorExhausted(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	taken := map[string]bool{}
	for i := int64(0); i < maxUserIDAttempts; i++ {
		taken[DeriveUserID("Alice", "Smith", fixed.UnixMilli()+i)] = true
	}
	gen := NewUserIDGenerator(&idCheckerStub{taken: taken})
	gen.now = func() time.Time { return fixed }

	_, err := gen.Next(context.Background(), "Alice", "Smith")
	if !errors.Is(err, domain.ErrUserIDExhausted) || !errors.Is(err, domain.ErrDependency) {
		t.Fatalf("expected exhausted dependency error, got %v", err)
	}
}

func TestUserIDGeneratorLookupError(t *testing.T) {
	gen := NewUserIDGenerator(&idCheckerStub{err: errors.New("db down")})
	if _, err := gen.Next(context.Background(), "Alice", "Smith"); err == nil {
		t.Fatal("expected lookup error")
	}
}
