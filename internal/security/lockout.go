// Package security holds the failed-login lockout policy and security question handling.
package security

import (
	"context"
	"fmt"

	"github.com/transfa/user-service/internal/domain"
)

// DefaultLockoutThreshold is the number of failed logins that blocks an account.
const DefaultLockoutThreshold = 5

// FailureCounter atomically bumps the failed-login counter of a user.
// It returns domain.ErrSecurityDetailsNotFound when the user has no security record.
type FailureCounter interface {
	IncrementLoginFailures(ctx context.Context, userID string) (*domain.SecurityDetails, error)
}

// LockoutPolicy counts failed logins and decides when an account must be locked.
type LockoutPolicy struct {
	counter   FailureCounter
	threshold int
	locks     *KeyedMutex
}

// NewLockoutPolicy creates a policy with the given threshold. Non-positive thresholds use the default.
// locks may be shared with other writers of the same security records; nil gets a private table.
func NewLockoutPolicy(counter FailureCounter, threshold int, locks *KeyedMutex) *LockoutPolicy {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &LockoutPolicy{counter: counter, threshold: threshold, locks: locks}
}

// Threshold returns the failed-login count at which accounts are locked.
func (p *LockoutPolicy) Threshold() int {
	return p.threshold
}

// RecordFailedLogin adds one failed attempt for userID and reports whether the account must now be locked.
func (p *LockoutPolicy) RecordFailedLogin(ctx context.Context, userID string) (*domain.SecurityDetails, bool, error) {
	unlock := p.locks.Lock(userID)
	defer unlock()

	details, err := p.counter.IncrementLoginFailures(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("record failed login for %s: %w", userID, err)
	}
	return details, p.ShouldLock(details.LoginFailedAttempts), nil
}

// ShouldLock reports whether attempts reaches the threshold.
func (p *LockoutPolicy) ShouldLock(attempts int) bool {
	return attempts >= p.threshold
}
