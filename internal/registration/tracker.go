package registration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/domain"
)

// ProgressStore is the slice of storage the tracker needs.
type ProgressStore interface {
	HasProgressStatus(ctx context.Context, userID, status string) (bool, error)
	// InsertProgressIfAbsent stores p unless a record with the same user and sub-status exists.
	InsertProgressIfAbsent(ctx context.Context, p *domain.RegistrationProgress) (bool, error)
	// LatestProgress returns the most recent record of the user, or nil when there is none.
	LatestProgress(ctx context.Context, userID string) (*domain.RegistrationProgress, error)
}

// EventEmitter broadcasts lifecycle events. Emission never fails the caller.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.UserLifecycleEvent)
}

// SecurityCompleteness decides whether a user's security setup counts as a finished step.
type SecurityCompleteness func(details *domain.SecurityDetails) bool

// TrackerOptions tunes tracker behaviour.
type TrackerOptions struct {
	// EmitUnchanged also emits an event when an advance attempt records nothing new.
	EmitUnchanged bool
}

// Tracker moves a user's registration ledger forward as profile fields get filled in.
type Tracker struct {
	store     ProgressStore
	emitter   EventEmitter
	evaluator *Evaluator[*domain.User]
	security  SecurityCompleteness
	opts      TrackerOptions
	logger    *zap.Logger
}

// NewTracker wires a tracker. evaluator scores profile fields and security scores the question set.
func NewTracker(
	store ProgressStore,
	emitter EventEmitter,
	evaluator *Evaluator[*domain.User],
	security SecurityCompleteness,
	opts TrackerOptions,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		emitter:   emitter,
		evaluator: evaluator,
		security:  security,
		opts:      opts,
		logger:    logger,
	}
}

// AdvanceIfNeeded records the step matching the user's current completeness.
// securityDetails is non-nil only when the caller has just updated the security setup.
// It returns the newly written record, or nil when nothing changed.
func (t *Tracker) AdvanceIfNeeded(ctx context.Context, user *domain.User, securityDetails *domain.SecurityDetails) (*domain.RegistrationProgress, error) {
	complete, err := t.store.HasProgressStatus(ctx, user.UserID, domain.RegistrationComplete)
	if err != nil {
		return nil, fmt.Errorf("check final registration step: %w", err)
	}
	if complete {
		return nil, nil
	}

	level := t.evaluator.Level(user)
	if securityDetails != nil && t.security != nil && t.security(securityDetails) {
		level++
	}
	t.logger.Info("user registration level", zap.String("user_id", user.UserID), zap.Int("level", level))

	var created *domain.RegistrationProgress
	if step, ok := domain.StepForLevel(level); ok {
		created, err = t.Record(ctx, user.UserID, step)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case created != nil:
		t.emitter.Emit(ctx, domain.NewLifecycleEvent(user.UserID, created.SubStatus, securityDetails))
	case t.opts.EmitUnchanged:
		status := ""
		if latest, err := t.store.LatestProgress(ctx, user.UserID); err != nil {
			t.logger.Warn("could not load latest registration step", zap.String("user_id", user.UserID), zap.Error(err))
		} else if latest != nil {
			status = latest.SubStatus
		}
		t.emitter.Emit(ctx, domain.NewLifecycleEvent(user.UserID, status, securityDetails))
	}
	return created, nil
}

// Record writes step for userID unless it is already on the ledger.
// It returns the written record, or nil when the step had been recorded before.
func (t *Tracker) Record(ctx context.Context, userID string, step domain.RegistrationStep) (*domain.RegistrationProgress, error) {
	progress := step.NewProgress(userID)
	inserted, err := t.store.InsertProgressIfAbsent(ctx, progress)
	if err != nil {
		return nil, fmt.Errorf("record registration step %s: %w", step.SubStatus, err)
	}
	if !inserted {
		return nil, nil
	}
	t.logger.Info("registration step recorded",
		zap.String("user_id", userID),
		zap.String("sub_status", step.SubStatus),
		zap.String("status", step.Status))
	return progress, nil
}
