// Package app wires the registration tracker, the lockout policy and the stores into the
// user operations exposed over HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/domain"
	"github.com/transfa/user-service/internal/registration"
	"github.com/transfa/user-service/internal/security"
	"github.com/transfa/user-service/internal/store"
	"github.com/transfa/user-service/pkg/idpclient"
)

const defaultExternalCallTimeout = 5 * time.Second

// IdentityProvider creates login credentials for a newly registered user.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, account idpclient.Account) error
}

// PartialRegistrationHook is told about a registration that stopped after the user record was written.
type PartialRegistrationHook func(ctx context.Context, userID, stage string, err error)

// ServiceOptions carries the tunables of UserService.
type ServiceOptions struct {
	ExternalCallTimeout time.Duration
	AnswerHasher        security.AnswerHasher
	OnPartial           PartialRegistrationHook
}

// UserService implements the user, security and registration operations.
type UserService struct {
	repo          store.Repository
	idp           IdentityProvider
	tracker       *registration.Tracker
	lockout       *security.LockoutPolicy
	emitter       registration.EventEmitter
	ids           *UserIDGenerator
	hashAnswer    security.AnswerHasher
	userLocks     *security.KeyedMutex
	securityLocks *security.KeyedMutex
	callTimeout   time.Duration
	onPartial     PartialRegistrationHook
	logger        *zap.Logger
}

// NewUserService creates the service. securityLocks must be the table the lockout policy was built with.
func NewUserService(
	repo store.Repository,
	idp IdentityProvider,
	tracker *registration.Tracker,
	lockout *security.LockoutPolicy,
	emitter registration.EventEmitter,
	securityLocks *security.KeyedMutex,
	opts ServiceOptions,
	logger *zap.Logger,
) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if securityLocks == nil {
		securityLocks = security.NewKeyedMutex()
	}
	s := &UserService{
		repo:          repo,
		idp:           idp,
		tracker:       tracker,
		lockout:       lockout,
		emitter:       emitter,
		ids:           NewUserIDGenerator(repo),
		hashAnswer:    opts.AnswerHasher,
		userLocks:     security.NewKeyedMutex(),
		securityLocks: securityLocks,
		callTimeout:   opts.ExternalCallTimeout,
		onPartial:     opts.OnPartial,
		logger:        logger,
	}
	if s.callTimeout <= 0 {
		s.callTimeout = defaultExternalCallTimeout
	}
	if s.hashAnswer == nil {
		s.hashAnswer = security.BcryptHasher(0)
	}
	if s.onPartial == nil {
		s.onPartial = s.logPartialRegistration
	}
	return s
}

func (s *UserService) logPartialRegistration(_ context.Context, userID, stage string, err error) {
	s.logger.Error("registration left incomplete",
		zap.String("user_id", userID),
		zap.String("failed_stage", stage),
		zap.Error(err))
}

// Register opens a new profile and its identity-provider account.
func (s *UserService) Register(ctx context.Context, req domain.RegisterRequest) (*domain.UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.EmailID))
	contact := strings.TrimSpace(req.PrimaryContactNumber)

	existing, err := s.lookup(ctx, func(ctx context.Context) (*domain.User, error) {
		return s.repo.FindUserByEmailOrContact(ctx, email, contact)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrUserAlreadyExists
	}

	user := &domain.User{
		FirstName:            strings.TrimSpace(req.FirstName),
		LastName:             strings.TrimSpace(req.LastName),
		EmailID:              email,
		PrimaryContactNumber: contact,
		ContactNumbers: []domain.ContactNumber{
			{ContactNumber: contact, Type: domain.ContactPrimary},
		},
		Status: domain.StatusActive,
		Role:   domain.DefaultRole,
	}
	if err := s.createWithFreshID(ctx, user); err != nil {
		return nil, err
	}
	userID := user.UserID
	log := s.logger.With(zap.String("user_id", userID))
	log.Info("user created")

	account := idpclient.Account{
		Username:  userID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		EmailID:   email,
		Password:  req.Password,
	}
	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.idp.CreateAccount(ctx, account) }); err != nil {
		return nil, s.partial(ctx, userID, "identity_provider", err)
	}

	details := &domain.SecurityDetails{UserID: userID}
	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.repo.CreateSecurityDetails(ctx, details) }); err != nil {
		return nil, s.partial(ctx, userID, "security_details", err)
	}

	var progress *domain.RegistrationProgress
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var recordErr error
		progress, recordErr = s.tracker.Record(ctx, userID, domain.StepBasicDetailsAdded)
		return recordErr
	})
	if err != nil {
		return nil, s.partial(ctx, userID, "registration_progress", err)
	}
	if progress != nil {
		s.emitter.Emit(ctx, domain.NewLifecycleEvent(userID, progress.SubStatus, details))
	}

	log.Info("user registered")
	return &domain.UserResponse{
		UserID:       userID,
		Response:     "user created successfully",
		ResponseCode: domain.CodeUserCreated,
	}, nil
}

// createWithFreshID inserts user under a newly generated id. An id taken between the
// availability check and the insert is replaced, up to the generator's attempt limit.
func (s *UserService) createWithFreshID(ctx context.Context, user *domain.User) error {
	for attempt := 1; ; attempt++ {
		userID, err := s.ids.Next(ctx, user.FirstName, user.LastName)
		if err != nil {
			return err
		}
		user.UserID = userID
		err = s.withTimeout(ctx, func(ctx context.Context) error { return s.repo.CreateUser(ctx, user) })
		if !errors.Is(err, domain.ErrUserIDTaken) {
			return err
		}
		if attempt >= maxUserIDAttempts {
			return domain.ErrUserIDExhausted
		}
		s.logger.Warn("generated user id was taken concurrently, retrying", zap.String("user_id", userID))
	}
}

// partial reports a registration that stopped after the user record exists and returns the error for the caller.
func (s *UserService) partial(ctx context.Context, userID, stage string, err error) error {
	s.onPartial(ctx, userID, stage, err)
	if errors.Is(err, domain.ErrDependency) {
		return err
	}
	return &domain.DependencyError{Dependency: stage, Err: err}
}

// GetUserByID returns the user with userID.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	return s.lookup(ctx, func(ctx context.Context) (*domain.User, error) {
		return s.repo.FindUserByID(ctx, userID)
	})
}

// GetRegistrationProgress lists the registration ledger of a user, oldest first.
func (s *UserService) GetRegistrationProgress(ctx context.Context, userID string) ([]domain.RegistrationProgress, error) {
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	var progress []domain.RegistrationProgress
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var listErr error
		progress, listErr = s.repo.ListProgress(ctx, userID)
		return listErr
	})
	return progress, err
}

// UpdateUser applies a contact and/or address change, or blocks the user when req.LockUser is set.
func (s *UserService) UpdateUser(ctx context.Context, userID string, req domain.UserUpdateRequest) (*domain.UserResponse, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.LockUser {
		return s.blockUser(ctx, user)
	}

	if req.UpdateContact != nil {
		if err := s.applyContactChange(ctx, user, *req.UpdateContact); err != nil {
			return nil, err
		}
	}
	if req.UpdateAddress != nil {
		applyAddressChange(user, req.UpdateAddress.Address)
	}

	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.repo.UpdateUser(ctx, user) }); err != nil {
		return nil, err
	}
	s.logger.Info("user updated", zap.String("user_id", userID))

	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		_, advanceErr := s.tracker.AdvanceIfNeeded(ctx, user, nil)
		return advanceErr
	}); err != nil {
		return nil, err
	}

	return &domain.UserResponse{
		UserID:       userID,
		Response:     "user updated successfully",
		ResponseCode: domain.CodeUserUpdated,
	}, nil
}

// blockUser marks user BLOCKED. The status event is sent only on the transition.
func (s *UserService) blockUser(ctx context.Context, user *domain.User) (*domain.UserResponse, error) {
	if user.Status != domain.StatusBlocked {
		user.Status = domain.StatusBlocked
		if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.repo.UpdateUser(ctx, user) }); err != nil {
			return nil, err
		}
		s.logger.Warn("user blocked", zap.String("user_id", user.UserID))
		s.emitter.Emit(ctx, domain.NewLifecycleEvent(user.UserID, string(domain.StatusBlocked), nil))
	}

	return &domain.UserResponse{
		UserID:       user.UserID,
		Response:     "user blocked",
		ResponseCode: domain.CodeUserUpdated,
		DisableUser:  true,
	}, nil
}

func (s *UserService) applyContactChange(ctx context.Context, user *domain.User, change domain.ContactUpdate) error {
	number := strings.TrimSpace(change.ContactNumber)
	if number == "" {
		return &domain.ValidationError{Field: "updateContactDto.contactNumber", Reason: "must not be blank"}
	}

	if !change.IsPrimary {
		for _, c := range user.ContactNumbers {
			if c.ContactNumber == number {
				return nil
			}
		}
		user.ContactNumbers = append(user.ContactNumbers, domain.ContactNumber{ContactNumber: number, Type: domain.ContactOthers})
		return nil
	}

	if number == user.PrimaryContactNumber {
		return nil
	}
	owner, err := s.lookup(ctx, func(ctx context.Context) (*domain.User, error) {
		return s.repo.FindUserByEmailOrContact(ctx, "", number)
	})
	if err != nil {
		return err
	}
	if owner != nil && owner.UserID != user.UserID {
		return domain.ErrContactNumberTaken
	}

	found := false
	for i := range user.ContactNumbers {
		switch {
		case user.ContactNumbers[i].ContactNumber == number:
			user.ContactNumbers[i].Type = domain.ContactPrimary
			found = true
		case user.ContactNumbers[i].Type == domain.ContactPrimary:
			user.ContactNumbers[i].Type = domain.ContactOthers
		}
	}
	if !found {
		user.ContactNumbers = append(user.ContactNumbers, domain.ContactNumber{ContactNumber: number, Type: domain.ContactPrimary})
	}
	user.PrimaryContactNumber = number
	return nil
}

func applyAddressChange(user *domain.User, address domain.Address) {
	kept := user.Addresses[:0:0]
	for _, a := range user.Addresses {
		if a.AddressType != address.AddressType {
			kept = append(kept, a)
		}
	}
	user.Addresses = append(kept, address)
}

// UpdateSecurityCredentials either merges security questions or records a failed login.
func (s *UserService) UpdateSecurityCredentials(ctx context.Context, userID string, req domain.SecurityUpdateRequest) (*domain.UserResponse, error) {
	hasQuestions := len(req.SecurityQuestions) > 0
	switch {
	case hasQuestions && req.LoginFailed:
		return nil, &domain.ValidationError{Reason: "security questions and a failed login cannot be sent together"}
	case req.LoginFailed:
		return s.RecordLoginFailure(ctx, userID)
	case hasQuestions:
		return s.updateSecurityQuestions(ctx, userID, req.SecurityQuestions)
	}

	if _, err := s.findSecurityDetails(ctx, userID); err != nil {
		return nil, err
	}
	return &domain.UserResponse{
		UserID:       userID,
		Response:     "nothing to update",
		ResponseCode: domain.CodeSecurityDetailsUpdated,
	}, nil
}

func (s *UserService) updateSecurityQuestions(ctx context.Context, userID string, questions []domain.QuestionAnswer) (*domain.UserResponse, error) {
	unlock := s.securityLocks.Lock(userID)
	defer unlock()

	details, err := s.findSecurityDetails(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged, err := security.MergeQuestions(details.SecurityQuestions, questions, s.hashAnswer)
	if err != nil {
		return nil, err
	}
	details.SecurityQuestions = merged
	if err := s.withTimeout(ctx, func(ctx context.Context) error { return s.repo.UpdateSecurityQuestions(ctx, details) }); err != nil {
		return nil, err
	}
	s.logger.Info("security questions updated", zap.String("user_id", userID), zap.Int("questions", len(merged)))

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.withTimeout(ctx, func(ctx context.Context) error {
		_, advanceErr := s.tracker.AdvanceIfNeeded(ctx, user, details)
		return advanceErr
	}); err != nil {
		return nil, err
	}

	return &domain.UserResponse{
		UserID:       userID,
		Response:     "security details updated",
		ResponseCode: domain.CodeSecurityDetailsUpdated,
	}, nil
}

// RecordLoginFailure counts one failed login and blocks the user once the threshold is reached.
func (s *UserService) RecordLoginFailure(ctx context.Context, userID string) (*domain.UserResponse, error) {
	var (
		details *domain.SecurityDetails
		locked  bool
	)
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var recordErr error
		details, locked, recordErr = s.lockout.RecordFailedLogin(ctx, userID)
		return recordErr
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("failed login recorded",
		zap.String("user_id", userID),
		zap.Int("attempts", details.LoginFailedAttempts),
		zap.Bool("locked", locked))

	if locked {
		return s.UpdateUser(ctx, userID, domain.UserUpdateRequest{LockUser: true})
	}
	return &domain.UserResponse{
		UserID:       userID,
		Response:     fmt.Sprintf("failed login %d of %d", details.LoginFailedAttempts, s.lockout.Threshold()),
		ResponseCode: domain.CodeSecurityDetailsUpdated,
	}, nil
}

func (s *UserService) findSecurityDetails(ctx context.Context, userID string) (*domain.SecurityDetails, error) {
	var details *domain.SecurityDetails
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var findErr error
		details, findErr = s.repo.FindSecurityDetails(ctx, userID)
		return findErr
	})
	return details, err
}

func (s *UserService) lookup(ctx context.Context, find func(context.Context) (*domain.User, error)) (*domain.User, error) {
	var user *domain.User
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var findErr error
		user, findErr = find(ctx)
		return findErr
	})
	return user, err
}

func (s *UserService) withTimeout(ctx context.Context, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return call(ctx)
}
