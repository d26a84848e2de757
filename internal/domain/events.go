package domain

import "time"

// UserLifecycleEvent is broadcast whenever a user's registration step or status changes.
type UserLifecycleEvent struct {
	UserID            string    `json:"userId"`
	Status            string    `json:"status"`
	IsContactVerified bool      `json:"isContactVerified"`
	IsEmailVerified   bool      `json:"isEmailVerified"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// NewLifecycleEvent builds an event for userID. details may be nil when verification flags are unknown.
func NewLifecycleEvent(userID, status string, details *SecurityDetails) UserLifecycleEvent {
	event := UserLifecycleEvent{
		UserID:     userID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
	if details != nil {
		event.IsContactVerified = details.IsContactNumberVerified
		event.IsEmailVerified = details.IsEmailVerified
	}
	return event
}
