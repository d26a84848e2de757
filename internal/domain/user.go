package domain

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// UserStatus is the lifecycle status of a user account.
type UserStatus string

const (
	StatusActive   UserStatus = "ACTIVE"
	StatusBlocked  UserStatus = "BLOCKED"
	StatusInactive UserStatus = "INACTIVE"
)

// ContactNumberType tags a contact number as the user's primary number or an extra one.
type ContactNumberType string

const (
	ContactPrimary ContactNumberType = "PRIMARY"
	ContactOthers  ContactNumberType = "OTHERS"
)

// AddressType identifies an address slot; a user holds at most one address per type.
type AddressType string

const (
	AddressHome           AddressType = "HOME"
	AddressWork           AddressType = "WORK"
	AddressPermanent      AddressType = "PERMANENT"
	AddressCorrespondence AddressType = "CORRESPONDENCE"
)

// DefaultRole is assigned to every self-registered user.
const DefaultRole = "CUSTOMER"

// ContactNumber is one phone number attached to a user.
type ContactNumber struct {
	ContactNumber string            `json:"contactNumber"`
	Type          ContactNumberType `json:"type"`
	IsVerified    bool              `json:"isVerified"`
}

// Address is a postal address attached to a user.
type Address struct {
	AddressType AddressType `json:"addressType" validate:"required,oneof=HOME WORK PERMANENT CORRESPONDENCE"`
	Line1       string      `json:"line1" validate:"required,max=200"`
	Line2       string      `json:"line2,omitempty" validate:"omitempty,max=200"`
	City        string      `json:"city" validate:"required,max=100"`
	State       string      `json:"state" validate:"required,max=100"`
	PostalCode  string      `json:"postalCode" validate:"required,max=20"`
	Country     string      `json:"country" validate:"required,max=100"`
}

// User represents the core user model in our system.
type User struct {
	UserID               string          `json:"userId"`
	FirstName            string          `json:"firstName"`
	LastName             string          `json:"lastName"`
	EmailID              string          `json:"emailId"`
	PrimaryContactNumber string          `json:"primaryContactNumber"`
	ContactNumbers       []ContactNumber `json:"contactNumbers"`
	Addresses            []Address       `json:"addresses,omitempty"`
	Status               UserStatus      `json:"status"`
	Role                 string          `json:"role"`
	Version              int64           `json:"-"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate it without touching a stored record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.ContactNumbers = append([]ContactNumber(nil), u.ContactNumbers...)
	c.Addresses = append([]Address(nil), u.Addresses...)
	return &c
}

// PrimaryContact returns the entry currently tagged PRIMARY.
func (u *User) PrimaryContact() (*ContactNumber, bool) {
	for i := range u.ContactNumbers {
		if u.ContactNumbers[i].Type == ContactPrimary {
			return &u.ContactNumbers[i], true
		}
	}
	return nil, false
}

// SecurityQuestion pairs a question with the bcrypt hash of its answer.
type SecurityQuestion struct {
	Question   string `json:"question"`
	AnswerHash string `json:"-"`
}

// Matches reports whether answer is the one recorded for this question.
func (q SecurityQuestion) Matches(answer string) bool {
	return bcrypt.CompareHashAndPassword([]byte(q.AnswerHash), []byte(NormalizeAnswer(answer))) == nil
}

// MaxAnswerBytes is the longest normalised answer bcrypt accepts.
const MaxAnswerBytes = 72

// NormalizeAnswer folds an answer so that casing and surrounding spaces do not matter.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// SecurityDetails holds verification flags, the failed-login counter and security questions of a user.
type SecurityDetails struct {
	UserID                  string             `json:"userId"`
	IsContactNumberVerified bool               `json:"isContactNumberVerified"`
	IsEmailVerified         bool               `json:"isEmailVerified"`
	TwoFactorEnabled        bool               `json:"twoFactorEnabled"`
	LoginFailedAttempts     int                `json:"loginFailedAttempts"`
	SecurityQuestions       []SecurityQuestion `json:"securityQuestions,omitempty"`
	Version                 int64              `json:"-"`
	UpdatedAt               time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy of the security details.
func (s *SecurityDetails) Clone() *SecurityDetails {
	if s == nil {
		return nil
	}
	c := *s
	c.SecurityQuestions = append([]SecurityQuestion(nil), s.SecurityQuestions...)
	return &c
}

// RegistrationProgress is one entry of the per-user registration ledger.
type RegistrationProgress struct {
	UserID            string    `json:"userId"`
	Status            string    `json:"status"`
	SubStatus         string    `json:"subStatus"`
	LastStepCompleted string    `json:"lastStepCompleted"`
	NextStep          string    `json:"nextStep,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
