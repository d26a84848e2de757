package api

import (
	"errors"
	"strings"
	"testing"

	"github.com/transfa/user-service/internal/domain"
)

func TestIsStrongPassword(t *testing.T) {
	tests := []struct {
		password string
		want     bool
	}{
		{password: "Sup3r$ecretPassw0rd", want: true},
		{password: "Sh0rt$Pass", want: false},
		{password: "alllowercase$passw0rd", want: false},
		{password: "ALLUPPERCASE$PASSW0RD", want: false},
		{password: "NoDigitsHere$Password", want: false},
		{password: "NoSpecials1nThisPassword", want: false},
		{password: "Has Space$Passw0rdXX", want: false},
		{password: "Ünicode$Passw0rdXXXX", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			if got := isStrongPassword(tt.password); got != tt.want {
				t.Fatalf("isStrongPassword(%q) = %v, want %v", tt.password, got, tt.want)
			}
		})
	}
}

func TestValidateRegisterRequest(t *testing.T) {
	v := newValidator()
	valid := domain.RegisterRequest{
		FirstName:            "Alice",
		LastName:             "Smith",
		EmailID:              "alice@x.com",
		Password:             "Sup3r$ecretPassw0rd",
		PrimaryContactNumber: "9876543210",
	}

	tests := []struct {
		name      string
		mutate    func(*domain.RegisterRequest)
		wantField string
	}{
		{name: "valid", mutate: func(*domain.RegisterRequest) {}},
		{name: "digits_in_name", mutate: func(r *domain.RegisterRequest) { r.FirstName = "Al1ce" }, wantField: "firstName"},
		{name: "bad_email", mutate: func(r *domain.RegisterRequest) { r.EmailID = "alice" }, wantField: "emailId"},
		{name: "weak_password", mutate: func(r *domain.RegisterRequest) { r.Password = "password" }, wantField: "password"},
		{name: "contact_starts_low", mutate: func(r *domain.RegisterRequest) { r.PrimaryContactNumber = "1234567890" }, wantField: "primaryContactNumber"},
		{name: "contact_too_short", mutate: func(r *domain.RegisterRequest) { r.PrimaryContactNumber = "98765" }, wantField: "primaryContactNumber"},
		{name: "missing_last_name", mutate: func(r *domain.RegisterRequest) { r.LastName = "" }, wantField: "lastName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := validateRequest(v, req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("expected field %q, got %q", tt.wantField, verr.Field)
			}
		})
	}
}

func TestValidateUpdateRequestNested(t *testing.T) {
	v := newValidator()

	err := validateRequest(v, domain.UserUpdateRequest{
		UpdateAddress: &domain.AddressUpdate{Address: domain.Address{AddressType: "MOON", Line1: "x", City: "y", State: "z", PostalCode: "1", Country: "IN"}},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "updateAddressDto.address.addressType" {
		t.Fatalf("expected addressType error, got %v", err)
	}

	if err := validateRequest(v, domain.UserUpdateRequest{}); err != nil {
		t.Fatalf("empty update should validate, got %v", err)
	}
}

func TestValidateSecurityAnswerLength(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name      string
		answer    string
		wantError bool
	}{
		{name: "short", answer: "Rex"},
		{name: "limit_after_trim", answer: "  " + strings.Repeat("a", 72) + "  "},
		{name: "hundred_chars", answer: strings.Repeat("a", 100), wantError: true},
		{name: "multibyte_over_limit", answer: strings.Repeat("é", 40), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(v, domain.SecurityUpdateRequest{
				SecurityQuestions: []domain.QuestionAnswer{{Question: "pet", Answer: tt.answer}},
			})
			if !tt.wantError {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != "securityQuestions[0].answer" {
				t.Fatalf("expected answer field, got %q", verr.Field)
			}
		})
	}
}
