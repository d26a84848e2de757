package api

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/transfa/user-service/internal/domain"
)

const (
	minPasswordLength = 15
	passwordSpecials  = "@$!%*?&"
)

var contactPattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return isStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("contact", func(fl validator.FieldLevel) bool {
		return contactPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("answer", func(fl validator.FieldLevel) bool {
		return len(domain.NormalizeAnswer(fl.Field().String())) <= domain.MaxAnswerBytes
	})
	return v
}

// isStrongPassword needs at least 15 characters drawn from letters, digits and @$!%*?&,
// with at least one of each of upper, lower, digit and special.
func isStrongPassword(password string) bool {
	if len(password) < minPasswordLength {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return upper && lower && digit && special
}

// validateRequest checks req against its validate tags and reports the first failure.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Reason: err.Error()}
	}
	first := fieldErrs[0]
	return &domain.ValidationError{Field: trimNamespace(first.Namespace()), Reason: describeRule(first)}
}

func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "alpha":
		return "must contain letters only"
	case "email":
		return "must be a valid email address"
	case "password":
		return "must be at least 15 characters with upper, lower, digit and one of " + passwordSpecials
	case "contact":
		return "must be a 10 digit number starting with 6-9"
	case "answer":
		return "must be at most " + strconv.Itoa(domain.MaxAnswerBytes) + " bytes"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
