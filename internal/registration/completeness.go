// Package registration tracks how far a user has progressed through sign-up.
package registration

import (
	"reflect"
	"strings"

	"github.com/transfa/user-service/internal/domain"
)

// Accessor reads one field of an entity.
type Accessor[T any] func(T) any

// FieldGroup is a set of fields that must all be populated for a level to count.
type FieldGroup[T any] struct {
	Name   string
	Fields []Accessor[T]
}

// Evaluator scores an entity against an ordered list of field groups.
type Evaluator[T any] struct {
	groups []FieldGroup[T]
}

// NewEvaluator creates an evaluator over groups, evaluated in the given order.
func NewEvaluator[T any](groups ...FieldGroup[T]) *Evaluator[T] {
	return &Evaluator[T]{groups: groups}
}

// Level returns the number of leading groups that are complete.
// Scanning stops at the first incomplete group, so later groups never earn credit on their own.
func (e *Evaluator[T]) Level(entity T) int {
	level := 0
	for _, group := range e.groups {
		if !group.Complete(entity) {
			break
		}
		level++
	}
	return level
}

// Groups returns the number of configured groups.
func (e *Evaluator[T]) Groups() int {
	return len(e.groups)
}

// Complete reports whether every field of the group is non-empty for entity.
func (g FieldGroup[T]) Complete(entity T) bool {
	for _, field := range g.Fields {
		if !IsNotEmpty(field(entity)) {
			return false
		}
	}
	return true
}

// IsNotEmpty reports whether v carries a value: non-nil, non-blank strings
// and non-empty collections. Pointers and interfaces are followed.
func IsNotEmpty(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String()) != ""
	case reflect.Slice, reflect.Map:
		return !rv.IsNil() && rv.Len() > 0
	case reflect.Array:
		return rv.Len() > 0
	case reflect.Chan, reflect.Func:
		return !rv.IsNil()
	default:
		return true
	}
}

// UserFieldGroups declares the profile levels of a user: basic details first, then addresses.
func UserFieldGroups() []FieldGroup[*domain.User] {
	return []FieldGroup[*domain.User]{
		{
			Name: "basic_details",
			Fields: []Accessor[*domain.User]{
				func(u *domain.User) any { return u.FirstName },
				func(u *domain.User) any { return u.LastName },
				func(u *domain.User) any { return u.PrimaryContactNumber },
				func(u *domain.User) any { return u.EmailID },
			},
		},
		{
			Name: "address",
			Fields: []Accessor[*domain.User]{
				func(u *domain.User) any { return u.Addresses },
			},
		},
	}
}
