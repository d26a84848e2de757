package security

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/transfa/user-service/internal/domain"
)

// plainHasher keeps tests fast and makes stored answers readable.
func plainHasher(answer string) (string, error) {
	return "h:" + domain.NormalizeAnswer(answer), nil
}

func TestMergeQuestionsReplacesAndAppends(t *testing.T) {
	first, err := MergeQuestions(nil, []domain.QuestionAnswer{{Question: "pet", Answer: "Rex"}}, plainHasher)
	if err != nil {
		t.Fatalf("MergeQuestions() error = %v", err)
	}

	merged, err := MergeQuestions(first, []domain.QuestionAnswer{
		{Question: "pet", Answer: "Max"},
		{Question: "city", Answer: "Pune"},
	}, plainHasher)
	if err != nil {
		t.Fatalf("MergeQuestions() error = %v", err)
	}

	if len(merged) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(merged))
	}
	if merged[0].Question != "pet" || merged[0].AnswerHash != "h:max" {
		t.Fatalf("expected pet=max first, got %+v", merged[0])
	}
	if merged[1].Question != "city" || merged[1].AnswerHash != "h:pune" {
		t.Fatalf("expected city=pune second, got %+v", merged[1])
	}
	if first[0].AnswerHash != "h:rex" {
		t.Fatalf("existing slice was mutated: %+v", first[0])
	}
}

func TestMergeQuestionsDuplicateInBatchLastWins(t *testing.T) {
	merged, err := MergeQuestions(nil, []domain.QuestionAnswer{
		{Question: "pet", Answer: "Rex"},
		{Question: "pet ", Answer: "Max"},
	}, plainHasher)
	if err != nil {
		t.Fatalf("MergeQuestions() error = %v", err)
	}
	if len(merged) != 1 || merged[0].AnswerHash != "h:max" {
		t.Fatalf("expected single pet=max, got %+v", merged)
	}
}

func TestMergeQuestionsRejectsBlank(t *testing.T) {
	tests := []struct {
		name  string
		input domain.QuestionAnswer
	}{
		{name: "blank_question", input: domain.QuestionAnswer{Question: " ", Answer: "x"}},
		{name: "blank_answer", input: domain.QuestionAnswer{Question: "pet", Answer: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeQuestions(nil, []domain.QuestionAnswer{tt.input}, plainHasher)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMergeQuestionsAnswerTooLong(t *testing.T) {
	_, err := MergeQuestions(nil, []domain.QuestionAnswer{
		{Question: "pet", Answer: strings.Repeat("a", 100)},
	}, BcryptHasher(bcrypt.MinCost))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "securityQuestions.answer" {
		t.Fatalf("expected answer field, got %q", verr.Field)
	}
}

func TestBcryptHasherNormalisesAnswer(t *testing.T) {
	hash, err := BcryptHasher(bcrypt.MinCost)("  Rex ")
	if err != nil {
		t.Fatalf("hash error = %v", err)
	}
	if strings.Contains(hash, "Rex") {
		t.Fatalf("answer stored in clear: %q", hash)
	}
	q := domain.SecurityQuestion{Question: "pet", AnswerHash: hash}
	if !q.Matches("rex") || !q.Matches("REX") {
		t.Fatal("expected normalised answers to match")
	}
	if q.Matches("max") {
		t.Fatal("unexpected match for wrong answer")
	}
}

func TestMinQuestions(t *testing.T) {
	two := []domain.SecurityQuestion{{Question: "a"}, {Question: "b"}}
	tests := []struct {
		name    string
		n       int
		details *domain.SecurityDetails
		want    bool
	}{
		{name: "nil_details", n: 1, details: nil, want: false},
		{name: "empty_set", n: 0, details: &domain.SecurityDetails{}, want: false},
		{name: "one_needed", n: 1, details: &domain.SecurityDetails{SecurityQuestions: two[:1]}, want: true},
		{name: "three_needed", n: 3, details: &domain.SecurityDetails{SecurityQuestions: two}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinQuestions(tt.n)(tt.details); got != tt.want {
				t.Fatalf("MinQuestions(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}
