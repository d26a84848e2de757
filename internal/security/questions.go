package security

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/transfa/user-service/internal/domain"
)

// AnswerHasher turns a plain answer into its stored form.
type AnswerHasher func(answer string) (string, error)

// BcryptHasher hashes normalised answers with bcrypt at the given cost.
func BcryptHasher(cost int) AnswerHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return func(answer string) (string, error) {
		hash, err := bcrypt.GenerateFromPassword([]byte(domain.NormalizeAnswer(answer)), cost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	}
}

// MergeQuestions folds incoming answers into existing questions.
// A known question gets its answer replaced in place, a new one is appended.
// Existing questions absent from incoming are kept and question text stays unique.
func MergeQuestions(existing []domain.SecurityQuestion, incoming []domain.QuestionAnswer, hash AnswerHasher) ([]domain.SecurityQuestion, error) {
	merged := make([]domain.SecurityQuestion, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, q := range merged {
		index[q.Question] = i
	}

	for _, qa := range incoming {
		question := strings.TrimSpace(qa.Question)
		if question == "" {
			return nil, &domain.ValidationError{Field: "securityQuestions.question", Reason: "must not be blank"}
		}
		if strings.TrimSpace(qa.Answer) == "" {
			return nil, &domain.ValidationError{Field: "securityQuestions.answer", Reason: "must not be blank"}
		}

		answerHash, err := hash(qa.Answer)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, &domain.ValidationError{Field: "securityQuestions.answer", Reason: fmt.Sprintf("must be at most %d bytes", domain.MaxAnswerBytes)}
		}
		if err != nil {
			return nil, fmt.Errorf("hash answer: %w", err)
		}

		if i, ok := index[question]; ok {
			merged[i].AnswerHash = answerHash
			continue
		}
		index[question] = len(merged)
		merged = append(merged, domain.SecurityQuestion{Question: question, AnswerHash: answerHash})
	}
	return merged, nil
}

// MinQuestions returns a completeness check that needs at least n security questions.
// n below one is treated as one, so an empty set is never complete.
func MinQuestions(n int) func(*domain.SecurityDetails) bool {
	if n < 1 {
		n = 1
	}
	return func(details *domain.SecurityDetails) bool {
		return details != nil && len(details.SecurityQuestions) >= n
	}
}
