package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/user-service/internal/domain"
)

const (
	userIDPrefix      = "ARYA"
	userIDHashLength  = 6
	maxUserIDAttempts = 5
)

// IDChecker reports whether a user id is already in use.
type IDChecker interface {
	UserIDExists(ctx context.Context, userID string) (bool, error)
}

// UserIDGenerator derives short user ids from the name and the registration time.
type UserIDGenerator struct {
	checker IDChecker
	now     func() time.Time
}

// NewUserIDGenerator creates a generator backed by checker.
func NewUserIDGenerator(checker IDChecker) *UserIDGenerator {
	return &UserIDGenerator{checker: checker, now: time.Now}
}

// DeriveUserID is "ARYA" followed by the first six upper-cased hex digits of sha256(first+last+millis).
func DeriveUserID(firstName, lastName string, millis int64) string {
	sum := sha256.Sum256([]byte(firstName + lastName + strconv.FormatInt(millis, 10)))
	return userIDPrefix + strings.ToUpper(hex.EncodeToString(sum[:])[:userIDHashLength])
}

// Next returns an id that is not taken yet. The six-digit space is small, so taken ids are
// retried with a later timestamp a bounded number of times.
func (g *UserIDGenerator) Next(ctx context.Context, firstName, lastName string) (string, error) {
	millis := g.now().UnixMilli()
	for attempt := 0; attempt < maxUserIDAttempts; attempt++ {
		id := DeriveUserID(firstName, lastName, millis+int64(attempt))
		taken, err := g.checker.UserIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check user id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", domain.ErrUserIDExhausted
}
