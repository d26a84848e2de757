package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/user-service/internal/domain"
	"github.com/transfa/user-service/internal/store"
)

func TestLifecycleEmitter(t *testing.T) {
	event := domain.UserLifecycleEvent{UserID: "ARYA000001", Status: "BASIC_DETAILS_ADDED"}

	tests := []struct {
		name       string
		publisher  *publisherStub
		wantSent   int
		wantParked int
	}{
		{name: "published", publisher: &publisherStub{}, wantSent: 1, wantParked: 0},
		{name: "publish_fails", publisher: &publisherStub{err: errors.New("timeout")}, wantSent: 0, wantParked: 1},
		{name: "no_publisher", publisher: nil, wantSent: 0, wantParked: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo, err := store.NewMemoryRepository()
			require.NoError(t, err)

			emitter := NewLifecycleEmitter(nil, repo, "user-lifecycle", time.Second, nil)
			if tt.publisher != nil {
				emitter = NewLifecycleEmitter(tt.publisher, repo, "user-lifecycle", time.Second, nil)
			}

			emitter.Emit(ctx, event)

			if tt.publisher != nil {
				require.Len(t, tt.publisher.sent, tt.wantSent)
				if tt.wantSent > 0 {
					assert.Equal(t, "ARYA000001", tt.publisher.sent[0].routingKey)
				}
			}
			parked, err := repo.ClaimOutboxMessages(ctx, 10, 60)
			require.NoError(t, err)
			require.Len(t, parked, tt.wantParked)
			if tt.wantParked > 0 {
				assert.Equal(t, "ARYA000001", parked[0].RoutingKey)
				assert.Equal(t, "user-lifecycle", parked[0].Exchange)
			}
		})
	}
}

func TestLifecycleEmitterSurvivesCancelledRequest(t *testing.T) {
	repo, err := store.NewMemoryRepository()
	require.NoError(t, err)
	pub := &publisherStub{}
	emitter := NewLifecycleEmitter(pub, repo, "user-lifecycle", time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emitter.Emit(ctx, domain.UserLifecycleEvent{UserID: "ARYA000001", Status: "BLOCKED"})

	assert.Len(t, pub.sent, 1)
}
