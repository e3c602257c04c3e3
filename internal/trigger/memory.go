package trigger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/findingsd/internal/domain"
)

// MemoryStore is a process-local Store. All operations hold one mutex, so
// Attempt is trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	triggers map[Key]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{triggers: make(map[Key]int64)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Attempt(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := now.UnixMilli()
	last, ok := s.triggers[key]
	if ok && nowMs-last < cooldown.Milliseconds() {
		return false, nil
	}
	s.triggers[key] = nowMs
	return true, nil
}

func (s *MemoryStore) DeleteBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.triggers {
		if k.SubscriptionID == subscriptionID {
			delete(s.triggers, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.triggers {
		if BelongsToProject(k.CorrelationKey, projectID) {
			delete(s.triggers, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) List(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SubscriptionTrigger
	for k, last := range s.triggers {
		if k.SubscriptionID != subscriptionID {
			continue
		}
		out = append(out, domain.SubscriptionTrigger{
			SubscriptionID: k.SubscriptionID,
			CorrelationKey: k.CorrelationKey,
			Discriminator:  k.Discriminator,
			LastTrigger:    last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CorrelationKey != out[j].CorrelationKey {
			return out[i].CorrelationKey < out[j].CorrelationKey
		}
		return out[i].Discriminator < out[j].Discriminator
	})
	return out, nil
}
