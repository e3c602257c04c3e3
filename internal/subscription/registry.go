package subscription

import (
	"sync"

	"github.com/google/uuid"

	"github.com/djlord-it/findingsd/internal/domain"
)

// Registry holds the active subscriptions. It is safe for concurrent use;
// Replace swaps the whole set atomically.
type Registry struct {
	mu   sync.RWMutex
	subs []domain.Subscription
}

func NewRegistry(subs ...domain.Subscription) *Registry {
	r := &Registry{}
	r.Replace(subs)
	return r
}

// Replace installs a new set of subscriptions.
func (r *Registry) Replace(subs []domain.Subscription) {
	cp := make([]domain.Subscription, len(subs))
	copy(cp, subs)
	r.mu.Lock()
	r.subs = cp
	r.mu.Unlock()
}

// EventSubscriptions lists the enabled event subscriptions of projectID
// listening to findingKey.
func (r *Registry) EventSubscriptions(projectID, findingKey string) []domain.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Subscription
	for _, s := range r.subs {
		if s.Type == domain.TriggerEvent && s.Enabled() && s.AppliesToProject(projectID) && s.MatchesFinding(findingKey) {
			out = append(out, s)
		}
	}
	return out
}

// CronSubscriptions lists the enabled cron subscriptions.
func (r *Registry) CronSubscriptions() []domain.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Subscription
	for _, s := range r.subs {
		if s.Type == domain.TriggerCron && s.Enabled() {
			out = append(out, s)
		}
	}
	return out
}

// All returns every subscription, disabled ones included.
func (r *Registry) All() []domain.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

// Get returns the subscription with the given id.
func (r *Registry) Get(id uuid.UUID) (domain.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.ID == id {
			return s, true
		}
	}
	return domain.Subscription{}, false
}

// Len is the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
