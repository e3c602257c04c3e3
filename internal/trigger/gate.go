// Package trigger decides whether a subscription may fire again for a
// correlation key. A subscription fires at most once per cooldown window
// for each (subscription, correlation key, discriminator), even under
// concurrent callers, provided the Store is atomic.
package trigger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
)

// Key identifies one cooldown window.
type Key struct {
	SubscriptionID uuid.UUID
	CorrelationKey string
	Discriminator  string
}

// Store persists last trigger times. Attempt must be atomic per Key: of any
// set of concurrent calls that all observe an expired window, exactly one
// returns true.
type Store interface {
	// Attempt records now as the last trigger of key unless the previous
	// trigger is more recent than cooldown. It reports whether it recorded.
	Attempt(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error)
	DeleteBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
	// DeleteByProject removes triggers whose correlation key belongs to
	// the project.
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
	List(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionTrigger, error)
}

// BlockChecker reports whether the resource behind a correlation key has
// been blocked by a user.
type BlockChecker interface {
	IsBlocked(ctx context.Context, kind domain.ResourceKind, correlationKey string) (bool, error)
}

// MetricsSink records trigger outcomes. Must be non-blocking.
type MetricsSink interface {
	TriggerAttempt(outcome string)
}

// Outcomes reported to MetricsSink.
const (
	OutcomeFired    = "fired"
	OutcomeCooldown = "cooldown"
	OutcomeBlocked  = "blocked"
	OutcomeError    = "error"
)

// Gate guards job creation with the block list and the cooldown store.
type Gate struct {
	store   Store
	blocks  BlockChecker
	logger  *zap.Logger
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a Gate. blocks may be nil when nothing can be blocked.
func New(store Store, blocks BlockChecker, logger *zap.Logger) *Gate {
	return &Gate{
		store:  store,
		blocks: blocks,
		logger: logger.Named("trigger"),
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the gate.
func (g *Gate) WithMetrics(sink MetricsSink) *Gate {
	g.metrics = sink
	return g
}

// WithClock replaces the time source.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// AttemptTrigger reports whether subscriptionID may fire for correlationKey
// now, and if so records the trigger. Blocked resources never fire and
// leave no trace. A cooldown of zero always fires.
func (g *Gate) AttemptTrigger(ctx context.Context, subscriptionID uuid.UUID, correlationKey string, cooldownSeconds int, discriminator string) (bool, error) {
	if g.blocks != nil {
		if kind := correlation.InventoryKindOf(correlationKey); kind != domain.ResourceNone {
			blocked, err := g.blocks.IsBlocked(ctx, kind, correlationKey)
			if err != nil {
				g.record(OutcomeError)
				return false, errors.Wrap(err, "check blocked")
			}
			if blocked {
				g.logger.Debug("resource blocked, not triggering",
					zap.String("subscription_id", subscriptionID.String()),
					zap.String("correlation_key", correlationKey))
				g.record(OutcomeBlocked)
				return false, nil
			}
		}
	}

	if cooldownSeconds < 0 {
		cooldownSeconds = 0
	}
	key := Key{SubscriptionID: subscriptionID, CorrelationKey: correlationKey, Discriminator: discriminator}
	fired, err := g.store.Attempt(ctx, key, g.clock(), time.Duration(cooldownSeconds)*time.Second)
	if err != nil {
		g.record(OutcomeError)
		return false, errors.Wrap(err, "attempt trigger")
	}
	if fired {
		g.record(OutcomeFired)
	} else {
		g.record(OutcomeCooldown)
	}
	return fired, nil
}

// DeleteAllForSubscription removes every trigger of a subscription.
func (g *Gate) DeleteAllForSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	n, err := g.store.DeleteBySubscription(ctx, subscriptionID)
	if err != nil {
		return errors.Wrapf(err, "delete triggers of subscription %s", subscriptionID)
	}
	g.logger.Info("deleted subscription triggers",
		zap.String("subscription_id", subscriptionID.String()), zap.Int64("count", n))
	return nil
}

// DeleteAllForProject removes every trigger whose correlation key belongs
// to projectID.
func (g *Gate) DeleteAllForProject(ctx context.Context, projectID string) error {
	n, err := g.store.DeleteByProject(ctx, projectID)
	if err != nil {
		return errors.Wrapf(err, "delete triggers of project %s", projectID)
	}
	g.logger.Info("deleted project triggers", zap.String("project_id", projectID), zap.Int64("count", n))
	return nil
}

// List returns the triggers recorded for a subscription.
func (g *Gate) List(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionTrigger, error) {
	return g.store.List(ctx, subscriptionID)
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.TriggerAttempt(outcome)
	}
}

// BelongsToProject reports whether correlationKey is scoped to projectID.
// Stores without prefix queries use it for DeleteByProject.
func BelongsToProject(correlationKey, projectID string) bool {
	prefix := correlation.ProjectPrefix(projectID)
	rest, ok := strings.CutPrefix(correlationKey, prefix)
	return ok && (rest == "" || rest[0] == ';')
}
