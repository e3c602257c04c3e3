package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/trigger"
)

// Store implements trigger.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store. opTimeout bounds each statement; zero
// disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

var _ trigger.Store = (*Store)(nil)

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Attempt runs the conditional upsert. No returned row means the previous
// trigger is still inside the cooldown window.
func (s *Store) Attempt(ctx context.Context, key trigger.Key, now time.Time, cooldown time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var last int64
	err := s.db.QueryRowContext(ctx, queryAttemptTrigger,
		key.SubscriptionID,
		key.CorrelationKey,
		key.Discriminator,
		now.UnixMilli(),
		cooldown.Milliseconds(),
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "upsert trigger")
	}
	return true, nil
}

// DeleteBySubscription removes all triggers of a subscription.
func (s *Store) DeleteBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteTriggersBySubscription, subscriptionID)
	if err != nil {
		return 0, errors.Wrap(err, "delete triggers")
	}
	return res.RowsAffected()
}

// DeleteByProject removes triggers whose key is the project key or extends it.
func (s *Store) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	prefix := correlation.ProjectPrefix(projectID)
	res, err := s.db.ExecContext(ctx, queryDeleteTriggersByProject, prefix, escapeLike(prefix)+";%")
	if err != nil {
		return 0, errors.Wrap(err, "delete triggers")
	}
	return res.RowsAffected()
}

// List returns the triggers of a subscription ordered by key.
func (s *Store) List(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionTrigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTriggers, subscriptionID)
	if err != nil {
		return nil, errors.Wrap(err, "list triggers")
	}
	defer rows.Close()

	var result []domain.SubscriptionTrigger
	for rows.Next() {
		var t domain.SubscriptionTrigger
		if err := rows.Scan(&t.SubscriptionID, &t.CorrelationKey, &t.Discriminator, &t.LastTrigger); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PingContext reports database health.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
