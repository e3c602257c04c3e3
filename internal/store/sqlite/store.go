// Package sqlite is a single-node trigger store backed by an embedded
// SQLite database.
package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/trigger"
)

// triggerRow is the persisted form of a trigger.
type triggerRow struct {
	SubscriptionID string `gorm:"primaryKey;size:36"`
	CorrelationKey string `gorm:"primaryKey"`
	Discriminator  string `gorm:"primaryKey"`
	LastTrigger    int64  `gorm:"not null"`
}

func (triggerRow) TableName() string {
	return "subscription_triggers"
}

// Store implements trigger.Store with gorm.
type Store struct {
	db *gorm.DB
}

var _ trigger.Store = (*Store)(nil)

// Open opens or creates the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlitedriver.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}

	// A single connection keeps :memory: databases shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access connection pool")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&triggerRow{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Attempt inserts or conditionally advances the trigger in one statement.
// An upsert whose WHERE guard fails affects no rows.
func (s *Store) Attempt(ctx context.Context, key trigger.Key, now time.Time, cooldown time.Duration) (bool, error) {
	nowMs := now.UnixMilli()
	row := triggerRow{
		SubscriptionID: key.SubscriptionID.String(),
		CorrelationKey: key.CorrelationKey,
		Discriminator:  key.Discriminator,
		LastTrigger:    nowMs,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
			{Name: "correlation_key"},
			{Name: "discriminator"},
		},
		DoUpdates: clause.Assignments(map[string]any{"last_trigger": nowMs}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "subscription_triggers.last_trigger <= ?", Vars: []any{nowMs - cooldown.Milliseconds()}},
		}},
	}).Create(&row)
	if err := res.Error; err != nil {
		return false, errors.Wrap(err, "failed to upsert trigger")
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) DeleteBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID.String()).
		Delete(&triggerRow{})
	if err := res.Error; err != nil {
		return 0, errors.Wrap(err, "failed to delete triggers")
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	prefix := correlation.ProjectPrefix(projectID)
	res := s.db.WithContext(ctx).
		Where("correlation_key = ? OR substr(correlation_key, 1, ?) = ?", prefix, len(prefix)+1, prefix+";").
		Delete(&triggerRow{})
	if err := res.Error; err != nil {
		return 0, errors.Wrap(err, "failed to delete triggers")
	}
	return res.RowsAffected, nil
}

func (s *Store) List(ctx context.Context, subscriptionID uuid.UUID) ([]domain.SubscriptionTrigger, error) {
	var rows []triggerRow
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID.String()).
		Order("correlation_key, discriminator").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list triggers")
	}

	out := make([]domain.SubscriptionTrigger, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.SubscriptionID)
		if err != nil {
			return nil, errors.Wrapf(err, "trigger row with bad subscription id %q", r.SubscriptionID)
		}
		out = append(out, domain.SubscriptionTrigger{
			SubscriptionID: id,
			CorrelationKey: r.CorrelationKey,
			Discriminator:  r.Discriminator,
			LastTrigger:    r.LastTrigger,
		})
	}
	return out, nil
}
