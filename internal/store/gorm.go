package store

import (
	"context"
	"fmt"
	"time"

	"market-signal-engine-go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of a gorm database. Every Save call
// runs in a single transaction so a failed write never leaves a half-updated set.
type GormStore struct {
	db *gorm.DB
}

// ensure GormStore implements the interface
var _ Store = (*GormStore)(nil)

// NewGormStore wraps an already migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAlerts(ctx context.Context) ([]models.AutoAlert, error) {
	var alerts []models.AutoAlert
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	return alerts, nil
}

// SaveAlerts upserts every alert. Alerts absent from the slice are left as
// they are; alerts are never deleted.
func (s *GormStore) SaveAlerts(ctx context.Context, alerts []models.AutoAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&alerts).Error; err != nil {
			return fmt.Errorf("failed to save alerts: %w", err)
		}
		return nil
	})
}

func (s *GormStore) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	var rows []models.ScanCooldown
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load cooldowns: %w", err)
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.AssetClass] = r.LastScan
	}
	return out, nil
}

func (s *GormStore) SaveCooldowns(ctx context.Context, cooldowns map[string]time.Time) error {
	if len(cooldowns) == 0 {
		return nil
	}
	rows := make([]models.ScanCooldown, 0, len(cooldowns))
	for class, ts := range cooldowns {
		rows = append(rows, models.ScanCooldown{AssetClass: class, LastScan: ts})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to save cooldowns: %w", err)
		}
		return nil
	})
}

func (s *GormStore) LoadProviderCredentials(ctx context.Context) ([]models.ProviderCredential, error) {
	var creds []models.ProviderCredential
	if err := s.db.WithContext(ctx).Order("provider_name asc, id asc").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to load provider credentials: %w", err)
	}
	return creds, nil
}

func (s *GormStore) SaveProviderCredentials(ctx context.Context, creds []models.ProviderCredential) error {
	if len(creds) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&creds).Error; err != nil {
			return fmt.Errorf("failed to save provider credentials: %w", err)
		}
		return nil
	})
}

// SaveScan commits an alert set and the cooldown map in one transaction.
func (s *GormStore) SaveScan(ctx context.Context, alerts []models.AutoAlert, cooldowns map[string]time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &GormStore{db: tx}
		if err := txStore.SaveAlerts(ctx, alerts); err != nil {
			return err
		}
		return txStore.SaveCooldowns(ctx, cooldowns)
	})
}

// FindAlert returns the alert with the given id.
func (s *GormStore) FindAlert(ctx context.Context, id string) (models.AutoAlert, error) {
	var alert models.AutoAlert
	err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&alert).Error
	if err != nil {
		return alert, fmt.Errorf("failed to find alert %s: %w", id, err)
	}
	if alert.ID == "" {
		return alert, ErrNotFound
	}
	return alert, nil
}
