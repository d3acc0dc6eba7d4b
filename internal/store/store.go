package store

import (
	"context"
	"errors"
	"time"

	"market-signal-engine-go/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// AlertStore persists the scanner's alert set.
type AlertStore interface {
	LoadAlerts(ctx context.Context) ([]models.AutoAlert, error)
	SaveAlerts(ctx context.Context, alerts []models.AutoAlert) error
}

// CooldownStore persists the per-asset-class last scan timestamps.
type CooldownStore interface {
	LoadCooldowns(ctx context.Context) (map[string]time.Time, error)
	SaveCooldowns(ctx context.Context, cooldowns map[string]time.Time) error
}

// CredentialStore persists provider credentials and their usage counters.
type CredentialStore interface {
	LoadProviderCredentials(ctx context.Context) ([]models.ProviderCredential, error)
	SaveProviderCredentials(ctx context.Context, creds []models.ProviderCredential) error
}

// ScanStore commits the outcome of one scan, alerts and cooldowns together.
type ScanStore interface {
	AlertStore
	CooldownStore
	SaveScan(ctx context.Context, alerts []models.AutoAlert, cooldowns map[string]time.Time) error
}

// Store is the full persistence contract.
type Store interface {
	ScanStore
	CredentialStore
}
