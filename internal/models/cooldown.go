package models

import "time"

// ScanCooldown records the last completed scan of an asset class.
type ScanCooldown struct {
	AssetClass string    `gorm:"primaryKey"`
	LastScan   time.Time `gorm:"not null"`
}
