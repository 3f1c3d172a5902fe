package domain

import "time"

// FlagOverride is one persisted enabled-state row of a local override snapshot.
type FlagOverride struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Namespace string    `gorm:"size:128;not null;uniqueIndex:idx_flag_override_ns_key" json:"namespace"`
	Key       string    `gorm:"size:128;not null;uniqueIndex:idx_flag_override_ns_key" json:"key"`
	Enabled   bool      `gorm:"not null;default:false" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
