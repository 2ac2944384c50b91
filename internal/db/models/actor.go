package models

import "time"

// Actor represents the tenant's internal user record.
// Actors are created on the first sighting of any external identity and
// may be backed by identities from multiple connections. An actor is
// deleted only when its last external identity across all connections is
// removed; the reconciliation engine owns that decision.
type Actor struct {
	// ID is the unique identifier for the actor.
	ID uint64 `gorm:"primaryKey"`
	// TenantID is the tenant this actor belongs to.
	TenantID uint `gorm:"not null;index"`
	// Tenant is the associated tenant (enforced with a foreign key constraint).
	Tenant Tenant `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	// Email is the actor's primary email address.
	Email string `gorm:"size:255;not null"`
	// DisplayName is the human readable name shown in policy listings.
	DisplayName string `gorm:"size:255"`
	// CreatedAt is the timestamp when the actor was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the actor was last updated (managed by GORM).
	UpdatedAt time.Time
}
