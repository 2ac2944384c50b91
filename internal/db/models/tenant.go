package models

import "time"

// Tenant represents one customer organization on the platform.
// Every actor, group, membership and provider connection is scoped to
// exactly one tenant.
type Tenant struct {
	// ID is the unique identifier for the tenant.
	ID uint `gorm:"primaryKey"`
	// Name is the display name of the tenant organization.
	Name string `gorm:"size:255;not null"`
	// Slug is the unique, URL-safe identifier of the tenant.
	Slug string `gorm:"unique;size:100;not null"`
	// CreatedAt is the timestamp when the tenant was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the tenant was last updated (managed by GORM).
	UpdatedAt time.Time
}
