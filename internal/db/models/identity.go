package models

import "time"

// ExternalIdentity represents a synced remote user, scoped to one tenant
// and one connection. Identities reference an actor but do not own it
// exclusively; the same actor may be backed by identities from several
// connections.
type ExternalIdentity struct {
	// ID is the unique identifier for the external identity.
	ID uint64 `gorm:"primaryKey"`
	// TenantID is the tenant this identity belongs to.
	TenantID uint `gorm:"not null;index"`
	// ConnectionID is the connection this identity was synced from.
	// Combined with ExternalID this forms a unique constraint.
	ConnectionID uint `gorm:"not null;uniqueIndex:idx_identity_conn_external"`
	// Connection is the associated connection (loaded via foreign key).
	Connection Connection `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE"`
	// ActorID is the internal actor backed by this identity.
	ActorID uint64 `gorm:"not null;index"`
	// Actor is the associated actor (loaded via foreign key).
	Actor Actor `gorm:"foreignKey:ActorID;constraint:OnDelete:CASCADE"`
	// ExternalID is the provider-side identifier of the remote user.
	ExternalID string `gorm:"size:255;not null;uniqueIndex:idx_identity_conn_external"`
	// Email is the remote user's email. When the provider reports no
	// email this falls back to its username-like field.
	Email string `gorm:"size:255;not null"`
	// DisplayName is the remote user's display name.
	DisplayName string `gorm:"size:255"`
	// SyncedAt is the watermark of the last run that touched this record.
	SyncedAt time.Time `gorm:"not null;index"`
	// CreatedAt is the timestamp when the identity was first synced (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the identity was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the ExternalIdentity model.
// This overrides GORM's default pluralized table naming.
func (ExternalIdentity) TableName() string {
	return "external_identities"
}
