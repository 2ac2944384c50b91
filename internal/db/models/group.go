package models

import "time"

// Group represents a group used in access policies. Groups are either
// synced from an external provider (ConnectionID set) or manually managed
// by an administrator (ConnectionID nil). The sync engine never deletes
// groups lacking a connection reference.
type Group struct {
	// ID is the unique identifier for the group.
	ID uint `gorm:"primaryKey"`
	// TenantID is the tenant this group belongs to.
	TenantID uint `gorm:"not null;index"`
	// ConnectionID is the connection this group was synced from, or nil
	// for manually managed groups. Combined with ExternalID this forms a
	// unique constraint for synced groups.
	ConnectionID *uint `gorm:"uniqueIndex:idx_group_conn_external"`
	// Connection is the associated connection (loaded via foreign key).
	Connection *Connection `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE"`
	// ExternalID is the provider-side identifier of the remote group.
	// Empty for manually managed groups.
	ExternalID string `gorm:"size:255;uniqueIndex:idx_group_conn_external"`
	// Name is the display name of the group.
	Name string `gorm:"size:255;not null"`
	// SyncedAt is the watermark of the last run that touched this record.
	// Zero for manually managed groups.
	SyncedAt time.Time `gorm:"index"`
	// CreatedAt is the timestamp when the group was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the group was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the Group model.
// This overrides GORM's default pluralized table naming.
func (Group) TableName() string {
	return "groups"
}
