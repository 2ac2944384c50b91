package models

import "time"

// Membership represents the many-to-many relationship between actors and
// groups. Memberships synced from a provider carry the connection
// reference; manually created memberships leave it nil and are immune to
// the sync engine's stale deletion.
type Membership struct {
	// ActorID is the ID of the actor in this membership.
	ActorID uint64 `gorm:"primaryKey;column:actor_id"`
	// GroupID is the ID of the group in this membership.
	GroupID uint `gorm:"primaryKey;column:group_id"`
	// TenantID is the tenant this membership belongs to.
	TenantID uint `gorm:"not null;index"`
	// ConnectionID is the connection this membership was synced from, or
	// nil for manually created memberships.
	ConnectionID *uint `gorm:"index"`
	// Actor is the associated actor (loaded via foreign key).
	// When an actor is deleted, all their memberships are automatically removed (CASCADE).
	Actor Actor `gorm:"foreignKey:ActorID;constraint:OnDelete:CASCADE"`
	// Group is the associated group (loaded via foreign key).
	// When a group is deleted, all memberships in that group are automatically removed (CASCADE).
	Group Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	// SyncedAt is the watermark of the last run that touched this record.
	// Zero for manually created memberships.
	SyncedAt time.Time `gorm:"index"`
	// CreatedAt is the timestamp when the membership was created (managed by GORM).
	CreatedAt time.Time
}

// TableName specifies the database table name for the Membership model.
// This overrides GORM's default pluralized table naming.
func (Membership) TableName() string {
	return "memberships"
}
