package dirsync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/models"
)

// Snapshot is the validated result of a run's fetch phase.
type Snapshot struct {
	Groups []RawGroup
	Users  []RawUser
	// Members maps group external IDs to member user external IDs.
	Members map[string][]string
}

// Reconciler converges stored sync state with a provider snapshot:
// upsert everything under the run watermark, then delete records in the
// connection's scope the run did not refresh. Manually managed records
// carry no connection reference and are never touched.
type Reconciler struct {
	db *gorm.DB
}

// NewReconciler creates a Reconciler on the given database.
func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Apply commits one run's snapshot inside a single transaction. Groups
// are written first, then identities (and their actors), then
// memberships, so foreign references resolve. The destructive stale
// deletion only runs after the full snapshot has been written; any
// earlier error rolls the transaction back with zero deletions
// performed, preserving the last good snapshot.
func (r *Reconciler) Apply(ctx context.Context, conn *models.Connection, runStart time.Time, snap *Snapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groupIDs, err := upsertGroups(tx, conn, runStart, snap.Groups)
		if err != nil {
			return err
		}

		actorIDs, err := upsertIdentities(tx, conn, runStart, snap.Users)
		if err != nil {
			return err
		}

		if err := upsertMemberships(tx, conn, runStart, snap.Members, groupIDs, actorIDs); err != nil {
			return err
		}

		return deleteStale(tx, conn, runStart)
	})
}

// upsertGroups writes the run's groups and returns external ID to
// primary key mappings for membership resolution.
func upsertGroups(tx *gorm.DB, conn *models.Connection, runStart time.Time, groups []RawGroup) (map[string]uint, error) {
	ids := make(map[string]uint, len(groups))

	for _, g := range groups {
		var stored models.Group

		result := tx.Where("connection_id = ? AND external_id = ?", conn.ID, g.ExternalID).First(&stored)

		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			connID := conn.ID
			stored = models.Group{
				TenantID:     conn.TenantID,
				ConnectionID: &connID,
				ExternalID:   g.ExternalID,
				Name:         g.Name,
				SyncedAt:     runStart,
			}

			if err := tx.Create(&stored).Error; err != nil {
				return nil, err
			}
		case result.Error != nil:
			return nil, result.Error
		default:
			updates := map[string]interface{}{
				"name":      g.Name,
				"synced_at": runStart,
			}

			if err := tx.Model(&stored).Updates(updates).Error; err != nil {
				return nil, err
			}
		}

		ids[g.ExternalID] = stored.ID
	}

	recordsReconciled.WithLabelValues("group").Add(float64(len(groups)))

	return ids, nil
}

// upsertIdentities writes the run's identities, creating an actor on the
// first sighting of a new identity. Returns external ID to actor ID
// mappings for membership resolution.
func upsertIdentities(tx *gorm.DB, conn *models.Connection, runStart time.Time, users []RawUser) (map[string]uint64, error) {
	actorIDs := make(map[string]uint64, len(users))

	for _, u := range users {
		var stored models.ExternalIdentity

		result := tx.Where("connection_id = ? AND external_id = ?", conn.ID, u.ExternalID).First(&stored)

		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			// identities are never merged across connections; a fresh
			// identity always gets a fresh actor
			actor := models.Actor{
				TenantID:    conn.TenantID,
				Email:       u.EmailOrUsername(),
				DisplayName: u.DisplayName,
			}

			if err := tx.Create(&actor).Error; err != nil {
				return nil, err
			}

			stored = models.ExternalIdentity{
				TenantID:     conn.TenantID,
				ConnectionID: conn.ID,
				ActorID:      actor.ID,
				ExternalID:   u.ExternalID,
				Email:        u.EmailOrUsername(),
				DisplayName:  u.DisplayName,
				SyncedAt:     runStart,
			}

			if err := tx.Create(&stored).Error; err != nil {
				return nil, err
			}
		case result.Error != nil:
			return nil, result.Error
		default:
			updates := map[string]interface{}{
				"email":        u.EmailOrUsername(),
				"display_name": u.DisplayName,
				"synced_at":    runStart,
			}

			if err := tx.Model(&stored).Updates(updates).Error; err != nil {
				return nil, err
			}

			actorUpdates := map[string]interface{}{
				"email":        u.EmailOrUsername(),
				"display_name": u.DisplayName,
			}

			if err := tx.Model(&models.Actor{}).Where("id = ?", stored.ActorID).Updates(actorUpdates).Error; err != nil {
				return nil, err
			}
		}

		actorIDs[u.ExternalID] = stored.ActorID
	}

	recordsReconciled.WithLabelValues("identity").Add(float64(len(users)))

	return actorIDs, nil
}

// upsertMemberships writes the run's membership edges.
func upsertMemberships(
	tx *gorm.DB,
	conn *models.Connection,
	runStart time.Time,
	members map[string][]string,
	groupIDs map[string]uint,
	actorIDs map[string]uint64,
) error {
	count := 0

	for groupExternalID, userExternalIDs := range members {
		groupID, ok := groupIDs[groupExternalID]
		if !ok {
			continue
		}

		for _, userExternalID := range userExternalIDs {
			actorID, ok := actorIDs[userExternalID]
			if !ok {
				continue
			}

			var stored models.Membership

			result := tx.Where("actor_id = ? AND group_id = ?", actorID, groupID).First(&stored)

			switch {
			case errors.Is(result.Error, gorm.ErrRecordNotFound):
				connID := conn.ID
				stored = models.Membership{
					ActorID:      actorID,
					GroupID:      groupID,
					TenantID:     conn.TenantID,
					ConnectionID: &connID,
					SyncedAt:     runStart,
				}

				if err := tx.Create(&stored).Error; err != nil {
					return err
				}
			case result.Error != nil:
				return result.Error
			default:
				// an admin-granted edge the provider also reports stays
				// admin-owned; stamping it would hand it to stale deletion
				// once the provider stops reporting it
				if stored.ConnectionID == nil || *stored.ConnectionID != conn.ID {
					continue
				}

				if err := tx.Model(&models.Membership{}).
					Where("actor_id = ? AND group_id = ?", actorID, groupID).
					Update("synced_at", runStart).Error; err != nil {
					return err
				}
			}

			count++
		}
	}

	recordsReconciled.WithLabelValues("membership").Add(float64(count))

	return nil
}

// deleteStale removes every record in the connection's scope whose
// watermark predates the run start. Order matters: memberships first,
// then groups, then identities with actor garbage collection.
func deleteStale(tx *gorm.DB, conn *models.Connection, runStart time.Time) error {
	if err := tx.Where("connection_id = ? AND synced_at < ?", conn.ID, runStart).
		Delete(&models.Membership{}).Error; err != nil {
		return err
	}

	if err := tx.Where("connection_id = ? AND synced_at < ?", conn.ID, runStart).
		Delete(&models.Group{}).Error; err != nil {
		return err
	}

	var staleIdentities []models.ExternalIdentity
	if err := tx.Where("connection_id = ? AND synced_at < ?", conn.ID, runStart).
		Find(&staleIdentities).Error; err != nil {
		return err
	}

	if len(staleIdentities) == 0 {
		return nil
	}

	if err := tx.Where("connection_id = ? AND synced_at < ?", conn.ID, runStart).
		Delete(&models.ExternalIdentity{}).Error; err != nil {
		return err
	}

	// an actor is deleted only when its last identity across all
	// connections is gone
	seen := make(map[uint64]bool, len(staleIdentities))

	for _, ident := range staleIdentities {
		if seen[ident.ActorID] {
			continue
		}

		seen[ident.ActorID] = true

		var remaining int64
		if err := tx.Model(&models.ExternalIdentity{}).
			Where("actor_id = ?", ident.ActorID).
			Count(&remaining).Error; err != nil {
			return err
		}

		if remaining > 0 {
			continue
		}

		if err := tx.Where("actor_id = ?", ident.ActorID).Delete(&models.Membership{}).Error; err != nil {
			return err
		}

		if err := tx.Delete(&models.Actor{}, ident.ActorID).Error; err != nil {
			return err
		}
	}

	return nil
}
