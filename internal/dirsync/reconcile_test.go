package dirsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(
		&models.Tenant{},
		&models.Actor{},
		&models.Connection{},
		&models.ExternalIdentity{},
		&models.Group{},
		&models.Membership{},
	)
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func seedConnection(t *testing.T, db *gorm.DB, provider models.Provider) *models.Connection {
	t.Helper()

	tenant := models.Tenant{Name: "Acme", Slug: "acme"}
	require.NoError(t, db.Create(&tenant).Error)

	conn := models.Connection{
		TenantID:      tenant.ID,
		Name:          "acme-" + string(provider),
		Provider:      provider,
		CredentialRef: "secrets/acme/" + string(provider),
	}
	require.NoError(t, db.Create(&conn).Error)

	return &conn
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)

	return count
}

func testSnapshot() *Snapshot {
	return &Snapshot{
		Groups: []RawGroup{
			{ExternalID: "g-eng", Name: "Engineering"},
			{ExternalID: "g-ops", Name: "Operations"},
		},
		Users: []RawUser{
			{ExternalID: "u-alice", Email: "alice@acme.test", DisplayName: "Alice"},
			{ExternalID: "u-bob", Email: "bob@acme.test", DisplayName: "Bob"},
		},
		Members: map[string][]string{
			"g-eng": {"u-alice", "u-bob"},
			"g-ops": {"u-bob"},
		},
	}
}

func TestReconcilerApplyCreatesRecords(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)

	recon := NewReconciler(db)
	require.NoError(t, recon.Apply(context.Background(), conn, time.Now().UTC(), testSnapshot()))

	assert.EqualValues(t, 2, countRows(t, db, &models.Group{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.ExternalIdentity{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.Actor{}))
	assert.EqualValues(t, 3, countRows(t, db, &models.Membership{}))

	var ident models.ExternalIdentity
	require.NoError(t, db.Where("external_id = ?", "u-alice").First(&ident).Error)
	assert.Equal(t, "alice@acme.test", ident.Email)
	assert.Equal(t, conn.ID, ident.ConnectionID)

	var actor models.Actor
	require.NoError(t, db.First(&actor, ident.ActorID).Error)
	assert.Equal(t, "alice@acme.test", actor.Email)
	assert.Equal(t, conn.TenantID, actor.TenantID)
}

func TestReconcilerApplyIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)

	recon := NewReconciler(db)

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, recon.Apply(context.Background(), conn, first, testSnapshot()))

	var actorBefore models.ExternalIdentity
	require.NoError(t, db.Where("external_id = ?", "u-alice").First(&actorBefore).Error)

	second := time.Now().UTC()
	require.NoError(t, recon.Apply(context.Background(), conn, second, testSnapshot()))

	assert.EqualValues(t, 2, countRows(t, db, &models.Group{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.ExternalIdentity{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.Actor{}))
	assert.EqualValues(t, 3, countRows(t, db, &models.Membership{}))

	// the actor survives re-syncs; no churn of internal identity
	var actorAfter models.ExternalIdentity
	require.NoError(t, db.Where("external_id = ?", "u-alice").First(&actorAfter).Error)
	assert.Equal(t, actorBefore.ActorID, actorAfter.ActorID)
}

func TestReconcilerDeletesStaleRecords(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderGoogle)

	recon := NewReconciler(db)

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, recon.Apply(context.Background(), conn, first, testSnapshot()))

	// Bob and Operations disappeared from the directory
	shrunk := &Snapshot{
		Groups:  []RawGroup{{ExternalID: "g-eng", Name: "Engineering"}},
		Users:   []RawUser{{ExternalID: "u-alice", Email: "alice@acme.test", DisplayName: "Alice"}},
		Members: map[string][]string{"g-eng": {"u-alice"}},
	}

	second := time.Now().UTC()
	require.NoError(t, recon.Apply(context.Background(), conn, second, shrunk))

	assert.EqualValues(t, 1, countRows(t, db, &models.Group{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.ExternalIdentity{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Membership{}))

	// Bob's last identity is gone, so his actor is garbage collected
	assert.EqualValues(t, 1, countRows(t, db, &models.Actor{}))

	var remaining models.ExternalIdentity
	require.NoError(t, db.First(&remaining).Error)
	assert.Equal(t, "u-alice", remaining.ExternalID)
}

func TestReconcilerKeepsActorWithRemainingIdentity(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)

	other := models.Connection{
		TenantID:      conn.TenantID,
		Name:          "acme-google",
		Provider:      models.ProviderGoogle,
		CredentialRef: "secrets/acme/google",
	}
	require.NoError(t, db.Create(&other).Error)

	recon := NewReconciler(db)

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, recon.Apply(context.Background(), conn, first, testSnapshot()))

	// back the same actor with an identity from the second connection
	var aliceIdent models.ExternalIdentity
	require.NoError(t, db.Where("external_id = ?", "u-alice").First(&aliceIdent).Error)

	secondIdent := models.ExternalIdentity{
		TenantID:     other.TenantID,
		ConnectionID: other.ID,
		ActorID:      aliceIdent.ActorID,
		ExternalID:   "google-alice",
		Email:        "alice@acme.test",
		SyncedAt:     first,
	}
	require.NoError(t, db.Create(&secondIdent).Error)

	// Alice disappears from the first connection's directory
	shrunk := &Snapshot{
		Groups:  []RawGroup{{ExternalID: "g-eng", Name: "Engineering"}},
		Users:   []RawUser{{ExternalID: "u-bob", Email: "bob@acme.test", DisplayName: "Bob"}},
		Members: map[string][]string{"g-eng": {"u-bob"}},
	}

	second := time.Now().UTC()
	require.NoError(t, recon.Apply(context.Background(), conn, second, shrunk))

	var count int64
	require.NoError(t, db.Model(&models.Actor{}).Where("id = ?", aliceIdent.ActorID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "an actor with a remaining identity must not be deleted")

	// the stale identity itself is gone
	require.NoError(t, db.Model(&models.ExternalIdentity{}).
		Where("external_id = ?", "u-alice").Count(&count).Error)
	assert.Zero(t, count)
}

func TestReconcilerIgnoresManualAndForeignRecords(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderJumpCloud)

	other := models.Connection{
		TenantID:      conn.TenantID,
		Name:          "acme-ldap",
		Provider:      models.ProviderLDAP,
		CredentialRef: "secrets/acme/ldap",
	}
	require.NoError(t, db.Create(&other).Error)

	manualGroup := models.Group{TenantID: conn.TenantID, Name: "Manual VIPs"}
	require.NoError(t, db.Create(&manualGroup).Error)

	otherID := other.ID
	foreignGroup := models.Group{
		TenantID:     other.TenantID,
		ConnectionID: &otherID,
		ExternalID:   "ldap-g1",
		Name:         "LDAP Group",
		SyncedAt:     time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&foreignGroup).Error)

	recon := NewReconciler(db)
	require.NoError(t, recon.Apply(context.Background(), conn, time.Now().UTC(), testSnapshot()))

	var count int64
	require.NoError(t, db.Model(&models.Group{}).Where("connection_id IS NULL").Count(&count).Error)
	assert.EqualValues(t, 1, count, "manually managed groups are immune to stale deletion")

	require.NoError(t, db.Model(&models.Group{}).Where("connection_id = ?", other.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "records of other connections are out of scope")
}

func TestReconcilerManualMembershipSurvivesActorResync(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)

	recon := NewReconciler(db)

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, recon.Apply(context.Background(), conn, first, testSnapshot()))

	// administrator adds Alice to a manually managed group
	manualGroup := models.Group{TenantID: conn.TenantID, Name: "Manual VIPs"}
	require.NoError(t, db.Create(&manualGroup).Error)

	var aliceIdent models.ExternalIdentity
	require.NoError(t, db.Where("external_id = ?", "u-alice").First(&aliceIdent).Error)

	manualMembership := models.Membership{
		ActorID:  aliceIdent.ActorID,
		GroupID:  manualGroup.ID,
		TenantID: conn.TenantID,
	}
	require.NoError(t, db.Create(&manualMembership).Error)

	second := time.Now().UTC()
	require.NoError(t, recon.Apply(context.Background(), conn, second, testSnapshot()))

	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("group_id = ?", manualGroup.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "manual memberships are immune to stale deletion")
}

func TestReconcilerManualMembershipNotClaimedWhenProviderReportsSameEdge(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)

	recon := NewReconciler(db)

	// g-ops holds only Bob in the initial directory state
	first := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, recon.Apply(context.Background(), conn, first, testSnapshot()))

	// administrator manually grants Alice membership of the synced g-ops group
	var aliceIdent models.ExternalIdentity
	require.NoError(t, db.Where("external_id = ?", "u-alice").First(&aliceIdent).Error)

	var opsGroup models.Group
	require.NoError(t, db.Where("external_id = ?", "g-ops").First(&opsGroup).Error)

	manualMembership := models.Membership{
		ActorID:  aliceIdent.ActorID,
		GroupID:  opsGroup.ID,
		TenantID: conn.TenantID,
	}
	require.NoError(t, db.Create(&manualMembership).Error)

	// the provider now reports the same edge
	withEdge := testSnapshot()
	withEdge.Members["g-ops"] = []string{"u-bob", "u-alice"}

	second := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, recon.Apply(context.Background(), conn, second, withEdge))

	var stored models.Membership
	require.NoError(t, db.Where("actor_id = ? AND group_id = ?", aliceIdent.ActorID, opsGroup.ID).
		First(&stored).Error)
	assert.Nil(t, stored.ConnectionID, "the admin-granted edge must stay admin-owned")

	// the provider drops the edge again; the manual grant must survive
	third := time.Now().UTC()
	require.NoError(t, recon.Apply(context.Background(), conn, third, testSnapshot()))

	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("actor_id = ? AND group_id = ?", aliceIdent.ActorID, opsGroup.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "manual memberships are immune to stale deletion")
}
