package dirsync

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/controller/connection"
	"github.com/GateWarden/GateWarden/internal/db/models"
)

// stubAdapter is a scriptable in-memory Adapter.
type stubAdapter struct {
	kind      models.Provider
	token     TokenSource
	assigned  map[string][]Principal
	groups    []RawGroup
	groupsErr error
	members   map[string][]RawUser
	resolve   map[string]RawUser
	closed    bool
}

func (s *stubAdapter) Kind() models.Provider { return s.kind }

func (s *stubAdapter) TokenSource() TokenSource {
	if s.token != nil {
		return s.token
	}

	return StaticTokenSource("test-token")
}

func (s *stubAdapter) ListAssignedPrincipals(_ context.Context, _, appID string) ([]Principal, error) {
	return s.assigned[appID], nil
}

func (s *stubAdapter) ListGroups(_ context.Context, _ string) ([]RawGroup, error) {
	if s.groupsErr != nil {
		return nil, s.groupsErr
	}

	return s.groups, nil
}

func (s *stubAdapter) ListGroupMembers(_ context.Context, _, groupExternalID string) ([]RawUser, error) {
	return s.members[groupExternalID], nil
}

func (s *stubAdapter) ResolveUsers(_ context.Context, _ string, ids []string) ([]RawUser, error) {
	users := make([]RawUser, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.resolve[id]; ok {
			users = append(users, u)
		}
	}

	return users, nil
}

func (s *stubAdapter) Close() error {
	s.closed = true
	return nil
}

// rejectingTokenSource always fails the exchange as unauthorized.
type rejectingTokenSource struct{}

func (rejectingTokenSource) Token(_ context.Context) (string, error) {
	return "", ErrCredentialRejected
}

func newTestRunner(db *gorm.DB, adapter Adapter, provider models.Provider) *Runner {
	return NewRunner(RunnerConfig{
		DB: db,
		Factories: map[models.Provider]AdapterFactory{
			provider: func(_ *models.Connection) (Adapter, error) { return adapter, nil },
		},
	})
}

func fullDirectoryStub() *stubAdapter {
	return &stubAdapter{
		kind: models.ProviderGoogle,
		groups: []RawGroup{
			{ExternalID: "g-eng", Name: "Engineering"},
		},
		members: map[string][]RawUser{
			"g-eng": {
				{ExternalID: "u-alice", Email: "alice@acme.test", DisplayName: "Alice"},
				{ExternalID: "u-bob", Email: "bob@acme.test", DisplayName: "Bob"},
			},
		},
	}
}

func TestRunnerFullDirectorySuccess(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderGoogle)
	require.NoError(t, db.Model(conn).Update("sync_all_groups", true).Error)

	adapter := fullDirectoryStub()
	runner := newTestRunner(db, adapter, models.ProviderGoogle)

	require.NoError(t, runner.Run(context.Background(), conn.ID))

	assert.EqualValues(t, 1, countRows(t, db, &models.Group{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.ExternalIdentity{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.Membership{}))

	got, err := connection.Get(db, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SyncedAt)
	assert.Nil(t, got.ErroredAt)
	assert.Zero(t, got.ConsecutiveFailures)

	assert.True(t, adapter.closed, "adapters holding resources are closed after the run")
}

func TestRunnerAssignedModeUnionsAndHydrates(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)
	require.NoError(t, conn.SetAppIdentifierList([]string{"app-current", "app-legacy"}))
	require.NoError(t, db.Model(conn).Update("app_identifiers", conn.AppIdentifiers).Error)

	adapter := &stubAdapter{
		kind: models.ProviderEntra,
		assigned: map[string][]Principal{
			"app-current": {
				{Kind: PrincipalUser, ID: "u-alice"},
				{Kind: PrincipalGroup, Group: &RawGroup{ExternalID: "g-eng", Name: "Engineering"}},
				{Kind: PrincipalOther, ID: "sp-1"},
			},
			"app-legacy": {
				// overlaps with the current registration, must not duplicate
				{Kind: PrincipalUser, ID: "u-alice"},
				{Kind: PrincipalUser, ID: "u-carol"},
			},
		},
		resolve: map[string]RawUser{
			"u-alice": {ExternalID: "u-alice", Email: "alice@acme.test", DisplayName: "Alice"},
			"u-carol": {ExternalID: "u-carol", Email: "carol@acme.test", DisplayName: "Carol"},
		},
		members: map[string][]RawUser{
			"g-eng": {{ExternalID: "u-bob", Email: "bob@acme.test", DisplayName: "Bob"}},
		},
	}

	runner := newTestRunner(db, adapter, models.ProviderEntra)
	require.NoError(t, runner.Run(context.Background(), conn.ID))

	assert.EqualValues(t, 1, countRows(t, db, &models.Group{}))
	assert.EqualValues(t, 3, countRows(t, db, &models.ExternalIdentity{}),
		"alice, bob and carol; service principals discarded, overlap deduplicated")
	assert.EqualValues(t, 1, countRows(t, db, &models.Membership{}))
}

func TestRunnerAssignedModeValidatesInlineUsers(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)
	require.NoError(t, conn.SetAppIdentifierList([]string{"app-current"}))
	require.NoError(t, db.Model(conn).Update("app_identifiers", conn.AppIdentifiers).Error)

	// the assignment carries an inline user record without an ID
	adapter := &stubAdapter{
		kind: models.ProviderEntra,
		assigned: map[string][]Principal{
			"app-current": {
				{Kind: PrincipalUser, User: &RawUser{Email: "ghost@acme.test"}},
			},
		},
	}

	runner := newTestRunner(db, adapter, models.ProviderEntra)

	err := runner.Run(context.Background(), conn.ID)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "list_assigned_principals", vErr.Step)

	assert.Zero(t, countRows(t, db, &models.ExternalIdentity{}))
}

func TestRunnerValidationFailureKeepsPriorState(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderGoogle)
	require.NoError(t, db.Model(conn).Update("sync_all_groups", true).Error)

	adapter := fullDirectoryStub()
	runner := newTestRunner(db, adapter, models.ProviderGoogle)
	require.NoError(t, runner.Run(context.Background(), conn.ID))

	// the provider starts returning a member without an ID
	adapter.members["g-eng"] = append(adapter.members["g-eng"], RawUser{Email: "ghost@acme.test"})

	err := runner.Run(context.Background(), conn.ID)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	// nothing was written or deleted; the last good snapshot stands
	assert.EqualValues(t, 1, countRows(t, db, &models.Group{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.ExternalIdentity{}))
	assert.EqualValues(t, 2, countRows(t, db, &models.Membership{}))

	got, err := connection.Get(db, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErroredAt)
	assert.EqualValues(t, 1, got.ConsecutiveFailures)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.False(t, got.IsDisabled)
}

func TestRunnerCredentialRejectedDisables(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderEntra)

	adapter := &stubAdapter{kind: models.ProviderEntra, token: rejectingTokenSource{}}
	runner := newTestRunner(db, adapter, models.ProviderEntra)

	err := runner.Run(context.Background(), conn.ID)
	require.ErrorIs(t, err, ErrCredentialRejected)

	got, err := connection.Get(db, conn.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDisabled)
	assert.Equal(t, models.DisabledReasonConsentRevoked, got.DisabledReason)

	// a disabled connection refuses further runs
	err = runner.Run(context.Background(), conn.ID)
	require.ErrorIs(t, err, connection.ErrConnectionDisabled)
}

func TestRunnerConsecutiveFailuresDisable(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderGoogle)
	require.NoError(t, db.Model(conn).Update("sync_all_groups", true).Error)

	adapter := fullDirectoryStub()
	adapter.groupsErr = syscall.ECONNREFUSED
	runner := newTestRunner(db, adapter, models.ProviderGoogle)

	for i := 0; i < 2; i++ {
		require.Error(t, runner.Run(context.Background(), conn.ID))

		got, err := connection.Get(db, conn.ID)
		require.NoError(t, err)
		assert.False(t, got.IsDisabled, "below the threshold the connection stays enabled")
	}

	require.Error(t, runner.Run(context.Background(), conn.ID))

	got, err := connection.Get(db, conn.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.ConsecutiveFailures)
	assert.True(t, got.IsDisabled)
	assert.Equal(t, models.DisabledReasonTooManyFailures, got.DisabledReason)
}

func TestRunnerSuccessResetsFailureStreak(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderGoogle)
	require.NoError(t, db.Model(conn).Update("sync_all_groups", true).Error)

	adapter := fullDirectoryStub()
	adapter.groupsErr = syscall.ECONNREFUSED
	runner := newTestRunner(db, adapter, models.ProviderGoogle)

	require.Error(t, runner.Run(context.Background(), conn.ID))
	require.Error(t, runner.Run(context.Background(), conn.ID))

	// the provider recovers
	adapter.groupsErr = nil
	require.NoError(t, runner.Run(context.Background(), conn.ID))

	got, err := connection.Get(db, conn.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.False(t, got.IsDisabled)
	require.NotNil(t, got.SyncedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.SyncedAt, 5*time.Second)
}

func TestRunnerUnknownProvider(t *testing.T) {
	db := setupTestDB(t)
	conn := seedConnection(t, db, models.ProviderLDAP)

	runner := NewRunner(RunnerConfig{DB: db, Factories: map[models.Provider]AdapterFactory{}})

	err := runner.Run(context.Background(), conn.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter registered")
}
