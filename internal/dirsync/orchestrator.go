package dirsync

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/db/controller/connection"
	"github.com/GateWarden/GateWarden/internal/db/models"
)

// defaultDisableThreshold is the number of consecutive failed runs after
// which a connection is auto-disabled.
const defaultDisableThreshold = 3

// AdapterFactory constructs the provider adapter for one connection.
// Factories are called once per run; the returned adapter may cache
// per-run state and may implement io.Closer.
type AdapterFactory func(conn *models.Connection) (Adapter, error)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	DB        *gorm.DB
	Factories map[models.Provider]AdapterFactory
	// DisableThreshold auto-disables a connection after this many
	// consecutive failures; zero selects the default.
	DisableThreshold int
}

// Runner executes complete sync runs: credential acquisition, fetch,
// validation, reconciliation and connection health bookkeeping. One
// Runner serves all connections; per-connection serialization is the
// scheduler's job.
type Runner struct {
	db               *gorm.DB
	factories        map[models.Provider]AdapterFactory
	recon            *Reconciler
	disableThreshold uint
}

// NewRunner creates a Runner with the given adapter factories.
func NewRunner(cfg RunnerConfig) *Runner {
	threshold := cfg.DisableThreshold
	if threshold <= 0 {
		threshold = defaultDisableThreshold
	}

	return &Runner{
		db:               cfg.DB,
		factories:        cfg.Factories,
		recon:            NewReconciler(cfg.DB),
		disableThreshold: uint(threshold),
	}
}

// Run executes one sync run for the given connection and records its
// outcome on the connection record. Disabled connections are refused
// with connection.ErrConnectionDisabled. The returned error is the run
// failure, suitable for Retryable classification by the caller.
func (r *Runner) Run(ctx context.Context, connectionID uint) error {
	conn, err := connection.Get(r.db, connectionID)
	if err != nil {
		return err
	}

	if conn.IsDisabled {
		return connection.ErrConnectionDisabled
	}

	runLog := log.With().
		Str("run_id", uuid.NewString()).
		Uint("connection_id", conn.ID).
		Str("provider", string(conn.Provider)).
		Logger()

	runStart := time.Now().UTC()

	runLog.Info().Msg("sync run started")

	snap, err := r.fetch(ctx, conn)
	if err != nil {
		return r.fail(runLog, conn, err)
	}

	if err := r.recon.Apply(ctx, conn, runStart, snap); err != nil {
		return r.fail(runLog, conn, errors.Wrap(err, "reconciliation failed"))
	}

	if err := connection.MarkSynced(r.db, conn.ID, time.Now().UTC()); err != nil {
		return r.fail(runLog, conn, errors.Wrap(err, "failed to record sync success"))
	}

	runsTotal.WithLabelValues(string(conn.Provider), "success").Inc()

	runLog.Info().
		Int("groups", len(snap.Groups)).
		Int("users", len(snap.Users)).
		Dur("duration", time.Since(runStart)).
		Msg("sync run completed")

	return nil
}

// fetch acquires a token and collects the full provider snapshot for
// the connection's configured mode. Every record is validated before it
// is allowed into the snapshot.
func (r *Runner) fetch(ctx context.Context, conn *models.Connection) (*Snapshot, error) {
	factory, ok := r.factories[conn.Provider]
	if !ok {
		return nil, errors.Errorf("no adapter registered for provider %q", conn.Provider)
	}

	adapter, err := factory(conn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct provider adapter")
	}

	defer func() {
		if closer, ok := adapter.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	token, err := adapter.TokenSource().Token(ctx)
	if err != nil {
		return nil, err
	}

	if conn.SyncAllGroups {
		return fetchFullDirectory(ctx, adapter, conn, token)
	}

	return fetchAssignedPrincipals(ctx, adapter, conn, token)
}

// fetchFullDirectory snapshots every group of the directory plus the
// transitive user members of each.
func fetchFullDirectory(ctx context.Context, adapter Adapter, conn *models.Connection, token string) (*Snapshot, error) {
	groups, err := adapter.ListGroups(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := ValidateGroups(conn.ID, "list_groups", groups); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Groups:  groups,
		Members: make(map[string][]string, len(groups)),
	}

	users := make(map[string]RawUser)

	for _, g := range groups {
		members, err := adapter.ListGroupMembers(ctx, token, g.ExternalID)
		if err != nil {
			return nil, err
		}

		if err := ValidateUsers(conn.ID, "list_group_members", members); err != nil {
			return nil, err
		}

		memberIDs := make([]string, 0, len(members))

		for _, m := range members {
			users[m.ExternalID] = m
			memberIDs = append(memberIDs, m.ExternalID)
		}

		snap.Members[g.ExternalID] = memberIDs
	}

	for _, u := range users {
		snap.Users = append(snap.Users, u)
	}

	return snap, nil
}

// fetchAssignedPrincipals snapshots the principals assigned to the
// connection's application identifiers: assignments of all configured
// identifiers are unioned, assigned groups are expanded to their user
// members, and bare user IDs are hydrated through the batch resolver.
func fetchAssignedPrincipals(ctx context.Context, adapter Adapter, conn *models.Connection, token string) (*Snapshot, error) {
	appIDs := conn.AppIdentifierList()
	if len(appIDs) == 0 {
		log.Warn().Uint("connection_id", conn.ID).Msg("assigned-principals sync with no app identifiers configured")
		return &Snapshot{Members: map[string][]string{}}, nil
	}

	users := make(map[string]RawUser)
	groups := make(map[string]RawGroup)
	bareIDs := make(map[string]bool)

	for _, appID := range appIDs {
		principals, err := adapter.ListAssignedPrincipals(ctx, token, appID)
		if err != nil {
			return nil, err
		}

		for _, p := range principals {
			switch p.Kind {
			case PrincipalUser:
				if p.User != nil {
					if err := ValidateUsers(conn.ID, "list_assigned_principals", []RawUser{*p.User}); err != nil {
						return nil, err
					}

					users[p.User.ExternalID] = *p.User
				} else if p.ID != "" {
					bareIDs[p.ID] = true
				}
			case PrincipalGroup:
				if p.Group != nil {
					groups[p.Group.ExternalID] = *p.Group
				}
			case PrincipalOther:
				// service principals and other non-syncable assignees
			}
		}
	}

	if len(bareIDs) > 0 {
		ids := make([]string, 0, len(bareIDs))
		for id := range bareIDs {
			if _, ok := users[id]; !ok {
				ids = append(ids, id)
			}
		}

		resolved, err := adapter.ResolveUsers(ctx, token, ids)
		if err != nil {
			return nil, err
		}

		if err := ValidateUsers(conn.ID, "resolve_users", resolved); err != nil {
			return nil, err
		}

		for _, u := range resolved {
			users[u.ExternalID] = u
		}
	}

	snap := &Snapshot{Members: make(map[string][]string, len(groups))}

	for _, g := range groups {
		if err := ValidateGroups(conn.ID, "list_assigned_principals", []RawGroup{g}); err != nil {
			return nil, err
		}

		members, err := adapter.ListGroupMembers(ctx, token, g.ExternalID)
		if err != nil {
			return nil, err
		}

		if err := ValidateUsers(conn.ID, "list_group_members", members); err != nil {
			return nil, err
		}

		memberIDs := make([]string, 0, len(members))

		for _, m := range members {
			users[m.ExternalID] = m
			memberIDs = append(memberIDs, m.ExternalID)
		}

		snap.Groups = append(snap.Groups, g)
		snap.Members[g.ExternalID] = memberIDs
	}

	for _, u := range users {
		snap.Users = append(snap.Users, u)
	}

	return snap, nil
}

// fail records a run failure on the connection and escalates: a rejected
// credential disables the connection immediately, and crossing the
// consecutive-failure threshold disables it as well. Always returns the
// original run error.
func (r *Runner) fail(runLog zerolog.Logger, conn *models.Connection, runErr error) error {
	runsTotal.WithLabelValues(string(conn.Provider), "failure").Inc()

	if err := connection.MarkErrored(r.db, conn.ID, time.Now().UTC(), runErr.Error()); err != nil {
		runLog.Error().Err(err).Msg("failed to record sync failure")
		return runErr
	}

	runLog.Error().Err(runErr).Msg("sync run failed")

	if errors.Is(runErr, ErrCredentialRejected) {
		if err := connection.Disable(r.db, conn.ID, models.DisabledReasonConsentRevoked); err != nil {
			runLog.Error().Err(err).Msg("failed to disable connection")
			return runErr
		}

		runLog.Warn().Msg("connection disabled, credential rejected by provider")

		return runErr
	}

	// MarkErrored already incremented the counter in storage
	if conn.ConsecutiveFailures+1 >= r.disableThreshold {
		if err := connection.Disable(r.db, conn.ID, models.DisabledReasonTooManyFailures); err != nil {
			runLog.Error().Err(err).Msg("failed to disable connection")
			return runErr
		}

		runLog.Warn().
			Uint("consecutive_failures", conn.ConsecutiveFailures+1).
			Msg("connection disabled, too many consecutive failures")
	}

	return runErr
}
