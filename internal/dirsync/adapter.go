// Package dirsync implements the directory synchronization engine: one
// shared set of fetch, validation and reconciliation primitives driven by
// thin per-provider adapters.
package dirsync

import (
	"context"

	"github.com/GateWarden/GateWarden/internal/db/models"
)

// RawUser is a normalized remote user record as it crosses the adapter
// boundary, before validation and reconciliation.
type RawUser struct {
	// ExternalID is the provider-side identifier of the user.
	ExternalID string `validate:"required"`
	// Email is the user's email address, may be empty.
	Email string
	// Username is the provider's username-like field, used as email
	// fallback (userPrincipalName, primaryEmail, uid, ...).
	Username string
	// DisplayName is the user's display name.
	DisplayName string
}

// EmailOrUsername returns the email, falling back to the username-like
// field when the provider reported no email.
func (u RawUser) EmailOrUsername() string {
	if u.Email != "" {
		return u.Email
	}

	return u.Username
}

// RawGroup is a normalized remote group record.
type RawGroup struct {
	// ExternalID is the provider-side identifier of the group.
	ExternalID string `validate:"required"`
	// Name is the group's display name.
	Name string `validate:"required"`
}

// PrincipalKind distinguishes entries of an assignment listing.
type PrincipalKind string

const (
	// PrincipalUser is a directly assigned user.
	PrincipalUser PrincipalKind = "user"
	// PrincipalGroup is a directly assigned group.
	PrincipalGroup PrincipalKind = "group"
	// PrincipalOther covers service principals and anything else the
	// engine discards.
	PrincipalOther PrincipalKind = "other"
)

// Principal is one entry of an application assignment listing. Users may
// arrive as bare IDs (User nil) and are hydrated later through the batch
// detail resolver.
type Principal struct {
	Kind  PrincipalKind
	ID    string
	User  *RawUser
	Group *RawGroup
}

// TokenSource mints a bearer credential for provider API calls. A token
// exchange rejected with 401/403 yields ErrCredentialRejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Adapter is implemented once per provider kind. All list methods drain
// the provider's pagination fully; a page failure surfaces as the
// returned error. Adapters are constructed per run and may cache
// per-run state internally; adapters holding network resources also
// implement io.Closer.
type Adapter interface {
	// Kind returns the provider tag this adapter serves.
	Kind() models.Provider

	// TokenSource returns the per-connection credential source.
	TokenSource() TokenSource

	// ListAssignedPrincipals lists the principals directly assigned to
	// one application identifier. Providers without application
	// assignments return ErrModeUnsupported.
	ListAssignedPrincipals(ctx context.Context, token, appID string) ([]Principal, error)

	// ListGroups lists every group of the directory.
	ListGroups(ctx context.Context, token string) ([]RawGroup, error)

	// ListGroupMembers lists the transitive user members of one group.
	// Nested groups and non-user members are discarded, not recursed.
	ListGroupMembers(ctx context.Context, token, groupExternalID string) ([]RawUser, error)

	// ResolveUsers hydrates bare user IDs into full records. Providers
	// whose assignment listings already carry user fields never receive
	// this call and may return ErrModeUnsupported.
	ResolveUsers(ctx context.Context, token string, ids []string) ([]RawUser, error)
}
