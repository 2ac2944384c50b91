package models

import (
	"encoding/json"
	"time"
)

// Provider represents the external identity provider kind of a connection.
type Provider string

const (
	// ProviderEntra indicates a Microsoft Entra ID (Azure AD) connection.
	ProviderEntra Provider = "entra"
	// ProviderGoogle indicates a Google Workspace directory connection.
	ProviderGoogle Provider = "google"
	// ProviderJumpCloud indicates a JumpCloud directory connection.
	ProviderJumpCloud Provider = "jumpcloud"
	// ProviderLDAP indicates an LDAP or Active Directory connection.
	ProviderLDAP Provider = "ldap"
)

// DisabledReasonConsentRevoked marks a connection disabled because the
// provider rejected its credential (consent revoked by the customer).
const DisabledReasonConsentRevoked = "consent_revoked"

// DisabledReasonTooManyFailures marks a connection disabled after too
// many consecutive failed sync runs.
const DisabledReasonTooManyFailures = "too_many_failures"

// Connection represents a tenant's configured link to one external
// identity provider. Configuration fields are mutated only by an
// administrator; health fields are mutated only by the sync orchestrator.
type Connection struct {
	// ID is the unique identifier for the connection.
	ID uint `gorm:"primaryKey"`
	// TenantID is the tenant this connection belongs to.
	TenantID uint `gorm:"not null;index"`
	// Tenant is the associated tenant (enforced with a foreign key constraint).
	Tenant Tenant `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	// Name is the administrator-chosen display name of the connection.
	Name string `gorm:"size:255;not null"`
	// Provider indicates which external identity provider this connection syncs from.
	Provider Provider `gorm:"type:varchar(20);not null"`
	// SyncAllGroups toggles full-directory mode. When false the sync is
	// limited to principals assigned to the configured app identifiers.
	SyncAllGroups bool `gorm:"not null;default:false"`
	// AppIdentifiers is a JSON-encoded list of provider-side application
	// identifiers whose assignments are unioned in assigned-principals
	// mode. More than one entry supports current plus legacy registrations.
	AppIdentifiers string `gorm:"size:1024"`
	// CredentialRef names the secret in the credential store holding this
	// connection's service-account key, app secret or API key.
	CredentialRef string `gorm:"size:255;not null"`

	// SyncedAt is the completion time of the last successful sync run.
	SyncedAt *time.Time
	// ErroredAt is the time of the last failed sync run.
	ErroredAt *time.Time
	// ErrorMessage is the error detail of the last failed sync run.
	ErrorMessage string `gorm:"size:1024"`
	// ErrorEmailCount throttles the out-of-band error notifier.
	ErrorEmailCount uint `gorm:"not null;default:0"`
	// ConsecutiveFailures counts failed runs since the last success.
	ConsecutiveFailures uint `gorm:"not null;default:0"`
	// IsDisabled stops the scheduler from running this connection.
	IsDisabled bool `gorm:"not null;default:false"`
	// DisabledReason explains why the connection was disabled.
	DisabledReason string `gorm:"size:255"`

	// CreatedAt is the timestamp when the connection was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the connection was last updated (managed by GORM).
	UpdatedAt time.Time
}

// AppIdentifierList decodes the JSON AppIdentifiers column. An empty or
// malformed column yields an empty list.
func (c *Connection) AppIdentifierList() []string {
	if c.AppIdentifiers == "" {
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(c.AppIdentifiers), &ids); err != nil {
		return nil
	}

	return ids
}

// SetAppIdentifierList encodes the given list into the AppIdentifiers column.
func (c *Connection) SetAppIdentifierList(ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	c.AppIdentifiers = string(raw)

	return nil
}
