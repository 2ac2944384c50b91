package daemon

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/GateWarden/GateWarden/internal/config"
	"github.com/GateWarden/GateWarden/internal/db/models"
	"github.com/GateWarden/GateWarden/internal/dirsync"
	"github.com/GateWarden/GateWarden/internal/dirsync/entra"
	"github.com/GateWarden/GateWarden/internal/dirsync/googledir"
	"github.com/GateWarden/GateWarden/internal/dirsync/jumpcloud"
	"github.com/GateWarden/GateWarden/internal/dirsync/ldapdir"
)

// loadCredentials resolves a connection's credential reference. The
// reference names an environment variable (populated by the secret
// store mount) holding a JSON payload for the provider.
func loadCredentials(ref string, out interface{}) error {
	raw := os.Getenv(ref)
	if raw == "" {
		return errors.Errorf("credential %q not present in environment", ref)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Wrapf(err, "credential %q is not valid JSON", ref)
	}

	return nil
}

// ldapSettings is the LDAP credential payload: secret bind material
// plus the server and schema settings that belong to the connection
// rather than the daemon config.
type ldapSettings struct {
	ldapdir.Credentials

	Host        string `json:"host"`
	Port        int    `json:"port"`
	UseSSL      bool   `json:"use_ssl"`
	UseTLS      bool   `json:"use_tls"`
	SkipVerify  bool   `json:"skip_verify"`
	UserBaseDN  string `json:"user_base_dn"`
	UserFilter  string `json:"user_filter"`
	GroupBaseDN string `json:"group_base_dn"`
	GroupFilter string `json:"group_filter"`
}

// adapterFactories builds the per-provider adapter constructors used by
// the sync runner.
func adapterFactories(cfg *config.Config) map[models.Provider]dirsync.AdapterFactory {
	return map[models.Provider]dirsync.AdapterFactory{
		models.ProviderEntra: func(conn *models.Connection) (dirsync.Adapter, error) {
			var creds entra.Credentials
			if err := loadCredentials(conn.CredentialRef, &creds); err != nil {
				return nil, err
			}

			return entra.New(entra.Config{
				Credentials:       creds,
				PageSize:          cfg.Sync.PageSize,
				BatchSize:         cfg.Sync.BatchSize,
				TokenExpiryMargin: cfg.Sync.TokenExpiryMargin(),
			}), nil
		},

		models.ProviderGoogle: func(conn *models.Connection) (dirsync.Adapter, error) {
			var creds googledir.Credentials
			if err := loadCredentials(conn.CredentialRef, &creds); err != nil {
				return nil, err
			}

			return googledir.New(googledir.Config{
				Credentials:       creds,
				PageSize:          cfg.Sync.PageSize,
				TokenExpiryMargin: cfg.Sync.TokenExpiryMargin(),
			}), nil
		},

		models.ProviderJumpCloud: func(conn *models.Connection) (dirsync.Adapter, error) {
			var creds jumpcloud.Credentials
			if err := loadCredentials(conn.CredentialRef, &creds); err != nil {
				return nil, err
			}

			return jumpcloud.New(jumpcloud.Config{
				Credentials: creds,
				PageSize:    cfg.Sync.PageSize,
			}), nil
		},

		models.ProviderLDAP: func(conn *models.Connection) (dirsync.Adapter, error) {
			var settings ldapSettings
			if err := loadCredentials(conn.CredentialRef, &settings); err != nil {
				return nil, err
			}

			return ldapdir.New(ldapdir.Config{
				Credentials: settings.Credentials,
				Host:        settings.Host,
				Port:        settings.Port,
				UseSSL:      settings.UseSSL,
				UseTLS:      settings.UseTLS,
				SkipVerify:  settings.SkipVerify,
				UserBaseDN:  settings.UserBaseDN,
				UserFilter:  settings.UserFilter,
				GroupBaseDN: settings.GroupBaseDN,
				GroupFilter: settings.GroupFilter,
			}), nil
		},
	}
}
