// Package ldapdir syncs from an LDAP or Active Directory server. One
// connection is dialed and bound per run, listings use the paged
// results control, and group members are hydrated from a per-run user
// cache keyed by DN.
package ldapdir

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"

	"github.com/GateWarden/GateWarden/internal/db/models"
	"github.com/GateWarden/GateWarden/internal/dirsync"
)

const defaultPageSize = 500

// Credentials is the secret material of one LDAP connection.
type Credentials struct {
	BindDN       string `json:"bind_dn"`
	BindPassword string `json:"bind_password"`
}

// Config configures an Adapter.
type Config struct {
	Credentials Credentials

	// Host is the LDAP server hostname or IP address.
	Host string
	// Port is the LDAP server port (typically 389 for LDAP, 636 for LDAPS).
	Port int
	// UseSSL enables LDAPS.
	UseSSL bool
	// UseTLS enables StartTLS to upgrade a plain connection.
	UseTLS bool
	// SkipVerify skips TLS certificate verification (insecure, for testing only).
	SkipVerify bool

	// UserBaseDN is the base distinguished name for user searches.
	UserBaseDN string
	// UserFilter selects the user entries (e.g. "(objectClass=person)").
	UserFilter string
	// GroupBaseDN is the base distinguished name for group searches.
	GroupBaseDN string
	// GroupFilter selects the group entries (e.g. "(objectClass=groupOfNames)").
	GroupFilter string

	// GroupNameAttr is the attribute carrying the group name (e.g. "cn").
	GroupNameAttr string
	// GroupMemberAttr is the attribute carrying member DNs (e.g. "member").
	GroupMemberAttr string
	// UsernameAttr is the attribute carrying the username (e.g. "uid").
	UsernameAttr string
	// EmailAttr is the attribute carrying the email address (e.g. "mail").
	EmailAttr string
	// DisplayNameAttr is the attribute carrying the display name (e.g. "cn").
	DisplayNameAttr string

	// Timeout is the search timeout in seconds.
	Timeout int
	// PageSize of the paged results control; zero selects the default.
	PageSize int
}

// Adapter implements dirsync.Adapter for LDAP directories. It holds one
// server connection for the run and implements io.Closer.
type Adapter struct {
	cfg Config

	mu    sync.Mutex
	conn  *ldap.Conn
	users map[string]dirsync.RawUser
}

// New creates an LDAP adapter for one connection's configuration,
// filling in common attribute defaults.
func New(cfg Config) *Adapter {
	if cfg.UserFilter == "" {
		cfg.UserFilter = "(objectClass=person)"
	}

	if cfg.GroupFilter == "" {
		cfg.GroupFilter = "(objectClass=groupOfNames)"
	}

	if cfg.GroupNameAttr == "" {
		cfg.GroupNameAttr = "cn"
	}

	if cfg.GroupMemberAttr == "" {
		cfg.GroupMemberAttr = "member"
	}

	if cfg.UsernameAttr == "" {
		cfg.UsernameAttr = "uid"
	}

	if cfg.EmailAttr == "" {
		cfg.EmailAttr = "mail"
	}

	if cfg.DisplayNameAttr == "" {
		cfg.DisplayNameAttr = "cn"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 10
	}

	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}

	return &Adapter{cfg: cfg}
}

// Kind returns the provider tag.
func (a *Adapter) Kind() models.Provider {
	return models.ProviderLDAP
}

// TokenSource returns a source whose Token call dials and binds the
// server connection; LDAP has no bearer token, so the credential check
// is the bind itself.
func (a *Adapter) TokenSource() dirsync.TokenSource {
	return bindTokenSource{adapter: a}
}

// Close terminates the run's server connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return nil
	}

	err := a.conn.Close()
	a.conn = nil

	return err
}

type bindTokenSource struct {
	adapter *Adapter
}

// Token establishes the bound connection and returns an empty token.
func (s bindTokenSource) Token(_ context.Context) (string, error) {
	_, err := s.adapter.connect()
	return "", err
}

// connect dials and binds once per run; subsequent calls reuse the
// connection.
func (a *Adapter) connect() (*ldap.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		return a.conn, nil
	}

	hostPort := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))

	ldapURL := "ldap://" + hostPort
	if a.cfg.UseSSL {
		ldapURL = "ldaps://" + hostPort
	}

	var tlsConfig *tls.Config
	if a.cfg.UseSSL || a.cfg.UseTLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: a.cfg.SkipVerify, //nolint:gosec // skipping verifying tls is ok
			ServerName:         a.cfg.Host,
		}
	}

	conn, err := ldap.DialURL(ldapURL, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to LDAP server")
	}

	if !a.cfg.UseSSL && a.cfg.UseTLS {
		if errStartTLS := conn.StartTLS(tlsConfig); errStartTLS != nil {
			_ = conn.Close()
			return nil, errors.Wrap(errStartTLS, "failed to start TLS")
		}
	}

	conn.SetTimeout(time.Duration(a.cfg.Timeout) * time.Second)

	if err := conn.Bind(a.cfg.Credentials.BindDN, a.cfg.Credentials.BindPassword); err != nil {
		_ = conn.Close()

		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, errors.Wrap(dirsync.ErrCredentialRejected, err.Error())
		}

		return nil, errors.Wrap(err, "failed to bind with service account")
	}

	a.conn = conn

	return conn, nil
}

// pagedSearch walks a subtree search with the paged results control.
func (a *Adapter) pagedSearch(conn *ldap.Conn, baseDN, filter string, attrs []string) ([]*ldap.Entry, error) {
	paging := ldap.NewControlPaging(uint32(a.cfg.PageSize))

	var entries []*ldap.Entry

	for {
		request := ldap.NewSearchRequest(
			baseDN,
			ldap.ScopeWholeSubtree,
			ldap.NeverDerefAliases,
			0,
			a.cfg.Timeout,
			false,
			filter,
			attrs,
			[]ldap.Control{paging},
		)

		result, err := conn.Search(request)
		if err != nil {
			return nil, errors.Wrap(err, "ldap search failed")
		}

		entries = append(entries, result.Entries...)

		control, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(control.Cookie) == 0 {
			break
		}

		paging.SetCookie(control.Cookie)
	}

	return entries, nil
}

// ListAssignedPrincipals is unsupported; LDAP connections sync the full
// directory.
func (a *Adapter) ListAssignedPrincipals(_ context.Context, _, _ string) ([]dirsync.Principal, error) {
	return nil, dirsync.ErrModeUnsupported
}

// ListGroups lists every group under the group base DN. The group's DN
// serves as its external identifier.
func (a *Adapter) ListGroups(_ context.Context, _ string) ([]dirsync.RawGroup, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}

	entries, err := a.pagedSearch(conn, a.cfg.GroupBaseDN, a.cfg.GroupFilter, []string{a.cfg.GroupNameAttr})
	if err != nil {
		return nil, err
	}

	groups := make([]dirsync.RawGroup, 0, len(entries))

	for _, entry := range entries {
		groups = append(groups, dirsync.RawGroup{
			ExternalID: entry.DN,
			Name:       entry.GetAttributeValue(a.cfg.GroupNameAttr),
		})
	}

	return groups, nil
}

// ListGroupMembers resolves one group's member DNs against the per-run
// user cache. DNs that do not resolve to a user entry (nested groups,
// stale references) are skipped.
func (a *Adapter) ListGroupMembers(ctx context.Context, token, groupExternalID string) ([]dirsync.RawUser, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}

	users, err := a.directoryUsers(ctx, token)
	if err != nil {
		return nil, err
	}

	request := ldap.NewSearchRequest(
		groupExternalID,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1,
		a.cfg.Timeout,
		false,
		"(objectClass=*)",
		[]string{a.cfg.GroupMemberAttr},
		nil,
	)

	result, err := conn.Search(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read group entry")
	}

	if len(result.Entries) == 0 {
		return nil, errors.Errorf("group %s not found", groupExternalID)
	}

	memberDNs := result.Entries[0].GetAttributeValues(a.cfg.GroupMemberAttr)
	members := make([]dirsync.RawUser, 0, len(memberDNs))

	for _, dn := range memberDNs {
		if u, ok := users[dn]; ok {
			members = append(members, u)
		}
	}

	return members, nil
}

// ResolveUsers is never called for LDAP; members are hydrated from the
// user cache.
func (a *Adapter) ResolveUsers(_ context.Context, _ string, _ []string) ([]dirsync.RawUser, error) {
	return nil, dirsync.ErrModeUnsupported
}

// directoryUsers lists every user entry once per run, indexed by DN.
func (a *Adapter) directoryUsers(_ context.Context, _ string) (map[string]dirsync.RawUser, error) {
	a.mu.Lock()
	cached := a.users
	a.mu.Unlock()

	if cached != nil {
		return cached, nil
	}

	conn, err := a.connect()
	if err != nil {
		return nil, err
	}

	attrs := []string{a.cfg.UsernameAttr, a.cfg.EmailAttr, a.cfg.DisplayNameAttr}

	entries, err := a.pagedSearch(conn, a.cfg.UserBaseDN, a.cfg.UserFilter, attrs)
	if err != nil {
		return nil, err
	}

	users := make(map[string]dirsync.RawUser, len(entries))

	for _, entry := range entries {
		users[entry.DN] = a.userFromEntry(entry)
	}

	a.mu.Lock()
	a.users = users
	a.mu.Unlock()

	return users, nil
}

// userFromEntry maps an LDAP user entry to the engine record. The DN is
// the external identifier.
func (a *Adapter) userFromEntry(entry *ldap.Entry) dirsync.RawUser {
	return dirsync.RawUser{
		ExternalID:  entry.DN,
		Email:       entry.GetAttributeValue(a.cfg.EmailAttr),
		Username:    entry.GetAttributeValue(a.cfg.UsernameAttr),
		DisplayName: entry.GetAttributeValue(a.cfg.DisplayNameAttr),
	}
}
