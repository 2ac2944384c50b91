// Package entra syncs from Microsoft Entra ID through the Graph v1.0
// API. Listings paginate with @odata.nextLink continuation URLs;
// assigned principals come from the service principal's
// appRoleAssignedTo relation and bare user IDs are hydrated through the
// $batch endpoint.
package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/GateWarden/GateWarden/internal/db/models"
	"github.com/GateWarden/GateWarden/internal/dirsync"
)

const (
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"

	// userSelect keeps hydration responses down to the fields we store.
	userSelect = "$select=id,mail,userPrincipalName,displayName"
)

// Credentials is the secret material of one Entra connection.
type Credentials struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Config configures an Adapter.
type Config struct {
	Credentials Credentials
	// BaseURL overrides the Graph endpoint, used in tests.
	BaseURL string
	// TokenURL overrides the token endpoint, used in tests.
	TokenURL string
	// Client used for all calls; nil selects http.DefaultClient.
	Client *http.Client
	// PageSize requested per page; zero selects the engine default.
	PageSize int
	// BatchSize for $batch hydration; zero selects the engine default.
	BatchSize int
	// TokenExpiryMargin refreshes cached tokens this long before expiry;
	// zero selects the engine default.
	TokenExpiryMargin time.Duration
}

// Adapter implements dirsync.Adapter for Microsoft Entra ID.
type Adapter struct {
	cfg    Config
	base   string
	tokens dirsync.TokenSource
}

// New creates an Entra adapter for one connection's credentials.
func New(cfg Config) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGraphBase
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Credentials.TenantID)
	}

	return &Adapter{
		cfg:  cfg,
		base: base,
		tokens: dirsync.NewClientCredentialsSource(dirsync.ClientCredentialsConfig{
			TokenURL:     tokenURL,
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
			Scopes:       []string{graphScope},
			ExpiryMargin: cfg.TokenExpiryMargin,
			Client:       cfg.Client,
		}),
	}
}

// Kind returns the provider tag.
func (a *Adapter) Kind() models.Provider {
	return models.ProviderEntra
}

// TokenSource returns the connection's client-credentials source.
func (a *Adapter) TokenSource() dirsync.TokenSource {
	return a.tokens
}

// graphList is the envelope of every Graph collection response.
type graphList struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

func decodeGraphList(body []byte) (dirsync.ListResponse, error) {
	var decoded graphList
	if err := json.Unmarshal(body, &decoded); err != nil {
		return dirsync.ListResponse{}, err
	}

	return dirsync.ListResponse{Records: decoded.Value, Cursor: decoded.NextLink}, nil
}

func bearerPrepare(token string) dirsync.PrepareFunc {
	return func(ctx context.Context, pageURL string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		return req, nil
	}
}

func (a *Adapter) pager(token, endpoint string) *dirsync.Pager {
	return dirsync.NewPager(dirsync.PagerConfig{
		Client:   a.cfg.Client,
		BaseURL:  endpoint,
		Strategy: dirsync.StrategyNextURL,
		Decode:   decodeGraphList,
		Prepare:  bearerPrepare(token),
		PageSize: a.cfg.PageSize,
	})
}

// appRoleAssignment is one entry of a service principal's
// appRoleAssignedTo relation.
type appRoleAssignment struct {
	PrincipalID          string `json:"principalId"`
	PrincipalType        string `json:"principalType"`
	PrincipalDisplayName string `json:"principalDisplayName"`
}

// ListAssignedPrincipals lists the principals assigned to one
// application's service principal. Users arrive as bare IDs and need
// hydration; groups carry their display name inline.
func (a *Adapter) ListAssignedPrincipals(ctx context.Context, token, appID string) ([]dirsync.Principal, error) {
	endpoint := a.base + "/servicePrincipals/" + appID + "/appRoleAssignedTo"

	records, err := dirsync.Drain(ctx, a.pager(token, endpoint))
	if err != nil {
		return nil, err
	}

	principals := make([]dirsync.Principal, 0, len(records))

	for _, record := range records {
		var assignment appRoleAssignment
		if err := json.Unmarshal(record, &assignment); err != nil {
			return nil, errors.Wrap(err, "failed to decode app role assignment")
		}

		switch assignment.PrincipalType {
		case "User":
			principals = append(principals, dirsync.Principal{
				Kind: dirsync.PrincipalUser,
				ID:   assignment.PrincipalID,
			})
		case "Group":
			principals = append(principals, dirsync.Principal{
				Kind: dirsync.PrincipalGroup,
				ID:   assignment.PrincipalID,
				Group: &dirsync.RawGroup{
					ExternalID: assignment.PrincipalID,
					Name:       assignment.PrincipalDisplayName,
				},
			})
		default:
			// service principals and devices are not syncable
			principals = append(principals, dirsync.Principal{
				Kind: dirsync.PrincipalOther,
				ID:   assignment.PrincipalID,
			})
		}
	}

	return principals, nil
}

// graphGroup is the subset of microsoft.graph.group we store.
type graphGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// ListGroups lists every group of the directory.
func (a *Adapter) ListGroups(ctx context.Context, token string) ([]dirsync.RawGroup, error) {
	records, err := dirsync.Drain(ctx, a.pager(token, a.base+"/groups"))
	if err != nil {
		return nil, err
	}

	groups := make([]dirsync.RawGroup, 0, len(records))

	for _, record := range records {
		var g graphGroup
		if err := json.Unmarshal(record, &g); err != nil {
			return nil, errors.Wrap(err, "failed to decode group")
		}

		groups = append(groups, dirsync.RawGroup{ExternalID: g.ID, Name: g.DisplayName})
	}

	return groups, nil
}

// graphUser is the subset of microsoft.graph.user we store. The OData
// type discriminates users from nested groups and devices in
// transitiveMembers listings.
type graphUser struct {
	ODataType         string `json:"@odata.type"`
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
}

func (u graphUser) toRaw() dirsync.RawUser {
	return dirsync.RawUser{
		ExternalID:  u.ID,
		Email:       u.Mail,
		Username:    u.UserPrincipalName,
		DisplayName: u.DisplayName,
	}
}

// ListGroupMembers lists the transitive user members of one group.
// Non-user members (nested groups, devices) are discarded.
func (a *Adapter) ListGroupMembers(ctx context.Context, token, groupExternalID string) ([]dirsync.RawUser, error) {
	endpoint := a.base + "/groups/" + groupExternalID + "/transitiveMembers"

	records, err := dirsync.Drain(ctx, a.pager(token, endpoint))
	if err != nil {
		return nil, err
	}

	users := make([]dirsync.RawUser, 0, len(records))

	for _, record := range records {
		var u graphUser
		if err := json.Unmarshal(record, &u); err != nil {
			return nil, errors.Wrap(err, "failed to decode group member")
		}

		if u.ODataType != "#microsoft.graph.user" {
			continue
		}

		users = append(users, u.toRaw())
	}

	return users, nil
}

// ResolveUsers hydrates bare user IDs through the $batch endpoint.
func (a *Adapter) ResolveUsers(ctx context.Context, token string, ids []string) ([]dirsync.RawUser, error) {
	resolver := &dirsync.Resolver{
		Client:   a.cfg.Client,
		Endpoint: a.base + "/$batch",
		Decorate: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Accept", "application/json")
		},
		PathFor: func(id string) string {
			return "/users/" + id + "?" + userSelect
		},
		ChunkSize: a.cfg.BatchSize,
	}

	resolved, err := resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	users := make([]dirsync.RawUser, 0, len(resolved))

	for id, body := range resolved {
		var u graphUser
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, errors.Wrapf(err, "failed to decode user %s", id)
		}

		users = append(users, u.toRaw())
	}

	return users, nil
}
