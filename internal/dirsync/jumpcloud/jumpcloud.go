// Package jumpcloud syncs from JumpCloud through its REST API. Auth is
// a static x-api-key header, pagination is limit/skip offsets with
// short-page termination. Group member listings only carry references,
// so the adapter caches the full system-user listing once per run and
// hydrates members from it.
package jumpcloud

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/GateWarden/GateWarden/internal/db/models"
	"github.com/GateWarden/GateWarden/internal/dirsync"
)

const defaultBaseURL = "https://console.jumpcloud.com/api"

// Credentials is the secret material of one JumpCloud connection.
type Credentials struct {
	APIKey string `json:"api_key"`
}

// Config configures an Adapter.
type Config struct {
	Credentials Credentials
	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
	// Client used for all calls; nil selects http.DefaultClient.
	Client *http.Client
	// PageSize requested per page; zero selects the engine default.
	PageSize int
}

// Adapter implements dirsync.Adapter for JumpCloud. Full-directory mode
// only; JumpCloud has no application assignment concept.
type Adapter struct {
	cfg  Config
	base string

	mu    sync.Mutex
	users map[string]dirsync.RawUser
}

// New creates a JumpCloud adapter for one connection's credentials.
func New(cfg Config) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	return &Adapter{cfg: cfg, base: base}
}

// Kind returns the provider tag.
func (a *Adapter) Kind() models.Provider {
	return models.ProviderJumpCloud
}

// TokenSource returns the static API key.
func (a *Adapter) TokenSource() dirsync.TokenSource {
	return dirsync.StaticTokenSource(a.cfg.Credentials.APIKey)
}

func apiKeyPrepare(token string) dirsync.PrepareFunc {
	return func(ctx context.Context, pageURL string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("x-api-key", token)
		req.Header.Set("Accept", "application/json")

		return req, nil
	}
}

// decodeResults decodes v1 envelopes: {"totalCount": n, "results": [...]}.
func decodeResults(body []byte) (dirsync.ListResponse, error) {
	var decoded struct {
		Results []json.RawMessage `json:"results"`
	}

	if err := json.Unmarshal(body, &decoded); err != nil {
		return dirsync.ListResponse{}, err
	}

	return dirsync.ListResponse{Records: decoded.Results}, nil
}

// decodeArray decodes v2 responses, which are bare JSON arrays.
func decodeArray(body []byte) (dirsync.ListResponse, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return dirsync.ListResponse{}, err
	}

	return dirsync.ListResponse{Records: records}, nil
}

func (a *Adapter) pager(token, endpoint string, decode dirsync.DecodeFunc) *dirsync.Pager {
	return dirsync.NewPager(dirsync.PagerConfig{
		Client:      a.cfg.Client,
		BaseURL:     endpoint,
		Strategy:    dirsync.StrategyOffset,
		Decode:      decode,
		Prepare:     apiKeyPrepare(token),
		PageSize:    a.cfg.PageSize,
		OffsetParam: "skip",
		LimitParam:  "limit",
	})
}

// ListAssignedPrincipals is unsupported; JumpCloud connections sync the
// full directory.
func (a *Adapter) ListAssignedPrincipals(_ context.Context, _, _ string) ([]dirsync.Principal, error) {
	return nil, dirsync.ErrModeUnsupported
}

type userGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListGroups lists every user group.
func (a *Adapter) ListGroups(ctx context.Context, token string) ([]dirsync.RawGroup, error) {
	records, err := dirsync.Drain(ctx, a.pager(token, a.base+"/v2/usergroups", decodeArray))
	if err != nil {
		return nil, err
	}

	groups := make([]dirsync.RawGroup, 0, len(records))

	for _, record := range records {
		var g userGroup
		if err := json.Unmarshal(record, &g); err != nil {
			return nil, err
		}

		groups = append(groups, dirsync.RawGroup{ExternalID: g.ID, Name: g.Name})
	}

	return groups, nil
}

// memberRef is one entry of a group member listing; only a reference to
// the user object.
type memberRef struct {
	To struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"to"`
}

// ListGroupMembers lists the user members of one group, hydrated from
// the per-run system-user cache.
func (a *Adapter) ListGroupMembers(ctx context.Context, token, groupExternalID string) ([]dirsync.RawUser, error) {
	users, err := a.systemUsers(ctx, token)
	if err != nil {
		return nil, err
	}

	endpoint := a.base + "/v2/usergroups/" + groupExternalID + "/members"

	records, err := dirsync.Drain(ctx, a.pager(token, endpoint, decodeArray))
	if err != nil {
		return nil, err
	}

	members := make([]dirsync.RawUser, 0, len(records))

	for _, record := range records {
		var ref memberRef
		if err := json.Unmarshal(record, &ref); err != nil {
			return nil, err
		}

		if ref.To.Type != "user" {
			continue
		}

		// references to users absent from the listing (e.g. suspended
		// between the two calls) are skipped
		if u, ok := users[ref.To.ID]; ok {
			members = append(members, u)
		}
	}

	return members, nil
}

// ResolveUsers is never called for JumpCloud; members are hydrated from
// the system-user cache.
func (a *Adapter) ResolveUsers(_ context.Context, _ string, _ []string) ([]dirsync.RawUser, error) {
	return nil, dirsync.ErrModeUnsupported
}

type systemUser struct {
	ID          string `json:"_id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayname"`
}

// systemUsers lists every system user once per adapter lifetime (one
// run) and indexes them by ID.
func (a *Adapter) systemUsers(ctx context.Context, token string) (map[string]dirsync.RawUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.users != nil {
		return a.users, nil
	}

	records, err := dirsync.Drain(ctx, a.pager(token, a.base+"/systemusers", decodeResults))
	if err != nil {
		return nil, err
	}

	users := make(map[string]dirsync.RawUser, len(records))

	for _, record := range records {
		var u systemUser
		if err := json.Unmarshal(record, &u); err != nil {
			return nil, err
		}

		users[u.ID] = dirsync.RawUser{
			ExternalID:  u.ID,
			Email:       u.Email,
			Username:    u.Username,
			DisplayName: u.DisplayName,
		}
	}

	a.users = users

	return users, nil
}
