package dirsync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultExpiryMargin refreshes cached tokens this long before their
// reported expiry so a token never dies mid-page.
const defaultExpiryMargin = 60 * time.Second

// ClientCredentialsSource exchanges a per-connection client credential
// for short-lived bearer tokens and caches them until close to expiry.
type ClientCredentialsSource struct {
	conf   *clientcredentials.Config
	client *http.Client
	margin time.Duration

	mu  sync.Mutex
	tok *oauth2.Token
}

// ClientCredentialsConfig configures a ClientCredentialsSource.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// ExpiryMargin refreshes this long before expiry; zero selects the default.
	ExpiryMargin time.Duration
	// Client used for the exchange; nil selects http.DefaultClient.
	Client *http.Client
}

// NewClientCredentialsSource creates a caching token source performing a
// form-encoded client-credentials grant against the given token URL.
func NewClientCredentialsSource(cfg ClientCredentialsConfig) *ClientCredentialsSource {
	margin := cfg.ExpiryMargin
	if margin == 0 {
		margin = defaultExpiryMargin
	}

	return &ClientCredentialsSource{
		conf: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		client: cfg.Client,
		margin: margin,
	}
}

// Token returns a valid access token, performing the exchange on first
// use or when the cached token is within the expiry safety margin.
// A 401/403 from the token endpoint maps to ErrCredentialRejected.
func (s *ClientCredentialsSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok != nil && s.tok.AccessToken != "" {
		if s.tok.Expiry.IsZero() || time.Until(s.tok.Expiry) > s.margin {
			return s.tok.AccessToken, nil
		}
	}

	if s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}

	tok, err := s.conf.Token(ctx)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			if rErr.Response.StatusCode == http.StatusUnauthorized ||
				rErr.Response.StatusCode == http.StatusForbidden {
				return "", errors.Wrap(ErrCredentialRejected, err.Error())
			}
		}

		return "", errors.Wrap(err, "token exchange failed")
	}

	s.tok = tok

	return tok.AccessToken, nil
}

// StaticTokenSource serves a fixed credential, used by providers with
// static API keys instead of a token exchange.
type StaticTokenSource string

// Token returns the static credential.
func (s StaticTokenSource) Token(_ context.Context) (string, error) {
	return string(s), nil
}
