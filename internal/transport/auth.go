package transport

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/example/clientfactory/internal/config"
)

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// AuthFunc adapts a function to the Authenticator interface.
type AuthFunc func(ctx context.Context, req *http.Request) error

// Authenticate calls f(ctx, req).
func (f AuthFunc) Authenticate(ctx context.Context, req *http.Request) error { return f(ctx, req) }

// BasicAuth sets HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Authenticate(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// BearerAuth sets a static bearer token.
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Authenticate(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// APIKeyAuth sets an API key header, X-API-Key unless Header is set.
type APIKeyAuth struct {
	Header string
	Key    string
}

func (a APIKeyAuth) Authenticate(_ context.Context, req *http.Request) error {
	header := a.Header
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, a.Key)
	return nil
}

// TokenSourceAuth authorizes requests with tokens from an oauth2.TokenSource.
// Token caching and refresh are handled by the source.
type TokenSourceAuth struct {
	Source oauth2.TokenSource
}

func (a TokenSourceAuth) Authenticate(_ context.Context, req *http.Request) error {
	token, err := a.Source.Token()
	if err != nil {
		return fmt.Errorf("fetching oauth2 token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}

// NewAuthenticator builds the authenticator selected by cfg. It returns nil
// for type "none".
func NewAuthenticator(cfg *config.AuthConfig) (Authenticator, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "basic":
		return BasicAuth{Username: cfg.Username, Password: cfg.Password}, nil
	case "bearer":
		if cfg.Token == "" {
			return nil, fmt.Errorf("bearer auth requires a token")
		}
		return BearerAuth{Token: cfg.Token}, nil
	case "api_key":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key auth requires a key")
		}
		return APIKeyAuth{Header: cfg.Header, Key: cfg.APIKey}, nil
	case "oauth2":
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		return TokenSourceAuth{Source: cc.TokenSource(context.Background())}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", cfg.Type)
	}
}
