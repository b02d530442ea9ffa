package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultScopes are requested when the config does not override them.
// offline_access is required to receive a refresh token.
var DefaultScopes = []string{
	"offline_access",
	"Files.ReadWrite",
	"User.Read",
}

// defaultTenant accepts both personal and work/school accounts.
const defaultTenant = "common"

// Provider is the identity provider surface the consent flow needs.
type Provider interface {
	RefreshExchanger
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
}

// RefreshExchanger performs a refresh-token grant. Implementations return
// errors matching ErrCredentialRevoked when the grant is rejected,
// ErrClientRejected when the app registration is, and ErrRateLimited when
// throttled.
type RefreshExchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// ProviderConfig configures OAuthProvider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	RedirectURL  string
	Scopes       []string
	// Endpoint overrides the Microsoft endpoint; tests point it at httptest.
	Endpoint *oauth2.Endpoint
}

// OAuthProvider implements Provider against the Microsoft identity platform.
type OAuthProvider struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*OAuthProvider)(nil)

// NewOAuthProvider builds a provider. httpClient may be nil.
func NewOAuthProvider(pc ProviderConfig, httpClient *http.Client, logger *slog.Logger) *OAuthProvider {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	tenant := pc.Tenant
	if tenant == "" {
		tenant = defaultTenant
	}

	scopes := pc.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	if pc.Endpoint != nil {
		endpoint = *pc.Endpoint
	}

	return &OAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// AuthCodeURL returns the consent URL with state and an S256 PKCE challenge.
func (p *OAuthProvider) AuthCodeURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange trades an authorization code for a token.
func (p *OAuthProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := p.cfg.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("auth: token exchange failed: %w", classifyRetrieveError(err))
	}

	p.logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// Refresh performs exactly one refresh-token grant. A token with only a
// refresh token is never valid, so the token source always hits the network.
func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := p.cfg.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refreshing token: %w", classifyRetrieveError(err))
	}

	p.logger.Debug("token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// clientContext attaches the provider's HTTP client for the oauth2 package.
func (p *OAuthProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// classifyRetrieveError maps token endpoint failures onto auth sentinels
// while keeping the original error in the chain. Only grant-level codes mark
// the user's credential as revoked; client-level codes concern the bot.
func classifyRetrieveError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}

	switch re.ErrorCode {
	case "invalid_grant", "interaction_required", "consent_required":
		return fmt.Errorf("%w: %w", ErrCredentialRevoked, err)
	case "invalid_client", "unauthorized_client":
		return fmt.Errorf("%w: %w", ErrClientRejected, err)
	}

	if re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	return err
}
