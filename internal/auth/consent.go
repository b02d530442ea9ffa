package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/linedrive-go/internal/store"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// DefaultStateTTL bounds how long a consent link stays usable.
const DefaultStateTTL = 10 * time.Minute

// Consent runs the authorization code + PKCE flow for chat users. Begin
// produces the link sent in an auth prompt; Complete handles the redirect.
type Consent struct {
	provider Provider
	states   StateStore
	creds    store.CredentialStore
	ttl      time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewConsent creates a Consent. ttl <= 0 uses DefaultStateTTL.
func NewConsent(
	provider Provider,
	states StateStore,
	creds store.CredentialStore,
	ttl time.Duration,
	logger *slog.Logger,
) *Consent {
	if logger == nil {
		logger = slog.Default()
	}

	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	return &Consent{
		provider: provider,
		states:   states,
		creds:    creds,
		ttl:      ttl,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Begin issues a single-use consent URL bound to userID.
func (c *Consent) Begin(ctx context.Context, userID string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("auth: generating state token: %w", err)
	}

	verifier := oauth2.GenerateVerifier()

	pending := PendingAuth{UserID: userID, Verifier: verifier, CreatedAt: c.nowFunc()}
	if err := c.states.SaveState(ctx, state, pending, c.ttl); err != nil {
		return "", err
	}

	c.logger.Debug("consent started", slog.String("user_id", userID))

	return c.provider.AuthCodeURL(state, verifier), nil
}

// Complete validates state, exchanges code and stores the credential.
// Returns the chat user id the credential now belongs to.
func (c *Consent) Complete(ctx context.Context, state, code string) (string, error) {
	pending, err := c.states.TakeState(ctx, state)
	if err != nil {
		return "", err
	}

	if pending == nil {
		return "", ErrUnknownState
	}

	tok, err := c.provider.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		return "", err
	}

	if tok.RefreshToken == "" {
		c.logger.Warn("provider returned no refresh token; user will re-consent on expiry",
			slog.String("user_id", pending.UserID),
		)
	}

	if err := c.creds.PutCredential(ctx, credentialFromToken(pending.UserID, tok)); err != nil {
		return "", fmt.Errorf("auth: storing credential for %s: %w", pending.UserID, err)
	}

	c.logger.Info("consent completed",
		slog.String("user_id", pending.UserID),
		slog.Time("expiry", tok.Expiry),
	)

	return pending.UserID, nil
}

// generateState produces a cryptographically random hex string for the OAuth2
// state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
