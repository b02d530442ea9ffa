package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/linedrive-go/internal/store"
)

// DefaultRefreshMargin treats tokens expiring within this window as expired.
const DefaultRefreshMargin = 60 * time.Second

// Refresher hands out currently-valid access tokens. Concurrent callers for
// the same user share one refresh exchange so a rotated refresh token is
// never presented twice.
type Refresher struct {
	creds    store.CredentialStore
	exchange RefreshExchanger
	margin   time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for deterministic tests
	flight   singleflight.Group
}

// NewRefresher creates a Refresher. margin <= 0 uses DefaultRefreshMargin.
func NewRefresher(
	creds store.CredentialStore,
	exchange RefreshExchanger,
	margin time.Duration,
	logger *slog.Logger,
) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	return &Refresher{
		creds:    creds,
		exchange: exchange,
		margin:   margin,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// ValidToken returns an access token for userID that is not expired.
//
// Errors: ErrNotAuthenticated when nothing usable is stored (including when
// the store is unavailable), ErrCredentialRevoked when the provider rejected
// the refresh and the credential was deleted, ErrRateLimited when throttled,
// ErrClientRejected when the bot's app registration is misconfigured.
// Every error other than ErrCredentialRevoked leaves the credential in place.
func (r *Refresher) ValidToken(ctx context.Context, userID string) (string, error) {
	c, err := r.creds.Credential(ctx, userID)
	if err != nil {
		r.logger.Warn("credential lookup failed, treating as not authenticated",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return "", fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}

	if c == nil {
		return "", ErrNotAuthenticated
	}

	if !c.ExpiresWithin(r.nowFunc(), r.margin) {
		return c.AccessToken, nil
	}

	if c.RefreshToken == "" {
		r.invalidateQuietly(ctx, userID, "expired without refresh token")
		return "", ErrCredentialRevoked
	}

	v, err, shared := r.flight.Do(userID, func() (any, error) {
		return r.refresh(ctx, c)
	})
	if err != nil {
		return "", err
	}

	if shared {
		r.logger.Debug("shared in-flight refresh", slog.String("user_id", userID))
	}

	tok, ok := v.(string)
	if !ok {
		return "", errors.New("auth: unexpected refresh result type")
	}

	return tok, nil
}

// refresh performs one exchange and persists the result.
func (r *Refresher) refresh(ctx context.Context, c *store.Credential) (string, error) {
	r.logger.Info("refreshing expired token",
		slog.String("user_id", c.UserID),
		slog.Time("expiry", c.Expiry),
	)

	tok, err := r.exchange.Refresh(ctx, c.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrCredentialRevoked) {
			r.invalidateQuietly(ctx, c.UserID, "refresh rejected")
			return "", err
		}

		if errors.Is(err, ErrClientRejected) {
			r.logger.Error("identity provider rejected the client registration, check client id and secret",
				slog.String("user_id", c.UserID),
				slog.String("error", err.Error()),
			)

			return "", err
		}

		r.logger.Warn("token refresh failed",
			slog.String("user_id", c.UserID),
			slog.String("error", err.Error()),
		)

		return "", err
	}

	now := r.nowFunc()
	if tok.AccessToken == "" || (!tok.Expiry.IsZero() && !tok.Expiry.After(now)) {
		return "", fmt.Errorf("auth: provider returned an unusable token for %s", c.UserID)
	}

	next := credentialFromToken(c.UserID, tok)
	if next.RefreshToken == "" {
		next.RefreshToken = c.RefreshToken
	}

	if err := r.creds.PutCredential(ctx, next); err != nil {
		// The fresh token is still good for this call; the next call refreshes again.
		r.logger.Error("persisting refreshed credential failed",
			slog.String("user_id", c.UserID),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Info("token refreshed",
		slog.String("user_id", c.UserID),
		slog.Time("new_expiry", next.Expiry),
	)

	return next.AccessToken, nil
}

// Invalidate deletes the user's credential so the next interaction prompts
// for consent again. It is the single remediation for both a rejected refresh
// and a token the storage provider refused at upload time.
func (r *Refresher) Invalidate(ctx context.Context, userID, reason string) error {
	r.logger.Warn("invalidating credential",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)

	if err := r.creds.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("auth: invalidating credential for %s: %w", userID, err)
	}

	return nil
}

// invalidateQuietly logs instead of returning a store failure.
func (r *Refresher) invalidateQuietly(ctx context.Context, userID, reason string) {
	if err := r.Invalidate(ctx, userID, reason); err != nil {
		r.logger.Error("credential invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// credentialFromToken converts an oauth2 token into a stored credential.
func credentialFromToken(userID string, tok *oauth2.Token) *store.Credential {
	return &store.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
