// Package auth owns everything about a user's storage-provider credential
// after it has been stored: turning it into a currently-valid access token
// (refreshing when needed), invalidating it when the provider rejects it,
// and running the authorization code + PKCE consent flow that creates it.
package auth

import "errors"

// Sentinel errors. Use errors.Is to check.
var (
	// ErrNotAuthenticated means the user has no usable credential.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	// ErrCredentialRevoked means the provider rejected the credential and it
	// has been deleted.
	ErrCredentialRevoked = errors.New("auth: credential revoked")
	// ErrRateLimited means the identity provider throttled the request.
	ErrRateLimited = errors.New("auth: rate limited")
	// ErrClientRejected means the identity provider rejected the bot's own
	// app registration (for example an expired client secret). Stored
	// credentials are left alone.
	ErrClientRejected = errors.New("auth: client registration rejected")
	// ErrUnknownState means a consent callback carried a state that was never
	// issued, already used, or expired.
	ErrUnknownState = errors.New("auth: unknown or expired state")
)

// NeedsConsent reports whether err means the user must (re-)authorize.
func NeedsConsent(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrCredentialRevoked)
}
