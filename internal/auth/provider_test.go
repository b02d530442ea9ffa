package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// testTokenJSON is the canonical token response for tests.
const testTokenJSON = `{
	"access_token": "test-access-token",
	"token_type": "Bearer",
	"refresh_token": "test-refresh-token",
	"expires_in": 3600
}`

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// newMockTokenServer serves the token endpoint with handler (testTokenJSON
// when nil) and returns an endpoint pointing at it.
func newMockTokenServer(t *testing.T, handler http.HandlerFunc) *oauth2.Endpoint {
	t.Helper()

	if handler == nil {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(testTokenJSON))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &oauth2.Endpoint{
		AuthURL:  srv.URL + "/authorize",
		TokenURL: srv.URL + "/token",
	}
}

func newTestProvider(t *testing.T, endpoint *oauth2.Endpoint) *OAuthProvider {
	t.Helper()

	return NewOAuthProvider(ProviderConfig{
		ClientID:    "client-id",
		RedirectURL: "https://bot.example.com/auth/callback",
		Endpoint:    endpoint,
	}, nil, testLogger(t))
}

func TestOAuthProvider_AuthCodeURL(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, newMockTokenServer(t, nil))

	raw := p.AuthCodeURL("state123", oauth2.GenerateVerifier())

	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state123", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Contains(t, q.Get("scope"), "offline_access")
}

func TestOAuthProvider_Refresh_Success(t *testing.T) {
	t.Parallel()

	var grantType atomic.Value

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grantType.Store(r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenJSON))
	})

	tok, err := newTestProvider(t, endpoint).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "test-access-token", tok.AccessToken)
	assert.Equal(t, "test-refresh-token", tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())
	assert.Equal(t, "refresh_token", grantType.Load())
}

func TestOAuthProvider_Refresh_InvalidGrant(t *testing.T) {
	t.Parallel()

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"revoked"}`))
	})

	_, err := newTestProvider(t, endpoint).Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialRevoked)
	assert.True(t, NeedsConsent(err))
}

func TestOAuthProvider_Refresh_ClientErrorsAreNotRevocations(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"invalid_client", "unauthorized_client"} {
		t.Run(code, func(t *testing.T) {
			t.Parallel()

			endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"` + code + `","error_description":"client secret expired"}`))
			})

			_, err := newTestProvider(t, endpoint).Refresh(context.Background(), "rt")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrClientRejected)
			assert.NotErrorIs(t, err, ErrCredentialRevoked)
			assert.False(t, NeedsConsent(err))
		})
	}
}

func TestOAuthProvider_Refresh_BareBadRequestIsNotRevocation(t *testing.T) {
	t.Parallel()

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := newTestProvider(t, endpoint).Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialRevoked)
	assert.NotErrorIs(t, err, ErrClientRejected)
}

func TestOAuthProvider_Refresh_ConsentRequired(t *testing.T) {
	t.Parallel()

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"interaction_required"}`))
	})

	_, err := newTestProvider(t, endpoint).Refresh(context.Background(), "rt")
	assert.ErrorIs(t, err, ErrCredentialRevoked)
}

func TestOAuthProvider_Refresh_Throttled(t *testing.T) {
	t.Parallel()

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := newTestProvider(t, endpoint).Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, NeedsConsent(err))
}

func TestOAuthProvider_Refresh_ServerError(t *testing.T) {
	t.Parallel()

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := newTestProvider(t, endpoint).Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialRevoked)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestOAuthProvider_Exchange_SendsVerifier(t *testing.T) {
	t.Parallel()

	var verifier atomic.Value

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		verifier.Store(r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenJSON))
	})

	tok, err := newTestProvider(t, endpoint).Exchange(context.Background(), "code", "my-verifier")
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok.AccessToken)
	assert.Equal(t, "my-verifier", verifier.Load())
}
