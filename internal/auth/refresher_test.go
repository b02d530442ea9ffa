package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/linedrive-go/internal/store"
)

// fakeExchanger is a scripted RefreshExchanger.
type fakeExchanger struct {
	calls atomic.Int32
	block chan struct{} // when non-nil, Refresh waits on it
	tok   *oauth2.Token
	err   error
}

func (f *fakeExchanger) Refresh(ctx context.Context, _ string) (*oauth2.Token, error) {
	f.calls.Add(1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	cp := *f.tok

	return &cp, nil
}

// failingCreds is a CredentialStore whose every call fails as unavailable.
type failingCreds struct{}

func (failingCreds) Credential(context.Context, string) (*store.Credential, error) {
	return nil, store.ErrUnavailable
}

func (failingCreds) PutCredential(context.Context, *store.Credential) error {
	return store.ErrUnavailable
}

func (failingCreds) DeleteCredential(context.Context, string) error {
	return store.ErrUnavailable
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRefresher(t *testing.T, creds store.CredentialStore, ex RefreshExchanger) *Refresher {
	t.Helper()

	r := NewRefresher(creds, ex, time.Minute, testLogger(t))
	r.nowFunc = func() time.Time { return testNow }

	return r
}

func putCred(t *testing.T, s store.CredentialStore, c store.Credential) {
	t.Helper()
	require.NoError(t, s.PutCredential(context.Background(), &c))
}

func TestValidToken_Absent(t *testing.T) {
	t.Parallel()

	ex := &fakeExchanger{}
	r := newTestRefresher(t, store.NewMemory(), ex)

	_, err := r.ValidToken(context.Background(), "A")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, ex.calls.Load())
}

func TestValidToken_StoreUnavailableIsNotAuthenticated(t *testing.T) {
	t.Parallel()

	r := newTestRefresher(t, failingCreds{}, &fakeExchanger{})

	_, err := r.ValidToken(context.Background(), "A")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.True(t, NeedsConsent(err))
}

func TestValidToken_FreshTokenReturnedUnchanged(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "fresh", RefreshToken: "rt", Expiry: testNow.Add(time.Hour)})

	ex := &fakeExchanger{}
	r := newTestRefresher(t, mem, ex)

	tok, err := r.ValidToken(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Zero(t, ex.calls.Load())
}

func TestValidToken_NoExpiryNeverRefreshes(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "forever"})

	r := newTestRefresher(t, mem, &fakeExchanger{})

	tok, err := r.ValidToken(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "forever", tok)
}

func TestValidToken_ExpiredRefreshSucceeds(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "rt-old", Expiry: testNow.Add(-time.Hour)})

	newExpiry := testNow.Add(time.Hour)
	ex := &fakeExchanger{tok: &oauth2.Token{AccessToken: "new", RefreshToken: "rt-new", Expiry: newExpiry}}
	r := newTestRefresher(t, mem, ex)

	tok, err := r.ValidToken(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	stored, err := mem.Credential(context.Background(), "A")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "rt-new", stored.RefreshToken)
	assert.True(t, stored.Expiry.Equal(newExpiry))
}

func TestValidToken_InsideMarginRefreshes(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(30 * time.Second)})

	ex := &fakeExchanger{tok: &oauth2.Token{AccessToken: "new", Expiry: testNow.Add(time.Hour)}}
	r := newTestRefresher(t, mem, ex)

	tok, err := r.ValidToken(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestValidToken_RefreshTokenCarriedForward(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "keep-me", Expiry: testNow.Add(-time.Minute)})

	ex := &fakeExchanger{tok: &oauth2.Token{AccessToken: "new", Expiry: testNow.Add(time.Hour)}}
	r := newTestRefresher(t, mem, ex)

	_, err := r.ValidToken(context.Background(), "A")
	require.NoError(t, err)

	stored, err := mem.Credential(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "keep-me", stored.RefreshToken)
}

func TestValidToken_RefreshRejectedDeletesCredential(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(-time.Hour)})

	ex := &fakeExchanger{err: ErrCredentialRevoked}
	r := newTestRefresher(t, mem, ex)

	_, err := r.ValidToken(context.Background(), "A")
	assert.ErrorIs(t, err, ErrCredentialRevoked)

	stored, err := mem.Credential(context.Background(), "A")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// Next call finds nothing and does not try the provider again.
	_, err = r.ValidToken(context.Background(), "A")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestValidToken_ExpiredWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", Expiry: testNow.Add(-time.Hour)})

	r := newTestRefresher(t, mem, &fakeExchanger{})

	_, err := r.ValidToken(context.Background(), "A")
	assert.ErrorIs(t, err, ErrCredentialRevoked)

	stored, err := mem.Credential(context.Background(), "A")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestValidToken_TransientFailureKeepsCredential(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(-time.Hour)})

	for _, failure := range []error{ErrRateLimited, errors.New("connection reset")} {
		r := newTestRefresher(t, mem, &fakeExchanger{err: failure})

		_, err := r.ValidToken(context.Background(), "A")
		require.Error(t, err)
		assert.ErrorIs(t, err, failure)
		assert.False(t, NeedsConsent(err))

		stored, err := mem.Credential(context.Background(), "A")
		require.NoError(t, err)
		assert.NotNil(t, stored)
	}
}

func TestValidToken_ClientRejectionKeepsCredential(t *testing.T) {
	t.Parallel()

	endpoint := newMockTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"AADSTS7000222: client secret expired"}`))
	})

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "U1", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(-time.Hour)})

	r := newTestRefresher(t, mem, newTestProvider(t, endpoint))

	_, err := r.ValidToken(context.Background(), "U1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClientRejected)
	assert.False(t, NeedsConsent(err))

	stored, err := mem.Credential(context.Background(), "U1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "rt", stored.RefreshToken)
}

func TestValidToken_NeverReturnsExpiredToken(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(-time.Hour)})

	ex := &fakeExchanger{tok: &oauth2.Token{AccessToken: "stale", Expiry: testNow.Add(-time.Second)}}
	r := newTestRefresher(t, mem, ex)

	tok, err := r.ValidToken(context.Background(), "A")
	assert.Error(t, err)
	assert.Empty(t, tok)
}

func TestValidToken_PersistFailureStillReturnsToken(t *testing.T) {
	t.Parallel()

	creds := &readOnlyCreds{c: &store.Credential{
		UserID: "A", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(-time.Hour),
	}}

	ex := &fakeExchanger{tok: &oauth2.Token{AccessToken: "new", Expiry: testNow.Add(time.Hour)}}
	r := newTestRefresher(t, creds, ex)

	tok, err := r.ValidToken(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
}

func TestValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	putCred(t, mem, store.Credential{UserID: "A", AccessToken: "old", RefreshToken: "rt", Expiry: testNow.Add(-time.Hour)})

	ex := &fakeExchanger{
		block: make(chan struct{}),
		tok:   &oauth2.Token{AccessToken: "new", Expiry: testNow.Add(time.Hour)},
	}
	r := newTestRefresher(t, mem, ex)

	var wg sync.WaitGroup

	results := make([]string, 5)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tok, err := r.ValidToken(context.Background(), "A")
			assert.NoError(t, err)

			results[i] = tok
		}()
	}

	// Give every goroutine time to join the in-flight call before releasing it.
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(ex.block)
	wg.Wait()

	for _, tok := range results {
		assert.Equal(t, "new", tok)
	}

	assert.LessOrEqual(t, ex.calls.Load(), int32(2))
}

func TestInvalidate_StoreFailure(t *testing.T) {
	t.Parallel()

	r := newTestRefresher(t, failingCreds{}, &fakeExchanger{})

	err := r.Invalidate(context.Background(), "A", "test")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

// readOnlyCreds serves one credential and rejects writes.
type readOnlyCreds struct {
	c *store.Credential
}

func (r *readOnlyCreds) Credential(context.Context, string) (*store.Credential, error) {
	cp := *r.c
	return &cp, nil
}

func (r *readOnlyCreds) PutCredential(context.Context, *store.Credential) error {
	return store.ErrUnavailable
}

func (r *readOnlyCreds) DeleteCredential(context.Context, string) error {
	return store.ErrUnavailable
}
