package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tonimelisma/linedrive-go/internal/auth"
)

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

var errSendFailed = errors.New("send failed")

// sent is one message observed by fakeTransport.
type sent struct {
	channel Channel
	to      string // reply token for ChannelReply
	text    string
}

// fakeTransport records sends. replyErr fails every reply; pushErr fails
// pushes to the listed targets.
type fakeTransport struct {
	mu       sync.Mutex
	msgs     []sent
	replies  int
	pushes   int
	replyErr error
	pushErr  map[string]error
	block    bool // when set, sends wait for ctx to end
}

func (f *fakeTransport) Reply(ctx context.Context, token, text string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.replies++

	if f.replyErr != nil {
		return f.replyErr
	}

	f.msgs = append(f.msgs, sent{channel: ChannelReply, to: token, text: text})

	return nil
}

func (f *fakeTransport) Push(ctx context.Context, to, text string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushes++

	if err := f.pushErr[to]; err != nil {
		return err
	}

	f.msgs = append(f.msgs, sent{channel: ChannelPush, to: to, text: text})

	return nil
}

// to returns the texts delivered to a push target or reply token.
func (f *fakeTransport) to(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string

	for _, m := range f.msgs {
		if m.to == target {
			out = append(out, m.text)
		}
	}

	return out
}

// fakeTokens is a scripted TokenProvider.
type fakeTokens struct {
	mu          sync.Mutex
	tokens      map[string]string
	errs        map[string]error
	invalidated []string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{tokens: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeTokens) ValidToken(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[userID]; err != nil {
		return "", err
	}

	tok, ok := f.tokens[userID]
	if !ok {
		return "", auth.ErrNotAuthenticated
	}

	return tok, nil
}

func (f *fakeTokens) Invalidate(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.tokens, userID)
	f.invalidated = append(f.invalidated, userID)

	return nil
}

// fakeUploader answers per access token. Tokens with no scripted error
// succeed with a RemoteFile named after the artifact.
type fakeUploader struct {
	mu      sync.Mutex
	errs    map[string]error
	panics  map[string]bool
	calls   map[string]int
	release chan struct{} // when non-nil, uploads wait for it
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{errs: map[string]error{}, panics: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeUploader) Upload(ctx context.Context, token string, art Artifact) (*RemoteFile, error) {
	f.mu.Lock()
	f.calls[token]++
	err := f.errs[token]
	doPanic := f.panics[token]
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if doPanic {
		panic("uploader exploded")
	}

	if err != nil {
		return nil, err
	}

	return &RemoteFile{ID: "id-" + token, Name: art.Name, WebURL: "https://drive.example/" + token}, nil
}

func (f *fakeUploader) callCount(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[token]
}

// fakeConsent issues deterministic consent links.
type fakeConsent struct {
	err error
}

func (f fakeConsent) Begin(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	return "https://login.example/consent?u=" + userID, nil
}

// farFuture is an expiry that never passes during a test.
var farFuture = time.Now().Add(24 * time.Hour)
