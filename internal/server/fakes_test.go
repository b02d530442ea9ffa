package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/linedrive-go/internal/archive"
	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/store"
)

const testSecret = "channel-secret"

var errBackend = errors.New("backend down")

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeContent struct {
	mu    sync.Mutex
	data  []byte
	ctype string
	err   error
	calls []string
}

func (f *fakeContent) Content(_ context.Context, messageID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, messageID)

	if f.err != nil {
		return nil, "", f.err
	}

	return f.data, f.ctype, nil
}

type delivery struct {
	ev  fanout.Event
	art fanout.Artifact
}

type fakeDeliverer struct {
	mu      sync.Mutex
	calls   []delivery
	release chan struct{} // when set, Deliver blocks until closed
}

func (f *fakeDeliverer) Deliver(_ context.Context, ev fanout.Event, art fanout.Artifact) []fanout.Outcome {
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, delivery{ev: ev, art: art})

	return []fanout.Outcome{{UserID: ev.SenderID, Succeeded: true}}
}

func (f *fakeDeliverer) Wait() {}

func (f *fakeDeliverer) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]delivery(nil), f.calls...)
}

type fakeObserver struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (f *fakeObserver) Observe(_ context.Context, ev fanout.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, ev)
}

type fakeConsent struct {
	beginErr    error
	completeErr error
	user        string
}

func (f *fakeConsent) Begin(_ context.Context, userID string) (string, error) {
	if f.beginErr != nil {
		return "", f.beginErr
	}

	return "https://login.example/consent?u=" + userID, nil
}

func (f *fakeConsent) Complete(_ context.Context, state, code string) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}

	return f.user, nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	err   error
	users []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.users = append(f.users, userID)

	return f.err
}

type notice struct {
	channel fanout.Channel
	to      string
	text    string
}

// fakeNotifier mimics reply-then-push delivery. Pushes to ids in unreachable
// fail.
type fakeNotifier struct {
	mu          sync.Mutex
	notices     []notice
	unreachable map[string]bool
}

func (f *fakeNotifier) Notify(_ context.Context, t fanout.Target, text string) fanout.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := t.Reply.Take(); ok {
		f.notices = append(f.notices, notice{channel: fanout.ChannelReply, text: text})
		return fanout.ChannelReply
	}

	if t.To != "" && !f.unreachable[t.To] {
		f.notices = append(f.notices, notice{channel: fanout.ChannelPush, to: t.To, text: text})
		return fanout.ChannelPush
	}

	f.notices = append(f.notices, notice{channel: fanout.ChannelFailed, to: t.To, text: text})

	return fanout.ChannelFailed
}

func (f *fakeNotifier) all() []notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]notice(nil), f.notices...)
}

type brokenStore struct {
	store.CredentialStore
}

func (brokenStore) Ping(context.Context) error { return errBackend }

func (brokenStore) Credential(context.Context, string) (*store.Credential, error) {
	return nil, fmt.Errorf("store: get: %w: %w", store.ErrUnavailable, errBackend)
}

// harness wires a Server over fakes.
type harness struct {
	content   *fakeContent
	deliverer *fakeDeliverer
	observer  *fakeObserver
	consent   *fakeConsent
	tokens    *fakeInvalidator
	notifier  *fakeNotifier
	creds     store.CredentialStore
	archive   archive.Archive
	pinger    Pinger
	maxSize   int64

	dispatcher *Dispatcher
	server     *Server
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()

	mem := store.NewMemory()
	h := &harness{
		content:   &fakeContent{data: []byte("file-bytes"), ctype: "application/pdf"},
		deliverer: &fakeDeliverer{},
		observer:  &fakeObserver{},
		consent:   &fakeConsent{user: "U1"},
		tokens:    &fakeInvalidator{},
		notifier:  &fakeNotifier{},
		creds:     mem,
		pinger:    mem,
		maxSize:   1 << 20,
	}

	for _, o := range opts {
		o(h)
	}

	h.dispatcher = NewDispatcher(&DispatcherConfig{
		Content:        h.content,
		Fanout:         h.deliverer,
		Observer:       h.observer,
		Consent:        h.consent,
		Credentials:    h.creds,
		Tokens:         h.tokens,
		Notifier:       h.notifier,
		Archive:        h.archive,
		MaxContentSize: h.maxSize,
		Logger:         testLogger(t),
	})

	h.server = New(Config{ChannelSecret: testSecret}, h.dispatcher, h.consent, h.pinger, testLogger(t))

	return h
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	return rec
}

func (h *harness) drain(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.dispatcher.Wait(ctx))
}

func signedWebhook(secret, body string) *http.Request {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewBufferString(body))
	req.Header.Set("X-Line-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")

	return req
}

func webhookBody(events ...string) string {
	return `{"destination":"Ubot","events":[` + strings.Join(events, ",") + `]}`
}

func messageEvent(source, message string) string {
	return fmt.Sprintf(`{"type":"message","mode":"active","timestamp":%d,`+
		`"webhookEventId":"01H","deliveryContext":{"isRedelivery":false},`+
		`"replyToken":"rt-1","source":%s,"message":%s}`, time.Now().UnixMilli(), source, message)
}

const (
	directFrom = `{"type":"user","userId":"U1"}`
	groupFrom  = `{"type":"group","groupId":"G1","userId":"U1"}`
)

func fileMessage(size int) string {
	return fmt.Sprintf(`{"type":"file","id":"m1","quoteToken":"q","fileName":"report.pdf","fileSize":%d}`, size)
}

func textMessage(text string) string {
	return fmt.Sprintf(`{"type":"text","id":"t1","quoteToken":"q","text":%q}`, text)
}
