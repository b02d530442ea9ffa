package server

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/store"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := map[string]command{
		"login":          cmdLogin,
		"  LOGIN \n":     cmdLogin,
		"/connect":       cmdLogin,
		"logout":         cmdLogout,
		"Disconnect":     cmdLogout,
		"status":         cmdStatus,
		"/help":          cmdHelp,
		"login please":   cmdNone,
		"hello everyone": cmdNone,
		"":               cmdNone,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseCommand(in), in)
	}
}

func TestCommand_LoginInDirectChatReplies(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("login")))))
	h.drain(t)

	notes := h.notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, fanout.ChannelReply, notes[0].channel)
	assert.Equal(t, loginText("https://login.example/consent?u=U1"), notes[0].text)

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	assert.Len(t, h.observer.events, 1, "text activity is observed")
}

func TestCommand_LoginInGroupGoesPrivate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(groupFrom, textMessage("login")))))
	h.drain(t)

	notes := h.notifier.all()
	require.Len(t, notes, 2)

	assert.Equal(t, fanout.ChannelPush, notes[0].channel)
	assert.Equal(t, "U1", notes[0].to)
	assert.Equal(t, loginText("https://login.example/consent?u=U1"), notes[0].text)

	assert.Equal(t, fanout.ChannelReply, notes[1].channel)
	assert.Equal(t, sentPrivatelyText(), notes[1].text)
}

func TestCommand_GroupAnswerUndeliverable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness) { h.notifier.unreachable = map[string]bool{"U1": true} })
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(groupFrom, textMessage("status")))))
	h.drain(t)

	notes := h.notifier.all()
	require.Len(t, notes, 2)
	assert.Equal(t, fanout.ChannelFailed, notes[0].channel)
	assert.Equal(t, addFriendText(), notes[1].text)
}

func TestCommand_LoginLinkFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness) { h.consent.beginErr = errBackend })
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("login")))))
	h.drain(t)

	notes := h.notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, loginFailedText(), notes[0].text)
}

func TestCommand_Logout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("logout")))))
	h.drain(t)

	assert.Equal(t, []string{"U1"}, h.tokens.users)

	notes := h.notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, logoutText(), notes[0].text)

	h = newHarness(t, func(h *harness) { h.tokens.err = errBackend })
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("logout")))))
	h.drain(t)

	notes = h.notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, logoutFailedText(), notes[0].text)
}

func TestCommand_Status(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()

	h := newHarness(t, func(h *harness) { h.creds = mem })
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("status")))))
	h.drain(t)
	require.Len(t, h.notifier.all(), 1)
	assert.Equal(t, statusDisconnectedText(), h.notifier.all()[0].text)

	require.NoError(t, mem.PutCredential(t.Context(), &store.Credential{
		UserID: "U1", AccessToken: "at", Expiry: time.Now().Add(time.Hour),
	}))

	h = newHarness(t, func(h *harness) { h.creds = mem })
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("status")))))
	h.drain(t)
	require.Len(t, h.notifier.all(), 1)
	assert.Equal(t, statusConnectedText(), h.notifier.all()[0].text)

	h = newHarness(t, func(h *harness) { h.creds = brokenStore{} })
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(directFrom, textMessage("status")))))
	h.drain(t)
	require.Len(t, h.notifier.all(), 1)
	assert.Equal(t, statusUnknownText(), h.notifier.all()[0].text)
}

func TestCommand_OrdinaryChatIsOnlyObserved(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.serve(signedWebhook(testSecret, webhookBody(messageEvent(groupFrom, textMessage("nice photo")))))
	h.drain(t)

	assert.Empty(t, h.notifier.all())

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	require.Len(t, h.observer.events, 1)
	assert.Equal(t, "G1", h.observer.events[0].ContextID)
}

func TestCommandTexts_Golden(t *testing.T) {
	t.Parallel()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	cases := map[string]string{
		"login":          loginText("https://login.example/consent?state=abc"),
		"login_failed":   loginFailedText(),
		"logout":         logoutText(),
		"status_on":      statusConnectedText(),
		"status_off":     statusDisconnectedText(),
		"help":           helpText(),
		"connected":      connectedText(),
		"too_large":      tooLargeText("movie.mp4"),
		"fetch_failed":   fetchFailedText("movie.mp4"),
		"sent_privately": sentPrivatelyText(),
		"add_friend":     addFriendText(),
		"status_unknown": statusUnknownText(),
		"logout_failed":  logoutFailedText(),
	}

	for name, text := range cases {
		g.Assert(t, name, []byte(text))
	}
}
