package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/line"
)

// commandTimeout bounds the store and consent work behind one command.
const commandTimeout = 30 * time.Second

type command int

const (
	cmdNone command = iota
	cmdLogin
	cmdLogout
	cmdStatus
	cmdHelp
)

// parseCommand recognises a bare command word, optionally prefixed with "/".
// Anything else is ordinary chat.
func parseCommand(text string) command {
	word := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(text), "/"))

	switch word {
	case "login", "connect":
		return cmdLogin
	case "logout", "disconnect":
		return cmdLogout
	case "status":
		return cmdStatus
	case "help":
		return cmdHelp
	default:
		return cmdNone
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, in line.Inbound, logger *slog.Logger) {
	cmd := parseCommand(in.Text)
	if cmd == cmdNone || in.Event.SenderID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user := in.Event.SenderID
	logger = logger.With(slog.String("user_id", user))

	var text string

	switch cmd {
	case cmdLogin:
		link, err := d.cfg.Consent.Begin(ctx, user)
		if err != nil {
			logger.Warn("issuing consent link failed", slog.String("error", err.Error()))
			text = loginFailedText()
		} else {
			text = loginText(link)
		}

	case cmdLogout:
		if err := d.cfg.Tokens.Invalidate(ctx, user, "user logout"); err != nil {
			logger.Warn("logout failed", slog.String("error", err.Error()))
			text = logoutFailedText()
		} else {
			text = logoutText()
		}

	case cmdStatus:
		cred, err := d.cfg.Credentials.Credential(ctx, user)

		switch {
		case err != nil:
			logger.Warn("status lookup failed", slog.String("error", err.Error()))
			text = statusUnknownText()
		case cred == nil:
			text = statusDisconnectedText()
		default:
			text = statusConnectedText()
		}

	case cmdHelp:
		text = helpText()
	}

	d.answerPrivately(ctx, in.Event, text)
}

// answerPrivately sends a command answer to the sender only. In groups the
// answer goes out as a push to the sender and the group gets a short
// pointer through the reply token.
func (d *Dispatcher) answerPrivately(ctx context.Context, ev fanout.Event, text string) {
	if !ev.GroupLike() {
		d.cfg.Notifier.Notify(ctx, fanout.Target{Reply: ev.Reply, To: ev.SenderID}, text)
		return
	}

	pointer := sentPrivatelyText()
	if d.cfg.Notifier.Notify(ctx, fanout.Target{To: ev.SenderID}, text) == fanout.ChannelFailed {
		pointer = addFriendText()
	}

	// Reply only; a push would address the whole group.
	d.cfg.Notifier.Notify(ctx, fanout.Target{Reply: ev.Reply}, pointer)
}

// User-facing texts.

func loginText(link string) string {
	return fmt.Sprintf("Connect your OneDrive here (link valid for a few minutes):\n%s", link)
}

func loginFailedText() string {
	return "I could not create a login link right now. Please try again in a moment."
}

func logoutText() string {
	return "Your OneDrive is disconnected. Files shared with you will no longer be saved."
}

func logoutFailedText() string {
	return "I could not disconnect your OneDrive right now. Please try again in a moment."
}

func statusConnectedText() string {
	return "Your OneDrive is connected. Files shared with you are saved automatically."
}

func statusDisconnectedText() string {
	return `Your OneDrive is not connected. Send "login" to connect it.`
}

func statusUnknownText() string {
	return "I could not check your connection right now. Please try again in a moment."
}

func helpText() string {
	return "Send me a file, or share one in a group I am in, and I will save it to the OneDrive of everyone who has connected.\n" +
		"Commands: login, logout, status."
}

func sentPrivatelyText() string {
	return "I sent you a private message."
}

func addFriendText() string {
	return "I could not message you privately. Add me as a friend and try again."
}

func connectedText() string {
	return "Your OneDrive is now connected. Files shared with you will be saved there."
}

func tooLargeText(fileName string) string {
	return fmt.Sprintf("%q is too large for me to save.", fileName)
}

func fetchFailedText(fileName string) string {
	return fmt.Sprintf("I could not download %q from LINE. Please send it again.", fileName)
}
