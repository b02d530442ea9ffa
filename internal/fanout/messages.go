package fanout

import (
	"fmt"
	"strings"
)

// User-facing texts. Internal error strings never appear here.

func authPromptText(fileName, link string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Someone shared %q with you, but your OneDrive is not connected yet.\n", fileName)

	if link != "" {
		fmt.Fprintf(&b, "Connect it here (link valid for a few minutes):\n%s", link)
	} else {
		b.WriteString(`Send "login" to me in a private chat to connect it.`)
	}

	return b.String()
}

func savedText(remote *RemoteFile) string {
	if remote.WebURL == "" {
		return fmt.Sprintf("Saved %q to your OneDrive.", remote.Name)
	}

	return fmt.Sprintf("Saved %q to your OneDrive:\n%s", remote.Name, remote.WebURL)
}

func failedText(fileName string, reason Reason) string {
	switch reason {
	case ReasonRateLimited:
		return fmt.Sprintf("OneDrive is busy right now, so %q was not saved. Please send it again later.", fileName)
	case ReasonAbandoned:
		return fmt.Sprintf("Still working on %q. If it does not show up in your OneDrive soon, please send it again.", fileName)
	case ReasonTimeout:
		return fmt.Sprintf("Saving %q to your OneDrive took too long and was stopped. Please send it again.", fileName)
	default:
		return fmt.Sprintf("Something went wrong saving %q to your OneDrive. Please send it again.", fileName)
	}
}

// groupAckText is the single acknowledgment a group or room gets per file.
func groupAckText(fileName string, s Summary) string {
	if s.Total == 0 {
		return fmt.Sprintf("Nobody here has connected OneDrive yet, so %q was not saved.\n"+
			`Send "login" to me in a private chat to connect it.`, fileName)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%q saved for %d of %d members.", fileName, s.Succeeded, s.Total)

	if s.NeedConsent > 0 {
		noun := "members need"
		if s.NeedConsent == 1 {
			noun = "member needs"
		}

		fmt.Fprintf(&b, "\n%d %s to connect OneDrive; I sent them a private link.", s.NeedConsent, noun)
	}

	return b.String()
}
