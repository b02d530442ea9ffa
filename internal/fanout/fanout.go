// Package fanout delivers a file received in a chat to the cloud drive of
// every user it is meant for. It resolves recipients from the chat context,
// obtains a valid token per recipient, uploads concurrently, and tells the
// people involved what happened over a reply-then-push notifier.
//
// Per-recipient failures never abort a fanout; they are reported as
// Outcomes.
package fanout

import (
	"context"
	"errors"

	"github.com/tonimelisma/linedrive-go/internal/store"
)

// Errors an Uploader returns so the orchestrator can tell failure kinds
// apart. Wrap them with %w.
var (
	ErrCredentialRejected = errors.New("fanout: credential rejected by remote storage")
	ErrRemoteRateLimited  = errors.New("fanout: remote storage rate limited")
)

// ErrDeliveryFailed marks a notification that neither tier could send.
// It is logged, never returned.
var ErrDeliveryFailed = errors.New("fanout: delivery failed")

// Event is an inbound chat message carrying a file.
type Event struct {
	Kind      store.Kind
	ContextID string // user, group or room id, depending on Kind
	SenderID  string // may be empty in group-like contexts
	MessageID string
	Reply     *ReplyHandle
}

// GroupLike reports whether the event came from a group or room.
func (e Event) GroupLike() bool {
	return e.Kind.GroupLike()
}

// Artifact is the file being fanned out.
type Artifact struct {
	Data     []byte
	Name     string
	MimeType string
}

// RemoteFile identifies an uploaded copy in a recipient's storage.
type RemoteFile struct {
	ID     string
	Name   string
	WebURL string
}

// Uploader stores an artifact in the storage account behind accessToken.
type Uploader interface {
	Upload(ctx context.Context, accessToken string, art Artifact) (*RemoteFile, error)
}

// TokenProvider supplies valid access tokens and the shared remediation for
// rejected credentials. Satisfied by *auth.Refresher.
type TokenProvider interface {
	ValidToken(ctx context.Context, userID string) (string, error)
	Invalidate(ctx context.Context, userID, reason string) error
}

// ConsentLinker issues the link an unauthenticated user follows to connect
// their storage. Satisfied by *auth.Consent.
type ConsentLinker interface {
	Begin(ctx context.Context, userID string) (string, error)
}
