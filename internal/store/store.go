// Package store persists the two pieces of durable state the bot depends on:
// per-user OAuth credentials and observed group memberships. Each concern is
// an interface with two interchangeable backends, an in-memory one (Memory)
// and a SQL one (SQL, SQLite or PostgreSQL). Callers depend only on the
// interfaces and never learn which backend is active.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is wrapped by every backend failure. Read paths treat it as
// "nothing stored"; write paths log it and give up on the current operation.
// Use errors.Is(err, store.ErrUnavailable) to check.
var ErrUnavailable = errors.New("store: backend unavailable")

// errUnknownKind is returned by ParseKind for unrecognised context kinds.
var errUnknownKind = errors.New("store: unknown context kind")

// Kind is the conversational scope a membership was observed in.
type Kind string

// Context kinds.
const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
	KindRoom   Kind = "room"
)

// ParseKind converts a persisted kind string back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDirect, KindGroup, KindRoom:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownKind, s)
	}
}

// GroupLike reports whether the kind has more than one potential member.
func (k Kind) GroupLike() bool {
	return k == KindGroup || k == KindRoom
}

// Credential is a user's OAuth credential for the remote storage provider.
// A zero Expiry means the access token does not expire.
type Credential struct {
	UserID       string
	AccessToken  string // NEVER log
	RefreshToken string // NEVER log
	Expiry       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpiresWithin reports whether the access token is expired at now+margin.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}

	return !c.Expiry.After(now.Add(margin))
}

// Membership records that a user has been seen inside a group-like context.
type Membership struct {
	GroupID   string
	UserID    string
	Kind      Kind
	FirstSeen time.Time
	LastSeen  time.Time
}

// GroupSummary is an admin view of one group's recorded members.
type GroupSummary struct {
	GroupID  string
	Kind     Kind
	Members  int
	LastSeen time.Time
}

// CredentialStore persists per-user credentials. Absence is reported as
// (nil, nil), never as an error. All operations are idempotent.
type CredentialStore interface {
	Credential(ctx context.Context, userID string) (*Credential, error)
	PutCredential(ctx context.Context, c *Credential) error
	DeleteCredential(ctx context.Context, userID string) error
}

// MembershipStore records which users have been observed in which groups.
// It makes no authentication decisions.
type MembershipStore interface {
	RecordMember(ctx context.Context, groupID, userID string, kind Kind) error
	// MembersOf returns every user ever recorded for groupID in first-seen order.
	MembersOf(ctx context.Context, groupID string) ([]string, error)
}

// Backend is the full surface implemented by both Memory and SQL. The admin
// listing methods are used by the CLI only.
type Backend interface {
	CredentialStore
	MembershipStore
	Credentials(ctx context.Context) ([]Credential, error)
	Members(ctx context.Context, groupID string) ([]Membership, error)
	Groups(ctx context.Context) ([]GroupSummary, error)
	Ping(ctx context.Context) error
	Close() error
}

// unavailable wraps a backend error so that it matches ErrUnavailable while
// preserving the underlying cause for logs.
func unavailable(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrUnavailable, err)
}

// validateCredential rejects credentials that could never be used.
func validateCredential(c *Credential) error {
	if c == nil || c.UserID == "" {
		return errors.New("store: credential missing user id")
	}

	if c.AccessToken == "" {
		return fmt.Errorf("store: credential for %s missing access token", c.UserID)
	}

	return nil
}
