package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory is the transient backend. State lives for the lifetime of the
// value, which main creates once at process start. Writes to the same user
// or group are serialised by the map's per-key Compute; unrelated keys never
// share a lock.
type Memory struct {
	creds   *xsync.MapOf[string, Credential]
	groups  *xsync.MapOf[string, *memberGroup]
	nowFunc func() time.Time
}

// memberGroup holds one group's members. mu guards order and members.
type memberGroup struct {
	mu      sync.Mutex
	order   []string
	members map[string]*Membership
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		creds:   xsync.NewMapOf[string, Credential](),
		groups:  xsync.NewMapOf[string, *memberGroup](),
		nowFunc: time.Now,
	}
}

// Credential returns a copy of the stored credential, or nil if absent.
func (m *Memory) Credential(_ context.Context, userID string) (*Credential, error) {
	c, ok := m.creds.Load(userID)
	if !ok {
		return nil, nil //nolint:nilnil // absence is not an error
	}

	return &c, nil
}

// PutCredential inserts or replaces the credential, keeping the original
// CreatedAt when one exists.
func (m *Memory) PutCredential(_ context.Context, c *Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}

	now := m.nowFunc()

	m.creds.Compute(c.UserID, func(old Credential, loaded bool) (Credential, bool) {
		next := *c
		next.CreatedAt = now

		if loaded {
			next.CreatedAt = old.CreatedAt
		}

		next.UpdatedAt = now

		return next, false
	})

	return nil
}

// DeleteCredential removes the credential. Deleting an absent user is a no-op.
func (m *Memory) DeleteCredential(_ context.Context, userID string) error {
	m.creds.Delete(userID)
	return nil
}

// Credentials lists all stored credentials ordered by user id.
func (m *Memory) Credentials(_ context.Context) ([]Credential, error) {
	var out []Credential

	m.creds.Range(func(_ string, c Credential) bool {
		out = append(out, c)
		return true
	})

	slices.SortFunc(out, func(a, b Credential) int { return cmp.Compare(a.UserID, b.UserID) })

	return out, nil
}

// RecordMember upserts (groupID, userID) and bumps LastSeen.
func (m *Memory) RecordMember(_ context.Context, groupID, userID string, kind Kind) error {
	if groupID == "" || userID == "" {
		return errors.New("store: membership requires group and user id")
	}

	g, _ := m.groups.LoadOrCompute(groupID, func() *memberGroup {
		return &memberGroup{members: make(map[string]*Membership)}
	})

	now := m.nowFunc()

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.members[userID]; ok {
		existing.LastSeen = now
		existing.Kind = kind

		return nil
	}

	g.members[userID] = &Membership{
		GroupID:   groupID,
		UserID:    userID,
		Kind:      kind,
		FirstSeen: now,
		LastSeen:  now,
	}
	g.order = append(g.order, userID)

	return nil
}

// MembersOf returns recorded members in first-seen order.
func (m *Memory) MembersOf(_ context.Context, groupID string) ([]string, error) {
	g, ok := m.groups.Load(groupID)
	if !ok {
		return nil, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return slices.Clone(g.order), nil
}

// Members returns full membership records for groupID in first-seen order.
func (m *Memory) Members(_ context.Context, groupID string) ([]Membership, error) {
	g, ok := m.groups.Load(groupID)
	if !ok {
		return nil, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Membership, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.members[id])
	}

	return out, nil
}

// Groups summarises every recorded group ordered by group id.
func (m *Memory) Groups(_ context.Context) ([]GroupSummary, error) {
	var out []GroupSummary

	m.groups.Range(func(id string, g *memberGroup) bool {
		g.mu.Lock()
		defer g.mu.Unlock()

		s := GroupSummary{GroupID: id, Members: len(g.order)}
		for _, mem := range g.members {
			s.Kind = mem.Kind
			if mem.LastSeen.After(s.LastSeen) {
				s.LastSeen = mem.LastSeen
			}
		}

		out = append(out, s)

		return true
	})

	slices.SortFunc(out, func(a, b GroupSummary) int { return cmp.Compare(a.GroupID, b.GroupID) })

	return out, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op; the maps are garbage collected with the value.
func (m *Memory) Close() error { return nil }
