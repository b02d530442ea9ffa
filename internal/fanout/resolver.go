package fanout

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/linedrive-go/internal/store"
)

// Resolver maps an inbound event to the users who should receive its file.
// It makes no authentication decisions.
type Resolver struct {
	members store.MembershipStore
	logger  *slog.Logger
}

// NewResolver creates a Resolver over members.
func NewResolver(members store.MembershipStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{members: members, logger: logger}
}

// Observe records the sender as a member of the event's group or room.
// Direct contexts and anonymous senders are ignored. Store failures are
// logged and swallowed.
func (r *Resolver) Observe(ctx context.Context, ev Event) {
	if !ev.GroupLike() || ev.SenderID == "" {
		return
	}

	if err := r.members.RecordMember(ctx, ev.ContextID, ev.SenderID, ev.Kind); err != nil {
		r.logger.Warn("failed to record membership",
			slog.String("group_id", ev.ContextID),
			slog.String("user_id", ev.SenderID),
			slog.String("error", err.Error()),
		)
	}
}

// Resolve returns the ordered, duplicate-free recipients of ev.
//
// In a direct context that is exactly the sender. In a group or room the
// sender is recorded first and the result is everyone ever recorded there,
// in first-seen order. The sender is appended when the membership store
// could not return it, so a known sender is always a recipient.
func (r *Resolver) Resolve(ctx context.Context, ev Event) []string {
	if !ev.GroupLike() {
		if ev.SenderID == "" {
			return nil
		}

		return []string{ev.SenderID}
	}

	r.Observe(ctx, ev)

	members, err := r.members.MembersOf(ctx, ev.ContextID)
	if err != nil {
		r.logger.Warn("failed to read group members, using sender only",
			slog.String("group_id", ev.ContextID),
			slog.String("error", err.Error()),
		)
	}

	seen := make(map[string]bool, len(members)+1)
	recipients := make([]string, 0, len(members)+1)

	for _, id := range members {
		if id == "" || seen[id] {
			continue
		}

		seen[id] = true
		recipients = append(recipients, id)
	}

	if ev.SenderID != "" && !seen[ev.SenderID] {
		recipients = append(recipients, ev.SenderID)
	}

	return recipients
}
