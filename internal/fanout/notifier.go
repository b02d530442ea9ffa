package fanout

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultNotifyTimeout bounds one send attempt.
const DefaultNotifyTimeout = 10 * time.Second

// Transport sends chat messages. Reply answers an inbound event with its
// one-shot reply token; Push addresses a user, group or room directly.
type Transport interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, to, text string) error
}

// Channel is the tier a notification went out on.
type Channel int

// Delivery channels.
const (
	ChannelFailed Channel = iota
	ChannelReply
	ChannelPush
)

func (c Channel) String() string {
	switch c {
	case ChannelReply:
		return "direct_reply"
	case ChannelPush:
		return "fallback_push"
	default:
		return "failed"
	}
}

// Target addresses a notification. Reply is tried first when present and
// unused; To receives the push fallback.
type Target struct {
	Reply *ReplyHandle
	To    string
}

// Notifier sends user-facing messages with reply-then-push delivery.
// Notify never fails its caller.
type Notifier struct {
	transport Transport
	timeout   atomic.Int64 // time.Duration per attempt
	logger    *slog.Logger
}

// NewNotifier creates a Notifier. timeout <= 0 uses DefaultNotifyTimeout.
func NewNotifier(transport Transport, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{transport: transport, logger: logger}
	n.SetTimeout(timeout)

	return n
}

// SetTimeout changes the per-attempt timeout for subsequent sends.
func (n *Notifier) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultNotifyTimeout
	}

	n.timeout.Store(int64(d))
}

// Notify delivers text to t. It consumes t.Reply if possible, falls back to
// exactly one push to t.To, and reports which channel carried the message.
func (n *Notifier) Notify(ctx context.Context, t Target, text string) Channel {
	if token, ok := t.Reply.Take(); ok {
		err := n.attempt(ctx, func(ctx context.Context) error {
			return n.transport.Reply(ctx, token, text)
		})
		if err == nil {
			return ChannelReply
		}

		n.logger.Debug("reply failed, falling back to push",
			slog.String("to", t.To),
			slog.String("error", err.Error()),
		)
	}

	if t.To != "" {
		err := n.attempt(ctx, func(ctx context.Context) error {
			return n.transport.Push(ctx, t.To, text)
		})
		if err == nil {
			return ChannelPush
		}

		n.logger.Warn("notification not delivered",
			slog.String("to", t.To),
			slog.String("error", ErrDeliveryFailed.Error()),
			slog.String("cause", err.Error()),
		)

		return ChannelFailed
	}

	n.logger.Warn("notification not delivered",
		slog.String("error", ErrDeliveryFailed.Error()),
		slog.String("cause", "no usable reply handle and no push target"),
	)

	return ChannelFailed
}

// attempt runs one send bounded by the notifier timeout.
func (n *Notifier) attempt(ctx context.Context, send func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(n.timeout.Load()))
	defer cancel()

	return send(ctx)
}
