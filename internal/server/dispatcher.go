package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/linedrive-go/internal/archive"
	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/line"
	"github.com/tonimelisma/linedrive-go/internal/store"
)

// DefaultFanoutDeadline bounds the handling of one inbound file.
const DefaultFanoutDeadline = 5 * time.Minute

// archiveTimeout bounds one archive write.
const archiveTimeout = time.Minute

// ContentFetcher downloads message content from the chat platform.
type ContentFetcher interface {
	Content(ctx context.Context, messageID string) ([]byte, string, error)
}

// Deliverer runs fanouts. Wait blocks until detached uploads finish.
type Deliverer interface {
	Deliver(ctx context.Context, ev fanout.Event, art fanout.Artifact) []fanout.Outcome
	Wait()
}

// Observer records group membership for non-file activity.
type Observer interface {
	Observe(ctx context.Context, ev fanout.Event)
}

// ConsentStarter issues consent links.
type ConsentStarter interface {
	Begin(ctx context.Context, userID string) (string, error)
}

// Invalidator deletes a user's credential.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, reason string) error
}

// Notifier sends user-facing text with reply-then-push delivery.
type Notifier interface {
	Notify(ctx context.Context, t fanout.Target, text string) fanout.Channel
}

// DispatcherConfig holds the collaborators of a Dispatcher. Archive may be
// nil.
type DispatcherConfig struct {
	Content        ContentFetcher
	Fanout         Deliverer
	Observer       Observer
	Consent        ConsentStarter
	Credentials    store.CredentialStore
	Tokens         Invalidator
	Notifier       Notifier
	Archive        archive.Archive
	MaxContentSize int64
	FanoutDeadline time.Duration
	Logger         *slog.Logger
}

// Dispatcher handles webhook events in the background, one goroutine per
// event, and tracks them so shutdown can drain.
type Dispatcher struct {
	cfg      DispatcherConfig
	deadline atomic.Int64 // time.Duration
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{cfg: *cfg, logger: logger}
	if d.cfg.Archive == nil {
		d.cfg.Archive = archive.Nop{}
	}

	d.SetFanoutDeadline(cfg.FanoutDeadline)

	return d
}

// SetFanoutDeadline changes the deadline for files received from now on.
func (d *Dispatcher) SetFanoutDeadline(v time.Duration) {
	if v <= 0 {
		v = DefaultFanoutDeadline
	}

	d.deadline.Store(int64(v))
}

// Dispatch starts handling events and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, events []line.Inbound) {
	for _, in := range events {
		d.spawn(func() { d.handle(ctx, in) })
	}
}

// Confirm tells a user their OneDrive is now connected.
func (d *Dispatcher) Confirm(ctx context.Context, userID string) {
	ctx = context.WithoutCancel(ctx)

	d.spawn(func() {
		d.cfg.Notifier.Notify(ctx, fanout.Target{To: userID}, connectedText())
	})
}

// Wait blocks until every dispatched event and every detached upload has
// finished, or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		d.cfg.Fanout.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: draining: %w", ctx.Err())
	}
}

func (d *Dispatcher) spawn(fn func()) {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic while handling event", slog.Any("panic", r))
			}
		}()

		fn()
	}()
}

func (d *Dispatcher) handle(ctx context.Context, in line.Inbound) {
	logger := d.logger.With(
		slog.String("request_id", RequestIDFromContext(ctx)),
		slog.String("context_id", in.Event.ContextID),
		slog.String("message_id", in.Event.MessageID),
	)

	switch in.Kind {
	case line.InboundFile:
		d.handleFile(ctx, in, logger)
	case line.InboundText:
		d.cfg.Observer.Observe(ctx, in.Event)
		d.handleCommand(ctx, in, logger)
	case line.InboundJoined:
		for _, userID := range in.Members {
			ev := in.Event
			ev.SenderID = userID
			d.cfg.Observer.Observe(ctx, ev)
		}

		logger.Debug("recorded joined members", slog.Int("count", len(in.Members)))
	}
}

// handleFile downloads the content, archives a copy and fans it out.
func (d *Dispatcher) handleFile(ctx context.Context, in line.Inbound, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.deadline.Load()))
	defer cancel()

	notifyCtx := context.WithoutCancel(ctx)
	sourceTarget := fanout.Target{Reply: in.Event.Reply, To: in.Event.ContextID}

	if d.cfg.MaxContentSize > 0 && in.FileSize > d.cfg.MaxContentSize {
		logger.Info("file too large, not fetched", slog.Int64("size", in.FileSize))
		d.cfg.Notifier.Notify(notifyCtx, sourceTarget, tooLargeText(in.FileName))

		return
	}

	data, contentType, err := d.cfg.Content.Content(ctx, in.Event.MessageID)
	if err != nil {
		logger.Warn("fetching message content failed", slog.String("error", err.Error()))

		text := fetchFailedText(in.FileName)
		if errors.Is(err, line.ErrContentTooLarge) {
			text = tooLargeText(in.FileName)
		}

		d.cfg.Notifier.Notify(notifyCtx, sourceTarget, text)

		return
	}

	mimeType := in.MimeType
	if contentType != "" && (mimeType == "" || mimeType == "application/octet-stream") {
		mimeType = contentType
	}

	art := fanout.Artifact{Data: data, Name: in.FileName, MimeType: mimeType}

	d.archiveCopy(notifyCtx, in.Event, art, logger)

	outcomes := d.cfg.Fanout.Deliver(ctx, in.Event, art)

	logger.Debug("file handled", slog.Int("outcomes", len(outcomes)))
}

// archiveCopy writes the artifact to the archive in the background.
func (d *Dispatcher) archiveCopy(ctx context.Context, ev fanout.Event, art fanout.Artifact, logger *slog.Logger) {
	if _, ok := d.cfg.Archive.(archive.Nop); ok {
		return
	}

	entry := &archive.Entry{
		ContextID: ev.ContextID,
		MessageID: ev.MessageID,
		Name:      art.Name,
		MimeType:  art.MimeType,
		Data:      art.Data,
	}

	d.spawn(func() {
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()

		loc, err := d.cfg.Archive.Put(ctx, entry)
		if err != nil {
			logger.Warn("archiving file failed", slog.String("error", err.Error()))
			return
		}

		logger.Debug("file archived", slog.String("location", loc))
	})
}
