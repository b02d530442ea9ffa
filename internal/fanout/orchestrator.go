package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/linedrive-go/internal/auth"
)

// Defaults for Options.
const (
	DefaultWorkers        = 4
	DefaultRefreshTimeout = 15 * time.Second
	DefaultUploadTimeout  = 2 * time.Minute
)

// errAbandoned marks an upload whose fanout stopped waiting for it.
var errAbandoned = errors.New("fanout: abandoned before upload finished")

// Options are the tunables of a fanout. They can be swapped at runtime
// with SetOptions; a fanout uses the values current when it starts.
type Options struct {
	Workers        int           // concurrent recipients per fanout
	RefreshTimeout time.Duration // per token lookup/refresh
	UploadTimeout  time.Duration // per upload, independent of the fanout deadline
	NotifyTimeout  time.Duration // per send attempt
}

// DefaultOptions returns the built-in tunables.
func DefaultOptions() Options {
	return Options{
		Workers:        DefaultWorkers,
		RefreshTimeout: DefaultRefreshTimeout,
		UploadTimeout:  DefaultUploadTimeout,
		NotifyTimeout:  DefaultNotifyTimeout,
	}
}

// withDefaults fills zero or negative fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()

	if o.Workers <= 0 {
		o.Workers = d.Workers
	}

	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = d.RefreshTimeout
	}

	if o.UploadTimeout <= 0 {
		o.UploadTimeout = d.UploadTimeout
	}

	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = d.NotifyTimeout
	}

	return o
}

// OrchestratorConfig holds the collaborators of an Orchestrator.
type OrchestratorConfig struct {
	Resolver *Resolver
	Tokens   TokenProvider
	Consent  ConsentLinker // optional; prompts carry no link when nil
	Uploader Uploader
	Notifier *Notifier
	Options  Options
	Logger   *slog.Logger
}

// Orchestrator runs fanouts. It is safe for concurrent use; each Deliver
// call is independent.
type Orchestrator struct {
	resolver *Resolver
	tokens   TokenProvider
	consent  ConsentLinker
	uploader Uploader
	notifier *Notifier
	opts     atomic.Pointer[Options]
	logger   *slog.Logger

	// detached tracks uploads still running after their fanout was abandoned.
	detached sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator from cfg.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		resolver: cfg.Resolver,
		tokens:   cfg.Tokens,
		consent:  cfg.Consent,
		uploader: cfg.Uploader,
		notifier: cfg.Notifier,
		logger:   logger,
	}
	o.SetOptions(cfg.Options)

	return o
}

// SetOptions replaces the tunables for fanouts started from now on.
func (o *Orchestrator) SetOptions(opts Options) {
	opts = opts.withDefaults()
	o.opts.Store(&opts)
	o.notifier.SetTimeout(opts.NotifyTimeout)
}

// Options returns the current tunables.
func (o *Orchestrator) Options() Options {
	return *o.opts.Load()
}

// Wait blocks until uploads detached from abandoned fanouts have finished.
func (o *Orchestrator) Wait() {
	o.detached.Wait()
}

// Deliver fans art out to every recipient of ev and reports one Outcome
// per recipient, in resolution order. It never returns an error: failures
// are recorded per recipient and the people involved are notified.
//
// ctx is the controlling deadline for the fanout. When it ends, recipients
// not yet finished are reported as ReasonAbandoned; their in-flight uploads
// run to completion in the background and the results are discarded.
func (o *Orchestrator) Deliver(ctx context.Context, ev Event, art Artifact) []Outcome {
	opts := o.Options()
	started := time.Now()

	logger := o.logger.With(
		slog.String("fanout_id", uuid.NewString()),
		slog.String("kind", string(ev.Kind)),
		slog.String("context_id", ev.ContextID),
	)

	recipients := o.resolver.Resolve(ctx, ev)
	outcomes := make([]Outcome, len(recipients))

	logger.Info("fanout started",
		slog.String("file", art.Name),
		slog.Int("size", len(art.Data)),
		slog.Int("recipients", len(recipients)),
	)

	var g errgroup.Group
	g.SetLimit(opts.Workers)

	for i, userID := range recipients {
		g.Go(func() error {
			outcomes[i] = o.deliverOne(ctx, ev, art, userID, opts, logger)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers never return errors

	summary := Summarize(outcomes)

	// A group always gets one acknowledgment, even when nobody could receive the file.
	if ev.GroupLike() {
		o.notifier.Notify(context.WithoutCancel(ctx),
			Target{Reply: ev.Reply, To: ev.ContextID},
			groupAckText(art.Name, summary),
		)
	}

	logger.Info("fanout finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("need_consent", summary.NeedConsent),
		slog.Int("other_failures", summary.OtherFailure),
		slog.Duration("elapsed", time.Since(started)),
	)

	return outcomes
}

// deliverOne handles a single recipient with panic isolation.
func (o *Orchestrator) deliverOne(
	ctx context.Context, ev Event, art Artifact, userID string, opts Options, logger *slog.Logger,
) (out Outcome) {
	out = Outcome{UserID: userID}
	logger = logger.With(slog.String("user_id", userID))

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				UserID: userID,
				Reason: ReasonUploadFailed,
				Err:    fmt.Errorf("fanout: panic delivering to %s: %v", userID, r),
			}

			logger.Error("recipient delivery panicked", slog.Any("panic", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Reason, out.Err = ReasonAbandoned, err
		return out
	}

	// Messages to the recipient outlive an abandoned fanout so the sender
	// still hears back.
	notifyCtx := context.WithoutCancel(ctx)
	private := privateTarget(ev, userID)

	token, err := o.validToken(ctx, userID, opts.RefreshTimeout)
	if err != nil {
		out.Reason, out.Err = classifyTokenError(ctx, err), err

		logger.Debug("recipient has no usable token",
			slog.String("reason", out.Reason.String()),
			slog.String("error", err.Error()),
		)

		o.reportFailure(notifyCtx, ev, private, userID, art.Name, out.Reason, logger)

		return out
	}

	remote, err := o.upload(ctx, token, art, userID, opts.UploadTimeout, logger)
	if err != nil {
		out.Reason, out.Err = classifyUploadError(err), err

		logger.Warn("upload failed",
			slog.String("reason", out.Reason.String()),
			slog.String("error", err.Error()),
		)

		if out.Reason == ReasonCredentialRevoked {
			if invErr := o.tokens.Invalidate(notifyCtx, userID, "rejected at upload"); invErr != nil {
				logger.Error("failed to invalidate rejected credential", slog.String("error", invErr.Error()))
			}
		}

		o.reportFailure(notifyCtx, ev, private, userID, art.Name, out.Reason, logger)

		return out
	}

	out.Succeeded = true
	out.Remote = remote

	logger.Info("saved to recipient drive", slog.String("remote_id", remote.ID))

	o.notifier.Notify(notifyCtx, private, savedText(remote))

	return out
}

// validToken looks up or refreshes the recipient's token. The lookup runs
// detached from ctx so a refresh that rotates the refresh token is always
// persisted; an abandoned fanout is detected afterwards.
func (o *Orchestrator) validToken(ctx context.Context, userID string, timeout time.Duration) (string, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	token, err := o.tokens.ValidToken(rctx, userID)
	if err != nil {
		return "", err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%w: %w", errAbandoned, ctxErr)
	}

	return token, nil
}

type uploadResult struct {
	remote *RemoteFile
	err    error
}

// upload runs the upload on its own deadline. If ctx ends first the upload
// keeps running, tracked by o.detached, and its result is logged and dropped.
func (o *Orchestrator) upload(
	ctx context.Context, token string, art Artifact, userID string, timeout time.Duration, logger *slog.Logger,
) (*RemoteFile, error) {
	done := make(chan uploadResult, 1)

	o.detached.Add(1)

	go func() {
		defer o.detached.Done()

		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		done <- o.runUpload(uctx, token, art, userID)
	}()

	select {
	case r := <-done:
		return r.remote, r.err
	case <-ctx.Done():
	}

	// Prefer a result that raced the deadline.
	select {
	case r := <-done:
		return r.remote, r.err
	default:
	}

	o.detached.Add(1)

	go func() {
		defer o.detached.Done()

		r := <-done
		logger.Info("upload finished after fanout was abandoned, result discarded",
			slog.Bool("succeeded", r.err == nil),
		)
	}()

	return nil, fmt.Errorf("%w: %w", errAbandoned, ctx.Err())
}

// runUpload calls the uploader, turning a panic or a nil file into an error.
func (o *Orchestrator) runUpload(ctx context.Context, token string, art Artifact, userID string) (r uploadResult) {
	defer func() {
		if p := recover(); p != nil {
			r = uploadResult{err: fmt.Errorf("fanout: panic uploading for %s: %v", userID, p)}
		}
	}()

	remote, err := o.uploader.Upload(ctx, token, art)
	if err == nil && remote == nil {
		err = fmt.Errorf("fanout: uploader returned no file for %s", userID)
	}

	return uploadResult{remote: remote, err: err}
}

// reportFailure tells the recipient why they did not get the file. Consent
// failures get a connect prompt. Abandoned recipients in a group hear
// nothing privately; the group acknowledgment covers them.
func (o *Orchestrator) reportFailure(
	ctx context.Context, ev Event, t Target, userID, fileName string, reason Reason, logger *slog.Logger,
) {
	switch {
	case reason.NeedsConsent():
		o.prompt(ctx, t, userID, fileName, logger)
	case reason == ReasonAbandoned && ev.GroupLike():
	default:
		o.notifier.Notify(ctx, t, failedText(fileName, reason))
	}
}

// prompt sends a connect prompt with a fresh consent link when possible.
func (o *Orchestrator) prompt(ctx context.Context, t Target, userID, fileName string, logger *slog.Logger) {
	var link string

	if o.consent != nil {
		l, err := o.consent.Begin(ctx, userID)
		if err != nil {
			logger.Warn("failed to create consent link", slog.String("error", err.Error()))
		} else {
			link = l
		}
	}

	o.notifier.Notify(ctx, t, authPromptText(fileName, link))
}

// privateTarget addresses userID privately. In a direct chat with the
// sender the event's reply handle is used first.
func privateTarget(ev Event, userID string) Target {
	t := Target{To: userID}
	if !ev.GroupLike() && userID == ev.SenderID {
		t.Reply = ev.Reply
	}

	return t
}

func classifyTokenError(ctx context.Context, err error) Reason {
	switch {
	case errors.Is(err, errAbandoned):
		return ReasonAbandoned
	case errors.Is(err, auth.ErrCredentialRevoked):
		return ReasonCredentialRevoked
	case auth.NeedsConsent(err):
		return ReasonNotAuthenticated
	case errors.Is(err, auth.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case ctx.Err() != nil:
		return ReasonAbandoned
	default:
		return ReasonRefreshFailed
	}
}

func classifyUploadError(err error) Reason {
	switch {
	case errors.Is(err, errAbandoned):
		return ReasonAbandoned
	case errors.Is(err, ErrCredentialRejected):
		return ReasonCredentialRevoked
	case errors.Is(err, ErrRemoteRateLimited):
		return ReasonRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonUploadFailed
	}
}
