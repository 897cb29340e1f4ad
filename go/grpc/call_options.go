package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/metadata"
)

// CallSettings carries per-call overrides. All fields are optional.
type CallSettings struct {
	// Headers are appended to the outgoing metadata after authentication headers.
	// No deduplication is performed; both may appear.
	Headers metadata.MD
	// Deadline is an absolute deadline. Takes precedence over Timeout.
	Deadline time.Time
	// Timeout is a deadline relative to the time the call is built.
	Timeout time.Duration
	// Context is a call-scoped cancellation signal, combined first-fires-wins with
	// the context the call is invoked with.
	Context context.Context
}

// Caller builds per-call contexts and executes calls against a connection. It is
// safe to share across concurrent calls.
type Caller struct {
	opts          *Opts
	auth          *AuthOpts
	tokenProvider TokenProvider
	log           *slog.Logger
	writerGrace   time.Duration
}

// NewCaller instantiates and returns a new Caller.
func NewCaller(opts *Opts, auth *AuthOpts) *Caller {
	return &Caller{
		opts:        opts,
		auth:        auth,
		log:         slog.Default(),
		writerGrace: defaultWriterGracePeriod,
	}
}

// WithLogger sets the logger of this caller.
func (c *Caller) WithLogger(logger *slog.Logger) *Caller {
	c.log = logger
	return c
}

// WithTokenProvider sets a dynamic bearer token provider, used when no fixed token
// is configured.
func (c *Caller) WithTokenProvider(provider TokenProvider) *Caller {
	c.tokenProvider = provider
	return c
}

// WithWriterGracePeriod overrides the bounded wait applied to a duplex writer during
// teardown.
func (c *Caller) WithWriterGracePeriod(duration time.Duration) *Caller {
	c.writerGrace = duration
	return c
}

func (c *Caller) target() string { return c.opts.Target() }

// callContext derives the effective per-call context: merged cancellation, outgoing
// authentication and per-call headers, and the resolved deadline. The returned
// CancelFunc must be called when the call finishes. The context is owned by exactly
// one call invocation.
func (c *Caller) callContext(ctx context.Context, settings *CallSettings) (context.Context, context.CancelFunc, error) {
	if settings == nil {
		settings = &CallSettings{}
	}

	// Cancellation: first of the invoking context and the settings-scoped signal.
	ctx, cancel := joinCancel(ctx, settings.Context)

	// Headers: authentication first, then per-call headers. Appending keeps both.
	pairs, err := c.auth.headers(ctx, c.tokenProvider)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}
	for key, values := range settings.Headers {
		for _, value := range values {
			ctx = metadata.AppendToOutgoingContext(ctx, key, value)
		}
	}

	// Deadline: absolute wins over relative, which wins over the configured default.
	switch {
	case !settings.Deadline.IsZero():
		ctx, cancel = withCancel(ctx, cancel, settings.Deadline)
	case settings.Timeout > 0:
		ctx, cancel = withCancel(ctx, cancel, time.Now().Add(settings.Timeout))
	case c.opts.DefaultDeadline > 0:
		ctx, cancel = withCancel(ctx, cancel, time.Now().Add(c.opts.DefaultDeadline))
	}
	return ctx, cancel, nil
}

// joinCancel returns a context derived from ctx that is additionally cancelled when
// other is. The returned CancelFunc releases both.
func joinCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	joined, cancel := context.WithCancel(ctx)
	if other == nil || other.Done() == nil {
		return joined, cancel
	}
	stop := context.AfterFunc(other, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}

func withCancel(ctx context.Context, cancel context.CancelFunc, deadline time.Time) (context.Context, context.CancelFunc) {
	deadlineCtx, deadlineCancel := context.WithDeadline(ctx, deadline)
	return deadlineCtx, func() {
		deadlineCancel()
		cancel()
	}
}
