// Package dispatch turns one raw utterance into exactly one reply. It
// normalizes the input, consults the intent registry, runs the matched
// handler inside a containment boundary, and falls back to the
// fallback chain when nothing matches or the handler declines.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nugget/dazzy/internal/intent"
)

// Fixed replies.
const (
	EmptyReply   = "Say something. Silence doesn't compute."
	TroubleReply = "I had trouble with that."
	UnknownReply = "I don't know that yet."
)

// Resolver is the fallback chain.
type Resolver interface {
	Resolve(ctx context.Context, utterance string) intent.Result
}

// Observer is told about every dispatched turn. The metrics package
// implements it.
type Observer interface {
	ObserveDispatch(source string, kind intent.ErrorKind, elapsed time.Duration)
}

// Dispatcher is stateless and safe for concurrent use: the registry is
// immutable and the fallback stages hold no per-turn state.
type Dispatcher struct {
	registry *intent.Registry
	fallback Resolver
	observer Observer
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver reports each dispatch to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New returns a dispatcher over registry and fallback. Either may be
// nil.
func New(registry *intent.Registry, fallback Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: registry, fallback: fallback, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Dispatch returns exactly one result with a non-empty reply. It never
// panics and never returns an error: handler failures become
// [TroubleReply].
func (d *Dispatcher) Dispatch(ctx context.Context, raw string) intent.Result {
	start := time.Now()
	res := d.dispatch(ctx, raw)
	if res.Reply == "" {
		res.Reply = UnknownReply
	}
	if d.observer != nil {
		d.observer.ObserveDispatch(res.Source, res.Err, time.Since(start))
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, raw string) intent.Result {
	u := intent.Normalize(raw)
	if u == "" {
		return intent.Result{Reply: EmptyReply, Handled: true, Source: "empty"}
	}

	var declined intent.Result
	if m, ok := d.registry.Lookup(u); ok {
		res := d.invoke(ctx, m)
		if !res.Declined() {
			return res
		}
		d.logger.Debug("intent declined, trying fallback", "intent", m.Entry.Name, "kind", res.Err)
		declined = res
	}

	var exhausted intent.Result
	if d.fallback != nil {
		exhausted = d.resolve(ctx, u)
		if !exhausted.Declined() {
			return exhausted
		}
	}

	// Nothing answered. Prefer the matched handler's clarification,
	// then the chain's apology, then the generic reply.
	switch {
	case declined.Err == intent.KindMalformed && declined.Reply != "":
		return declined
	case exhausted.Reply != "":
		return exhausted
	case declined.Reply != "":
		return declined
	}
	return intent.Result{Reply: UnknownReply, Err: intent.KindDecline, Source: "unknown"}
}

// invoke runs the handler and converts errors and panics into a
// trouble reply.
func (d *Dispatcher) invoke(ctx context.Context, m intent.Match) (res intent.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("intent handler panicked",
				"intent", m.Entry.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			res = intent.Result{Reply: TroubleReply, Handled: true, Err: intent.KindInternal, Source: m.Entry.Name}
		}
	}()

	res, err := m.Entry.Handler.Handle(ctx, m.Arg)
	if err != nil {
		d.logger.Warn("intent handler failed", "intent", m.Entry.Name, "error", err)
		kind := intent.KindOf(err)
		if kind == intent.KindNone {
			kind = intent.KindInternal
		}
		return intent.Result{Reply: TroubleReply, Handled: true, Err: kind, Source: m.Entry.Name}
	}
	res.Source = m.Entry.Name
	return res
}

// resolve runs the fallback chain under the same containment as
// invoke. A panicking stage ends the turn with a trouble reply.
func (d *Dispatcher) resolve(ctx context.Context, u string) (res intent.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("fallback chain panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			res = intent.Result{Reply: TroubleReply, Handled: true, Err: intent.KindInternal, Source: "fallback"}
		}
	}()
	return d.fallback.Resolve(ctx, u)
}
