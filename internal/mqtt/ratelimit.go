package mqtt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// askLimiter caps inbound ask messages per window so a chatty
// automation cannot flood the assistant. Counters are atomic because
// paho callbacks run on the client's goroutine.
type askLimiter struct {
	count   atomic.Int64
	dropped atomic.Int64
	limit   int64
	window  time.Duration
	logger  *slog.Logger
}

func newAskLimiter(limit int64, window time.Duration, logger *slog.Logger) *askLimiter {
	return &askLimiter{limit: limit, window: window, logger: logger}
}

// run resets the window until ctx is cancelled.
func (l *askLimiter) run(ctx context.Context) {
	t := time.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.reset()
		}
	}
}

func (l *askLimiter) reset() {
	n := l.count.Swap(0)
	if dropped := l.dropped.Swap(0); dropped > 0 {
		l.logger.Warn("mqtt asks dropped, rate limit exceeded",
			"received", n,
			"dropped", dropped,
			"limit", l.limit,
			"window", l.window,
		)
	}
}

func (l *askLimiter) allow() bool {
	if l.count.Add(1) > l.limit {
		l.dropped.Add(1)
		return false
	}
	return true
}
