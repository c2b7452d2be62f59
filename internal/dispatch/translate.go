package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"unicode"

	"github.com/nugget/dazzy/internal/intent"
)

// Translator renders text in English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Translating puts utterances containing non-ASCII letters through a
// translator before dispatching them. Plain ASCII input skips the
// round trip. A failed translation dispatches the original text.
type Translating struct {
	Next       *Dispatcher
	Translator Translator
	Logger     *slog.Logger
}

// Dispatch implements session.Dispatcher.
func (t Translating) Dispatch(ctx context.Context, raw string) intent.Result {
	text := raw
	if t.Translator != nil && NeedsTranslation(raw) {
		out, err := t.translate(ctx, raw)
		if err != nil {
			t.logger().Warn("translation failed, dispatching original", "error", err)
		} else {
			t.logger().Debug("utterance translated", "from", raw, "to", out)
			text = out
		}
	}
	return t.Next.Dispatch(ctx, text)
}

func (t Translating) translate(ctx context.Context, raw string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translator panicked: %v", r)
		}
	}()
	return t.Translator.Translate(ctx, raw)
}

func (t Translating) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// NeedsTranslation reports whether s contains a letter outside ASCII.
func NeedsTranslation(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
