package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/knowledge"
	"github.com/nugget/dazzy/internal/wiki"
)

// Lookup replies.
const (
	NotInKnowledgeReply = "That's not in my knowledge base."
	AmbiguousReply      = "That topic is ambiguous. Be specific."
	NotFoundReply       = "No encyclopedia entry found."
	EncyclopediaDown    = "I couldn't reach the encyclopedia right now."
)

// Knowledge answers "look up <key>" from the static table.
type Knowledge struct {
	Base *knowledge.Base
}

// Handle implements [intent.Handler].
func (k Knowledge) Handle(_ context.Context, arg string) (intent.Result, error) {
	if arg == "" {
		return intent.Malformed("What should I look up?"), nil
	}
	if answer, ok := k.Base.Lookup(arg); ok {
		return intent.Reply(answer), nil
	}
	return intent.Reply(NotInKnowledgeReply), nil
}

// Encyclopedia answers "who is", "what is" and "tell me about"
// questions. The local knowledge table is consulted first.
type Encyclopedia struct {
	Base       *knowledge.Base
	Summarizer Summarizer
	Sentences  int
}

// Handle implements [intent.Handler].
func (e Encyclopedia) Handle(ctx context.Context, arg string) (intent.Result, error) {
	topic := Topic(arg)
	if topic == "" {
		return intent.Malformed("What topic do you mean?"), nil
	}
	// "what is 5 + 3" asks for arithmetic, not an article.
	if expr, ok := ParseTight(topic); ok {
		return Answer(expr), nil
	}
	if answer, ok := e.Base.Lookup(topic); ok {
		return intent.Reply(answer), nil
	}
	return Summarize(ctx, e.Summarizer, topic, e.Sentences), nil
}

// Summarize looks topic up and maps the outcome onto a result.
// Ambiguous and missing topics are answers; outages decline.
func Summarize(ctx context.Context, s Summarizer, topic string, sentences int) intent.Result {
	if s == nil {
		return intent.Decline()
	}
	text, err := s.Summarize(ctx, topic, sentences)
	switch {
	case err == nil:
		return intent.Reply(text)
	case errors.Is(err, wiki.ErrAmbiguous):
		return intent.Reply(AmbiguousReply)
	case errors.Is(err, wiki.ErrNotFound):
		return intent.Reply(NotFoundReply)
	default:
		return intent.Unavailable(EncyclopediaDown)
	}
}

// Topic strips question filler and leading articles from a lookup
// argument: "the eiffel tower?" becomes "eiffel tower".
func Topic(arg string) string {
	t := strings.Trim(strings.TrimSpace(arg), "?!. ")
	for _, article := range []string{"the ", "a ", "an "} {
		if rest, ok := strings.CutPrefix(t, article); ok {
			t = rest
			break
		}
	}
	return strings.TrimSpace(t)
}
