// Package fallback resolves utterances that matched no intent. Stages
// run strictly in order from cheapest and most deterministic to most
// expensive: tight arithmetic, the static knowledge table, a remote
// encyclopedia summary, then generative completion. The first handled
// result ends the chain.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nugget/dazzy/internal/actions"
	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/knowledge"
	"github.com/nugget/dazzy/internal/llm"
)

// Completion replies.
const (
	CompletionFailedReply = "Completion service connection failed."
	QuotaExhaustedReply   = "My completion quota is exhausted. Try again later."
)

// Stage is one step of the chain.
type Stage interface {
	Name() string
	Resolve(ctx context.Context, utterance string) intent.Result
}

// Chain tries its stages in order.
type Chain struct {
	stages []Stage
	logger *slog.Logger
}

// Config lists the collaborators for the default stages. A nil
// Summarizer disables the encyclopedia stage. A nil Completer is the
// offline configuration: the completion stage declines with
// [actions.OfflineReply].
type Config struct {
	Knowledge  *knowledge.Base
	Summarizer actions.Summarizer
	Sentences  int
	Completer  actions.Completer
	Logger     *slog.Logger
}

// New builds the default four-stage chain.
func New(cfg Config) *Chain {
	return NewWithStages(cfg.Logger,
		Arithmetic{},
		Knowledge{Base: cfg.Knowledge},
		Encyclopedia{Summarizer: cfg.Summarizer, Sentences: cfg.Sentences},
		Completion{Completer: cfg.Completer, Logger: cfg.Logger},
	)
}

// NewWithStages builds a chain from explicit stages.
func NewWithStages(logger *slog.Logger, stages ...Stage) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stages: stages, logger: logger.With("component", "fallback")}
}

// Resolve runs the stages until one handles the utterance. If every
// stage declines, the returned result is unhandled and carries the
// last non-empty decline reply (a clarification or an apology), so the
// caller can surface it instead of a generic answer.
func (c *Chain) Resolve(ctx context.Context, utterance string) intent.Result {
	last := intent.Decline()
	for _, s := range c.stages {
		res := s.Resolve(ctx, utterance)
		if !res.Declined() {
			res.Source = s.Name()
			c.logger.Debug("fallback stage handled", "stage", s.Name())
			return res
		}
		c.logger.Debug("fallback stage declined", "stage", s.Name(), "kind", res.Err)
		if res.Reply != "" {
			last = res
			last.Source = s.Name()
		}
	}
	return last
}

// Stages returns the stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Arithmetic answers only utterances that are exactly one binary
// expression, so loosely worded sentences that happen to contain
// numbers are left to later stages.
type Arithmetic struct{}

func (Arithmetic) Name() string { return "arithmetic" }

func (Arithmetic) Resolve(_ context.Context, u string) intent.Result {
	e, ok := actions.ParseTight(u)
	if !ok {
		return intent.Decline()
	}
	return actions.Answer(e)
}

// Knowledge is an exact lookup in the static table.
type Knowledge struct {
	Base *knowledge.Base
}

func (Knowledge) Name() string { return "knowledge" }

func (k Knowledge) Resolve(_ context.Context, u string) intent.Result {
	if answer, ok := k.Base.Lookup(u); ok {
		return intent.Reply(answer)
	}
	return intent.Decline()
}

// MaxTopicWords bounds how long an utterance may be and still be
// treated as an encyclopedia topic.
const MaxTopicWords = 5

// sentenceStarters mark utterances that are requests or questions
// rather than topic names. They go to completion instead.
var sentenceStarters = map[string]bool{
	"who": true, "what": true, "how": true, "why": true, "when": true, "where": true, "which": true,
	"can": true, "could": true, "should": true, "would": true, "will": true,
	"do": true, "does": true, "did": true, "is": true, "are": true,
	"i": true, "i'm": true, "my": true, "you": true, "your": true, "we": true,
	"please": true, "write": true, "explain": true, "give": true,
	"translate": true, "summarize": true, "describe": true, "list": true,
}

// TopicShaped reports whether u reads like the name of a topic
// ("albert einstein") rather than a sentence.
func TopicShaped(u string) bool {
	words := strings.Fields(u)
	if len(words) == 0 || len(words) > MaxTopicWords || strings.ContainsAny(u, "?!") {
		return false
	}
	return !sentenceStarters[words[0]]
}

// Encyclopedia asks the remote summarizer about topic-shaped
// utterances. Ambiguous and missing topics are handled answers; only
// outages and sentence-shaped input decline.
type Encyclopedia struct {
	Summarizer actions.Summarizer
	Sentences  int
}

func (Encyclopedia) Name() string { return "encyclopedia" }

func (e Encyclopedia) Resolve(ctx context.Context, u string) intent.Result {
	if !TopicShaped(u) {
		return intent.Decline()
	}
	return actions.Summarize(ctx, e.Summarizer, actions.Topic(u), e.Sentences)
}

// Completion hands the utterance to the generative model. Every
// failure becomes a decline with an apology; nothing propagates.
type Completion struct {
	Completer actions.Completer
	Logger    *slog.Logger
}

func (Completion) Name() string { return "completion" }

func (c Completion) Resolve(ctx context.Context, u string) intent.Result {
	if c.Completer == nil {
		return intent.Unavailable(actions.OfflineReply)
	}
	reply, err := c.Completer.Complete(ctx, u)
	switch {
	case err == nil && reply != "":
		return intent.Reply(reply)
	case errors.Is(err, llm.ErrQuotaExhausted):
		return intent.Unavailable(QuotaExhaustedReply)
	default:
		if c.Logger != nil {
			c.Logger.Warn("completion failed", "error", err)
		}
		return intent.Unavailable(CompletionFailedReply)
	}
}
