package actions

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/knowledge"
)

// Deps are the collaborators the default handlers need. Nil
// collaborators disable the handlers that depend on them: those
// handlers decline or answer that they are offline.
type Deps struct {
	Assistant  string
	Now        func() time.Time
	Rand       *rand.Rand
	Sites      map[string]string
	Knowledge  *knowledge.Base
	Summarizer Summarizer
	Sentences  int
	Completer  Completer
	PagesDir   string
	Opener     Opener
	Logger     *slog.Logger
}

// NewRegistry builds the default intent registry. Order is priority:
// exact conversational phrases first, then operator phrases that would
// otherwise be swallowed by question prefixes, then specific search
// triggers ahead of the general "search".
func NewRegistry(d Deps) (*intent.Registry, error) {
	clock := Clock{Now: d.Now}
	sites := &Sites{Table: d.Sites, Opener: d.Opener, Logger: d.Logger}

	b := intent.NewBuilder()
	b.Add("farewell", intent.Exact, Farewell{Assistant: d.Assistant},
		"exit", "quit", "stop", "bye", "goodbye", "bye bye", "see you")
	b.Add("greeting", intent.Exact, Greeting{Assistant: d.Assistant},
		"hi", "hey", "hey there", "good morning", "good afternoon", "good evening")
	b.Add("greeting", intent.Prefix, Greeting{Assistant: d.Assistant}, "hello")

	b.Add("time", intent.Contains, clock.Time(), "what time", "the time", "current time")
	b.Add("date", intent.Contains, clock.Date(), "the date", "what date", "today's date", "what day is it")

	b.Add("arithmetic", intent.Contains, Arithmetic{Op: '*'}, " multiplied by ", " times ")
	b.Add("arithmetic", intent.Contains, Arithmetic{Op: '/'}, " divided by ")
	b.Add("arithmetic", intent.Contains, Arithmetic{Op: '+'}, " plus ")
	b.Add("arithmetic", intent.Contains, Arithmetic{Op: '-'}, " minus ")
	b.Add("arithmetic", intent.Prefix, Arithmetic{}, "calculate", "compute", "how much is")

	b.Add("joke", intent.Contains, NewJokes(nil, d.Rand), "joke", "make me laugh")

	b.Add("html_page", intent.Prefix, HTMLPage{
		Completer: d.Completer,
		Dir:       d.PagesDir,
		Opener:    d.Opener,
		Now:       d.Now,
		Logger:    d.Logger,
	}, "create html", "generate html", "make html", "html for", "make a web page", "make a webpage")

	b.Add("youtube_search", intent.Prefix, sites.YouTubeSearch(),
		"search youtube for", "search on youtube for", "play on youtube", "youtube search")
	b.Add("open_youtube", intent.Exact, sites.SiteOpener("youtube"), "open youtube")
	b.Add("open_site", intent.Prefix, sites.Open(), "open")
	b.Add("web_search", intent.Prefix, sites.WebSearch(), "search for", "search", "google")

	b.Add("knowledge", intent.Prefix, Knowledge{Base: d.Knowledge}, "look up", "lookup")
	b.Add("encyclopedia", intent.Prefix, Encyclopedia{
		Base:       d.Knowledge,
		Summarizer: d.Summarizer,
		Sentences:  d.Sentences,
	}, "who is", "who was", "what is", "what are", "what was", "tell me about", "wikipedia")

	return b.Build()
}
