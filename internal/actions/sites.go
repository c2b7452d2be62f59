package actions

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nugget/dazzy/internal/intent"
)

// Search URL templates; the query is appended URL-encoded.
const (
	YouTubeSearchURL = "https://www.youtube.com/results?search_query="
	WebSearchURL     = "https://www.google.com/search?q="
)

// Sites opens URLs for named sites and search shortcuts. Opening is a
// side effect: the result always carries the URL so front ends that
// cannot launch a browser can still show a link.
type Sites struct {
	Table  map[string]string
	Opener Opener
	Logger *slog.Logger
}

// Open returns the handler for "open <site>".
func (s *Sites) Open() intent.Handler {
	return intent.HandlerFunc(func(ctx context.Context, arg string) (intent.Result, error) {
		name := strings.TrimSpace(strings.TrimPrefix(arg, "the "))
		if name == "" {
			return intent.Malformed("Which site should I open?"), nil
		}
		target, ok := s.Table[name]
		if !ok && looksLikeHost(name) {
			target, ok = "https://"+name, true
		}
		if !ok {
			return intent.Reply("I don't have a site called " + name + "."), nil
		}
		return s.launch(ctx, target, "Opening "+name+"."), nil
	})
}

// SiteOpener returns a handler bound to one fixed site, for triggers
// such as "open youtube" that name the destination themselves.
func (s *Sites) SiteOpener(name string) intent.Handler {
	return intent.HandlerFunc(func(ctx context.Context, _ string) (intent.Result, error) {
		target, ok := s.Table[name]
		if !ok {
			return intent.Reply("I don't have a site called " + name + "."), nil
		}
		return s.launch(ctx, target, "Opening "+name+"."), nil
	})
}

// YouTubeSearch returns the handler for "search youtube for <query>".
func (s *Sites) YouTubeSearch() intent.Handler {
	return s.search(YouTubeSearchURL, "YouTube")
}

// WebSearch returns the handler for "search <query>".
func (s *Sites) WebSearch() intent.Handler {
	return s.search(WebSearchURL, "the web")
}

func (s *Sites) search(base, where string) intent.Handler {
	return intent.HandlerFunc(func(ctx context.Context, arg string) (intent.Result, error) {
		query := strings.TrimSpace(strings.TrimPrefix(arg, "for "))
		if query == "" {
			return intent.Malformed("What should I search " + where + " for?"), nil
		}
		return s.launch(ctx, base+url.QueryEscape(query), "Searching "+where+" for "+query+"."), nil
	})
}

func (s *Sites) launch(ctx context.Context, target, reply string) intent.Result {
	if s.Opener != nil {
		if err := s.Opener.Open(ctx, target); err != nil && s.Logger != nil {
			s.Logger.Warn("open url failed", "url", target, "error", err)
		}
	}
	return intent.Result{Reply: reply, Handled: true, URL: target}
}

func looksLikeHost(s string) bool {
	return strings.Contains(s, ".") && !strings.ContainsAny(s, " /")
}
