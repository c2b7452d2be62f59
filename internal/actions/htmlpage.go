package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/dazzy/internal/htmltext"
	"github.com/nugget/dazzy/internal/intent"
)

// OfflineReply is returned when a generative request arrives without a
// completion credential.
const OfflineReply = "Offline mode. Completion API key not configured."

// NotHTMLReply is returned when the completion came back without an
// HTML document, usually a refusal or a chatty explanation.
const NotHTMLReply = "Sorry, I couldn't generate a proper HTML page for that."

const pagePrompt = "Write a complete, self-contained HTML5 page with inline CSS for the following request: %s. " +
	"Reply with the HTML document only, no explanation."

var (
	fence   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	nonSlug = regexp.MustCompile(`[^a-z0-9]+`)
)

// HTMLPage asks the completion service for a web page, saves it under
// Dir and opens it.
type HTMLPage struct {
	Completer Completer
	Dir       string
	Opener    Opener
	Now       func() time.Time
	Logger    *slog.Logger
}

// Handle implements [intent.Handler].
func (h HTMLPage) Handle(ctx context.Context, arg string) (intent.Result, error) {
	subject := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(arg, "for "), "about "))
	if subject == "" {
		return intent.Malformed("What should the page be about?"), nil
	}
	if h.Completer == nil {
		return intent.Unavailable(OfflineReply), nil
	}

	raw, err := h.Completer.Complete(ctx, fmt.Sprintf(pagePrompt, subject))
	if err != nil {
		h.logger().Warn("html page generation failed", "subject", subject, "error", err)
		return intent.Unavailable("I couldn't generate that page right now."), nil
	}
	doc := ExtractHTML(raw)
	if !IsHTMLDocument(doc) {
		h.logger().Warn("completion was not an html document", "subject", subject, "bytes", len(doc))
		return intent.Reply(NotHTMLReply), nil
	}

	path, err := h.save(subject, doc)
	if err != nil {
		h.logger().Error("html page save failed", "subject", subject, "error", err)
		return intent.Unavailable("I generated the page but couldn't save it."), nil
	}

	target := "file://" + path
	if h.Opener != nil {
		if err := h.Opener.Open(ctx, target); err != nil {
			h.logger().Warn("open generated page failed", "path", path, "error", err)
		}
	}

	title := htmltext.Title(doc)
	if title == "" {
		title = subject
	}
	return intent.Result{
		Reply:   fmt.Sprintf("I created a page titled %q and saved it to %s.", title, path),
		Handled: true,
		URL:     target,
	}, nil
}

func (h HTMLPage) save(subject, doc string) (string, error) {
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return "", err
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	slug := strings.Trim(nonSlug.ReplaceAllString(subject, "-"), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	name := fmt.Sprintf("%s-%s.html", slug, now().Format("20060102-150405"))
	path, err := filepath.Abs(filepath.Join(h.Dir, name))
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte(doc), 0o644)
}

func (h HTMLPage) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// ExtractHTML removes a surrounding markdown code fence, which chat
// models add even when asked not to.
func ExtractHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fence.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// IsHTMLDocument reports whether doc carries an html root or doctype.
func IsHTMLDocument(doc string) bool {
	lower := strings.ToLower(doc)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}
