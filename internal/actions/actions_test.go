package actions

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/knowledge"
	"github.com/nugget/dazzy/internal/wiki"
)

var fixedNow = func() time.Time {
	return time.Date(2026, time.March, 9, 15, 4, 0, 0, time.Local)
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *recordingOpener) Open(_ context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return o.err
}

type fakeSummarizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, topic string, _ int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text + " [" + topic + "]", nil
}

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestGreetingAndFarewell(t *testing.T) {
	ctx := context.Background()

	got, _ := Greeting{}.Handle(ctx, "")
	if got.Reply != "Hello. Dazzy online. Speak." || !got.Handled {
		t.Errorf("Greeting = %+v", got)
	}
	got, _ = Greeting{Assistant: "Dazzy"}.Handle(intent.WithUserName(ctx, "Ada"), "")
	if got.Reply != "Hello, Ada. Dazzy online. Speak." {
		t.Errorf("personalised Greeting = %q", got.Reply)
	}

	bye, _ := Farewell{}.Handle(ctx, "ignored")
	if !bye.Terminate || !bye.Handled || bye.Reply != "Thank you for using Dazzy. Goodbye!" {
		t.Errorf("Farewell = %+v", bye)
	}
}

func TestClockDeterministic(t *testing.T) {
	c := Clock{Now: fixedNow}
	ctx := context.Background()

	for range 3 {
		tm, _ := c.Time().Handle(ctx, "")
		if tm.Reply != "Time: 03:04 PM" {
			t.Errorf("Time reply = %q", tm.Reply)
		}
		d, _ := c.Date().Handle(ctx, "")
		if d.Reply != "Date: Monday, March 09, 2026" {
			t.Errorf("Date reply = %q", d.Reply)
		}
	}
}

func TestJokesSeeded(t *testing.T) {
	a := NewJokes(nil, rand.New(rand.NewPCG(1, 2)))
	b := NewJokes(nil, rand.New(rand.NewPCG(1, 2)))
	for range 5 {
		ra, _ := a.Handle(context.Background(), "")
		rb, _ := b.Handle(context.Background(), "")
		if ra.Reply != rb.Reply || ra.Reply == "" {
			t.Fatalf("seeded jokes differ: %q vs %q", ra.Reply, rb.Reply)
		}
	}
}

func TestSites(t *testing.T) {
	opener := &recordingOpener{}
	s := &Sites{Table: map[string]string{"github": "https://github.com"}, Opener: opener}
	ctx := context.Background()

	got, _ := s.Open().Handle(ctx, "github")
	if got.URL != "https://github.com" || !got.Handled {
		t.Errorf("open github = %+v", got)
	}
	got, _ = s.Open().Handle(ctx, "example.org")
	if got.URL != "https://example.org" {
		t.Errorf("open host = %+v", got)
	}
	got, _ = s.Open().Handle(ctx, "the fridge")
	if got.URL != "" || got.Reply != "I don't have a site called fridge." {
		t.Errorf("open unknown = %+v", got)
	}
	got, _ = s.YouTubeSearch().Handle(ctx, "lo-fi beats")
	if got.URL != YouTubeSearchURL+"lo-fi+beats" {
		t.Errorf("youtube URL = %q", got.URL)
	}
	got, _ = s.WebSearch().Handle(ctx, "for golang channels")
	if got.URL != WebSearchURL+"golang+channels" {
		t.Errorf("web search URL = %q", got.URL)
	}
	got, _ = s.WebSearch().Handle(ctx, "")
	if got.Err != intent.KindMalformed {
		t.Errorf("empty search = %+v, want malformed", got)
	}

	if len(opener.urls) != 4 {
		t.Errorf("opener saw %d urls, want 4: %v", len(opener.urls), opener.urls)
	}
}

func TestSitesOpenerFailureStillHandled(t *testing.T) {
	s := &Sites{Table: map[string]string{"youtube": "https://www.youtube.com"}, Opener: &recordingOpener{err: errors.New("no display")}}
	got, _ := s.SiteOpener("youtube").Handle(context.Background(), "")
	if !got.Handled || got.URL != "https://www.youtube.com" {
		t.Errorf("SiteOpener with failing opener = %+v", got)
	}
}

func TestKnowledgeHandler(t *testing.T) {
	k := Knowledge{Base: knowledge.New(map[string]string{"speed of light": "299,792 km/s"})}
	got, _ := k.Handle(context.Background(), "speed of light")
	if got.Reply != "299,792 km/s" {
		t.Errorf("hit = %+v", got)
	}
	got, _ = k.Handle(context.Background(), "speed of dark")
	if got.Reply != NotInKnowledgeReply || !got.Handled {
		t.Errorf("miss = %+v", got)
	}
}

func TestEncyclopedia(t *testing.T) {
	base := knowledge.New(map[string]string{"capital of france": "Paris."})
	ctx := context.Background()

	tests := []struct {
		name    string
		sum     *fakeSummarizer
		arg     string
		want    string
		handled bool
	}{
		{"knowledge first", &fakeSummarizer{text: "remote"}, "the capital of france?", "Paris.", true},
		{"remote", &fakeSummarizer{text: "A tower"}, "the eiffel tower", "A tower [eiffel tower]", true},
		{"ambiguous", &fakeSummarizer{err: wiki.ErrAmbiguous}, "mercury", AmbiguousReply, true},
		{"not found", &fakeSummarizer{err: wiki.ErrNotFound}, "zzqx", NotFoundReply, true},
		{"unavailable", &fakeSummarizer{err: &intent.UnavailableError{Collaborator: "encyclopedia", Err: errors.New("dial")}}, "paris", EncyclopediaDown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Encyclopedia{Base: base, Summarizer: tt.sum, Sentences: 2}.Handle(ctx, tt.arg)
			if got.Reply != tt.want || got.Handled != tt.handled {
				t.Errorf("Handle(%q) = %+v, want %q handled=%v", tt.arg, got, tt.want, tt.handled)
			}
		})
	}

	got, _ := Encyclopedia{}.Handle(ctx, "anything")
	if !got.Declined() || got.Reply != "" {
		t.Errorf("nil summarizer = %+v, want silent decline", got)
	}
}

func TestHTMLPage(t *testing.T) {
	dir := t.TempDir()
	opener := &recordingOpener{}
	comp := &fakeCompleter{reply: "```html\n<html><head><title>Cats</title></head><body>meow</body></html>\n```"}
	h := HTMLPage{Completer: comp, Dir: dir, Opener: opener, Now: fixedNow}

	got, err := h.Handle(context.Background(), "about cats")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Handled || !strings.HasPrefix(got.URL, "file://") || !strings.Contains(got.Reply, `"Cats"`) {
		t.Fatalf("Handle() = %+v", got)
	}
	if !strings.Contains(comp.prompt, "cats") {
		t.Errorf("prompt = %q, want subject", comp.prompt)
	}

	path := strings.TrimPrefix(got.URL, "file://")
	if !strings.HasSuffix(path, "cats-20260309-150400.html") {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if strings.Contains(string(data), "```") {
		t.Errorf("saved page still fenced: %q", data)
	}
	if len(opener.urls) != 1 || opener.urls[0] != got.URL {
		t.Errorf("opener urls = %v", opener.urls)
	}
}

func TestHTMLPageRejectsNonHTML(t *testing.T) {
	dir := t.TempDir()
	opener := &recordingOpener{}
	h := HTMLPage{
		Completer: &fakeCompleter{reply: "I'm sorry, I can't help with that request."},
		Dir:       dir,
		Opener:    opener,
		Now:       fixedNow,
	}

	got, err := h.Handle(context.Background(), "for a bakery")
	if err != nil {
		t.Fatal(err)
	}
	if got.Reply != NotHTMLReply || !got.Handled || got.URL != "" {
		t.Errorf("Handle() = %+v, want %q without a URL", got, NotHTMLReply)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("saved %d files for a non-html completion", len(entries))
	}
	if len(opener.urls) != 0 {
		t.Errorf("opener urls = %v, want none", opener.urls)
	}
}

func TestIsHTMLDocument(t *testing.T) {
	tests := []struct {
		doc  string
		want bool
	}{
		{"<html><body>x</body></html>", true},
		{"<!DOCTYPE html>\n<HTML lang=en></HTML>", true},
		{"<!doctype html><title>t</title>", true},
		{"Here is a page about bakeries.", false},
		{"<div>fragment</div>", false},
	}
	for _, tt := range tests {
		if got := IsHTMLDocument(tt.doc); got != tt.want {
			t.Errorf("IsHTMLDocument(%q) = %v, want %v", tt.doc, got, tt.want)
		}
	}
}

func TestHTMLPageOfflineAndFailure(t *testing.T) {
	got, _ := HTMLPage{Dir: t.TempDir()}.Handle(context.Background(), "for my band")
	if got.Reply != OfflineReply || got.Err != intent.KindUnavailable {
		t.Errorf("offline = %+v", got)
	}
	got, _ = HTMLPage{Completer: &fakeCompleter{err: errors.New("timeout")}, Dir: t.TempDir()}.Handle(context.Background(), "x")
	if got.Handled || got.Err != intent.KindUnavailable {
		t.Errorf("failure = %+v", got)
	}
}

func TestNewRegistryPrecedence(t *testing.T) {
	reg, err := NewRegistry(Deps{Now: fixedNow, Sites: map[string]string{"youtube": "https://www.youtube.com"}})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	tests := []struct {
		utterance string
		want      string
		arg       string
	}{
		{"search youtube for cats", "youtube_search", "cats"},
		{"search cats", "web_search", "cats"},
		{"open youtube", "open_youtube", ""},
		{"open github", "open_site", "github"},
		{"what is 5 plus 3", "arithmetic", "what is 5 3"},
		{"what is the time", "time", "what is"},
		{"what is the capital of france", "encyclopedia", "the capital of france"},
		{"tell me a joke", "joke", "tell me a"},
		{"create html for a bakery", "html_page", "for a bakery"},
		{"make html about owls", "html_page", "about owls"},
		{"html for a bakery", "html_page", "a bakery"},
		{"bye", "farewell", ""},
		{"hello there", "greeting", "there"},
		{"look up speed of light", "knowledge", "speed of light"},
	}
	for _, tt := range tests {
		m, ok := reg.Lookup(intent.Normalize(tt.utterance))
		if !ok {
			t.Errorf("Lookup(%q) missed", tt.utterance)
			continue
		}
		if m.Entry.Name != tt.want || m.Arg != tt.arg {
			t.Errorf("Lookup(%q) = (%s, %q), want (%s, %q)", tt.utterance, m.Entry.Name, m.Arg, tt.want, tt.arg)
		}
	}

	if _, ok := reg.Lookup("capital of france"); ok {
		t.Error("bare knowledge key matched an intent; it should reach the fallback chain")
	}
	if _, ok := reg.Lookup("5 + 3"); ok {
		t.Error("raw expression matched an intent; it should reach the fallback chain")
	}
	for _, u := range []string{"opening hours of the louvre", "searchlight history", "googleplex tours"} {
		if m, ok := reg.Lookup(u); ok {
			t.Errorf("Lookup(%q) matched %s inside a word; it should reach the fallback chain", u, m.Entry.Name)
		}
	}
}

func TestNewRegistryQuestionWithRawExpression(t *testing.T) {
	sum := &fakeSummarizer{text: "article"}
	reg, err := NewRegistry(Deps{Now: fixedNow, Summarizer: sum})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	tests := []struct {
		utterance string
		want      string
	}{
		{"what is 5 + 3", "= 8"},
		{"what is 5 + 3?", "= 8"},
		{"what is 10 / 0", DivideByZeroReply},
	}
	for _, tt := range tests {
		m, ok := reg.Lookup(intent.Normalize(tt.utterance))
		if !ok {
			t.Fatalf("Lookup(%q) missed", tt.utterance)
		}
		got, err := m.Entry.Handler.Handle(context.Background(), m.Arg)
		if err != nil {
			t.Fatalf("Handle(%q) error: %v", tt.utterance, err)
		}
		if !got.Handled || !strings.Contains(got.Reply, tt.want) {
			t.Errorf("Handle(%q) = %+v, want reply containing %q", tt.utterance, got, tt.want)
		}
	}
	if sum.calls != 0 {
		t.Errorf("summarizer called %d times for arithmetic questions", sum.calls)
	}
}
