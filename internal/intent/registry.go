package intent

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy selects how a trigger is compared with an utterance.
type Policy int

const (
	// Exact matches only when the utterance equals the trigger.
	Exact Policy = iota
	// Prefix matches when the utterance starts with the trigger and the
	// trigger ends on a word boundary, so "open" does not match
	// "opening". The argument is the trimmed remainder.
	Prefix
	// Contains matches when the trigger appears anywhere. The argument
	// is the utterance with the first occurrence removed.
	Contains
)

func (p Policy) String() string {
	switch p {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	case Contains:
		return "contains"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Entry binds one trigger phrase to a handler.
type Entry struct {
	Name    string
	Trigger string
	Policy  Policy
	Handler Handler
}

// Match is a successful lookup.
type Match struct {
	Entry Entry
	Arg   string
}

// Registry is an immutable ordered list of entries. Earlier entries
// win, so specific triggers must be registered before general ones.
type Registry struct {
	entries []Entry
}

// Lookup returns the first entry matching utterance, which must already
// be normalized.
func (r *Registry) Lookup(utterance string) (Match, bool) {
	if r == nil {
		return Match{}, false
	}
	for _, e := range r.entries {
		if arg, ok := e.match(utterance); ok {
			return Match{Entry: e, Arg: arg}, true
		}
	}
	return Match{}, false
}

// Entries returns a copy of the registered entries in priority order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

func (e Entry) match(u string) (string, bool) {
	switch e.Policy {
	case Exact:
		return "", u == e.Trigger
	case Prefix:
		rest, ok := strings.CutPrefix(u, e.Trigger)
		if !ok || !wordBoundary(e.Trigger, rest) {
			return "", false
		}
		return strings.TrimSpace(rest), true
	case Contains:
		i := strings.Index(u, e.Trigger)
		if i < 0 {
			return "", false
		}
		return Normalize(u[:i] + " " + u[i+len(e.Trigger):]), true
	}
	return "", false
}

// wordBoundary reports whether rest may follow trigger without the
// match splitting a word.
func wordBoundary(trigger, rest string) bool {
	if rest == "" {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(trigger)
	next, _ := utf8.DecodeRuneInString(rest)
	return !isWordRune(last) || !isWordRune(next)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// Builder accumulates entries in priority order.
type Builder struct {
	entries []Entry
	errs    []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers h under each trigger with the given policy. Triggers
// are normalized the same way utterances are.
func (b *Builder) Add(name string, policy Policy, h Handler, triggers ...string) *Builder {
	if h == nil {
		b.errs = append(b.errs, fmt.Errorf("intent %q: nil handler", name))
		return b
	}
	if len(triggers) == 0 {
		b.errs = append(b.errs, fmt.Errorf("intent %q: no triggers", name))
	}
	for _, t := range triggers {
		// Contains triggers may carry deliberate padding (" plus ") to
		// anchor on word boundaries; keep it.
		norm := Normalize(t)
		if policy == Contains && strings.TrimSpace(t) != t {
			norm = strings.ToLower(t)
		}
		if norm == "" || strings.TrimSpace(norm) == "" {
			b.errs = append(b.errs, fmt.Errorf("intent %q: empty trigger", name))
			continue
		}
		b.entries = append(b.entries, Entry{Name: name, Trigger: norm, Policy: policy, Handler: h})
	}
	return b
}

// Build freezes the registry. It reports every invalid registration.
func (b *Builder) Build() (*Registry, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return &Registry{entries: append([]Entry(nil), b.entries...)}, nil
}

// MustBuild is Build for statically known registrations.
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}
