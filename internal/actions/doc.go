// Package actions implements the local intent handlers: greetings,
// clock queries, arithmetic, jokes, site and search shortcuts,
// knowledge and encyclopedia lookups, and HTML page generation.
//
// Handlers never return errors for expected failures. A collaborator
// outage becomes an [intent.Unavailable] result and unparseable input
// becomes [intent.Malformed], so the dispatcher can fall through to the
// fallback chain.
package actions

import "context"

// Opener shows a URL to the user: a browser tab, a link in the chat
// UI, or a QR code on a terminal.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Summarizer returns a short encyclopedia summary of a topic.
type Summarizer interface {
	Summarize(ctx context.Context, topic string, maxSentences int) (string, error)
}

// Completer produces generative text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
