// Package llm talks to generative completion services. Dazzy only
// needs single-turn completions, so the surface is a plain Chat call
// plus a health probe.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Client is implemented by every completion provider.
type Client interface {
	// Chat sends messages and returns the assistant's reply.
	Chat(ctx context.Context, messages []Message) (*ChatResponse, error)

	// Ping checks that the provider is reachable and the credential is
	// accepted.
	Ping(ctx context.Context) error
}

// ErrQuotaExhausted is returned when the provider reports the account
// is out of credit (HTTP 402). It is wrapped in an
// intent.UnavailableError like every other provider failure.
var ErrQuotaExhausted = errors.New("completion quota exhausted")

// ErrEmptyResponse is returned when the provider answers with no choices.
var ErrEmptyResponse = errors.New("completion returned no content")

// Complete sends a single user prompt under the given system prompt
// and returns the reply text.
func Complete(ctx context.Context, c Client, system, prompt string) (string, error) {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})

	resp, err := c.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Prompter binds a client to a system prompt, giving the single-method
// completion surface the fallback chain and page generator use.
type Prompter struct {
	Client Client
	System string
}

// Complete sends prompt under the bound system prompt.
func (p Prompter) Complete(ctx context.Context, prompt string) (string, error) {
	return Complete(ctx, p.Client, p.System, prompt)
}

const translateSystem = "Translate the user's message into English. " +
	"If it is already English, return it unchanged. " +
	"Reply with the translation only, without quotes or commentary."

// Translator renders utterances in English through a completion client.
type Translator struct {
	Client Client
}

// Translate returns text in English.
func (t Translator) Translate(ctx context.Context, text string) (string, error) {
	out, err := Complete(ctx, t.Client, translateSystem, text)
	if err != nil {
		return "", err
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
