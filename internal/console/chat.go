package console

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/speech"
)

// ConversationID is the session the typed chat talks in.
const ConversationID = "console"

// Chatter answers typed turns. *assistant.Assistant implements it.
type Chatter interface {
	HandleIn(ctx context.Context, conversationID, channel, text string) (assistant.Reply, error)
	Greeting(conversationID string) string
}

// Chat is a typed conversation over a reader and writer.
type Chat struct {
	Assistant Chatter
	Renderer  *Renderer
	Name      string

	input *speech.Console
}

// NewChat returns a chat reading lines from in and rendering to out.
func NewChat(a Chatter, in io.Reader, out io.Writer, opts ...Option) *Chat {
	r := NewRenderer(out, opts...)
	input := speech.NewConsole(in, out)
	input.Prompt = userStyle.Render("> ")
	return &Chat{Assistant: a, Renderer: r, Name: r.assistant, input: input}
}

// Run greets the user and answers lines until a farewell, end of
// input, or ctx is cancelled.
func (c *Chat) Run(ctx context.Context) error {
	c.Renderer.Render(c.Name, c.Assistant.Greeting(ConversationID))
	for {
		line, err := c.input.Capture(ctx)
		switch {
		case errors.Is(err, speech.ErrNoSpeech):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return fmt.Errorf("reading input: %w", err)
		}

		c.Renderer.SetBusy(true)
		reply, err := c.Assistant.HandleIn(ctx, ConversationID, assistant.ChannelConsole, line)
		c.Renderer.SetBusy(false)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.Renderer.Render(c.Name, reply.Text)
		if reply.URL != "" {
			c.Renderer.ShowURL(reply.URL)
		}
		if reply.Terminate {
			return nil
		}
	}
}
