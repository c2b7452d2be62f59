// Package voice runs the hands-free conversation loop: capture an
// utterance, answer it, speak the reply, and listen again. Capture,
// answering and playback each run as coordinator tasks so the loop
// itself never blocks on a device or the network.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/coordinator"
	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/speech"
)

// Fixed prompts.
const (
	NotHeardReply = "Sorry, I didn't catch that."
	DeviceReply   = "I couldn't hear you. Check the microphone."
)

// ConversationID is the session the voice loop talks in.
const ConversationID = "voice"

// MaxCaptureFailures is how many device errors in a row end the loop.
const MaxCaptureFailures = 3

// Answerer answers one turn. *assistant.Assistant implements it.
type Answerer interface {
	HandleIn(ctx context.Context, conversationID, channel, text string) (assistant.Reply, error)
}

// Renderer shows the conversation. It is optional.
type Renderer interface {
	Render(sender, text string)
	SetBusy(busy bool)
}

// Config configures a Loop.
type Config struct {
	Device    speech.Device
	Assistant Answerer
	Renderer  Renderer
	// Name labels the assistant's lines. Default "Dazzy".
	Name string
	// Greeting is spoken before the first capture, if set.
	Greeting string
	Bus      *events.Bus
	Observer coordinator.Observer
	Logger   *slog.Logger
}

// Loop is single-use.
type Loop struct {
	cfg    Config
	logger *slog.Logger
	coord  *coordinator.Coordinator

	terminating bool
	failures    int
}

// New returns a loop. Run starts it.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "Dazzy"
	}
	return &Loop{cfg: cfg, logger: logger.With("component", "voice")}
}

// Run drives the loop until a farewell is spoken, the device reaches
// end of input, or ctx is cancelled. In-flight capture or playback is
// cancelled on return.
func (l *Loop) Run(ctx context.Context) error {
	l.coord = coordinator.New(coordinator.Config{
		Stream:   true,
		Bus:      l.cfg.Bus,
		Observer: l.cfg.Observer,
		Logger:   l.logger,
	})
	defer l.coord.Close()

	l.cfg.Bus.Emit(events.SourceVoice, events.KindStatus, map[string]any{"status": "listening"})
	if l.cfg.Greeting != "" {
		l.render(l.cfg.Name, l.cfg.Greeting)
		l.speak(l.cfg.Greeting)
	} else {
		l.listen()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case o, ok := <-l.coord.Results():
			if !ok {
				return nil
			}
			done, err := l.step(ctx, o)
			l.setBusy()
			if done || err != nil {
				return err
			}
		}
	}
}

// step reacts to one finished task. It reports whether the loop is
// over.
func (l *Loop) step(ctx context.Context, o coordinator.Outcome) (bool, error) {
	switch o.Kind {
	case coordinator.KindListen:
		return l.heard(o)
	case coordinator.KindRemote:
		l.answered(o)
	case coordinator.KindSpeak:
		if o.Err != nil && ctx.Err() == nil {
			l.logger.Warn("speak failed", "error", o.Err)
		}
		if l.terminating {
			l.logger.Info("farewell spoken, voice loop ending")
			return true, nil
		}
		l.listen()
	}
	return false, nil
}

func (l *Loop) heard(o coordinator.Outcome) (bool, error) {
	switch {
	case o.State == coordinator.StateCancelled:
		return true, nil
	case errors.Is(o.Err, io.EOF):
		l.logger.Info("voice input closed")
		return true, nil
	case errors.Is(o.Err, speech.ErrNoSpeech):
		l.failures = 0
		l.render(l.cfg.Name, NotHeardReply)
		l.speak(NotHeardReply)
		return false, nil
	case o.Err != nil:
		l.failures++
		l.logger.Warn("capture failed", "error", o.Err, "consecutive", l.failures)
		if l.failures >= MaxCaptureFailures {
			return true, fmt.Errorf("capture failed %d times: %w", l.failures, o.Err)
		}
		l.render(l.cfg.Name, DeviceReply)
		l.speak(DeviceReply)
		return false, nil
	}

	l.failures = 0
	text, _ := o.Value.(string)
	l.render("You", text)
	l.submit(coordinator.KindRemote, func(ctx context.Context) (any, error) {
		return l.cfg.Assistant.HandleIn(ctx, ConversationID, assistant.ChannelVoice, text)
	})
	return false, nil
}

func (l *Loop) answered(o coordinator.Outcome) {
	reply, _ := o.Value.(assistant.Reply)
	if o.Err != nil {
		l.logger.Warn("answer failed", "error", o.Err)
		reply = assistant.Reply{Text: "I had trouble with that.", Err: intent.KindInternal}
	}
	if reply.Terminate {
		l.terminating = true
	}
	l.render(l.cfg.Name, reply.Text)
	l.speak(speech.Plain(reply.Text))
}

func (l *Loop) listen() {
	l.submit(coordinator.KindListen, func(ctx context.Context) (any, error) {
		return l.cfg.Device.Capture(ctx)
	})
}

func (l *Loop) speak(text string) {
	l.submit(coordinator.KindSpeak, func(ctx context.Context) (any, error) {
		return nil, l.cfg.Device.Speak(ctx, text)
	})
}

func (l *Loop) submit(kind coordinator.Kind, work coordinator.Work) {
	if _, err := l.coord.Submit(kind, work); err != nil {
		if errors.Is(err, intent.ErrBusy) {
			l.render(l.cfg.Name, assistant.BusyReply)
		}
		l.logger.Warn("task not started", "task_kind", kind, "error", err)
		return
	}
	l.setBusy()
}

func (l *Loop) render(sender, text string) {
	if l.cfg.Renderer != nil {
		l.cfg.Renderer.Render(sender, text)
	}
}

func (l *Loop) setBusy() {
	if l.cfg.Renderer != nil {
		l.cfg.Renderer.SetBusy(l.coord.Busy(coordinator.KindRemote))
	}
}
