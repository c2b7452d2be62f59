// Package assistant is the public core surface: it runs each turn
// through the conversation session as a remote coordinator task and
// reports the result on the event bus.
package assistant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nugget/dazzy/internal/buildinfo"
	"github.com/nugget/dazzy/internal/coordinator"
	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/session"
)

// BusyReply is returned when a turn arrives while another is still
// being answered.
const BusyReply = "Still working on the last one. Give me a moment."

// Channels name where a turn came from.
const (
	ChannelAPI     = "api"
	ChannelConsole = "console"
	ChannelVoice   = "voice"
	ChannelMQTT    = "mqtt"
	ChannelCLI     = "cli"
)

// Reply is the answer to one turn.
type Reply struct {
	TurnID    string           `json:"turn_id"`
	Text      string           `json:"reply"`
	Source    string           `json:"source,omitempty"`
	Handled   bool             `json:"handled"`
	Terminate bool             `json:"terminate,omitempty"`
	URL       string           `json:"url,omitempty"`
	Err       intent.ErrorKind `json:"error,omitempty"`
}

// Busy reports whether the turn was rejected because another was in
// flight.
func (r Reply) Busy() bool { return r.Err == intent.KindBusy }

// Status describes the assistant for status endpoints and telemetry.
type Status struct {
	Name        string             `json:"name"`
	State       string             `json:"state"`
	Running     []coordinator.Kind `json:"running,omitempty"`
	Sessions    int                `json:"sessions"`
	Onboarded   bool               `json:"onboarded"`
	UserName    string             `json:"user_name,omitempty"`
	TurnCount   int                `json:"turn_count"`
	Version     string             `json:"version"`
	UptimeSec   int64              `json:"uptime_sec"`
	Intents     int                `json:"intents,omitempty"`
	LastReply   string             `json:"last_reply,omitempty"`
	LastChannel string             `json:"last_channel,omitempty"`
}

// Config holds the assistant's collaborators.
type Config struct {
	Name        string
	Dispatcher  session.Dispatcher
	Sessions    *session.Manager
	Coordinator *coordinator.Coordinator
	Bus         *events.Bus
	Logger      *slog.Logger
	// Intents is reported in Status.
	Intents int
}

// Assistant is safe for concurrent use.
type Assistant struct {
	name       string
	dispatcher session.Dispatcher
	sessions   *session.Manager
	coord      *coordinator.Coordinator
	bus        *events.Bus
	logger     *slog.Logger
	intents    int

	last lastTurn
}

// New returns an assistant. Sessions defaults to a manager with
// onboarding enabled over the same dispatcher.
func New(cfg Config) *Assistant {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager(cfg.Dispatcher)
	}
	name := cfg.Name
	if name == "" {
		name = "Dazzy"
	}
	return &Assistant{
		name:       name,
		dispatcher: cfg.Dispatcher,
		sessions:   sessions,
		coord:      cfg.Coordinator,
		bus:        cfg.Bus,
		logger:     logger.With("component", "assistant"),
		intents:    cfg.Intents,
	}
}

// Handle answers text in the default conversation.
func (a *Assistant) Handle(ctx context.Context, text string) (Reply, error) {
	return a.HandleIn(ctx, session.DefaultID, ChannelAPI, text)
}

// HandleIn answers text in the given conversation. The first turn of a
// fresh conversation is its onboarding turn.
func (a *Assistant) HandleIn(ctx context.Context, conversationID, channel, text string) (Reply, error) {
	sess := a.sessions.Get(conversationID)
	r, err := a.turn(ctx, channel, text, sess.Turn)
	if err == nil && r.Source == "onboarding" {
		a.bus.Emit(events.SourceAssistant, events.KindOnboarded, map[string]any{
			"conversation_id": conversationID,
			"user_name":       sess.UserName(),
		})
	}
	return r, err
}

// Ask answers text without any session, skipping onboarding.
func (a *Assistant) Ask(ctx context.Context, channel, text string) (Reply, error) {
	return a.turn(ctx, channel, text, a.dispatcher.Dispatch)
}

func (a *Assistant) turn(ctx context.Context, channel, text string, answer func(context.Context, string) intent.Result) (Reply, error) {
	turnID := uuid.NewString()
	a.bus.Emit(events.SourceAssistant, events.KindTurn, map[string]any{
		"turn_id": turnID,
		"channel": channel,
		"text":    text,
	})

	res, err := a.remote(ctx, text, answer)
	if errors.Is(err, intent.ErrBusy) {
		a.logger.Info("turn rejected, still busy", "turn_id", turnID, "channel", channel)
		return Reply{TurnID: turnID, Text: BusyReply, Err: intent.KindBusy, Source: "busy"}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	r := Reply{
		TurnID:    turnID,
		Text:      res.Reply,
		Source:    res.Source,
		Handled:   res.Handled,
		Terminate: res.Terminate,
		URL:       res.URL,
		Err:       res.Err,
	}
	a.last.set(channel, r.Text)
	a.publish(channel, r)

	a.logger.Debug("turn answered",
		"turn_id", turnID,
		"channel", channel,
		"source", r.Source,
		"handled", r.Handled,
	)
	return r, nil
}

// remote runs answer as a coordinator task so blocking collaborator
// calls never run on the caller's loop. Without a coordinator it runs
// inline.
func (a *Assistant) remote(ctx context.Context, text string, answer func(context.Context, string) intent.Result) (intent.Result, error) {
	if a.coord == nil {
		return answer(ctx, text), nil
	}
	o, err := a.coord.Run(ctx, coordinator.KindRemote, func(taskCtx context.Context) (any, error) {
		return answer(taskCtx, text), nil
	})
	if err != nil {
		return intent.Result{}, err
	}
	if o.Err != nil {
		return intent.Result{}, o.Err
	}
	res, _ := o.Value.(intent.Result)
	return res, nil
}

func (a *Assistant) publish(channel string, r Reply) {
	a.bus.Emit(events.SourceAssistant, events.KindReply, map[string]any{
		"turn_id":   r.TurnID,
		"channel":   channel,
		"reply":     r.Text,
		"source":    r.Source,
		"handled":   r.Handled,
		"terminate": r.Terminate,
	})
	if r.URL != "" {
		a.bus.Emit(events.SourceAssistant, events.KindOpenURL, map[string]any{"url": r.URL})
	}
}

// Reset clears the given conversation.
func (a *Assistant) Reset(conversationID string) bool {
	ok := a.sessions.Reset(conversationID)
	a.logger.Info("session reset", "conversation_id", conversationID, "existed", ok)
	return ok
}

// Greeting is the opening line for a conversation that still needs
// the user's name.
func (a *Assistant) Greeting(conversationID string) string {
	if a.sessions.Get(conversationID).State() == session.AwaitingName {
		return session.Greeting(a.name)
	}
	return "Welcome back. What can I do for you?"
}

// Status reports the default conversation and coordinator state.
func (a *Assistant) Status() Status {
	snap := a.sessions.Get(session.DefaultID).Snapshot()
	st := Status{
		Name:      a.name,
		State:     "idle",
		Sessions:  a.sessions.Len(),
		Onboarded: snap.Onboarded,
		UserName:  snap.UserName,
		TurnCount: snap.TurnCount,
		Version:   buildinfo.Version,
		UptimeSec: int64(buildinfo.Uptime().Seconds()),
		Intents:   a.intents,
	}
	if a.coord != nil {
		cs := a.coord.Status()
		st.State = cs.String()
		st.Running = cs.Running
	}
	st.LastChannel, st.LastReply = a.last.get()
	return st
}
