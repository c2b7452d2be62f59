package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/go-cmp/cmp"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/config"
	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/intent"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		out = append(out, m.Topic)
	}
	return out
}

func (f *fakePublisher) last() *paho.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	return f.msgs[len(f.msgs)-1]
}

type fakeAsker struct {
	mu    sync.Mutex
	asked []string
	reply assistant.Reply
}

func (f *fakeAsker) Ask(_ context.Context, channel, text string) (assistant.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, channel+":"+text)
	r := f.reply
	if r.Text == "" {
		r = assistant.Reply{TurnID: "t1", Text: "echo " + text, Source: "echo", Handled: true}
	}
	return r, nil
}

func (f *fakeAsker) Status() assistant.Status {
	return assistant.Status{State: "idle", Version: "test", UptimeSec: 90, LastReply: "hello"}
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "kitchen",
		TopicPrefix:        "dazzy",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func newTestBridge(asker Asker) (*Bridge, *fakePublisher) {
	b := New(testConfig(), "inst-1", asker, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pub := &fakePublisher{}
	b.setPublisher(pub)
	return b, pub
}

func TestTopics(t *testing.T) {
	b, _ := newTestBridge(&fakeAsker{})
	tests := []struct {
		name, got, want string
	}{
		{"availability", b.availabilityTopic(), "dazzy/kitchen/availability"},
		{"ask", b.askTopic(), "dazzy/kitchen/ask"},
		{"reply", b.replyTopic(), "dazzy/kitchen/reply"},
		{"state", b.stateTopic("status"), "dazzy/kitchen/status"},
		{"discovery", b.discoveryTopic("sensor", "status"), "homeassistant/sensor/kitchen/status/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPublishDiscovery(t *testing.T) {
	b, pub := newTestBridge(&fakeAsker{})
	b.publishDiscovery(t.Context())

	want := []string{
		"homeassistant/sensor/kitchen/status/config",
		"homeassistant/sensor/kitchen/last_reply/config",
		"homeassistant/sensor/kitchen/turns_today/config",
		"homeassistant/sensor/kitchen/busy_today/config",
		"homeassistant/sensor/kitchen/uptime/config",
		"homeassistant/sensor/kitchen/version/config",
	}
	if diff := cmp.Diff(want, pub.topics()); diff != "" {
		t.Fatalf("discovery topics mismatch (-want +got):\n%s", diff)
	}

	var cfg SensorConfig
	if err := json.Unmarshal(pub.msgs[2].Payload, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.UniqueID != "inst-1_turns_today" || cfg.StateClass != "total_increasing" {
		t.Errorf("turns sensor = %+v", cfg)
	}
	if cfg.Device.Identifiers[0] != "inst-1" {
		t.Errorf("device identifiers = %v", cfg.Device.Identifiers)
	}
	if !pub.msgs[0].Retain {
		t.Error("discovery should be retained")
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	b := New(testConfig(), "inst-1", &fakeAsker{}, nil, nil)
	if err := b.publish(t.Context(), &paho.Publish{Topic: "x"}); err != ErrNotConnected {
		t.Fatalf("publish err = %v, want ErrNotConnected", err)
	}
	if err := b.AwaitConnection(t.Context()); err != ErrNotConnected {
		t.Fatalf("AwaitConnection err = %v, want ErrNotConnected", err)
	}
}

func TestParseAsk(t *testing.T) {
	tests := []struct {
		payload, want string
	}{
		{"what time is it", "what time is it"},
		{"  hello \n", "hello"},
		{`{"message": "tell me a joke"}`, "tell me a joke"},
		{`{"other": 1}`, ""},
		{"{not json", "{not json"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseAsk([]byte(tt.payload)); got != tt.want {
			t.Errorf("parseAsk(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestAnswerPublishesReply(t *testing.T) {
	asker := &fakeAsker{}
	b, pub := newTestBridge(asker)

	b.answer(t.Context(), &paho.Publish{Topic: b.askTopic(), Payload: []byte("hello")})

	msg := pub.last()
	if msg == nil || msg.Topic != "dazzy/kitchen/reply" {
		t.Fatalf("reply message = %+v", msg)
	}
	var got replyPayload
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatal(err)
	}
	want := replyPayload{TurnID: "t1", Reply: "echo hello", Source: "echo", Handled: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"mqtt:hello"}, asker.asked); diff != "" {
		t.Errorf("asked mismatch (-want +got):\n%s", diff)
	}
	if turns, busy := b.Turns().Snapshot(); turns != 1 || busy != 0 {
		t.Errorf("turns = %d busy = %d, want 1 0", turns, busy)
	}
}

func TestAnswerUsesResponseTopic(t *testing.T) {
	b, pub := newTestBridge(&fakeAsker{})

	b.answer(t.Context(), &paho.Publish{
		Topic:   b.askTopic(),
		Payload: []byte(`{"message":"hi"}`),
		Properties: &paho.PublishProperties{
			ResponseTopic:   "callers/42",
			CorrelationData: []byte("abc"),
		},
	})

	msg := pub.last()
	if msg.Topic != "callers/42" {
		t.Fatalf("topic = %q, want callers/42", msg.Topic)
	}
	if msg.Properties == nil || string(msg.Properties.CorrelationData) != "abc" {
		t.Fatalf("correlation data not echoed: %+v", msg.Properties)
	}
}

func TestAnswerCountsBusy(t *testing.T) {
	asker := &fakeAsker{reply: assistant.Reply{Text: assistant.BusyReply, Err: intent.KindBusy}}
	b, _ := newTestBridge(asker)
	b.answer(t.Context(), &paho.Publish{Payload: []byte("hi")})
	if turns, busy := b.Turns().Snapshot(); turns != 1 || busy != 1 {
		t.Errorf("turns = %d busy = %d, want 1 1", turns, busy)
	}
}

func TestAnswerIgnoresEmpty(t *testing.T) {
	asker := &fakeAsker{}
	b, pub := newTestBridge(asker)
	b.answer(t.Context(), &paho.Publish{Payload: []byte("   ")})
	if len(asker.asked) != 0 || pub.last() != nil {
		t.Fatalf("empty ask should be ignored, asked %v", asker.asked)
	}
}

func TestHandleIncoming(t *testing.T) {
	b, _ := newTestBridge(&fakeAsker{})

	handled, err := b.handleIncoming(paho.PublishReceived{Packet: &paho.Publish{Topic: "elsewhere"}})
	if handled || err != nil {
		t.Fatalf("foreign topic handled = %v err = %v", handled, err)
	}

	handled, _ = b.handleIncoming(paho.PublishReceived{Packet: &paho.Publish{Topic: b.askTopic(), Payload: []byte("hi")}})
	if !handled {
		t.Fatal("ask topic should be handled")
	}
	select {
	case pkt := <-b.inbox:
		if string(pkt.Payload) != "hi" {
			t.Errorf("queued payload = %q", pkt.Payload)
		}
	default:
		t.Fatal("ask was not queued")
	}
}

func TestHandleIncomingRateLimited(t *testing.T) {
	b, _ := newTestBridge(&fakeAsker{})
	b.limiter = newAskLimiter(2, time.Minute, b.logger)

	for range 4 {
		b.handleIncoming(paho.PublishReceived{Packet: &paho.Publish{Topic: b.askTopic(), Payload: []byte("x")}})
	}
	if got := len(b.inbox); got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}
	if got := b.limiter.dropped.Load(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}

	b.limiter.reset()
	if !b.limiter.allow() {
		t.Fatal("limiter should allow after reset")
	}
}

func TestHandleEventMirrorsState(t *testing.T) {
	b, pub := newTestBridge(&fakeAsker{})

	b.handleEvent(t.Context(), events.Event{Kind: events.KindStatus, Data: map[string]any{"status": "busy"}})
	b.handleEvent(t.Context(), events.Event{Kind: events.KindReply, Data: map[string]any{"reply": "It is noon."}})
	b.handleEvent(t.Context(), events.Event{Kind: events.KindTurn, Data: map[string]any{"text": "ignored"}})

	var got []string
	for _, m := range pub.msgs {
		got = append(got, m.Topic+"="+string(m.Payload))
	}
	want := []string{"dazzy/kitchen/status=busy", "dazzy/kitchen/last_reply=It is noon."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mirrored states mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishStates(t *testing.T) {
	b, pub := newTestBridge(&fakeAsker{})
	b.Turns().Record(false)
	b.publishStates(t.Context())

	got := map[string]string{}
	for _, m := range pub.msgs {
		got[m.Topic] = string(m.Payload)
	}
	want := map[string]string{
		"dazzy/kitchen/status":      "idle",
		"dazzy/kitchen/turns_today": "1",
		"dazzy/kitchen/busy_today":  "0",
		"dazzy/kitchen/uptime":      "1m30s",
		"dazzy/kitchen/version":     "test",
		"dazzy/kitchen/last_reply":  "hello",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}
