package voice

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/speech"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type capture struct {
	text string
	err  error
}

// scriptedDevice replays captures in order and records speech. After
// the script runs out it reports end of input.
type scriptedDevice struct {
	mu      sync.Mutex
	script  []capture
	spoken  []string
	blockOn bool
}

func (d *scriptedDevice) Capture(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.blockOn {
		d.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return "", io.EOF
	}
	c := d.script[0]
	d.script = d.script[1:]
	return c.text, c.err
}

func (d *scriptedDevice) Speak(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spoken = append(d.spoken, text)
	return nil
}

func (d *scriptedDevice) Spoken() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.spoken...)
}

type echoAssistant struct {
	mu    sync.Mutex
	turns []string
}

func (a *echoAssistant) HandleIn(_ context.Context, conversationID, channel, text string) (assistant.Reply, error) {
	a.mu.Lock()
	a.turns = append(a.turns, conversationID+"/"+channel+":"+text)
	a.mu.Unlock()
	if text == "bye" {
		return assistant.Reply{Text: "Thank you for using Dazzy. Goodbye!", Terminate: true}, nil
	}
	return assistant.Reply{Text: "**" + text + "** received", Handled: true}, nil
}

type recordingRenderer struct {
	mu    sync.Mutex
	lines []string
	busy  []bool
}

func (r *recordingRenderer) Render(sender, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, sender+": "+text)
}

func (r *recordingRenderer) SetBusy(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = append(r.busy, b)
}

func runLoop(t *testing.T, l *Loop) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.Run(ctx)
	if ctx.Err() != nil {
		t.Fatal("voice loop did not finish before the deadline")
	}
	return err
}

func TestLoopConversationUntilFarewell(t *testing.T) {
	dev := &scriptedDevice{script: []capture{{text: "hello"}, {text: "bye"}, {text: "never heard"}}}
	asst := &echoAssistant{}
	rend := &recordingRenderer{}

	err := runLoop(t, New(Config{Device: dev, Assistant: asst, Renderer: rend, Greeting: "Dazzy online. Speak."}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantSpoken := []string{"Dazzy online. Speak.", "hello received", "Thank you for using Dazzy. Goodbye!"}
	if got := dev.Spoken(); strings.Join(got, "|") != strings.Join(wantSpoken, "|") {
		t.Errorf("spoken = %q, want %q", got, wantSpoken)
	}
	if strings.Join(asst.turns, "|") != "voice/voice:hello|voice/voice:bye" {
		t.Errorf("turns = %q", asst.turns)
	}
	if len(rend.lines) != 5 || rend.lines[1] != "You: hello" || rend.lines[2] != "Dazzy: **hello** received" {
		t.Errorf("rendered = %q", rend.lines)
	}
	if len(rend.busy) == 0 {
		t.Error("renderer never told about busy state")
	}
}

func TestLoopEndsAtEOF(t *testing.T) {
	dev := &scriptedDevice{}
	if err := runLoop(t, New(Config{Device: dev, Assistant: &echoAssistant{}})); err != nil {
		t.Errorf("Run: %v", err)
	}
	if len(dev.Spoken()) != 0 {
		t.Errorf("spoken = %q", dev.Spoken())
	}
}

func TestLoopRetriesWhenNothingHeard(t *testing.T) {
	dev := &scriptedDevice{script: []capture{{err: speech.ErrNoSpeech}, {text: "bye"}}}
	if err := runLoop(t, New(Config{Device: dev, Assistant: &echoAssistant{}})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := dev.Spoken()
	if len(got) != 2 || got[0] != NotHeardReply {
		t.Errorf("spoken = %q", got)
	}
}

func TestLoopGivesUpOnBrokenDevice(t *testing.T) {
	broken := errors.New("device unplugged")
	dev := &scriptedDevice{script: []capture{{err: broken}, {err: broken}, {err: broken}}}

	err := runLoop(t, New(Config{Device: dev, Assistant: &echoAssistant{}}))
	if !errors.Is(err, broken) {
		t.Errorf("Run error = %v, want device error", err)
	}
	if got := dev.Spoken(); len(got) != MaxCaptureFailures-1 || got[0] != DeviceReply {
		t.Errorf("spoken = %q", got)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	dev := &scriptedDevice{blockOn: true}
	l := New(Config{Device: dev, Assistant: &echoAssistant{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
