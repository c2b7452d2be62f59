package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// waitDelay bounds how long a killed program's children may hold its
// output pipes open.
const waitDelay = time.Second

// ErrNoSpeech means a capture finished without a transcript.
var ErrNoSpeech = errors.New("no speech captured")

// Device captures one utterance and speaks one reply. Both calls
// block and must return promptly when ctx is cancelled.
type Device interface {
	Capture(ctx context.Context) (string, error)
	Speak(ctx context.Context, text string) error
}

// Console reads utterances as lines from In and writes replies to Out.
// It stands in for a microphone and speaker.
type Console struct {
	Out    io.Writer
	Prompt string

	lines chan lineResult
	once  sync.Once
	in    io.Reader
	mu    sync.Mutex
}

type lineResult struct {
	text string
	err  error
}

// NewConsole returns a console device over in and out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, Out: out, Prompt: "> "}
}

// Capture returns the next non-empty line. Reading happens on a
// separate goroutine so a cancelled capture does not hang; the pending
// line is delivered to the next Capture.
func (c *Console) Capture(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.lines = make(chan lineResult)
		go c.read()
	})
	if c.Prompt != "" {
		c.write(c.Prompt)
	}
	select {
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.text) == "" {
			return "", ErrNoSpeech
		}
		return r.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) read() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		c.lines <- lineResult{text: sc.Text()}
	}
	if err := sc.Err(); err != nil {
		c.lines <- lineResult{err: err}
	}
}

// Speak writes text followed by a newline.
func (c *Console) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(text + "\n")
}

func (c *Console) write(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.Out, s)
	return err
}

// Command runs external programs through /bin/sh -c: CaptureCommand
// prints one transcript to stdout and SpeakCommand reads the reply on
// stdin. Cancelling ctx kills the program.
type Command struct {
	CaptureCommand string
	SpeakCommand   string
	Shell          string
}

func (c Command) shell() string {
	if c.Shell != "" {
		return c.Shell
	}
	return "/bin/sh"
}

// Capture runs the capture program and returns its trimmed output.
func (c Command) Capture(ctx context.Context) (string, error) {
	if c.CaptureCommand == "" {
		return "", errors.New("capture command not configured")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.shell(), "-c", c.CaptureCommand)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", commandError("capture", err, stderr.String())
	}
	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// Speak runs the speak program with text on stdin.
func (c Command) Speak(ctx context.Context, text string) error {
	if c.SpeakCommand == "" {
		return errors.New("speak command not configured")
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.shell(), "-c", c.SpeakCommand)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return commandError("speak", err, stderr.String())
	}
	return nil
}

// Split captures with one device and speaks with another.
type Split struct {
	Capturer Device
	Speaker  Device
}

func (s Split) Capture(ctx context.Context) (string, error) { return s.Capturer.Capture(ctx) }

func (s Split) Speak(ctx context.Context, text string) error { return s.Speaker.Speak(ctx, text) }

// NewDevice picks the device for the configured commands. A direction
// with no command falls back to console, which reads typed lines from
// in and writes replies to out.
func NewDevice(captureCommand, speakCommand string, in io.Reader, out io.Writer) Device {
	cmd := Command{CaptureCommand: captureCommand, SpeakCommand: speakCommand}
	switch {
	case captureCommand != "" && speakCommand != "":
		return cmd
	case captureCommand != "":
		return Split{Capturer: cmd, Speaker: NewConsole(in, out)}
	case speakCommand != "":
		return Split{Capturer: NewConsole(in, out), Speaker: cmd}
	}
	return NewConsole(in, out)
}

func commandError(op string, err error, stderr string) error {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("%s command: %w (%s)", op, err, msg)
	}
	return fmt.Errorf("%s command: %w", op, err)
}
