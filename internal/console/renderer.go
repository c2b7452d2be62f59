// Package console renders the conversation in a terminal and runs the
// typed chat REPL.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/skip2/go-qrcode"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9ece6a"))
	statusStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#565f89"))
	linkStyle      = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("#7dcfff"))
)

// Renderer writes styled conversation lines. It is safe for
// concurrent use.
type Renderer struct {
	out       io.Writer
	assistant string
	qr        bool

	mu   sync.Mutex
	busy bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithQRCodes prints a terminal QR code under each opened URL so it can
// be followed from a phone when no browser is available.
func WithQRCodes(enabled bool) Option {
	return func(r *Renderer) { r.qr = enabled }
}

// WithAssistantName sets the label on assistant lines.
func WithAssistantName(name string) Option {
	return func(r *Renderer) {
		if name != "" {
			r.assistant = name
		}
	}
}

// NewRenderer returns a renderer writing to out.
func NewRenderer(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{out: out, assistant: "Dazzy"}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render writes one line attributed to sender.
func (r *Renderer) Render(sender, text string) {
	style := assistantStyle
	if sender != r.assistant {
		style = userStyle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", style.Render(sender+":"), text)
}

// SetBusy prints a status line when the busy state changes.
func (r *Renderer) SetBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if busy == r.busy {
		return
	}
	r.busy = busy
	if busy {
		fmt.Fprintln(r.out, statusStyle.Render("thinking..."))
	}
}

// ShowURL prints url and, when enabled, a QR code for it.
func (r *Renderer) ShowURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, linkStyle.Render(url))
	if !r.qr {
		return
	}
	code, err := QRCode(url)
	if err != nil {
		return
	}
	fmt.Fprint(r.out, code)
}

// QRCode renders url as a compact block-character QR code.
func QRCode(url string) (string, error) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("qr code: %w", err)
	}
	s := q.ToSmallString(false)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s, nil
}
