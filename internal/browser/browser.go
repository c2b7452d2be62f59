// Package browser opens URLs for site-open and search intents.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Opener opens a URL. It matches actions.Opener.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// ErrUnsupported is returned on platforms with no known opener.
var ErrUnsupported = errors.New("opening URLs is not supported on this platform")

// System opens URLs with the desktop's default handler.
type System struct {
	// Timeout bounds how long the launcher may run. Default 5s.
	Timeout time.Duration
	Logger  *slog.Logger

	// command builds the launcher; tests replace it.
	command func(ctx context.Context, target string) (*exec.Cmd, error)
}

// NewSystem returns an opener for the running platform.
func NewSystem(logger *slog.Logger) *System {
	return &System{Timeout: 5 * time.Second, Logger: logger, command: platformCommand}
}

// Open launches target. Targets that look like flags are refused.
func (s *System) Open(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("open: empty target")
	}
	if strings.HasPrefix(target, "-") {
		return fmt.Errorf("open: invalid target %q", target)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	build := s.command
	if build == nil {
		build = platformCommand
	}
	cmd, err := build(ctx, target)
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("open %s: %w (%s)", target, err, msg)
		}
		return fmt.Errorf("open %s: %w", target, err)
	}
	if s.Logger != nil {
		s.Logger.Debug("opened url", "url", target)
	}
	return nil
}

func platformCommand(ctx context.Context, target string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "open", "--", target), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.CommandContext(ctx, "xdg-open", target), nil
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", target), nil
	}
	return nil, fmt.Errorf("%w (%s)", ErrUnsupported, runtime.GOOS)
}

// Log records URLs without opening anything. Headless deployments use
// it so the URL still reaches the log and the reply.
type Log struct {
	Logger *slog.Logger
}

// Open logs target.
func (l Log) Open(_ context.Context, target string) error {
	if l.Logger != nil {
		l.Logger.Info("url not opened, headless", "url", target)
	}
	return nil
}

// Multi opens with every opener and joins their errors.
type Multi []Opener

// Open calls each opener in order.
func (m Multi) Open(ctx context.Context, target string) error {
	var errs []error
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := o.Open(ctx, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Opener.
type Func func(ctx context.Context, url string) error

// Open calls f.
func (f Func) Open(ctx context.Context, url string) error { return f(ctx, url) }
