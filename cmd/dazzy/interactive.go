package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/dazzy/internal/actions"
	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/browser"
	"github.com/nugget/dazzy/internal/console"
	"github.com/nugget/dazzy/internal/speech"
	"github.com/nugget/dazzy/internal/voice"
)

// The terminal modes log to stderr so logs do not interleave with the
// conversation.

// runVoice drives the listen, answer, speak loop. With no capture
// command configured the terminal stands in for the microphone.
func runVoice(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	if err := prepareDataDir(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	renderer := console.NewRenderer(stdout,
		console.WithAssistantName(cfg.Assistant.Name),
		console.WithQRCodes(!cfg.Voice.OpenBrowser),
	)

	// Spoken site-open requests show a link or QR code as well as any
	// browser launch.
	opener := browser.Multi{
		systemOpener(cfg, logger),
		browser.Func(func(_ context.Context, url string) error {
			renderer.ShowURL(url)
			return nil
		}),
	}

	// Voice has no typed name to capture.
	c, err := newCore(ctx, cfg, logger, coreOptions{Onboarding: false, Opener: opener})
	if err != nil {
		return err
	}
	defer c.Close()

	// Replies are rendered by the console renderer, so a typed
	// fallback speaker prints nothing.
	device := speech.NewDevice(cfg.Voice.CaptureCommand, cfg.Voice.SpeakCommand, stdin, io.Discard)
	logger.Info("voice device",
		"capture", deviceSide(cfg.Voice.CaptureCommand),
		"speak", deviceSide(cfg.Voice.SpeakCommand),
	)

	loop := voice.New(voice.Config{
		Device:    device,
		Assistant: c.assistant,
		Renderer:  renderer,
		Name:      cfg.Assistant.Name,
		Greeting:  "Hi, I'm " + cfg.Assistant.Name + ". How can I help?",
		Bus:       c.bus,
		Observer:  c.metrics,
		Logger:    logger,
	})
	return loop.Run(ctx)
}

func deviceSide(command string) string {
	if command == "" {
		return "console"
	}
	return command
}

// runChat is the typed REPL with onboarding.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	if err := prepareDataDir(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newCore(ctx, cfg, logger, coreOptions{
		Onboarding: cfg.Assistant.OnboardingEnabled(),
		Opener:     systemOpener(cfg, logger),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	chat := console.NewChat(c.assistant, stdin, stdout,
		console.WithAssistantName(cfg.Assistant.Name),
		console.WithQRCodes(!cfg.Voice.OpenBrowser),
	)
	return chat.Run(ctx)
}

// runAsk answers one question without onboarding and exits. Errors
// from the question itself still print a reply: the assistant always
// answers.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	c, err := newCore(ctx, cfg, logger, coreOptions{Opener: askOpener(logger)})
	if err != nil {
		return err
	}
	defer c.Close()

	reply, err := c.assistant.Ask(ctx, assistant.ChannelCLI, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(stdout, speech.Plain(reply.Text))
	if reply.URL != "" {
		fmt.Fprintln(stdout, reply.URL)
	}
	return nil
}

// askOpener never launches anything: one-shot answers print the URL.
func askOpener(logger *slog.Logger) actions.Opener {
	return browser.Log{Logger: logger}
}
