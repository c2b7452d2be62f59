package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/nugget/dazzy/internal/actions"
	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/browser"
	"github.com/nugget/dazzy/internal/buildinfo"
	"github.com/nugget/dazzy/internal/config"
	"github.com/nugget/dazzy/internal/coordinator"
	"github.com/nugget/dazzy/internal/dispatch"
	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/fallback"
	"github.com/nugget/dazzy/internal/httpkit"
	"github.com/nugget/dazzy/internal/intent"
	"github.com/nugget/dazzy/internal/knowledge"
	"github.com/nugget/dazzy/internal/llm"
	"github.com/nugget/dazzy/internal/metrics"
	"github.com/nugget/dazzy/internal/session"
	"github.com/nugget/dazzy/internal/wiki"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// core is the assistant and everything it answers with. Every front
// end (HTTP, MQTT, voice, chat, ask) is built on one.
type core struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *events.Bus
	metrics   *metrics.Recorder
	registry  *intent.Registry
	coord     *coordinator.Coordinator
	assistant *assistant.Assistant

	// Optional remote collaborators, nil when disabled.
	wiki *wiki.Client
	llm  llm.Client

	db *sql.DB
}

// coreOptions varies the core per front end.
type coreOptions struct {
	// Onboarding gates request/response sessions on the user's name.
	Onboarding bool
	// Opener shows URLs for site-open intents. Nil logs them.
	Opener actions.Opener
}

// newCore builds the assistant from cfg. Close releases it.
func newCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts coreOptions) (*core, error) {
	c := &core{
		cfg:     cfg,
		logger:  logger,
		bus:     events.New(),
		metrics: metrics.New(),
	}

	kb, err := c.loadKnowledge(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("knowledge loaded", "entries", kb.Len())

	// Typed nils would defeat the offline checks downstream, so the
	// interfaces stay unset unless a client exists.
	var summarizer actions.Summarizer
	if cfg.Encyclopedia.Configured() {
		c.wiki = wiki.New(cfg.Encyclopedia.BaseURL, httpkit.NewClient(
			httpkit.WithTimeout(cfg.Encyclopedia.Timeout()),
			httpkit.WithRetry(1, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		), logger)
		summarizer = c.wiki
		logger.Info("encyclopedia enabled", "base_url", cfg.Encyclopedia.BaseURL)
	} else {
		logger.Info("encyclopedia disabled")
	}

	var completer actions.Completer
	if cfg.Completion.Configured() {
		c.llm = llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:     cfg.Completion.BaseURL,
			APIKey:      cfg.Completion.APIKey,
			Model:       cfg.Completion.Model,
			Temperature: cfg.Completion.Temperature,
			HTTPClient:  httpkit.NewClient(httpkit.WithTimeout(cfg.Completion.Timeout())),
			Logger:      logger,
		})
		completer = llm.Prompter{Client: c.llm, System: cfg.Completion.SystemPrompt}
		logger.Info("completion enabled", "base_url", cfg.Completion.BaseURL, "model", cfg.Completion.Model)
	} else {
		logger.Info("completion disabled (no api_key), running offline")
	}

	opener := opts.Opener
	if opener == nil {
		opener = browser.Log{Logger: logger}
	}

	c.registry, err = actions.NewRegistry(actions.Deps{
		Assistant:  cfg.Assistant.Name,
		Now:        time.Now,
		Sites:      cfg.Sites,
		Knowledge:  kb,
		Summarizer: summarizer,
		Sentences:  cfg.Encyclopedia.Sentences,
		Completer:  completer,
		PagesDir:   cfg.HTML.OutputDir,
		Opener:     opener,
		Logger:     logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build intent registry: %w", err)
	}

	chain := fallback.New(fallback.Config{
		Knowledge:  kb,
		Summarizer: summarizer,
		Sentences:  cfg.Encyclopedia.Sentences,
		Completer:  completer,
		Logger:     logger,
	})
	logger.Debug("fallback chain ready", "stages", chain.Stages())

	dispatcher := dispatch.New(c.registry, chain,
		dispatch.WithObserver(c.metrics),
		dispatch.WithLogger(logger),
	)

	var turns session.Dispatcher = dispatcher
	if cfg.Assistant.Translate {
		if c.llm != nil {
			turns = dispatch.Translating{
				Next:       dispatcher,
				Translator: llm.Translator{Client: c.llm},
				Logger:     logger,
			}
			logger.Info("input translation enabled")
		} else {
			logger.Warn("translate is set but completion is disabled; input is not translated")
		}
	}

	c.coord = coordinator.New(coordinator.Config{
		Bus:      c.bus,
		Observer: c.metrics,
		Logger:   logger,
	})

	c.assistant = assistant.New(assistant.Config{
		Name:       cfg.Assistant.Name,
		Dispatcher: turns,
		Sessions: session.NewManager(turns,
			session.WithOnboarding(opts.Onboarding),
			session.WithMemory(cfg.Assistant.Memory),
		),
		Coordinator: c.coord,
		Bus:         c.bus,
		Logger:      logger,
		Intents:     c.registry.Len(),
	})

	logger.Info("assistant ready",
		"name", cfg.Assistant.Name,
		"version", buildinfo.Version,
		"intents", c.registry.Len(),
	)
	return c, nil
}

// loadKnowledge merges the YAML file and the SQLite table. A missing
// file is not an error: the example config names one that init
// creates, and a fresh checkout has none.
func (c *core) loadKnowledge(ctx context.Context) (*knowledge.Base, error) {
	var sources []map[string]string

	if path := c.cfg.Knowledge.File; path != "" {
		entries, err := knowledge.LoadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			c.logger.Warn("knowledge file not found", "path", path)
		case err != nil:
			return nil, err
		default:
			sources = append(sources, entries)
		}
	}

	if path := c.cfg.Knowledge.Database; path != "" {
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("open knowledge database %s: %w", path, err)
		}
		c.db = db
		store, err := knowledge.NewStore(db)
		if err != nil {
			return nil, err
		}
		entries, err := store.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("read knowledge database %s: %w", path, err)
		}
		sources = append(sources, entries)
	}

	return knowledge.New(sources...), nil
}

// Close stops background work and releases the knowledge database.
func (c *core) Close() error {
	if c.coord != nil {
		c.coord.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// prepareDataDir creates the data and page directories.
func prepareDataDir(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.HTML.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// systemOpener launches the browser when the config allows it and
// logs the URL otherwise.
func systemOpener(cfg *config.Config, logger *slog.Logger) actions.Opener {
	if cfg.Voice.OpenBrowser {
		return browser.NewSystem(logger)
	}
	return browser.Log{Logger: logger}
}
