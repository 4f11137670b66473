package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/dshills/fleetctx/internal/cache"
	"github.com/dshills/fleetctx/internal/config"
	"github.com/dshills/fleetctx/internal/docsearch"
	"github.com/dshills/fleetctx/internal/embedder"
	"github.com/dshills/fleetctx/internal/engine"
	"github.com/dshills/fleetctx/internal/shell"
	"github.com/dshills/fleetctx/internal/vectorindex"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := NewMain()
	err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if cerr := m.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program.
type Main struct {
	// Engine is opened by Run for every command that needs it.
	Engine *engine.Engine
}

// NewMain returns a new instance of Main with defaults.
func NewMain() *Main {
	return &Main{}
}

// Close shuts the engine down, persisting the vector index.
func (m *Main) Close() error {
	if m.Engine == nil {
		return nil
	}
	err := m.Engine.Close(context.Background())
	m.Engine = nil
	return err
}

// Run executes the CLI with the given arguments.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	deps := &Dependencies{
		Ctx:    ctx,
		Stdout: stdout,
		Stderr: stderr,
	}

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("fleetctx"),
		kong.Description("Search, read and cache configuration files across a fleet of servers."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}), // Don't exit on help
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'fleetctx --help' to see available commands")
	}
	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(stderr, cli.LogLevel)
	if err != nil {
		return err
	}
	deps.Logger = logger

	cmd := strings.Fields(kongCtx.Command())[0]
	if cmd != "version" {
		cfg, err := config.Load(cli.Config)
		if err != nil {
			fmt.Fprintf(stderr, "Hint: Set %s or pass --config to use a different file\n", config.EnvConfig)
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Only the long-running server warms on startup; warm does it explicitly
		opts := cfg.EngineOptions()
		if cmd != "serve" {
			opts.SkipWarmup = true
		}

		eng, err := openEngine(cfg, opts, logger)
		if err != nil {
			return err
		}
		m.Engine = eng
		deps.Engine = eng

		if err := eng.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize engine: %w", err)
		}
	}

	return kongCtx.Run(deps)
}

// openEngine builds the engine's collaborators from cfg. Collaborators that are not
// configured are left out so the engine skips them.
func openEngine(cfg *config.Config, opts engine.Options, logger *slog.Logger) (*engine.Engine, error) {
	store, err := cache.New(cfg.Cache.URL, cache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to configure cache: %w", err)
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	index, err := vectorindex.Open(cfg.Index.Path, emb.Dimension(),
		vectorindex.WithLogger(logger),
		vectorindex.WithEmbedding(emb.Provider(), emb.Model()),
	)
	if err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to open vector index at %q: %w", cfg.Index.Path, err)
	}

	pool := shell.New(shell.NewSSHDialer(logger), cfg.Endpoints(),
		shell.WithLogger(logger),
		shell.WithMaxSessions(cfg.MaxSessions()),
	)

	deps := engine.Deps{
		Shell:    pool,
		Cache:    store,
		Index:    index,
		Embedder: emb,
		Logger:   logger,
	}
	if cfg.Docs.Root != "" {
		deps.Docs = docsearch.New(cfg.Docs.Root, cfg.Docs.Patterns, logger)
	}
	return engine.New(opts, deps), nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
