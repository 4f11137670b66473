package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/dshills/fleetctx/internal/engine"
)

// Dependencies holds all services and configuration for command execution.
type Dependencies struct {
	Ctx    context.Context
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	Engine *engine.Engine
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config   string `short:"c" type:"path" env:"FLEETCTX_CONFIG" help:"Configuration file (default ~/.fleetctx/config.yaml)"`
	LogLevel string `name:"log-level" default:"info" enum:"debug,info,warn,error" help:"Log level written to stderr"`

	Serve   ServeCmd   `cmd:"" help:"Serve the MCP tools on stdio"`
	Search  SearchCmd  `cmd:"" help:"Search files across all servers"`
	Read    ReadCmd    `cmd:"" help:"Read a file, by path or alias"`
	Docs    DocsCmd    `cmd:"" help:"Search the local documentation tree"`
	Find    FindCmd    `cmd:"" help:"List files on a server matching a name pattern"`
	Logs    LogsCmd    `cmd:"" help:"Show the journal of a systemd service"`
	Warm    WarmCmd    `cmd:"" help:"Re-read every important file into the cache and index"`
	Status  StatusCmd  `cmd:"" help:"Show connectivity, cache and index status"`
	Version VersionCmd `cmd:"" help:"Show version and build information"`
}

// ServeCmd is the "serve" subcommand.
type ServeCmd struct{}

// SearchCmd is the "search" subcommand.
type SearchCmd struct {
	Query      string   `arg:"" help:"Text to look for in paths and contents"`
	Categories []string `short:"C" name:"category" help:"Only return files in this category (repeatable)"`
	Sources    []string `short:"s" name:"source" help:"Only return results from this source: filesystem, cache or vector (repeatable)"`
	Limit      int      `short:"n" default:"10" help:"Maximum number of results"`
	Content    bool     `help:"Print file contents under each result"`
}

// ReadCmd is the "read" subcommand.
type ReadCmd struct {
	Request string `arg:"" help:"server:path or server:alias (e.g. core:env)"`
}

// DocsCmd is the "docs" subcommand.
type DocsCmd struct {
	Queries []string `arg:"" help:"Terms to look for; the first one found in a file wins"`
}

// FindCmd is the "find" subcommand.
type FindCmd struct {
	Server  string `arg:"" help:"Server name"`
	Pattern string `arg:"" help:"find(1) -name pattern (e.g. '*.conf')"`
}

// LogsCmd is the "logs" subcommand.
type LogsCmd struct {
	Server  string `arg:"" help:"Server name"`
	Service string `arg:"" help:"systemd unit name"`
	Lines   int    `short:"n" default:"50" help:"Number of journal lines"`
}

// WarmCmd is the "warm" subcommand.
type WarmCmd struct{}

// StatusCmd is the "status" subcommand.
type StatusCmd struct{}

// VersionCmd is the "version" subcommand.
type VersionCmd struct{}
