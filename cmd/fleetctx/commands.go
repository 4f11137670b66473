package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/fleetctx/internal/mcp"
	"github.com/dshills/fleetctx/internal/storage"
	"github.com/dshills/fleetctx/pkg/types"
)

// Run serves the MCP protocol until stdin closes or a signal arrives.
func (c *ServeCmd) Run(deps *Dependencies) error {
	deps.Logger.Info("fleetctx MCP server starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
	)

	err := mcp.NewServer(deps.Engine, deps.Logger).Serve(deps.Ctx)
	if errors.Is(err, deps.Ctx.Err()) {
		err = nil
	}
	deps.Logger.Info("server stopped")
	return err
}

// Run executes the search command.
func (c *SearchCmd) Run(deps *Dependencies) error {
	sources := make(map[types.Source]bool, len(c.Sources))
	for _, s := range c.Sources {
		src := types.Source(strings.ToLower(s))
		if !src.Valid() {
			return fmt.Errorf("unknown source %q", s)
		}
		sources[src] = true
	}

	results, err := deps.Engine.SearchFilesFiltered(deps.Ctx, c.Query, c.Categories)
	if err != nil {
		return err
	}
	if len(sources) > 0 {
		kept := results[:0]
		for _, r := range results {
			if sources[r.Source] {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) == 0 {
		fmt.Fprintln(deps.Stdout, "No results.")
		return nil
	}

	if c.Limit > 0 && len(results) > c.Limit {
		results = results[:c.Limit]
	}
	for i, r := range results {
		fmt.Fprintf(deps.Stdout, "%2d. %s  %-10s %.3f\n", i+1, r.Key(), r.Source, r.Score)
		if c.Content {
			fmt.Fprintln(deps.Stdout, indent(r.Content))
		}
	}
	return nil
}

// Run executes the read command.
func (c *ReadCmd) Run(deps *Dependencies) error {
	res, found, err := deps.Engine.ReadRequest(deps.Ctx, c.Request)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: file not found or unreadable", c.Request)
	}
	fmt.Fprintf(deps.Stderr, "# %s (%s)\n", res.Key(), res.Source)
	fmt.Fprint(deps.Stdout, res.Content)
	if !strings.HasSuffix(res.Content, "\n") {
		fmt.Fprintln(deps.Stdout)
	}
	return nil
}

// Run executes the docs command.
func (c *DocsCmd) Run(deps *Dependencies) error {
	out, err := deps.Engine.SearchDocumentation(deps.Ctx, c.Queries)
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Fprintln(deps.Stdout, "No documentation matched.")
		return nil
	}
	fmt.Fprintln(deps.Stdout, out)
	return nil
}

// Run executes the find command.
func (c *FindCmd) Run(deps *Dependencies) error {
	paths, err := deps.Engine.FindFiles(deps.Ctx, c.Server, c.Pattern)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(deps.Stdout, p)
	}
	return nil
}

// Run executes the logs command.
func (c *LogsCmd) Run(deps *Dependencies) error {
	if c.Lines < 1 || c.Lines > 1000 {
		return fmt.Errorf("lines must be between 1 and 1000, got %d", c.Lines)
	}
	out, ok, err := deps.Engine.ServiceLogs(deps.Ctx, c.Server, c.Service, c.Lines)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(deps.Stdout, "No logs for %s on %s.\n", c.Service, c.Server)
		return nil
	}
	fmt.Fprint(deps.Stdout, out)
	return nil
}

// Run executes the warm command.
func (c *WarmCmd) Run(deps *Dependencies) error {
	stats, err := deps.Engine.Warm(deps.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(deps.Stdout, "Warmed %d files (%d missing, %d failed) in %s\n",
		stats.FilesWarmed, stats.FilesMissing, stats.FilesFailed, stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(deps.Stderr, "  %s\n", msg)
	}
	return nil
}

// Run executes the status command.
func (c *StatusCmd) Run(deps *Dependencies) error {
	status, err := deps.Engine.Status(deps.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(deps.Stdout, status.String())
	return nil
}

// Run executes the version command.
func (c *VersionCmd) Run(deps *Dependencies) error {
	fmt.Fprintf(deps.Stdout, "fleetctx\n")
	fmt.Fprintf(deps.Stdout, "Version: %s\n", version)
	fmt.Fprintf(deps.Stdout, "Build Time: %s\n", buildTime)
	fmt.Fprintf(deps.Stdout, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(deps.Stdout, "SQLite Driver: %s\n", storage.DriverName)
	return nil
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "      " + l
	}
	return strings.Join(lines, "\n")
}
