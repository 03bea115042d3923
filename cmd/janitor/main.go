package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GhrammR/the-janitor/internal/output"
	"github.com/GhrammR/the-janitor/internal/progress"
	"github.com/GhrammR/the-janitor/pkg/config"
	"github.com/GhrammR/the-janitor/pkg/janitor"
	"github.com/GhrammR/the-janitor/pkg/reaper"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"    //nolint:unused // set via ldflags at build time
	date    = "unknown" //nolint:unused // set via ldflags at build time
)

// Exit codes: 0 success; 1 symbols flagged or rollback performed;
// 2 concurrent modification or test-collection error; 3 pre-flight failure.
const (
	exitFlagged    = 1
	exitConcurrent = 2
	exitPreflight  = 3
)

// getRoot returns the project root from positional args, defaulting to ".".
func getRoot(c *cli.Context) string {
	if c.Args().Len() > 0 {
		return c.Args().First()
	}
	return "."
}

func main() {
	app := &cli.App{
		Name:    "janitor",
		Usage:   "Dead-code detection and surgical removal for Python and JavaScript/TypeScript",
		Version: version,
		Description: `The janitor finds orphan files and dead symbols in polyglot
repositories, then excises them in place while guaranteeing the project's
test suite still passes.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (TOML, YAML, or JSON)",
				EnvVars: []string{"JANITOR_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "text",
				Usage:   "Output format: text, json, markdown",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write output to file",
			},
			&cli.StringFlag{
				Name:  "language",
				Value: "all",
				Usage: "Language selector: python, javascript-typescript, all",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Disable the analysis cache",
			},
			&cli.BoolFlag{
				Name:  "library",
				Usage: "Library mode: treat public symbols as externally referenced",
			},
			&cli.BoolFlag{
				Name:  "grep-shield",
				Usage: "Scan non-source files for literal symbol names before flagging",
			},
			&cli.BoolFlag{
				Name:  "include-vendored",
				Usage: "Analyze vendored directories too",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output",
			},
		},
		Commands: []*cli.Command{
			auditCmd(),
			cleanCmd(),
			orphansCmd(),
			cacheCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			if exitErr.Error() != "" {
				color.Red("Error: %v", err)
			}
			os.Exit(exitErr.ExitCode())
		}
		color.Red("Error: %v", err)
		os.Exit(exitPreflight)
	}
}

func loadConfig(c *cli.Context) *config.Config {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			color.Yellow("Config %s not loadable (%v), using defaults", path, err)
			cfg = config.DefaultConfig()
		} else {
			cfg = loaded
		}
	} else {
		cfg = config.LoadOrDefault()
	}

	switch c.String("language") {
	case "python":
		cfg.Languages = config.SelectPython
	case "javascript-typescript", "js", "ts":
		cfg.Languages = config.SelectJS
	}
	if c.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if c.Bool("library") {
		cfg.LibraryMode = true
	}
	if c.Bool("grep-shield") {
		cfg.GrepShield = true
	}
	if c.Bool("include-vendored") {
		cfg.IncludeVendored = true
	}
	return cfg
}

func newJanitor(c *cli.Context) (*janitor.Janitor, error) {
	root, err := filepath.Abs(getRoot(c))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid path: %v", err), exitPreflight)
	}
	j, err := janitor.New(root, loadConfig(c))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitPreflight)
	}
	return j, nil
}

func auditCmd() *cli.Command {
	return &cli.Command{
		Name:      "audit",
		Aliases:   []string{"scan"},
		Usage:     "Find orphan files and dead symbols without modifying anything",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "show-protected",
				Usage: "Also report protected symbols with their protection tags",
			},
		},
		Action: runAuditCmd,
	}
}

func runAuditCmd(c *cli.Context) error {
	j, err := newJanitor(c)
	if err != nil {
		return err
	}
	defer j.Close()

	tracker := progress.NewSpinner("Auditing project...")
	result, err := j.Audit(context.Background(), tracker.Tick)
	tracker.FinishSuccess()
	if err != nil {
		return cli.Exit(fmt.Sprintf("audit failed: %v", err), exitPreflight)
	}

	formatter, err := output.NewFormatter(output.ParseFormat(c.String("format")), c.String("output"), true)
	if err != nil {
		return cli.Exit(err.Error(), exitPreflight)
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON {
		if err := formatter.Output(result); err != nil {
			return cli.Exit(err.Error(), exitPreflight)
		}
		return auditExitCode(result)
	}

	if result.FromCache && c.Bool("verbose") {
		color.Cyan("Result served from analysis cache")
	}

	if len(result.Orphans) > 0 {
		var rows [][]string
		for _, orphan := range result.Orphans {
			rows = append(rows, []string{relTo(j.Root(), orphan)})
		}
		table := output.NewTable("Orphan Files", []string{"File"}, rows, nil, nil)
		if err := formatter.Output(table); err != nil {
			return cli.Exit(err.Error(), exitPreflight)
		}
	}

	if len(result.DeadSymbols) > 0 {
		var rows [][]string
		for _, symbol := range result.DeadSymbols {
			rows = append(rows, []string{
				fmt.Sprintf("%s:%d", relTo(j.Root(), symbol.FilePath), symbol.StartLine),
				symbol.QualifiedName,
				string(symbol.Kind),
			})
		}
		table := output.NewTable("Dead Symbols", []string{"Location", "Symbol", "Kind"}, rows, nil, nil)
		if err := formatter.Output(table); err != nil {
			return cli.Exit(err.Error(), exitPreflight)
		}
	}

	if c.Bool("show-protected") && len(result.Protected) > 0 {
		var rows [][]string
		for _, symbol := range result.Protected {
			rows = append(rows, []string{
				fmt.Sprintf("%s:%d", relTo(j.Root(), symbol.FilePath), symbol.StartLine),
				symbol.QualifiedName,
				string(symbol.Kind),
				symbol.ProtectedBy,
			})
		}
		table := output.NewTable("Protected Symbols", []string{"Location", "Symbol", "Kind", "Protection"}, rows, nil, nil)
		if err := formatter.Output(table); err != nil {
			return cli.Exit(err.Error(), exitPreflight)
		}
	}

	fmt.Printf("\nSummary: %d dead symbols, %d orphan files across %d files\n",
		len(result.DeadSymbols), len(result.Orphans), result.FileCount)

	return auditExitCode(result)
}

func auditExitCode(result *janitor.AuditResult) error {
	if len(result.DeadSymbols) > 0 || len(result.Orphans) > 0 {
		return cli.Exit("", exitFlagged)
	}
	return nil
}

func cleanCmd() *cli.Command {
	return &cli.Command{
		Name:      "clean",
		Usage:     "Remove dead symbols, verifying the test suite still passes",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report what would be removed without touching anything",
			},
			&cli.BoolFlag{
				Name:  "orphans",
				Usage: "Also delete orphan files",
			},
			&cli.StringFlag{
				Name:  "test-command",
				Usage: "Override the autodetected test command",
			},
		},
		Action: runCleanCmd,
	}
}

func runCleanCmd(c *cli.Context) error {
	j, err := newJanitor(c)
	if err != nil {
		return err
	}
	defer j.Close()

	tracker := progress.NewSpinner("Cleaning project...")
	result, err := j.Clean(context.Background(), janitor.CleanOptions{
		DryRun:        c.Bool("dry-run"),
		DeleteOrphans: c.Bool("orphans"),
		TestCommand:   c.String("test-command"),
		OnProgress:    tracker.Tick,
	})
	tracker.FinishSuccess()
	if err != nil {
		if errors.Is(err, reaper.ErrConcurrentModification) {
			return cli.Exit(err.Error(), exitConcurrent)
		}
		if errors.Is(err, reaper.ErrBackupFailed) || errors.Is(err, reaper.ErrSessionActive) {
			return cli.Exit(err.Error(), exitPreflight)
		}
		return cli.Exit(err.Error(), exitPreflight)
	}

	formatter, err := output.NewFormatter(output.ParseFormat(c.String("format")), c.String("output"), true)
	if err != nil {
		return cli.Exit(err.Error(), exitPreflight)
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON {
		if err := formatter.Output(result); err != nil {
			return cli.Exit(err.Error(), exitPreflight)
		}
		return cleanExitCode(result)
	}

	switch {
	case result.DryRun:
		color.Cyan("Dry run: %d dead symbols and %d orphan files would be removed",
			len(result.Audit.DeadSymbols), len(result.Audit.Orphans))
	case result.RolledBack:
		color.Red("Rolled back: %d new test failures", len(result.NewFailures))
		for i, failure := range result.NewFailures {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(result.NewFailures)-10)
				break
			}
			fmt.Printf("  - %s\n", failure)
		}
		if result.CollectionError {
			color.Red("Test collection error: the suite could not even start")
		}
	case result.Committed && result.RemovedSymbols+result.RemovedFiles > 0:
		color.Green("Removed %d dead symbols and %d orphan files (session %s)",
			result.RemovedSymbols, result.RemovedFiles, result.SessionID)
	default:
		color.Green("Nothing to remove")
	}

	return cleanExitCode(result)
}

func cleanExitCode(result *janitor.CleanResult) error {
	if result.CollectionError {
		return cli.Exit("", exitConcurrent)
	}
	if result.RolledBack {
		return cli.Exit("", exitFlagged)
	}
	return nil
}

func orphansCmd() *cli.Command {
	return &cli.Command{
		Name:      "orphans",
		Usage:     "List files that no other file imports and that are not entry points",
		ArgsUsage: "[path]",
		Action: func(c *cli.Context) error {
			j, err := newJanitor(c)
			if err != nil {
				return err
			}
			defer j.Close()

			tracker := progress.NewSpinner("Detecting orphans...")
			result, err := j.Audit(context.Background(), tracker.Tick)
			tracker.FinishSuccess()
			if err != nil {
				return cli.Exit(fmt.Sprintf("audit failed: %v", err), exitPreflight)
			}

			if len(result.Orphans) == 0 {
				color.Green("No orphan files found")
				return nil
			}
			for _, orphan := range result.Orphans {
				fmt.Println(relTo(j.Root(), orphan))
			}
			return cli.Exit("", exitFlagged)
		},
	}
}

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the analysis cache",
		Subcommands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "Show cache row counts",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					j, err := newJanitor(c)
					if err != nil {
						return err
					}
					defer j.Close()

					store := j.Cache()
					if store == nil {
						color.Yellow("Cache disabled")
						return nil
					}
					stats, err := store.GetStats()
					if err != nil {
						return cli.Exit(err.Error(), exitPreflight)
					}
					fmt.Printf("Files: %d\nDefinitions: %d\nReferences: %d\nDependencies: %d\nDanger flags: %d\nProject results: %d\n",
						stats.Files, stats.Definitions, stats.References,
						stats.Dependencies, stats.Danger, stats.Results)
					return nil
				},
			},
			{
				Name:      "clear",
				Usage:     "Remove all cached rows",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					j, err := newJanitor(c)
					if err != nil {
						return err
					}
					defer j.Close()

					store := j.Cache()
					if store == nil {
						color.Yellow("Cache disabled")
						return nil
					}
					if err := store.Clear(); err != nil {
						return cli.Exit(err.Error(), exitPreflight)
					}
					color.Green("Cache cleared")
					return nil
				},
			},
		},
	}
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
