// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command dispatch and application wiring for localm.

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shuklaaditya846/local-lm/internal/control"
	"github.com/shuklaaditya846/local-lm/internal/engine"
	"github.com/shuklaaditya846/local-lm/internal/history"
	"github.com/shuklaaditya846/local-lm/internal/settings"
	"github.com/shuklaaditya846/local-lm/internal/ui"
)

// Version is the localm release version, overridable at link time.
var Version = "0.3.0"

// Run dispatches the parsed command line. Returns the process exit code.
func Run(raw []string) int {
	args := Parse(raw)

	switch args.Command {
	case "version":
		fmt.Printf("localm %s\n", Version)
		return 0

	case "help":
		printUsage()
		return 0

	case "sessions":
		if err := runSessions(args); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			return 1
		}
		return 0

	case "chat":
		if err := runChat(args); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			return 1
		}
		return 0

	case "tui":
		if err := runTUI(args); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args.Command)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println(`localm - chat with a locally hosted model

Usage:
  localm [command] [flags]

Commands:
  tui        Full-screen terminal UI (default)
  chat       Line-oriented interactive chat
  sessions   List stored sessions
  version    Print version
  help       Print this help

Flags:
  -m, --model NAME     Override the configured model
  --url URL            Override the engine server URL
  --settings PATH      Use an alternate settings file
  -q, --quiet          Minimal output`)
}

// =============================================================================
// WIRING
// =============================================================================

// loadSettings loads settings and applies command line overrides.
func loadSettings(args Args) (*settings.Settings, error) {
	var (
		cfg *settings.Settings
		err error
	)
	if args.SettingsPath != "" {
		cfg, err = settings.LoadFrom(args.SettingsPath)
	} else {
		cfg, err = settings.Load()
	}
	if err != nil {
		return nil, err
	}
	if args.Model != "" {
		cfg.Engine.Model = args.Model
	}
	if args.BaseURL != "" {
		cfg.Engine.BaseURL = args.BaseURL
	}
	return cfg, nil
}

// openStore opens the configured history backend. The returned closer is
// a no-op for the file store.
func openStore(cfg *settings.Settings) (history.Store, func(), error) {
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, nil, err
	}
	if cfg.History.Backend == "sqlite" {
		s, err := history.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return history.NewFileStore(path), func() {}, nil
}

// newEngine builds the engine client from settings.
func newEngine(cfg *settings.Settings) *engine.Client {
	ec := engine.DefaultClientConfig()
	ec.BaseURL = cfg.Engine.BaseURL
	return engine.NewClient(ec)
}

// watchSettings starts the settings file watcher feeding live reloads to
// the controller. Failure to watch is non-fatal.
func watchSettings(args Args, ctrl *control.Controller) func() {
	path := args.SettingsPath
	if path == "" {
		p, err := settings.Path()
		if err != nil {
			return func() {}
		}
		path = p
	}

	w, err := settings.NewWatcher(path, ctrl.ApplySettings)
	if err != nil {
		return func() {}
	}
	if err := w.Watch(); err != nil {
		w.Close()
		return func() {}
	}
	return func() { w.Close() }
}

// =============================================================================
// COMMANDS
// =============================================================================

// runChat runs the line-oriented REPL.
func runChat(args Args) error {
	cfg, err := loadSettings(args)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := newEngine(cfg)
	ctx := context.Background()

	if err := client.CheckRunning(ctx); err != nil {
		return fmt.Errorf("engine is not running at %s (start it with: ollama serve)", cfg.Engine.BaseURL)
	}

	repl := NewRepl(cfg, args.Quiet)
	ctrl, err := control.New(client, store, cfg, repl.Notify)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	repl.Bind(ctrl)

	stopWatch := watchSettings(args, ctrl)
	defer stopWatch()

	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "%s loading %s...\n",
			infoStyle.Render("[localm]"),
			cfg.Engine.Model)
	}
	if err := ctrl.LoadModel(ctx); err != nil {
		return fmt.Errorf("failed to load model %s: %w", cfg.Engine.Model, err)
	}

	return repl.Run(ctx)
}

// runTUI runs the full-screen terminal UI.
func runTUI(args Args) error {
	if !IsTTY() {
		return fmt.Errorf("tui requires a terminal (try: localm chat)")
	}

	cfg, err := loadSettings(args)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := newEngine(cfg)
	if err := client.CheckRunning(context.Background()); err != nil {
		return fmt.Errorf("engine is not running at %s (start it with: ollama serve)", cfg.Engine.BaseURL)
	}

	app := ui.New(cfg)
	ctrl, err := control.New(client, store, cfg, app.Notify)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	app.Bind(ctrl)

	stopWatch := watchSettings(args, ctrl)
	defer stopWatch()

	return app.Run()
}

// runSessions lists stored sessions without starting the engine.
func runSessions(args Args) error {
	cfg, err := loadSettings(args)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := store.Load()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println(infoStyle.Render("[No stored sessions]"))
		return nil
	}

	fmt.Println()
	fmt.Println(promptStyle.Render("Stored Sessions"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()
	for i, s := range sessions {
		fmt.Printf("  %2d. %s %s\n",
			i+1,
			titleCell(s),
			infoStyle.Render(fmt.Sprintf("(%d messages, %s)",
				s.Len(),
				s.UpdatedAt().Format("2006-01-02 15:04"))))
	}
	fmt.Println()
	return nil
}
