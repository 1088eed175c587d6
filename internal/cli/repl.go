// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive chat REPL for the localm CLI.
//
// USABILITY: Markdown rendering and input history for better CLI experience
//
// Interactive commands (during chat):
//   /help, /h           Show available commands
//   /new, /n            Save current session and start a new one
//   /sessions [query]   List (or search) stored sessions
//   /load N             Switch to a stored session
//   /delete N           Delete a stored session
//   /edit N TEXT        Replace the N-th message (must be yours)
//   /regen [N]          Regenerate the last (or N-th) reply
//   /title TEXT         Rename the current session
//   /export [path]      Export the current session as markdown
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/shuklaaditya846/local-lm/internal/chat"
	"github.com/shuklaaditya846/local-lm/internal/control"
	"github.com/shuklaaditya846/local-lm/internal/settings"
	"github.com/shuklaaditya846/local-lm/internal/ui/styles"
	"github.com/shuklaaditya846/local-lm/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// InputCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type InputCLI struct {
	line        *liner.State
	historyFile string
}

// NewInputCLI creates an InputCLI with input history support.
func NewInputCLI() *InputCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := settings.Dir()
	if err != nil {
		dir = os.TempDir()
	}

	c := &InputCLI{
		line:        line,
		historyFile: filepath.Join(dir, "input_history"),
	}
	c.loadHistory()
	return c
}

func (c *InputCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *InputCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and closes the liner.
func (c *InputCLI) Close() {
	if err := settings.EnsureDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// errCancelled marks a generation the user interrupted.
var errCancelled = errors.New("cancelled")

// Repl is the line-oriented chat front-end over a Controller.
type Repl struct {
	ctrl  *control.Controller
	cfg   *settings.Settings
	input *InputCLI
	quiet bool

	// useMarkdown collects the reply and renders it once complete;
	// otherwise tokens stream straight to stdout.
	useMarkdown bool

	mu   sync.Mutex
	done chan error // non-nil while a generation is awaited

	// listing maps display indices from the last /sessions output to ids
	listing []string
}

// NewRepl creates the REPL front-end. Wire its Notify method into the
// Controller at construction.
func NewRepl(cfg *settings.Settings, quiet bool) *Repl {
	return &Repl{
		cfg:         cfg,
		quiet:       quiet,
		useMarkdown: IsStdoutTTY(),
	}
}

// Bind attaches the controller. Separate from NewRepl because the
// controller needs the notify callback at its own construction.
func (r *Repl) Bind(ctrl *control.Controller) {
	r.ctrl = ctrl
}

// Notify is the controller event callback.
func (r *Repl) Notify(ev control.Event) {
	switch ev.Kind {
	case control.EventToken:
		if !r.useMarkdown {
			streamToStdout(ev.Token)
		}

	case control.EventDone:
		r.finish(nil)

	case control.EventError:
		r.finish(ev.Err)

	case control.EventNotice:
		fmt.Fprintf(os.Stderr, "\n%s %s\n", infoStyle.Render("[localm]"), ev.Notice)
	}
}

// finish resolves the pending generation wait, if any.
func (r *Repl) finish(err error) {
	r.mu.Lock()
	done := r.done
	r.done = nil
	r.mu.Unlock()
	if done != nil {
		done <- err
	}
}

// Run drives the REPL until the user exits.
func (r *Repl) Run(ctx context.Context) error {
	r.input = NewInputCLI()
	defer r.input.Close()

	if !r.quiet {
		r.printWelcome()
	}

	// Ctrl+C during streaming cancels the generation; tokens already
	// streamed stay in the session.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			r.ctrl.Stop()
			r.finish(errCancelled)
		}
	}()

	for {
		input, err := r.input.ReadInput(promptStyle.Render("localm> "))
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) or EOF (Ctrl+D)
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cont, err := r.handleSlashCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !cont {
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if err := r.processMessage(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage sends input and blocks until the reply completes, fails
// or is cancelled.
func (r *Repl) processMessage(ctx context.Context, input string) error {
	done := make(chan error, 1)
	r.mu.Lock()
	r.done = done
	r.mu.Unlock()

	if err := r.ctrl.Send(ctx, input); err != nil {
		r.finish(nil)
		<-done
		return err
	}

	fmt.Println()
	err := <-done

	switch {
	case err == nil:
		if r.useMarkdown {
			r.displayLastReply()
		}
	case errors.Is(err, errCancelled):
		fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
		return nil
	default:
		return err
	}

	fmt.Println()
	return nil
}

// displayLastReply renders the just-completed reply as markdown.
func (r *Repl) displayLastReply() {
	sess := r.ctrl.Active()
	n := sess.Len()
	if n == 0 {
		return
	}
	entry, ok := sess.EntryAt(n - 1)
	if !ok || !entry.IsAssistant() {
		return
	}
	displayResponse(entry.ResponseText)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands. Returns (shouldContinue,
// error); shouldContinue=false means exit.
func (r *Repl) handleSlashCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()
		return true, nil

	case "/new", "/n":
		r.ctrl.StartNewSession()
		fmt.Println(commandStyle.Render("[New session]"))
		return true, nil

	case "/sessions", "/s":
		r.printSessions(strings.Join(args, " "))
		return true, nil

	case "/load", "/l":
		return true, r.loadSession(args)

	case "/delete", "/del":
		return true, r.deleteSession(args)

	case "/edit":
		return true, r.editMessage(args)

	case "/regen", "/r":
		return true, r.regenerate(ctx, args)

	case "/title", "/t":
		if len(args) == 0 {
			fmt.Printf("%s %s\n", infoStyle.Render("[Title]"), r.ctrl.Active().Title())
			return true, nil
		}
		r.ctrl.RenameSession(strings.Join(args, " "))
		fmt.Println(commandStyle.Render("[Renamed]"))
		return true, nil

	case "/export", "/e":
		return true, r.export(args)

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// resolveSession maps a /sessions listing index or a raw id to a session
// id.
func (r *Repl) resolveSession(arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(r.listing) {
			return "", fmt.Errorf("no session %d in the last listing (run /sessions)", n)
		}
		return r.listing[n-1], nil
	}
	return arg, nil
}

func (r *Repl) loadSession(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /load N")
	}
	id, err := r.resolveSession(args[0])
	if err != nil {
		return err
	}
	if err := r.ctrl.LoadSession(id); err != nil {
		return err
	}
	sess := r.ctrl.Active()
	fmt.Printf("%s %s (%d messages)\n",
		commandStyle.Render("[Loaded]"),
		sess.Title(),
		sess.Len())
	return nil
}

func (r *Repl) deleteSession(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /delete N")
	}
	id, err := r.resolveSession(args[0])
	if err != nil {
		return err
	}
	if err := r.ctrl.DeleteSession(id); err != nil {
		return err
	}
	fmt.Println(commandStyle.Render("[Deleted]"))
	return nil
}

func (r *Repl) editMessage(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /edit N TEXT")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return errors.New("usage: /edit N TEXT")
	}
	return r.ctrl.EditMessage(n-1, strings.Join(args[1:], " "))
}

func (r *Repl) regenerate(ctx context.Context, args []string) error {
	sess := r.ctrl.Active()
	i := sess.Len() - 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return errors.New("usage: /regen [N]")
		}
		i = n - 1
	}

	done := make(chan error, 1)
	r.mu.Lock()
	r.done = done
	r.mu.Unlock()

	if err := r.ctrl.Regenerate(ctx, i); err != nil {
		r.finish(nil)
		<-done
		return err
	}

	fmt.Println()
	err := <-done
	if err == nil && r.useMarkdown {
		r.displayLastReply()
	}
	fmt.Println()
	if errors.Is(err, errCancelled) {
		return nil
	}
	return err
}

func (r *Repl) export(args []string) error {
	sess := r.ctrl.Active()
	if sess.IsEmpty() {
		return errors.New("nothing to export")
	}

	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		path = strings.ReplaceAll(strings.ToLower(sess.Title()), " ", "-") + ".md"
	}

	if err := util.AtomicWriteFile(path, []byte(sess.ExportMarkdown()), 0644); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Printf("%s %s\n", commandStyle.Render("[Exported]"), path)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *Repl) printWelcome() {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("localm interactive chat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Model:"),
		commandStyle.Render(r.cfg.Engine.Model))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Server:"),
		commandStyle.Render(r.cfg.Engine.BaseURL))
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func (r *Repl) printHelp() {
	fmt.Println()
	fmt.Println(promptStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new, /n", "Save current session, start a new one"},
		{"/sessions [query]", "List or search stored sessions"},
		{"/load N", "Switch to a stored session"},
		{"/delete N", "Delete a stored session"},
		{"/edit N TEXT", "Replace your N-th message"},
		{"/regen [N]", "Regenerate the last (or N-th) reply"},
		{"/title TEXT", "Rename the current session"},
		{"/export [path]", "Export session as markdown"},
		{"/quit, /q", "Exit chat"},
	}

	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-18s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C cancels the current generation, Ctrl+D exits"))
	fmt.Println()
}

// printSessions lists stored sessions, most recent first, and records the
// listing order for /load and /delete by index.
func (r *Repl) printSessions(query string) {
	sessions := r.ctrl.Sessions()
	if query != "" {
		sessions = r.ctrl.SearchSessions(query)
	}

	if len(sessions) == 0 {
		fmt.Println(infoStyle.Render("[No stored sessions]"))
		r.listing = nil
		return
	}

	fmt.Println()
	fmt.Println(promptStyle.Render("Stored Sessions"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	r.listing = make([]string, len(sessions))
	for i, s := range sessions {
		r.listing[i] = s.ID()
		marker := " "
		if s.ID() == r.ctrl.Active().ID() {
			marker = commandStyle.Render("*")
		}
		fmt.Printf(" %s %2d. %s %s\n",
			marker,
			i+1,
			titleCell(s),
			infoStyle.Render(fmt.Sprintf("(%d messages, %s)",
				s.Len(),
				s.UpdatedAt().Format("2006-01-02 15:04"))))
	}
	fmt.Println()
}

// titleCell renders a session title padded for the listing.
func titleCell(s *chat.Session) string {
	title := util.TruncateRunes(s.Title(), 32)
	return fmt.Sprintf("%-32s", title)
}
