package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/killallgit/parley/pkg/api"
	"github.com/killallgit/parley/pkg/chat"
	"github.com/killallgit/parley/pkg/config"
	"github.com/killallgit/parley/pkg/events"
	"github.com/killallgit/parley/pkg/kv"
	"github.com/killallgit/parley/pkg/logger"
	"github.com/killallgit/parley/pkg/session"
	"github.com/killallgit/parley/pkg/stream"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// App wires the registry, store, engine, and trackers for one process.
type App struct {
	cfg      *config.Config
	backend  *api.Client
	store    *session.Store
	tools    *events.ToolTracker
	custom   *events.CustomEventDispatcher
	engine   *session.Engine
	registry *session.Registry
	out      io.Writer
}

func newApp(cfg *config.Config) (*App, error) {
	backend := api.NewClient(cfg.Server.URL)
	streamer := stream.NewClientWithTimeout(cfg.Server.URL, cfg.ServerTimeout())

	state, err := kv.NewFileStore(cfg.State.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	store := session.NewStore(backend)
	tools := events.NewToolTracker()
	custom := events.NewCustomEventDispatcher()
	engine := session.NewEngine(store, tools, custom, streamer, backend)
	registry := session.NewRegistry(backend, state)

	app := &App{
		cfg:      cfg,
		backend:  backend,
		store:    store,
		tools:    tools,
		custom:   custom,
		engine:   engine,
		registry: registry,
		out:      os.Stdout,
	}

	wireSelection(registry, store, app.out)

	if _, ok := state.Get(session.KeyHITLEnabled); !ok && cfg.HITL.Default {
		registry.ToggleHITL()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := registry.Restore(ctx); err != nil {
		logger.Warn("could not restore session state: %v", err)
		fmt.Fprintln(app.out, toolStyle.Render("backend unreachable, starting without session list"))
	}

	engine.SetObserver(app.printEvent)
	return app, nil
}

// wireSelection connects selection changes to history loading: selecting a
// session reloads the store from its server history, clearing the selection
// clears the visible history.
func wireSelection(registry *session.Registry, store *session.Store, out io.Writer) {
	registry.OnSelect(func(sessionID string) {
		if sessionID == "" {
			store.ClearHistory()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.LoadHistory(ctx, sessionID); err != nil {
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("failed to load history: %v", err)))
		}
	})
}

// RunOnce sends a single prompt against the current (or newly started)
// session and exits.
func (a *App) RunOnce(prompt string) error {
	sessionID, err := a.ensureSession()
	if err != nil {
		return err
	}

	a.engine.Send(sessionID, prompt, a.registry.HITLEnabled())
	a.engine.Wait()
	fmt.Fprintln(a.out)

	if msg := a.engine.LastError(); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// RunInteractive runs the REPL: plain lines are sent as messages, slash
// commands manage sessions. Ctrl+C cancels an in-flight stream, or exits
// when idle.
func (a *App) RunInteractive() error {
	a.printBanner()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if a.engine.IsStreaming() {
				a.engine.Cancel()
				fmt.Fprintln(a.out, toolStyle.Render("\n(cancelled)"))
			} else {
				fmt.Fprintln(a.out)
				os.Exit(0)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(a.out, promptStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			name, args := parseCommand(line)
			if name == "quit" || name == "exit" {
				return nil
			}
			a.runCommand(name, args)
			continue
		}

		a.sendMessage(line)
	}
	return scanner.Err()
}

func (a *App) sendMessage(text string) {
	sessionID := a.registry.CurrentSessionID()
	if sessionID == "" {
		fmt.Fprintln(a.out, errorStyle.Render("no session selected, use /new <agent-id> or /switch <session-id>"))
		return
	}

	a.engine.Send(sessionID, text, a.registry.HITLEnabled())
	a.engine.Wait()
	fmt.Fprintln(a.out)

	if msg := a.engine.LastError(); msg != "" {
		fmt.Fprintln(a.out, errorStyle.Render(msg))
	}
}

// printEvent is the engine's display tap, called in wire order.
func (a *App) printEvent(ev stream.Event) {
	switch ev.Type {
	case stream.EventChunk:
		fmt.Fprint(a.out, ev.Content)
	case stream.EventToolStart:
		fmt.Fprintln(a.out, toolStyle.Render(fmt.Sprintf("\n⚙ %s running", ev.ToolName)))
	case stream.EventToolEnd:
		fmt.Fprintln(a.out, toolStyle.Render(fmt.Sprintf("⚙ %s done", ev.ToolName)))
	case stream.EventCustom:
		label := ev.CustomEventType()
		if agent, ok := ev.Data[stream.CustomKeyAgentLabel].(string); ok && agent != "" {
			label = fmt.Sprintf("%s %s", agent, label)
		}
		fmt.Fprintln(a.out, eventStyle.Render(fmt.Sprintf("· %s", label)))
	case stream.EventError:
		fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("\nserver error: %s", ev.Message)))
	}
}

func (a *App) runCommand(name string, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch name {
	case "sessions":
		a.printSessions(ctx)

	case "new":
		if len(args) < 1 {
			fmt.Fprintln(a.out, errorStyle.Render("usage: /new <agent-id>"))
			return
		}
		agentID, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintln(a.out, errorStyle.Render("agent id must be a number"))
			return
		}
		sess, err := a.registry.StartSession(ctx, agentID)
		if err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("failed to start session: %v", err)))
			return
		}
		fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("started session %s with %s", sess.SessionID, sess.AgentName)))

	case "switch":
		if len(args) < 1 {
			fmt.Fprintln(a.out, errorStyle.Render("usage: /switch <session-id>"))
			return
		}
		a.registry.SwitchSession(args[0])
		fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("switched to %s (%d messages)", args[0], a.store.Len())))

	case "end":
		sessionID := a.registry.CurrentSessionID()
		if len(args) > 0 {
			sessionID = args[0]
		}
		if sessionID == "" {
			fmt.Fprintln(a.out, errorStyle.Render("no session to end"))
			return
		}
		if err := a.registry.EndSession(ctx, sessionID); err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("failed to end session: %v", err)))
			return
		}
		fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("ended session %s", sessionID)))

	case "hitl":
		enabled := a.registry.ToggleHITL()
		fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("human-in-the-loop: %v (applies to the next message)", enabled)))

	case "approve", "reject":
		sessionID := a.registry.CurrentSessionID()
		if sessionID == "" {
			fmt.Fprintln(a.out, errorStyle.Render("no session selected"))
			return
		}
		feedback := strings.Join(args, " ")
		if err := a.backend.Approve(ctx, sessionID, name == "approve", feedback); err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("approval failed: %v", err)))
			return
		}
		fmt.Fprintln(a.out, infoStyle.Render("sent"))

	case "metrics":
		a.printMetrics(ctx)

	case "tools":
		active := a.tools.Active()
		if len(active) == 0 {
			fmt.Fprintln(a.out, toolStyle.Render("no tools running"))
			return
		}
		fmt.Fprintln(a.out, toolStyle.Render("running: "+strings.Join(active, ", ")))

	case "clear":
		a.store.ClearHistory()
		fmt.Fprintln(a.out, infoStyle.Render("history cleared"))

	case "help":
		a.printHelp()

	default:
		fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("unknown command /%s (try /help)", name)))
	}
}

func (a *App) printSessions(ctx context.Context) {
	if err := a.registry.RefreshSessions(ctx); err != nil {
		logger.Warn("session list refresh failed: %v", err)
	}
	sessions := a.registry.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(a.out, toolStyle.Render("no sessions"))
		return
	}
	current := a.registry.CurrentSessionID()
	for _, sess := range sessions {
		marker := " "
		if sess.SessionID == current {
			marker = "*"
		}
		preview := ""
		if sess.LastMessagePreview != nil {
			preview = chat.Preview(*sess.LastMessagePreview)
		}
		fmt.Fprintf(a.out, "%s %s  %s (%d messages) %s\n",
			marker, sess.SessionID, sess.AgentName, sess.MessageCount, toolStyle.Render(preview))
	}
}

func (a *App) printMetrics(ctx context.Context) {
	sessionID := a.registry.CurrentSessionID()
	if sessionID == "" {
		fmt.Fprintln(a.out, errorStyle.Render("no session selected"))
		return
	}
	metrics, err := a.backend.Metrics(ctx, sessionID)
	if err != nil {
		fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("failed to fetch metrics: %v", err)))
		return
	}
	fmt.Fprintf(a.out, "messages: %d  tool calls: %d  subagents: %d\n",
		metrics.MessageCount, len(metrics.ToolCalls), len(metrics.SubagentSpawns))
	for _, key := range []string{"total_tokens", "context_tokens", "total_cost_usd", "model_used"} {
		if value, ok := metrics.Metrics[key]; ok {
			fmt.Fprintf(a.out, "%s: %v\n", key, value)
		}
	}
}

func (a *App) printBanner() {
	fmt.Fprintln(a.out, promptStyle.Render("parley"))
	if id := a.registry.CurrentSessionID(); id != "" {
		fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("resumed session %s (%d messages)", id, a.store.Len())))
	}
	fmt.Fprintln(a.out, toolStyle.Render("type a message, or /help for commands"))
}

func (a *App) printHelp() {
	fmt.Fprint(a.out, `commands:
  /sessions             list sessions (* marks current)
  /new <agent-id>       start a session with an agent
  /switch <session-id>  select a session and load its history
  /end [session-id]     end the current (or given) session
  /hitl                 toggle human-in-the-loop for future messages
  /approve [feedback]   approve a pending HITL checkpoint
  /reject [feedback]    reject a pending HITL checkpoint
  /metrics              show token and cost metrics for the session
  /tools                show currently running tools
  /clear                clear the visible history
  /quit                 exit
`)
}

// parseCommand splits "/name arg1 arg2" into its name and arguments.
func parseCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// ensureSession returns the current session id, starting a session with
// the --agent flag (or the restored agent selection) when none is active.
func (a *App) ensureSession() (string, error) {
	if id := a.registry.CurrentSessionID(); id != "" {
		return id, nil
	}

	agentID := viper.GetInt("agent")
	if agentID == 0 {
		agentID = a.registry.SelectedAgentID()
	}
	if agentID == 0 {
		return "", fmt.Errorf("no session selected and no agent to start one with (use --agent)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sess, err := a.registry.StartSession(ctx, agentID)
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}
