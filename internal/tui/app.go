// Package tui is the terminal front end for watching runs. It follows The
// Elm Architecture bubbletea imposes: the App model holds all state, Update
// reacts to messages, View renders a string.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
)

// appState represents which screen is active.
type appState int

const (
	stateRunPicker appState = iota
	stateRunWatch
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

type runsLoadedMsg struct {
	runs []engine.RunSummary
	err  error
}

// runItem adapts a run summary to the bubbles list item interface.
type runItem struct {
	summary engine.RunSummary
}

func (i runItem) Title() string { return i.summary.RunID }

func (i runItem) Description() string {
	parts := []string{i.summary.Workflow, friendlyLabel(string(i.summary.Status))}
	if !i.summary.UpdatedAt.IsZero() {
		parts = append(parts, i.summary.UpdatedAt.Local().Format(time.Kitchen))
	}
	return strings.Join(parts, " · ")
}

func (i runItem) FilterValue() string { return i.summary.RunID }

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithEngine injects a prebuilt run engine.
func WithEngine(eng *engine.Engine) AppOption {
	return func(a *App) {
		if eng != nil {
			a.engine = eng
		}
	}
}

// App is the top level model: a picker over persisted runs and a watch view
// for the selected one.
type App struct {
	state  appState
	config *config.Config
	engine *engine.Engine

	runPicker list.Model
	runs      []engine.RunSummary
	runView   *runView

	statusMsg string
	err       error

	width  int
	height int
}

// NewApp builds the watch UI over the project's run state.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}

	picker := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	picker.Title = "boltci runs"
	picker.SetShowStatusBar(false)
	picker.SetFilteringEnabled(false)

	app := &App{
		state:     stateRunPicker,
		config:    cfg,
		runPicker: picker,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.engine == nil {
		eng, err := engine.New(engine.NewRepository(cfg))
		if err != nil {
			return nil, err
		}
		app.engine = eng
	}
	return app, nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.fetchRuns()
}

func (a *App) fetchRuns() tea.Cmd {
	eng := a.engine
	return func() tea.Msg {
		runs, err := eng.Runs()
		return runsLoadedMsg{runs: runs, err: err}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.runPicker.SetSize(max(0, msg.Width-4), max(0, msg.Height-8))
		return a, nil

	case runsLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.runs = msg.runs
		items := make([]list.Item, len(msg.runs))
		for i, summary := range msg.runs {
			items[i] = runItem{summary: summary}
		}
		a.runPicker.SetItems(items)
		return a, nil

	case runFinishedMsg:
		a.statusMsg = fmt.Sprintf("Run %s finished: %s", msg.RunID, friendlyLabel(string(msg.Status)))
		return a, nil

	case runInitMsg, runStateMsg, runRefreshRequest:
		if a.runView != nil {
			return a, a.runView.Update(msg)
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if a.state == stateRunPicker {
				return a, tea.Quit
			}
		case "esc":
			if a.state == stateRunWatch {
				return a.returnToPicker()
			}
		case "r":
			if a.state == stateRunPicker {
				a.statusMsg = "Refreshing runs..."
				return a, a.fetchRuns()
			}
		case "enter":
			if a.state == stateRunPicker {
				return a.openSelectedRun()
			}
		}
	}

	switch a.state {
	case stateRunPicker:
		var cmd tea.Cmd
		a.runPicker, cmd = a.runPicker.Update(msg)
		return a, cmd
	case stateRunWatch:
		if a.runView != nil {
			if cmd := a.runView.Update(msg); cmd != nil {
				return a, cmd
			}
		}
	}
	return a, nil
}

// View renders the current state to a string.
func (a *App) View() string {
	var body string
	switch a.state {
	case stateRunWatch:
		if a.runView != nil {
			body = a.runView.View()
		} else {
			body = "Loading run..."
		}
	default:
		if len(a.runs) == 0 {
			body = statusStyle.Render("No runs recorded yet. Start one with: boltci run")
		} else {
			body = a.runPicker.View()
		}
	}
	sections := []string{headerStyle.Render("boltci watch"), body}
	if a.statusMsg != "" {
		sections = append(sections, statusStyle.Render(a.statusMsg))
	}
	if a.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	}
	return strings.Join(sections, "\n\n")
}

func (a *App) openSelectedRun() (tea.Model, tea.Cmd) {
	item, ok := a.runPicker.SelectedItem().(runItem)
	if !ok {
		a.statusMsg = "No runs recorded yet"
		return a, nil
	}
	return a.openRun(item.summary.RunID)
}

// openRun switches to the watch view for runID; an empty id follows the
// latest run.
func (a *App) openRun(runID string) (tea.Model, tea.Cmd) {
	a.state = stateRunWatch
	a.statusMsg = ""
	a.err = nil
	a.runView = newRunView(a, runID)
	return a, a.runView.Init()
}

func (a *App) returnToPicker() (tea.Model, tea.Cmd) {
	a.state = stateRunPicker
	a.runView = nil
	a.statusMsg = ""
	return a, a.fetchRuns()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
