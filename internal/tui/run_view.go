package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logbook"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/scheduler"
)

const (
	runRefreshInterval = 2 * time.Second
	journalTailLines   = 6
)

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleGate    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// runView watches one persisted run: job readiness, step outcomes, and the
// run journal. It is a monitor, not a driver; approvals recorded here release
// gated jobs for whichever runner resumes the run.
type runView struct {
	app         *App
	runID       string
	state       engine.State
	journal     []string
	stateLoaded bool
	err         error
	selection   int
	finished    bool
}

type jobLabel struct {
	text  string
	style lipgloss.Style
}

type runInitMsg struct {
	state   engine.State
	journal []string
	err     error
}

type runStateMsg struct {
	state   engine.State
	journal []string
	err     error
}

type runRefreshRequest struct{}

type runFinishedMsg struct {
	RunID    string
	Workflow string
	Status   engine.RunStatus
}

func newRunView(app *App, runID string) *runView {
	return &runView{app: app, runID: strings.TrimSpace(runID)}
}

func (v *runView) Init() tea.Cmd {
	return func() tea.Msg {
		state, journal, err := v.fetch()
		return runInitMsg{state: state, journal: journal, err: err}
	}
}

func (v *runView) fetch() (engine.State, []string, error) {
	var (
		state engine.State
		err   error
	)
	if v.runID == "" {
		state, err = v.app.engine.View()
	} else {
		state, err = v.app.engine.ViewRun(v.runID)
	}
	if err != nil {
		return engine.State{}, nil, err
	}
	return state, tailJournal(v.app.config, state.RunID), nil
}

func (v *runView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case runInitMsg:
		if m.err != nil {
			v.err = m.err
			v.setStatus(fmt.Sprintf("Run view error: %v", m.err))
			return nil
		}
		v.err = nil
		v.stateLoaded = true
		cmd := v.applyState(m.state, m.journal)
		v.setStatus(fmt.Sprintf("Watching run %s", m.state.RunID))
		if v.finished {
			return cmd
		}
		return batchCmds(cmd, v.scheduleRefresh())
	case runStateMsg:
		if m.err != nil {
			v.err = m.err
			v.setStatus(fmt.Sprintf("Run update failed: %v", m.err))
			return nil
		}
		v.err = nil
		return v.applyState(m.state, m.journal)
	case runRefreshRequest:
		if !v.stateLoaded || v.finished {
			return nil
		}
		return batchCmds(v.refreshState(), v.scheduleRefresh())
	case tea.KeyMsg:
		return v.handleKeyMsg(m)
	default:
		return nil
	}
}

func (v *runView) View() string {
	if v.err != nil {
		return fmt.Sprintf("Run error: %v", v.err)
	}
	if !v.stateLoaded {
		return "Loading run state…"
	}
	statusLine := fmt.Sprintf("Run: %s · Workflow: %s · Status: %s",
		v.state.RunID, v.state.Workflow, friendlyLabel(string(v.state.Status)))
	if v.state.StatusReason != "" {
		statusLine += fmt.Sprintf(" · %s", v.state.StatusReason)
	}
	lines := []string{statusLine, fmt.Sprintf("Runnable jobs: %d", len(v.state.Runnable)), ""}
	for i, node := range v.state.Nodes {
		lines = append(lines, v.renderJobLine(i, node))
		if i == v.selection {
			lines = append(lines, v.renderJobDetails(node))
		}
	}
	if len(v.journal) > 0 {
		lines = append(lines, "", "Journal:")
		for _, entry := range v.journal {
			lines = append(lines, detailTextStyle.Render("  "+entry))
		}
	}
	lines = append(lines,
		"",
		"a=approve gate  r=refresh  esc=back to runs",
	)
	return strings.Join(lines, "\n")
}

func (v *runView) renderJobLine(idx int, node engine.JobStatus) string {
	indicator := " "
	if idx == v.selection {
		indicator = ">"
	}
	labelSpecs := v.jobLabelSpecs(node)
	if len(labelSpecs) == 0 {
		labelSpecs = []jobLabel{{text: "Unknown", style: labelStyleDefault}}
	}
	rendered := make([]string, 0, len(labelSpecs))
	for _, spec := range labelSpecs {
		rendered = append(rendered, spec.style.Render(spec.text))
	}
	return fmt.Sprintf("%s %s · [%s]", indicator, node.ID, strings.Join(rendered, ", "))
}

func (v *runView) renderJobDetails(node engine.JobStatus) string {
	var details []string
	executor := node.Executor
	if node.Image != "" {
		executor += " · " + node.Image
	}
	if executor != "" {
		details = append(details, fmt.Sprintf("Executor: %s", executor))
	}
	if len(node.BlockedBy) > 0 {
		details = append(details, fmt.Sprintf("Blocked by: %s", strings.Join(node.BlockedBy, ", ")))
	}
	if approval, ok := v.state.Approvals[node.ID]; ok {
		by := approval.By
		if by == "" {
			by = "unknown"
		}
		details = append(details, fmt.Sprintf("Approved by %s at %s", by, approval.At.Format(time.RFC3339)))
	}
	if run, ok := v.state.Jobs[node.ID]; ok {
		runLine := fmt.Sprintf("Last run: %s", run.Status)
		if d := run.Duration(); d > 0 {
			runLine += fmt.Sprintf(" in %s", d.Round(time.Millisecond))
		}
		if run.Message != "" {
			runLine += fmt.Sprintf(" · %s", run.Message)
		}
		if run.Error != "" {
			runLine += fmt.Sprintf(" · error: %s", run.Error)
		}
		details = append(details, runLine)
		for _, step := range run.Steps {
			stepLine := fmt.Sprintf("Step %s: %s", step.Name, step.Status)
			if step.ExitCode != 0 {
				stepLine += fmt.Sprintf(" (exit %d)", step.ExitCode)
			}
			details = append(details, stepLine)
		}
	}
	if len(details) == 0 {
		return detailTextStyle.Render("  no additional details")
	}
	body := "  " + strings.Join(details, "\n  ")
	return detailTextStyle.Render(body)
}

func (v *runView) jobLabelSpecs(node engine.JobStatus) []jobLabel {
	var specs []jobLabel
	add := func(text string, style lipgloss.Style) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		for _, existing := range specs {
			if existing.text == text {
				return
			}
		}
		specs = append(specs, jobLabel{text: text, style: style})
	}
	add(friendlyLabel(string(node.State)), labelStyleForState(string(node.State)))
	if node.Approval {
		if _, approved := v.state.Approvals[node.ID]; approved {
			add("Gate Approved", labelStyleReady)
		} else if !node.State.Terminal() {
			add("Gate Pending", labelStyleGate)
		}
	}
	if skip, ok := v.state.Skipped[node.ID]; ok {
		style := labelStyleSkipped
		if skip.Reason == scheduler.SkipReasonApproval {
			style = labelStyleGate
		}
		add(friendlyLabel(string(skip.Reason)), style)
	}
	return specs
}

func labelStyleForState(state string) lipgloss.Style {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ready":
		return labelStyleReady
	case "blocked", "failed":
		return labelStyleBlocked
	case "running":
		return labelStyleRunning
	case "succeeded":
		return labelStyleReady
	case "skipped":
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func (v *runView) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if v.selection > 0 {
			v.selection--
		}
	case "down", "j":
		if v.selection < len(v.state.Nodes)-1 {
			v.selection++
		}
	case "r":
		return v.refreshState()
	case "a":
		return v.approveSelected()
	}
	return nil
}

func (v *runView) refreshState() tea.Cmd {
	if !v.stateLoaded || v.finished {
		return nil
	}
	return func() tea.Msg {
		state, journal, err := v.fetch()
		return runStateMsg{state: state, journal: journal, err: err}
	}
}

func (v *runView) scheduleRefresh() tea.Cmd {
	if v.finished {
		return nil
	}
	return tea.Tick(runRefreshInterval, func(time.Time) tea.Msg {
		return runRefreshRequest{}
	})
}

// approveSelected records an approval for the selected gate. Only the current
// run accepts approvals; archived snapshots are immutable.
func (v *runView) approveSelected() tea.Cmd {
	node := v.currentNode()
	if node == nil {
		return nil
	}
	if !node.Approval {
		v.setStatus(fmt.Sprintf("%s does not take approval", node.ID))
		return nil
	}
	if _, ok := v.state.Approvals[node.ID]; ok {
		v.setStatus(fmt.Sprintf("%s is already approved", node.ID))
		return nil
	}
	eng := v.app.engine
	cfg := v.app.config
	job := node.ID
	runID := v.state.RunID
	return func() tea.Msg {
		current, err := eng.View()
		if err != nil {
			return runStateMsg{err: err}
		}
		if current.RunID != runID {
			return runStateMsg{err: fmt.Errorf("run %s is archived; approvals apply to %s", runID, current.RunID)}
		}
		state, err := eng.Approve(engine.ApproveRequest{Job: job, By: approvalUser()})
		if err != nil {
			return runStateMsg{err: err}
		}
		return runStateMsg{state: state, journal: tailJournal(cfg, state.RunID)}
	}
}

func (v *runView) currentNode() *engine.JobStatus {
	if !v.stateLoaded || len(v.state.Nodes) == 0 {
		return nil
	}
	if v.selection < 0 {
		v.selection = 0
	}
	if v.selection >= len(v.state.Nodes) {
		v.selection = len(v.state.Nodes) - 1
	}
	return &v.state.Nodes[v.selection]
}

func (v *runView) applyState(state engine.State, journal []string) tea.Cmd {
	v.state = state
	v.journal = journal
	if v.selection >= len(state.Nodes) {
		v.selection = max(0, len(state.Nodes)-1)
	}
	return v.checkForCompletion()
}

func (v *runView) checkForCompletion() tea.Cmd {
	if v.finished || !v.state.Status.Terminal() {
		return nil
	}
	v.finished = true
	msg := runFinishedMsg{
		RunID:    v.state.RunID,
		Workflow: v.state.Workflow,
		Status:   v.state.Status,
	}
	return func() tea.Msg { return msg }
}

func (v *runView) setStatus(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	v.app.statusMsg = message
}

func tailJournal(cfg *config.Config, runID string) []string {
	book, err := logbook.ForRun(cfg, runID)
	if err != nil {
		return nil
	}
	lines, _ := book.Tail(journalTailLines)
	return lines
}

func approvalUser() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "local"
}

func batchCmds(cmds ...tea.Cmd) tea.Cmd {
	var active []tea.Cmd
	for _, cmd := range cmds {
		if cmd != nil {
			active = append(active, cmd)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	default:
		return tea.Batch(active...)
	}
}
