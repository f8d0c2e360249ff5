package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
)

func TestAppListsPersistedRuns(t *testing.T) {
	app, eng := newTestApp(t)
	startTestRun(t, eng, false)
	startTestRun(t, eng, false)

	app = feedOnce(t, app, app.Init())
	if len(app.runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(app.runs))
	}
	if app.runs[0].RunID != "run-0002" {
		t.Fatalf("expected newest run first, got %s", app.runs[0].RunID)
	}
	if items := app.runPicker.Items(); len(items) != 2 {
		t.Fatalf("expected 2 picker items, got %d", len(items))
	}
}

func TestOpenRunShowsJobs(t *testing.T) {
	app, eng := newTestApp(t)
	startTestRun(t, eng, false)

	model, cmd := app.openRun("run-0001")
	app = feedOnce(t, model.(*App), cmd)
	view := app.runView
	if view == nil || !view.stateLoaded {
		t.Fatalf("expected loaded run view")
	}
	rendered := view.View()
	for _, want := range []string{"run-0001", "Workflow: build", "lint", "pytest"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("view missing %q:\n%s", want, rendered)
		}
	}
}

func TestApproveReleasesGateFromWatch(t *testing.T) {
	app, eng := newTestApp(t)
	startTestRun(t, eng, true)

	model, cmd := app.openRun("")
	app = feedOnce(t, model.(*App), cmd)
	view := app.runView
	if view == nil {
		t.Fatalf("run view missing")
	}

	view.selection = jobIndex(t, view, "lint")
	if cmd := view.approveSelected(); cmd != nil {
		t.Fatalf("non-gated job must not produce an approval command")
	}
	if !strings.Contains(app.statusMsg, "does not take approval") {
		t.Fatalf("unexpected status: %s", app.statusMsg)
	}

	view.selection = jobIndex(t, view, "publish")
	approveCmd := view.approveSelected()
	if approveCmd == nil {
		t.Fatalf("expected approval command for gated job")
	}
	view.Update(approveCmd())
	if view.err != nil {
		t.Fatalf("approval failed: %v", view.err)
	}
	if _, ok := view.state.Approvals["publish"]; !ok {
		t.Fatalf("expected publish approval, got %+v", view.state.Approvals)
	}
	if !containsString(view.state.Runnable, "publish") {
		t.Fatalf("expected publish runnable after approval, got %v", view.state.Runnable)
	}
}

func TestRunViewMarksCompletion(t *testing.T) {
	app, eng := newTestApp(t)
	startTestRun(t, eng, false)

	model, cmd := app.openRun("")
	app = feedOnce(t, model.(*App), cmd)
	view := app.runView
	if view == nil {
		t.Fatalf("run view missing")
	}

	updates := make([]engine.JobUpdate, 0, 3)
	for _, job := range []string{"lint", "pytest", "publish"} {
		updates = append(updates, engine.JobUpdate{
			ID:     job,
			Result: engine.JobResult{Status: engine.StatusSucceeded},
		})
	}
	if _, err := eng.Update(engine.UpdateRequest{Results: updates}); err != nil {
		t.Fatalf("update: %v", err)
	}

	finishCmd := view.Update(mustMsg(t, view.refreshState()))
	if finishCmd == nil {
		t.Fatalf("expected completion command")
	}
	msg := finishCmd()
	finished, ok := msg.(runFinishedMsg)
	if !ok {
		t.Fatalf("expected runFinishedMsg, got %T", msg)
	}
	if finished.Status != engine.RunStatusComplete {
		t.Fatalf("expected complete status, got %s", finished.Status)
	}
	if !view.finished {
		t.Fatalf("view must stop refreshing after the run settles")
	}
	if view.scheduleRefresh() != nil {
		t.Fatalf("finished view must not schedule refreshes")
	}
	nextModel, _ := app.Update(msg)
	app = nextModel.(*App)
	if !strings.Contains(app.statusMsg, "finished") {
		t.Fatalf("unexpected status: %s", app.statusMsg)
	}
}

func TestFriendlyLabel(t *testing.T) {
	cases := map[string]string{
		"awaiting-approval": "Awaiting Approval",
		"dependency-failed": "Dependency Failed",
		"running":           "Running",
		"  ":                "",
	}
	for input, want := range cases {
		if got := friendlyLabel(input); got != want {
			t.Fatalf("friendlyLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func newTestApp(t *testing.T) (*App, *engine.Engine) {
	t.Helper()
	t.Setenv(config.EnvRoot, "")
	projectDir := t.TempDir()
	if err := config.InitProjectDir(projectDir); err != nil {
		t.Fatalf("init project dir: %v", err)
	}
	cfg := &config.Config{
		ProjectDir: projectDir,
		Root:       filepath.Join(projectDir, config.ProjectDirName),
	}
	counter := 0
	eng, err := engine.New(engine.NewRepository(cfg), engine.WithRunID(func() string {
		counter++
		return fmt.Sprintf("run-%04d", counter)
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	app, err := NewApp(projectDir, WithEngine(eng))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app, eng
}

func startTestRun(t *testing.T, eng *engine.Engine, gated bool) {
	t.Helper()
	def := pipeline.Definition{
		Version: pipeline.SupportedVersion,
		Jobs: map[string]pipeline.Job{
			"lint": {
				Executor: pipeline.ExecutorLocal,
				Steps:    []pipeline.Step{{Type: pipeline.StepRun, Command: "flake8 ."}},
			},
			"pytest": {
				Executor: pipeline.ExecutorLocal,
				Steps:    []pipeline.Step{{Type: pipeline.StepRun, Command: "pytest"}},
			},
			"publish": {
				Executor: pipeline.ExecutorLocal,
				Steps:    []pipeline.Step{{Type: pipeline.StepRun, Command: "twine upload dist/*"}},
			},
		},
		Workflows: map[string]pipeline.Workflow{
			"build": {Jobs: []pipeline.WorkflowJob{
				{Name: "lint"},
				{Name: "pytest"},
				{Name: "publish", Approval: gated},
			}},
		},
	}
	if _, err := eng.Start(engine.StartRequest{Definition: def, Workflow: "build"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
}

// feedOnce invokes cmd a single time and feeds the resulting message through
// Update. Follow-up commands, refresh ticks included, are left unrun so tests
// never sleep.
func feedOnce(t *testing.T, app *App, cmd tea.Cmd) *App {
	t.Helper()
	msg := mustMsg(t, cmd)
	model, _ := app.Update(msg)
	next, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	return next
}

func mustMsg(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	msg := cmd()
	if msg == nil {
		t.Fatalf("expected a message")
	}
	return msg
}

func jobIndex(t *testing.T, view *runView, id string) int {
	t.Helper()
	for idx, node := range view.state.Nodes {
		if node.ID == id {
			return idx
		}
	}
	t.Fatalf("job %s missing from run state", id)
	return -1
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
