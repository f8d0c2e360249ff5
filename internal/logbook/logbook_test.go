package logbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestForRunWritesToConfiguredJournal(t *testing.T) {
	tempDir := t.TempDir()
	cfg := &config.Config{ProjectDir: tempDir, Root: filepath.Join(tempDir, config.ProjectDirName)}
	book, err := ForRun(cfg, "run-9")
	if err != nil {
		t.Fatalf("for run: %v", err)
	}
	book.Warn("slow image pull")
	data, err := os.ReadFile(cfg.JournalPath("run-9"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !strings.Contains(string(data), "WARN") || !strings.Contains(string(data), "slow image pull") {
		t.Fatalf("unexpected journal content %q", data)
	}
}

func TestJobLogTagsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Job("Testing").Info("step %q exited %d", "pytest", 0)
	lines, _ := book.Tail(1)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `[Testing] step "pytest" exited 0`) {
		t.Fatalf("line = %q", lines[0])
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Info("ignored")
	book.Job("x").Error("ignored")
	if lines, total := book.Tail(10); lines != nil || total != 0 {
		t.Fatalf("expected empty tail from nil logbook")
	}
}
