package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook is the human-readable journal of one run: a plain text file with
// one timestamped line per event, next to the structured state the engine
// persists. Writes never fail the caller; a run must not die because its
// journal is unwritable.
type Logbook struct {
	path string
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// ForRun opens the journal for a run at its configured location.
func ForRun(cfg *config.Config, runID string) (*Logbook, error) {
	return New(cfg.JournalPath(runID))
}

// write appends one formatted journal line. Errors are swallowed on purpose.
func (l *Logbook) write(level Level, text string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	stamp := time.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(file, "%s %-5s %s\n", stamp, string(level), strings.TrimSpace(text))
}

// Tail returns up to maxLines of the most recent entries plus the total
// number of lines in the journal.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.write(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.write(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.write(LevelError, fmt.Sprintf(format, args...))
}

// JobLog tags every entry with the job it belongs to, so interleaved jobs
// stay readable in a shared journal.
type JobLog struct {
	book *Logbook
	job  string
}

// Job returns a view of the logbook scoped to one job.
func (l *Logbook) Job(name string) *JobLog {
	return &JobLog{book: l, job: name}
}

func (j *JobLog) emit(level Level, format string, args ...any) {
	if j == nil {
		return
	}
	j.book.write(level, fmt.Sprintf("[%s] %s", j.job, fmt.Sprintf(format, args...)))
}

// Info appends a job-tagged informational entry.
func (j *JobLog) Info(format string, args ...any) {
	j.emit(LevelInfo, format, args...)
}

// Warn appends a job-tagged warning entry.
func (j *JobLog) Warn(format string, args ...any) {
	j.emit(LevelWarn, format, args...)
}

// Error appends a job-tagged error entry.
func (j *JobLog) Error(format string, args ...any) {
	j.emit(LevelError, format, args...)
}
