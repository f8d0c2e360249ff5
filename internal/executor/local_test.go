package executor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLocalExecReportsExitCodes(t *testing.T) {
	local := NewLocal("sh")
	code, err := local.Exec(context.Background(), Spec{Command: "exit 3", Env: BaseEnv(nil)})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	code, err = local.Exec(context.Background(), Spec{Command: "true", Env: BaseEnv(nil)})
	if err != nil || code != 0 {
		t.Fatalf("expected clean exit, got code=%d err=%v", code, err)
	}
}

func TestLocalExecStreamsOutput(t *testing.T) {
	local := NewLocal("")
	var stdout, stderr bytes.Buffer
	code, err := local.Exec(context.Background(), Spec{
		Command: "echo out; echo err 1>&2",
		Env:     BaseEnv(nil),
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil || code != 0 {
		t.Fatalf("exec: code=%d err=%v", code, err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "out" {
		t.Fatalf("stdout mismatch: %q", got)
	}
	if got := strings.TrimSpace(stderr.String()); got != "err" {
		t.Fatalf("stderr mismatch: %q", got)
	}
}

func TestLocalExecIsolatesEnvironment(t *testing.T) {
	t.Setenv("BOLTCI_TEST_SECRET", "leaky")
	local := NewLocal("sh")
	var stdout bytes.Buffer
	code, err := local.Exec(context.Background(), Spec{
		Command: `echo "have:${BOLTCI_TEST_SECRET:-none}"`,
		Env:     BaseEnv(nil),
		Stdout:  &stdout,
	})
	if err != nil || code != 0 {
		t.Fatalf("exec: code=%d err=%v", code, err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "have:none" {
		t.Fatalf("expected isolated environment, got %q", got)
	}

	stdout.Reset()
	env := MergeEnv(BaseEnv(nil), map[string]string{"BOLTCI_TEST_SECRET": "declared"})
	if _, err := local.Exec(context.Background(), Spec{
		Command: `echo "have:${BOLTCI_TEST_SECRET:-none}"`,
		Env:     env,
		Stdout:  &stdout,
	}); err != nil {
		t.Fatalf("exec declared: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "have:declared" {
		t.Fatalf("expected declared variable visible, got %q", got)
	}
}

func TestLocalExecCancelKillsProcessGroup(t *testing.T) {
	local := NewLocal("sh")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	code, err := local.Exec(ctx, Spec{Command: "sleep 5", Env: BaseEnv(nil)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if code != KillExitCode {
		t.Fatalf("expected kill exit code, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("process not killed promptly, took %s", elapsed)
	}
}

func TestLocalExecRejectsEmptyCommand(t *testing.T) {
	local := NewLocal("sh")
	if _, err := local.Exec(context.Background(), Spec{}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}
