package executor

import (
	"reflect"
	"testing"
)

func TestBaseEnvCopiesOnlyAllowlistedVariables(t *testing.T) {
	t.Setenv("BOLTCI_TEST_TOKEN", "tok-123")
	t.Setenv("BOLTCI_TEST_NOISE", "nope")

	env := BaseEnv([]string{"BOLTCI_TEST_TOKEN"})
	if env["BOLTCI_TEST_TOKEN"] != "tok-123" {
		t.Fatalf("expected passthrough token, got %+v", env)
	}
	if _, leaked := env["BOLTCI_TEST_NOISE"]; leaked {
		t.Fatalf("undeclared host variable leaked: %+v", env)
	}
	if _, ok := env["PATH"]; !ok {
		t.Fatalf("expected PATH to be forwarded, got %+v", env)
	}
}

func TestMergeEnvLaterLayersWin(t *testing.T) {
	merged := MergeEnv(
		map[string]string{"A": "base", "B": "keep"},
		map[string]string{"A": "job"},
		map[string]string{"A": "step", "C": "new"},
	)
	want := map[string]string{"A": "step", "B": "keep", "C": "new"}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}

func TestFlattenEnvSortsPairs(t *testing.T) {
	flat := flattenEnv(map[string]string{"ZED": "1", "ALPHA": "2"})
	want := []string{"ALPHA=2", "ZED=1"}
	if !reflect.DeepEqual(flat, want) {
		t.Fatalf("unexpected pairs: %+v", flat)
	}
	if flattenEnv(nil) == nil {
		t.Fatalf("expected empty non-nil environment for empty map")
	}
}

func TestShellEscape(t *testing.T) {
	if got := shellEscape(""); got != "''" {
		t.Fatalf("empty escape mismatch: %q", got)
	}
	if got := shellEscape("it's"); got != `'it'"'"'s'` {
		t.Fatalf("quote escape mismatch: %q", got)
	}
}
