package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestCacheResolveKeyExpandsChecksums(t *testing.T) {
	cache := NewCache(newTestConfig(t))
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "requirements.txt", "torch==1.4\n")

	key, err := cache.ResolveKey(`v1-deps-{{ checksum "requirements.txt" }}`, workspace)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	sum := sha256.Sum256([]byte("torch==1.4\n"))
	want := "v1-deps-" + hex.EncodeToString(sum[:])
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}

	again, err := cache.ResolveKey(`v1-deps-{{ checksum "requirements.txt" }}`, workspace)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again != key {
		t.Fatalf("key not stable: %q vs %q", again, key)
	}

	writeWorkspaceFile(t, workspace, "requirements.txt", "torch==1.5\n")
	changed, err := cache.ResolveKey(`v1-deps-{{ checksum "requirements.txt" }}`, workspace)
	if err != nil {
		t.Fatalf("resolve changed: %v", err)
	}
	if changed == key {
		t.Fatalf("expected new key after content change")
	}
}

func TestCacheResolveKeyMissingFile(t *testing.T) {
	cache := NewCache(newTestConfig(t))
	if _, err := cache.ResolveKey(`v1-{{ checksum "nope.txt" }}`, t.TempDir()); err == nil {
		t.Fatalf("expected error for missing checksum file")
	}
}

func TestCacheSaveRestoreRoundTrip(t *testing.T) {
	cache := NewCache(newTestConfig(t))
	producer := t.TempDir()
	writeWorkspaceFile(t, producer, ".cache/pip/pkg.whl", "wheel")

	saved, err := cache.Save("v1-deps-abc", producer, []string{".cache/pip"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !saved {
		t.Fatalf("expected first save to write")
	}
	if !cache.Has("v1-deps-abc") {
		t.Fatalf("expected key to exist")
	}

	consumer := t.TempDir()
	hit, err := cache.Restore("v1-deps-abc", consumer)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !hit {
		t.Fatalf("expected cache hit")
	}
	data, err := os.ReadFile(filepath.Join(consumer, ".cache", "pip", "pkg.whl"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(data) != "wheel" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestCacheSaveIsImmutable(t *testing.T) {
	cache := NewCache(newTestConfig(t))
	first := t.TempDir()
	writeWorkspaceFile(t, first, "deps/a.txt", "original")
	if _, err := cache.Save("v1-fixed", first, []string{"deps"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := t.TempDir()
	writeWorkspaceFile(t, second, "deps/a.txt", "mutated")
	saved, err := cache.Save("v1-fixed", second, []string{"deps"})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if saved {
		t.Fatalf("expected second save to be a no-op")
	}

	target := t.TempDir()
	if _, err := cache.Restore("v1-fixed", target); err != nil {
		t.Fatalf("restore: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "deps", "a.txt"))
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("cache entry was overwritten: %q", data)
	}
}

func TestCacheRestoreMiss(t *testing.T) {
	cache := NewCache(newTestConfig(t))
	hit, err := cache.Restore("never-saved", t.TempDir())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if hit {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestCacheSaveSkipsMissingPaths(t *testing.T) {
	cache := NewCache(newTestConfig(t))
	saved, err := cache.Save("v1-sparse", t.TempDir(), []string{"not-there"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !saved {
		t.Fatalf("expected save to succeed with empty tree")
	}
	hit, err := cache.Restore("v1-sparse", t.TempDir())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit for sparse key")
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"v1-deps-abc":        "v1-deps-abc",
		"v1 deps/abc":        "v1-deps-abc",
		"--v1.deps--":        "v1.deps",
		"key:with*specials?": "key-with-specials",
	}
	for in, want := range cases {
		if got := sanitizeKey(in); got != want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
