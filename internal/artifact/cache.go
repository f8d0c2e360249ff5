package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
)

const cacheMetaName = "meta.json"

// checksumPattern matches {{ checksum "file" }} tokens in cache keys.
var checksumPattern = regexp.MustCompile(`\{\{\s*checksum\s+"([^"]+)"\s*\}\}`)

// Cache stores immutable keyed snapshots of workspace paths. Saving an
// existing key never overwrites it; a changed dependency file changes the
// checksum token and therefore the key.
type Cache struct {
	dir string
	now func() time.Time
}

// NewCache builds a cache rooted at the project's cache directory.
func NewCache(cfg *config.Config) *Cache {
	return &Cache{dir: cfg.CacheDir(), now: time.Now}
}

type cacheMeta struct {
	Key       string    `json:"key"`
	Paths     []string  `json:"paths"`
	CreatedAt time.Time `json:"created_at"`
}

// ResolveKey expands checksum tokens against the workspace and normalizes
// the result into a directory-safe key. A token naming a missing file is an
// error since the key would never be stable.
func (c *Cache) ResolveKey(template, workspace string) (string, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return "", fmt.Errorf("artifact: cache key is required")
	}
	var resolveErr error
	resolved := checksumPattern.ReplaceAllStringFunc(template, func(match string) string {
		file := checksumPattern.FindStringSubmatch(match)[1]
		path, err := withinRoot(workspace, file)
		if err != nil {
			resolveErr = err
			return match
		}
		sum, err := hashFile(path)
		if err != nil {
			resolveErr = fmt.Errorf("artifact: checksum %s: %w", file, err)
			return match
		}
		return sum
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return sanitizeKey(resolved), nil
}

// Has reports whether a key is already stored.
func (c *Cache) Has(key string) bool {
	if key == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(c.dir, key))
	return err == nil && info.IsDir()
}

// Save snapshots workspace paths under the key. Returns false without
// touching anything when the key already exists. Declared paths that do not
// exist yet are skipped, matching the first run of a job that has never
// populated its cache directories.
func (c *Cache) Save(key, workspace string, paths []string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("artifact: cache key is required")
	}
	if len(paths) == 0 {
		return false, fmt.Errorf("artifact: cache save needs at least one path")
	}
	target := filepath.Join(c.dir, key)
	if _, err := os.Stat(target); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	staging := target + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return false, err
	}
	defer os.RemoveAll(staging)

	stored := make([]string, 0, len(paths))
	for _, rel := range paths {
		src, err := withinRoot(workspace, rel)
		if err != nil {
			return false, err
		}
		if _, statErr := os.Stat(src); errors.Is(statErr, fs.ErrNotExist) {
			continue
		}
		cleaned := filepath.ToSlash(filepath.Clean(strings.TrimSpace(rel)))
		dst := filepath.Join(staging, "tree", filepath.FromSlash(cleaned))
		if _, _, err := copyPath(src, dst); err != nil {
			return false, fmt.Errorf("artifact: cache %s: %w", rel, err)
		}
		stored = append(stored, cleaned)
	}

	meta := cacheMeta{Key: key, Paths: stored, CreatedAt: c.now().UTC()}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(staging, cacheMetaName), append(encoded, '\n'), 0o644); err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(staging, target); err != nil {
		return false, err
	}
	return true, nil
}

// Restore copies a cached snapshot back into the workspace. A missing key is
// a miss, not an error.
func (c *Cache) Restore(key, workspace string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("artifact: cache key is required")
	}
	target := filepath.Join(c.dir, key)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	tree := filepath.Join(target, "tree")
	if _, err := os.Stat(tree); errors.Is(err, fs.ErrNotExist) {
		return true, nil
	} else if err != nil {
		return false, err
	}
	if _, err := copyTree(tree, workspace); err != nil {
		return false, fmt.Errorf("artifact: restore %s: %w", key, err)
	}
	return true, nil
}

// sanitizeKey keeps keys usable as directory names.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
