package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// hashFile returns the hex sha256 of a file's contents.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// copyFile copies a single file, preserving its mode bits.
func copyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("artifact: %s is a directory", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

// copyTree copies src into dst recursively and reports total bytes copied.
// Symlinks are skipped; a CI artifact tree should not point outside itself.
func copyTree(src, dst string) (int64, error) {
	return CopyTree(src, dst)
}

// CopyTree copies src into dst recursively, skipping symlinks and any
// directory whose base name appears in skip. Checkout uses the skip list to
// keep the runner's own state directory out of job workspaces.
func CopyTree(src, dst string, skip ...string) (int64, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipped[name] = struct{}{}
	}
	var total int64
	err := filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case entry.IsDir():
			if _, skip := skipped[entry.Name()]; skip && rel != "." {
				return fs.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		case entry.Type()&fs.ModeSymlink != 0:
			return nil
		default:
			written, err := copyFile(path, target)
			total += written
			return err
		}
	})
	return total, err
}

// copyPath copies a file or directory and reports bytes plus whether the
// source was a directory.
func copyPath(src, dst string) (int64, bool, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, false, err
	}
	if info.IsDir() {
		written, err := copyTree(src, dst)
		return written, true, err
	}
	written, err := copyFile(src, dst)
	return written, false, err
}

// withinRoot resolves a relative path against root and rejects escapes.
func withinRoot(root, rel string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(rel))
	if cleaned == "" || cleaned == "." {
		return root, nil
	}
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", fmt.Errorf("artifact: path %s escapes the workspace", rel)
	}
	return filepath.Join(root, cleaned), nil
}
