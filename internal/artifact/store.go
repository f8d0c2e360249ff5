package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
)

// ManifestName is the index file written inside each run's artifact
// directory.
const ManifestName = "manifest.json"

// Store copies job outputs into the project artifacts directory and keeps a
// per-run manifest of what was stored.
type Store struct {
	cfg *config.Config
	now func() time.Time

	mu sync.Mutex
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for manifest timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store rooted at the project's artifacts directory.
func NewStore(cfg *config.Config, opts ...StoreOption) *Store {
	store := &Store{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Entry records one stored artifact.
type Entry struct {
	Job         string    `json:"job"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Directory   bool      `json:"directory,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	StoredAt    time.Time `json:"stored_at"`
}

// Manifest lists everything a run stored.
type Manifest struct {
	RunID   string  `json:"run_id"`
	Entries []Entry `json:"entries"`
}

// Save copies a workspace path into the run's artifact directory and appends
// a manifest entry. The destination defaults to the source's base name;
// files get a sha256 checksum, directories record their total size.
func (s *Store) Save(runID, job, workspace, source, destination string) (Entry, error) {
	if strings.TrimSpace(runID) == "" {
		return Entry{}, fmt.Errorf("artifact: run id is required")
	}
	if strings.TrimSpace(source) == "" {
		return Entry{}, fmt.Errorf("artifact: source path is required")
	}
	srcPath, err := withinRoot(workspace, source)
	if err != nil {
		return Entry{}, err
	}
	dest := strings.TrimSpace(destination)
	if dest == "" {
		dest = filepath.Base(srcPath)
	}
	destPath, err := withinRoot(s.cfg.RunArtifactsDir(runID), dest)
	if err != nil {
		return Entry{}, fmt.Errorf("artifact: destination %s escapes the artifact directory", destination)
	}

	written, isDir, err := copyPath(srcPath, destPath)
	if err != nil {
		return Entry{}, fmt.Errorf("artifact: store %s: %w", source, err)
	}
	entry := Entry{
		Job:         job,
		Source:      filepath.ToSlash(filepath.Clean(strings.TrimSpace(source))),
		Destination: filepath.ToSlash(filepath.Clean(dest)),
		Directory:   isDir,
		SizeBytes:   written,
		StoredAt:    s.now().UTC(),
	}
	if !isDir {
		sum, err := hashFile(destPath)
		if err != nil {
			return Entry{}, fmt.Errorf("artifact: checksum %s: %w", dest, err)
		}
		entry.Checksum = sum
	}
	if err := s.appendEntry(runID, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Manifest returns the stored index for a run. A run without artifacts gets
// an empty manifest.
func (s *Store) Manifest(runID string) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	manifest, err := s.loadManifest(runID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{RunID: runID}, nil
		}
		return Manifest{}, err
	}
	return manifest, nil
}

// Open returns a reader for a stored artifact file.
func (s *Store) Open(runID, destination string) (*os.File, error) {
	path, err := withinRoot(s.cfg.RunArtifactsDir(runID), destination)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", destination, err)
	}
	return file, nil
}

func (s *Store) appendEntry(runID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	manifest, err := s.loadManifest(runID)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	manifest.RunID = runID
	manifest.Entries = append(manifest.Entries, entry)
	return s.writeManifest(runID, manifest)
}

func (s *Store) manifestPath(runID string) string {
	return filepath.Join(s.cfg.RunArtifactsDir(runID), ManifestName)
}

func (s *Store) loadManifest(runID string) (Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(runID))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("artifact: parse manifest for %s: %w", runID, err)
	}
	return manifest, nil
}

func (s *Store) writeManifest(runID string, manifest Manifest) error {
	path := s.manifestPath(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o644)
}
