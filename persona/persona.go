// Package persona manages the layered, versioned persona profile and turns
// it into the prompt prefix injected ahead of every generation. Profiles
// live as JSON layers under <dir>/current/ with versioned snapshots under
// <dir>/archive/v_NNNN_<ts>/.
package persona

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nevindra/parley"
)

// Layers are the profile documents, merged in this order. core_identity is
// immutable through the API; it changes only by hand.
var Layers = []string{
	"core_identity", "linguistic", "emotional_state",
	"domain", "interaction", "vocabulary", "exemplars", "meta",
}

// DefaultArchiveKeep caps retained snapshots.
const DefaultArchiveKeep = 30

// Store manages one persona profile directory.
type Store struct {
	name        string
	currentDir  string
	archiveDir  string
	archiveKeep int
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.RWMutex
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithArchiveKeep overrides the snapshot retention cap.
func WithArchiveKeep(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.archiveKeep = n
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens (creating if needed) the profile at dir and builds the initial
// prompt prefix. Missing layers are seeded with defaults.
func New(name, dir string, opts ...Option) (*Store, error) {
	s := &Store{
		name:        name,
		currentDir:  filepath.Join(dir, "current"),
		archiveDir:  filepath.Join(dir, "archive"),
		archiveKeep: DefaultArchiveKeep,
		logger:      nopLogger,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	for _, d := range []string{s.currentDir, s.archiveDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, &parley.ErrStore{Op: "persona_init", Err: err}
		}
	}
	if err := s.ensureDefaults(); err != nil {
		return nil, err
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the persona name.
func (s *Store) Name() string { return s.name }

// Prefix returns the current merged prompt prefix.
func (s *Store) Prefix() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefix
}

// CurrentDir returns the live layer directory (watched for hot reload).
func (s *Store) CurrentDir() string { return s.currentDir }

// LoadLayer reads one layer document.
func (s *Store) LoadLayer(layer string) (map[string]any, error) {
	if !validLayer(layer) {
		return nil, fmt.Errorf("persona: unknown layer %q", layer)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLayer(layer)
}

// SaveLayer writes one layer document and rebuilds the prefix.
// core_identity is rejected: it is edited by hand only.
func (s *Store) SaveLayer(layer string, data map[string]any) error {
	if !validLayer(layer) {
		return fmt.Errorf("persona: unknown layer %q", layer)
	}
	if layer == "core_identity" {
		return fmt.Errorf("persona: core_identity is immutable")
	}
	s.mu.Lock()
	if err := s.writeLayer(layer, data); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.Reload()
}

// Reload re-reads all layers and rebuilds the merged prompt prefix.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	layers := make(map[string]map[string]any, len(Layers))
	for _, layer := range Layers {
		doc, err := s.readLayer(layer)
		if err != nil {
			return err
		}
		layers[layer] = doc
	}
	s.prefix = renderPrefix(s.name, layers)
	s.logger.Debug("persona: prefix rebuilt", "persona", s.name, "bytes", len(s.prefix))
	return nil
}

// Snapshot archives the current layers as the next version, bumps
// meta.current_version, and prunes old snapshots. Returns the new version.
func (s *Store) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readLayer("meta")
	if err != nil {
		return 0, err
	}
	version := intField(meta, "current_version") + 1

	stamp := s.now().Format("2006-01-02T15-04")
	snapshotDir := filepath.Join(s.archiveDir, fmt.Sprintf("v_%04d_%s", version, stamp))
	if err := copyDir(s.currentDir, snapshotDir); err != nil {
		return 0, &parley.ErrStore{Op: "persona_snapshot", Err: err}
	}

	meta["current_version"] = version
	if err := s.writeLayer("meta", meta); err != nil {
		return 0, err
	}
	s.pruneArchive()
	return version, nil
}

// Rebuild snapshots the profile and reloads the prefix. The HTTP surface
// exposes it as POST /persona/rebuild.
func (s *Store) Rebuild() (int, error) {
	version, err := s.Snapshot()
	if err != nil {
		return 0, err
	}
	if err := s.Reload(); err != nil {
		return 0, err
	}
	s.logger.Info("persona: rebuilt", "persona", s.name, "version", version)
	return version, nil
}

func (s *Store) pruneArchive() {
	entries, err := os.ReadDir(s.archiveDir)
	if err != nil {
		return
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "v_") {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	for len(versions) > s.archiveKeep {
		os.RemoveAll(filepath.Join(s.archiveDir, versions[0]))
		versions = versions[1:]
	}
}

func (s *Store) layerPath(layer string) string {
	return filepath.Join(s.currentDir, layer+".json")
}

func (s *Store) readLayer(layer string) (map[string]any, error) {
	raw, err := os.ReadFile(s.layerPath(layer))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, &parley.ErrStore{Op: "persona_read", Err: err}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &parley.ErrStore{Op: "persona_read", Err: fmt.Errorf("layer %s: %w", layer, err)}
	}
	return doc, nil
}

// writeLayer persists atomically: temp file in the same directory, then
// rename.
func (s *Store) writeLayer(layer string, data map[string]any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return &parley.ErrStore{Op: "persona_write", Err: err}
	}
	tmp, err := os.CreateTemp(s.currentDir, "."+layer+"-*.json")
	if err != nil {
		return &parley.ErrStore{Op: "persona_write", Err: err}
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &parley.ErrStore{Op: "persona_write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &parley.ErrStore{Op: "persona_write", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.layerPath(layer)); err != nil {
		os.Remove(tmp.Name())
		return &parley.ErrStore{Op: "persona_write", Err: err}
	}
	return nil
}

func validLayer(layer string) bool {
	for _, l := range Layers {
		if l == layer {
			return true
		}
	}
	return false
}

func intField(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}
