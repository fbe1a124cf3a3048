// Package configstore persists configuration records as one file per pid
// and reports changes made to that directory by other writers.
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/bootready"
	"github.com/GoCodeAlone/bootready/host"
)

// Supported file extensions.
const (
	ExtYAML = ".yaml"
	ExtYML  = ".yml"
	ExtTOML = ".toml"
	ExtJSON = ".json"
)

var (
	ErrEmptyDir          = errors.New("configstore: directory is required")
	ErrInvalidPID        = errors.New("configstore: invalid pid")
	ErrUnsupportedFormat = errors.New("configstore: unsupported file format")
	ErrPIDMismatch       = errors.New("configstore: record pid does not match file name")
	ErrWatcherClosed     = errors.New("configstore: watcher channel closed")
)

// Store keeps records under dir. It implements host.Persistence.
type Store struct {
	dir    string
	ext    string
	logger bootready.Logger

	mu      sync.Mutex
	written map[string][]byte
	removed map[string]bool
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the store's logger.
func WithLogger(logger bootready.Logger) Option {
	return func(s *Store) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithFormat sets the extension used for new records. Existing records keep
// the format they were found in.
func WithFormat(ext string) Option {
	return func(s *Store) error {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !supported(ext) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
		s.ext = ext
		return nil
	}
}

// New creates the directory if needed and returns a Store over it.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, ErrEmptyDir
	}
	s := &Store{
		dir:     dir,
		ext:     ExtYAML,
		logger:  nopLogger{},
		written: make(map[string][]byte),
		removed: make(map[string]bool),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return s, nil
}

// Dir returns the directory the store reads and writes.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads every supported file in the directory. Files that fail to
// parse are logged and skipped.
func (s *Store) Load(_ context.Context) ([]host.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read config directory %s: %w", s.dir, err)
	}
	var records []host.Record
	for _, entry := range entries {
		if entry.IsDir() || !supported(extOf(entry.Name())) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		rec, err := readRecord(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable configuration file", "file", path, "error", err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PID < records[j].PID })
	return records, nil
}

// Save writes rec to its file, replacing any previous content.
func (s *Store) Save(_ context.Context, rec host.Record) error {
	if err := validPID(rec.PID); err != nil {
		return err
	}
	path := s.pathFor(rec.PID)
	data, err := encode(extOf(path), rec)
	if err != nil {
		return fmt.Errorf("encode configuration %s: %w", rec.PID, err)
	}

	s.mu.Lock()
	s.written[path] = data
	delete(s.removed, path)
	s.mu.Unlock()

	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.mu.Lock()
		delete(s.written, path)
		s.mu.Unlock()
		return fmt.Errorf("write configuration %s: %w", path, err)
	}
	s.logger.Debug("Saved configuration", "pid", rec.PID, "file", path)
	return nil
}

// Delete removes every file stored for pid. A missing file is not an error.
func (s *Store) Delete(_ context.Context, pid string) error {
	if err := validPID(pid); err != nil {
		return err
	}
	for _, path := range s.existingPaths(pid) {
		s.mu.Lock()
		delete(s.written, path)
		s.removed[path] = true
		s.mu.Unlock()

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			delete(s.removed, path)
			s.mu.Unlock()
			return fmt.Errorf("remove configuration %s: %w", path, err)
		}
		s.logger.Debug("Deleted configuration", "pid", pid, "file", path)
	}
	return nil
}

// pathFor returns the existing file for pid, or a new one in the store's
// default format.
func (s *Store) pathFor(pid string) string {
	if existing := s.existingPaths(pid); len(existing) > 0 {
		return existing[0]
	}
	return filepath.Join(s.dir, pid+s.ext)
}

func (s *Store) existingPaths(pid string) []string {
	var paths []string
	for _, ext := range []string{ExtYAML, ExtYML, ExtTOML, ExtJSON} {
		path := filepath.Join(s.dir, pid+ext)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}

// isEcho reports whether data is exactly what the store last wrote to path.
func (s *Store) isEcho(path string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.written[path]
	return ok && bytes.Equal(last, data)
}

// consumeRemoval reports whether the store removed path itself.
func (s *Store) consumeRemoval(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed[path] {
		delete(s.removed, path)
		return true
	}
	return false
}

func readRecord(path string) (host.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return host.Record{}, err
	}
	return decode(path, data)
}

// decode parses data by the extension of path. A record without a pid
// takes it from the file name.
func decode(path string, data []byte) (host.Record, error) {
	var rec host.Record
	var err error
	switch extOf(path) {
	case ExtYAML, ExtYML:
		err = yaml.Unmarshal(data, &rec)
	case ExtTOML:
		err = toml.Unmarshal(data, &rec)
	case ExtJSON:
		err = json.Unmarshal(data, &rec)
	default:
		return rec, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return rec, fmt.Errorf("parse %s: %w", path, err)
	}

	pid := pidOf(path)
	switch rec.PID {
	case "":
		rec.PID = pid
	case pid:
	default:
		return rec, fmt.Errorf("%w: %s declares %q", ErrPIDMismatch, path, rec.PID)
	}
	if rec.Properties == nil {
		rec.Properties = map[string]any{}
	}
	return rec, nil
}

func encode(ext string, rec host.Record) ([]byte, error) {
	switch ext {
	case ExtYAML, ExtYML:
		return yaml.Marshal(rec)
	case ExtTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(rec); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ExtJSON:
		return json.MarshalIndent(rec, "", "  ")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func validPID(pid string) error {
	if pid == "" || pid == "." || pid == ".." || strings.ContainsAny(pid, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPID, pid)
	}
	return nil
}

func supported(ext string) bool {
	switch ext {
	case ExtYAML, ExtYML, ExtTOML, ExtJSON:
		return true
	}
	return false
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func pidOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

var _ host.Persistence = (*Store)(nil)
