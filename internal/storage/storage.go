// Package storage persists session settings as YAML.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ColonelBlimp/stimcore/internal/session"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRecord indicates a stored record that failed validation.
var ErrInvalidRecord = errors.New("storage: invalid settings record")

// Store reads and writes one settings file. It remembers the last record it
// read or wrote so unchanged settings are never rewritten.
type Store struct {
	path     string
	logger   *log.Logger
	defaults session.Settings
	last     []byte
}

// New returns a store for path. Nothing is read until Load.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{path: path, logger: logger, defaults: session.DefaultSettings()}
}

// WithDefaults replaces the settings used when no valid record exists.
func (s *Store) WithDefaults(d session.Settings) *Store {
	s.defaults = d
	return s
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored settings. A missing file yields the defaults and
// no error. An unreadable, unparsable or out-of-range record yields the
// defaults and an error describing the problem; callers may continue.
// Fields absent from the file keep their default values.
func (s *Store) Load() (session.Settings, error) {
	def := s.defaults

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return def, nil
		}
		return def, fmt.Errorf("read settings: %w", err)
	}

	cfg := s.defaults
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return def, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := cfg.Validate(); err != nil {
		return def, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if out, err := yaml.Marshal(cfg); err == nil {
		s.last = out
	}
	return cfg, nil
}

// Save writes settings when they differ from the last persisted record.
// It reports whether the file was written.
func (s *Store) Save(settings session.Settings) (bool, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return false, fmt.Errorf("encode settings: %w", err)
	}
	if s.last != nil && bytes.Equal(data, s.last) {
		return false, nil
	}
	if err := writeFile(s.path, data); err != nil {
		return false, err
	}
	s.last = data
	s.logger.Printf("storage: settings saved to %s", s.path)
	return true, nil
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
