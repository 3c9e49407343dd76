// Package storage keeps finished job reports on disk as JSON documents.
package storage

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Load for an unknown name
var ErrNotFound = errors.New("document not found")

const (
	reportsDir    = "reports"
	jsonExt       = ".json"
	compressedExt = ".json.gz"
)

// FileStorage stores one JSON document per name under <dir>/reports.
// Rotate compresses and expires old documents.
type FileStorage struct {
	dataDir string
	mu      sync.RWMutex

	retention     time.Duration
	compressAfter time.Duration
	now           func() time.Time
}

// Options control rotation; zero durations disable that step
type Options struct {
	Retention     time.Duration `mapstructure:"retention"`
	CompressAfter time.Duration `mapstructure:"compress_after"`
}

func NewFileStorage(dataDir string, opts Options) (*FileStorage, error) {
	dir := filepath.Join(dataDir, reportsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return &FileStorage{
		dataDir:       dataDir,
		retention:     opts.Retention,
		compressAfter: opts.CompressAfter,
		now:           time.Now,
	}, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}

func (fs *FileStorage) path(name, ext string) string {
	return filepath.Join(fs.dataDir, reportsDir, name+ext)
}

// Save writes v as the document name, replacing any earlier version
func (fs *FileStorage) Save(name string, v interface{}) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// write then rename so readers never see a partial file
	tmp := fs.path(name, jsonExt+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, fs.path(name, jsonExt)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	os.Remove(fs.path(name, compressedExt))
	return nil
}

// Load decodes the document name into v, compressed or not
func (fs *FileStorage) Load(name string, v interface{}) error {
	if err := checkName(name); err != nil {
		return err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var r io.Reader
	file, err := os.Open(fs.path(name, jsonExt))
	if errors.Is(err, os.ErrNotExist) {
		file, err = os.Open(fs.path(name, compressedExt))
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer file.Close()
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", name, err)
		}
		defer gz.Close()
		r = gz
	} else if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	} else {
		defer file.Close()
		r = file
	}

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// Delete removes every version of the document name
func (fs *FileStorage) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, ext := range []string{jsonExt, compressedExt} {
		if err := os.Remove(fs.path(name, ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
