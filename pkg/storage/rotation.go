package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RotationStats counts what one Rotate pass did
type RotationStats struct {
	Compressed int
	Removed    int
}

// Rotate deletes documents older than the retention and compresses those
// older than CompressAfter
func (fs *FileStorage) Rotate() (RotationStats, error) {
	var stats RotationStats
	dir := filepath.Join(fs.dataDir, reportsDir)
	now := fs.now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if fs.retention > 0 && age > fs.retention {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove old file %s: %w", path, err)
			}
			stats.Removed++
			return nil
		}

		if !strings.HasSuffix(path, compressedExt) && filepath.Ext(path) == jsonExt &&
			fs.compressAfter > 0 && age > fs.compressAfter {
			if err := compressFile(path, info.ModTime()); err != nil {
				return fmt.Errorf("failed to compress file %s: %w", path, err)
			}
			stats.Compressed++
		}
		return nil
	})
	return stats, err
}

// compressFile replaces path with path.gz, keeping its modification time
func compressFile(path string, modTime time.Time) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	destPath := path + ".gz"
	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	gz := gzip.NewWriter(dest)
	gz.Name = filepath.Base(path)
	gz.ModTime = modTime
	if _, err := io.Copy(gz, source); err != nil {
		gz.Close()
		os.Remove(destPath)
		return err
	}
	if err := gz.Close(); err != nil {
		os.Remove(destPath)
		return err
	}

	source.Close()
	dest.Close()
	if err := os.Remove(path); err != nil {
		return err
	}
	return os.Chtimes(destPath, modTime, modTime)
}
