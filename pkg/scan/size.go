// Package scan pkg/scan/size.go measures on-disk usage of a data directory.
package scan

import (
	"io/fs"
	"log"
	"path/filepath"
	"time"
)

// Usage is a point-in-time measurement of a directory tree. Each poll cycle
// produces a fresh one; nothing is kept across cycles.
type Usage struct {
	SizeBytes int64     `json:"size_bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// DirectorySize returns the total bytes occupied by regular files under
// root. Traversal errors are logged and skipped so the caller always gets a
// best-effort total; a missing or unreadable root yields 0. Symlinks are not
// followed.
func DirectorySize(root string) int64 {
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("Skipping %s during size scan: %v", path, err)

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Printf("Skipping %s during size scan: %v", path, err)
			return nil
		}

		total += info.Size()

		return nil
	})
	if err != nil {
		log.Printf("Size scan of %s aborted: %v", root, err)
	}

	return total
}

// Snapshot measures root and stamps the result.
func Snapshot(root string) Usage {
	return Usage{
		SizeBytes: DirectorySize(root),
		Timestamp: time.Now(),
	}
}
