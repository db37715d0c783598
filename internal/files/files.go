// Package files locates and reads the input files the CLI submits as task
// workloads.
package files

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxSize caps the size of a single workload read by ReadWorkload.
const DefaultMaxSize = 16 * 1024 * 1024 // 16MB

// Find returns the regular files matching any of the doublestar patterns,
// sorted and without duplicates. Symlinks and directories are skipped.
func Find(patterns ...string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
			}
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// ReadWorkload reads the whole file as one workload. Files larger than
// maxSize are rejected; a non-positive maxSize means DefaultMaxSize. The
// limit is enforced while reading, so a file that grows after it was
// opened cannot exceed it.
func ReadWorkload(path string, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%s is too large, limit is %d", path, maxSize)
	}
	return data, nil
}
