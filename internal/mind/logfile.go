// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxLogSize is the byte threshold at which a mind's log file
// rotates (mind.log -> mind.log.1, shifting older generations up).
const DefaultMaxLogSize = 5 * 1024 * 1024

// DefaultMaxLogFiles is how many rotated generations are retained
// beyond the live file, before the oldest is deleted.
const DefaultMaxLogFiles = 5

// RotatingLogFile is an append-only log destination that rotates by
// size: when the live file would exceed maxSize, it's renamed to .1
// (shifting .N to .N+1 up to maxFiles, dropping the oldest), and a
// fresh file is opened in its place. Size is tracked by statting the
// file on open so rotation state survives a daemon restart.
type RotatingLogFile struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	maxFiles int
	f        *os.File
	size     int64
}

// OpenRotatingLogFile opens (creating if needed) path for appending,
// recording its current size for rotation accounting.
func OpenRotatingLogFile(path string, maxSize int64, maxFiles int) (*RotatingLogFile, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxLogFiles
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	return &RotatingLogFile{
		path:     path,
		maxSize:  maxSize,
		maxFiles: maxFiles,
		f:        f,
		size:     info.Size(),
	}, nil
}

// Write appends p, rotating first if doing so would exceed maxSize.
func (r *RotatingLogFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size+int64(len(p)) > r.maxSize && r.size > 0 {
		if err := r.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingLogFile) rotateLocked() error {
	r.f.Close()

	for i := r.maxFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", r.path, i)
		dst := fmt.Sprintf("%s.%d", r.path, i+1)
		if i+1 > r.maxFiles {
			os.Remove(src)
			continue
		}
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(r.path); err == nil {
		os.Rename(r.path, r.path+".1")
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("reopen log file after rotation: %w", err)
	}
	r.f = f
	r.size = 0
	return nil
}

// Close closes the underlying file.
func (r *RotatingLogFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
