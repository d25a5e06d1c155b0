// Package applog provides append-only, per-subsystem file loggers.
// Bootstrap, network, and general activity is routed to dedicated log
// files instead of stdout so an interactive session isn't flooded —
// grounded on original_source/src/bootstrap_logger.rs and
// src/file_logger.rs, realized with stdlib log.Logger over an
// append-mode *os.File the way the teacher's p2p/node.go silences
// noisy libp2p subsystems via logging.SetLogLevel.
package applog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

func init() {
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("relay", "info")
	logging.SetLogLevel("autorelay", "info")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("dht", "warn")
}

// Subsystem names a dedicated log file within the data directory.
type Subsystem string

const (
	Bootstrap Subsystem = "bootstrap"
	Network   Subsystem = "network"
	General   Subsystem = "general"
)

// FileLogger appends timestamped, tagged lines to one subsystem's log
// file, closing and reopening never required since the handle stays
// open append-only for the logger's lifetime.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	path   string
}

// Set groups the three standard subsystem loggers the node runs with.
type Set struct {
	Bootstrap *FileLogger
	Network   *FileLogger
	General   *FileLogger
}

// Open creates (or appends to) the log file for subsystem under dir.
func Open(dir string, subsystem Subsystem) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, string(subsystem)+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		file:   f,
		logger: log.New(f, "", 0),
		path:   path,
	}, nil
}

// OpenSet opens the standard bootstrap/network/general loggers under
// dir, closing any already-opened logger if a later one fails.
func OpenSet(dir string) (*Set, error) {
	b, err := Open(dir, Bootstrap)
	if err != nil {
		return nil, err
	}
	n, err := Open(dir, Network)
	if err != nil {
		b.Close()
		return nil, err
	}
	g, err := Open(dir, General)
	if err != nil {
		b.Close()
		n.Close()
		return nil, err
	}
	return &Set{Bootstrap: b, Network: n, General: g}, nil
}

// Close closes the underlying file handle.
func (f *FileLogger) Close() error {
	if f == nil || f.file == nil {
		return nil
	}
	return f.file.Close()
}

// Path returns the log file's path on disk.
func (f *FileLogger) Path() string { return f.path }

// Logf appends a timestamped, tagged line. tag is uppercased by
// convention (INIT, ATTEMPT, STATUS, ERROR) to mirror the distinct
// bootstrap_logger.rs log_* variants as one parameterized method.
func (f *FileLogger) Logf(tag, format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().UTC().Format("2006-01-02 15:04:05 UTC")
	f.logger.Printf("[%s] %s: %s", ts, tag, msg)
}

// Close closes every logger in the set, returning the first error.
func (s *Set) Close() error {
	var first error
	for _, l := range []*FileLogger{s.Bootstrap, s.Network, s.General} {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
