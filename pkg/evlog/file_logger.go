package evlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// bucketWindow is the granularity of the log filesystem's day-bucket
// naming scheme: one file per Unix-time day.
const bucketWindow = 24 * time.Hour

// FileLoggerConfig configures the on-device log filesystem described in
// the on-device log filesystem layout.
type FileLoggerConfig struct {
	Dir           string // directory holding one file per day-bucket
	FlushBytes    int    // buffer is flushed at or above this size (default 4 KiB)
	MaxTotalBytes int64  // retention: delete oldest buckets until under this
	MaxFiles      int    // retention: delete oldest buckets until under this count
}

// DefaultFileLoggerConfig returns the documented defaults: 4 KiB flush
// threshold, retention left to the caller (0 means unlimited).
func DefaultFileLoggerConfig(dir string) FileLoggerConfig {
	return FileLoggerConfig{
		Dir:        dir,
		FlushBytes: 4096,
	}
}

// FileLogger appends JSON-lines events into Unix-day bucket files,
// buffering writes and rolling/retaining per FileLoggerConfig.
//
// The reader always observes complete lines: buffered bytes are flushed
// before a bucket roll and as soon as a write brings the buffer to
// FlushBytes or more, and each write always ends on a '\n' boundary.
type FileLogger struct {
	cfg FileLoggerConfig

	mu         sync.Mutex
	buf        bytes.Buffer
	curBucket  int64 // Unix day-bucket index of buf's contents
	curFile    *os.File
	haveBucket bool
}

// NewFileLogger creates the log directory if needed and returns a ready
// FileLogger.
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = 4096
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("evlog: create log dir: %w", err)
	}
	return &FileLogger{cfg: cfg}, nil
}

func dayBucket(t time.Time) int64 {
	return t.UTC().Unix() / int64(bucketWindow/time.Second)
}

func bucketPath(dir string, bucket int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", bucket))
}

func (f *FileLogger) Log(e Event) {
	line, err := json.Marshal(logLine{
		Time:      e.Time,
		Layer:     e.Layer.String(),
		Direction: e.Direction.String(),
		Category:  string(e.Category),
		Connector: e.Connector,
		Message:   e.Message,
		Fields:    e.Fields,
	})
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := dayBucket(e.Time)
	if f.haveBucket && bucket != f.curBucket {
		f.flushLocked()
	}
	f.curBucket = bucket
	f.haveBucket = true

	f.buf.Write(line)
	f.buf.WriteByte('\n')
	if f.buf.Len() >= f.cfg.FlushBytes {
		f.flushLocked()
	}
}

type logLine struct {
	Time      time.Time      `json:"ts"`
	Layer     string         `json:"layer"`
	Direction string         `json:"dir"`
	Category  string         `json:"category"`
	Connector int            `json:"connector,omitempty"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// flushLocked writes the buffer to the current bucket file and applies
// retention. Caller holds f.mu.
func (f *FileLogger) flushLocked() {
	if f.buf.Len() == 0 {
		return
	}
	path := bucketPath(f.cfg.Dir, f.curBucket)
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.buf.Reset()
		return
	}
	_, _ = fh.Write(f.buf.Bytes())
	_ = fh.Close()
	f.buf.Reset()
	f.applyRetentionLocked()
}

// Flush forces any buffered bytes to disk.
func (f *FileLogger) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushLocked()
}

// Size returns the size of a single bucket file, or, when t is the zero
// Time, the aggregate size across every bucket file (the sentinel
// resolved here for the logfs_size(_, 0) ambiguity).
func (f *FileLogger) Size(t time.Time) (int64, error) {
	if t.IsZero() {
		entries, err := os.ReadDir(f.cfg.Dir)
		if err != nil {
			return 0, err
		}
		var total int64
		for _, ent := range entries {
			info, err := ent.Info()
			if err != nil {
				continue
			}
			total += info.Size()
		}
		return total, nil
	}
	info, err := os.Stat(bucketPath(f.cfg.Dir, dayBucket(t)))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *FileLogger) applyRetentionLocked() {
	if f.cfg.MaxFiles <= 0 && f.cfg.MaxTotalBytes <= 0 {
		return
	}
	entries, err := os.ReadDir(f.cfg.Dir)
	if err != nil {
		return
	}
	type fileInfo struct {
		path string
		size int64
	}
	files := make([]fileInfo, 0, len(entries))
	var total int64
	for _, ent := range entries {
		info, err := ent.Info()
		if err != nil {
			continue
		}
		p := filepath.Join(f.cfg.Dir, ent.Name())
		files = append(files, fileInfo{path: p, size: info.Size()})
		total += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	i := 0
	for (f.cfg.MaxFiles > 0 && len(files) > f.cfg.MaxFiles) ||
		(f.cfg.MaxTotalBytes > 0 && total > f.cfg.MaxTotalBytes) {
		if i >= len(files) {
			break
		}
		victim := files[i]
		if err := os.Remove(victim.path); err == nil {
			total -= victim.size
			files = append(files[:i], files[i+1:]...)
			continue
		}
		i++
	}
}

var _ Logger = (*FileLogger)(nil)
