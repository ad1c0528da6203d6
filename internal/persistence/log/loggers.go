package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelgrid.io/internal/inspectproto"
	"voxelgrid.io/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to zstd files rotated every UTC hour:
// <baseDir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu  sync.Mutex
	seg *segment
}

// segment is one open hourly file.
type segment struct {
	hour string
	f    *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	buf := bufio.NewWriterSize(zw, 64*1024)
	return &segment{hour: hour, f: f, zw: zw, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// close ends the zstd frame before closing the file so every hour decodes
// on its own.
func (s *segment) close() error {
	flushErr := s.buf.Flush()
	zErr := s.zw.Close()
	fErr := s.f.Close()
	return errors.Join(flushErr, zErr, fErr)
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

// Write encodes v as one line in the current hour's file.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if w.seg == nil || w.seg.hour != hour {
		if w.seg != nil {
			if err := w.seg.close(); err != nil {
				return err
			}
			w.seg = nil
		}
		seg, err := openSegment(w.pathForHour(hour), hour)
		if err != nil {
			return err
		}
		w.seg = seg
	}
	if err := w.seg.enc.Encode(v); err != nil {
		return err
	}
	return w.seg.buf.Flush()
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// LifecycleLogger writes one JSONL entry per chunk state transition (compressed).
type LifecycleLogger struct{ w *JSONLZstdWriter }

func NewLifecycleLogger(dataDir string) *LifecycleLogger {
	return &LifecycleLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "lifecycle"), "lifecycle")}
}

func (l *LifecycleLogger) WriteEvent(ev world.LifecycleEvent) error { return l.w.Write(ev) }
func (l *LifecycleLogger) Close() error                             { return l.w.Close() }

// StatsLogger writes periodic pipeline stats JSONL entries (compressed).
type StatsLogger struct{ w *JSONLZstdWriter }

func NewStatsLogger(dataDir string) *StatsLogger {
	return &StatsLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "stats"), "stats")}
}

func (l *StatsLogger) WriteStats(st inspectproto.Stats) error { return l.w.Write(st) }
func (l *StatsLogger) Close() error                           { return l.w.Close() }
