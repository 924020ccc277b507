// Package archive mirrors the observation and RNG audit streams to
// compressed JSONL files. The event log in SQLite stays the source of
// truth; these files exist for offline analysis and cheap shipping, and
// losing one never affects determinism.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/rng"
)

// Writer appends JSON lines to hourly-rotated zstd files under baseDir.
type Writer struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{baseDir: baseDir, prefix: prefix}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ObservationLog mirrors committed observations, one JSON line each.
type ObservationLog struct{ w *Writer }

func NewObservationLog(worldDir string) *ObservationLog {
	return &ObservationLog{w: NewWriter(filepath.Join(worldDir, "observations"), "obs")}
}

func (l *ObservationLog) WriteBatch(tick uint64, obs []protocol.ObservationEvent) error {
	for _, o := range obs {
		if err := l.w.Write(o); err != nil {
			return fmt.Errorf("archive tick %d: %w", tick, err)
		}
	}
	return nil
}

func (l *ObservationLog) Close() error { return l.w.Close() }

// DrawLog mirrors the RNG audit, one JSON line per draw.
type DrawLog struct{ w *Writer }

func NewDrawLog(worldDir string) *DrawLog {
	return &DrawLog{w: NewWriter(filepath.Join(worldDir, "draws"), "draws")}
}

func (l *DrawLog) WriteDraws(recs []rng.DrawRecord) error {
	for _, r := range recs {
		if err := l.w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (l *DrawLog) Close() error { return l.w.Close() }
