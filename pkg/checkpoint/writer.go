package checkpoint

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

// File layout: 2-byte magic, 1-byte version, 8-byte entry count, then one
// length-prefixed JSON record per entry (sentinels first, dump order).
var fileMagic = []byte{0xD0, 0x15}

const fileVersion = byte(1)

// Writer dumps the manager's retained state into an atomically replaced
// checkpoint file.
type Writer struct {
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Dump snapshots the manager and replaces the checkpoint file. The dump
// goes to a temp file that is synced and renamed into place, so a crash
// never leaves a half-written checkpoint behind.
func (w *Writer) Dump(m *binlog.Manager) error {
	entries := m.Checkpoint()

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := w.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open checkpoint temp: %w", err)
	}

	if err := writeAll(f, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := syncFile(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}

	util.Debug("Checkpoint: dumped %d entries to %s", len(entries), w.path)
	return nil
}

func writeAll(f *os.File, entries []*types.BinlogEntry) error {
	buf := bufio.NewWriter(f)

	if _, err := buf.Write(fileMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := buf.WriteByte(fileVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, uint64(len(entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}

	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %d: %w", e.CommitSeq, err)
		}
		if err := binary.Write(buf, binary.BigEndian, uint32(len(data))); err != nil {
			return fmt.Errorf("write entry length: %w", err)
		}
		if _, err := buf.Write(data); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
	}
	return buf.Flush()
}

// Loop dumps the manager on every tick until done closes. Dump failures
// are logged and retried on the next tick.
func (w *Writer) Loop(m *binlog.Manager, interval time.Duration, done chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Dump(m); err != nil {
				util.Error("Checkpoint: dump failed: %v", err)
			}
		case <-done:
			return
		}
	}
}
