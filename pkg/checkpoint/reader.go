package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

var (
	ErrBadMagic   = errors.New("not a checkpoint file")
	ErrBadVersion = errors.New("unsupported checkpoint version")
)

const headerSize = 11 // magic(2) + version(1) + count(8)

// Reader replays a checkpoint file. The file is memory-mapped, so a large
// dump is paged in as it is consumed rather than copied onto the heap.
type Reader struct {
	path string
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Replay streams every checkpointed entry to fn in dump order.
func (r *Reader) Replay(fn func(*types.BinlogEntry) error) error {
	mapper, err := mmap.Open(r.path)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() {
		if err := mapper.Close(); err != nil {
			util.Error("failed to close checkpoint mapper: %v", err)
		}
	}()

	header := make([]byte, headerSize)
	if _, err := mapper.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read checkpoint header: %w", err)
	}
	if !bytes.Equal(header[:2], fileMagic) {
		return ErrBadMagic
	}
	if header[2] != fileVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, header[2])
	}
	count := binary.BigEndian.Uint64(header[3:])

	offset := int64(headerSize)
	lenBuf := make([]byte, 4)
	for i := uint64(0); i < count; i++ {
		if _, err := mapper.ReadAt(lenBuf, offset); err != nil {
			return fmt.Errorf("read entry %d length: %w", i, err)
		}
		offset += 4

		data := make([]byte, binary.BigEndian.Uint32(lenBuf))
		if _, err := mapper.ReadAt(data, offset); err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		offset += int64(len(data))

		e := &types.BinlogEntry{}
		if err := json.Unmarshal(data, e); err != nil {
			return fmt.Errorf("decode entry %d: %w", i, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Restore rebuilds a manager from the checkpoint and returns how many
// entries were replayed. A missing file is a clean cold start, not an
// error.
func (r *Reader) Restore(m *binlog.Manager) (int, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		util.Info("Checkpoint: no file at %s, starting cold", r.path)
		return 0, nil
	}

	n := 0
	err := r.Replay(func(e *types.BinlogEntry) error {
		m.Recover(e)
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	util.Info("Checkpoint: recovered %d entries from %s", n, r.path)
	return n, nil
}
