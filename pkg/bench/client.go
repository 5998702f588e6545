package bench

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liuxinzero07/doris/pkg/server"
	"github.com/liuxinzero07/doris/util"
)

const AckTimeout = 5 * time.Second

// LoadClient drives one writer or reader against a running metad node.
// Writers share a single sequence counter so commit sequences stay globally
// increasing across goroutines, the same way a transaction manager would
// hand them out.
type LoadClient struct {
	Addr             string
	DbID             int64
	Tables           []int64
	EntriesPerWriter int

	seq *uint64
}

// roundTrip sends one framed command and decodes the JSON envelope.
func (c *LoadClient) roundTrip(conn net.Conn, cmd string) (*server.Response, error) {
	if err := util.WriteWithLength(conn, []byte(cmd)); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(AckTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	respBuf, err := util.ReadWithLength(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp server.Response
	if err := json.Unmarshal(respBuf, &resp); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", strings.TrimSpace(string(respBuf)), err)
	}
	return &resp, nil
}

// runWriter inserts EntriesPerWriter records, spreading them round-robin
// over the configured tables.
func (c *LoadClient) runWriter(writerID int) error {
	conn, err := net.Dial("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("[W%d] connection failed: %v", writerID, err)
	}
	defer conn.Close()

	for i := 0; i < c.EntriesPerWriter; i++ {
		seq := atomic.AddUint64(c.seq, 1)
		table := c.Tables[i%len(c.Tables)]

		// The payload has to decode as an upsert record or gc cannot build
		// tombstones from these entries later.
		cmd := fmt.Sprintf(`INSERT db=%d tables=%d seq=%d kind=UPSERT payload={"commit_seq":%d,"db_id":%d,"label":"load-W%d-%d"}`,
			c.DbID, table, seq, seq, c.DbID, writerID, i)

		resp, err := c.roundTrip(conn, cmd)
		if err != nil {
			return fmt.Errorf("[W%d] entry %d: %w", writerID, i, err)
		}
		if resp.Status == "NOT_LEADER" {
			return fmt.Errorf("[W%d] node is not the leader, retry against %s", writerID, resp.Leader)
		}
		if resp.Status != "OK" {
			return fmt.Errorf("[W%d] unexpected response: %s %s", writerID, resp.Status, resp.Error)
		}
	}
	return nil
}

// runReader walks one table's log from the beginning and commits the final
// position, so the sweep horizon sees a live consumer.
func (c *LoadClient) runReader(readerID int, tableID int64) (int, error) {
	conn, err := net.Dial("tcp", c.Addr)
	if err != nil {
		return 0, fmt.Errorf("[C%d] connection failed: %v", readerID, err)
	}
	defer conn.Close()

	var cursor uint64
	read := 0
	for {
		cmd := fmt.Sprintf("GET_BINLOG db=%d table=%d seq=%d", c.DbID, tableID, cursor)
		resp, err := c.roundTrip(conn, cmd)
		if err != nil {
			return read, fmt.Errorf("[C%d] read at seq %d: %w", readerID, cursor, err)
		}

		switch resp.Status {
		case "OK":
			if resp.Entry == nil {
				return read, fmt.Errorf("[C%d] OK response without entry at seq %d", readerID, cursor)
			}
			cursor = resp.Entry.CommitSeq
			read++
		case "NO_NEW_DATA":
			if read > 0 {
				commit := fmt.Sprintf("COMMIT_CURSOR consumer=load-C%d db=%d table=%d seq=%d",
					readerID, c.DbID, tableID, cursor)
				if resp, err := c.roundTrip(conn, commit); err != nil {
					util.Warn("Reader%d: cursor commit failed: %v", readerID, err)
				} else if resp.Status != "OK" {
					util.Warn("Reader%d: cursor commit rejected: %s %s", readerID, resp.Status, resp.Error)
				}
			}
			util.Debug("Reader%d finished table %d at seq %d with %d entries.", readerID, tableID, cursor, read)
			return read, nil
		case "EXPIRED":
			return read, fmt.Errorf("[C%d] cursor %d fell behind the retention horizon", readerID, cursor)
		default:
			return read, fmt.Errorf("[C%d] unexpected response: %s %s", readerID, resp.Status, resp.Error)
		}
	}
}

// RunWriterPhase fans out the configured writers and collects their errors.
func (b *LoadRunner) RunWriterPhase() error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	seq := b.startSeq
	for i := 0; i < b.NumWriters; i++ {
		wg.Add(1)
		go func(wid int) {
			defer wg.Done()
			client := &LoadClient{
				Addr:             b.Addr,
				DbID:             b.DbID,
				Tables:           b.Tables,
				EntriesPerWriter: b.EntriesPerWriter,
				seq:              &seq,
			}
			if err := client.runWriter(wid); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		util.Error("❌ Writer Phase Failed:")
		util.Error("   Total failures: %d/%d writers", len(errs), b.NumWriters)
		util.Error("   First error:")
		util.Error("   %v", errs[0])
		return fmt.Errorf("%d writer(s) failed", len(errs))
	}
	return nil
}

// RunReaderPhase walks every table concurrently and reports how many entries
// came back.
func (b *LoadRunner) RunReaderPhase() (int, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	total := 0

	for idx, tableID := range b.Tables {
		wg.Add(1)
		readerID := idx % b.NumReaders
		go func(rid int, table int64) {
			defer wg.Done()
			client := &LoadClient{
				Addr:   b.Addr,
				DbID:   b.DbID,
				Tables: b.Tables,
			}
			read, err := client.runReader(rid, table)
			mu.Lock()
			total += read
			if err != nil {
				errs = append(errs, err)
			}
			mu.Unlock()
		}(readerID, tableID)
	}
	wg.Wait()

	if len(errs) > 0 {
		return total, fmt.Errorf("%d reader(s) failed, error: %w", len(errs), errs[0])
	}
	return total, nil
}
