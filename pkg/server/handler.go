package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/config"
	"github.com/liuxinzero07/doris/pkg/cursor"
	"github.com/liuxinzero07/doris/pkg/metrics"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

// Replicator is the slice of the replication manager the serving layer
// needs. A nil Replicator runs the handler standalone, mutating local state
// directly.
type Replicator interface {
	IsLeader() bool
	LeaderAddress() string
	ApplyBinlog(e *types.BinlogEntry) error
	ApplyDropTable(dbID, tableID int64) error
	AddVoter(id, addr string) error
	RemoveServer(id string) error
}

// Response is the JSON envelope every data command answers with.
type Response struct {
	Status  string             `json:"status"`
	Error   string             `json:"error,omitempty"`
	Leader  string             `json:"leader,omitempty"`
	Entry   *types.BinlogEntry `json:"entry,omitempty"`
	Lag     *int64             `json:"lag,omitempty"`
	Seq     *uint64            `json:"seq,omitempty"`
	Tables  int                `json:"tables,omitempty"`
	Entries int                `json:"entries,omitempty"`
}

type CommandHandler struct {
	Binlogs     *binlog.Manager
	Cursors     *cursor.Store
	Config      *config.Config
	Replication Replicator
}

func NewCommandHandler(blm *binlog.Manager, cursors *cursor.Store, cfg *config.Config, repl Replicator) *CommandHandler {
	return &CommandHandler{
		Binlogs:     blm,
		Cursors:     cursors,
		Config:      cfg,
		Replication: repl,
	}
}

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.Contains(response, `"error":`) {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

func (ch *CommandHandler) HandleCommand(rawCmd string) string {
	metrics.CommandsServed.Inc()

	cmd := strings.TrimSpace(rawCmd)
	if cmd == "" {
		return ch.errorResponse("empty command")
	}

	verb := strings.ToUpper(cmd)
	var resp string
	switch {
	case strings.EqualFold(cmd, "HELP"):
		resp = handleHelp()
	case strings.EqualFold(cmd, "STATS"):
		resp = ch.handleStats()
	case strings.HasPrefix(verb, "GET_BINLOG "):
		resp = ch.handleGetBinlog(cmd[11:])
	case strings.HasPrefix(verb, "GET_LAG "):
		resp = ch.handleGetLag(cmd[8:])
	case strings.HasPrefix(verb, "INSERT "):
		resp = ch.handleInsert(cmd[7:])
	case strings.HasPrefix(verb, "COMMIT_CURSOR "):
		resp = ch.handleCommitCursor(cmd[14:])
	case strings.HasPrefix(verb, "FETCH_CURSOR "):
		resp = ch.handleFetchCursor(cmd[13:])
	case strings.HasPrefix(verb, "DROP_TABLE "):
		resp = ch.handleDropTable(cmd[11:])
	case strings.HasPrefix(verb, "ADD_VOTER "):
		resp = ch.handleAddVoter(cmd[10:])
	case strings.HasPrefix(verb, "REMOVE_SERVER "):
		resp = ch.handleRemoveServer(cmd[14:])
	default:
		resp = ch.errorResponse(fmt.Sprintf("unknown command '%s', try HELP", strings.Fields(cmd)[0]))
	}

	ch.logCommandResult(cmd, resp)
	return resp
}

func handleHelp() string {
	return `Available commands:
GET_BINLOG db=<id> table=<id> seq=<cursor> - first entry after the cursor
GET_LAG db=<id> table=<id> seq=<cursor> - entries the cursor has not seen
INSERT db=<id> tables=<id,id,...> seq=<N> kind=<UPSERT|SCHEMA_CHANGE|...> [timestamp=<ms>] [payload=<json>] - append an entry
COMMIT_CURSOR consumer=<id> db=<id> table=<id> seq=<N> - persist a consumer position
FETCH_CURSOR consumer=<id> db=<id> table=<id> - read a consumer position
DROP_TABLE db=<id> table=<id> - forget a table's binlog
ADD_VOTER id=<node> addr=<host:port> - add a raft voter
REMOVE_SERVER id=<node> - remove a raft server
STATS - table and entry counts
HELP - show this help
EXIT - close the connection`
}

func (ch *CommandHandler) handleStats() string {
	return marshalResponse(Response{
		Status:  binlog.StatusOK.String(),
		Tables:  ch.Binlogs.NumTables(),
		Entries: ch.Binlogs.TotalEntries(),
	})
}

// handleGetBinlog serves GET_BINLOG: the first entry strictly after the
// consumer's cursor, or the reason there is none.
func (ch *CommandHandler) handleGetBinlog(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	dbID, tableID, err := parseTableRef(args)
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	seq, err := parseSeq(args, "seq")
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	start := time.Now()
	entry, status, err := ch.Binlogs.GetBinlog(dbID, tableID, seq)
	metrics.PushLookup(time.Since(start).Seconds())
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	switch status {
	case binlog.StatusExpired:
		metrics.LookupsExpired.Inc()
		return marshalResponse(Response{Status: status.String()})
	case binlog.StatusNoNewData:
		metrics.LookupsNoNewData.Inc()
		return marshalResponse(Response{Status: status.String()})
	}
	return marshalResponse(Response{Status: status.String(), Entry: entry})
}

func (ch *CommandHandler) handleGetLag(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	dbID, tableID, err := parseTableRef(args)
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	seq, err := parseSeq(args, "seq")
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	lag, status, err := ch.Binlogs.GetBinlogLag(dbID, tableID, seq)
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	if status == binlog.StatusExpired {
		metrics.LookupsExpired.Inc()
	}
	return marshalResponse(Response{Status: status.String(), Lag: &lag})
}

// handleInsert appends one entry to every table it touches. Clustered nodes
// route the write through raft; only the leader accepts it.
func (ch *CommandHandler) handleInsert(argsStr string) string {
	args := parseKeyValueArgs(argsStr)

	dbID, err := parseID(args, "db")
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	tableIDs, err := parseTableList(args["tables"])
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	seq, err := parseSeq(args, "seq")
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	kind := types.BinlogKindUpsert
	if kindStr, ok := args["kind"]; ok {
		kind, err = types.ParseBinlogKind(kindStr)
		if err != nil {
			return ch.errorResponse(err.Error())
		}
	}

	timestamp := time.Now().UnixMilli()
	if tsStr, ok := args["timestamp"]; ok {
		timestamp = util.ParseInt64(tsStr, timestamp)
	}

	entry := types.NewBinlogEntry(seq, kind, dbID, tableIDs, timestamp, args["payload"])

	if ch.Replication != nil {
		if !ch.Replication.IsLeader() {
			return marshalResponse(Response{Status: "NOT_LEADER", Leader: ch.Replication.LeaderAddress()})
		}
		if err := ch.Replication.ApplyBinlog(entry); err != nil {
			return ch.errorResponse(fmt.Sprintf("replicate binlog: %v", err))
		}
	} else {
		ch.Binlogs.AddBinlog(entry)
	}
	return marshalResponse(Response{Status: binlog.StatusOK.String()})
}

func (ch *CommandHandler) handleCommitCursor(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	if ch.Cursors == nil {
		return ch.errorResponse("cursor store not available")
	}

	consumerID, ok := args["consumer"]
	if !ok || consumerID == "" {
		return ch.errorResponse("missing consumer parameter")
	}
	dbID, tableID, err := parseTableRef(args)
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	seq, err := parseSeq(args, "seq")
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	if err := ch.Cursors.Commit(context.Background(), consumerID, dbID, tableID, seq); err != nil {
		return ch.errorResponse(err.Error())
	}
	metrics.CursorCommits.Inc()
	return marshalResponse(Response{Status: binlog.StatusOK.String()})
}

func (ch *CommandHandler) handleFetchCursor(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	if ch.Cursors == nil {
		return ch.errorResponse("cursor store not available")
	}

	consumerID, ok := args["consumer"]
	if !ok || consumerID == "" {
		return ch.errorResponse("missing consumer parameter")
	}
	dbID, tableID, err := parseTableRef(args)
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	seq, found, err := ch.Cursors.Position(context.Background(), consumerID, dbID, tableID)
	if err != nil {
		return ch.errorResponse(err.Error())
	}
	if !found {
		return marshalResponse(Response{Status: "NOT_FOUND"})
	}
	return marshalResponse(Response{Status: binlog.StatusOK.String(), Seq: &seq})
}

func (ch *CommandHandler) handleDropTable(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	dbID, tableID, err := parseTableRef(args)
	if err != nil {
		return ch.errorResponse(err.Error())
	}

	if ch.Replication != nil {
		if !ch.Replication.IsLeader() {
			return marshalResponse(Response{Status: "NOT_LEADER", Leader: ch.Replication.LeaderAddress()})
		}
		if err := ch.Replication.ApplyDropTable(dbID, tableID); err != nil {
			return ch.errorResponse(fmt.Sprintf("replicate table drop: %v", err))
		}
	} else {
		ch.Binlogs.DropTable(dbID, tableID)
	}
	return marshalResponse(Response{Status: binlog.StatusOK.String()})
}

func (ch *CommandHandler) handleAddVoter(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	if ch.Replication == nil {
		return ch.errorResponse("cluster mode disabled")
	}

	id, addr := args["id"], args["addr"]
	if id == "" || addr == "" {
		return ch.errorResponse("ADD_VOTER requires id and addr parameters")
	}
	if err := ch.Replication.AddVoter(id, addr); err != nil {
		return ch.errorResponse(err.Error())
	}
	return marshalResponse(Response{Status: binlog.StatusOK.String()})
}

func (ch *CommandHandler) handleRemoveServer(argsStr string) string {
	args := parseKeyValueArgs(argsStr)
	if ch.Replication == nil {
		return ch.errorResponse("cluster mode disabled")
	}

	id := args["id"]
	if id == "" {
		return ch.errorResponse("REMOVE_SERVER requires id parameter")
	}
	if err := ch.Replication.RemoveServer(id); err != nil {
		return ch.errorResponse(err.Error())
	}
	return marshalResponse(Response{Status: binlog.StatusOK.String()})
}

func (ch *CommandHandler) errorResponse(msg string) string {
	metrics.CommandErrors.Inc()
	return marshalResponse(Response{Status: "ERROR", Error: msg})
}

func marshalResponse(r Response) string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"status":"ERROR","error":"encode response"}`
	}
	return string(data)
}

// parseKeyValueArgs splits "key=value" pairs. A payload= argument swallows
// the rest of the line so JSON payloads may contain spaces.
func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)

	payloadIdx := strings.Index(argsStr, "payload=")
	if payloadIdx != -1 {
		for _, part := range strings.Fields(argsStr[:payloadIdx]) {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				result[kv[0]] = kv[1]
			}
		}
		result["payload"] = strings.TrimSpace(argsStr[payloadIdx+8:])
	} else {
		for _, part := range strings.Fields(argsStr) {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				result[kv[0]] = kv[1]
			}
		}
	}
	return result
}

func parseID(args map[string]string, key string) (int64, error) {
	raw, ok := args[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

func parseTableRef(args map[string]string) (int64, int64, error) {
	dbID, err := parseID(args, "db")
	if err != nil {
		return 0, 0, err
	}
	tableID, err := parseID(args, "table")
	if err != nil {
		return 0, 0, err
	}
	return dbID, tableID, nil
}

func parseSeq(args map[string]string, key string) (uint64, error) {
	raw, ok := args[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return seq, nil
}

func parseTableList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing tables parameter")
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid table id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("missing tables parameter")
	}
	return ids, nil
}
