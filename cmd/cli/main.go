package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/checkpoint"
	"github.com/liuxinzero07/doris/pkg/config"
	"github.com/liuxinzero07/doris/pkg/cursor"
	"github.com/liuxinzero07/doris/pkg/server"
	"github.com/liuxinzero07/doris/util"
)

// The console runs the command handler in-process against the local meta
// directory, so checkpoints and cursor positions can be inspected without a
// running daemon.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Println("❌ Failed to load config:", err)
		os.Exit(1)
	}

	blm := binlog.NewManager()
	if restored, err := checkpoint.NewReader(cfg.CheckpointPath()).Restore(blm); err != nil {
		util.Warn("Console: checkpoint restore failed: %v", err)
	} else if restored > 0 {
		fmt.Printf("Loaded %d checkpointed records from %s\n", restored, cfg.CheckpointPath())
	}

	cursors, err := cursor.Open(cfg.CursorDBPath())
	if err != nil {
		util.Warn("Console: cursor store unavailable: %v", err)
		cursors = nil
	}

	ch := server.NewCommandHandler(blm, cursors, cfg, nil)

	fmt.Println("🔹 metad console ready. Type HELP for commands.")
	fmt.Println("")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(line, "EXIT") {
			break
		}
		fmt.Println(ch.HandleCommand(line))
	}

	if cursors != nil {
		_ = cursors.Close()
	}
}
