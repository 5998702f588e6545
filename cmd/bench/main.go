package main

import (
	"flag"

	"github.com/liuxinzero07/doris/pkg/bench"
)

func main() {
	addr := flag.String("addr", "localhost:9020", "metad address")
	dbID := flag.Int64("db", 10, "database id to load")
	tables := flag.Int("tables", 4, "number of tables to spread entries over")
	writers := flag.Int("writers", 8, "number of concurrent writers")
	readers := flag.Int("readers", 4, "number of concurrent readers")
	entries := flag.Int("entries", 100, "entries per writer")
	startSeq := flag.Uint64("start-seq", 0, "first commit sequence to allocate from")
	flag.Parse()

	tableIDs := make([]int64, 0, *tables)
	for i := 0; i < *tables; i++ {
		tableIDs = append(tableIDs, int64(100+i))
	}

	runner := bench.NewLoadRunner(*addr, *dbID, tableIDs, *writers, *readers, *entries, *startSeq)
	runner.Run()
}
