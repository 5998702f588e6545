package bench

import (
	"fmt"
	"time"
)

type LoadRunner struct {
	Addr             string
	DbID             int64
	Tables           []int64
	NumWriters       int
	NumReaders       int
	EntriesPerWriter int

	startSeq uint64
}

func NewLoadRunner(addr string, dbID int64, tables []int64, writers, readers, entries int, startSeq uint64) *LoadRunner {
	return &LoadRunner{
		Addr:             addr,
		DbID:             dbID,
		Tables:           tables,
		NumWriters:       writers,
		NumReaders:       readers,
		EntriesPerWriter: entries,
		startSeq:         startSeq,
	}
}

func (b *LoadRunner) Run() {
	totalEntries := b.NumWriters * b.EntriesPerWriter
	start := time.Now()

	if err := b.RunWriterPhase(); err != nil {
		fmt.Printf("Writer phase error: %v\n", err)
		return
	}
	writeDuration := time.Since(start)

	readStart := time.Now()
	read, err := b.RunReaderPhase()
	if err != nil {
		fmt.Printf("Reader phase error: %v\n", err)
	}
	readDuration := time.Since(readStart)

	writeThroughput := float64(totalEntries) / writeDuration.Seconds()
	readThroughput := float64(read) / readDuration.Seconds()

	fmt.Printf("\n🧪 LOAD RESULT [metad] 🧪\n")
	fmt.Printf("-------------------------------------\n")
	fmt.Printf(" Writers       : %d\n", b.NumWriters)
	fmt.Printf(" Readers       : %d\n", b.NumReaders)
	fmt.Printf(" Tables        : %d\n", len(b.Tables))
	fmt.Printf(" Total Entries : %d\n", totalEntries)
	fmt.Printf(" Write Duration: %v\n", writeDuration)
	fmt.Printf(" Write Rate    : %.2f entries/sec\n", writeThroughput)
	fmt.Printf(" Entries Read  : %d\n", read)
	fmt.Printf(" Read Rate     : %.2f entries/sec\n", readThroughput)
	fmt.Printf("-------------------------------------\n")
}
