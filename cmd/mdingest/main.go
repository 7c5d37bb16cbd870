// Command mdingest loads archived market-data files into monthly partitioned
// tables and maintains those partitions.
//
// Usage:
//
//	mdingest ingest [DIR] [--pattern GLOB]... [--concurrency N] [--file-list F]
//	mdingest migrate
//	mdingest validate
//	mdingest partitions ensure|list|check|maintain
//	mdingest probe FILE
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mdingest: %v\n", err)
		return 1
	}
	return 0
}
