// Batchrelay uploads batches of records to a kintone-style record store
// without duplicating records that are already there.
//
// Usage:
//
//	batchrelay upload <collection> <file> --key date[,line] [--yes] [--dry-run]
//	batchrelay check  <collection> <file> --key date[,line]
//	batchrelay fetch  <collection> [--query q] [--fields a,b]
//	batchrelay watch  <collection> <dir> --key date[,line]
//	batchrelay ping   <collection>
//	batchrelay version
//
// Every command except version reads ~/.config/batchrelay/config.yaml unless
// --config is given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if cerr := a.close(); cerr != nil {
		fmt.Fprintln(os.Stderr, "batchrelay: cleanup:", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
