// Package main provides the bpscope command line: measure branch-prediction
// counters of C tests on the local CPU, in gem5 or on a remote host.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sarchlab/bpscope/diag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		diag.NewReporter(os.Stderr).Failuref("%v", err)
		stop()
		os.Exit(1)
	}
}
