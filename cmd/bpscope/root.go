package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/bpscope/analyzer"
)

func newRootCmd(opts ...analyzer.Option) *cobra.Command {
	root := &cobra.Command{
		Use:   "bpscope",
		Short: "Measure branch prediction behavior of C tests",
		Long: `bpscope compiles every test of a directory together with a measurement
harness, runs it on the local CPU (perf), inside gem5 or on a remote host
over SSH, and subtracts the cost of an empty harness from the counters.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAnalyzeCmd(opts),
		newAggregateCmd(opts),
		newShowCmd(),
	)
	return root
}
