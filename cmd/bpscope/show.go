package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/bpscope/packer"
	"github.com/sarchlab/bpscope/report"
)

func newShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <dir>",
		Short: "Print the results packed in an output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			results, err := packer.Load(args[0])
			if err != nil {
				return err
			}
			return report.NewPrinter(cmd.OutOrStdout()).Print(f, results)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(report.FormatText), "Output format: text, csv or json")
	return cmd
}
