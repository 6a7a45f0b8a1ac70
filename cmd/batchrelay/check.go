package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "check <collection> <file>",
		Short: "Report which records in a file already exist in the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, recs, spec, err := a.loadInput(args[0], args[1], key)
			if err != nil {
				return err
			}
			svc, err := a.wire()
			if err != nil {
				return err
			}

			entries, err := svc.detector.CheckBatch(cmd.Context(), collection, recs, spec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			dups := 0
			for i, e := range entries {
				if !e.IsDuplicate {
					continue
				}
				dups++
				fmt.Fprintf(out, "%s  #%d %s (%d existing)\n",
					dupStyle.Render("DUP"), i, formatKey(e.Record, spec), len(e.Duplicates))
			}
			summary := fmt.Sprintf("%d of %d records already exist.", dups, len(entries))
			if dups == 0 {
				fmt.Fprintln(out, successStyle.Render(summary))
			} else {
				fmt.Fprintln(out, dupStyle.Render(summary))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "unique key field, or comma-separated fields for a composite key (required)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
