package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/njoerd114/batchrelay/internal/record"
)

func newUpdateCmd(a *app) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "update <collection> <file>",
		Short: "Overwrite fields of existing records from a JSON or YAML file",
		Long: `Update reads a list of {"id": "...", "record": {...}} entries and
overwrites the given fields of each record, in batches. IDs must be strings.
No duplicate check is done.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := a.cfg.ResolveCollection(args[0])
			if err != nil {
				return err
			}
			updates, err := record.LoadUpdates(args[1])
			if err != nil {
				return err
			}
			svc, err := a.wire()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !quiet {
				stop := svc.progress.Subscribe(newProgressRenderer(out).handle)
				defer stop()
			}

			results, err := svc.uploader.Update(cmd.Context(), collection, updates)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Updated %d records in %s.", len(results), collection)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print batch progress")
	return cmd
}
