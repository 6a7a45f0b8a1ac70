package main

import (
	"fmt"

	"github.com/spf13/cobra"

	syncp "github.com/njoerd114/batchrelay/internal/sync"
)

func newDeleteCmd(a *app) *cobra.Command {
	var (
		yes   bool
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "delete <collection> <id>...",
		Short: "Delete records by ID",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := a.cfg.ResolveCollection(args[0])
			if err != nil {
				return err
			}
			ids := args[1:]

			out := cmd.OutOrStdout()
			prompt := fmt.Sprintf("Delete %d record(s) from %s?", len(ids), collection)
			if !yes && !syncp.Confirm(cmd.InOrStdin(), out, prompt) {
				fmt.Fprintln(out, "Nothing deleted.")
				return nil
			}

			svc, err := a.wire()
			if err != nil {
				return err
			}
			if !quiet {
				stop := svc.progress.Subscribe(newProgressRenderer(out).handle)
				defer stop()
			}

			n, err := svc.uploader.Delete(cmd.Context(), collection, ids)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Deleted %d records from %s.", n, collection)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print batch progress")
	return cmd
}
