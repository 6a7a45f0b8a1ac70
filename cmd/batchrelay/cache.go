package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local read cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [collection]",
		Short: "Drop cached reads for one collection, or for all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openCache()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if err := store.InvalidateAll(cmd.Context()); err != nil {
					return fmt.Errorf("clearing read cache: %w", err)
				}
				fmt.Fprintln(out, successStyle.Render("Read cache cleared."))
				return nil
			}

			collection, err := a.cfg.ResolveCollection(args[0])
			if err != nil {
				return err
			}
			if err := store.InvalidateCollection(cmd.Context(), collection); err != nil {
				return fmt.Errorf("clearing read cache for %s: %w", collection, err)
			}
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Read cache cleared for %s.", collection)))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the number of live cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openCache()
			if err != nil {
				return err
			}
			// openCache has already purged expired entries.
			n, err := store.Len(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("entries:"), n)
			return nil
		},
	})
	return cmd
}
