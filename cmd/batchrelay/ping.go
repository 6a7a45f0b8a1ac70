package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <collection>",
		Short: "Check that the store is reachable and the credentials can read a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := a.cfg.ResolveCollection(args[0])
			if err != nil {
				return err
			}
			svc, err := a.wire()
			if err != nil {
				return err
			}
			if err := svc.client.Ping(cmd.Context(), collection); err != nil {
				return fmt.Errorf("ping %s: %w", a.cfg.StoreURL, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("OK"), a.cfg.StoreURL, "collection", collection)
			return nil
		},
	}
}
