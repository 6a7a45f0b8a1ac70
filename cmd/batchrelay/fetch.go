package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/njoerd114/batchrelay/internal/cache"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		query   string
		fields  string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <collection>",
		Short: "Print every record matching a query as JSON",
		Long: `Fetch pages through every record matching the query and prints them as
a JSON array. Results are kept in the read cache for cache_ttl, so repeating
the same fetch is served locally until the TTL expires or an upload, update
or delete touches the collection.`,
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

			var fieldList []string
			for _, f := range strings.Split(fields, ",") {
				if f = strings.TrimSpace(f); f != "" {
					fieldList = append(fieldList, f)
				}
			}

			var reader cache.Fetcher = svc.cached
			if noCache {
				reader = svc.reader
			}
			recs, err := reader.FetchAll(cmd.Context(), collection, fieldList, query)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", collection, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "store query filter, without limit/offset")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated fields to return (default all)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "read from the store even when a cached result exists")
	return cmd
}
