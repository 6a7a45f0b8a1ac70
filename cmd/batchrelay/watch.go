package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/batchrelay/internal/dropdir"
	"github.com/njoerd114/batchrelay/internal/record"
	syncp "github.com/njoerd114/batchrelay/internal/sync"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		key    string
		settle = dropdir.DefaultSettle
	)

	cmd := &cobra.Command{
		Use:   "watch <collection> <dir>",
		Short: "Upload every record file dropped into a directory",
		Long: `Watch uploads files already in dir, then every JSON or YAML file
that appears there until interrupted. Uploaded files move to done/, files
that fail or contain existing records move to failed/ with a .error note.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := a.cfg.ResolveCollection(args[0])
			if err != nil {
				return err
			}
			spec, err := record.ParseKeySpec(key)
			if err != nil {
				return fmt.Errorf("--key: %w", err)
			}
			svc, err := a.wire()
			if err != nil {
				return err
			}

			handle := func(ctx context.Context, path string) error {
				recs, err := record.LoadFile(path)
				if err != nil {
					return err
				}
				res, err := svc.uploader.Upload(ctx, collection, recs, spec)
				if err != nil {
					return err
				}
				if !res.OK {
					return fmt.Errorf("collection %s: %w", collection, syncp.ErrDuplicatesFound)
				}
				a.log.Info("file uploaded", "file", path, "records", len(res.Records))
				return nil
			}

			w, err := dropdir.New(args[1], handle, settle, a.log)
			if err != nil {
				return err
			}
			go a.purgeCachePeriodically(cmd.Context(), svc)

			a.log.Info("watching for record files", "dir", args[1], "collection", collection, "key", spec.String())
			err = w.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				a.log.Info("watch stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "unique key field, or comma-separated fields for a composite key (required)")
	cmd.Flags().DurationVar(&settle, "settle", settle, "quiet period after the last write before a file is picked up")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// purgeCachePeriodically drops expired read cache entries once per cache TTL
// until ctx is cancelled.
func (a *app) purgeCachePeriodically(ctx context.Context, svc *services) {
	ttl := a.cfg.EffectiveCacheTTL()
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.cache.PurgeExpired(ctx)
			if err != nil {
				a.log.Warn("purging read cache", "error", err)
				continue
			}
			a.log.Debug("purged expired cache entries", "entries", n)
		}
	}
}
