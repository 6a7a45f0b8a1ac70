package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/njoerd114/batchrelay/internal/record"
	syncp "github.com/njoerd114/batchrelay/internal/sync"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		key    string
		yes    bool
		dryRun bool
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "upload <collection> <file>",
		Short: "Upload records from a JSON or YAML file",
		Long: `Upload reads an array of records from a file, drops repeated keys,
checks the store for records that already exist and, if there are none,
creates the rest in batches. Any existing record blocks the whole upload.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, recs, spec, err := a.loadInput(args[0], args[1], key)
			if err != nil {
				return err
			}

			svc, err := a.wire()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				plan, err := svc.uploader.Preview(cmd.Context(), collection, recs, spec)
				if err != nil {
					return err
				}
				syncp.PrintPlan(out, plan)
				return nil
			}

			if !quiet {
				stop := svc.progress.Subscribe(newProgressRenderer(out).handle)
				defer stop()
			}

			pf := syncp.NewPreflight(svc.uploader, a.log, cmd.InOrStdin(), out)
			_, res, ran, err := pf.Run(cmd.Context(), collection, recs, spec, yes)
			if err != nil {
				return err
			}
			if ran {
				fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Uploaded %d records to %s.", len(res.Records), collection)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "unique key field, or comma-separated fields for a composite key (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "upload without asking for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the upload plan and exit")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print batch progress")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// loadInput resolves the collection, parses the key spec and reads the
// record file.
func (a *app) loadInput(collection, path, key string) (string, []record.Record, record.KeySpec, error) {
	id, err := a.cfg.ResolveCollection(collection)
	if err != nil {
		return "", nil, nil, err
	}
	spec, err := record.ParseKeySpec(key)
	if err != nil {
		return "", nil, nil, fmt.Errorf("--key: %w", err)
	}
	recs, err := record.LoadFile(path)
	if err != nil {
		return "", nil, nil, err
	}
	a.log.Debug("records loaded", "file", path, "records", len(recs), "collection", id, "key", spec.String())
	return id, recs, spec, nil
}
