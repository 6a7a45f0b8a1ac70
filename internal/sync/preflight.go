package sync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/njoerd114/batchrelay/internal/record"
)

// maxListedDuplicates bounds the duplicate keys printed in a summary.
const maxListedDuplicates = 10

// Preflight previews an upload, prints a summary, and (with confirmation)
// runs it. It is the interactive front of [Uploader.Upload].
type Preflight struct {
	uploader *Uploader
	log      *slog.Logger
	reader   io.Reader // for confirmation prompt (os.Stdin in production)
	writer   io.Writer // for summary output (os.Stdout in production)
}

// NewPreflight creates a Preflight. reader and writer control the
// confirmation prompt I/O.
func NewPreflight(uploader *Uploader, logger *slog.Logger, reader io.Reader, writer io.Writer) *Preflight {
	return &Preflight{
		uploader: uploader,
		log:      logger,
		reader:   reader,
		writer:   writer,
	}
}

// Run previews the upload and prints the plan. When assumeYes is false the
// user is asked to confirm. It returns the plan, the upload result, and
// whether the upload ran. A blocked plan is never uploaded: Run returns an
// error wrapping [ErrDuplicatesFound], both when the preview finds
// duplicates and when the upload's own check finds records created since.
func (p *Preflight) Run(ctx context.Context, collection string, records []record.Record, spec record.KeySpec, assumeYes bool) (Plan, record.SyncResult, bool, error) {
	plan, err := p.uploader.Preview(ctx, collection, records, spec)
	if err != nil {
		return Plan{}, record.SyncResult{}, false, fmt.Errorf("previewing upload: %w", err)
	}

	PrintPlan(p.writer, plan)

	if plan.Blocked() {
		p.log.Info("upload blocked by remote duplicates", "collection", collection, "duplicates", plan.Duplicates)
		return plan, record.SyncResult{OK: false}, false,
			fmt.Errorf("%d of %d records in %s: %w", plan.Duplicates, plan.Kept, collection, ErrDuplicatesFound)
	}
	if plan.Kept == 0 {
		_, _ = fmt.Fprintln(p.writer, "Nothing to upload.")
		return plan, record.SyncResult{OK: true}, false, nil
	}

	if !assumeYes && !p.confirm() {
		p.log.Info("upload cancelled by user", "collection", collection)
		return plan, record.SyncResult{}, false, nil
	}

	res, err := p.uploader.Upload(ctx, collection, records, spec)
	if err != nil {
		return plan, record.SyncResult{}, false, err
	}
	if !res.OK {
		p.log.Warn("records appeared in the store after the preview, upload skipped", "collection", collection)
		return plan, res, false,
			fmt.Errorf("records in %s created since the preview: %w", collection, ErrDuplicatesFound)
	}
	return plan, res, true, nil
}

// PrintPlan writes a human-readable summary of plan to w.
func PrintPlan(w io.Writer, plan Plan) {
	_, _ = fmt.Fprintf(w, "\n=== Upload plan: %s (key %s) ===\n\n", plan.Collection, plan.Key)
	_, _ = fmt.Fprintf(w, "  Records read:        %d\n", plan.Input)
	if plan.Dropped > 0 {
		_, _ = fmt.Fprintf(w, "  Repeated in file:    %d (dropped)\n", plan.Dropped)
	}
	_, _ = fmt.Fprintf(w, "  To upload:           %d\n", plan.Kept)
	_, _ = fmt.Fprintf(w, "  Batches:             %d of up to %d in %d wave(s)\n", plan.Batches, plan.BatchSize, plan.Waves)
	_, _ = fmt.Fprintf(w, "  Already in store:    %d\n", plan.Duplicates)

	if plan.Duplicates > 0 {
		_, _ = fmt.Fprintln(w, "\n  Existing keys:")
		listed := 0
		for _, e := range plan.Entries {
			if !e.IsDuplicate {
				continue
			}
			if listed == maxListedDuplicates {
				_, _ = fmt.Fprintf(w, "    ... and %d more\n", plan.Duplicates-listed)
				break
			}
			key, _ := record.JoinKey(e.Record, plan.Key)
			_, _ = fmt.Fprintf(w, "    %s (%d match(es))\n", key, len(e.Duplicates))
			listed++
		}
		_, _ = fmt.Fprintln(w, "\n  Nothing will be uploaded while duplicates exist.")
	}
	_, _ = fmt.Fprintln(w)
}

func (p *Preflight) confirm() bool {
	return Confirm(p.reader, p.writer, "Proceed with upload?")
}

// Confirm prints prompt followed by " [y/N]: " and reads one line from r.
// Anything other than "y" or "yes" declines.
func Confirm(r io.Reader, w io.Writer, prompt string) bool {
	_, _ = fmt.Fprint(w, prompt+" [y/N]: ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes"
}
