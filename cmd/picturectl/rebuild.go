package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/book-expert/picture-pipeline/internal/rendition"
)

var errRebuildFailed = errors.New("some renditions could not be rebuilt")

// idLister lists every stored document.
type idLister interface {
	List(ctx context.Context) ([]uuid.UUID, error)
}

func newRebuildCommand(flgs *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild [document-id]...",
		Short: "Rebuild the pre-built renditions of stored pictures",
		Long: `Rebuild the pre-built renditions of the given pictures, or of every stored
document when no ID is given. Documents that are not mutable pictures are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, parseErr := parseIDs(args)
			if parseErr != nil {
				return parseErr
			}

			sess, err := openSession(cmd.Context(), *flgs, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer sess.close()

			if len(ids) == 0 {
				ids, err = listAll(cmd.Context(), sess.app.Store)
				if err != nil {
					return err
				}
			}

			report := sess.app.Rebuilder(&sess.opts.batch).Rebuild(cmd.Context(), ids)

			return printReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().IntVarP(&flgs.workers, "workers", "w", 0, "Number of parallel workers.")
	cmd.Flags().BoolVarP(&flgs.quiet, "quiet", "q", false, "Hide the progress bar.")

	return cmd
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))

	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q: %w", arg, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func listAll(ctx context.Context, lister idLister) ([]uuid.UUID, error) {
	ids, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return ids, nil
}

func printReport(out io.Writer, report rendition.BatchReport) error {
	_, _ = fmt.Fprintf(out, "built: %d, skipped: %d, failed: %d\n",
		report.Built, report.Skipped, len(report.Failed))

	if len(report.Failed) == 0 {
		return nil
	}

	failed := make([]uuid.UUID, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].String() < failed[j].String() })

	for _, id := range failed {
		_, _ = fmt.Fprintf(out, "  %s: %v\n", id, report.Failed[id])
	}

	return fmt.Errorf("%w: %d", errRebuildFailed, len(report.Failed))
}
