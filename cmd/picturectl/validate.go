package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/operation"
)

const resultVar = "result"

// errInvalidPictures is returned when at least one file misses metadata.
var errInvalidPictures = errors.New("some pictures have missing metadata")

// blobValidator runs the blob validation operation.
type blobValidator interface {
	ValidateBlob(
		ctx context.Context,
		blob *document.Blob,
		opts operation.BlobOptions,
		opCtx *operation.Context,
	) (*document.Blob, error)
}

func newValidateCommand(flgs *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check picture files for resolution and colorspace metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), *flgs, io.Discard)
			if err != nil {
				return err
			}
			defer sess.close()

			return validateFiles(cmd.Context(), cmd.OutOrStdout(), sess.app.Operations, args)
		},
	}
}

// validateFiles prints one line per file and fails when any file is invalid.
func validateFiles(ctx context.Context, out io.Writer, validator blobValidator, paths []string) error {
	invalid := 0

	for _, path := range paths {
		blob, blobErr := document.NewFileBlob(path, "", mime.TypeByExtension(filepath.Ext(path)))
		if blobErr != nil {
			return blobErr
		}

		opCtx := operation.NewContext()
		opts := operation.BlobOptions{VarResult: resultVar, ThrowException: false}

		_, validateErr := validator.ValidateBlob(ctx, blob, opts, opCtx)
		if validateErr != nil {
			return fmt.Errorf("failed to validate %s: %w", path, validateErr)
		}

		message, _ := opCtx.Get(resultVar)

		text, _ := message.(string)
		if text == "" {
			_, _ = fmt.Fprintf(out, "%s: OK\n", path)

			continue
		}

		invalid++

		_, _ = fmt.Fprintf(out, "%s: %s\n", path, text)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidPictures, invalid, len(paths))
	}

	return nil
}
