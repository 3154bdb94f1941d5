// Package imaging reads basic image properties. Formats the standard decoders know are
// read in-process; anything else (PDF, TIFF, PSD) goes through the imageInfo command.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register the GIF decoder.
	_ "image/jpeg" // Register the JPEG decoder.
	_ "image/png"  // Register the PNG decoder.
	"strconv"
	"strings"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/document"
)

const (
	// CommandName is the contributed command printing "<width> <height>".
	CommandName = "imageInfo"
	// ParamInputFilePath names the image path parameter of CommandName.
	ParamInputFilePath = "inputFilePath"
)

var (
	// ErrNoBlob is returned when there is nothing to inspect.
	ErrNoBlob = errors.New("no blob to inspect")
	// ErrUnexpectedOutput is returned when the imageInfo output cannot be parsed.
	ErrUnexpectedOutput = errors.New("unexpected image info output")
)

// Info holds image dimensions and the detected format.
type Info struct {
	Format string
	Width  int
	Height int
}

// CommandRunner runs contributed commands.
type CommandRunner interface {
	Exec(ctx context.Context, name string, params commandline.Parameters) (*commandline.Result, error)
}

// Materializer gives a local file path for a blob.
type Materializer interface {
	Materialize(ctx context.Context, blob *document.Blob) (string, error)
}

// Inspector reads image info.
type Inspector struct {
	runner CommandRunner
	files  Materializer
}

// NewInspector creates an inspector. A nil runner disables the command fallback.
func NewInspector(runner CommandRunner, files Materializer) *Inspector {
	return &Inspector{runner: runner, files: files}
}

// Info decodes the image header, falling back to the imageInfo command.
func (inspector *Inspector) Info(ctx context.Context, blob *document.Blob) (Info, error) {
	if blob == nil {
		return Info{}, ErrNoBlob
	}

	info, decodeErr := decodeConfig(ctx, blob)
	if decodeErr == nil {
		return info, nil
	}

	if inspector.runner == nil {
		return Info{}, decodeErr
	}

	return inspector.infoFromCommand(ctx, blob)
}

func decodeConfig(ctx context.Context, blob *document.Blob) (_ Info, err error) {
	reader, openErr := blob.Open(ctx)
	if openErr != nil {
		return Info{}, openErr
	}

	defer func() {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close image %s: %w", blob.Filename, closeErr)
		}
	}()

	config, format, decodeErr := image.DecodeConfig(reader)
	if decodeErr != nil {
		return Info{}, fmt.Errorf("could not decode image %s: %w", blob.Filename, decodeErr)
	}

	return Info{Format: format, Width: config.Width, Height: config.Height}, nil
}

func (inspector *Inspector) infoFromCommand(ctx context.Context, blob *document.Blob) (Info, error) {
	path, pathErr := inspector.files.Materialize(ctx, blob)
	if pathErr != nil {
		return Info{}, pathErr
	}

	result, execErr := inspector.runner.Exec(ctx, CommandName,
		commandline.NewParameters().Set(ParamInputFilePath, path))
	if execErr != nil {
		return Info{}, fmt.Errorf("failed to run %s: %w", CommandName, execErr)
	}

	if !result.Successful() {
		return Info{}, fmt.Errorf("failed to run %s: %w", CommandName, result.Err)
	}

	return parseInfoOutput(result.Output)
}

func parseInfoOutput(lines []string) (Info, error) {
	if len(lines) == 0 {
		return Info{}, fmt.Errorf("%w: empty", ErrUnexpectedOutput)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return Info{}, fmt.Errorf("%w: %q", ErrUnexpectedOutput, lines[0])
	}

	width, widthErr := strconv.Atoi(fields[0])
	height, heightErr := strconv.Atoi(fields[1])

	if widthErr != nil || heightErr != nil {
		return Info{}, fmt.Errorf("%w: %q", ErrUnexpectedOutput, lines[0])
	}

	format := ""
	if len(fields) > 2 {
		format = strings.ToLower(fields[2])
	}

	return Info{Format: format, Width: width, Height: height}, nil
}
