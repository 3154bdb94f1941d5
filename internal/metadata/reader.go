package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/document"
)

const (
	// CommandName is the contributed command printing colorspace, resolution and units.
	CommandName = "imageMetadata"
	// ParamInputFilePath names the image path parameter of CommandName.
	ParamInputFilePath = "inputFilePath"

	outputSeparator = ";"
	outputFields    = 3
)

var (
	// ErrNoBlob is returned when there is nothing to read.
	ErrNoBlob = errors.New("no blob to read metadata from")
	// ErrUnexpectedOutput is returned when the tool output cannot be parsed.
	ErrUnexpectedOutput = errors.New("unexpected image metadata output")
)

// Metadata holds the raw values read from an image.
type Metadata struct {
	Colorspace string
	Resolution string
	Units      string
}

// Reader extracts metadata from a blob.
type Reader interface {
	Read(ctx context.Context, blob *document.Blob) (Metadata, error)
}

// CommandRunner runs contributed commands.
type CommandRunner interface {
	Exec(ctx context.Context, name string, params commandline.Parameters) (*commandline.Result, error)
}

// Materializer gives a local file path for a blob.
type Materializer interface {
	Materialize(ctx context.Context, blob *document.Blob) (string, error)
}

// IdentifyReader reads metadata by running the imageMetadata command, which prints
// "colorspace;resolution;units" on one line.
type IdentifyReader struct {
	runner CommandRunner
	files  Materializer
}

// NewIdentifyReader creates a reader running commands through runner.
func NewIdentifyReader(runner CommandRunner, files Materializer) *IdentifyReader {
	return &IdentifyReader{runner: runner, files: files}
}

// Read runs the metadata command on the blob.
func (reader *IdentifyReader) Read(ctx context.Context, blob *document.Blob) (Metadata, error) {
	if blob == nil {
		return Metadata{}, ErrNoBlob
	}

	path, pathErr := reader.files.Materialize(ctx, blob)
	if pathErr != nil {
		return Metadata{}, fmt.Errorf("failed to access image %s: %w", blob.Filename, pathErr)
	}

	result, execErr := reader.runner.Exec(ctx, CommandName,
		commandline.NewParameters().Set(ParamInputFilePath, path))
	if execErr != nil {
		return Metadata{}, fmt.Errorf("failed to read image metadata: %w", execErr)
	}

	if !result.Successful() {
		return Metadata{}, fmt.Errorf("failed to read image metadata: %w", result.Err)
	}

	return parseIdentifyOutput(result.Output)
}

func parseIdentifyOutput(lines []string) (Metadata, error) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, outputSeparator)
		if len(fields) != outputFields {
			return Metadata{}, fmt.Errorf("%w: %q", ErrUnexpectedOutput, line)
		}

		return Metadata{
			Colorspace: strings.TrimSpace(fields[0]),
			Resolution: strings.TrimSpace(fields[1]),
			Units:      strings.TrimSpace(fields[2]),
		}, nil
	}

	return Metadata{}, fmt.Errorf("%w: empty", ErrUnexpectedOutput)
}
