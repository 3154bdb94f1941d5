// Package metadata reads image metadata and checks that pictures carry the values the
// downstream workflow depends on: horizontal and vertical resolution and a colorspace.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// Names of the values a valid picture must carry, in check order.
const (
	MissingXResolution = "X-Resolution"
	MissingYResolution = "Y-Resolution"
	MissingColorspace  = "Colorspace"
)

// Report is the structured outcome of a metadata check.
type Report struct {
	Colorspace string
	Missing    []string
	DPI        DPI
}

// Valid reports whether nothing is missing.
func (report Report) Valid() bool {
	return len(report.Missing) == 0
}

// Message renders the user-facing validation message; empty when valid.
func (report Report) Message() string {
	switch count := len(report.Missing); count {
	case 0:
		return ""
	case 1:
		return "This image has a missing value in its metadata: " + report.Missing[0]
	default:
		return fmt.Sprintf("This image has %d missing values in its metadata: %s",
			count, strings.Join(report.Missing, ", "))
	}
}

// Validator checks picture metadata read through a Reader.
type Validator struct {
	reader Reader
}

// NewValidator creates a validator.
func NewValidator(reader Reader) *Validator {
	return &Validator{reader: reader}
}

// Inspect reads the blob metadata and lists the missing values.
func (validator *Validator) Inspect(ctx context.Context, blob *document.Blob) (Report, error) {
	meta, readErr := validator.reader.Read(ctx, blob)
	if readErr != nil {
		return Report{}, readErr
	}

	dpi, dpiErr := ParseDPI(meta.Resolution, meta.Units)
	if dpiErr != nil {
		return Report{}, dpiErr
	}

	report := Report{Colorspace: meta.Colorspace, Missing: nil, DPI: dpi}

	if dpi.X == 0 {
		report.Missing = append(report.Missing, MissingXResolution)
	}

	if dpi.Y == 0 {
		report.Missing = append(report.Missing, MissingYResolution)
	}

	if meta.Colorspace == "" {
		report.Missing = append(report.Missing, MissingColorspace)
	}

	return report, nil
}

// Validate returns the validation message for the blob: empty when valid, the list of
// missing values otherwise. A read or parse failure yields the failure text, so a
// non-empty result is never a guaranteed validation failure.
func (validator *Validator) Validate(ctx context.Context, blob *document.Blob) string {
	report, inspectErr := validator.Inspect(ctx, blob)
	if inspectErr != nil {
		return inspectErr.Error()
	}

	return report.Message()
}
