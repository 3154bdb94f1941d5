package rendition

import (
	"errors"
	"fmt"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/document"
)

// Rendition names the builder knows how to parameterise.
const (
	NameJPEG200x200     = "jpeg200x200"
	NameJPEGWatermarked = "jpegWatermarked"
	NameImageAsPDF      = "imageAsPDF"
)

const (
	extJPEG = ".jpeg"
	extPDF  = ".pdf"

	watermarkDateLayout = "2006-01-02"
)

var (
	// ErrUnhandledRendition is returned for definitions with no parameter builder.
	ErrUnhandledRendition = errors.New("rendition not handled in the code")
	// ErrMissingCreated is returned when a watermark needs a creation date the
	// document does not have.
	ErrMissingCreated = errors.New("document has no creation date")
)

// renditionParams returns the target extension and the rendition-specific parameters.
func renditionParams(name string, doc *document.Document) (string, commandline.Parameters, error) {
	params := commandline.NewParameters()

	switch name {
	case NameJPEG200x200:
		return extJPEG, params, nil
	case NameJPEGWatermarked:
		if doc.Created.IsZero() {
			return "", nil, fmt.Errorf("%w: %s", ErrMissingCreated, doc.ID)
		}

		params.
			Set("gravity", "SouthWest").
			Set("textColor", "red").
			Set("strokeColor", "black").
			Set("strokeWidth", "1").
			Set("textSize", "24").
			Set("textRotation", "0").
			Set("xOffset", "0").
			Set("yOffset", "0").
			Set("textValue", "Created "+doc.Created.Format(watermarkDateLayout))

		return extJPEG, params, nil
	case NameImageAsPDF:
		return extPDF, params, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnhandledRendition, name)
	}
}
