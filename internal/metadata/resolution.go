package metadata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Resolution unit names reported by ImageMagick.
const (
	UnitsPixelsPerInch       = "PixelsPerInch"
	UnitsPixelsPerCentimeter = "PixelsPerCentimeter"
	UnitsUndefined           = "Undefined"

	centimetersPerInch = 2.54
)

// ErrInvalidResolution is returned for resolution values that are not numbers.
var ErrInvalidResolution = errors.New("invalid resolution")

// DPI is a horizontal and vertical resolution in dots per inch.
type DPI struct {
	X int
	Y int
}

// ParseDPI converts an ImageMagick resolution ("XxY" or a single value applying to both
// axes) and its units into whole dots per inch. An empty resolution yields zero DPI.
func ParseDPI(resolution, units string) (DPI, error) {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return DPI{X: 0, Y: 0}, nil
	}

	xPart, yPart, found := strings.Cut(resolution, "x")
	if !found {
		yPart = xPart
	}

	x, xErr := parseAxis(xPart)
	if xErr != nil {
		return DPI{}, fmt.Errorf("%w %q: %w", ErrInvalidResolution, resolution, xErr)
	}

	y, yErr := parseAxis(yPart)
	if yErr != nil {
		return DPI{}, fmt.Errorf("%w %q: %w", ErrInvalidResolution, resolution, yErr)
	}

	if strings.EqualFold(strings.TrimSpace(units), UnitsPixelsPerCentimeter) {
		x *= centimetersPerInch
		y *= centimetersPerInch
	}

	return DPI{X: int(math.Round(x)), Y: int(math.Round(y))}, nil
}

func parseAxis(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	parsed, parseErr := strconv.ParseFloat(value, 64)
	if parseErr != nil {
		return 0, parseErr
	}

	if parsed < 0 || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, fmt.Errorf("out of range value %s", value)
	}

	return parsed, nil
}
