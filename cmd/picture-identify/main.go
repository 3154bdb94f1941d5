// Command picture-identify prints image metadata in the formats the pipeline's
// imageMetadata and imageInfo contributions expect, without ImageMagick.
//
// Usage: picture-identify [-info] <filepath>
//
//	default: <colorspace>;<x>x<y>;<units>
//	-info:   <width> <height> <FORMAT>
//
// Exit codes:
//
//	0 = metadata printed
//	2 = error (bad args, cannot open/parse image, etc.)
package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register the GIF decoder.
	_ "image/jpeg" // Register the JPEG decoder.
	_ "image/png"  // Register the PNG decoder.
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrTruncated        = errors.New("truncated image header")
)

const (
	exitCodeError = 2

	unitsPerInch       = "PixelsPerInch"
	unitsPerCentimeter = "PixelsPerCentimeter"
	unitsUndefined     = "Undefined"

	metersPerCentimeter = 100.0
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// arguments holds the parsed command-line arguments.
type arguments struct {
	filePath string
	info     bool
}

// density is the resolution stored in the image header.
type density struct {
	units string
	x     float64
	y     float64
}

func main() {
	args, err := parseArguments(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Argument error: %v\n", err)
		os.Exit(exitCodeError)
	}

	line, err := describe(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Image analysis error: %v\n", err)
		os.Exit(exitCodeError)
	}

	fmt.Println(line)
}

func parseArguments(args []string) (arguments, error) {
	switch {
	case len(args) == 2 && args[1] != "-info":
		return arguments{filePath: args[1], info: false}, nil
	case len(args) == 3 && args[1] == "-info":
		return arguments{filePath: args[2], info: true}, nil
	default:
		return arguments{}, fmt.Errorf("usage: <program> [-info] <filepath>: %w", ErrInvalidArguments)
	}
}

func describe(args arguments) (string, error) {
	data, err := os.ReadFile(args.filePath)
	if err != nil {
		return "", fmt.Errorf("could not read file %s: %w", args.filePath, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("could not decode image file %s: %w", args.filePath, err)
	}

	if args.info {
		return fmt.Sprintf("%d %d %s", cfg.Width, cfg.Height, strings.ToUpper(format)), nil
	}

	dens, err := readDensity(format, data)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s;%sx%s;%s",
		colorspace(cfg.ColorModel), formatValue(dens.x), formatValue(dens.y), dens.units), nil
}

func colorspace(model color.Model) string {
	switch model {
	case color.GrayModel, color.Gray16Model:
		return "Gray"
	case color.CMYKModel:
		return "CMYK"
	default:
		return "sRGB"
	}
}

func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func readDensity(format string, data []byte) (density, error) {
	switch format {
	case "png":
		return pngDensity(data)
	case "jpeg":
		return jpegDensity(data)
	default:
		return density{units: unitsUndefined, x: 0, y: 0}, nil
	}
}

// pngDensity reads the pHYs chunk; its unit is pixels per metre or unspecified.
func pngDensity(data []byte) (density, error) {
	reader := bufio.NewReader(bytes.NewReader(data[len(pngSignature):]))

	for {
		var header [8]byte

		_, err := io.ReadFull(reader, header[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return density{units: unitsUndefined, x: 0, y: 0}, nil
			}

			return density{}, fmt.Errorf("%w: %w", ErrTruncated, err)
		}

		length := binary.BigEndian.Uint32(header[:4])
		kind := string(header[4:8])

		if kind == "IDAT" || kind == "IEND" {
			return density{units: unitsUndefined, x: 0, y: 0}, nil
		}

		chunk := make([]byte, int(length)+4)

		_, err = io.ReadFull(reader, chunk)
		if err != nil {
			return density{}, fmt.Errorf("%w: %w", ErrTruncated, err)
		}

		if kind != "pHYs" || length < 9 {
			continue
		}

		x := float64(binary.BigEndian.Uint32(chunk[0:4]))
		y := float64(binary.BigEndian.Uint32(chunk[4:8]))

		if chunk[8] != 1 {
			return density{units: unitsUndefined, x: x, y: y}, nil
		}

		return density{units: unitsPerCentimeter, x: x / metersPerCentimeter, y: y / metersPerCentimeter}, nil
	}
}

// jpegDensity reads the JFIF APP0 segment.
func jpegDensity(data []byte) (density, error) {
	offset := 2

	for offset+4 <= len(data) {
		if data[offset] != 0xFF {
			return density{}, fmt.Errorf("%w: marker expected at %d", ErrTruncated, offset)
		}

		marker := data[offset+1]
		if marker == 0xDA || marker == 0xD9 {
			break
		}

		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		segment := data[offset+4 : min(offset+2+length, len(data))]

		if marker == 0xE0 && len(segment) >= 12 && string(segment[:5]) == "JFIF\x00" {
			x := float64(binary.BigEndian.Uint16(segment[8:10]))
			y := float64(binary.BigEndian.Uint16(segment[10:12]))

			switch segment[7] {
			case 1:
				return density{units: unitsPerInch, x: x, y: y}, nil
			case 2:
				return density{units: unitsPerCentimeter, x: x, y: y}, nil
			default:
				return density{units: unitsUndefined, x: 0, y: 0}, nil
			}
		}

		offset += 2 + length
	}

	return density{units: unitsUndefined, x: 0, y: 0}, nil
}
