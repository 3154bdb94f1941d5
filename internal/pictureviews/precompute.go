// Package pictureviews computes the built-in picture views (Thumbnail, Small, Medium,
// OriginalJpeg and Original) every picture carries.
package pictureviews

import (
	"context"
	"fmt"
	"strconv"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/imaging"
)

const (
	// CommandName is the contributed command resizing an image to a geometry.
	CommandName = "pictureResize"
	// ParamGeometry names the ImageMagick geometry parameter of CommandName.
	ParamGeometry = "geometry"

	// TitleOriginal is the view holding the main binary itself.
	TitleOriginal = "Original"

	extJPEG  = ".jpg"
	mimeJPEG = "image/jpeg"
)

// Template describes one resized view. A zero MaxSize keeps the original size.
type Template struct {
	Title       string
	Tag         string
	Description string
	MaxSize     int
}

// DefaultTemplates are the resized views computed for every picture.
var DefaultTemplates = []Template{
	{Title: "Thumbnail", Tag: "thumbnail", Description: "Thumbnail size", MaxSize: 100},
	{Title: "Small", Tag: "small", Description: "Small size", MaxSize: 280},
	{Title: "Medium", Tag: "medium", Description: "Medium size", MaxSize: 1000},
	{Title: "OriginalJpeg", Tag: "originalJpeg", Description: "Original jpeg image", MaxSize: 0},
}

// CommandRunner runs contributed commands.
type CommandRunner interface {
	Exec(ctx context.Context, name string, params commandline.Parameters) (*commandline.Result, error)
}

// AvailabilityChecker reports whether a command can run.
type AvailabilityChecker interface {
	IsAvailable(name string) bool
}

// FileTracker hands out scratch files.
type FileTracker interface {
	Create(ext string) (string, error)
	Materialize(ctx context.Context, blob *document.Blob) (string, error)
}

// DimensionReader reads image dimensions.
type DimensionReader interface {
	Info(ctx context.Context, blob *document.Blob) (imaging.Info, error)
}

// Precomputer rebuilds the built-in views of a picture.
type Precomputer struct {
	runner       CommandRunner
	availability AvailabilityChecker
	files        FileTracker
	dimensions   DimensionReader
	log          *logger.Logger
	templates    []Template
}

// NewPrecomputer creates a precomputer using DefaultTemplates when templates is empty.
func NewPrecomputer(
	runner CommandRunner,
	availability AvailabilityChecker,
	files FileTracker,
	dimensions DimensionReader,
	templates []Template,
	log *logger.Logger,
) *Precomputer {
	if len(templates) == 0 {
		templates = DefaultTemplates
	}

	return &Precomputer{
		runner:       runner,
		availability: availability,
		files:        files,
		dimensions:   dimensions,
		log:          log,
		templates:    templates,
	}
}

// Compute replaces the document views with freshly computed built-in views. Views that
// cannot be produced are skipped with a warning; the Original view is always present
// when the document has a binary.
func (precomputer *Precomputer) Compute(ctx context.Context, doc *document.Document) error {
	if doc.Content == nil {
		doc.SetViews(nil)

		return nil
	}

	views := make([]document.View, 0, len(precomputer.templates)+1)

	if precomputer.availability.IsAvailable(CommandName) {
		sourcePath, pathErr := precomputer.files.Materialize(ctx, doc.Content)
		if pathErr != nil {
			return fmt.Errorf("failed to access binary of %s: %w", doc.ID, pathErr)
		}

		for _, template := range precomputer.templates {
			view, viewErr := precomputer.resize(ctx, doc, template, sourcePath)
			if viewErr != nil {
				precomputer.log.Warn("Skipping %s view of %s: %v", template.Title, doc.ID, viewErr)

				continue
			}

			views = append(views, view)
		}
	} else {
		precomputer.log.Warn("Command %s is not available, only the %s view is kept for %s",
			CommandName, TitleOriginal, doc.ID)
	}

	original := document.View{
		Content:     doc.Content,
		Title:       TitleOriginal,
		Filename:    doc.Content.Filename,
		Description: "Original image",
		Tag:         "original",
		Width:       0,
		Height:      0,
	}
	precomputer.fillDimensions(ctx, &original)

	doc.SetViews(append(views, original))

	return nil
}

func (precomputer *Precomputer) resize(
	ctx context.Context,
	doc *document.Document,
	template Template,
	sourcePath string,
) (document.View, error) {
	targetPath, createErr := precomputer.files.Create(extJPEG)
	if createErr != nil {
		return document.View{}, createErr
	}

	params := commandline.NewParameters().
		Set(commandline.ParamSourceFilePath, sourcePath).
		Set(commandline.ParamTargetFilePath, targetPath).
		Set(ParamGeometry, geometry(template.MaxSize))

	result, execErr := precomputer.runner.Exec(ctx, CommandName, params)
	if execErr != nil {
		return document.View{}, execErr
	}

	if !result.Successful() {
		return document.View{}, result.Err
	}

	filename := template.Title + "_" + doc.Content.Filename + extJPEG

	blob, blobErr := document.NewFileBlob(targetPath, filename, mimeJPEG)
	if blobErr != nil {
		return document.View{}, blobErr
	}

	view := document.View{
		Content:     blob,
		Title:       template.Title,
		Filename:    filename,
		Description: template.Description,
		Tag:         template.Tag,
		Width:       0,
		Height:      0,
	}
	precomputer.fillDimensions(ctx, &view)

	return view, nil
}

func (precomputer *Precomputer) fillDimensions(ctx context.Context, view *document.View) {
	if precomputer.dimensions == nil {
		return
	}

	info, infoErr := precomputer.dimensions.Info(ctx, view.Content)
	if infoErr != nil {
		precomputer.log.Warn("Could not read dimensions of view %s: %v", view.Title, infoErr)

		return
	}

	view.Width = info.Width
	view.Height = info.Height
}

// geometry shrinks to fit a maxSize box and never enlarges; zero keeps the size.
func geometry(maxSize int) string {
	if maxSize <= 0 {
		return "100%"
	}

	size := strconv.Itoa(maxSize)

	return size + "x" + size + ">"
}
