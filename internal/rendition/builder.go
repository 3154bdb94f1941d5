package rendition

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/imaging"
)

// ErrCommandFailed is returned when a rendition command cannot run or exits non-zero.
var ErrCommandFailed = errors.New("failed to execute the command")

// ErrInvalidPolicy is returned by ParsePartialPolicy for unknown values.
var ErrInvalidPolicy = errors.New("invalid partial rendition policy")

// PartialPolicy decides what happens to renditions already stored on a document when a
// later definition fails.
type PartialPolicy string

const (
	// PolicyKeep leaves the views built before the failure on the document.
	PolicyKeep PartialPolicy = "keep"
	// PolicyRollback restores the views the document had before the build.
	PolicyRollback PartialPolicy = "rollback"
)

// ParsePartialPolicy parses a configured policy; empty means PolicyKeep.
func ParsePartialPolicy(value string) (PartialPolicy, error) {
	switch PartialPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyRollback:
		return PolicyRollback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, value)
	}
}

// CommandRunner runs contributed commands.
type CommandRunner interface {
	Exec(ctx context.Context, name string, params commandline.Parameters) (*commandline.Result, error)
}

// AvailabilityChecker reports whether a command can run.
type AvailabilityChecker interface {
	IsAvailable(name string) bool
}

// FileTracker hands out scratch files that outlive the build.
type FileTracker interface {
	Create(ext string) (string, error)
	Materialize(ctx context.Context, blob *document.Blob) (string, error)
}

// DimensionReader reads image dimensions.
type DimensionReader interface {
	Info(ctx context.Context, blob *document.Blob) (imaging.Info, error)
}

// Dependencies are the collaborators of a Builder. Dimensions may be nil.
type Dependencies struct {
	Registry     *Registry
	Runner       CommandRunner
	Availability AvailabilityChecker
	Files        FileTracker
	Dimensions   DimensionReader
}

// Builder runs the rendition commands for a document.
type Builder struct {
	deps   Dependencies
	log    *logger.Logger
	policy PartialPolicy
}

// NewBuilder creates a builder. An empty policy means PolicyKeep.
func NewBuilder(deps Dependencies, policy PartialPolicy, log *logger.Logger) *Builder {
	if policy == "" {
		policy = PolicyKeep
	}

	return &Builder{deps: deps, log: log, policy: policy}
}

// Policy returns the partial-failure policy in use.
func (builder *Builder) Policy() PartialPolicy {
	return builder.policy
}

// BuildAvailableRenditions runs every available definition of the stored-picture
// provider against the document main binary and stores each output as a view. It does
// not persist the document. Unavailable commands are skipped; any other failure stops
// the build and is returned. On failure the returned views are those the policy leaves
// on the document: the ones built before the failure under PolicyKeep, none under
// PolicyRollback.
func (builder *Builder) BuildAvailableRenditions(
	ctx context.Context,
	doc *document.Document,
) ([]document.View, error) {
	if doc.Content == nil {
		builder.log.Warn("Document %s has no binary, no rendition to build", doc.ID)

		return nil, nil
	}

	snapshot := slices.Clone(doc.Views)

	built, buildErr := builder.buildAll(ctx, doc)
	if buildErr != nil {
		if builder.policy == PolicyRollback {
			doc.SetViews(snapshot)

			return nil, buildErr
		}

		return built, buildErr
	}

	return built, nil
}

func (builder *Builder) buildAll(ctx context.Context, doc *document.Document) ([]document.View, error) {
	var (
		built      []document.View
		sourcePath string
	)

	for _, definition := range builder.deps.Registry.ForProvider(ProviderName) {
		if !builder.deps.Availability.IsAvailable(definition.Name) {
			builder.log.Warn("Command %s is not available, rendition skipped for %s",
				definition.Name, doc.ID)

			continue
		}

		if sourcePath == "" {
			path, pathErr := builder.deps.Files.Materialize(ctx, doc.Content)
			if pathErr != nil {
				return built, fmt.Errorf("failed to access binary of %s: %w", doc.ID, pathErr)
			}

			sourcePath = path
		}

		view, viewErr := builder.buildOne(ctx, doc, definition, sourcePath)
		if viewErr != nil {
			return built, viewErr
		}

		doc.PutView(view)
		built = append(built, view)
		builder.log.Info("Built rendition %s for %s", definition.Name, doc.ID)
	}

	return built, nil
}

func (builder *Builder) buildOne(
	ctx context.Context,
	doc *document.Document,
	definition Definition,
	sourcePath string,
) (document.View, error) {
	ext, params, paramsErr := renditionParams(definition.Name, doc)
	if paramsErr != nil {
		return document.View{}, paramsErr
	}

	targetPath, createErr := builder.deps.Files.Create(ext)
	if createErr != nil {
		return document.View{}, createErr
	}

	params.
		Set(commandline.ParamSourceFilePath, sourcePath).
		Set(commandline.ParamTargetFilePath, targetPath)

	result, execErr := builder.deps.Runner.Exec(ctx, definition.Name, params)
	if execErr != nil {
		return document.View{}, fmt.Errorf("%w %s: %w", ErrCommandFailed, definition.Name, execErr)
	}

	if !result.Successful() {
		return document.View{}, fmt.Errorf("%w %s: %w", ErrCommandFailed, definition.Name, result.Err)
	}

	blob, blobErr := document.NewFileBlob(targetPath, doc.Content.Filename+ext, definition.ContentType)
	if blobErr != nil {
		return document.View{}, fmt.Errorf("%w %s: %w", ErrCommandFailed, definition.Name, blobErr)
	}

	view := document.View{
		Content:     blob,
		Title:       definition.Name,
		Filename:    blob.Filename,
		Description: "Pre-built Rendition for " + definition.Name,
		Tag:         definition.Name,
		Width:       0,
		Height:      0,
	}

	if builder.deps.Dimensions != nil {
		info, infoErr := builder.deps.Dimensions.Info(ctx, blob)
		if infoErr != nil {
			builder.log.Warn("Could not read dimensions of rendition %s: %v", definition.Name, infoErr)
		} else {
			view.Width = info.Width
			view.Height = info.Height
		}
	}

	return view, nil
}
