package rendition

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/book-expert/logger"
	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"

	"github.com/book-expert/picture-pipeline/internal/document"
)

// Loader loads documents by ID.
type Loader interface {
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
}

// Saver persists a document through the host lifecycle.
type Saver interface {
	SaveDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
}

// BatchOptions holds the configurable parameters of a BatchRebuilder.
type BatchOptions struct {
	ProgressBarOutput io.Writer
	Workers           int
}

// BatchReport summarises a rebuild run.
type BatchReport struct {
	Failed  map[uuid.UUID]error
	Built   int
	Skipped int
}

// BatchRebuilder rebuilds the renditions of existing pictures on a worker pool.
type BatchRebuilder struct {
	builder   *Builder
	loader    Loader
	persister *Persister
	log       *logger.Logger
	config    BatchOptions
}

// NewBatchRebuilder creates a rebuilder, filling zero-value options with defaults.
func NewBatchRebuilder(
	builder *Builder,
	loader Loader,
	saver Saver,
	opts *BatchOptions,
	log *logger.Logger,
) *BatchRebuilder {
	applyDefaultBatchOptions(opts)

	return &BatchRebuilder{
		builder:   builder,
		loader:    loader,
		persister: NewPersister(loader, saver, log),
		log:       log,
		config:    *opts,
	}
}

func applyDefaultBatchOptions(opts *BatchOptions) {
	opts.Workers = defaultIntNonPositive(opts.Workers, runtime.NumCPU())
	if opts.ProgressBarOutput == nil {
		opts.ProgressBarOutput = os.Stdout
	}
}

func defaultIntNonPositive(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}

type batchOutcome struct {
	err     error
	id      uuid.UUID
	skipped bool
}

// Rebuild processes every ID and reports per-document outcomes. Failures do not stop
// the batch.
func (rebuilder *BatchRebuilder) Rebuild(ctx context.Context, ids []uuid.UUID) BatchReport {
	jobs := make(chan uuid.UUID, len(ids))
	outcomes := make(chan batchOutcome, len(ids))

	var waitGroup sync.WaitGroup

	for range rebuilder.config.Workers {
		waitGroup.Add(1)

		go rebuilder.worker(ctx, &waitGroup, jobs, outcomes)
	}

	progressBar := pb.New(len(ids)).
		SetTemplateString(`{{ bar . " " "━" "━" " " " "}} {{percent .}} {{rtime .}}`).
		SetWriter(rebuilder.config.ProgressBarOutput).
		Start()
	defer progressBar.Finish()

	for _, id := range ids {
		jobs <- id
	}

	close(jobs)

	go func() {
		waitGroup.Wait()
		close(outcomes)
	}()

	report := BatchReport{Failed: make(map[uuid.UUID]error), Built: 0, Skipped: 0}

	for outcome := range outcomes {
		progressBar.Increment()

		switch {
		case outcome.err != nil:
			report.Failed[outcome.id] = outcome.err
		case outcome.skipped:
			report.Skipped++
		default:
			report.Built++
		}
	}

	return report
}

func (rebuilder *BatchRebuilder) worker(
	ctx context.Context,
	waitGroup *sync.WaitGroup,
	jobs <-chan uuid.UUID,
	outcomes chan<- batchOutcome,
) {
	defer waitGroup.Done()

	for id := range jobs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcomes <- batchOutcome{err: ctxErr, id: id, skipped: false}

			continue
		}

		skipped, rebuildErr := rebuilder.rebuildOne(ctx, id)
		if rebuildErr != nil {
			rebuilder.log.Warn("Failed to rebuild renditions of %s: %v", id, rebuildErr)
		}

		outcomes <- batchOutcome{err: rebuildErr, id: id, skipped: skipped}
	}
}

func (rebuilder *BatchRebuilder) rebuildOne(ctx context.Context, id uuid.UUID) (bool, error) {
	doc, loadErr := rebuilder.loader.Get(ctx, id)
	if loadErr != nil {
		return false, loadErr
	}

	if doc.Type != document.TypePicture || doc.Immutable || doc.Content == nil {
		return true, nil
	}

	built, buildErr := rebuilder.builder.BuildAvailableRenditions(ctx, doc)
	if len(built) > 0 {
		saveErr := rebuilder.persister.SaveRenditions(ctx, doc, built)
		if saveErr != nil {
			return false, errors.Join(buildErr, saveErr)
		}
	}

	return false, buildErr
}
