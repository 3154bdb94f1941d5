// Package app assembles the pipeline from configuration: stores, command-line service,
// validation, views, renditions, the post-commit queue and the session.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/picture-pipeline/internal/blobstore/fsstore"
	"github.com/book-expert/picture-pipeline/internal/blobstore/memstore"
	"github.com/book-expert/picture-pipeline/internal/blobstore/natsobj"
	"github.com/book-expert/picture-pipeline/internal/blobstore/s3store"
	"github.com/book-expert/picture-pipeline/internal/commandline"
	"github.com/book-expert/picture-pipeline/internal/config"
	"github.com/book-expert/picture-pipeline/internal/contrib"
	"github.com/book-expert/picture-pipeline/internal/document"
	"github.com/book-expert/picture-pipeline/internal/document/natskv"
	"github.com/book-expert/picture-pipeline/internal/document/pgstore"
	"github.com/book-expert/picture-pipeline/internal/imaging"
	"github.com/book-expert/picture-pipeline/internal/metadata"
	"github.com/book-expert/picture-pipeline/internal/natsbus"
	"github.com/book-expert/picture-pipeline/internal/operation"
	"github.com/book-expert/picture-pipeline/internal/pictureviews"
	"github.com/book-expert/picture-pipeline/internal/pipeline"
	"github.com/book-expert/picture-pipeline/internal/rendition"
	"github.com/book-expert/picture-pipeline/internal/session"
	"github.com/book-expert/picture-pipeline/internal/tempfile"
)

// Options override parts of the assembly, mostly for tests.
type Options struct {
	// Executor runs external tools; nil uses the host.
	Executor commandline.CommandExecutor
	// Contributions replaces the contributions loaded from configuration.
	Contributions *contrib.Contributions
}

// App holds the assembled components.
type App struct {
	Config       *config.Config
	Log          *logger.Logger
	Store        document.Store
	Blobs        document.BlobStore
	Commands     *commandline.Service
	Availability *commandline.AvailabilityCache
	Registry     *rendition.Registry
	Builder      *rendition.Builder
	Provider     rendition.Provider
	Validator    *metadata.Validator
	Operations   *operation.Service
	Pipeline     *pipeline.Pipeline
	Session      *session.Session
	// LocalQueue is set when post-commit bundles run in process.
	LocalQueue *session.LocalQueue
	Files      *tempfile.Tracker
	JetStream  jetstream.JetStream
	natsConn   *nats.Conn
	pgPool     *pgxpool.Pool
}

// New assembles the pipeline.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	app := &App{
		Config:       cfg,
		Log:          log,
		Store:        nil,
		Blobs:        nil,
		Commands:     nil,
		Availability: nil,
		Registry:     nil,
		Builder:      nil,
		Provider:     rendition.Provider{},
		Validator:    nil,
		Operations:   nil,
		Pipeline:     nil,
		Session:      nil,
		LocalQueue:   nil,
		Files:        tempfile.NewTracker(cfg.Paths.TempDir, tempfile.DefaultPrefix),
		JetStream:    nil,
		natsConn:     nil,
		pgPool:       nil,
	}

	buildErr := app.build(ctx, opts)
	if buildErr != nil {
		closeErr := app.Close()

		return nil, errors.Join(buildErr, closeErr)
	}

	return app, nil
}

func (app *App) build(ctx context.Context, opts Options) error {
	if app.needsNATS() {
		natsErr := app.connectNATS()
		if natsErr != nil {
			return natsErr
		}
	}

	blobsErr := app.openBlobs(ctx)
	if blobsErr != nil {
		return blobsErr
	}

	storeErr := app.openStore(ctx)
	if storeErr != nil {
		return storeErr
	}

	commandsErr := app.buildCommands(opts)
	if commandsErr != nil {
		return commandsErr
	}

	return app.buildPipeline(ctx)
}

func (app *App) needsNATS() bool {
	cfg := app.Config

	return cfg.Storage.Documents == config.BackendNATS ||
		cfg.Storage.Blobs == config.BackendNATS ||
		cfg.Renditions.Queue == config.QueueNATS
}

func (app *App) connectNATS() error {
	natsConnection, connErr := nats.Connect(app.Config.NATS.URL)
	if connErr != nil {
		return fmt.Errorf("failed to connect to NATS: %w", connErr)
	}

	app.natsConn = natsConnection
	app.Log.Info("Connected to NATS server at %s", natsConnection.ConnectedUrl())

	jetStream, jsErr := jetstream.New(natsConnection)
	if jsErr != nil {
		return fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	app.JetStream = jetStream

	return nil
}

func (app *App) openBlobs(ctx context.Context) error {
	cfg := app.Config

	switch cfg.Storage.Blobs {
	case config.BackendFS:
		store, fsErr := fsstore.New(cfg.Storage.BlobsDir)
		if fsErr != nil {
			return fmt.Errorf("failed to open blob directory: %w", fsErr)
		}

		app.Blobs = store
	case config.BackendS3:
		store, s3Err := s3store.New(ctx, s3store.Config{
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			Endpoint:        cfg.Storage.S3.Endpoint,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		})
		if s3Err != nil {
			return fmt.Errorf("failed to open S3 blob store: %w", s3Err)
		}

		app.Blobs = store
	case config.BackendNATS:
		store, objErr := natsobj.New(ctx, app.JetStream, cfg.NATS.BlobsBucket)
		if objErr != nil {
			return objErr
		}

		app.Blobs = store
	default:
		app.Blobs = memstore.New()
	}

	return nil
}

func (app *App) openStore(ctx context.Context) error {
	cfg := app.Config

	switch cfg.Storage.Documents {
	case config.BackendNATS:
		store, kvErr := natskv.New(ctx, app.JetStream, cfg.NATS.DocumentsBucket, app.Blobs)
		if kvErr != nil {
			return kvErr
		}

		app.Store = store
	case config.BackendPostgres:
		store, pool, pgErr := pgstore.Connect(ctx, cfg.Database.URL, app.Blobs)
		if pgErr != nil {
			return pgErr
		}

		app.Store = store
		app.pgPool = pool
	default:
		app.Store = document.NewMemoryStore()
	}

	return nil
}

func (app *App) buildCommands(opts Options) error {
	contributions := opts.Contributions
	if contributions == nil {
		loaded, loadErr := contrib.Load(app.Config.Commands.Contributions)
		if loadErr != nil {
			return loadErr
		}

		contributions = &loaded
	}

	if opts.Executor != nil {
		app.Commands = commandline.NewServiceWithExecutor(contributions.Commands, opts.Executor, app.Log)
	} else {
		app.Commands = commandline.NewService(contributions.Commands, app.Log)
	}

	ttl, ttlErr := app.Config.Renditions.TTL()
	if ttlErr != nil {
		return ttlErr
	}

	app.Availability = commandline.NewAvailabilityCache(app.Commands, commandline.RefreshPolicy{TTL: ttl})

	registry, registryErr := rendition.NewRegistry(contributions.Renditions)
	if registryErr != nil {
		return fmt.Errorf("failed to load rendition definitions: %w", registryErr)
	}

	app.Registry = registry

	return nil
}

func (app *App) buildPipeline(ctx context.Context) error {
	policy, policyErr := rendition.ParsePartialPolicy(app.Config.Renditions.PartialPolicy)
	if policyErr != nil {
		return policyErr
	}

	dimensions := imaging.NewInspector(app.Commands, app.Files)

	app.Validator = metadata.NewValidator(metadata.NewIdentifyReader(app.Commands, app.Files))
	app.Operations = operation.NewService(app.Validator, app.Log)
	app.Builder = rendition.NewBuilder(rendition.Dependencies{
		Registry:     app.Registry,
		Runner:       app.Commands,
		Availability: app.Availability,
		Files:        app.Files,
		Dimensions:   dimensions,
	}, policy, app.Log)

	queue, queueErr := app.postCommitQueue(ctx)
	if queueErr != nil {
		return queueErr
	}

	app.Pipeline = pipeline.New(app.Log)
	app.Session = session.New(app.Store, app.Pipeline, queue, app.Log)

	precomputer := pictureviews.NewPrecomputer(app.Commands, app.Availability, app.Files, dimensions, nil, app.Log)

	app.Pipeline.Register(pipeline.NewValidationStage(app.Validator),
		pipeline.EventAboutToCreate, pipeline.EventBeforeModification)
	app.Pipeline.Register(pipeline.NewPictureChangedStage(precomputer, app.Session), pipeline.EventPictureChanged)
	app.Pipeline.Register(pipeline.NewRelayStage(app.Session, pipeline.EventViewsGenerationDone),
		pipeline.EventUpdatePictureView)
	persister := rendition.NewPersister(app.Store, app.Session, app.Log)
	app.Pipeline.Register(pipeline.NewRenditionStage(app.Builder, persister, app.Log),
		pipeline.EventViewsGenerationDone)

	return nil
}

func (app *App) postCommitQueue(ctx context.Context) (session.PostCommitQueue, error) {
	if app.Config.Renditions.Queue != config.QueueNATS {
		app.LocalQueue = session.NewLocalQueue(app.HandleBundle, app.Log)

		return app.LocalQueue, nil
	}

	_, setupErr := natsbus.Setup(ctx, app.JetStream, app.BusConfig())
	if setupErr != nil {
		return nil, fmt.Errorf("failed to set up the post-commit stream: %w", setupErr)
	}

	return natsbus.NewPublisher(app.JetStream, app.Config.NATS.Subject), nil
}

// BusConfig returns the JetStream names of the post-commit bus.
func (app *App) BusConfig() natsbus.Config {
	return natsbus.Config{
		StreamName:   app.Config.NATS.StreamName,
		ConsumerName: app.Config.NATS.ConsumerName,
		Subject:      app.Config.NATS.Subject,
		MaxDeliver:   app.Config.NATS.MaxDeliver,
	}
}

// HandleBundle replays a committed bundle against the stored documents.
func (app *App) HandleBundle(ctx context.Context, bundle pipeline.Bundle) error {
	return app.Pipeline.HandleBundle(ctx, bundle, app.Store)
}

// Rebuilder returns a batch rebuilder saving through the session.
func (app *App) Rebuilder(opts *rendition.BatchOptions) *rendition.BatchRebuilder {
	if opts.Workers <= 0 {
		opts.Workers = app.Config.Renditions.Workers
	}

	return rendition.NewBatchRebuilder(app.Builder, app.Store, app.Session, opts, app.Log)
}

// Close drains local work, removes scratch files and closes connections.
func (app *App) Close() error {
	var errs []error

	if app.LocalQueue != nil {
		errs = append(errs, app.LocalQueue.Drain())
	}

	errs = append(errs, app.Files.RemoveAll())

	if app.pgPool != nil {
		app.pgPool.Close()
	}

	if app.natsConn != nil {
		app.natsConn.Close()
	}

	return errors.Join(errs...)
}
