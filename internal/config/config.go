// Package config loads the pipeline configuration from TOML, locally or from a URL,
// and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/book-expert/picture-pipeline/internal/rendition"
)

// Backend names accepted by the storage section.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
	BackendFS       = "fs"
	BackendS3       = "s3"

	QueueLocal = "local"
	QueueNATS  = "nats"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultDocumentsBucket = "picture-documents"
	defaultBlobsBucket     = "picture-blobs"
	defaultLogsDir         = "logs"
)

// ErrInvalidConfig is returned when settings are missing or inconsistent.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the whole pipeline configuration.
type Config struct {
	Paths      PathsConfig      `toml:"paths"`
	NATS       NATSConfig       `toml:"nats"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	HTTP       HTTPConfig       `toml:"http"`
	Renditions RenditionsConfig `toml:"renditions"`
	Commands   CommandsConfig   `toml:"commands"`
}

// PathsConfig holds local directories.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir" env:"PICTURE_LOGS_DIR"`
	// TempDir receives rendition outputs; empty means the system temp dir.
	TempDir string `toml:"temp_dir" env:"PICTURE_TEMP_DIR"`
}

// NATSConfig holds the JetStream settings of the bus and the NATS-backed stores.
type NATSConfig struct {
	URL             string `toml:"url"              env:"PICTURE_NATS_URL"`
	StreamName      string `toml:"stream_name"      env:"PICTURE_NATS_STREAM"`
	ConsumerName    string `toml:"consumer_name"    env:"PICTURE_NATS_CONSUMER"`
	Subject         string `toml:"subject"          env:"PICTURE_NATS_SUBJECT"`
	DocumentsBucket string `toml:"documents_bucket" env:"PICTURE_NATS_DOCUMENTS_BUCKET"`
	BlobsBucket     string `toml:"blobs_bucket"     env:"PICTURE_NATS_BLOBS_BUCKET"`
	MaxDeliver      int    `toml:"max_deliver"      env:"PICTURE_NATS_MAX_DELIVER"`
}

// StorageConfig selects the document and blob backends.
type StorageConfig struct {
	Documents string   `toml:"documents" env:"PICTURE_DOCUMENT_STORE"`
	Blobs     string   `toml:"blobs"     env:"PICTURE_BLOB_STORE"`
	BlobsDir  string   `toml:"blobs_dir" env:"PICTURE_BLOBS_DIR"`
	S3        S3Config `toml:"s3"`
}

// S3Config holds the S3 blob store settings.
type S3Config struct {
	Region          string `toml:"region"            env:"PICTURE_S3_REGION"`
	Bucket          string `toml:"bucket"            env:"PICTURE_S3_BUCKET"`
	AccessKeyID     string `toml:"access_key_id"     env:"PICTURE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key" env:"PICTURE_S3_SECRET_ACCESS_KEY"`
	Endpoint        string `toml:"endpoint"          env:"PICTURE_S3_ENDPOINT"`
	UsePathStyle    bool   `toml:"use_path_style"    env:"PICTURE_S3_USE_PATH_STYLE"`
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	URL string `toml:"url" env:"PICTURE_DATABASE_URL"`
}

// HTTPConfig holds the API listener.
type HTTPConfig struct {
	Addr string `toml:"addr" env:"PICTURE_HTTP_ADDR"`
}

// RenditionsConfig tunes the rendition builder.
type RenditionsConfig struct {
	// AvailabilityTTL is how long a command availability answer is trusted, as a Go
	// duration. "0" or empty never refreshes.
	AvailabilityTTL string `toml:"availability_ttl" env:"PICTURE_AVAILABILITY_TTL"`
	PartialPolicy   string `toml:"partial_policy"   env:"PICTURE_PARTIAL_POLICY"`
	// Queue is where post-commit bundles go: local or nats.
	Queue   string `toml:"queue"   env:"PICTURE_POST_COMMIT_QUEUE"`
	Workers int    `toml:"workers" env:"PICTURE_REBUILD_WORKERS"`
}

// CommandsConfig points at the contributions file.
type CommandsConfig struct {
	Contributions string `toml:"contributions" env:"PICTURE_CONTRIBUTIONS"`
}

// TTL parses AvailabilityTTL.
func (renditions RenditionsConfig) TTL() (time.Duration, error) {
	value := strings.TrimSpace(renditions.AvailabilityTTL)
	if value == "" || value == "0" {
		return 0, nil
	}

	ttl, parseErr := time.ParseDuration(value)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: availability_ttl: %w", ErrInvalidConfig, parseErr)
	}

	if ttl < 0 {
		return 0, fmt.Errorf("%w: availability_ttl must not be negative", ErrInvalidConfig)
	}

	return ttl, nil
}

// Load reads the configuration from source: an http(s) URL, a TOML file path, or, when
// empty, the project.toml found by walking up from the working directory. Environment
// variables then override file values.
func Load(source string, log *logger.Logger) (*Config, error) {
	var cfg Config

	loadErr := loadSource(source, &cfg, log)
	if loadErr != nil {
		return nil, loadErr
	}

	envErr := cleanenv.UpdateEnv(&cfg)
	if envErr != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", envErr)
	}

	applyDefaults(&cfg)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

func loadSource(source string, cfg *Config, log *logger.Logger) error {
	switch {
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		loadErr := configurator.LoadFromURL(source, cfg, log)
		if loadErr != nil {
			return fmt.Errorf("failed to load configuration from URL %s: %w", source, loadErr)
		}

		log.Info("Configuration loaded from %s", source)

		return nil
	case source != "":
		return decodeFile(source, cfg, log)
	}

	_, configPath, findErr := configurator.FindProjectRoot(".")
	if findErr != nil {
		log.Warn("No project configuration found, using defaults: %v", findErr)

		return nil
	}

	return decodeFile(configPath, cfg, log)
}

func decodeFile(path string, cfg *Config, log *logger.Logger) error {
	_, decodeErr := toml.DecodeFile(path, cfg)
	if decodeErr != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, decodeErr)
	}

	log.Info("Configuration loaded from %s", path)

	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Paths.BaseLogsDir = defaultString(cfg.Paths.BaseLogsDir, defaultLogsDir)
	cfg.Storage.Documents = defaultString(strings.ToLower(cfg.Storage.Documents), BackendMemory)
	cfg.Storage.Blobs = defaultString(strings.ToLower(cfg.Storage.Blobs), BackendMemory)
	cfg.NATS.DocumentsBucket = defaultString(cfg.NATS.DocumentsBucket, defaultDocumentsBucket)
	cfg.NATS.BlobsBucket = defaultString(cfg.NATS.BlobsBucket, defaultBlobsBucket)
	cfg.HTTP.Addr = defaultString(cfg.HTTP.Addr, defaultHTTPAddr)
	cfg.Renditions.Queue = defaultString(strings.ToLower(cfg.Renditions.Queue), QueueLocal)
}

func defaultString(value, def string) string {
	if value == "" {
		return def
	}

	return value
}

// Validate checks that the selected backends have the settings they need.
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Storage.Documents {
	case BackendMemory:
	case BackendNATS:
		errs = append(errs, requireSetting(cfg.NATS.URL, "nats.url"))
	case BackendPostgres:
		errs = append(errs, requireSetting(cfg.Database.URL, "database.url"))
	default:
		errs = append(errs, fmt.Errorf("%w: unknown document store %q", ErrInvalidConfig, cfg.Storage.Documents))
	}

	switch cfg.Storage.Blobs {
	case BackendMemory:
	case BackendFS:
		errs = append(errs, requireSetting(cfg.Storage.BlobsDir, "storage.blobs_dir"))
	case BackendS3:
		errs = append(errs, requireSetting(cfg.Storage.S3.Bucket, "storage.s3.bucket"))
	case BackendNATS:
		errs = append(errs, requireSetting(cfg.NATS.URL, "nats.url"))
	default:
		errs = append(errs, fmt.Errorf("%w: unknown blob store %q", ErrInvalidConfig, cfg.Storage.Blobs))
	}

	switch cfg.Renditions.Queue {
	case QueueLocal:
	case QueueNATS:
		errs = append(errs, requireSetting(cfg.NATS.URL, "nats.url"))
	default:
		errs = append(errs, fmt.Errorf("%w: unknown post-commit queue %q", ErrInvalidConfig, cfg.Renditions.Queue))
	}

	_, policyErr := rendition.ParsePartialPolicy(cfg.Renditions.PartialPolicy)
	if policyErr != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, policyErr))
	}

	_, ttlErr := cfg.Renditions.TTL()
	errs = append(errs, ttlErr)

	return errors.Join(errs...)
}

func requireSetting(value, key string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, key)
	}

	return nil
}
