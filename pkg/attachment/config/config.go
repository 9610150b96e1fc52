package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-attachment/pkg/attachment"
	"github.com/tendant/simple-attachment/pkg/attachment/metrics"
	"github.com/tendant/simple-attachment/pkg/attachment/objectstore"
	"github.com/tendant/simple-attachment/pkg/attachment/repo/cache"
	"github.com/tendant/simple-attachment/pkg/attachment/repo/memory"
	repopg "github.com/tendant/simple-attachment/pkg/attachment/repo/postgres"
	fsstorage "github.com/tendant/simple-attachment/pkg/attachment/storage/fs"
	memorystorage "github.com/tendant/simple-attachment/pkg/attachment/storage/memory"
	miniostorage "github.com/tendant/simple-attachment/pkg/attachment/storage/minio"
	s3storage "github.com/tendant/simple-attachment/pkg/attachment/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                 "8080",
		Environment:          "development",
		DatabaseType:         "memory",
		DBSchema:             "attachment",
		Storage:              StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}},
		InlineThresholdBytes: attachment.DefaultInlineThreshold,
		PreStoreConcurrency:  4,
		FinalizeWorkers:      4,
		CacheSize:            1024,
		CacheTTL:             30 * time.Second,
		EnableMetrics:        true,
	}
}

// ServerConfig represents configuration for the attachment service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: attachment)
	AutoMigrate  bool

	// Object-store tier
	Storage StorageBackendConfig

	// Engine tuning
	InlineThresholdBytes int64
	PreStoreConcurrency  int
	FinalizeWorkers      int

	// Revision cache; CacheTTL of zero disables it
	CacheSize int
	CacheTTL  time.Duration

	EnableMetrics bool
}

// StorageBackendConfig represents configuration for the object-store backend
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3", "minio"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case "memory", "fs", "s3", "minio":
	default:
		return fmt.Errorf("unsupported storage backend type: %q", c.Storage.Type)
	}

	if c.InlineThresholdBytes <= 0 {
		return fmt.Errorf("inline threshold must be positive, got %d", c.InlineThresholdBytes)
	}
	if c.PreStoreConcurrency <= 0 {
		return fmt.Errorf("pre-store concurrency must be positive, got %d", c.PreStoreConcurrency)
	}
	if c.FinalizeWorkers <= 0 {
		return fmt.Errorf("finalize workers must be positive, got %d", c.FinalizeWorkers)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative, got %s", c.CacheTTL)
	}

	return nil
}

// DocumentStore is the entity store the runtime exposes to the HTTP layer.
type DocumentStore interface {
	attachment.EntityStore[*attachment.Document]
	Create(ctx context.Context, doc *attachment.Document) (*attachment.Document, error)
	Delete(ctx context.Context, id uuid.UUID) (*attachment.Document, error)
}

// Runtime bundles the components built from a ServerConfig.
type Runtime struct {
	Service   attachment.Service[*attachment.Document]
	Documents DocumentStore
	Objects   *objectstore.Client[*attachment.Document]
	Scheduler *objectstore.WorkerScheduler

	closers []func()
}

// Close drains the finalize workers and releases connections.
func (r *Runtime) Close() error {
	var err error
	if r.Scheduler != nil {
		err = r.Scheduler.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	return err
}

// BuildService wires the attachment engine described by the configuration
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	docs, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if c.CacheTTL > 0 {
		cached, err := cache.NewDocumentStore(docs, cache.Config{MaxSize: c.CacheSize, TTL: c.CacheTTL})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build revision cache: %w", err)
		}
		docs = cached
	}
	rt.Documents = docs

	blobs, err := c.buildStorageBackend()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}

	var observer attachment.Observer = attachment.NewNoopObserver()
	if c.EnableMetrics {
		prom, err := metrics.NewPrometheusObserver("attachment", reg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		observer = prom
	}

	rt.Scheduler = objectstore.NewWorkerScheduler(c.FinalizeWorkers, logger)
	rt.Objects, err = objectstore.NewDocumentClient(blobs,
		objectstore.WithScheduler(rt.Scheduler),
		objectstore.WithClientLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Service, err = attachment.NewDocumentService(docs, rt.Objects,
		attachment.WithInlineThreshold(c.InlineThresholdBytes),
		attachment.WithPreStoreConcurrency(c.PreStoreConcurrency),
		attachment.WithLogger(logger),
		attachment.WithObserver(observer),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// buildRepository creates a document store based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (DocumentStore, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		repo := repopg.NewWithPool(pool, repopg.WithSchema(c.DBSchema))
		if c.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
func PingPostgres(databaseURL, schema string) error {
	pool, err := newPool(context.Background(), databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend() (objectstore.BlobStore, error) {
	config := c.Storage.Config
	switch c.Storage.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config, "base_dir", "./data/attachments"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config, "region", "us-east-1"),
			Bucket:                 getString(config, "bucket", ""),
			Prefix:                 getString(config, "prefix", ""),
			AccessKeyID:            getString(config, "access_key_id", ""),
			SecretAccessKey:        getString(config, "secret_access_key", ""),
			Endpoint:               getString(config, "endpoint", ""),
			UsePathStyle:           getBool(config, "use_path_style", false),
			EnableSSE:              getBool(config, "enable_sse", false),
			SSEAlgorithm:           getString(config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config, "create_bucket_if_not_exist", false),
		})

	case "minio":
		return miniostorage.New(miniostorage.Config{
			Endpoint:        getString(config, "endpoint", ""),
			AccessKeyID:     getString(config, "access_key_id", ""),
			SecretAccessKey: getString(config, "secret_access_key", ""),
			Bucket:          getString(config, "bucket", ""),
			Prefix:          getString(config, "prefix", ""),
			Region:          getString(config, "region", ""),
			UseSSL:          getBool(config, "use_ssl", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
