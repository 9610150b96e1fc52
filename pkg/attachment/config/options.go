package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate creates the Postgres tables on startup
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithMemoryStorage keeps object-store blobs in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}
}

// WithFilesystemStorage stores object-store blobs under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageBackendConfig{Type: "fs", Config: map[string]interface{}{"base_dir": baseDir}}
		return nil
	}
}

// WithS3Storage stores object-store blobs in an S3 bucket
func WithS3Storage(bucket, region, prefix string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.Storage = StorageBackendConfig{
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
				"prefix": prefix,
			},
		}
		return nil
	}
}

// WithS3Credentials sets static credentials on the configured S3 backend
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 credentials require an s3 storage backend, have %q", c.Storage.Type)
		}
		if accessKeyID == "" || secretAccessKey == "" {
			return fmt.Errorf("both access key ID and secret access key are required")
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 backend at an S3-compatible service
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 endpoint requires an s3 storage backend, have %q", c.Storage.Type)
		}
		if endpoint == "" {
			return fmt.Errorf("S3 endpoint cannot be empty")
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithMinioStorage stores object-store blobs through the MinIO client
func WithMinioStorage(endpoint, bucket, accessKeyID, secretAccessKey string, useSSL bool) Option {
	return func(c *ServerConfig) error {
		if endpoint == "" || bucket == "" {
			return fmt.Errorf("minio endpoint and bucket are required")
		}
		c.Storage = StorageBackendConfig{
			Type: "minio",
			Config: map[string]interface{}{
				"endpoint":          endpoint,
				"bucket":            bucket,
				"access_key_id":     accessKeyID,
				"secret_access_key": secretAccessKey,
				"use_ssl":           useSSL,
			},
		}
		return nil
	}
}

// WithInlineThreshold sets the payload size at which attachments move to the object-store tier
func WithInlineThreshold(bytes int64) Option {
	return func(c *ServerConfig) error {
		if bytes <= 0 {
			return fmt.Errorf("inline threshold must be positive, got: %d", bytes)
		}
		c.InlineThresholdBytes = bytes
		return nil
	}
}

// WithConcurrency sets pre-store parallelism and the finalize worker count
func WithConcurrency(preStore, finalizeWorkers int) Option {
	return func(c *ServerConfig) error {
		if preStore <= 0 || finalizeWorkers <= 0 {
			return fmt.Errorf("concurrency must be positive, got pre-store=%d finalize=%d", preStore, finalizeWorkers)
		}
		c.PreStoreConcurrency = preStore
		c.FinalizeWorkers = finalizeWorkers
		return nil
	}
}

// WithCache configures the revision cache. A zero ttl disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if ttl < 0 {
			return fmt.Errorf("cache ttl cannot be negative, got: %s", ttl)
		}
		c.CacheSize = size
		c.CacheTTL = ttl
		return nil
	}
}

// WithMetrics toggles Prometheus metrics
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		return nil
	}
}
