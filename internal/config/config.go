package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/tier"
)

// minChunkSize is the smallest streaming chunk accepted for local delivery.
const minChunkSize = 256 << 10

// Config holds the main configuration for the application.
type Config struct {
	Server    Server                 `mapstructure:"server"`
	Database  Database               `mapstructure:"database"`
	Jobs      Jobs                   `mapstructure:"jobs"`
	Storage   Storage                `mapstructure:"storage"`
	CDN       CDN                    `mapstructure:"cdn"`
	Kafka     Kafka                  `mapstructure:"kafka"`
	Redis     Redis                  `mapstructure:"redis"`
	Retry     Retry                  `mapstructure:"retry"`
	Executor  Executor               `mapstructure:"executor"`
	Delivery  Delivery               `mapstructure:"delivery"`
	Retention Retention              `mapstructure:"retention"`
	Tiers     map[string]tier.Limits `mapstructure:"tiers"`
	Sentry    Sentry                 `mapstructure:"sentry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort        string        `mapstructure:"http_port"`        // HTTP port to listen on
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // Grace period for in-flight requests
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"` // Upper bound for one multipart request
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Jobs selects the job store.
type Jobs struct {
	Store string `mapstructure:"store"` // "postgres" or "memory"
}

// Storage holds configuration for the artifact storage backend.
type Storage struct {
	Driver     string `mapstructure:"driver"`   // "minio" or "local"
	BaseDir    string `mapstructure:"base_dir"` // Base directory for the local driver
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// CDN holds configuration for the S3-compatible replica bucket.
type CDN struct {
	Enabled       bool          `mapstructure:"enabled"`
	Endpoint      string        `mapstructure:"endpoint"`
	Region        string        `mapstructure:"region"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	Workers       int           `mapstructure:"workers"`
	Attempts      int           `mapstructure:"attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Redis holds configuration for the shared quota store.
type Redis struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Retry defines retry policy configuration for queue and storage calls.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Executor configures the transcoding worker pool.
type Executor struct {
	Workers        int           `mapstructure:"workers"`         // 0 means runtime.NumCPU()
	QueueSize      int           `mapstructure:"queue_size"`      // Buffered dispatch slots
	MaxRetries     int           `mapstructure:"max_retries"`     // Automatic retries for transient failures
	JobTimeout     time.Duration `mapstructure:"job_timeout"`     // Upper bound for one codec run
	RescanInterval time.Duration `mapstructure:"rescan_interval"` // How often stale queued jobs are re-dispatched
	StaleAfter     time.Duration `mapstructure:"stale_after"`     // Age after which a queued job counts as stale
	MaxPixels      int64         `mapstructure:"max_pixels"`      // Decoded image area ceiling
	VipsPath       string        `mapstructure:"vips_path"`       // vips binary for raw/vector decode
	WorkDir        string        `mapstructure:"work_dir"`        // Scratch space for codec temp files
}

// Delivery configures artifact streaming and batch archives.
type Delivery struct {
	ChunkSize        int      `mapstructure:"chunk_size"`
	ArchiveLevel     int      `mapstructure:"archive_level"`
	SearchPrefixes   []string `mapstructure:"search_prefixes"`
	SearchExtensions []string `mapstructure:"search_extensions"`
}

// Retention configures the sweep of finished jobs and batches.
type Retention struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Sentry configures error reporting. An empty DSN disables it.
type Sentry struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// PoolSize returns the effective number of executor workers.
func (e Executor) PoolSize() int {
	if e.Workers <= 0 {
		return runtime.NumCPU()
	}
	return e.Workers
}

// Default returns a configuration that runs fully in-process:
// memory job store, local storage, no Kafka, Redis, CDN or Sentry.
func Default() *Config {
	return &Config{
		Server: Server{
			HTTPPort:        "8080",
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  512 << 20,
		},
		Database: Database{
			Master:          DatabaseNode{Host: "localhost", Port: "5432", SSLMode: "disable"},
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Jobs:    Jobs{Store: "memory"},
		Storage: Storage{Driver: "local", BaseDir: "./data"},
		CDN:     CDN{Workers: 2, Attempts: 4, Backoff: 500 * time.Millisecond, Region: "auto"},
		Kafka:   Kafka{GroupID: "transcoder", Topic: "jobs.queued"},
		Redis:   Redis{Addr: "localhost:6379", KeyPrefix: "quota"},
		Retry:   Retry{Attempts: 3, Delay: 200 * time.Millisecond, Backoff: 2},
		Executor: Executor{
			QueueSize:      64,
			MaxRetries:     1,
			JobTimeout:     2 * time.Minute,
			RescanInterval: 30 * time.Second,
			StaleAfter:     time.Minute,
			MaxPixels:      100_000_000,
			VipsPath:       "vips",
		},
		Delivery: Delivery{
			ChunkSize:        minChunkSize,
			ArchiveLevel:     3,
			SearchPrefixes:   []string{"results", "outputs"},
			SearchExtensions: []string{"jpg", "jpeg", "png", "webp", "gif", "tif", "tiff"},
		},
		Retention: Retention{Window: 24 * time.Hour, SweepInterval: 15 * time.Minute},
		Tiers: map[string]tier.Limits{
			tier.Free: {MaxFileSize: 10 << 20, Hourly: 20, Daily: 100, Monthly: 1000},
			"pro":     {MaxFileSize: 200 << 20, Hourly: 500, Daily: 5000, Monthly: 100000},
		},
	}
}

// Validate checks invariants the rest of the service relies on.
func (c *Config) Validate() error {
	var errs []error

	if c.Executor.Workers < 0 {
		errs = append(errs, errors.New("executor.workers must not be negative"))
	}
	if c.Executor.QueueSize < 1 {
		errs = append(errs, errors.New("executor.queue_size must be at least 1"))
	}
	if c.Executor.MaxRetries < 0 || c.Executor.MaxRetries > 1 {
		errs = append(errs, errors.New("executor.max_retries must be 0 or 1"))
	}
	if c.Executor.MaxPixels <= 0 {
		errs = append(errs, errors.New("executor.max_pixels must be positive"))
	}
	if c.Delivery.ChunkSize < minChunkSize {
		errs = append(errs, fmt.Errorf("delivery.chunk_size must be at least %d", minChunkSize))
	}
	if c.Delivery.ArchiveLevel < 1 || c.Delivery.ArchiveLevel > 9 {
		errs = append(errs, errors.New("delivery.archive_level must be between 1 and 9"))
	}
	if c.Retention.Window <= 0 {
		errs = append(errs, errors.New("retention.window must be positive"))
	}

	switch c.Jobs.Store {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("jobs.store %q is not supported", c.Jobs.Store))
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.BaseDir == "" {
			errs = append(errs, errors.New("storage.base_dir is required for the local driver"))
		}
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.BucketName == "" {
			errs = append(errs, errors.New("storage.endpoint and storage.bucket_name are required for the minio driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}
	if c.CDN.Enabled && (c.CDN.Bucket == "" || c.CDN.PublicBaseURL == "") {
		errs = append(errs, errors.New("cdn.bucket and cdn.public_base_url are required when cdn is enabled"))
	}

	return errors.Join(errs...)
}

// mustBindEnv binds critical environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.access_key":   "MINIO_ACCESS_KEY",
		"storage.secret_key":   "MINIO_SECRET_KEY",
		"cdn.access_key":       "CDN_ACCESS_KEY",
		"cdn.secret_key":       "CDN_SECRET_KEY",
		"redis.password":       "REDIS_PASSWORD",
		"sentry.dsn":           "SENTRY_DSN",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// Load reads the YAML configuration at path on top of Default and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	mustBindEnv(v)

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
