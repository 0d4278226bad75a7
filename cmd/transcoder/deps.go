package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/config"
	"github.com/aliskhannn/image-transcoder/internal/model"
	"github.com/aliskhannn/image-transcoder/internal/quota"
	"github.com/aliskhannn/image-transcoder/internal/registry"
	batchrepo "github.com/aliskhannn/image-transcoder/internal/repository/batch"
	jobrepo "github.com/aliskhannn/image-transcoder/internal/repository/job"
	"github.com/aliskhannn/image-transcoder/internal/storage/cdn"
	"github.com/aliskhannn/image-transcoder/internal/storage/file"
	"github.com/aliskhannn/image-transcoder/internal/tier"
)

// jobStore is satisfied by both job repositories.
type jobStore interface {
	Create(ctx context.Context, jobs []model.Job) error
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Job, error)
	Claim(ctx context.Context, id uuid.UUID) (model.Job, error)
	Complete(ctx context.Context, id uuid.UUID, c jobrepo.Completion) error
	Fail(ctx context.Context, id uuid.UUID, kind model.ErrorKind, message string) error
	Requeue(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	CancelQueued(ctx context.Context, id uuid.UUID) (bool, error)
	RequestCancel(ctx context.Context, id uuid.UUID) (bool, error)
	ListStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// objectStore is satisfied by both storage drivers.
type objectStore interface {
	Save(ctx context.Context, key string, src io.Reader, size int64) (int64, error)
	Open(ctx context.Context, key string) (file.Object, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// deps holds the collaborators shared by every command.
type deps struct {
	cfg      *config.Config
	registry *registry.Registry
	tiers    *tier.StaticProvider
	jobs     jobStore
	batches  *batchrepo.Store
	storage  objectStore
	ledger   *quota.Ledger
	replicas *cdn.Replicator // nil when the CDN is disabled

	db    *dbpg.DB
	redis *redis.Client
}

func newDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{
		cfg:      cfg,
		registry: registry.Default(),
		tiers:    tier.NewStaticProvider(cfg.Tiers),
		batches:  batchrepo.NewStore(cfg.Retention.Window),
	}

	switch cfg.Jobs.Store {
	case "postgres":
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		d.db = db
		d.jobs = jobrepo.NewRepository(db)
	default:
		zlog.Logger.Warn().Msg("using in-memory job store, jobs are lost on restart")
		d.jobs = jobrepo.NewMemoryRepository()
	}

	switch cfg.Storage.Driver {
	case "minio":
		s, err := file.NewMinioStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.BucketName, cfg.Storage.UseSSL)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
		d.storage = s
	default:
		s, err := file.NewLocalStorage(cfg.Storage.BaseDir)
		if err != nil {
			d.close()
			return nil, err
		}
		d.storage = s
	}

	if cfg.CDN.Enabled {
		bucket, err := cdn.NewBucket(ctx, cfg.CDN)
		if err != nil {
			d.close()
			return nil, err
		}
		d.replicas = cdn.NewReplicator(bucket, cfg.CDN)
	}

	var store quota.Store = quota.NewMemoryStore()
	if cfg.Redis.Enabled {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := d.redis.Ping(ctx).Err(); err != nil {
			d.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = quota.NewRedisStore(d.redis, cfg.Redis.KeyPrefix)
	}
	d.ledger = quota.NewLedger(store, d.tiers)

	return d, nil
}

func openDatabase(cfg config.Database) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// close releases database and redis connections.
func (d *deps) close() {
	var errs []error

	if d.db != nil {
		if err := d.db.Master.Close(); err != nil {
			errs = append(errs, fmt.Errorf("master db: %w", err))
		}
		for i, s := range d.db.Slaves {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("slave db %d: %w", i, err))
			}
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close connections")
	}
}
