package internal

import (
	"context"
	"errors"
	"fmt"

	"foldly/upload-api/config"
	"foldly/upload-api/db"
	"foldly/upload-api/internal/handler"
	"foldly/upload-api/internal/quota"
	"foldly/upload-api/internal/repository"
	"foldly/upload-api/internal/service"
	"foldly/upload-api/internal/storage"
	"foldly/upload-api/internal/upload"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps is everything handlers and commands need, built once at startup.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Repo       *repository.Repository
	Redis      *redis.Client
	Storage    storage.Provider
	Quota      *quota.Checker
	Router     *handler.Router
	Manager    *upload.Manager
	Sessions   *service.Sessions
	Reconciler *service.Reconciler
}

func NewDeps(ctx context.Context, c *config.Config) (*Deps, error) {
	conn, err := db.New(c.DB)
	if err != nil {
		return nil, err
	}

	repo := repository.New(conn, c.Storage.DefaultLimit)

	provider, err := storage.New(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage provider, %w", err)
	}

	d := &Deps{
		Config:  c,
		DB:      conn,
		Repo:    repo,
		Storage: provider,
	}

	var (
		src quota.Source = repo
		inv handler.Invalidator
	)

	if c.Redis.Addr != "" {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})

		if err := d.Redis.Ping(ctx).Err(); err != nil {
			zap.L().Warn("Redis unreachable, quota checks will hit the database", zap.String("addr", c.Redis.Addr), zap.Error(err))
		}

		cached := quota.NewCachedSource(repo, d.Redis)
		src, inv = cached, cached
	}

	d.Quota = quota.NewChecker(src)

	d.Router = handler.NewRouter(
		provider,
		repo,
		handler.NewWorkspace(repo, c.Storage.WorkspaceBucket),
		handler.NewLink(repo, c.Storage.LinkBucket),
		inv,
	)

	d.Manager = upload.NewManager(d.Router, d.Quota, upload.Config{
		Parallelism:  c.Upload.Parallelism,
		MaxRetries:   c.Upload.MaxRetries,
		MaxFileSize:  c.Upload.MaxSize,
		AllowedTypes: c.Upload.AllowedTypes,
	})

	d.Sessions = service.NewSessions(d.Router, d.Quota, c.Upload.MaxSize, c.Upload.AllowedTypes)
	d.Reconciler = service.NewReconciler(provider, repo, c.Storage.WorkspaceBucket, c.Storage.LinkBucket)

	zap.L().Info("Dependencies ready",
		zap.String("storage", provider.Name()),
		zap.String("db", c.DB.Driver),
		zap.Bool("quota_cache", d.Redis != nil),
	)

	return d, nil
}

// Close stops the upload manager and releases every connection.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error

	if err := d.Manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop upload manager, %w", err))
	}

	if err := d.Sessions.Close(); err != nil {
		errs = append(errs, err)
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if sqlDB, err := d.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
