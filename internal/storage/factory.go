package storage

import (
	"context"
	"fmt"

	"github.com/bina/bimsync/internal/config"
	"github.com/bina/bimsync/internal/storage/local"
	s3backend "github.com/bina/bimsync/internal/storage/s3"
)

// NewBackend creates the mirror backend selected by cfg. It returns nil and
// no error when mirroring is disabled.
func NewBackend(ctx context.Context, cfg config.MirrorConfig) (Backend, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		return local.New(local.Config{
			RootPath:   cfg.LocalRoot,
			CreateDirs: cfg.CreateDirs,
		})
	case "s3":
		return s3backend.NewBackend(ctx, s3backend.BackendConfig{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
