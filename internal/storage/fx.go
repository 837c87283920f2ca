package storage

import (
	"fmt"

	"github.com/smallbiznis/einvois/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(NewBlobStore),
)

func NewBlobStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (BlobStore, error) {
	switch cfg.StorageProvider {
	case "gcs":
		return NewGCSStore(lc, cfg, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}
}
