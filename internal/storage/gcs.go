package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/smallbiznis/einvois/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSStore stores blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *gcstorage.Client
	bucket string
	log    *zap.Logger
}

// NewGCSStore opens the client with explicit JSON credentials when
// configured, otherwise application default credentials.
func NewGCSStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*GCSStore, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.GCSCredentials) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GCSCredentials)))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	store := &GCSStore{
		client: client,
		bucket: cfg.StorageBucket,
		log:    log.Named("storage.gcs"),
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
	return store, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		return fmt.Errorf("gcs write %q: %w", key, err)
	}
	return wc.Close()
}

func (s *GCSStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Size: attrs.Size, ContentType: attrs.ContentType}, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSStore) SignedUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	_ = ctx
	return s.client.Bucket(s.bucket).SignedURL(key, &gcstorage.SignedURLOptions{
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(expiry),
		Scheme:      gcstorage.SigningSchemeV4,
	})
}
