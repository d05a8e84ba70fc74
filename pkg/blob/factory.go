package blob

import (
	"context"
	"fmt"

	"github.com/paperledger/paperledger/pkg/config"
)

// New builds the blob store named by cfg.Backend.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "", "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:        cfg.Bucket,
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			AccessKeyID:   cfg.AccessKeyID,
			SecretKey:     cfg.SecretKey,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case "gcs":
		return NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsJSON: cfg.GCPCredentialsJSON,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("blob: unknown backend %q (want s3 or gcs)", cfg.Backend)
	}
}
