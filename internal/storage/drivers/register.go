package drivers

import (
	"context"

	"github.com/sashko-guz/objstore/internal/storage"
)

func init() {
	storage.Register(storage.DriverLocal, newLocal)
	storage.Register(storage.DriverS3, newS3)
	storage.Register(storage.DriverMinIO, newMinIO)
}

func newLocal(_ context.Context, cfg storage.Config, dataset string) (storage.Storage, error) {
	local, err := NewLocalStorage(cfg.Local.Root, dataset, cfg.PublicBaseURL, cfg.Local.Tokens)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func newS3(ctx context.Context, cfg storage.Config, dataset string) (storage.Storage, error) {
	client, err := NewS3Client(ctx, dataset, s3Options(cfg.S3))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newMinIO(_ context.Context, cfg storage.Config, dataset string) (storage.Storage, error) {
	client, err := NewMinIOClient(dataset, s3Options(cfg.S3))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func s3Options(c storage.S3Config) S3Options {
	return S3Options{
		Region:    c.Region,
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Buckets:   c.Buckets,
	}
}
