package drivers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/storage"
)

// MinIOClient implements storage.Storage against any S3-compatible endpoint
// through minio-go. It is safe for concurrent use.
type MinIOClient struct {
	client  *minio.Client
	bucket  string
	dataset string
}

func NewMinIOClient(dataset string, opts S3Options) (*MinIOClient, error) {
	bucket, err := bucketFor(dataset, opts.Buckets)
	if err != nil {
		return nil, fmt.Errorf("minio storage: %w", err)
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("minio storage: endpoint is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("minio storage: credentials are required")
	}

	endpoint, err := url.Parse(opts.Endpoint)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("minio storage: invalid endpoint %q", opts.Endpoint)
	}

	region := opts.Region
	if region == "" {
		region = defaultS3Region
	}

	// A fixed region keeps minio-go from probing the bucket location.
	cli, err := minio.New(endpoint.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       endpoint.Scheme == "https",
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("minio storage: create client: %w", err)
	}

	logger.Infof("[MinIOStorage:%s] In use: endpoint=%s, bucket=%s, region=%s", dataset, endpoint.Host, bucket, region)
	return &MinIOClient{client: cli, bucket: bucket, dataset: dataset}, nil
}

func (m *MinIOClient) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		logger.Warnf("[MinIOStorage:%s] Rejected key %q: %v", m.dataset, key, err)
		return nil, storage.NotFound(err)
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		logger.Errorf("[MinIOStorage:%s] Error fetching object: bucket=%s, key=%s, error=%v", m.dataset, m.bucket, key, err)
		return nil, storage.NotFound(err)
	}
	defer obj.Close()

	// The request is lazy; errors, including a missing key, surface on read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
			logger.Debugf("[MinIOStorage:%s] Object not found: bucket=%s, key=%s", m.dataset, m.bucket, key)
		} else {
			logger.Errorf("[MinIOStorage:%s] Error reading object: bucket=%s, key=%s, error=%v", m.dataset, m.bucket, key, err)
		}
		return nil, storage.NotFound(err)
	}
	return data, nil
}

func (m *MinIOClient) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), m.putOptions())
	if err != nil {
		return fmt.Errorf("minio put object bucket=%s key=%s: %w", m.bucket, key, err)
	}
	return nil
}

func (m *MinIOClient) PutFromPath(ctx context.Context, key, sourcePath string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if _, err := m.client.FPutObject(ctx, m.bucket, key, sourcePath, m.putOptions()); err != nil {
		return fmt.Errorf("minio put object bucket=%s key=%s from %s: %w", m.bucket, key, sourcePath, err)
	}
	return nil
}

func (m *MinIOClient) SignedURL(ctx context.Context, key string, opts ...storage.SignOption) (string, error) {
	if err := validateKey(key); err != nil {
		logger.Warnf("[MinIOStorage:%s] Refusing to sign key %q: %v", m.dataset, key, err)
		return "", storage.NotFound(err)
	}

	expiry := presignExpiry(storage.ResolveSignOptions(opts...))
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, url.Values{})
	if err != nil {
		logger.Errorf("[MinIOStorage:%s] Error presigning object: bucket=%s, key=%s, error=%v", m.dataset, m.bucket, key, err)
		return "", storage.NotFound(err)
	}
	return u.String(), nil
}

// putOptions sends the payload unsigned so plain-HTTP endpoints receive the
// raw body rather than aws-chunked streaming frames.
func (m *MinIOClient) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{DisableContentSha256: true}
}

var _ storage.Storage = (*MinIOClient)(nil)
