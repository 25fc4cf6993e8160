package drivers

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/net/http2"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/storage"
)

const (
	defaultS3Region = "us-east-1"

	// Presigned URLs are bounded by SigV4: at least one second, at most a week.
	minPresignExpiry = time.Second
	maxPresignExpiry = 7 * 24 * time.Hour
)

// S3Options are shared by the S3 and MinIO drivers.
type S3Options struct {
	Region    string
	Endpoint  string // Custom endpoint for S3-compatible storage
	AccessKey string
	SecretKey string
	Buckets   map[string]string
}

type S3Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	dataset string
}

// newS3HTTPClient builds the pooled transport shared by every request of one
// client. It sets no overall request timeout; calls end when they finish or
// their context is cancelled.
func newS3HTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warnf("[S3Storage] Failed to configure HTTP/2: %v", err)
	}

	return &http.Client{Transport: transport}
}

// NewS3Client binds one dataset to its bucket. A dataset without a bucket
// mapping fails here rather than falling back to some other bucket.
func NewS3Client(ctx context.Context, dataset string, opts S3Options) (*S3Client, error) {
	bucket, err := bucketFor(dataset, opts.Buckets)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: %w", err)
	}

	region := opts.Region
	if region == "" {
		region = defaultS3Region
	}
	httpClient := newS3HTTPClient()

	var client *s3.Client
	if opts.Endpoint != "" {
		if opts.AccessKey == "" || opts.SecretKey == "" {
			return nil, fmt.Errorf("s3 storage: access key and secret key are required with a custom endpoint")
		}
		logger.Infof("[S3Storage:%s] In use: endpoint=%s, bucket=%s, region=%s", dataset, opts.Endpoint, bucket, region)
		// S3-compatible stores get a minimal config without the AWS credential chain.
		client = s3.New(s3.Options{
			Region:                     region,
			Credentials:                credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
			BaseEndpoint:               aws.String(opts.Endpoint),
			UsePathStyle:               true,
			HTTPClient:                 httpClient,
			RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
			ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
		})
	} else {
		logger.Infof("[S3Storage:%s] In use: bucket=%s, region=%s", dataset, bucket, region)
		configOpts := []func(*config.LoadOptions) error{
			config.WithRegion(region),
			config.WithHTTPClient(httpClient),
		}
		// Without static keys the default chain applies: environment, shared
		// credentials file, then instance roles.
		if opts.AccessKey != "" && opts.SecretKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: load aws config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}

	return &S3Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		dataset: dataset,
	}, nil
}

func (s *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		logger.Warnf("[S3Storage:%s] Rejected key %q: %v", s.dataset, key, err)
		return nil, storage.NotFound(err)
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			logger.Debugf("[S3Storage:%s] Object not found: bucket=%s, key=%s", s.dataset, s.bucket, key)
		} else {
			logger.Errorf("[S3Storage:%s] Error fetching object: bucket=%s, key=%s, error=%v", s.dataset, s.bucket, key, err)
		}
		return nil, storage.NotFound(err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		logger.Errorf("[S3Storage:%s] Error reading object body: bucket=%s, key=%s, error=%v", s.dataset, s.bucket, key, err)
		return nil, storage.NotFound(err)
	}

	logger.Debugf("[S3Storage:%s] Fetched object: bucket=%s, key=%s, size=%d bytes", s.dataset, s.bucket, key, len(data))
	return data, nil
}

func (s *S3Client) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, key, err)
	}
	return nil
}

// PutFromPath streams the file as the request body instead of loading it.
func (s *S3Client) PutFromPath(ctx context.Context, key, sourcePath string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	file, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("s3 put object bucket=%s key=%s: open source: %w", s.bucket, key, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("s3 put object bucket=%s key=%s: stat source: %w", s.bucket, key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("s3 put object bucket=%s key=%s from %s: %w", s.bucket, key, sourcePath, err)
	}
	return nil
}

func (s *S3Client) SignedURL(ctx context.Context, key string, opts ...storage.SignOption) (string, error) {
	if err := validateKey(key); err != nil {
		logger.Warnf("[S3Storage:%s] Refusing to sign key %q: %v", s.dataset, key, err)
		return "", storage.NotFound(err)
	}

	expiry := presignExpiry(storage.ResolveSignOptions(opts...))
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		logger.Errorf("[S3Storage:%s] Error presigning object: bucket=%s, key=%s, error=%v", s.dataset, s.bucket, key, err)
		return "", storage.NotFound(err)
	}
	return req.URL, nil
}

// presignExpiry clamps the requested window into what SigV4 accepts. A link
// without expiry gets the longest window available.
func presignExpiry(o storage.SignOptions) time.Duration {
	switch {
	case o.NoExpiry:
		return maxPresignExpiry
	case o.Expiry < minPresignExpiry:
		return minPresignExpiry
	case o.Expiry > maxPresignExpiry:
		return maxPresignExpiry
	default:
		return o.Expiry
	}
}

var _ storage.Storage = (*S3Client)(nil)
