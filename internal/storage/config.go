package storage

import (
	"time"

	"github.com/sashko-guz/objstore/internal/signedlink"
)

type StorageDriver string

const (
	DriverLocal StorageDriver = "local"
	DriverS3    StorageDriver = "s3"
	DriverMinIO StorageDriver = "minio"
)

// Dataset names. Each one is a subdirectory for the local driver and a
// bucket selector for the cloud drivers.
const (
	DatasetProfileImages = "profileimages"
	DatasetFloorplans    = "floorplans"
)

// Datasets lists every dataset the registry binds at startup.
var Datasets = []string{DatasetProfileImages, DatasetFloorplans}

const (
	SignedLinkModeQuery = signedlink.ModeQuery
	SignedLinkModeToken = signedlink.ModeToken
)

type Config struct {
	Driver        StorageDriver
	PublicBaseURL string // Base for locally generated signed links

	Local LocalConfig
	S3    S3Config
	Cache CacheConfig
}

type LocalConfig struct {
	Root           string
	SignedLinkMode string // query (default) or token
	MaxTokens      int    // Grant store size in token mode

	// Tokens is shared by every local dataset and the signed-link gate.
	// NewRegistry creates it in token mode when it is nil.
	Tokens *signedlink.TokenStore
}

type S3Config struct {
	Region    string
	Endpoint  string // Custom endpoint for S3-compatible storage
	AccessKey string
	SecretKey string

	// Buckets maps dataset name to bucket. Datasets missing here are
	// rejected when their backend is constructed.
	Buckets map[string]string
}

type CacheConfig struct {
	MemoryMB int           // 0 disables the memory tier
	DiskDir  string        // Empty disables the disk tier
	TTL      time.Duration // Applies to both tiers
}

func (c CacheConfig) Enabled() bool {
	return c.MemoryMB > 0 || c.DiskDir != ""
}
