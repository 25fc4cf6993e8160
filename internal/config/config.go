package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/storage"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Load.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	PublicBaseURL         string
	StorageImplementation string

	ProfileImagesBucket string
	FloorplansBucket    string
	S3Region            string
	S3Endpoint          string
	S3AccessKey         string
	S3SecretKey         string

	LocalStorageDir     string
	SignedLinkMode      string
	SignedLinkMaxTokens int

	MemoryCacheMB int
	DiskCacheDir  string
	CacheTTL      time.Duration

	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxUploadBytes    int64

	LogLevel logger.Level
}

// Load reads the process configuration from the environment and validates it.
// Any returned error wraps ErrInvalidConfig and should stop the process.
func Load() (*Config, error) {
	cfg := &Config{
		PublicBaseURL:         strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/"),
		StorageImplementation: strings.ToLower(strings.TrimSpace(getEnv("OBJECT_STORAGE_IMPLEMENTATION", string(storage.DriverLocal)))),
		ProfileImagesBucket:   strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET")),
		FloorplansBucket:      strings.TrimSpace(os.Getenv("OBJECT_STORAGE_FLOORPLANS_S3_BUCKET")),
		S3Region:              getEnv("OBJECT_STORAGE_S3_REGION", "us-east-1"),
		S3Endpoint:            strings.TrimSpace(os.Getenv("OBJECT_STORAGE_S3_ENDPOINT")),
		S3AccessKey:           os.Getenv("OBJECT_STORAGE_S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("OBJECT_STORAGE_S3_SECRET_KEY"),
		LocalStorageDir:       getEnv("LOCAL_OBJECT_STORAGE_DIR", "./.local-object-storage"),
		SignedLinkMode:        strings.ToLower(getEnv("LOCAL_SIGNED_LINK_MODE", storage.SignedLinkModeQuery)),
		DiskCacheDir:          strings.TrimSpace(os.Getenv("OBJECT_STORAGE_DISK_CACHE_DIR")),
		Port:                  getEnv("PORT", "5000"),
		ReadTimeout:           getEnvDurationSeconds("HTTP_READ_TIMEOUT_SECONDS", 30),
		ReadHeaderTimeout:     getEnvDurationSeconds("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5),
		WriteTimeout:          getEnvDurationSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 60),
		IdleTimeout:           getEnvDurationSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 120),
		MaxHeaderBytes:        getEnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),
	}

	var err error
	if cfg.SignedLinkMaxTokens, err = parseEnvInt("LOCAL_SIGNED_LINK_MAX_TOKENS", 10000, 1); err != nil {
		return nil, err
	}
	if cfg.MemoryCacheMB, err = parseEnvInt("OBJECT_STORAGE_MEMORY_CACHE_MB", 0, 0); err != nil {
		return nil, err
	}
	ttlSeconds, err := parseEnvInt("OBJECT_STORAGE_CACHE_TTL_SECONDS", 300, 1)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttlSeconds) * time.Second
	maxUpload, err := parseEnvInt("MAX_UPLOAD_BYTES", 10<<20, 1)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if !ok {
		return nil, fmt.Errorf("%w: LOG_LEVEL %q must be one of debug, info, warn, error", ErrInvalidConfig, os.Getenv("LOG_LEVEL"))
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PublicBaseURL == "" {
		return fmt.Errorf("%w: PUBLIC_BASE_URL must be defined", ErrInvalidConfig)
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: PUBLIC_BASE_URL %q must be an absolute http(s) URL", ErrInvalidConfig, c.PublicBaseURL)
	}

	switch c.SignedLinkMode {
	case storage.SignedLinkModeQuery, storage.SignedLinkModeToken:
	default:
		return fmt.Errorf("%w: LOCAL_SIGNED_LINK_MODE %q must be either %q or %q",
			ErrInvalidConfig, c.SignedLinkMode, storage.SignedLinkModeQuery, storage.SignedLinkModeToken)
	}

	// Unknown implementations are not rejected here; the selector falls back to local.
	driver := storage.StorageDriver(c.StorageImplementation)
	if driver != storage.DriverS3 && driver != storage.DriverMinIO {
		return nil
	}

	if c.ProfileImagesBucket == "" {
		return fmt.Errorf("%w: OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET must be set when OBJECT_STORAGE_IMPLEMENTATION is %s", ErrInvalidConfig, driver)
	}
	if c.FloorplansBucket == "" {
		return fmt.Errorf("%w: OBJECT_STORAGE_FLOORPLANS_S3_BUCKET must be set when OBJECT_STORAGE_IMPLEMENTATION is %s", ErrInvalidConfig, driver)
	}
	if driver == storage.DriverMinIO && c.S3Endpoint == "" {
		return fmt.Errorf("%w: OBJECT_STORAGE_S3_ENDPOINT must be set when OBJECT_STORAGE_IMPLEMENTATION is minio", ErrInvalidConfig)
	}
	// Custom endpoints are S3-compatible stores that need explicit credentials.
	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("%w: OBJECT_STORAGE_S3_ACCESS_KEY and OBJECT_STORAGE_S3_SECRET_KEY are required with OBJECT_STORAGE_S3_ENDPOINT", ErrInvalidConfig)
	}
	return nil
}

// StorageConfig maps the environment configuration onto the storage layer's settings.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:        storage.StorageDriver(c.StorageImplementation),
		PublicBaseURL: c.PublicBaseURL,
		Local: storage.LocalConfig{
			Root:           c.LocalStorageDir,
			SignedLinkMode: c.SignedLinkMode,
			MaxTokens:      c.SignedLinkMaxTokens,
		},
		S3: storage.S3Config{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Buckets: map[string]string{
				storage.DatasetProfileImages: c.ProfileImagesBucket,
				storage.DatasetFloorplans:    c.FloorplansBucket,
			},
		},
		Cache: storage.CacheConfig{
			MemoryMB: c.MemoryCacheMB,
			DiskDir:  c.DiskCacheDir,
			TTL:      c.CacheTTL,
		},
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}

	return parsed
}

// parseEnvInt is the strict form of getEnvInt: a set value that is not an
// integer >= minValue is a configuration error instead of the default.
func parseEnvInt(key string, defaultValue, minValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < minValue {
		return 0, fmt.Errorf("%w: %s %q must be an integer >= %d", ErrInvalidConfig, key, value, minValue)
	}

	return parsed, nil
}

func getEnvDurationSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
