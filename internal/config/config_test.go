package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/storage"
)

var envKeys = []string{
	"PUBLIC_BASE_URL",
	"OBJECT_STORAGE_IMPLEMENTATION",
	"OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET",
	"OBJECT_STORAGE_FLOORPLANS_S3_BUCKET",
	"OBJECT_STORAGE_S3_REGION",
	"OBJECT_STORAGE_S3_ENDPOINT",
	"OBJECT_STORAGE_S3_ACCESS_KEY",
	"OBJECT_STORAGE_S3_SECRET_KEY",
	"LOCAL_OBJECT_STORAGE_DIR",
	"LOCAL_SIGNED_LINK_MODE",
	"LOCAL_SIGNED_LINK_MAX_TOKENS",
	"OBJECT_STORAGE_MEMORY_CACHE_MB",
	"OBJECT_STORAGE_DISK_CACHE_DIR",
	"OBJECT_STORAGE_CACHE_TTL_SECONDS",
	"PORT",
	"MAX_UPLOAD_BYTES",
	"LOG_LEVEL",
}

// setEnv clears every variable Load reads, then applies vars.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000/"})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.PublicBaseURL)
	assert.Equal(t, "local", cfg.StorageImplementation)
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "./.local-object-storage", cfg.LocalStorageDir)
	assert.Equal(t, storage.SignedLinkModeQuery, cfg.SignedLinkMode)
	assert.Equal(t, 10000, cfg.SignedLinkMaxTokens)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing public base url",
			env:     map[string]string{},
			wantErr: "PUBLIC_BASE_URL must be defined",
		},
		{
			name:    "relative public base url",
			env:     map[string]string{"PUBLIC_BASE_URL": "localhost:5000"},
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "unknown signed link mode",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "LOCAL_SIGNED_LINK_MODE": "hmac"},
			wantErr: "LOCAL_SIGNED_LINK_MODE",
		},
		{
			name:    "s3 without profile images bucket",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "OBJECT_STORAGE_IMPLEMENTATION": "s3", "OBJECT_STORAGE_FLOORPLANS_S3_BUCKET": "plans"},
			wantErr: "OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET",
		},
		{
			name:    "s3 without floorplans bucket",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "OBJECT_STORAGE_IMPLEMENTATION": "s3", "OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET": "images"},
			wantErr: "OBJECT_STORAGE_FLOORPLANS_S3_BUCKET",
		},
		{
			name: "minio without endpoint",
			env: map[string]string{
				"PUBLIC_BASE_URL":                         "http://localhost:5000",
				"OBJECT_STORAGE_IMPLEMENTATION":           "minio",
				"OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET": "images",
				"OBJECT_STORAGE_FLOORPLANS_S3_BUCKET":     "plans",
			},
			wantErr: "OBJECT_STORAGE_S3_ENDPOINT",
		},
		{
			name: "endpoint without credentials",
			env: map[string]string{
				"PUBLIC_BASE_URL":                         "http://localhost:5000",
				"OBJECT_STORAGE_IMPLEMENTATION":           "s3",
				"OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET": "images",
				"OBJECT_STORAGE_FLOORPLANS_S3_BUCKET":     "plans",
				"OBJECT_STORAGE_S3_ENDPOINT":              "http://127.0.0.1:9000",
			},
			wantErr: "OBJECT_STORAGE_S3_ACCESS_KEY",
		},
		{
			name:    "negative token store size",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "LOCAL_SIGNED_LINK_MAX_TOKENS": "-5"},
			wantErr: "LOCAL_SIGNED_LINK_MAX_TOKENS",
		},
		{
			name:    "non-numeric upload limit",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "MAX_UPLOAD_BYTES": "abc"},
			wantErr: "MAX_UPLOAD_BYTES",
		},
		{
			name:    "non-numeric memory cache size",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "OBJECT_STORAGE_MEMORY_CACHE_MB": "x"},
			wantErr: "OBJECT_STORAGE_MEMORY_CACHE_MB",
		},
		{
			name:    "zero cache ttl",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "OBJECT_STORAGE_CACHE_TTL_SECONDS": "0"},
			wantErr: "OBJECT_STORAGE_CACHE_TTL_SECONDS",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"PUBLIC_BASE_URL": "http://localhost:5000", "LOG_LEVEL": "verbose"},
			wantErr: "LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadUnknownImplementationIsNotAnError(t *testing.T) {
	setEnv(t, map[string]string{
		"PUBLIC_BASE_URL":               "http://localhost:5000",
		"OBJECT_STORAGE_IMPLEMENTATION": "Azure",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "azure", cfg.StorageImplementation)
}

func TestStorageConfig(t *testing.T) {
	setEnv(t, map[string]string{
		"PUBLIC_BASE_URL":                         "https://api.example.com",
		"OBJECT_STORAGE_IMPLEMENTATION":           "S3",
		"OBJECT_STORAGE_PROFILE_IMAGES_S3_BUCKET": "images",
		"OBJECT_STORAGE_FLOORPLANS_S3_BUCKET":     "plans",
		"OBJECT_STORAGE_S3_REGION":                "eu-central-1",
		"LOCAL_SIGNED_LINK_MODE":                  "TOKEN",
		"OBJECT_STORAGE_MEMORY_CACHE_MB":          "64",
		"OBJECT_STORAGE_DISK_CACHE_DIR":           "/tmp/objstore-cache",
		"OBJECT_STORAGE_CACHE_TTL_SECONDS":        "30",
	})

	cfg, err := Load()
	require.NoError(t, err)

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.DriverS3, sc.Driver)
	assert.Equal(t, "https://api.example.com", sc.PublicBaseURL)
	assert.Equal(t, storage.SignedLinkModeToken, sc.Local.SignedLinkMode)
	assert.Equal(t, "eu-central-1", sc.S3.Region)
	assert.Equal(t, map[string]string{
		storage.DatasetProfileImages: "images",
		storage.DatasetFloorplans:    "plans",
	}, sc.S3.Buckets)
	assert.Equal(t, storage.CacheConfig{MemoryMB: 64, DiskDir: "/tmp/objstore-cache", TTL: 30 * time.Second}, sc.Cache)
	assert.True(t, sc.Cache.Enabled())
}

func TestParseEnvInt(t *testing.T) {
	t.Setenv("OBJSTORE_TEST_INT", "")
	got, err := parseEnvInt("OBJSTORE_TEST_INT", 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	t.Setenv("OBJSTORE_TEST_INT", "0")
	got, err = parseEnvInt("OBJSTORE_TEST_INT", 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = parseEnvInt("OBJSTORE_TEST_INT", 7, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGetEnvIntFallsBack(t *testing.T) {
	t.Setenv("OBJSTORE_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvInt("OBJSTORE_TEST_INT", 7))

	t.Setenv("OBJSTORE_TEST_INT", "-3")
	assert.Equal(t, 7, getEnvInt("OBJSTORE_TEST_INT", 7))

	t.Setenv("OBJSTORE_TEST_INT", "12")
	assert.Equal(t, 12, getEnvInt("OBJSTORE_TEST_INT", 7))
}
