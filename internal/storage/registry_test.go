package storage_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashko-guz/objstore/internal/metrics"
	"github.com/sashko-guz/objstore/internal/signedlink"
	"github.com/sashko-guz/objstore/internal/storage"
	"github.com/sashko-guz/objstore/internal/storage/drivers"
	"github.com/sashko-guz/objstore/internal/storage/storagetest"
)

func localConfig(t *testing.T, driver storage.StorageDriver) storage.Config {
	t.Helper()
	return storage.Config{
		Driver:        driver,
		PublicBaseURL: "http://localhost:5000",
		Local: storage.LocalConfig{
			Root:           t.TempDir(),
			SignedLinkMode: storage.SignedLinkModeQuery,
		},
	}
}

func newRegistry(t *testing.T, cfg storage.Config, opts ...storage.RegistryOption) *storage.Registry {
	t.Helper()
	r, err := storage.NewRegistry(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestDriversRegistered(t *testing.T) {
	assert.Equal(t, []string{"local", "minio", "s3"}, storage.Drivers())
}

func TestSelectorFallsBackToLocal(t *testing.T) {
	for _, name := range []storage.StorageDriver{"", "azure", "LOCAL", " s4 "} {
		t.Run(string(name), func(t *testing.T) {
			cfg := localConfig(t, name)
			r := newRegistry(t, cfg)
			assert.Equal(t, storage.DriverLocal, r.Driver())

			ctx := context.Background()
			require.NoError(t, r.ProfileImages().Put(ctx, "fallback.png", []byte("local bytes")))

			data, err := os.ReadFile(filepath.Join(cfg.Local.Root, storage.DatasetProfileImages, "fallback.png"))
			require.NoError(t, err)
			assert.Equal(t, "local bytes", string(data))
		})
	}
}

func TestSelectConstructorIsCaseInsensitive(t *testing.T) {
	_, driver, err := storage.SelectConstructor(storage.Config{Driver: "S3"})
	require.NoError(t, err)
	assert.Equal(t, storage.DriverS3, driver)
}

func TestRegistryBindsEveryDataset(t *testing.T) {
	r := newRegistry(t, localConfig(t, storage.DriverLocal))

	assert.Equal(t, []string{storage.DatasetFloorplans, storage.DatasetProfileImages}, r.Names())

	s, ok := r.Get(storage.DatasetFloorplans)
	require.True(t, ok)
	assert.Same(t, r.Floorplans(), s)

	_, ok = r.Get("invoices")
	assert.False(t, ok)
	assert.Panics(t, func() { r.MustGet("invoices") })
}

func TestRegistryDatasetsAreIsolated(t *testing.T) {
	r := newRegistry(t, localConfig(t, storage.DriverLocal))
	ctx := context.Background()

	require.NoError(t, r.ProfileImages().Put(ctx, "same-key", []byte("profile")))

	_, err := r.Floorplans().Get(ctx, "same-key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegistryS3UnknownDatasetFails(t *testing.T) {
	fake := storagetest.NewFakeS3(t)
	cfg := storage.Config{
		Driver: storage.DriverS3,
		S3: storage.S3Config{
			Endpoint:  fake.URL,
			AccessKey: "k",
			SecretKey: "s",
			Buckets:   map[string]string{storage.DatasetProfileImages: "images"},
		},
	}

	_, err := storage.NewRegistry(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, drivers.ErrUnknownDataset)
	assert.Contains(t, err.Error(), storage.DatasetFloorplans)
}

func TestRegistryS3(t *testing.T) {
	fake := storagetest.NewFakeS3(t)
	cfg := storage.Config{
		Driver: storage.DriverS3,
		S3: storage.S3Config{
			Endpoint:  fake.URL,
			AccessKey: "k",
			SecretKey: "s",
			Buckets: map[string]string{
				storage.DatasetProfileImages: "images",
				storage.DatasetFloorplans:    "plans",
			},
		},
	}
	r := newRegistry(t, cfg, storage.WithMetrics(metrics.New()))
	assert.Equal(t, storage.DriverS3, r.Driver())
	assert.Empty(t, r.LocalRoot())

	ctx := context.Background()
	require.NoError(t, r.Floorplans().Put(ctx, "plan.svg", []byte("<svg/>")))
	data, ok := fake.Object("plans", "plan.svg")
	require.True(t, ok)
	assert.Equal(t, "<svg/>", string(data))

	// The gate never serves files while a cloud driver is active.
	rec := httptest.NewRecorder()
	r.SignedLinkHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signedlink.RoutePrefix+"/floorplans/plan.svg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistryTokenMode(t *testing.T) {
	cfg := localConfig(t, storage.DriverLocal)
	cfg.Local.SignedLinkMode = storage.SignedLinkModeToken
	cfg.Local.MaxTokens = 4
	r := newRegistry(t, cfg)
	require.NotNil(t, r.Tokens())

	ctx := context.Background()
	require.NoError(t, r.Floorplans().Put(ctx, "plan.svg", []byte("<svg/>")))

	raw, err := r.Floorplans().SignedURL(ctx, "plan.svg", storage.WithExpiry(time.Minute))
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.NotEmpty(t, u.Query().Get(signedlink.TokenParam))

	rec := httptest.NewRecorder()
	r.SignedLinkHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())
}

func TestRegistryWithCache(t *testing.T) {
	cfg := localConfig(t, storage.DriverLocal)
	cfg.Cache = storage.CacheConfig{MemoryMB: 4, DiskDir: t.TempDir(), TTL: time.Minute}
	r := newRegistry(t, cfg, storage.WithMetrics(metrics.New()))

	ctx := context.Background()
	s := r.ProfileImages()
	require.NoError(t, s.Put(ctx, "a.png", []byte("v1")))
	got, err := s.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, s.Put(ctx, "a.png", []byte("v2")))
	got, err = s.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestRegistryLocalStorageConformance(t *testing.T) {
	storagetest.RunConformance(t, func(t *testing.T) storage.Storage {
		cfg := localConfig(t, storage.DriverLocal)
		cfg.Cache = storage.CacheConfig{DiskDir: t.TempDir(), TTL: time.Minute}
		return newRegistry(t, cfg, storage.WithMetrics(metrics.New())).ProfileImages()
	})
}

func TestRegistryRequiresDatasets(t *testing.T) {
	_, err := storage.NewRegistry(context.Background(), localConfig(t, storage.DriverLocal), storage.WithDatasets())
	assert.Error(t, err)
}
