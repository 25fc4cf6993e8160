package drivers

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

	"github.com/sashko-guz/objstore/internal/signedlink"
	"github.com/sashko-guz/objstore/internal/storage"
	"github.com/sashko-guz/objstore/internal/storage/storagetest"
)

const testBaseURL = "http://localhost:5000"

func TestLocalStorageConformance(t *testing.T) {
	storagetest.RunConformance(t, func(t *testing.T) storage.Storage {
		s, err := NewLocalStorage(t.TempDir(), storage.DatasetProfileImages, testBaseURL, nil)
		require.NoError(t, err)
		return s
	})
}

func TestLocalStorageLayout(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root, storage.DatasetFloorplans, testBaseURL, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, storage.DatasetFloorplans))
	assert.True(t, os.IsNotExist(err), "dataset directory is created on first write")

	require.NoError(t, s.Put(context.Background(), "level1/plan.svg", []byte("<svg/>")))

	data, err := os.ReadFile(filepath.Join(root, storage.DatasetFloorplans, "level1", "plan.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))

	entries, err := os.ReadDir(filepath.Join(root, storage.DatasetFloorplans, "level1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestNewLocalStorageRejectsBadDataset(t *testing.T) {
	for _, dataset := range []string{"", "a/b", `a\b`} {
		_, err := NewLocalStorage(t.TempDir(), dataset, testBaseURL, nil)
		assert.Error(t, err, "dataset %q", dataset)
	}
}

func TestLocalSignedURLFormat(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), storage.DatasetProfileImages, testBaseURL, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC) }

	ctx := context.Background()

	tests := []struct {
		name      string
		key       string
		opts      []storage.SignOption
		path      string
		expiresAt string
	}{
		{
			name:      "default expiry is one hour",
			key:       "avatar.png",
			path:      "/local-object-signed-links/profileimages/avatar.png",
			expiresAt: "2026-10-18T11:00:00.000Z",
		},
		{
			name:      "explicit expiry",
			key:       "avatar.png",
			opts:      []storage.SignOption{storage.WithExpiry(1500 * time.Millisecond)},
			path:      "/local-object-signed-links/profileimages/avatar.png",
			expiresAt: "2026-10-18T10:00:01.500Z",
		},
		{
			name: "no expiry omits the parameter",
			key:  "avatar.png",
			opts: []storage.SignOption{storage.WithoutExpiry()},
			path: "/local-object-signed-links/profileimages/avatar.png",
		},
		{
			name:      "segments are escaped",
			key:       "team a/photo #1.png",
			path:      "/local-object-signed-links/profileimages/team a/photo #1.png",
			expiresAt: "2026-10-18T11:00:00.000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := s.SignedURL(ctx, tt.key, tt.opts...)
			require.NoError(t, err)

			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, "http", u.Scheme)
			assert.Equal(t, "localhost:5000", u.Host)
			assert.Equal(t, tt.path, u.Path)
			assert.Equal(t, tt.expiresAt, u.Query().Get(signedlink.ExpiresAtParam))
			if tt.expiresAt == "" {
				assert.NotContains(t, raw, signedlink.ExpiresAtParam)
			}
		})
	}
}

func TestLocalSignedURLThroughGate(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root, storage.DatasetProfileImages, testBaseURL, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "avatar.png", []byte("png bytes")))

	gate := signedlink.Gate(signedlink.GateConfig{Enabled: true, Mode: signedlink.ModeQuery}, signedlink.Files(root))

	fetch := func(t *testing.T, opts ...storage.SignOption) *httptest.ResponseRecorder {
		t.Helper()
		raw, err := s.SignedURL(ctx, "avatar.png", opts...)
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
		return rec
	}

	t.Run("zero expiry is already expired", func(t *testing.T) {
		s.now = func() time.Time { return time.Now().Add(-time.Millisecond) }
		defer func() { s.now = time.Now }()
		assert.Equal(t, http.StatusForbidden, fetch(t, storage.WithExpiry(0)).Code)
	})

	t.Run("negative expiry", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, fetch(t, storage.WithExpiry(-time.Minute)).Code)
	})

	t.Run("long expiry serves exact bytes", func(t *testing.T) {
		rec := fetch(t, storage.WithExpiry(24*time.Hour))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "png bytes", rec.Body.String())
	})

	t.Run("no expiry is never rejected", func(t *testing.T) {
		rec := fetch(t, storage.WithoutExpiry())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "png bytes", rec.Body.String())
	})
}

func TestLocalSignedURLExpiresAfterWindow(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root, storage.DatasetProfileImages, testBaseURL, nil)
	require.NoError(t, err)

	ctx := context.Background()
	payload := []byte("seventeen bytes!!")
	require.Len(t, payload, 17)
	require.NoError(t, s.Put(ctx, "scenario.bin", payload))

	issued := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	raw, err := s.SignedURL(ctx, "scenario.bin", storage.WithExpiry(1000*time.Millisecond))
	require.NoError(t, err)
	assert.Contains(t, raw, testBaseURL+"/local-object-signed-links/profileimages/scenario.bin?expiresAt=")

	u, err := url.Parse(raw)
	require.NoError(t, err)

	serve := func(now time.Time) *httptest.ResponseRecorder {
		gate := signedlink.Gate(signedlink.GateConfig{
			Enabled: true,
			Mode:    signedlink.ModeQuery,
			Now:     func() time.Time { return now },
		}, signedlink.Files(root))
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
		return rec
	}

	rec := serve(issued.Add(10 * time.Millisecond))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())

	rec = serve(issued.Add(1100 * time.Millisecond))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Signed link expired!"}`, rec.Body.String())
}

func TestLocalSignedURLTokenMode(t *testing.T) {
	root := t.TempDir()
	tokens, err := signedlink.NewTokenStore(16)
	require.NoError(t, err)

	s, err := NewLocalStorage(root, storage.DatasetFloorplans, testBaseURL, tokens)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "plan.svg", []byte("<svg/>")))

	raw, err := s.SignedURL(ctx, "plan.svg", storage.WithExpiry(time.Minute))
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get(signedlink.ExpiresAtParam))

	grant, ok := tokens.Resolve(u.Query().Get(signedlink.TokenParam))
	require.True(t, ok)
	assert.Equal(t, storage.DatasetFloorplans, grant.Dataset)
	assert.Equal(t, "plan.svg", grant.Key)
	assert.False(t, grant.ExpiresAt.IsZero())

	gate := signedlink.Gate(signedlink.GateConfig{Enabled: true, Mode: signedlink.ModeToken, Tokens: tokens}, signedlink.Files(root))
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())
}
