// Package storagetest holds the behaviour every storage.Storage must share,
// plus an in-process S3 endpoint for exercising the cloud drivers.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashko-guz/objstore/internal/storage"
)

// Factory returns an empty backend. It is called once per subtest.
type Factory func(t *testing.T) storage.Storage

// RunConformance checks the read/write contract of a backend.
func RunConformance(t *testing.T, newStorage Factory) {
	ctx := context.Background()

	t.Run("GetNeverWritten", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.Get(ctx, "never-written.bin")
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := newStorage(t)
		data := allBytes()
		require.NoError(t, s.Put(ctx, "round-trip.bin", data))

		got, err := s.Get(ctx, "round-trip.bin")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("NestedKey", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.Put(ctx, "users/42/avatar.png", []byte("nested")))

		got, err := s.Get(ctx, "users/42/avatar.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("nested"), got)

		_, err = s.Get(ctx, "users/42")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.Put(ctx, "overwrite.txt", []byte("first version")))
		require.NoError(t, s.Put(ctx, "overwrite.txt", []byte("second")))

		got, err := s.Get(ctx, "overwrite.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("PutFromPath", func(t *testing.T) {
		s := newStorage(t)
		data := allBytes()
		source := filepath.Join(t.TempDir(), "source.bin")
		require.NoError(t, os.WriteFile(source, data, 0644))

		require.NoError(t, s.PutFromPath(ctx, "from-path.bin", source))

		got, err := s.Get(ctx, "from-path.bin")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("PutFromMissingPath", func(t *testing.T) {
		s := newStorage(t)
		err := s.PutFromPath(ctx, "missing-source.bin", filepath.Join(t.TempDir(), "does-not-exist"))
		require.Error(t, err)

		_, err = s.Get(ctx, "missing-source.bin")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		s := newStorage(t)
		for _, key := range []string{"", "../escape.txt", "/absolute.txt", "a//b.txt"} {
			assert.Error(t, s.Put(ctx, key, []byte("x")), "Put(%q)", key)

			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, storage.ErrNotFound, "Get(%q)", key)
		}
	})

	t.Run("ConcurrentDistinctKeys", func(t *testing.T) {
		s := newStorage(t)
		const n = 16

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.Put(ctx, fmt.Sprintf("concurrent/%d.txt", i), []byte(fmt.Sprintf("payload-%d", i)))
			}()
		}
		wg.Wait()

		for i := range n {
			require.NoError(t, errs[i])
			got, err := s.Get(ctx, fmt.Sprintf("concurrent/%d.txt", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("payload-%d", i), string(got))
		}
	})

	t.Run("SignedURL", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.Put(ctx, "signed.txt", []byte("signed")))

		u, err := s.SignedURL(ctx, "signed.txt")
		require.NoError(t, err)
		assert.NotEmpty(t, u)

		u, err = s.SignedURL(ctx, "signed.txt", storage.WithoutExpiry())
		require.NoError(t, err)
		assert.NotEmpty(t, u)
	})
}

func allBytes() []byte {
	data := make([]byte, 256*4)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}
