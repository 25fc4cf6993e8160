package drivers

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/signedlink"
	"github.com/sashko-guz/objstore/internal/storage"
)

// LocalStorage keeps a dataset under {root}/{dataset} and emulates signed
// links through the signedlink gate.
type LocalStorage struct {
	basePath      string
	dataset       string
	publicBaseURL string
	tokens        *signedlink.TokenStore // nil selects the expiresAt query scheme
	now           func() time.Time
}

func NewLocalStorage(root, dataset, publicBaseURL string, tokens *signedlink.TokenStore) (*LocalStorage, error) {
	if dataset == "" || hasSeparator(dataset) {
		return nil, fmt.Errorf("invalid dataset name %q", dataset)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	mode := signedlink.ModeQuery
	if tokens != nil {
		mode = signedlink.ModeToken
	}
	logger.Infof("[LocalStorage:%s] In use: root=%s, signed links=%s", dataset, absRoot, mode)

	// Directories are created lazily on first write.
	return &LocalStorage{
		basePath:      filepath.Join(absRoot, dataset),
		dataset:       dataset,
		publicBaseURL: publicBaseURL,
		tokens:        tokens,
		now:           time.Now,
	}, nil
}

func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NotFound(err)
	}

	fullPath, err := l.objectPath(key)
	if err != nil {
		logger.Warnf("[LocalStorage:%s] Rejected key %q: %v", l.dataset, key, err)
		return nil, storage.NotFound(err)
	}

	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("[LocalStorage:%s] File not found: %s", l.dataset, fullPath)
			return nil, storage.ErrNotFound
		}
		logger.Errorf("[LocalStorage:%s] Failed to access file %s: %v", l.dataset, fullPath, err)
		return nil, storage.NotFound(err)
	}

	if fileInfo.IsDir() {
		logger.Debugf("[LocalStorage:%s] Path is a directory: %s", l.dataset, fullPath)
		return nil, storage.ErrNotFound
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		logger.Errorf("[LocalStorage:%s] Failed to read file %s: %v", l.dataset, fullPath, err)
		return nil, storage.NotFound(err)
	}

	return data, nil
}

func (l *LocalStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := l.objectPath(key)
	if err != nil {
		return err
	}

	err = writeFileAtomic(fullPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("local put %s/%s: %w", l.dataset, key, err)
	}

	logger.Debugf("[LocalStorage:%s] Stored %s (%d bytes)", l.dataset, key, len(data))
	return nil
}

func (l *LocalStorage) PutFromPath(ctx context.Context, key, sourcePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := l.objectPath(key)
	if err != nil {
		return err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("local put %s/%s: open source: %w", l.dataset, key, err)
	}
	defer src.Close()

	var written int64
	err = writeFileAtomic(fullPath, func(w io.Writer) error {
		n, err := io.Copy(w, src)
		written = n
		return err
	})
	if err != nil {
		return fmt.Errorf("local put %s/%s from %s: %w", l.dataset, key, sourcePath, err)
	}

	logger.Debugf("[LocalStorage:%s] Stored %s from %s (%d bytes)", l.dataset, key, sourcePath, written)
	return nil
}

// SignedURL builds a link to the signed-link route. In query mode the expiry
// travels as an unsigned expiresAt parameter that a client can edit; token
// mode keeps it server-side instead.
func (l *LocalStorage) SignedURL(ctx context.Context, key string, opts ...storage.SignOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.NotFound(err)
	}
	if err := validateKey(key); err != nil {
		logger.Warnf("[LocalStorage:%s] Refusing to sign key %q: %v", l.dataset, key, err)
		return "", storage.NotFound(err)
	}

	o := storage.ResolveSignOptions(opts...)
	expiresAt, hasExpiry := o.ExpiresAt(l.now())

	query := url.Values{}
	if l.tokens != nil {
		grant := signedlink.Grant{Dataset: l.dataset, Key: key}
		if hasExpiry {
			grant.ExpiresAt = expiresAt
		}
		query.Set(signedlink.TokenParam, l.tokens.Issue(grant))
	} else if hasExpiry {
		query.Set(signedlink.ExpiresAtParam, signedlink.FormatExpiresAt(expiresAt))
	}

	return signedlink.BuildURL(l.publicBaseURL, l.dataset, key, query), nil
}

func (l *LocalStorage) objectPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(key)), nil
}

// writeFileAtomic writes into a temp file next to path and renames it into
// place, so readers never observe a partially written object.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func hasSeparator(name string) bool {
	return name == "." || name == ".." || filepath.Base(name) != name
}

var _ storage.Storage = (*LocalStorage)(nil)
