package drivers

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey is returned for keys that are empty, absolute, or try to
	// leave the dataset through "." or ".." segments.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrUnknownDataset is returned by cloud drivers for datasets without a bucket.
	ErrUnknownDataset = errors.New("unknown dataset")
)

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.ContainsRune(key, '\\') || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func bucketFor(dataset string, buckets map[string]string) (string, error) {
	bucket, ok := buckets[dataset]
	if !ok {
		return "", fmt.Errorf("%w: no bucket mapping for dataset '%s'", ErrUnknownDataset, dataset)
	}
	if bucket == "" {
		return "", fmt.Errorf("bucket for dataset '%s' is empty", dataset)
	}
	return bucket, nil
}
