package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sashko-guz/objstore/internal/metrics"
)

// InstrumentedStorage records the outcome and latency of every call.
type InstrumentedStorage struct {
	underlying Storage
	dataset    string
	metrics    *metrics.Metrics
}

func NewInstrumentedStorage(underlying Storage, dataset string, m *metrics.Metrics) *InstrumentedStorage {
	return &InstrumentedStorage{underlying: underlying, dataset: dataset, metrics: m}
}

func (s *InstrumentedStorage) observe(operation string, start time.Time, err error) {
	s.metrics.ObserveStorage(s.dataset, operation, outcome(err), time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeAbsent
	default:
		return metrics.OutcomeError
	}
}

func (s *InstrumentedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.underlying.Get(ctx, key)
	s.observe("get", start, err)
	return data, err
}

func (s *InstrumentedStorage) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.underlying.Put(ctx, key, data)
	s.observe("put", start, err)
	return err
}

func (s *InstrumentedStorage) PutFromPath(ctx context.Context, key, sourcePath string) error {
	start := time.Now()
	err := s.underlying.PutFromPath(ctx, key, sourcePath)
	s.observe("put_from_path", start, err)
	return err
}

func (s *InstrumentedStorage) SignedURL(ctx context.Context, key string, opts ...SignOption) (string, error) {
	start := time.Now()
	u, err := s.underlying.SignedURL(ctx, key, opts...)
	s.observe("signed_url", start, err)
	return u, err
}

var _ Storage = (*InstrumentedStorage)(nil)
