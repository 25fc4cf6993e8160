package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sashko-guz/objstore/internal/metrics"
	"github.com/sashko-guz/objstore/internal/signedlink"
	"github.com/sashko-guz/objstore/internal/storage"
)

type RouterConfig struct {
	Registry       *storage.Registry
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	objects := NewObjectsHandler(cfg.Registry.ProfileImages(), cfg.Registry.Floorplans(), cfg.MaxUploadBytes)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(cfg.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Object storage example server. Try /profile-images/{key} or /floorplans/{id}."))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Get("/profile-images/{key}", objects.GetProfileImage)
	r.Put("/profile-images/{key}", objects.PutProfileImage)
	r.Get("/floorplans/{id}", objects.GetFloorplan)

	// Mounted for every driver; the gate itself answers 404 unless local is active.
	r.Handle(signedlink.RoutePrefix+"/*", cfg.Registry.SignedLinkHandler())

	return r
}
