package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/storage"
)

const defaultMaxUploadBytes = 10 << 20

// ObjectsHandler serves the example routes built on the profile image and
// floorplan datasets. It only sees the Storage contract, never a driver.
type ObjectsHandler struct {
	profileImages  storage.Storage
	floorplans     storage.Storage
	maxUploadBytes int64
}

func NewObjectsHandler(profileImages, floorplans storage.Storage, maxUploadBytes int64) *ObjectsHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &ObjectsHandler{
		profileImages:  profileImages,
		floorplans:     floorplans,
		maxUploadBytes: maxUploadBytes,
	}
}

type floorplanResponse struct {
	ID             string `json:"id"`
	OtherFields    string `json:"otherFields"`
	ImageSignedURL string `json:"imageSignedUrl"`
}

func (h *ObjectsHandler) GetProfileImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	data, err := h.profileImages.Get(r.Context(), key)
	if err != nil {
		logger.Debugf("[ObjectsHandler] Profile image %q unavailable: %v", key, err)
		http.Error(w, fmt.Sprintf("Unknown profile image %s!", key), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		logger.Warnf("[ObjectsHandler] Error writing response: %v", err)
	}
}

func (h *ObjectsHandler) PutProfileImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("Profile image exceeds %d bytes!", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warnf("[ObjectsHandler] Error reading upload for %q: %v", key, err)
		http.Error(w, "Error putting profile image!", http.StatusInternalServerError)
		return
	}

	if err := h.profileImages.Put(r.Context(), key, data); err != nil {
		logger.Errorf("[ObjectsHandler] Error putting profile image %q: %v", key, err)
		http.Error(w, "Error putting profile image!", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ObjectsHandler) GetFloorplan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	signedURL, err := h.floorplans.SignedURL(r.Context(), id+".svg")
	if err != nil {
		logger.Debugf("[ObjectsHandler] Floorplan %q unavailable: %v", id, err)
		http.Error(w, fmt.Sprintf("Cannot find floorplan image for key %s!", id), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, floorplanResponse{
		ID:             id,
		OtherFields:    "probablyGoHere",
		ImageSignedURL: signedURL,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[ObjectsHandler] Error encoding JSON response: %v", err)
	}
}
