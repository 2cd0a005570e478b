package handler

import (
	"net/http"

	"github.com/remiblancher/provkit/internal/api/dto"
	"github.com/remiblancher/provkit/internal/api/service"
)

// ManifestHandler handles manifest read and asset sign requests.
type ManifestHandler struct {
	service *service.ProvenanceService
}

func NewManifestHandler(svc *service.ProvenanceService) *ManifestHandler {
	return &ManifestHandler{service: svc}
}

// Read handles POST /api/v1/manifests/read
func (h *ManifestHandler) Read(w http.ResponseWriter, r *http.Request) {
	var req dto.ReadManifestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	store, err := h.service.Read(r.Context(), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, store)
}

// ReadSidecar handles POST /api/v1/manifests/read-sidecar
func (h *ManifestHandler) ReadSidecar(w http.ResponseWriter, r *http.Request) {
	var req dto.ReadSidecarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	store, err := h.service.ReadSidecar(r.Context(), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, store)
}

// Sign handles POST /api/v1/assets/sign
func (h *ManifestHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req dto.SignAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.service.Sign(r.Context(), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
