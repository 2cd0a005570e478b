package handler

import (
	"net/http"

	"github.com/remiblancher/provkit/internal/api/dto"
	"github.com/remiblancher/provkit/internal/api/service"
)

// TSAHandler exposes timestamp request construction for diagnostics.
type TSAHandler struct {
	service *service.ProvenanceService
}

func NewTSAHandler(svc *service.ProvenanceService) *TSAHandler {
	return &TSAHandler{service: svc}
}

// Request handles POST /api/v1/tsa/request
func (h *TSAHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req dto.TimestampRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.service.TimestampRequest(r.Context(), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Inspect handles POST /api/v1/tsa/inspect
func (h *TSAHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	var req dto.TimestampInspectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.service.InspectTimestampRequest(r.Context(), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
