package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"media-catalog/internal/database"

	"github.com/gorilla/mux"
)

// ListCreators handles GET /v1/creators.
func (h *Handlers) ListCreators(w http.ResponseWriter, r *http.Request) {
	creators, err := h.db.ListCreators(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if creators == nil {
		creators = []database.Creator{}
	}
	writeJSON(w, creators)
}

// GetCreator handles GET /v1/creators/{id}.
func (h *Handlers) GetCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid creator id")
		return
	}
	c, err := h.db.GetCreator(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// GetCreatorByAlias handles GET /v1/creators/by_alias/{alias}.
func (h *Handlers) GetCreatorByAlias(w http.ResponseWriter, r *http.Request) {
	alias := strings.TrimSpace(mux.Vars(r)["alias"])
	if alias == "" {
		writeBadRequest(w, "missing alias")
		return
	}
	c, err := h.db.GetCreatorByAlias(r.Context(), alias)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

type creatorPatchRequest struct {
	Name    *string   `json:"name"`
	Aliases *[]string `json:"aliases"`
}

// PatchCreator handles PATCH /v1/creators/{id}.
func (h *Handlers) PatchCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid creator id")
		return
	}

	var req creatorPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := h.db.PatchCreator(r.Context(), id, database.CreatorPatch{
		Name:    req.Name,
		Aliases: req.Aliases,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.db.GetCreator(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// DeleteCreator handles DELETE /v1/creators/{id}.
func (h *Handlers) DeleteCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid creator id")
		return
	}
	if err := h.db.DeleteCreator(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
