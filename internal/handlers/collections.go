package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"media-catalog/internal/database"

	"github.com/gorilla/mux"
)

// ListCollections handles GET /v1/collections.
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.db.ListCollections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if collections == nil {
		collections = []database.Collection{}
	}
	writeJSON(w, collections)
}

// GetCollection handles GET /v1/collections/{id}.
func (h *Handlers) GetCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid collection id")
		return
	}
	c, err := h.db.GetCollection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// GetCollectionByPath handles GET /v1/collections/by_path/{path},
// where the path may span multiple segments.
func (h *Handlers) GetCollectionByPath(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	c, err := h.db.GetCollectionByPath(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// collectionCreateRequest is the body of a collection create. Path
// takes precedence over Name/Parent and auto-creates missing
// ancestors.
type collectionCreateRequest struct {
	Name        string               `json:"name"`
	Parent      *int64               `json:"parent"`
	Path        string               `json:"path"`
	Description string               `json:"description"`
	TagGroups   *map[string][]string `json:"tagGroups"`
	Creators    *[]string            `json:"creators"`
	Media       *[]int64             `json:"media"`
}

// CreateCollection handles POST /v1/collections.
func (h *Handlers) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rel := database.CollectionRelations{
		Tags:         req.TagGroups,
		Creators:     req.Creators,
		MediaOrdered: req.Media,
	}

	var (
		id  int64
		err error
	)
	if strings.TrimSpace(req.Path) != "" {
		id, err = h.db.CreateCollectionPath(r.Context(), req.Path, req.Description, rel)
	} else {
		id, err = h.db.CreateCollection(r.Context(), req.Name, req.Parent, req.Description, rel)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.db.GetCollection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, c)
}

// collectionPatchRequest updates collection fields and relations. A
// present "parent" key reparents, with null meaning move to root.
type collectionPatchRequest struct {
	Name        *string              `json:"name"`
	Description *string              `json:"description"`
	Parent      *int64               `json:"parent"`
	TagGroups   *map[string][]string `json:"tagGroups"`
	Creators    *[]string            `json:"creators"`
	Media       *[]int64             `json:"media"`

	rawKeys map[string]json.RawMessage
}

func (c *collectionPatchRequest) UnmarshalJSON(data []byte) error {
	type alias collectionPatchRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = collectionPatchRequest(a)
	return json.Unmarshal(data, &c.rawKeys)
}

// PatchCollection handles PATCH /v1/collections/{id}.
func (h *Handlers) PatchCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid collection id")
		return
	}

	var req collectionPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	_, parentSet := req.rawKeys["parent"]
	patch := database.CollectionPatch{
		Name:        req.Name,
		Description: req.Description,
		Parent:      req.Parent,
		ParentSet:   parentSet,
	}

	err := h.db.PatchCollection(r.Context(), id, patch, database.CollectionRelations{
		Tags:         req.TagGroups,
		Creators:     req.Creators,
		MediaOrdered: req.Media,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := h.db.GetCollection(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// DeleteCollection handles DELETE /v1/collections/{id}.
func (h *Handlers) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid collection id")
		return
	}
	if err := h.db.DeleteCollection(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
