package handlers

import (
	"net/http"

	"media-catalog/internal/database"
)

// ListTags handles GET /v1/tags: all tags with usage counts.
func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.db.ListTags(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tags == nil {
		tags = []database.TagCount{}
	}
	writeJSON(w, tags)
}
