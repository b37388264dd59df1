package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"media-catalog/internal/database"
	"media-catalog/internal/logging"
	"media-catalog/internal/startup"

	"github.com/gorilla/mux"
)

// Handlers carries the shared dependencies of all HTTP handlers.
type Handlers struct {
	db           *database.Database
	storageDir   string
	thumbnailDir string
}

func New(db *database.Database, config *startup.Config) *Handlers {
	return &Handlers{
		db:           db,
		storageDir:   config.StorageDir,
		thumbnailDir: config.ThumbnailDir,
	}
}

// writeJSON encodes v as JSON. Encoding failures are logged; by then
// the status line is already on the wire.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeError maps a catalog error to an HTTP status and writes a JSON
// error body. Internal detail stays in the log.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch database.KindOf(err) {
	case database.KindNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case database.KindBadRequest:
		status = http.StatusBadRequest
		message = err.Error()
	case database.KindConflict:
		status = http.StatusConflict
		message = err.Error()
	default:
		logging.Error("internal error: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode error response: %v", err)
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode error response: %v", err)
	}
}

// pathID extracts the {id} route variable.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// pageFromQuery reads the per_page and last query parameters. last is
// the number of results already consumed, i.e. the offset.
func pageFromQuery(r *http.Request) database.Page {
	var page database.Page
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil {
		page.PerPage = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("last")); err == nil {
		page.Offset = v
	}
	return page
}
