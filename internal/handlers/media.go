package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-catalog/internal/database"
	"media-catalog/internal/logging"
	"media-catalog/internal/phash"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
)

// maxUploadBytes caps a single upload.
const maxUploadBytes = 512 << 20

const thumbnailSize = 320

// mediaUploadMeta is the JSON part of a multipart upload.
type mediaUploadMeta struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Created     *time.Time          `json:"created"`
	TagGroups   map[string][]string `json:"tagGroups"`
	Creators    []string            `json:"creators"`
	Sources     []string            `json:"sources"`
	Collections []string            `json:"collections"`
}

// UploadMedia handles POST /v1/media: a multipart request with a
// "file" part and an optional "data" JSON part. The content digest is
// computed server-side; uploading bytes already in the catalog is a
// conflict.
func (h *Handlers) UploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeBadRequest(w, "invalid multipart request")
		return
	}

	var meta mediaUploadMeta
	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &meta); err != nil {
			writeBadRequest(w, "invalid data payload")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "missing file part")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(content) == 0 {
		writeBadRequest(w, "empty file")
		return
	}

	sha, err := phash.SHA256Hex(bytes.NewReader(content))
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := http.DetectContentType(content)
	nm := database.NewMedia{
		SHA256:      sha,
		Type:        typeFromContentType(contentType),
		Title:       meta.Title,
		Description: meta.Description,
		Relations: database.MediaRelations{
			Tags:            &meta.TagGroups,
			Creators:        &meta.Creators,
			Sources:         &meta.Sources,
			CollectionPaths: &meta.Collections,
		},
	}
	if meta.Created != nil {
		created := meta.Created.Unix()
		nm.Created = &created
	}

	storagePath := filepath.Join(h.storageDir, sha+extensionFor(header.Filename, contentType))
	nm.StorageURI = storagePath

	if nm.Type == "image" {
		if hash, err := phash.HashBytes(content); err == nil {
			nm.PerceptualHash = &hash
		} else {
			logging.Warn("failed to fingerprint %s: %v", sha, err)
		}
	}

	if err := os.WriteFile(storagePath, content, 0644); err != nil {
		writeError(w, fmt.Errorf("failed to store upload: %w", err))
		return
	}
	thumbPath := h.thumbnailPath(sha)
	if nm.Type == "image" {
		if err := writeThumbnail(content, thumbPath); err != nil {
			logging.Warn("failed to generate thumbnail for %s: %v", sha, err)
			thumbPath = ""
		}
	} else {
		thumbPath = ""
	}

	id, err := h.db.CreateMedia(r.Context(), nm)
	if err != nil {
		// Keep the store consistent with the catalog: a failed insert
		// must not leave orphan files behind.
		removeQuietly(storagePath)
		if thumbPath != "" {
			removeQuietly(thumbPath)
		}
		writeError(w, err)
		return
	}

	m, err := h.db.GetMedia(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(m); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// GetMedia handles GET /v1/media/{id}.
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid media id")
		return
	}
	m, err := h.db.GetMedia(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, m)
}

// GetMediaBySHA256 handles GET /v1/media/by_hash/{sha256}.
func (h *Handlers) GetMediaBySHA256(w http.ResponseWriter, r *http.Request) {
	sha := mux.Vars(r)["sha256"]
	if len(sha) != 64 {
		writeBadRequest(w, "invalid sha256")
		return
	}
	m, err := h.db.GetMediaBySHA256(r.Context(), sha)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, m)
}

// ListMedia handles GET /v1/media.
func (h *Handlers) ListMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.db.ListMedia(r.Context(), pageFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []database.Media{}
	}
	writeJSON(w, items)
}

// mediaPatchRequest distinguishes absent fields (keep) from empty
// ones (clear) through pointers.
type mediaPatchRequest struct {
	Title          *string              `json:"title"`
	Description    *string              `json:"description"`
	Created        *time.Time           `json:"created"`
	PerceptualHash *string              `json:"perceptualHash"`
	TagGroups      *map[string][]string `json:"tagGroups"`
	Creators       *[]string            `json:"creators"`
	Sources        *[]string            `json:"sources"`
	Collections    *[]string            `json:"collections"`
}

// PatchMedia handles PATCH /v1/media/{id}.
func (h *Handlers) PatchMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid media id")
		return
	}

	var req mediaPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	patch := database.MediaPatch{
		Title:       req.Title,
		Description: req.Description,
		Created:     req.Created,
	}
	if req.PerceptualHash != nil {
		hash, err := phash.Parse(*req.PerceptualHash)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		patch.PerceptualHash = &hash
	}

	err := h.db.PatchMedia(r.Context(), id, patch, database.MediaRelations{
		Tags:            req.TagGroups,
		Creators:        req.Creators,
		Sources:         req.Sources,
		CollectionPaths: req.Collections,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.db.GetMedia(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, m)
}

// DeleteMedia handles DELETE /v1/media/{id}. The stored file and
// thumbnail go with the row.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid media id")
		return
	}

	m, err := h.db.GetMedia(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.db.DeleteMedia(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	removeQuietly(m.StorageURI)
	removeQuietly(h.thumbnailPath(m.SHA256))

	w.WriteHeader(http.StatusNoContent)
}

// GetMediaFile handles GET /v1/media/{id}/file, serving the stored
// bytes.
func (h *Handlers) GetMediaFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid media id")
		return
	}
	m, err := h.db.GetMedia(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, m.StorageURI)
}

// GetMediaThumbnail handles GET /v1/media/{id}/thumbnail.
func (h *Handlers) GetMediaThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid media id")
		return
	}
	m, err := h.db.GetMedia(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	thumbPath := h.thumbnailPath(m.SHA256)
	if _, err := os.Stat(thumbPath); err != nil {
		// Regenerate lazily from the original.
		content, err := os.ReadFile(m.StorageURI)
		if err != nil {
			writeError(w, database.NotFoundf("thumbnail not available"))
			return
		}
		if err := writeThumbnail(content, thumbPath); err != nil {
			writeError(w, database.NotFoundf("thumbnail not available"))
			return
		}
	}
	http.ServeFile(w, r, thumbPath)
}

func (h *Handlers) thumbnailPath(sha string) string {
	return filepath.Join(h.thumbnailDir, sha+".jpg")
}

// writeThumbnail decodes content and writes a bounded JPEG thumbnail.
func writeThumbnail(content []byte, path string) error {
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, path, imaging.JPEGQuality(80)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return nil
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove %s: %v", path, err)
	}
}

func typeFromContentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "other"
	}
}

// extensionFor picks a file extension, preferring the client's name.
func extensionFor(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
