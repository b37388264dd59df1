package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"

	"media-catalog/internal/database"
	"media-catalog/internal/startup"

	"github.com/gorilla/mux"
)

// setupHandlers builds a Handlers instance on a fresh database and
// temp storage, plus a router with the API routes.
func setupHandlers(t *testing.T) (*Handlers, *mux.Router) {
	t.Helper()

	dataDir := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(dataDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	config := &startup.Config{
		StorageDir:   dataDir,
		ThumbnailDir: dataDir,
	}
	h := New(db, config)

	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/search", h.Search).Methods("GET")
	v1.HandleFunc("/search", h.SearchPost).Methods("POST")
	v1.HandleFunc("/search/similar/{hash}", h.SearchSimilar).Methods("GET")
	v1.HandleFunc("/autocomplete", h.Autocomplete).Methods("GET")
	v1.HandleFunc("/media", h.ListMedia).Methods("GET")
	v1.HandleFunc("/media", h.UploadMedia).Methods("POST")
	v1.HandleFunc("/media/duplicates", h.Duplicates).Methods("GET")
	v1.HandleFunc("/media/by_hash/{sha256}", h.GetMediaBySHA256).Methods("GET")
	v1.HandleFunc("/media/{id}", h.GetMedia).Methods("GET")
	v1.HandleFunc("/media/{id}", h.PatchMedia).Methods("PATCH")
	v1.HandleFunc("/media/{id}", h.DeleteMedia).Methods("DELETE")
	v1.HandleFunc("/media/{id}/file", h.GetMediaFile).Methods("GET")
	v1.HandleFunc("/collections", h.ListCollections).Methods("GET")
	v1.HandleFunc("/collections", h.CreateCollection).Methods("POST")
	v1.HandleFunc("/collections/by_path/{path:.*}", h.GetCollectionByPath).Methods("GET")
	v1.HandleFunc("/collections/{id}", h.GetCollection).Methods("GET")
	v1.HandleFunc("/collections/{id}", h.PatchCollection).Methods("PATCH")
	v1.HandleFunc("/creators", h.ListCreators).Methods("GET")
	v1.HandleFunc("/creators/by_alias/{alias}", h.GetCreatorByAlias).Methods("GET")
	v1.HandleFunc("/creators/{id}", h.PatchCreator).Methods("PATCH")
	v1.HandleFunc("/tags", h.ListTags).Methods("GET")

	return h, r
}

// doJSON issues a request with an optional JSON body and decodes the
// JSON response into out when non-nil.
func doJSON(t *testing.T, router *mux.Router, method, target string, body, out interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		// json.Unmarshal merges into the existing value; reset out so a
		// reused destination cannot carry stale fields a later response
		// omits.
		if v := reflect.ValueOf(out); v.Kind() == reflect.Ptr && !v.IsNil() {
			v.Elem().Set(reflect.Zero(v.Elem().Type()))
		}
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

// pngBytes encodes a small solid-color PNG for upload tests.
func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// newUploadRequest builds a multipart upload request with a "file"
// part and an optional "data" JSON part.
func newUploadRequest(t *testing.T, filename string, content []byte, meta interface{}) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			t.Fatalf("marshal meta: %v", err)
		}
		if err := mw.WriteField("data", string(data)); err != nil {
			t.Fatalf("write data field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/v1/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router *mux.Router, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func mediaURL(id int64) string {
	return fmt.Sprintf("/v1/media/%d", id)
}

// uploadMedia posts a multipart upload and returns the created media.
func uploadMedia(t *testing.T, router *mux.Router, filename string, content []byte, meta interface{}) database.Media {
	t.Helper()

	rec := serve(router, newUploadRequest(t, filename, content, meta))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body.String())
	}
	var m database.Media
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return m
}

func TestErrorStatusMapping(t *testing.T) {
	_, router := setupHandlers(t)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"unknown media id", "GET", "/v1/media/9999", http.StatusNotFound},
		{"bad media id", "GET", "/v1/media/0", http.StatusBadRequest},
		{"unknown collection path", "GET", "/v1/collections/by_path/No/Such", http.StatusNotFound},
		{"unknown alias", "GET", "/v1/creators/by_alias/nobody", http.StatusNotFound},
		{"malformed similarity hash", "GET", "/v1/search/similar/xyz", http.StatusBadRequest},
		{"autocomplete without prefix", "GET", "/v1/autocomplete", http.StatusBadRequest},
		{"autocomplete bad kind", "GET", "/v1/autocomplete?q=x&kind=nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.target, nil, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.target, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	_, router := setupHandlers(t)

	var resp HealthResponse
	rec := doJSON(t, router, "GET", "/health", nil, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if resp.Status != statusHealthy {
		t.Errorf("status = %q, want %q", resp.Status, statusHealthy)
	}
}

func TestGetVersion(t *testing.T) {
	_, router := setupHandlers(t)

	var info startup.BuildInfo
	rec := doJSON(t, router, "GET", "/version", nil, &info)
	if rec.Code != http.StatusOK {
		t.Fatalf("version = %d", rec.Code)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion missing from version response")
	}
}
