package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"media-catalog/internal/database"
	"media-catalog/internal/phash"

	"github.com/gorilla/mux"
)

// splitSigned partitions comma-separated terms into includes and
// excludes; a leading dash marks exclusion. The dash convention only
// exists at this boundary, the store works with explicit lists.
func splitSigned(raw string) (include, exclude []string) {
	for _, term := range strings.Split(raw, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.HasPrefix(term, "-") {
			if rest := strings.TrimSpace(term[1:]); rest != "" {
				exclude = append(exclude, rest)
			}
			continue
		}
		include = append(include, term)
	}
	return include, exclude
}

// Search handles GET /v1/search. Facets arrive as comma-separated
// query parameters; tags, creators, and collections take the dash
// prefix for exclusion.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := database.SearchQuery{
		Description: strings.TrimSpace(q.Get("description")),
		Uncollected: q.Get("uncollected") == "true",
		Page:        pageFromQuery(r),
	}
	query.TagsInclude, query.TagsExclude = splitSigned(q.Get("tags"))
	query.Creators, query.CreatorsExclude = splitSigned(q.Get("creators"))
	query.Collections, query.CollectionsExclude = splitSigned(q.Get("collections"))

	items, err := h.db.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []database.Media{}
	}
	writeJSON(w, items)
}

// searchRequest is the POST body form of a search, with explicit
// include and exclude lists instead of the dash convention.
type searchRequest struct {
	Tags               []string `json:"tags"`
	TagsExclude        []string `json:"tagsExclude"`
	Creators           []string `json:"creators"`
	CreatorsExclude    []string `json:"creatorsExclude"`
	Collections        []string `json:"collections"`
	CollectionsExclude []string `json:"collectionsExclude"`
	Description        string   `json:"description"`
	Uncollected        bool     `json:"uncollected"`
	PerPage            int      `json:"perPage"`
	Last               int      `json:"last"`
}

// SearchPost handles POST /v1/search.
func (h *Handlers) SearchPost(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	items, err := h.db.Search(r.Context(), database.SearchQuery{
		TagsInclude:        req.Tags,
		TagsExclude:        req.TagsExclude,
		Creators:           req.Creators,
		CreatorsExclude:    req.CreatorsExclude,
		Collections:        req.Collections,
		CollectionsExclude: req.CollectionsExclude,
		Description:        req.Description,
		Uncollected:        req.Uncollected,
		Page:               database.Page{PerPage: req.PerPage, Offset: req.Last},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []database.Media{}
	}
	writeJSON(w, items)
}

// SearchSimilar handles GET /v1/search/similar/{hash}: media ranked by
// Hamming distance from the given perceptual hash.
func (h *Handlers) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	hash, err := phash.Parse(mux.Vars(r)["hash"])
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	maxDistance := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("max_distance")); err == nil {
		maxDistance = v
	}

	items, err := h.db.SearchSimilar(r.Context(), hash, maxDistance, pageFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []database.SimilarMedia{}
	}
	writeJSON(w, items)
}

// Duplicates handles GET /v1/media/duplicates: pairs of media whose
// perceptual hashes fall within a Hamming distance bound.
func (h *Handlers) Duplicates(w http.ResponseWriter, r *http.Request) {
	maxDistance := database.DefaultMaxDistance
	if v, err := strconv.Atoi(r.URL.Query().Get("max_distance")); err == nil {
		maxDistance = v
	}

	pairs, err := h.db.Duplicates(r.Context(), maxDistance)
	if err != nil {
		writeError(w, err)
		return
	}
	if pairs == nil {
		pairs = []database.DuplicatePair{}
	}
	writeJSON(w, pairs)
}

// Autocomplete handles GET /v1/autocomplete?q=prefix&kind=tag.
func (h *Handlers) Autocomplete(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	if prefix == "" {
		writeBadRequest(w, "missing query prefix")
		return
	}

	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", "tag", "creator", "collection":
	default:
		writeBadRequest(w, "kind must be tag, creator, or collection")
		return
	}

	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}

	suggestions, err := h.db.Autocomplete(r.Context(), prefix, kind, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []database.Suggestion{}
	}
	writeJSON(w, suggestions)
}
