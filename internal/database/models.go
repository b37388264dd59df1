package database

import "time"

// Media is the denormalized row returned by every media read: scalar
// fields plus the aggregated relation sets. The shape is identical
// whether the row came from a plain listing, a faceted search, or a
// lookup by id, so callers never branch on query provenance.
type Media struct {
	ID             int64               `json:"id"`
	SHA256         string              `json:"sha256"`
	PerceptualHash string              `json:"perceptualHash,omitempty"` // 16 hex digits
	StorageURI     string              `json:"storageUri"`
	Type           string              `json:"type,omitempty"`
	Title          string              `json:"title,omitempty"`
	Description    string              `json:"description,omitempty"`
	Created        *time.Time          `json:"created,omitempty"`
	Uploaded       time.Time           `json:"uploaded"`
	TagGroups      map[string][]string `json:"tagGroups"`
	Creators       []string            `json:"creators"`
	Sources        []string            `json:"sources"`
	Collections    []string            `json:"collections"`
}

// SimilarMedia is a Media row with its Hamming distance from the
// reference hash of a similarity search.
type SimilarMedia struct {
	Media
	Distance int `json:"distance"`
}

// Collection is a denormalized collection row. Media holds the member
// ids in curated order when the query requested them.
type Collection struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Parent      *int64              `json:"parent,omitempty"`
	Path        string              `json:"path,omitempty"`
	Description string              `json:"description,omitempty"`
	Created     time.Time           `json:"created"`
	Creators    []string            `json:"creators"`
	TagGroups   map[string][]string `json:"tagGroups"`
	Media       []int64             `json:"media,omitempty"`
}

// Creator is a creator row with its lookup aliases. Name keeps its
// original casing; aliases are stored lowercase.
type Creator struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// TagCount is a tag with its usage count, for listings and
// autocomplete ranking.
type TagCount struct {
	Tag   string `json:"tag"`
	Group string `json:"group"`
	Count int    `json:"count"`
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	ID    int64  `json:"id,omitempty"`
	Value string `json:"value"`
	Kind  string `json:"kind"` // "tag", "creator", "collection"
	Count int    `json:"count"`
}

// DuplicatePair is two media ids whose perceptual hashes are within
// the requested Hamming distance.
type DuplicatePair struct {
	MediaID  int64 `json:"mediaId"`
	OtherID  int64 `json:"otherId"`
	Distance int   `json:"distance"`
}

// MediaRelations carries the desired relation sets of a media write.
// A nil field requests no change; an empty non-nil field clears the
// relation.
type MediaRelations struct {
	Tags            *map[string][]string
	Creators        *[]string
	Sources         *[]string
	CollectionPaths *[]string
}

// MediaPatch carries optional scalar updates for a media item. Nil
// fields keep the stored value.
type MediaPatch struct {
	Title          *string
	Description    *string
	Created        *time.Time
	PerceptualHash *uint64
}

// CollectionRelations carries the desired relation sets of a
// collection write, with the same nil/empty convention as
// MediaRelations. MediaOrdered is a full replacement: ordinals are
// recomputed densely from slice position.
type CollectionRelations struct {
	Tags         *map[string][]string
	Creators     *[]string
	MediaOrdered *[]int64
}
