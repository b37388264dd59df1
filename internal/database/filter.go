package database

import (
	"fmt"
	"strings"
)

// Page bounds a result window. Applied after all filtering and
// ordering; the zero value means the defaults.
type Page struct {
	PerPage int
	Offset  int
}

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

func (p Page) normalized() Page {
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// FilterNode is one facet predicate of a search. The nodes form a
// small intermediate representation that compileFilter lowers into a
// single grouped subquery, so predicate composition can be tested
// without a live database. Facets combine with AND semantics.
type FilterNode interface {
	filterNode()
}

// TagInclude matches media whose full tag set contains every listed
// tag. Evaluated post-aggregation over the media's grouped tag rows.
type TagInclude struct {
	Tags []string
}

// TagExclude matches media whose full tag set contains none of the
// listed tags.
type TagExclude struct {
	Tags []string
}

// CreatorSet matches media associated with at least one of the named
// creators, resolved through the alias table. Exclude inverts the
// predicate to "none of".
type CreatorSet struct {
	Names   []string
	Exclude bool
}

// CollectionSet matches media that are members of at least one of the
// listed collections. Exclude inverts to "member of none".
type CollectionSet struct {
	IDs     []int64
	Exclude bool
}

// Uncollected matches media that belong to no collection at all.
type Uncollected struct{}

// SimilarityBound matches media whose perceptual hash is within
// MaxDistance bits of Hash. Media without a perceptual hash never
// match.
type SimilarityBound struct {
	Hash        uint64
	MaxDistance int
}

// DescriptionMatch matches media whose description contains Pattern,
// case-insensitively (SQLite LIKE).
type DescriptionMatch struct {
	Pattern string
}

func (TagInclude) filterNode()       {}
func (TagExclude) filterNode()       {}
func (CreatorSet) filterNode()       {}
func (CollectionSet) filterNode()    {}
func (Uncollected) filterNode()      {}
func (SimilarityBound) filterNode()  {}
func (DescriptionMatch) filterNode() {}

// DefaultMaxDistance is the near-duplicate threshold used when a
// similarity query does not specify one.
const DefaultMaxDistance = 8

// compileFilter lowers filter nodes into one subquery selecting
// matching media ids. Set-containment predicates land in HAVING,
// evaluated after grouping by media id so each predicate sees the
// complete per-media relation set; per-row predicates (similarity,
// description) land in WHERE.
func compileFilter(nodes []FilterNode) (string, []interface{}, error) {
	var (
		joins  []string
		where  []string
		having []string
		args   []interface{}
	)

	needTags := false
	needCreators := false
	needCollections := false

	for _, node := range nodes {
		switch n := node.(type) {
		case TagInclude:
			tags := normalizeKeys(n.Tags)
			if len(tags) == 0 {
				return "", nil, BadRequestf("tag include list is empty")
			}
			needTags = true
			having = append(having, fmt.Sprintf(
				"COUNT(DISTINCT CASE WHEN t.tag IN (%s) THEN t.tag END) = ?",
				placeholders(len(tags))))
			args = append(args, toAnySlice(tags)...)
			args = append(args, len(tags))

		case TagExclude:
			tags := normalizeKeys(n.Tags)
			if len(tags) == 0 {
				return "", nil, BadRequestf("tag exclude list is empty")
			}
			needTags = true
			having = append(having, fmt.Sprintf(
				"COUNT(CASE WHEN t.tag IN (%s) THEN 1 END) = 0",
				placeholders(len(tags))))
			args = append(args, toAnySlice(tags)...)

		case CreatorSet:
			names := normalizeKeys(n.Names)
			if len(names) == 0 {
				return "", nil, BadRequestf("creator list is empty")
			}
			needCreators = true
			op := "> 0"
			if n.Exclude {
				op = "= 0"
			}
			having = append(having, fmt.Sprintf(
				"COUNT(CASE WHEN ca.alias IN (%s) THEN 1 END) %s",
				placeholders(len(names)), op))
			args = append(args, toAnySlice(names)...)

		case CollectionSet:
			if len(n.IDs) == 0 {
				return "", nil, BadRequestf("collection list is empty")
			}
			needCollections = true
			op := "> 0"
			if n.Exclude {
				op = "= 0"
			}
			having = append(having, fmt.Sprintf(
				"COUNT(CASE WHEN mcl.collection_id IN (%s) THEN 1 END) %s",
				placeholders(len(n.IDs)), op))
			for _, id := range n.IDs {
				args = append(args, id)
			}

		case Uncollected:
			needCollections = true
			having = append(having, "COUNT(mcl.collection_id) = 0")

		case SimilarityBound:
			where = append(where,
				"m.perceptual_hash IS NOT NULL AND hamming_distance(m.perceptual_hash, ?) <= ?")
			args = append(args, int64(n.Hash), n.MaxDistance)

		case DescriptionMatch:
			if n.Pattern == "" {
				return "", nil, BadRequestf("description pattern is empty")
			}
			where = append(where, "m.description LIKE ?")
			args = append(args, "%"+n.Pattern+"%")

		default:
			return "", nil, BadRequestf("unknown filter node %T", node)
		}
	}

	if needTags {
		joins = append(joins,
			"LEFT JOIN media_tags mt ON mt.media_id = m.id",
			"LEFT JOIN tags t ON t.id = mt.tag_id")
	}
	if needCreators {
		joins = append(joins,
			"LEFT JOIN media_creators mc ON mc.media_id = m.id",
			"LEFT JOIN creator_alias ca ON ca.creator_id = mc.creator_id")
	}
	if needCollections {
		joins = append(joins,
			"LEFT JOIN media_collection mcl ON mcl.media_id = m.id")
	}

	var b strings.Builder
	b.WriteString("SELECT m.id FROM media m")
	for _, j := range joins {
		b.WriteString("\n\t")
		b.WriteString(j)
	}
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nGROUP BY m.id")
	if len(having) > 0 {
		b.WriteString("\nHAVING ")
		b.WriteString(strings.Join(having, " AND "))
	}

	return b.String(), args, nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// normalizeKeys lowercases and trims lookup keys, dropping empties and
// duplicates while preserving order.
func normalizeKeys(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func toAnySlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
