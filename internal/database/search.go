package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// baseMediaColumns is the projection shared by every media read. The
// relation sets are aggregated per media id with the JSON1 functions,
// so the row shape never changes no matter which filters applied.
const baseMediaColumns = `
	m.id, m.sha256, m.perceptual_hash, m.storage_uri, m.type, m.title,
	m.description, m.created, m.uploaded,
	COALESCE((SELECT json_group_object(g.name, json(g.ts)) FROM (
		SELECT tg.name AS name, json_group_array(t.tag) AS ts
		FROM media_tags mt
		JOIN tags t ON t.id = mt.tag_id
		JOIN tag_groups tg ON tg.id = t.group_id
		WHERE mt.media_id = m.id
		GROUP BY tg.name) g), '{}') AS tag_groups,
	(SELECT json_group_array(c.name) FROM media_creators mc
		JOIN creators c ON c.id = mc.creator_id
		WHERE mc.media_id = m.id) AS creators,
	(SELECT json_group_array(s.source) FROM sources s
		WHERE s.media_id = m.id) AS sources,
	(SELECT json_group_array(cl.name) FROM media_collection mcl
		JOIN collections cl ON cl.id = mcl.collection_id
		WHERE mcl.media_id = m.id) AS collections`

const baseMediaSelect = "SELECT" + baseMediaColumns + "\nFROM media m"

// SearchQuery is the faceted search input. Include/exclude lists are
// already classified; the leading-dash convention is an API-boundary
// concern handled before this package.
type SearchQuery struct {
	TagsInclude        []string
	TagsExclude        []string
	Creators           []string
	CreatorsExclude    []string
	Collections        []string // collection paths
	CollectionsExclude []string
	Description        string
	Uncollected        bool
	Page               Page
}

// nodes lowers the query into filter IR, resolving collection paths to
// ids through the resolver. An unresolvable path is a client error,
// reported rather than silently dropped.
func (d *Database) nodes(ctx context.Context, q SearchQuery) ([]FilterNode, error) {
	var nodes []FilterNode

	if len(q.TagsInclude) > 0 {
		nodes = append(nodes, TagInclude{Tags: q.TagsInclude})
	}
	if len(q.TagsExclude) > 0 {
		nodes = append(nodes, TagExclude{Tags: q.TagsExclude})
	}
	if len(q.Creators) > 0 {
		nodes = append(nodes, CreatorSet{Names: q.Creators})
	}
	if len(q.CreatorsExclude) > 0 {
		nodes = append(nodes, CreatorSet{Names: q.CreatorsExclude, Exclude: true})
	}
	if len(q.Collections) > 0 {
		ids, err := d.resolvePaths(ctx, d.db, q.Collections)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, CollectionSet{IDs: ids})
	}
	if len(q.CollectionsExclude) > 0 {
		ids, err := d.resolvePaths(ctx, d.db, q.CollectionsExclude)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, CollectionSet{IDs: ids, Exclude: true})
	}
	if q.Uncollected {
		nodes = append(nodes, Uncollected{})
	}
	if q.Description != "" {
		nodes = append(nodes, DescriptionMatch{Pattern: q.Description})
	}
	return nodes, nil
}

// Search runs a faceted media search. Facets combine with AND
// semantics; results are ordered by upload time descending and bounded
// by q.Page.
func (d *Database) Search(ctx context.Context, q SearchQuery) ([]Media, error) {
	done := metrics.ObserveQuery("search")
	metrics.SearchQueriesTotal.WithLabelValues("faceted").Inc()

	nodes, err := d.nodes(ctx, q)
	if err != nil {
		done(err)
		return nil, err
	}

	query := baseMediaSelect
	var args []interface{}

	if len(nodes) > 0 {
		sub, subArgs, err := compileFilter(nodes)
		if err != nil {
			done(err)
			return nil, err
		}
		query += "\nWHERE m.id IN (" + indent(sub) + ")"
		args = subArgs
	}

	page := q.Page.normalized()
	query += "\nORDER BY m.uploaded DESC, m.id DESC\nLIMIT ? OFFSET ?"
	args = append(args, page.PerPage, page.Offset)

	items, err := d.queryMedia(ctx, query, args...)
	done(err)
	if err == nil {
		metrics.SearchResultsReturned.Observe(float64(len(items)))
	}
	return items, err
}

// SearchSimilar filters and orders media by Hamming distance from
// refHash, nearest first. maxDistance <= 0 selects the near-duplicate
// default. Ties at equal distance fall back to upload recency.
func (d *Database) SearchSimilar(ctx context.Context, refHash uint64, maxDistance int, page Page) ([]SimilarMedia, error) {
	done := metrics.ObserveQuery("search_similar")
	metrics.SearchQueriesTotal.WithLabelValues("similarity").Inc()

	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}

	sub, subArgs, err := compileFilter([]FilterNode{
		SimilarityBound{Hash: refHash, MaxDistance: maxDistance},
	})
	if err != nil {
		done(err)
		return nil, err
	}

	query := "SELECT" + baseMediaColumns +
		",\n\thamming_distance(m.perceptual_hash, ?) AS distance" +
		"\nFROM media m" +
		"\nWHERE m.id IN (" + indent(sub) + ")" +
		"\nORDER BY distance ASC, m.uploaded DESC, m.id DESC\nLIMIT ? OFFSET ?"

	page = page.normalized()
	args := append([]interface{}{int64(refHash)}, subArgs...)
	args = append(args, page.PerPage, page.Offset)

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		done(err)
		return nil, internalErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var items []SimilarMedia
	for rows.Next() {
		var item SimilarMedia
		if err := scanMediaRow(rows, &item.Media, &item.Distance); err != nil {
			done(err)
			return nil, internalErr(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, internalErr(err)
	}

	done(nil)
	return items, nil
}

// ListMedia returns media ordered by upload time descending.
func (d *Database) ListMedia(ctx context.Context, page Page) ([]Media, error) {
	metrics.SearchQueriesTotal.WithLabelValues("list").Inc()
	page = page.normalized()
	return d.queryMedia(ctx,
		baseMediaSelect+"\nORDER BY m.uploaded DESC, m.id DESC\nLIMIT ? OFFSET ?",
		page.PerPage, page.Offset)
}

// Duplicates reports pairs of media whose perceptual hashes are within
// maxDistance bits of each other, closest pairs first.
func (d *Database) Duplicates(ctx context.Context, maxDistance int) ([]DuplicatePair, error) {
	done := metrics.ObserveQuery("duplicates")

	if maxDistance <= 0 {
		maxDistance = 1
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	// Pairwise scan. Fine at catalog scale; an index-assisted
	// BK-tree would be the next step if this ever shows up in the
	// query duration histogram.
	query := `
		SELECT a.id, b.id, hamming_distance(a.perceptual_hash, b.perceptual_hash) AS distance
		FROM media a
		JOIN media b ON b.id > a.id
		WHERE a.perceptual_hash IS NOT NULL
		  AND b.perceptual_hash IS NOT NULL
		  AND hamming_distance(a.perceptual_hash, b.perceptual_hash) <= ?
		ORDER BY distance ASC, a.id ASC, b.id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, maxDistance)
	if err != nil {
		done(err)
		return nil, internalErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var pairs []DuplicatePair
	for rows.Next() {
		var p DuplicatePair
		if err := rows.Scan(&p.MediaID, &p.OtherID, &p.Distance); err != nil {
			done(err)
			return nil, internalErr(err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, internalErr(err)
	}

	done(nil)
	return pairs, nil
}

// Autocomplete returns prefix-matched suggestions across tags,
// creators, and collections, ranked by usage count. kind narrows the
// search to one namespace; empty means all. A leading dash on a tag
// prefix (the exclude convention) is preserved in the suggestions.
func (d *Database) Autocomplete(ctx context.Context, prefix, kind string, limit int) ([]Suggestion, error) {
	done := metrics.ObserveQuery("autocomplete")

	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var out []Suggestion

	if kind == "" || kind == "creator" {
		rows, err := d.db.QueryContext(ctx, `
			SELECT c.id, c.name, COUNT(DISTINCT mc.media_id) AS cnt
			FROM creators c
			LEFT JOIN creator_alias ca ON ca.creator_id = c.id
			LEFT JOIN media_creators mc ON mc.creator_id = c.id
			WHERE ca.alias LIKE ?
			GROUP BY c.id, c.name
			ORDER BY cnt DESC, c.name
			LIMIT ?
		`, strings.ToLower(prefix)+"%", limit)
		if err != nil {
			done(err)
			return nil, internalErr(err)
		}
		out, err = appendSuggestions(out, rows, "creator")
		if err != nil {
			done(err)
			return nil, internalErr(err)
		}
	}

	if kind == "" || kind == "collection" {
		rows, err := d.db.QueryContext(ctx, `
			SELECT cl.id, cl.name, COUNT(mcl.media_id) AS cnt
			FROM collections cl
			LEFT JOIN media_collection mcl ON mcl.collection_id = cl.id
			WHERE cl.name LIKE ?
			GROUP BY cl.id, cl.name
			ORDER BY cnt DESC, cl.name
			LIMIT ?
		`, prefix+"%", limit)
		if err != nil {
			done(err)
			return nil, internalErr(err)
		}
		out, err = appendSuggestions(out, rows, "collection")
		if err != nil {
			done(err)
			return nil, internalErr(err)
		}
	}

	if kind == "" || kind == "tag" {
		tagPrefix := prefix
		negated := strings.HasPrefix(tagPrefix, "-")
		if negated {
			tagPrefix = tagPrefix[1:]
		}
		rows, err := d.db.QueryContext(ctx, `
			SELECT t.id, t.tag, COUNT(mt.media_id) AS cnt
			FROM tags t
			LEFT JOIN media_tags mt ON mt.tag_id = t.id
			WHERE t.tag LIKE ?
			GROUP BY t.id, t.tag
			ORDER BY cnt DESC, t.tag
			LIMIT ?
		`, strings.ToLower(tagPrefix)+"%", limit)
		if err != nil {
			done(err)
			return nil, internalErr(err)
		}
		before := len(out)
		out, err = appendSuggestions(out, rows, "tag")
		if err != nil {
			done(err)
			return nil, internalErr(err)
		}
		if negated {
			for i := before; i < len(out); i++ {
				out[i].Value = "-" + out[i].Value
			}
		}
	}

	done(nil)
	return out, nil
}

func appendSuggestions(out []Suggestion, rows *sql.Rows, kind string) ([]Suggestion, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()
	for rows.Next() {
		var s Suggestion
		if err := rows.Scan(&s.ID, &s.Value, &s.Count); err != nil {
			return out, err
		}
		s.Kind = kind
		out = append(out, s)
	}
	return out, rows.Err()
}

// queryMedia executes a base-projection query and scans the rows.
func (d *Database) queryMedia(ctx context.Context, query string, args ...interface{}) ([]Media, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var items []Media
	for rows.Next() {
		var m Media
		if err := scanMediaRow(rows, &m); err != nil {
			return nil, internalErr(err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr(err)
	}
	return items, nil
}

// scanMediaRow scans one base-projection row into m. extra receives
// trailing columns appended after the base projection (the similarity
// distance, currently).
func scanMediaRow(rows *sql.Rows, m *Media, extra ...interface{}) error {
	var (
		phash       sql.NullInt64
		mtype       sql.NullString
		title       sql.NullString
		description sql.NullString
		created     sql.NullInt64
		uploaded    int64
		tagGroups   string
		creators    sql.NullString
		sources     sql.NullString
		collections sql.NullString
	)

	dest := []interface{}{
		&m.ID, &m.SHA256, &phash, &m.StorageURI, &mtype, &title,
		&description, &created, &uploaded,
		&tagGroups, &creators, &sources, &collections,
	}
	dest = append(dest, extra...)

	if err := rows.Scan(dest...); err != nil {
		return err
	}

	if phash.Valid {
		m.PerceptualHash = fmt.Sprintf("%016x", uint64(phash.Int64))
	}
	m.Type = mtype.String
	m.Title = title.String
	m.Description = description.String
	if created.Valid {
		t := time.Unix(created.Int64, 0).UTC()
		m.Created = &t
	}
	m.Uploaded = time.Unix(uploaded, 0).UTC()

	if err := json.Unmarshal([]byte(tagGroups), &m.TagGroups); err != nil {
		return fmt.Errorf("malformed tag_groups aggregate: %w", err)
	}
	var err error
	if m.Creators, err = decodeStringArray(creators); err != nil {
		return fmt.Errorf("malformed creators aggregate: %w", err)
	}
	if m.Sources, err = decodeStringArray(sources); err != nil {
		return fmt.Errorf("malformed sources aggregate: %w", err)
	}
	if m.Collections, err = decodeStringArray(collections); err != nil {
		return fmt.Errorf("malformed collections aggregate: %w", err)
	}
	return nil
}

func decodeStringArray(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func unmarshalJSON(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n\t")
}
