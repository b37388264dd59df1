package database

import (
	"context"
	"database/sql"
	"strings"

	"media-catalog/internal/metrics"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so path and alias
// resolution can run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// diffSets computes the additions and removals that turn current into
// desired. Duplicates are collapsed; add order follows desired.
func diffSets[T comparable](current, desired []T) (toAdd, toRemove []T) {
	have := make(map[T]struct{}, len(current))
	for _, v := range current {
		have[v] = struct{}{}
	}
	want := make(map[T]struct{}, len(desired))
	for _, v := range desired {
		if _, dup := want[v]; dup {
			continue
		}
		want[v] = struct{}{}
		if _, ok := have[v]; !ok {
			toAdd = append(toAdd, v)
		}
	}
	for _, v := range current {
		if _, ok := want[v]; !ok {
			toRemove = append(toRemove, v)
		}
	}
	return toAdd, toRemove
}

// ReconcileMediaRelations converges the stored relation rows of a
// media item toward rel, one transaction for all facets. A nil facet
// is left untouched; an empty non-nil facet clears the relation.
func (d *Database) ReconcileMediaRelations(ctx context.Context, mediaID int64, rel MediaRelations) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return d.reconcileMediaRelationsTx(ctx, tx, mediaID, rel)
	})
}

func (d *Database) reconcileMediaRelationsTx(ctx context.Context, tx *sql.Tx, mediaID int64, rel MediaRelations) error {
	if err := requireRow(ctx, tx, "SELECT id FROM media WHERE id = ?", mediaID, "media"); err != nil {
		return err
	}
	if rel.Tags != nil {
		added, removed, err := reconcileTagLinks(ctx, tx, "media_tags", "media_id", mediaID, *rel.Tags)
		metrics.ObserveReconcile("tags", added, removed, err)
		if err != nil {
			return err
		}
	}
	if rel.Creators != nil {
		added, removed, err := reconcileCreatorLinks(ctx, tx, "media_creators", "media_id", mediaID, *rel.Creators)
		metrics.ObserveReconcile("creators", added, removed, err)
		if err != nil {
			return err
		}
	}
	if rel.Sources != nil {
		added, removed, err := reconcileSources(ctx, tx, mediaID, *rel.Sources)
		metrics.ObserveReconcile("sources", added, removed, err)
		if err != nil {
			return err
		}
	}
	if rel.CollectionPaths != nil {
		added, removed, err := d.reconcileMediaCollections(ctx, tx, mediaID, *rel.CollectionPaths)
		metrics.ObserveReconcile("collections", added, removed, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReconcileCollectionRelations converges a collection's tag, creator,
// and member rows. MediaOrdered is a full replacement: the stored
// ordinals are recomputed densely from slice position.
func (d *Database) ReconcileCollectionRelations(ctx context.Context, collectionID int64, rel CollectionRelations) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return d.reconcileCollectionRelationsTx(ctx, tx, collectionID, rel)
	})
}

func (d *Database) reconcileCollectionRelationsTx(ctx context.Context, tx *sql.Tx, collectionID int64, rel CollectionRelations) error {
	if err := requireRow(ctx, tx, "SELECT id FROM collections WHERE id = ?", collectionID, "collection"); err != nil {
		return err
	}
	if rel.Tags != nil {
		added, removed, err := reconcileTagLinks(ctx, tx, "collection_tags", "collection_id", collectionID, *rel.Tags)
		metrics.ObserveReconcile("collection_tags", added, removed, err)
		if err != nil {
			return err
		}
	}
	if rel.Creators != nil {
		added, removed, err := reconcileCreatorLinks(ctx, tx, "collection_creators", "collection_id", collectionID, *rel.Creators)
		metrics.ObserveReconcile("collection_creators", added, removed, err)
		if err != nil {
			return err
		}
	}
	if rel.MediaOrdered != nil {
		added, removed, err := replaceCollectionMedia(ctx, tx, collectionID, *rel.MediaOrdered)
		metrics.ObserveReconcile("collection_media", added, removed, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// reconcileTagLinks diffs the tag rows linked to owner (a media or
// collection id) against desired. Tag names are folded to lowercase;
// a tag that already exists keeps its stored group, new tags land in
// the requested group, creating it when missing.
func reconcileTagLinks(ctx context.Context, tx *sql.Tx, table, ownerCol string, ownerID int64, desired map[string][]string) (added, removed int, err error) {
	var desiredIDs []int64
	for group, tags := range desired {
		for _, tag := range tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			id, err := ensureTag(ctx, tx, group, tag)
			if err != nil {
				return 0, 0, err
			}
			desiredIDs = append(desiredIDs, id)
		}
	}

	current, err := linkedIDs(ctx, tx,
		"SELECT tag_id FROM "+table+" WHERE "+ownerCol+" = ?", ownerID)
	if err != nil {
		return 0, 0, err
	}

	toAdd, toRemove := diffSets(current, desiredIDs)
	for _, id := range toAdd {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO "+table+" ("+ownerCol+", tag_id) VALUES (?, ?)",
			ownerID, id); err != nil {
			return added, removed, internalErr(err)
		}
		added++
	}
	for _, id := range toRemove {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE "+ownerCol+" = ? AND tag_id = ?",
			ownerID, id); err != nil {
			return added, removed, internalErr(err)
		}
		removed++
	}
	return added, removed, nil
}

// reconcileCreatorLinks diffs creator rows linked to owner against the
// desired names. Names resolve through the alias table; unknown names
// create a creator with its lowercase self-alias.
func reconcileCreatorLinks(ctx context.Context, tx *sql.Tx, table, ownerCol string, ownerID int64, desired []string) (added, removed int, err error) {
	var desiredIDs []int64
	for _, name := range desired {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id, err := ensureCreator(ctx, tx, name)
		if err != nil {
			return 0, 0, err
		}
		desiredIDs = append(desiredIDs, id)
	}

	current, err := linkedIDs(ctx, tx,
		"SELECT creator_id FROM "+table+" WHERE "+ownerCol+" = ?", ownerID)
	if err != nil {
		return 0, 0, err
	}

	toAdd, toRemove := diffSets(current, desiredIDs)
	for _, id := range toAdd {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO "+table+" ("+ownerCol+", creator_id) VALUES (?, ?)",
			ownerID, id); err != nil {
			return added, removed, internalErr(err)
		}
		added++
	}
	for _, id := range toRemove {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE "+ownerCol+" = ? AND creator_id = ?",
			ownerID, id); err != nil {
			return added, removed, internalErr(err)
		}
		removed++
	}
	return added, removed, nil
}

func reconcileSources(ctx context.Context, tx *sql.Tx, mediaID int64, desired []string) (added, removed int, err error) {
	var cleaned []string
	for _, s := range desired {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT source FROM sources WHERE media_id = ?", mediaID)
	if err != nil {
		return 0, 0, internalErr(err)
	}
	var current []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return 0, 0, internalErr(err)
		}
		current = append(current, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, internalErr(err)
	}
	rows.Close()

	toAdd, toRemove := diffSets(current, cleaned)
	for _, s := range toAdd {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO sources (media_id, source) VALUES (?, ?)",
			mediaID, s); err != nil {
			return added, removed, internalErr(err)
		}
		added++
	}
	for _, s := range toRemove {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM sources WHERE media_id = ? AND source = ?",
			mediaID, s); err != nil {
			return added, removed, internalErr(err)
		}
		removed++
	}
	return added, removed, nil
}

// reconcileMediaCollections diffs a media item's collection membership
// against the desired paths. An unresolvable path rejects the whole
// write. New memberships append after the collection's current max
// ordinal; surviving memberships keep their position.
func (d *Database) reconcileMediaCollections(ctx context.Context, tx *sql.Tx, mediaID int64, desiredPaths []string) (added, removed int, err error) {
	desiredIDs, err := d.resolvePaths(ctx, tx, desiredPaths)
	if err != nil {
		return 0, 0, err
	}

	current, err := linkedIDs(ctx, tx,
		"SELECT collection_id FROM media_collection WHERE media_id = ?", mediaID)
	if err != nil {
		return 0, 0, err
	}

	toAdd, toRemove := diffSets(current, desiredIDs)
	for _, collectionID := range toAdd {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO media_collection (media_id, collection_id, ord)
			VALUES (?, ?, (SELECT COALESCE(MAX(ord), -1) + 1 FROM media_collection WHERE collection_id = ?))`,
			mediaID, collectionID, collectionID); err != nil {
			return added, removed, internalErr(err)
		}
		added++
	}
	for _, collectionID := range toRemove {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM media_collection WHERE media_id = ? AND collection_id = ?",
			mediaID, collectionID); err != nil {
			return added, removed, internalErr(err)
		}
		removed++
	}
	return added, removed, nil
}

// replaceCollectionMedia swaps a collection's member list for desired,
// then rewrites every ordinal from slice position so the stored order
// is dense. Duplicate ids keep their first position.
func replaceCollectionMedia(ctx context.Context, tx *sql.Tx, collectionID int64, desired []int64) (added, removed int, err error) {
	if err := checkMediaIDs(ctx, tx, desired); err != nil {
		return 0, 0, err
	}

	current, err := linkedIDs(ctx, tx,
		"SELECT media_id FROM media_collection WHERE collection_id = ?", collectionID)
	if err != nil {
		return 0, 0, err
	}

	toAdd, toRemove := diffSets(current, desired)
	for _, mediaID := range toRemove {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM media_collection WHERE collection_id = ? AND media_id = ?",
			collectionID, mediaID); err != nil {
			return added, removed, internalErr(err)
		}
		removed++
	}
	added = len(toAdd)

	seen := make(map[int64]struct{}, len(desired))
	ord := 0
	for _, mediaID := range desired {
		if _, dup := seen[mediaID]; dup {
			continue
		}
		seen[mediaID] = struct{}{}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_collection (media_id, collection_id, ord) VALUES (?, ?, ?)
			ON CONFLICT (media_id, collection_id) DO UPDATE SET ord = excluded.ord`,
			mediaID, collectionID, ord); err != nil {
			return added, removed, internalErr(err)
		}
		ord++
	}
	return added, removed, nil
}

// requireRow resolves a subject id before a relation write, so a
// missing subject surfaces as not-found instead of a constraint
// failure.
func requireRow(ctx context.Context, q querier, query string, id int64, what string) error {
	var found int64
	err := q.QueryRowContext(ctx, query, id).Scan(&found)
	if err == sql.ErrNoRows {
		return NotFoundf("%s %d not found", what, id)
	}
	if err != nil {
		return internalErr(err)
	}
	return nil
}

// checkMediaIDs verifies that every desired member id references a
// stored media row, reporting the first unknown id as a client error.
func checkMediaIDs(ctx context.Context, q querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
		args = append(args, id)
	}

	found, err := linkedIDs(ctx, q,
		"SELECT id FROM media WHERE id IN ("+placeholders(len(unique))+")", args...)
	if err != nil {
		return err
	}
	if len(found) == len(unique) {
		return nil
	}

	have := make(map[int64]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	for _, id := range unique {
		if _, ok := have[id]; !ok {
			return BadRequestf("unknown media id %d", id)
		}
	}
	return nil
}

// linkedIDs runs a single-column id query and collects the values.
func linkedIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalErr(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, internalErr(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr(err)
	}
	return ids, nil
}
