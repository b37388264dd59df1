package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"media-catalog/internal/metrics"
)

// pathTreeCTE maps every collection id to its slash-joined path from
// the root, by recursive descent over the parent relation.
const pathTreeCTE = `
	WITH RECURSIVE tree(id, path) AS (
		SELECT id, name FROM collections WHERE parent IS NULL
		UNION ALL
		SELECT c.id, tree.path || '/' || c.name
		FROM collections c
		JOIN tree ON c.parent = tree.id
	)`

// collectionColumns is the projection shared by collection reads. The
// ordered media aggregate relies on the inner ORDER BY carrying into
// json_group_array.
const collectionColumns = `
	cl.id, cl.name, cl.parent, tree.path, cl.description, cl.created,
	COALESCE((SELECT json_group_object(g.name, json(g.ts)) FROM (
		SELECT tg.name AS name, json_group_array(t.tag) AS ts
		FROM collection_tags ct
		JOIN tags t ON t.id = ct.tag_id
		JOIN tag_groups tg ON tg.id = t.group_id
		WHERE ct.collection_id = cl.id
		GROUP BY tg.name) g), '{}') AS tag_groups,
	(SELECT json_group_array(c.name) FROM collection_creators cc
		JOIN creators c ON c.id = cc.creator_id
		WHERE cc.collection_id = cl.id) AS creators,
	(SELECT json_group_array(media_id) FROM (
		SELECT media_id FROM media_collection
		WHERE collection_id = cl.id
		ORDER BY ord, media_id)) AS media`

const collectionSelect = pathTreeCTE + `
	SELECT` + collectionColumns + `
	FROM collections cl
	JOIN tree ON tree.id = cl.id`

// ResolveCollectionPath maps a slash-joined path like
// "Artists/Jane/2024" to its collection id. Only an exact full-path
// match resolves; anything else is not found.
func (d *Database) ResolveCollectionPath(ctx context.Context, path string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return resolvePath(ctx, d.db, path)
}

func resolvePath(ctx context.Context, q querier, path string) (int64, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return 0, BadRequestf("empty collection path")
	}

	var id int64
	err := q.QueryRowContext(ctx,
		pathTreeCTE+" SELECT id FROM tree WHERE path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, NotFoundf("collection path %q not found", path)
	}
	if err != nil {
		return 0, internalErr(err)
	}
	return id, nil
}

// resolvePaths resolves every path, or rejects the request: a caller
// naming a nonexistent path in a filter or relation write made a
// mistake worth surfacing, not an empty result.
func (d *Database) resolvePaths(ctx context.Context, q querier, paths []string) ([]int64, error) {
	ids := make([]int64, 0, len(paths))
	for _, p := range paths {
		id, err := resolvePath(ctx, q, p)
		if err != nil {
			if IsNotFound(err) {
				return nil, BadRequestf("unknown collection path %q", p)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MaterializeCollectionPath is the inverse of ResolveCollectionPath:
// it rebuilds the path of a collection id by walking parent links
// upward.
func (d *Database) MaterializeCollectionPath(ctx context.Context, id int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		WITH RECURSIVE up(id, name, parent, depth) AS (
			SELECT id, name, parent, 0 FROM collections WHERE id = ?
			UNION ALL
			SELECT c.id, c.name, c.parent, up.depth + 1
			FROM collections c
			JOIN up ON c.id = up.parent
		)
		SELECT name FROM up ORDER BY depth DESC
	`, id)
	if err != nil {
		return "", internalErr(err)
	}
	defer rows.Close()

	var segments []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", internalErr(err)
		}
		segments = append(segments, name)
	}
	if err := rows.Err(); err != nil {
		return "", internalErr(err)
	}
	if len(segments) == 0 {
		return "", NotFoundf("collection %d not found", id)
	}
	return strings.Join(segments, "/"), nil
}

// CreateCollectionPath resolves path, creating any missing segments
// along the way, and applies the leaf's initial relations in the same
// transaction. description lands on the leaf only. Returns the leaf
// collection id.
func (d *Database) CreateCollectionPath(ctx context.Context, path, description string, rel CollectionRelations) (int64, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return 0, BadRequestf("empty collection path")
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return 0, BadRequestf("collection path %q has an empty segment", path)
		}
	}

	var leaf int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var parent *int64
		for i, name := range segments {
			var desc string
			if i == len(segments)-1 {
				desc = description
			}
			id, err := ensureCollection(ctx, tx, parent, name, desc)
			if err != nil {
				return err
			}
			parent = &id
			leaf = id
		}
		return d.reconcileCollectionRelationsTx(ctx, tx, leaf, rel)
	})
	if err != nil {
		return 0, err
	}
	return leaf, nil
}

func ensureCollection(ctx context.Context, tx *sql.Tx, parent *int64, name, description string) (int64, error) {
	var (
		id  int64
		err error
	)
	if parent == nil {
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM collections WHERE parent IS NULL AND name = ?",
			name).Scan(&id)
	} else {
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM collections WHERE parent = ? AND name = ?",
			*parent, name).Scan(&id)
	}
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, internalErr(err)
	}

	var desc interface{}
	if description != "" {
		desc = description
	}
	var parentVal interface{}
	if parent != nil {
		parentVal = *parent
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO collections (name, parent, description) VALUES (?, ?, ?)",
		name, parentVal, desc)
	if err != nil {
		return 0, internalErr(err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, internalErr(err)
	}
	return id, nil
}

// ListCollections returns every collection with its materialized path,
// ordered by path.
func (d *Database) ListCollections(ctx context.Context) ([]Collection, error) {
	done := metrics.ObserveQuery("list_collections")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, collectionSelect+"\n\tORDER BY tree.path")
	if err != nil {
		done(err)
		return nil, internalErr(err)
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			done(err)
			return nil, err
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, internalErr(err)
	}

	done(nil)
	return collections, nil
}

// GetCollection returns one collection by id, with its ordered member
// media ids.
func (d *Database) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	return d.getCollectionWhere(ctx, "cl.id = ?", id)
}

// GetCollectionByPath resolves path and returns the collection.
func (d *Database) GetCollectionByPath(ctx context.Context, path string) (*Collection, error) {
	id, err := d.ResolveCollectionPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return d.GetCollection(ctx, id)
}

func (d *Database) getCollectionWhere(ctx context.Context, where string, args ...interface{}) (*Collection, error) {
	done := metrics.ObserveQuery("get_collection")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, collectionSelect+"\n\tWHERE "+where, args...)
	if err != nil {
		done(err)
		return nil, internalErr(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			done(err)
			return nil, internalErr(err)
		}
		done(nil)
		return nil, NotFoundf("collection not found")
	}
	c, err := scanCollection(rows)
	done(err)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCollection(rows *sql.Rows) (Collection, error) {
	var (
		c           Collection
		parent      sql.NullInt64
		description sql.NullString
		created     int64
		tagGroups   string
		creators    sql.NullString
		media       sql.NullString
	)
	if err := rows.Scan(&c.ID, &c.Name, &parent, &c.Path, &description,
		&created, &tagGroups, &creators, &media); err != nil {
		return c, internalErr(err)
	}
	if parent.Valid {
		p := parent.Int64
		c.Parent = &p
	}
	c.Description = description.String
	c.Created = time.Unix(created, 0).UTC()

	if err := unmarshalJSON(tagGroups, &c.TagGroups); err != nil {
		return c, internalErr(err)
	}
	var err error
	if c.Creators, err = decodeStringArray(creators); err != nil {
		return c, internalErr(err)
	}
	if media.Valid && media.String != "" {
		if err := unmarshalJSON(media.String, &c.Media); err != nil {
			return c, internalErr(err)
		}
	}
	if c.Media == nil {
		c.Media = []int64{}
	}
	return c, nil
}

// CollectionPatch carries optional collection updates. Nil fields keep
// the stored value; Parent uses reparentSet to distinguish "leave
// alone" from "move to root".
type CollectionPatch struct {
	Name        *string
	Description *string
	Parent      *int64
	ParentSet   bool
}

// PatchCollection applies patch and relation changes in one
// transaction. Reparenting under the collection's own subtree is
// rejected, since it would disconnect the subtree from every root.
func (d *Database) PatchCollection(ctx context.Context, id int64, patch CollectionPatch, rel CollectionRelations) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM collections WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return NotFoundf("collection %d not found", id)
		}
		if err != nil {
			return internalErr(err)
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" || strings.Contains(name, "/") {
				return BadRequestf("invalid collection name %q", *patch.Name)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE collections SET name = ? WHERE id = ?", name, id); err != nil {
				return mapConstraintErr(err, "a sibling collection with that name exists")
			}
		}
		if patch.Description != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE collections SET description = ? WHERE id = ?",
				*patch.Description, id); err != nil {
				return internalErr(err)
			}
		}
		if patch.ParentSet {
			if err := reparentCollection(ctx, tx, id, patch.Parent); err != nil {
				return err
			}
		}

		return d.reconcileCollectionRelationsTx(ctx, tx, id, rel)
	})
}

// reparentCollection moves id under newParent (nil means root) after
// checking that newParent is not id itself or one of its descendants.
func reparentCollection(ctx context.Context, tx *sql.Tx, id int64, newParent *int64) error {
	if newParent != nil {
		if *newParent == id {
			return BadRequestf("collection cannot be its own parent")
		}
		var hit int64
		err := tx.QueryRowContext(ctx, `
			WITH RECURSIVE sub(id) AS (
				SELECT id FROM collections WHERE id = ?
				UNION ALL
				SELECT c.id FROM collections c JOIN sub ON c.parent = sub.id
			)
			SELECT id FROM sub WHERE id = ?
		`, id, *newParent).Scan(&hit)
		if err == nil {
			return BadRequestf("cannot move a collection under its own descendant")
		}
		if err != sql.ErrNoRows {
			return internalErr(err)
		}
		var exists int64
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM collections WHERE id = ?", *newParent).Scan(&exists)
		if err == sql.ErrNoRows {
			return BadRequestf("parent collection %d not found", *newParent)
		}
		if err != nil {
			return internalErr(err)
		}
	}

	var parentVal interface{}
	if newParent != nil {
		parentVal = *newParent
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE collections SET parent = ? WHERE id = ?", parentVal, id); err != nil {
		return mapConstraintErr(err, "a sibling collection with that name exists")
	}
	return nil
}

// CreateCollection creates one collection under parent (nil for root)
// and applies its initial relations in the same transaction. Returns
// the new id.
func (d *Database) CreateCollection(ctx context.Context, name string, parent *int64, description string, rel CollectionRelations) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return 0, BadRequestf("invalid collection name %q", name)
	}

	var id int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if parent != nil {
			var exists int64
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM collections WHERE id = ?", *parent).Scan(&exists)
			if err == sql.ErrNoRows {
				return BadRequestf("parent collection %d not found", *parent)
			}
			if err != nil {
				return internalErr(err)
			}
		}

		var parentVal interface{}
		if parent != nil {
			parentVal = *parent
		}
		var desc interface{}
		if description != "" {
			desc = description
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO collections (name, parent, description) VALUES (?, ?, ?)",
			name, parentVal, desc)
		if err != nil {
			return mapConstraintErr(err, "a sibling collection with that name exists")
		}
		if id, err = res.LastInsertId(); err != nil {
			return internalErr(err)
		}

		return d.reconcileCollectionRelationsTx(ctx, tx, id, rel)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteCollection removes a collection. Children are rejected rather
// than orphaned or cascaded.
func (d *Database) DeleteCollection(ctx context.Context, id int64) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		var child int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM collections WHERE parent = ? LIMIT 1", id).Scan(&child)
		if err == nil {
			return Conflictf("collection %d has child collections", id)
		}
		if err != sql.ErrNoRows {
			return internalErr(err)
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
		if err != nil {
			return internalErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return internalErr(err)
		}
		if n == 0 {
			return NotFoundf("collection %d not found", id)
		}
		return nil
	})
}
