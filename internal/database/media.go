package database

import (
	"context"
	"database/sql"
	"strings"

	"media-catalog/internal/metrics"
)

// NewMedia is the input to CreateMedia. SHA256 and StorageURI are
// required; everything else is optional.
type NewMedia struct {
	SHA256         string
	PerceptualHash *uint64
	StorageURI     string
	Type           string
	Title          string
	Description    string
	Created        *int64 // unix seconds
	Relations      MediaRelations
}

// CreateMedia inserts a media row and its relations in one
// transaction. A sha256 already in the catalog is a conflict.
func (d *Database) CreateMedia(ctx context.Context, nm NewMedia) (int64, error) {
	sha := strings.ToLower(strings.TrimSpace(nm.SHA256))
	if len(sha) != 64 {
		return 0, BadRequestf("invalid sha256 %q", nm.SHA256)
	}
	if nm.StorageURI == "" {
		return 0, BadRequestf("missing storage uri")
	}

	var id int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM media WHERE sha256 = ?", sha).Scan(&existing)
		if err == nil {
			return Conflictf("media with this content already exists as id %d", existing)
		}
		if err != sql.ErrNoRows {
			return internalErr(err)
		}

		var phash interface{}
		if nm.PerceptualHash != nil {
			phash = int64(*nm.PerceptualHash)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO media (sha256, perceptual_hash, storage_uri, type, title, description, created)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sha, phash, nm.StorageURI,
			nullIfEmpty(nm.Type), nullIfEmpty(nm.Title), nullIfEmpty(nm.Description),
			nullableInt(nm.Created))
		if err != nil {
			return mapConstraintErr(err, "media with this content already exists")
		}
		if id, err = res.LastInsertId(); err != nil {
			return internalErr(err)
		}

		return d.reconcileMediaRelationsTx(ctx, tx, id, nm.Relations)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetMedia returns one media item with its full relation sets.
func (d *Database) GetMedia(ctx context.Context, id int64) (*Media, error) {
	return d.getMediaWhere(ctx, "m.id = ?", id)
}

// GetMediaBySHA256 looks a media item up by its content hash.
func (d *Database) GetMediaBySHA256(ctx context.Context, sha string) (*Media, error) {
	return d.getMediaWhere(ctx, "m.sha256 = ?", strings.ToLower(strings.TrimSpace(sha)))
}

func (d *Database) getMediaWhere(ctx context.Context, where string, args ...interface{}) (*Media, error) {
	done := metrics.ObserveQuery("get_media")
	items, err := d.queryMedia(ctx, baseMediaSelect+"\nWHERE "+where, args...)
	done(err)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, NotFoundf("media not found")
	}
	return &items[0], nil
}

// PatchMedia merges scalar updates and converges relations in one
// transaction. Nil patch fields keep the stored value; nil relation
// facets are untouched.
func (d *Database) PatchMedia(ctx context.Context, id int64, patch MediaPatch, rel MediaRelations) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM media WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return NotFoundf("media %d not found", id)
		}
		if err != nil {
			return internalErr(err)
		}

		set := func(column string, value interface{}) error {
			_, err := tx.ExecContext(ctx,
				"UPDATE media SET "+column+" = ? WHERE id = ?", value, id)
			if err != nil {
				return internalErr(err)
			}
			return nil
		}
		if patch.Title != nil {
			if err := set("title", nullIfEmpty(*patch.Title)); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			if err := set("description", nullIfEmpty(*patch.Description)); err != nil {
				return err
			}
		}
		if patch.Created != nil {
			if err := set("created", patch.Created.Unix()); err != nil {
				return err
			}
		}
		if patch.PerceptualHash != nil {
			if err := set("perceptual_hash", int64(*patch.PerceptualHash)); err != nil {
				return err
			}
		}

		return d.reconcileMediaRelationsTx(ctx, tx, id, rel)
	})
}

// DeleteMedia removes a media row; relation rows cascade. The stored
// file is the caller's to clean up.
func (d *Database) DeleteMedia(ctx context.Context, id int64) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM media WHERE id = ?", id)
		if err != nil {
			return internalErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return internalErr(err)
		}
		if n == 0 {
			return NotFoundf("media %d not found", id)
		}
		return nil
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
