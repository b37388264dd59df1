package database

import (
	"context"
	"database/sql"
	"strings"

	"media-catalog/internal/metrics"
)

// DefaultTagGroup receives tags whose write did not name a group.
const DefaultTagGroup = "general"

// ensureTag returns the id of tag, creating it in group when absent.
// An existing tag keeps the group it was first filed under.
func ensureTag(ctx context.Context, tx *sql.Tx, group, tag string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM tags WHERE tag = ?", tag).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, internalErr(err)
	}

	groupID, err := ensureTagGroup(ctx, tx, group)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO tags (tag, group_id) VALUES (?, ?)", tag, groupID)
	if err != nil {
		return 0, internalErr(err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, internalErr(err)
	}
	return id, nil
}

func ensureTagGroup(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultTagGroup
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM tag_groups WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, internalErr(err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO tag_groups (name) VALUES (?)", name)
	if err != nil {
		return 0, internalErr(err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, internalErr(err)
	}
	return id, nil
}

// ListTags returns every tag with its group and usage count, most used
// first.
func (d *Database) ListTags(ctx context.Context) ([]TagCount, error) {
	done := metrics.ObserveQuery("list_tags")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.tag, tg.name, COUNT(mt.media_id) AS cnt
		FROM tags t
		JOIN tag_groups tg ON tg.id = t.group_id
		LEFT JOIN media_tags mt ON mt.tag_id = t.id
		GROUP BY t.id, t.tag, tg.name
		ORDER BY cnt DESC, t.tag
	`)
	if err != nil {
		done(err)
		return nil, internalErr(err)
	}
	defer rows.Close()

	var tags []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Group, &tc.Count); err != nil {
			done(err)
			return nil, internalErr(err)
		}
		tags = append(tags, tc)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, internalErr(err)
	}

	done(nil)
	return tags, nil
}
