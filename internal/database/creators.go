package database

import (
	"context"
	"database/sql"
	"strings"

	"media-catalog/internal/metrics"
)

// ensureCreator resolves name through the alias table and returns the
// creator id, creating the creator (and its lowercase self-alias) when
// no alias matches. The stored name keeps the caller's casing.
func ensureCreator(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	alias := strings.ToLower(name)

	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT creator_id FROM creator_alias WHERE alias = ?", alias).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, internalErr(err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO creators (name) VALUES (?)", name)
	if err != nil {
		return 0, internalErr(err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, internalErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO creator_alias (creator_id, alias) VALUES (?, ?)",
		id, alias); err != nil {
		return 0, internalErr(err)
	}
	return id, nil
}

// ListCreators returns every creator with its aliases, ordered by
// name.
func (d *Database) ListCreators(ctx context.Context) ([]Creator, error) {
	done := metrics.ObserveQuery("list_creators")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.name,
			(SELECT json_group_array(ca.alias) FROM creator_alias ca
				WHERE ca.creator_id = c.id) AS aliases
		FROM creators c
		ORDER BY c.name
	`)
	if err != nil {
		done(err)
		return nil, internalErr(err)
	}
	defer rows.Close()

	var creators []Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			done(err)
			return nil, err
		}
		creators = append(creators, c)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, internalErr(err)
	}

	done(nil)
	return creators, nil
}

// GetCreator returns one creator by id.
func (d *Database) GetCreator(ctx context.Context, id int64) (*Creator, error) {
	return d.getCreatorWhere(ctx, "c.id = ?", id)
}

// GetCreatorByAlias resolves an alias (case-insensitively) to its
// creator.
func (d *Database) GetCreatorByAlias(ctx context.Context, alias string) (*Creator, error) {
	return d.getCreatorWhere(ctx,
		"c.id = (SELECT creator_id FROM creator_alias WHERE alias = ?)",
		strings.ToLower(alias))
}

func (d *Database) getCreatorWhere(ctx context.Context, where string, args ...interface{}) (*Creator, error) {
	done := metrics.ObserveQuery("get_creator")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.name,
			(SELECT json_group_array(ca.alias) FROM creator_alias ca
				WHERE ca.creator_id = c.id) AS aliases
		FROM creators c
		WHERE `+where, args...)
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
		return nil, NotFoundf("creator not found")
	}
	c, err := scanCreator(rows)
	done(err)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCreator(rows *sql.Rows) (Creator, error) {
	var (
		c       Creator
		aliases sql.NullString
	)
	if err := rows.Scan(&c.ID, &c.Name, &aliases); err != nil {
		return c, internalErr(err)
	}
	var err error
	if c.Aliases, err = decodeStringArray(aliases); err != nil {
		return c, internalErr(err)
	}
	return c, nil
}

// CreatorPatch carries optional creator updates. Nil fields keep the
// stored value; a non-nil Aliases is the full desired alias set (the
// lowercase self-alias of the current name is kept regardless).
type CreatorPatch struct {
	Name    *string
	Aliases *[]string
}

// PatchCreator applies patch to a creator. An alias already owned by a
// different creator is a conflict, and renaming swaps the old
// self-alias for the new one.
func (d *Database) PatchCreator(ctx context.Context, id int64, patch CreatorPatch) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx,
			"SELECT name FROM creators WHERE id = ?", id).Scan(&name)
		if err == sql.ErrNoRows {
			return NotFoundf("creator %d not found", id)
		}
		if err != nil {
			return internalErr(err)
		}

		if patch.Name != nil && *patch.Name != name {
			newName := strings.TrimSpace(*patch.Name)
			if newName == "" {
				return BadRequestf("creator name cannot be empty")
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE creators SET name = ? WHERE id = ?", newName, id); err != nil {
				return internalErr(err)
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM creator_alias WHERE creator_id = ? AND alias = ?",
				id, strings.ToLower(name)); err != nil {
				return internalErr(err)
			}
			name = newName
		}

		if patch.Aliases == nil {
			return ensureAlias(ctx, tx, id, strings.ToLower(name))
		}

		desired := []string{strings.ToLower(name)}
		for _, a := range *patch.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				desired = append(desired, a)
			}
		}

		current, err := creatorAliases(ctx, tx, id)
		if err != nil {
			return err
		}
		toAdd, toRemove := diffSets(current, desired)
		for _, a := range toAdd {
			if err := ensureAlias(ctx, tx, id, a); err != nil {
				return err
			}
		}
		for _, a := range toRemove {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM creator_alias WHERE creator_id = ? AND alias = ?",
				id, a); err != nil {
				return internalErr(err)
			}
		}
		return nil
	})
}

// ensureAlias points alias at creatorID, rejecting aliases owned by a
// different creator.
func ensureAlias(ctx context.Context, tx *sql.Tx, creatorID int64, alias string) error {
	var owner int64
	err := tx.QueryRowContext(ctx,
		"SELECT creator_id FROM creator_alias WHERE alias = ?", alias).Scan(&owner)
	if err == nil {
		if owner != creatorID {
			return Conflictf("alias %q already belongs to another creator", alias)
		}
		return nil
	}
	if err != sql.ErrNoRows {
		return internalErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO creator_alias (creator_id, alias) VALUES (?, ?)",
		creatorID, alias); err != nil {
		return internalErr(err)
	}
	return nil
}

func creatorAliases(ctx context.Context, tx *sql.Tx, creatorID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT alias FROM creator_alias WHERE creator_id = ?", creatorID)
	if err != nil {
		return nil, internalErr(err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, internalErr(err)
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, internalErr(err)
	}
	return aliases, nil
}

// DeleteCreator removes a creator and, via cascade, its aliases and
// relation rows.
func (d *Database) DeleteCreator(ctx context.Context, id int64) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM creators WHERE id = ?", id)
		if err != nil {
			return internalErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return internalErr(err)
		}
		if n == 0 {
			return NotFoundf("creator %d not found", id)
		}
		return nil
	})
}
