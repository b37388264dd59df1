package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Default timeout for single database operations.
const defaultTimeout = 5 * time.Second

// driverName registers a sqlite3 driver variant that exposes
// hamming_distance(a, b) to SQL. Similarity search and the duplicates
// report are expressed directly in queries through it.
const driverName = "sqlite3_media_catalog"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("hamming_distance", hammingDistance, true)
		},
	})
}

// hammingDistance is the popcount of the XOR of two 64-bit perceptual
// hashes, operating on the raw bit patterns regardless of sign.
func hammingDistance(a, b int64) int64 {
	return int64(bits.OnesCount64(uint64(a) ^ uint64(b)))
}

// Database manages all catalog state. All shared mutable state lives in
// the SQLite store; the struct itself only holds the handle.
type Database struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and if necessary creates) the catalog database at dbPath.
// The parent directory must already exist and be writable; use
// startup.LoadConfig for validation before calling this.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	// WAL for concurrent readers, busy_timeout to ride out writer
	// contention instead of failing with "database is locked".
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- Media items. sha256 is the content address; perceptual_hash is a
	-- 64-bit fingerprint stored as a signed integer bit pattern.
	CREATE TABLE IF NOT EXISTS media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sha256 TEXT NOT NULL UNIQUE,
		perceptual_hash INTEGER,
		storage_uri TEXT NOT NULL,
		type TEXT,
		title TEXT,
		description TEXT,
		created INTEGER,
		uploaded INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_media_uploaded ON media(uploaded);
	CREATE INDEX IF NOT EXISTS idx_media_phash ON media(perceptual_hash);

	-- Tag facets. Group and tag text are stored lowercase.
	CREATE TABLE IF NOT EXISTS tag_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL UNIQUE,
		group_id INTEGER NOT NULL,
		FOREIGN KEY (group_id) REFERENCES tag_groups(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tags_group ON tags(group_id);

	-- Creators keep display casing in name; every lookup goes through
	-- the lowercase alias table. Creating a creator also records its
	-- own name as an alias.
	CREATE TABLE IF NOT EXISTS creators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS creator_alias (
		creator_id INTEGER NOT NULL,
		alias TEXT NOT NULL UNIQUE,
		FOREIGN KEY (creator_id) REFERENCES creators(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_creator_alias_creator ON creator_alias(creator_id);

	-- Collections form a tree through parent. Sibling names are unique;
	-- SQLite treats NULLs as distinct in composite unique constraints,
	-- so roots get their own partial index.
	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		parent INTEGER,
		description TEXT,
		created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (parent) REFERENCES collections(id),
		UNIQUE(parent, name)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_root_name
		ON collections(name) WHERE parent IS NULL;

	-- Association tables. Uniqueness makes re-application of the same
	-- desired set idempotent.
	CREATE TABLE IF NOT EXISTS media_tags (
		media_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		UNIQUE(media_id, tag_id),
		FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS media_creators (
		media_id INTEGER NOT NULL,
		creator_id INTEGER NOT NULL,
		UNIQUE(media_id, creator_id),
		FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE,
		FOREIGN KEY (creator_id) REFERENCES creators(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS media_collection (
		media_id INTEGER NOT NULL,
		collection_id INTEGER NOT NULL,
		ord INTEGER,
		UNIQUE(media_id, collection_id),
		FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE,
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_media_collection_coll ON media_collection(collection_id, ord);

	CREATE TABLE IF NOT EXISTS sources (
		media_id INTEGER NOT NULL,
		source TEXT NOT NULL,
		UNIQUE(media_id, source),
		FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS collection_creators (
		collection_id INTEGER NOT NULL,
		creator_id INTEGER NOT NULL,
		UNIQUE(collection_id, creator_id),
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE,
		FOREIGN KEY (creator_id) REFERENCES creators(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS collection_tags (
		collection_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		UNIQUE(collection_id, tag_id),
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);
	`

	done := metrics.ObserveQuery("initialize_schema")
	_, err := d.db.ExecContext(ctx, schema)
	done(err)
	return err
}

// Ping verifies the store still answers.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// inTx runs fn inside a transaction, committing on nil and rolling
// back otherwise. Every write operation in this package goes through
// it so a mid-reconciliation failure never leaves a partial apply.
func (d *Database) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return internalErr(err)
	}

	if err := fn(tx); err != nil {
		metrics.ObserveTransaction(start, false)
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error("rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.ObserveTransaction(start, false)
		return internalErr(err)
	}
	metrics.ObserveTransaction(start, true)
	return nil
}

// UpdateDBMetrics refreshes the connection gauge.
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))
}
