// Package database is the catalog store: a SQLite database holding
// media, tags, creators, and hierarchical collections, plus the
// many-to-many relation rows that connect them.
//
// Reads project each entity together with its relation sets in a
// single query, aggregated with the JSON1 functions so the row shape
// is independent of relation cardinality. Searches compile a small
// filter IR into one grouped subquery. Writes converge stored relation
// rows toward a caller-supplied desired state inside one transaction,
// so repeating a write is a no-op.
package database
