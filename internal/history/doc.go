// Package history records every conversion squish performs in a small
// SQLite database under the data directory.
//
// The schema is embedded and versioned; a database written by a different
// schema version is rejected with ErrSchemaMismatch rather than migrated.
// Writes retry briefly when another squish process holds the database.
package history
