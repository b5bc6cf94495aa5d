// Package gpcstore contains [gpchost.Storage] implementations
// for running a proxy configuration server on a general purpose host.
//
// [FileStore] keeps the state blob in a single file,
// erasure coded so that a partially corrupted file can still be read.
// [SQLiteStore] keeps the blob in a row of an SQLite database,
// for hosts that already keep their state in SQLite.
package gpcstore
