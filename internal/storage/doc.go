// Package storage persists the job document as one opaque blob.
//
// Drivers:
//   - file: a JSON file replaced atomically (temp file, fsync, rename)
//   - sqlite: a single row replaced inside a transaction
//   - redis: a single key written with SET
package storage
