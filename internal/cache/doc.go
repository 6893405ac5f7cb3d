// Package cache defines the key store that owns every cached image. A Key is
// a validated 3-digit status code; each key maps to exactly one opaque blob
// (<CachePath>/<key>.jpg on disk, or <prefix><key>.jpg in a bucket). Stores
// expose Exists/Read/Write/Delete with ErrNotFound and ErrStorage as the only
// error kinds, and perform no locking: concurrent writers race and the last
// completed write wins.
package cache
