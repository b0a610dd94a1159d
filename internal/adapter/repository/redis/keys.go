// Package redis stores the import ledger, pending bank sessions, category
// listings and HTTP idempotency keys in Redis.
package redis

const keyPrefix = "ynabimport:"

// Sealer encrypts session snapshots at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}
