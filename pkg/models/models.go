// Package models provides the shared domain types for Shuttle.
//
// It contains the upload, chunk, and idempotency records persisted by the
// metadata store, the lifecycle enums that gate every state transition,
// and the object-key scheme used by the blob store. All other packages
// speak in these types; none of them redefine lifecycle rules locally.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Upload{},
		&Chunk{},
		&IdempotencyRecord{},
	}
}
