// Package remote defines the contracts the sync engine consumes: a generic
// record store reachable over the network and a binary attachment uploader.
package remote

import (
	"context"
	"encoding/json"
)

// Store abstracts the remote record backend. Implementations must classify
// failures with the error codes in internal/errors so the retry policy can
// tell transient failures from structural ones.
type Store interface {
	// Insert creates a record and returns it with server-assigned fields.
	// The idempotency key travels with the request so a retried insert that
	// already succeeded server-side is not duplicated.
	Insert(ctx context.Context, collection string, record json.RawMessage, idempotencyKey string) (json.RawMessage, error)

	// Update applies a partial record to an existing id.
	Update(ctx context.Context, collection, id string, partial json.RawMessage) error

	// Delete removes a record.
	Delete(ctx context.Context, collection, id string) error

	// SelectByID returns a record, or found=false when it does not exist.
	SelectByID(ctx context.Context, collection, id string) (json.RawMessage, bool, error)

	// SelectAll returns a finite snapshot of a collection, optionally
	// filtered by equality on the given fields.
	SelectAll(ctx context.Context, collection string, filter map[string]string) ([]json.RawMessage, error)
}

// Uploader abstracts binary attachment storage. Upload failures are treated
// as transient and retried like any other remote call.
type Uploader interface {
	// Upload stores the file at path under objectName and returns a public
	// URL or reference for the stored object.
	Upload(ctx context.Context, objectName, path, contentType string) (string, error)
}

// RecordID extracts the "id" field from a raw record, or "" when absent.
func RecordID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// RecordTimestamp extracts the modification timestamp (unix milliseconds)
// from a raw record, or 0 when absent.
func RecordTimestamp(raw json.RawMessage) int64 {
	var probe struct {
		UpdatedAt int64 `json:"updated_at"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0
	}
	return probe.UpdatedAt
}
