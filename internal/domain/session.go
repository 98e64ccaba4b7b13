package domain

import "context"

// SessionStore keeps conversational history keyed by a client-chosen session ID.
// It decouples the orchestrator from the backing store (memory, Redis).
type SessionStore interface {
	// History returns the stored turns for id, oldest first. Unknown IDs yield an empty slice.
	History(ctx context.Context, id string) ([]Turn, error)

	// Append adds turns to the end of the conversation and refreshes its expiry.
	Append(ctx context.Context, id string, turns ...Turn) error

	// Delete drops the conversation entirely.
	Delete(ctx context.Context, id string) error
}
