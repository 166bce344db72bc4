// Package sessionstore persists MCP session records keyed by session ID.
// Two implementations are provided: an in-process map for single-node
// deployments and a Redis-backed store for horizontally scaled ones.
package sessionstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists for the given ID.
var ErrNotFound = errors.New("sessionstore: session not found")

// Session is one initialized MCP session.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ProtocolVersion string    `json:"protocol_version"`
	ClientName      string    `json:"client_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists sessions with a fixed TTL refreshed on access.
type Store interface {
	// Put creates or overwrites a session record.
	Put(ctx context.Context, s Session) error

	// Get returns the session and refreshes its TTL, or ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases any underlying resources.
	Close() error
}
