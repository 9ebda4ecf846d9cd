// Package sessions persists agent sessions so an interrupted run can be
// resumed from its last committed turn.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/nickmurray47/goose/pkg/models"
)

var (
	// ErrNotFound means no session exists with the given ID.
	ErrNotFound = errors.New("session not found")

	// ErrExists means Create was called with an ID already in use.
	ErrExists = errors.New("session already exists")
)

// Summary is the listing view of a stored session.
type Summary struct {
	ID        string                `json:"id"`
	Name      string                `json:"name,omitempty"`
	Mode      models.PermissionMode `json:"mode"`
	Turns     int                   `json:"turns"`
	Tokens    int                   `json:"tokens"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Store is the interface for session persistence. Save satisfies the
// controller's Persister, so a store can be wired straight in.
type Store interface {
	// Create inserts a new session. ErrExists if the ID is taken.
	Create(ctx context.Context, sess *models.Session) error

	// Get loads a session by ID. A stored session that fails validation
	// returns a models.CorruptError; it is never silently repaired.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Save upserts the session's full state.
	Save(ctx context.Context, sess *models.Session) error

	// List returns summaries of all sessions, newest first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes a session. ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}

// Open builds a store from a configured backend name.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, errors.New("unknown session backend " + backend)
	}
}

func summarize(sess *models.Session) Summary {
	return Summary{
		ID:        sess.ID,
		Name:      sess.Name,
		Mode:      sess.Mode,
		Turns:     len(sess.Turns),
		Tokens:    sess.Usage.Total(),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}
