package store

import (
	"context"
	"errors"

	"github.com/joescharf/bugflow/internal/models"
)

var (
	// ErrNotFound is wrapped by every lookup that finds no bug.
	ErrNotFound = errors.New("not found")
	// ErrRequestResolved is returned when a mutation tries to rewrite a
	// request that has already been approved or rejected.
	ErrRequestResolved = errors.New("request already resolved")
)

// BugListFilter specifies filters for listing bugs. Zero values match everything.
type BugListFilter struct {
	Status      models.Status
	Priority    models.Priority
	Application string
	Team        string
	// Assignee matches either the developer or the tester.
	Assignee string
	// Active excludes Closed and Duplicate bugs.
	Active bool
	// PendingRequests keeps only bugs with at least one Pending request.
	PendingRequests bool
}

// MutateFunc edits a bug in place and returns the audit events describing
// the change. Returning an error aborts the mutation without writing anything.
type MutateFunc func(b *models.Bug) ([]*models.BugEvent, error)

// Store defines the persistence interface for bugflow.
type Store interface {
	// Bugs
	CreateBug(ctx context.Context, b *models.Bug) error
	GetBug(ctx context.Context, id string) (*models.Bug, error)
	ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error)
	// MutateBug reads a bug, applies fn and writes the result, its requests
	// and the returned events atomically. Concurrent calls on the same bug
	// are serialized.
	MutateBug(ctx context.Context, id string, fn MutateFunc) (*models.Bug, error)

	// Audit trail
	ListEvents(ctx context.Context, bugID string) ([]*models.BugEvent, error)

	// Favorites
	ToggleFavorite(ctx context.Context, userID, bugID string) (bool, error)
	ListFavorites(ctx context.Context, userID string) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
