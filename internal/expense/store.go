package expense

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an expense does not exist for the user
var ErrNotFound = errors.New("expense not found")

// Store defines the record store for expenses. The store assigns ID and
// CreatedAt on Insert.
type Store interface {
	// Insert saves a new expense
	Insert(ctx context.Context, expense *Expense) error

	// SelectByUser returns all expenses owned by a user, oldest first
	SelectByUser(ctx context.Context, userID string) ([]*Expense, error)

	// UpdateByID replaces amount, category and business name of an existing expense
	UpdateByID(ctx context.Context, expense *Expense) error

	// DeleteByID removes an expense owned by a user
	DeleteByID(ctx context.Context, userID, id string) error

	// Close closes the database connection
	Close() error
}

// IDGenerator generates unique IDs for expenses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}
