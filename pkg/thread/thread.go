package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrThreadNotFound is returned when a requested thread does not exist
var ErrThreadNotFound = errors.New("thread not found")

// StorageError wraps a persistence-layer failure so callers can tell it
// apart from other failure domains
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Item roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Thread represents one conversation
type Thread struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item represents a single conversation item
type Item struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store is the conversation persistence surface the orchestrator consumes
type Store interface {
	// CreateThread creates a new thread owned by the user
	CreateThread(ctx context.Context, userID, title string) (Thread, error)

	// GetThread loads a thread by ID
	GetThread(ctx context.Context, threadID string) (Thread, error)

	// LoadRecent returns the last limit items of the thread in
	// chronological order
	LoadRecent(ctx context.Context, threadID string, limit int) ([]Item, error)

	// Append persists one item at the end of the thread
	Append(ctx context.Context, threadID string, item Item) error

	// GenerateItemID mints a new item identifier of the given kind
	GenerateItemID(kind, threadID string) string
}

// NewItemID mints a prefixed nanoid, e.g. "msg_V1StGXR8_Z5jdHi6B-myT"
func NewItemID(kind string) string {
	if kind == "" {
		kind = "item"
	}
	id, _ := gonanoid.New()
	return kind + "_" + id
}
