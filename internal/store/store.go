package store

import (
	"context"
	"errors"

	"github.com/nhle/mailtm-go/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MessageFilter controls filtering and pagination for archived messages.
type MessageFilter struct {
	UnseenOnly bool
	Query      *string // matched against subject, intro and sender
	Limit      int
	Offset     int
}

// Store defines the persistence interface for known mailboxes and their
// archived message summaries.
type Store interface {
	// === Mailboxes ===

	UpsertMailbox(ctx context.Context, mb model.Mailbox) error
	GetMailboxes(ctx context.Context) ([]model.Mailbox, error)
	GetMailboxByAddress(ctx context.Context, address string) (*model.Mailbox, error)
	TouchLogin(ctx context.Context, id string) error
	DeleteMailbox(ctx context.Context, id string) error

	// === Messages ===

	UpsertMessages(ctx context.Context, msgs []model.ArchivedMessage) (int, error)
	GetMessages(ctx context.Context, accountID string, filter MessageFilter) ([]model.ArchivedMessage, error)
	MarkMessageSeen(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, id string) error
}
