// Package storage defines the persistence interfaces consumed by the bot's
// services, plus a thread-safe in-memory implementation.
package storage

import (
	"context"
	"errors"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/domain/chatroom"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("storage: not found")

// CatalogStore persists catalog entries. Every create and update is atomic
// and assigns the next global serial to the written row; callers never pick
// serials themselves.
type CatalogStore interface {
	CreateApp(ctx context.Context, entry catalog.AppEntry) (catalog.AppEntry, error)
	UpdateApp(ctx context.Context, entry catalog.AppEntry) (catalog.AppEntry, error)

	GetApp(ctx context.Context, id string) (catalog.AppEntry, error)
	GetAppByAppID(ctx context.Context, appID string) (catalog.AppEntry, error)

	// ChangedSince returns the active entries whose last-write serial is
	// strictly greater than the given cursor.
	ChangedSince(ctx context.Context, serial int64) ([]catalog.AppEntry, error)

	// SnapshotAt returns, for each entry id, the entry's fields as of the
	// last active revision with serial <= cursor. Ids with no such revision
	// are absent from the result: the client knows nothing about them.
	SnapshotAt(ctx context.Context, ids []string, serial int64) (map[string]catalog.AppEntry, error)

	// LastSerial returns the highest serial assigned so far, 0 when empty.
	LastSerial(ctx context.Context) (int64, error)
}

// ChatStore persists chat roles and the submit/review chat bindings.
type ChatStore interface {
	SetChatRole(ctx context.Context, chatID int64, role chatroom.Role) error
	GetChatRole(ctx context.Context, chatID int64) (chatroom.Role, error)

	CreateSubmitChat(ctx context.Context, chat chatroom.SubmitChat) error
	GetSubmitChat(ctx context.Context, chatID int64) (chatroom.SubmitChat, error)
	DeleteSubmitChat(ctx context.Context, chatID int64) error

	// SetChatEntry repoints the chat's submit or review binding at another
	// entry. ErrNotFound when the chat has no binding.
	SetChatEntry(ctx context.Context, chatID int64, entryID string) error

	// UpgradeToReviewChat persists the review binding produced from a submit
	// chat. The submit chat binding is removed in the same operation.
	UpgradeToReviewChat(ctx context.Context, chat chatroom.ReviewChat) error
	GetReviewChat(ctx context.Context, chatID int64) (chatroom.ReviewChat, error)
}

// PoolStore records tester and publisher pool membership.
type PoolStore interface {
	AddMember(ctx context.Context, pool chatroom.Pool, contact string) error
	ListMembers(ctx context.Context, pool chatroom.Pool) ([]string, error)

	// RandomPublisher picks one publisher, ErrNotFound when the pool is empty.
	RandomPublisher(ctx context.Context) (string, error)
	// RandomTesters picks up to n distinct testers; empty when none joined.
	RandomTesters(ctx context.Context, n int) ([]string, error)
}

// Store aggregates the persistence capabilities the bot needs.
type Store interface {
	CatalogStore
	ChatStore
	PoolStore
}
