// Package postgres implements the storage interfaces backed by PostgreSQL.
//
// Serial assignment uses a single database sequence so ordering is decided by
// the store, not by callers, and remains race-free across processes. Every
// catalog write also records a revision row, which answers the point-in-time
// snapshot queries the diff engine needs.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/domain/chatroom"
	"github.com/webxdc/storebot/internal/app/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the bot's tables and the serial sequence when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS store_serial_seq`,
		`CREATE TABLE IF NOT EXISTS store_apps (
			id              TEXT PRIMARY KEY,
			app_id          TEXT UNIQUE,
			version         TEXT NOT NULL DEFAULT '',
			tag_name        TEXT NOT NULL DEFAULT '',
			name            TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			source_code_url TEXT NOT NULL DEFAULT '',
			submitter_uri   TEXT NOT NULL DEFAULT '',
			image           TEXT NOT NULL DEFAULT '',
			size            BIGINT NOT NULL DEFAULT 0,
			date            TIMESTAMPTZ,
			blob_location   TEXT NOT NULL DEFAULT '',
			originator_chat BIGINT NOT NULL DEFAULT 0,
			active          BOOLEAN NOT NULL DEFAULT FALSE,
			serial          BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_app_revisions (
			entry_id TEXT NOT NULL,
			serial   BIGINT NOT NULL,
			active   BOOLEAN NOT NULL,
			snapshot JSONB NOT NULL,
			PRIMARY KEY (entry_id, serial)
		)`,
		`CREATE TABLE IF NOT EXISTS store_chat_roles (
			chat_id BIGINT PRIMARY KEY,
			role    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_submit_chats (
			chat_id       BIGINT PRIMARY KEY,
			helper_msg_id BIGINT NOT NULL,
			entry_id      TEXT NOT NULL,
			creator       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS store_review_chats (
			chat_id              BIGINT PRIMARY KEY,
			helper_msg_id        BIGINT NOT NULL,
			submit_chat_id       BIGINT NOT NULL,
			submit_helper_msg_id BIGINT NOT NULL,
			publisher            TEXT NOT NULL,
			testers              JSONB NOT NULL,
			entry_id             TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS store_pool_members (
			pool    TEXT NOT NULL,
			contact TEXT NOT NULL,
			PRIMARY KEY (pool, contact)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// revisionSnapshot is the JSON shape stored per revision. It carries every
// field needed to reconstruct the entry, unlike the client-facing encoding.
type revisionSnapshot struct {
	ID             string    `json:"id"`
	AppID          string    `json:"app_id"`
	Version        string    `json:"version"`
	TagName        string    `json:"tag_name"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	SourceCodeURL  string    `json:"source_code_url"`
	SubmitterURI   string    `json:"submitter_uri"`
	Image          string    `json:"image"`
	Size           int64     `json:"size"`
	Date           time.Time `json:"date"`
	BlobLocation   string    `json:"blob_location"`
	OriginatorChat int64     `json:"originator_chat"`
	Active         bool      `json:"active"`
	Serial         int64     `json:"serial"`
}

func toSnapshot(e catalog.AppEntry) revisionSnapshot {
	return revisionSnapshot{
		ID: e.ID, AppID: e.AppID, Version: e.Version, TagName: e.TagName,
		Name: e.Name, Description: e.Description, SourceCodeURL: e.SourceCodeURL,
		SubmitterURI: e.SubmitterURI, Image: e.Image, Size: e.Size, Date: e.Date,
		BlobLocation: e.BlobLocation, OriginatorChat: e.OriginatorChat,
		Active: e.Active, Serial: e.Serial,
	}
}

func (r revisionSnapshot) entry() catalog.AppEntry {
	return catalog.AppEntry{
		ID: r.ID, AppID: r.AppID, Version: r.Version, TagName: r.TagName,
		Name: r.Name, Description: r.Description, SourceCodeURL: r.SourceCodeURL,
		SubmitterURI: r.SubmitterURI, Image: r.Image, Size: r.Size, Date: r.Date,
		BlobLocation: r.BlobLocation, OriginatorChat: r.OriginatorChat,
		Active: r.Active, Serial: r.Serial,
	}
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateApp(ctx context.Context, entry catalog.AppEntry) (catalog.AppEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		serial, err := nextSerial(ctx, tx)
		if err != nil {
			return err
		}
		entry.Serial = serial

		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_apps (id, app_id, version, tag_name, name, description,
				source_code_url, submitter_uri, image, size, date, blob_location,
				originator_chat, active, serial)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, entry.ID, nullIfEmpty(entry.AppID), entry.Version, entry.TagName, entry.Name,
			entry.Description, entry.SourceCodeURL, entry.SubmitterURI, entry.Image,
			entry.Size, nullIfZeroTime(entry.Date), entry.BlobLocation,
			entry.OriginatorChat, entry.Active, entry.Serial)
		if err != nil {
			return err
		}
		return insertRevision(ctx, tx, entry)
	})
	if err != nil {
		return catalog.AppEntry{}, err
	}
	return entry, nil
}

func (s *Store) UpdateApp(ctx context.Context, entry catalog.AppEntry) (catalog.AppEntry, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			currentAppID sql.NullString
			active       bool
		)
		row := tx.QueryRowContext(ctx, `
			SELECT app_id, active FROM store_apps WHERE id = $1 FOR UPDATE
		`, entry.ID)
		if err := row.Scan(&currentAppID, &active); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return err
		}
		if currentAppID.Valid && currentAppID.String != "" && entry.AppID != currentAppID.String {
			return fmt.Errorf("app_id is immutable (entry %s)", entry.ID)
		}
		if active && !entry.Active {
			return fmt.Errorf("entry %s is published, active cannot be cleared", entry.ID)
		}

		serial, err := nextSerial(ctx, tx)
		if err != nil {
			return err
		}
		entry.Serial = serial

		_, err = tx.ExecContext(ctx, `
			UPDATE store_apps
			SET app_id = $2, version = $3, tag_name = $4, name = $5, description = $6,
				source_code_url = $7, submitter_uri = $8, image = $9, size = $10,
				date = $11, blob_location = $12, originator_chat = $13, active = $14,
				serial = $15
			WHERE id = $1
		`, entry.ID, nullIfEmpty(entry.AppID), entry.Version, entry.TagName, entry.Name,
			entry.Description, entry.SourceCodeURL, entry.SubmitterURI, entry.Image,
			entry.Size, nullIfZeroTime(entry.Date), entry.BlobLocation,
			entry.OriginatorChat, entry.Active, entry.Serial)
		if err != nil {
			return err
		}
		return insertRevision(ctx, tx, entry)
	})
	if err != nil {
		return catalog.AppEntry{}, err
	}
	return entry, nil
}

func nextSerial(ctx context.Context, tx *sql.Tx) (int64, error) {
	var serial int64
	err := tx.QueryRowContext(ctx, `SELECT nextval('store_serial_seq')`).Scan(&serial)
	return serial, err
}

func insertRevision(ctx context.Context, tx *sql.Tx, entry catalog.AppEntry) error {
	snapshot, err := json.Marshal(toSnapshot(entry))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO store_app_revisions (entry_id, serial, active, snapshot)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.Serial, entry.Active, snapshot)
	return err
}

const appColumns = `id, app_id, version, tag_name, name, description,
	source_code_url, submitter_uri, image, size, date, blob_location,
	originator_chat, active, serial`

func scanApp(row interface{ Scan(...any) error }) (catalog.AppEntry, error) {
	var (
		entry catalog.AppEntry
		appID sql.NullString
		date  sql.NullTime
	)
	err := row.Scan(&entry.ID, &appID, &entry.Version, &entry.TagName, &entry.Name,
		&entry.Description, &entry.SourceCodeURL, &entry.SubmitterURI, &entry.Image,
		&entry.Size, &date, &entry.BlobLocation, &entry.OriginatorChat,
		&entry.Active, &entry.Serial)
	if err != nil {
		return catalog.AppEntry{}, err
	}
	entry.AppID = appID.String
	if date.Valid {
		entry.Date = date.Time
	}
	return entry, nil
}

func (s *Store) GetApp(ctx context.Context, id string) (catalog.AppEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM store_apps WHERE id = $1`, id)
	entry, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.AppEntry{}, storage.ErrNotFound
	}
	return entry, err
}

func (s *Store) GetAppByAppID(ctx context.Context, appID string) (catalog.AppEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM store_apps WHERE app_id = $1`, appID)
	entry, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.AppEntry{}, storage.ErrNotFound
	}
	return entry, err
}

func (s *Store) ChangedSince(ctx context.Context, serial int64) ([]catalog.AppEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appColumns+` FROM store_apps
		WHERE active AND serial > $1
		ORDER BY serial
	`, serial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changed []catalog.AppEntry
	for rows.Next() {
		entry, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		changed = append(changed, entry)
	}
	return changed, rows.Err()
}

func (s *Store) SnapshotAt(ctx context.Context, ids []string, serial int64) (map[string]catalog.AppEntry, error) {
	if len(ids) == 0 {
		return map[string]catalog.AppEntry{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (entry_id) entry_id, snapshot
		FROM store_app_revisions
		WHERE entry_id = ANY($1) AND serial <= $2 AND active
		ORDER BY entry_id, serial DESC
	`, pq.Array(ids), serial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]catalog.AppEntry, len(ids))
	for rows.Next() {
		var (
			entryID string
			raw     []byte
		)
		if err := rows.Scan(&entryID, &raw); err != nil {
			return nil, err
		}
		var snap revisionSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode revision of %s: %w", entryID, err)
		}
		result[entryID] = snap.entry()
	}
	return result, rows.Err()
}

func (s *Store) LastSerial(ctx context.Context) (int64, error) {
	var serial sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(serial) FROM store_app_revisions`).Scan(&serial)
	if err != nil {
		return 0, err
	}
	return serial.Int64, nil
}

// ChatStore implementation ----------------------------------------------------

func (s *Store) SetChatRole(ctx context.Context, chatID int64, role chatroom.Role) error {
	if !role.Valid() {
		return fmt.Errorf("unknown chat role %q", role)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_chat_roles (chat_id, role) VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE SET role = EXCLUDED.role
	`, chatID, string(role))
	return err
}

func (s *Store) GetChatRole(ctx context.Context, chatID int64) (chatroom.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM store_chat_roles WHERE chat_id = $1`, chatID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	return chatroom.Role(role), err
}

func (s *Store) CreateSubmitChat(ctx context.Context, chat chatroom.SubmitChat) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO store_submit_chats (chat_id, helper_msg_id, entry_id, creator)
			VALUES ($1, $2, $3, $4)
		`, chat.ChatID, chat.HelperMsgID, chat.EntryID, chat.Creator)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_chat_roles (chat_id, role) VALUES ($1, $2)
			ON CONFLICT (chat_id) DO UPDATE SET role = EXCLUDED.role
		`, chat.ChatID, string(chatroom.RoleSubmit))
		return err
	})
}

func (s *Store) GetSubmitChat(ctx context.Context, chatID int64) (chatroom.SubmitChat, error) {
	var chat chatroom.SubmitChat
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, helper_msg_id, entry_id, creator
		FROM store_submit_chats WHERE chat_id = $1
	`, chatID).Scan(&chat.ChatID, &chat.HelperMsgID, &chat.EntryID, &chat.Creator)
	if errors.Is(err, sql.ErrNoRows) {
		return chatroom.SubmitChat{}, storage.ErrNotFound
	}
	return chat, err
}

func (s *Store) DeleteSubmitChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM store_submit_chats WHERE chat_id = $1`, chatID)
	return err
}

func (s *Store) SetChatEntry(ctx context.Context, chatID int64, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE store_submit_chats SET entry_id = $1 WHERE chat_id = $2`, entryID, chatID)
	if err != nil {
		return fmt.Errorf("rebind submit chat %d: %w", chatID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	res, err = s.db.ExecContext(ctx,
		`UPDATE store_review_chats SET entry_id = $1 WHERE chat_id = $2`, entryID, chatID)
	if err != nil {
		return fmt.Errorf("rebind review chat %d: %w", chatID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpgradeToReviewChat(ctx context.Context, chat chatroom.ReviewChat) error {
	testers, err := json.Marshal(chat.Testers)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO store_review_chats (chat_id, helper_msg_id, submit_chat_id,
				submit_helper_msg_id, publisher, testers, entry_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, chat.ChatID, chat.HelperMsgID, chat.SubmitChatID, chat.SubmitHelperMsgID,
			chat.Publisher, testers, chat.EntryID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_chat_roles (chat_id, role) VALUES ($1, $2)
			ON CONFLICT (chat_id) DO UPDATE SET role = EXCLUDED.role
		`, chat.ChatID, string(chatroom.RoleReview))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM store_submit_chats WHERE chat_id = $1`, chat.SubmitChatID)
		if err != nil {
			return err
		}
		// The originating 1:1 chat goes back to being an ordinary shop chat.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_chat_roles (chat_id, role) VALUES ($1, $2)
			ON CONFLICT (chat_id) DO UPDATE SET role = EXCLUDED.role
		`, chat.SubmitChatID, string(chatroom.RoleShop))
		return err
	})
}

func (s *Store) GetReviewChat(ctx context.Context, chatID int64) (chatroom.ReviewChat, error) {
	var (
		chat       chatroom.ReviewChat
		testersRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, helper_msg_id, submit_chat_id, submit_helper_msg_id,
			publisher, testers, entry_id
		FROM store_review_chats WHERE chat_id = $1
	`, chatID).Scan(&chat.ChatID, &chat.HelperMsgID, &chat.SubmitChatID,
		&chat.SubmitHelperMsgID, &chat.Publisher, &testersRaw, &chat.EntryID)
	if errors.Is(err, sql.ErrNoRows) {
		return chatroom.ReviewChat{}, storage.ErrNotFound
	}
	if err != nil {
		return chatroom.ReviewChat{}, err
	}
	if err := json.Unmarshal(testersRaw, &chat.Testers); err != nil {
		return chatroom.ReviewChat{}, err
	}
	return chat, nil
}

// PoolStore implementation ----------------------------------------------------

func (s *Store) AddMember(ctx context.Context, pool chatroom.Pool, contact string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_pool_members (pool, contact) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, string(pool), contact)
	return err
}

func (s *Store) ListMembers(ctx context.Context, pool chatroom.Pool) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact FROM store_pool_members WHERE pool = $1 ORDER BY contact
	`, string(pool))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var contact string
		if err := rows.Scan(&contact); err != nil {
			return nil, err
		}
		members = append(members, contact)
	}
	return members, rows.Err()
}

func (s *Store) RandomPublisher(ctx context.Context) (string, error) {
	var contact string
	err := s.db.QueryRowContext(ctx, `
		SELECT contact FROM store_pool_members WHERE pool = $1
		ORDER BY random() LIMIT 1
	`, string(chatroom.PoolPublishers)).Scan(&contact)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	return contact, err
}

func (s *Store) RandomTesters(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact FROM store_pool_members WHERE pool = $1
		ORDER BY random() LIMIT $2
	`, string(chatroom.PoolTesters), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var testers []string
	for rows.Next() {
		var contact string
		if err := rows.Scan(&contact); err != nil {
			return nil, err
		}
		testers = append(testers, contact)
	}
	return testers, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// nullIfEmpty maps "" to SQL NULL so the app_id unique index ignores drafts.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
