package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailtm-go/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertMailbox inserts a mailbox or refreshes its address and domain.
func (s *SQLiteStore) UpsertMailbox(ctx context.Context, mb model.Mailbox) error {
	if strings.TrimSpace(mb.ID) == "" || strings.TrimSpace(mb.Address) == "" {
		return fmt.Errorf("mailbox id and address must not be empty")
	}
	if mb.Domain == "" {
		if i := strings.LastIndex(mb.Address, "@"); i >= 0 {
			mb.Domain = mb.Address[i+1:]
		}
	}
	now := time.Now().UTC()
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, address, domain, created_at, updated_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			domain = excluded.domain,
			updated_at = excluded.updated_at,
			last_login_at = COALESCE(excluded.last_login_at, accounts.last_login_at)`,
		mb.ID, mb.Address, mb.Domain, mb.CreatedAt.UTC(), now, mb.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("upserting mailbox %s: %w", mb.Address, err)
	}
	return nil
}

// GetMailboxes returns all known mailboxes, most recently created first.
func (s *SQLiteStore) GetMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var mbs []model.Mailbox
	err := s.db.SelectContext(ctx, &mbs, `
		SELECT id, address, domain, created_at, updated_at, last_login_at
		FROM accounts
		ORDER BY created_at DESC, address`)
	if err != nil {
		return nil, fmt.Errorf("querying mailboxes: %w", err)
	}
	return mbs, nil
}

// GetMailboxByAddress looks a mailbox up by its address.
func (s *SQLiteStore) GetMailboxByAddress(
	ctx context.Context,
	address string,
) (*model.Mailbox, error) {
	var mb model.Mailbox
	err := s.db.GetContext(ctx, &mb, `
		SELECT id, address, domain, created_at, updated_at, last_login_at
		FROM accounts WHERE address = ?`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mailbox %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying mailbox %s: %w", address, err)
	}
	return &mb, nil
}

// TouchLogin records a successful login for the mailbox.
func (s *SQLiteStore) TouchLogin(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_login_at = ?, updated_at = ? WHERE id = ?",
		now, now, id)
	if err != nil {
		return fmt.Errorf("recording login for %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("mailbox %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMailbox removes a mailbox. Its archived messages are removed with it.
func (s *SQLiteStore) DeleteMailbox(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting mailbox %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("mailbox %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertMessages inserts or refreshes a batch of message summaries and
// returns how many of them were not archived before.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []model.ArchivedMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO messages (
			id, account_id, msgid, from_address, from_name,
			subject, intro, seen, has_attachments, size,
			created_at, fetched_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)
		ON CONFLICT(id) DO UPDATE SET
			seen = excluded.seen,
			subject = excluded.subject,
			intro = excluded.intro,
			fetched_at = excluded.fetched_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	added := 0
	for _, m := range msgs {
		var exists int
		if err := tx.GetContext(ctx, &exists,
			"SELECT COUNT(*) FROM messages WHERE id = ?", m.ID); err != nil {
			return 0, fmt.Errorf("checking message %s: %w", m.ID, err)
		}
		if exists == 0 {
			added++
		}

		fetchedAt := now
		if !m.FetchedAt.IsZero() {
			fetchedAt = m.FetchedAt.UTC()
		}
		_, err = stmt.ExecContext(ctx,
			m.ID, m.AccountID, m.MsgID, m.FromAddress, m.FromName,
			m.Subject, m.Intro, m.Seen, m.HasAttachments, m.Size,
			m.CreatedAt.UTC(), fetchedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing messages: %w", err)
	}
	return added, nil
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// GetMessages returns archived messages of one account, newest first.
func (s *SQLiteStore) GetMessages(
	ctx context.Context,
	accountID string,
	filter MessageFilter,
) ([]model.ArchivedMessage, error) {
	conditions := []string{"account_id = ?"}
	args := []interface{}{accountID}

	if filter.UnseenOnly {
		conditions = append(conditions, "seen = 0")
	}
	if filter.Query != nil && *filter.Query != "" {
		like := "%" + likeEscaper.Replace(*filter.Query) + "%"
		conditions = append(conditions,
			`(subject LIKE ? ESCAPE '\' OR intro LIKE ? ESCAPE '\' OR `+
				`from_address LIKE ? ESCAPE '\' OR from_name LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like)
	}

	query := `
		SELECT id, account_id, msgid, from_address, from_name,
			subject, intro, seen, has_attachments, size,
			created_at, fetched_at
		FROM messages
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC`

	switch {
	case filter.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	case filter.Offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	var msgs []model.ArchivedMessage
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return msgs, nil
}

// MarkMessageSeen flags an archived message as read.
func (s *SQLiteStore) MarkMessageSeen(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE messages SET seen = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking message %s seen: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes an archived message. A missing message is not an
// error since it may never have been synced.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}
