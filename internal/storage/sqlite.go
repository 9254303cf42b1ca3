// ABOUTME: SQLite storage implementation using modernc.org/sqlite (pure Go)
// ABOUTME: Feeds, items and attachments with cascading deletes, FTS5 search, and a kv table

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/models"
)

// SQLiteStore persists feeds, items and attachments.
type SQLiteStore struct {
	db       *sql.DB
	notifier *notifier
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// migrates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Use 0700 (owner only) for privacy - reading habits are personal data
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer; every statement and transaction serializes on this
	// connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, notifier: newNotifier()}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS feeds (
			source TEXT PRIMARY KEY,
			title TEXT,
			icon TEXT
		);

		CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY,
			source TEXT NOT NULL REFERENCES feeds(source) ON DELETE CASCADE,
			title TEXT NOT NULL,
			time INTEGER,
			author TEXT,
			content TEXT,
			url TEXT,
			is_read INTEGER NOT NULL DEFAULT 0,
			is_starred INTEGER NOT NULL DEFAULT 0,
			sync_snapshot BLOB,
			extracted TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_items_source ON items(source);
		CREATE INDEX IF NOT EXISTS idx_items_time ON items(time);
		CREATE INDEX IF NOT EXISTS idx_items_flags ON items(is_read, is_starred);

		CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY,
			item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			mime TEXT,
			title TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_item_id ON attachments(item_id);

		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);

		-- FTS5 for content search
		CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
			title,
			content,
			content=items,
			content_rowid=id
		);

		-- Triggers to keep FTS in sync
		CREATE TRIGGER IF NOT EXISTS items_ai AFTER INSERT ON items BEGIN
			INSERT INTO items_fts(rowid, title, content)
			VALUES (new.id, new.title, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS items_ad AFTER DELETE ON items BEGIN
			INSERT INTO items_fts(items_fts, rowid, title, content)
			VALUES ('delete', old.id, old.title, old.content);
		END;

		CREATE TRIGGER IF NOT EXISTS items_au AFTER UPDATE OF title, content ON items BEGIN
			INSERT INTO items_fts(items_fts, rowid, title, content)
			VALUES ('delete', old.id, old.title, old.content);
			INSERT INTO items_fts(rowid, title, content)
			VALUES (new.id, new.title, new.content);
		END;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.migrate()
}

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

// migrate upgrades databases written by older versions. Version 0 stored
// item times in nanoseconds.
func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	if _, err := tx.Exec(`UPDATE items SET time = time / 1000 WHERE time IS NOT NULL`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrate item times: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Subscribe returns a channel that receives a signal after every committed
// write touching any of tables (all tables when none are given). Call the
// returned function to unsubscribe.
func (s *SQLiteStore) Subscribe(tables ...Table) (<-chan struct{}, func()) {
	return s.notifier.subscribe(tables)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction and notifies subscribers of tables after a
// successful commit.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) ([]Table, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	touched, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.notifier.publish(touched...)
	return nil
}

// Feed Operations

const feedColumns = `source, title, icon`

func scanFeed(row interface{ Scan(...any) error }) (*models.Feed, error) {
	var f models.Feed
	var title, icon sql.NullString
	if err := row.Scan(&f.Source, &title, &icon); err != nil {
		return nil, err
	}
	f.Title = fromNullString(title)
	f.Icon = fromNullString(icon)
	return &f, nil
}

// AddFeed inserts feed if no feed with the same source exists. It reports
// whether a row was inserted.
func (s *SQLiteStore) AddFeed(ctx context.Context, feed *models.Feed) (bool, error) {
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) ([]Table, error) {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO feeds (source, title, icon) VALUES (?, ?, ?) ON CONFLICT(source) DO NOTHING`,
			feed.Source, feed.Title, feed.Icon)
		if err != nil {
			return nil, fmt.Errorf("insert feed: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		if !inserted {
			return nil, nil
		}
		return []Table{TableFeeds}, nil
	})
	return inserted, err
}

// GetFeed retrieves a feed by source.
func (s *SQLiteStore) GetFeed(ctx context.Context, source string) (*models.Feed, error) {
	return getFeed(ctx, s.db, source)
}

func getFeed(ctx context.Context, q queryer, source string) (*models.Feed, error) {
	feed, err := scanFeed(q.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE source = ?`, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return feed, nil
}

// ListFeeds returns all feeds sorted by display title.
func (s *SQLiteStore) ListFeeds(ctx context.Context) ([]*models.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY COALESCE(NULLIF(title, ''), source) COLLATE NOCASE, source`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer rows.Close()

	var feeds []*models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// DeleteFeed removes a feed; its items and their attachments cascade. It
// reports whether the feed existed.
func (s *SQLiteStore) DeleteFeed(ctx context.Context, source string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) ([]Table, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE source = ?`, source)
		if err != nil {
			return nil, fmt.Errorf("delete feed: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		if !deleted {
			return nil, nil
		}
		return []Table{TableFeeds, TableItems, TableAttachments}, nil
	})
	return deleted, err
}

// Item Operations

const itemColumns = `id, source, title, time, author, content, url, is_read, is_starred, sync_snapshot, extracted`

func scanItem(row interface{ Scan(...any) error }) (*models.Item, error) {
	var item models.Item
	var ts sql.NullInt64
	var author, content, link, extracted sql.NullString
	var snapshot []byte
	if err := row.Scan(&item.ID, &item.Source, &item.Title, &ts, &author, &content, &link,
		&item.IsRead, &item.IsStarred, &snapshot, &extracted); err != nil {
		return nil, err
	}
	item.Time = fromNullTime(ts)
	item.Author = fromNullString(author)
	item.Content = fromNullString(content)
	item.URL = fromNullString(link)
	if len(snapshot) > 0 {
		item.SyncSnapshot = snapshot
	}
	item.Extracted = fromNullString(extracted)
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*models.Item, error) {
	defer rows.Close()
	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem retrieves an item by id.
func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	return getItem(ctx, s.db, id)
}

func getItem(ctx context.Context, q queryer, id int64) (*models.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// filterClause builds a WHERE clause (without the keyword) for f.
func filterClause(f models.Filter) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any
	if f.Feed != nil {
		conditions = append(conditions, "source = ?")
		args = append(args, *f.Feed)
	}
	if f.IsRead != nil {
		conditions = append(conditions, "is_read = ?")
		args = append(args, boolToInt(*f.IsRead))
	}
	if f.IsStarred != nil {
		conditions = append(conditions, "is_starred = ?")
		args = append(args, boolToInt(*f.IsStarred))
	}
	if f.Since != nil {
		conditions = append(conditions, "time >= ?")
		args = append(args, f.Since.UnixMicro())
	}
	if f.Before != nil {
		conditions = append(conditions, "time < ?")
		args = append(args, f.Before.UnixMicro())
	}
	return strings.Join(conditions, " AND "), args
}

// ListItems returns items matching filter, newest first. limit <= 0 means no
// limit.
func (s *SQLiteStore) ListItems(ctx context.Context, filter models.Filter, limit, offset int) ([]*models.Item, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + where +
		` ORDER BY time IS NULL, time DESC, id`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return scanItems(rows)
}

// CountItems counts items matching filter.
func (s *SQLiteStore) CountItems(ctx context.Context, filter models.Filter) (int, error) {
	where, args := filterClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// TouchedItems returns every item the user has marked read or starred.
func (s *SQLiteStore) TouchedItems(ctx context.Context) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE is_read = 1 OR is_starred = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query touched items: %w", err)
	}
	return scanItems(rows)
}

const updateItemSQL = `
	UPDATE items SET title = ?, time = ?, author = ?, content = ?, url = ?,
		is_read = ?, is_starred = ?, sync_snapshot = ?, extracted = ?
	WHERE id = ?`

// UpdateItems writes every field of each existing item in a single
// transaction. Items that no longer exist are skipped. It returns the number
// of rows updated.
func (s *SQLiteStore) UpdateItems(ctx context.Context, items []models.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var updated int
	err := s.withTx(ctx, func(tx *sql.Tx) ([]Table, error) {
		stmt, err := tx.PrepareContext(ctx, updateItemSQL)
		if err != nil {
			return nil, fmt.Errorf("prepare update: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			res, err := stmt.ExecContext(ctx,
				item.Title, toNullTime(item.Time), item.Author, item.Content, item.URL,
				boolToInt(item.IsRead), boolToInt(item.IsStarred), item.SyncSnapshot, item.Extracted,
				item.ID)
			if err != nil {
				return nil, fmt.Errorf("update item %d: %w", item.ID, err)
			}
			n, _ := res.RowsAffected()
			updated += int(n)
		}
		if updated == 0 {
			return nil, nil
		}
		return []Table{TableItems}, nil
	})
	return updated, err
}

// MarkAllAsRead sets isRead on every unread item matching filter and returns
// the items it changed.
func (s *SQLiteStore) MarkAllAsRead(ctx context.Context, filter models.Filter) ([]*models.Item, error) {
	var changed []*models.Item
	err := s.withTx(ctx, func(tx *sql.Tx) ([]Table, error) {
		where, args := filterClause(filter.OnlyUnread())
		rows, err := tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where, args...)
		if err != nil {
			return nil, fmt.Errorf("query unread items: %w", err)
		}
		changed, err = scanItems(rows)
		if err != nil {
			return nil, err
		}
		if len(changed) == 0 {
			return nil, nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET is_read = 1 WHERE `+where, args...); err != nil {
			return nil, fmt.Errorf("mark items read: %w", err)
		}
		for _, item := range changed {
			item.IsRead = true
		}
		return []Table{TableItems}, nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// Search performs full-text search on item titles and content.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("i.", itemColumns)+`
		FROM items i
		JOIN items_fts ON items_fts.rowid = i.id
		WHERE items_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	return scanItems(rows)
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

// Attachment Operations

func scanAttachments(rows *sql.Rows) ([]models.Attachment, error) {
	defer rows.Close()
	var out []models.Attachment
	for rows.Next() {
		var a models.Attachment
		var mime, title sql.NullString
		if err := rows.Scan(&a.ID, &a.ItemID, &a.URL, &mime, &title); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.MIME = fromNullString(mime)
		a.Title = fromNullString(title)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAttachments returns the attachments of an item ordered by id.
func (s *SQLiteStore) ListAttachments(ctx context.Context, itemID int64) ([]models.Attachment, error) {
	return listAttachments(ctx, s.db, itemID)
}

func listAttachments(ctx context.Context, q queryer, itemID int64) ([]models.Attachment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, item_id, url, mime, title FROM attachments WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	return scanAttachments(rows)
}

// Maintenance

// ClearAll deletes every feed (cascading to items and attachments) and every
// kv entry.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]Table, error) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM feeds`); err != nil {
			return nil, fmt.Errorf("delete feeds: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv`); err != nil {
			return nil, fmt.Errorf("delete kv: %w", err)
		}
		return []Table{TableFeeds, TableItems, TableAttachments}, nil
	})
}

// Compact performs database maintenance (VACUUM).
func (s *SQLiteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// KV returns the key-value view of the kv table.
func (s *SQLiteStore) KV() kv.Store {
	return kvTable{db: s.db}
}

type kvTable struct {
	db *sql.DB
}

func (t kvTable) Get(key string) ([]byte, error) {
	var value []byte
	err := t.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kv %q: %w", key, err)
	}
	return value, nil
}

func (t kvTable) Set(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := t.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %q: %w", key, err)
	}
	return nil
}

func (t kvTable) Delete(key string) error {
	if _, err := t.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv %q: %w", key, err)
	}
	return nil
}

func (t kvTable) Keys(prefix string) ([]string, error) {
	rows, err := t.db.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list kv keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Helper functions

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Item times are stored as Unix microseconds, which spans every year a feed
// date can carry.
func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMicro(n.Int64).UTC()
	return &t
}
