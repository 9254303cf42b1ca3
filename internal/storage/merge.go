// ABOUTME: Transactional merge of freshly normalized feed data into stored rows
// ABOUTME: Preserves user-owned item fields and skips writes for unchanged rows

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/harper/feedradar/internal/metrics"
	"github.com/harper/feedradar/internal/models"
)

// MergeResult reports what a merge wrote.
type MergeResult struct {
	// FeedChanged is set when the feed row differed from the stored one.
	FeedChanged bool
	// Changed holds every item that was inserted or updated, as persisted.
	Changed []models.Item
	// AttachmentWrites counts attachment rows inserted or deleted.
	AttachmentWrites int
}

// Writes is the total number of row writes the merge performed.
func (r MergeResult) Writes() int {
	n := len(r.Changed) + r.AttachmentWrites
	if r.FeedChanged {
		n++
	}
	return n
}

const upsertItemSQL = `
	INSERT INTO items (id, source, title, time, author, content, url, is_read, is_starred, sync_snapshot, extracted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source = excluded.source,
		title = excluded.title,
		time = excluded.time,
		author = excluded.author,
		content = excluded.content,
		url = excluded.url,
		is_read = excluded.is_read,
		is_starred = excluded.is_starred,
		sync_snapshot = excluded.sync_snapshot,
		extracted = excluded.extracted`

// Merge reconciles a normalized feed with the stored rows for its source in
// a single transaction. The feed must already exist: a feed deleted while
// its fetch was in flight yields ErrNotFound and nothing is written.
//
// For every item the stored read/starred flags, sync snapshot and extracted
// text are carried over before comparing, so a re-fetch never clobbers user
// state and byte-identical content produces zero writes. An item's
// attachments are replaced wholesale whenever their set differs.
func (s *SQLiteStore) Merge(ctx context.Context, feed models.Feed, items []models.Item, attachments []models.Attachment) (*MergeResult, error) {
	// Attachment ids derive from URL and item, so a repeated URL is one row.
	byItem := make(map[int64][]models.Attachment)
	seen := make(map[int64]bool, len(attachments))
	for _, a := range attachments {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		byItem[a.ItemID] = append(byItem[a.ItemID], a)
	}

	result := &MergeResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) ([]Table, error) {
		*result = MergeResult{}

		stored, err := getFeed(ctx, tx, feed.Source)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("merge %s: feed removed during fetch: %w", feed.Source, ErrNotFound)
			}
			return nil, err
		}
		if !stored.Equal(&feed) {
			if _, err := tx.ExecContext(ctx, `UPDATE feeds SET title = ?, icon = ? WHERE source = ?`,
				feed.Title, feed.Icon, feed.Source); err != nil {
				return nil, fmt.Errorf("update feed: %w", err)
			}
			result.FeedChanged = true
		}

		for i := range items {
			item := items[i]
			item.Source = feed.Source
			if item.Time != nil {
				t := item.Time.UTC().Truncate(models.TimePrecision)
				item.Time = &t
			}
			want := byItem[item.ID]

			existing, err := getItem(ctx, tx, item.ID)
			switch {
			case errors.Is(err, ErrNotFound):
				existing = nil
			case err != nil:
				return nil, err
			}

			if existing != nil {
				item.PreserveLocal(existing)
				if item.Equal(existing) {
					n, err := syncAttachments(ctx, tx, item.ID, want)
					if err != nil {
						return nil, err
					}
					result.AttachmentWrites += n
					continue
				}
			}

			if err := upsertItem(ctx, tx, &item); err != nil {
				return nil, err
			}
			result.Changed = append(result.Changed, item)

			n, err := replaceAttachments(ctx, tx, item.ID, want)
			if err != nil {
				return nil, err
			}
			result.AttachmentWrites += n
		}

		var touched []Table
		if result.FeedChanged {
			touched = append(touched, TableFeeds)
		}
		if len(result.Changed) > 0 {
			touched = append(touched, TableItems)
		}
		if result.AttachmentWrites > 0 {
			touched = append(touched, TableAttachments)
		}
		return touched, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MergeWrites.Add(float64(result.Writes()))
	return result, nil
}

func upsertItem(ctx context.Context, tx *sql.Tx, item *models.Item) error {
	_, err := tx.ExecContext(ctx, upsertItemSQL,
		item.ID, item.Source, item.Title, toNullTime(item.Time), item.Author, item.Content, item.URL,
		boolToInt(item.IsRead), boolToInt(item.IsStarred), item.SyncSnapshot, item.Extracted)
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", item.ID, err)
	}
	return nil
}

// syncAttachments replaces the attachments of an unchanged item only when the
// stored set differs from want.
func syncAttachments(ctx context.Context, tx *sql.Tx, itemID int64, want []models.Attachment) (int, error) {
	have, err := listAttachments(ctx, tx, itemID)
	if err != nil {
		return 0, err
	}
	if sameAttachments(have, want) {
		return 0, nil
	}
	return replaceAttachments(ctx, tx, itemID, want)
}

// replaceAttachments deletes every attachment of the item and inserts want.
func replaceAttachments(ctx context.Context, tx *sql.Tx, itemID int64, want []models.Attachment) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE item_id = ?`, itemID)
	if err != nil {
		return 0, fmt.Errorf("delete attachments: %w", err)
	}
	deleted, _ := res.RowsAffected()
	writes := int(deleted)

	for _, a := range want {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, item_id, url, mime, title) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET item_id = excluded.item_id, url = excluded.url,
				mime = excluded.mime, title = excluded.title`,
			a.ID, itemID, a.URL, a.MIME, a.Title)
		if err != nil {
			return 0, fmt.Errorf("insert attachment: %w", err)
		}
		writes++
	}
	return writes, nil
}

func sameAttachments(have, want []models.Attachment) bool {
	if len(have) != len(want) {
		return false
	}
	want = append([]models.Attachment(nil), want...)
	sort.Slice(want, func(i, j int) bool { return want[i].ID < want[j].ID })
	// have is ordered by id already.
	for i := range have {
		a, b := have[i], want[i]
		if a.ID != b.ID || a.URL != b.URL || !equalString(a.MIME, b.MIME) || !equalString(a.Title, b.Title) {
			return false
		}
	}
	return true
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
