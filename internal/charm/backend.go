// ABOUTME: Sync backend storing zones and item records in a key-value database
// ABOUTME: Change detection diffs the current keys against the previous state token

package charm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harper/feedradar/internal/kv"
	feedsync "github.com/harper/feedradar/internal/sync"
)

const (
	// Key prefixes for KV store
	ZonePrefix   = "zone:"
	RecordPrefix = "record:"
)

// payload is the stored form of a record; its JSON is also the snapshot.
type payload struct {
	IsRead     bool      `json:"isRead"`
	IsStarred  bool      `json:"isStarred"`
	ModifiedAt time.Time `json:"modifiedAt"`
	ChangeTag  string    `json:"changeTag"`
}

type zoneMarker struct {
	CreatedAt time.Time `json:"createdAt"`
}

// token is the state handed back to the engine after each fetch.
type token struct {
	Account string            `json:"account"`
	Zones   []string          `json:"zones,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Backend implements sync.Backend over a kv.Store, normally a Client.
type Backend struct {
	store   kv.Store
	account func() (string, error)
	pull    func() error
	now     func() time.Time
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithPull sets a function run before every fetch to bring the store up to
// date with the server.
func WithPull(pull func() error) BackendOption {
	return func(b *Backend) { b.pull = pull }
}

// WithClock overrides the time source for record modification times.
func WithClock(now func() time.Time) BackendOption {
	return func(b *Backend) { b.now = now }
}

// NewBackend creates a backend. account returns the linked account id, or
// an empty string when no account is linked.
func NewBackend(store kv.Store, account func() (string, error), opts ...BackendOption) *Backend {
	b := &Backend{store: store, account: account, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewClientBackend wires a backend to a Charm client.
func NewClientBackend(c *Client) *Backend {
	return NewBackend(c, c.ID, WithPull(c.Pull))
}

func zoneKey(source string) string {
	return ZonePrefix + source
}

func recordKey(id feedsync.RecordID) string {
	return RecordPrefix + id.Zone + "|" + id.Name
}

func parseRecordKey(key string) (feedsync.RecordID, bool) {
	rest := strings.TrimPrefix(key, RecordPrefix)
	i := strings.LastIndex(rest, "|")
	if i <= 0 || i == len(rest)-1 {
		return feedsync.RecordID{}, false
	}
	return feedsync.RecordID{Zone: rest[:i], Name: rest[i+1:]}, true
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", &feedsync.RecordError{Code: feedsync.ServiceUnavailable}, err)
}

// SnapshotTime decodes the modification time of a record snapshot.
func (b *Backend) SnapshotTime(snapshot []byte) (time.Time, bool) {
	if len(snapshot) == 0 {
		return time.Time{}, false
	}
	var p payload
	if err := json.Unmarshal(snapshot, &p); err != nil || p.ModifiedAt.IsZero() {
		return time.Time{}, false
	}
	return p.ModifiedAt, true
}

// Fetch reports account, zone and record changes since tok.
func (b *Backend) Fetch(ctx context.Context, tok []byte) (*feedsync.FetchedChanges, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prev token
	if len(tok) > 0 {
		if err := json.Unmarshal(tok, &prev); err != nil {
			return nil, fmt.Errorf("decode state token: %w", err)
		}
	}

	account, err := b.account()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", &feedsync.RecordError{Code: feedsync.NetworkFailure}, err)
	}

	var events []feedsync.Event
	switch {
	case account == "" && prev.Account == "":
		return nil, &feedsync.RecordError{Code: feedsync.NotAuthenticated}
	case account == "":
		next, _ := json.Marshal(token{})
		return &feedsync.FetchedChanges{
			Events: []feedsync.Event{feedsync.AccountChanged{Change: feedsync.AccountSignOut}},
			Token:  next,
		}, nil
	case prev.Account == "":
		events = append(events, feedsync.AccountChanged{Change: feedsync.AccountSignIn})
		prev = token{}
	case prev.Account != account:
		events = append(events, feedsync.AccountChanged{Change: feedsync.AccountSwitch})
		prev = token{}
	}

	if b.pull != nil {
		if err := b.pull(); err != nil {
			return nil, fmt.Errorf("%w: %w", &feedsync.RecordError{Code: feedsync.NetworkFailure}, err)
		}
	}

	zones, err := b.zones()
	if err != nil {
		return nil, err
	}
	records, tags, err := b.records(zones)
	if err != nil {
		return nil, err
	}

	var added, deleted []string
	for _, z := range zones {
		if !slices.Contains(prev.Zones, z) {
			added = append(added, z)
		}
	}
	for _, z := range prev.Zones {
		if !slices.Contains(zones, z) {
			deleted = append(deleted, z)
		}
	}

	var modified []feedsync.Record
	for _, rec := range records {
		if prev.Tags[rec.ID.String()] != tags[rec.ID.String()] {
			modified = append(modified, rec)
		}
	}

	var gone []feedsync.RecordID
	for key := range prev.Tags {
		if _, ok := tags[key]; ok {
			continue
		}
		id, ok := parseRecordKey(RecordPrefix + key)
		if !ok || !slices.Contains(zones, id.Zone) {
			continue
		}
		gone = append(gone, id)
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].String() < gone[j].String() })

	if len(added) > 0 {
		events = append(events, feedsync.ZonesAdded{Sources: added})
	}
	if len(modified) > 0 {
		events = append(events, feedsync.RecordsModified{Records: modified})
	}
	if len(gone) > 0 {
		events = append(events, feedsync.RecordsDeleted{IDs: gone})
	}
	if len(deleted) > 0 {
		events = append(events, feedsync.ZonesDeleted{Sources: deleted})
	}

	next, err := json.Marshal(token{Account: account, Zones: zones, Tags: tags})
	if err != nil {
		return nil, fmt.Errorf("encode state token: %w", err)
	}
	return &feedsync.FetchedChanges{Events: events, Token: next}, nil
}

func (b *Backend) zones() ([]string, error) {
	keys, err := b.store.Keys(ZonePrefix)
	if err != nil {
		return nil, unavailable(err)
	}
	zones := make([]string, 0, len(keys))
	for _, key := range keys {
		zones = append(zones, strings.TrimPrefix(key, ZonePrefix))
	}
	return zones, nil
}

// records loads every record in a live zone along with its change tag.
func (b *Backend) records(zones []string) ([]feedsync.Record, map[string]string, error) {
	keys, err := b.store.Keys(RecordPrefix)
	if err != nil {
		return nil, nil, unavailable(err)
	}

	var records []feedsync.Record
	tags := make(map[string]string)
	for _, key := range keys {
		id, ok := parseRecordKey(key)
		if !ok || !slices.Contains(zones, id.Zone) {
			continue
		}
		data, err := b.store.Get(key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, unavailable(err)
		}
		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		records = append(records, toRecord(id, p, data))
		tags[id.String()] = p.ChangeTag
	}
	return records, tags, nil
}

func toRecord(id feedsync.RecordID, p payload, raw []byte) feedsync.Record {
	modified := p.ModifiedAt
	return feedsync.Record{
		ID:         id,
		IsRead:     p.IsRead,
		IsStarred:  p.IsStarred,
		ModifiedAt: &modified,
		Snapshot:   raw,
	}
}

// SendDatabaseChanges creates zone markers and deletes zones with their
// records.
func (b *Backend) SendDatabaseChanges(ctx context.Context, saves, deletes []string) (*feedsync.SentDatabaseChanges, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sent := &feedsync.SentDatabaseChanges{}
	for _, source := range saves {
		if err := b.saveZone(source); err != nil {
			sent.Failed = append(sent.Failed, feedsync.ZoneFailure{Source: source, Err: err})
			continue
		}
		sent.Saved = append(sent.Saved, source)
	}
	for _, source := range deletes {
		if err := b.deleteZone(source); err != nil {
			sent.Failed = append(sent.Failed, feedsync.ZoneFailure{Source: source, Err: err})
			continue
		}
		sent.Deleted = append(sent.Deleted, source)
	}
	return sent, nil
}

func (b *Backend) saveZone(source string) error {
	_, err := b.store.Get(zoneKey(source))
	if err == nil {
		return nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return unavailable(err)
	}
	data, err := json.Marshal(zoneMarker{CreatedAt: b.now().UTC()})
	if err != nil {
		return err
	}
	if err := b.store.Set(zoneKey(source), data); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *Backend) deleteZone(source string) error {
	keys, err := b.store.Keys(RecordPrefix + source + "|")
	if err != nil {
		return unavailable(err)
	}
	for _, key := range keys {
		if err := b.store.Delete(key); err != nil {
			return unavailable(err)
		}
	}
	if err := b.store.Delete(zoneKey(source)); err != nil {
		return unavailable(err)
	}
	return nil
}

// SendRecordChanges saves records. A record whose snapshot does not carry
// the server's current change tag fails with ServerRecordChanged.
func (b *Backend) SendRecordChanges(ctx context.Context, records []feedsync.Record) (*feedsync.SentRecordChanges, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sent := &feedsync.SentRecordChanges{}
	for _, rec := range records {
		saved, err := b.saveRecord(rec)
		if err != nil {
			sent.Failed = append(sent.Failed, feedsync.RecordFailure{ID: rec.ID, Err: err})
			continue
		}
		sent.Saved = append(sent.Saved, *saved)
	}
	return sent, nil
}

func (b *Backend) saveRecord(rec feedsync.Record) (*feedsync.Record, error) {
	if _, err := b.store.Get(zoneKey(rec.ID.Zone)); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, &feedsync.RecordError{Code: feedsync.ZoneNotFound}
		}
		return nil, unavailable(err)
	}

	key := recordKey(rec.ID)
	current, err := b.store.Get(key)
	switch {
	case err == nil:
		var server payload
		if err := json.Unmarshal(current, &server); err == nil {
			if server.ChangeTag != changeTag(rec.Snapshot) {
				serverRecord := toRecord(rec.ID, server, current)
				return nil, &feedsync.RecordError{Code: feedsync.ServerRecordChanged, ServerRecord: &serverRecord}
			}
		}
	case !errors.Is(err, kv.ErrNotFound):
		return nil, unavailable(err)
	}

	p := payload{
		IsRead:     rec.IsRead,
		IsStarred:  rec.IsStarred,
		ModifiedAt: b.now().UTC(),
		ChangeTag:  uuid.NewString(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := b.store.Set(key, data); err != nil {
		return nil, unavailable(err)
	}
	saved := toRecord(rec.ID, p, data)
	return &saved, nil
}

func changeTag(snapshot []byte) string {
	if len(snapshot) == 0 {
		return ""
	}
	var p payload
	if err := json.Unmarshal(snapshot, &p); err != nil {
		return ""
	}
	return p.ChangeTag
}

var _ feedsync.Backend = (*Backend)(nil)
