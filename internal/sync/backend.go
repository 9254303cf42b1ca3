// ABOUTME: Remote backend contract and the events it delivers to the engine
// ABOUTME: Zones are named by feed source; records by the item's hex id within that zone

package sync

import (
	"context"
	"time"

	"github.com/harper/feedradar/internal/models"
)

// RecordID identifies a remote record.
type RecordID struct {
	Zone string `json:"zone"`
	Name string `json:"name"`
}

func (id RecordID) String() string {
	return id.Zone + "|" + id.Name
}

// ItemID returns the local item id the record mirrors.
func (id RecordID) ItemID() (int64, error) {
	return models.ParseRecordName(id.Name)
}

// RecordIDFor returns the record identifier of item.
func RecordIDFor(item *models.Item) RecordID {
	return RecordID{Zone: item.Source, Name: item.RecordName()}
}

// Record is the synchronized state of one item. Snapshot is the backend's
// opaque encoding of the record as last seen on the server.
type Record struct {
	ID         RecordID   `json:"id"`
	IsRead     bool       `json:"isRead"`
	IsStarred  bool       `json:"isStarred"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty"`
	Snapshot   []byte     `json:"snapshot,omitempty"`
}

// Backend is a zone-based remote record store with change tracking.
type Backend interface {
	// Fetch returns the changes since token.
	Fetch(ctx context.Context, token []byte) (*FetchedChanges, error)
	// SendDatabaseChanges creates and deletes zones.
	SendDatabaseChanges(ctx context.Context, saves, deletes []string) (*SentDatabaseChanges, error)
	// SendRecordChanges saves records and reports per-record outcomes.
	SendRecordChanges(ctx context.Context, records []Record) (*SentRecordChanges, error)
	// SnapshotTime extracts the modification time from a snapshot.
	SnapshotTime(snapshot []byte) (time.Time, bool)
}

// FetchedChanges is the result of one Backend.Fetch.
type FetchedChanges struct {
	Events []Event
	Token  []byte
}

// Event is a remote change delivered to the engine.
type Event interface {
	event()
}

// AccountChange describes what happened to the linked account.
type AccountChange string

const (
	AccountSignIn  AccountChange = "signIn"
	AccountSignOut AccountChange = "signOut"
	AccountSwitch  AccountChange = "switch"
)

// AccountChanged reports a sign-in, sign-out or account switch.
type AccountChanged struct {
	Change AccountChange
}

// ZonesAdded reports zones created remotely.
type ZonesAdded struct {
	Sources []string
}

// ZonesDeleted reports zones deleted remotely.
type ZonesDeleted struct {
	Sources []string
}

// RecordsModified reports records created or changed remotely.
type RecordsModified struct {
	Records []Record
}

// RecordsDeleted reports records deleted remotely without their zone.
type RecordsDeleted struct {
	IDs []RecordID
}

// ZoneFailure is a zone save or delete that failed.
type ZoneFailure struct {
	Source string
	Err    error
}

// SentDatabaseChanges reports the outcome of SendDatabaseChanges.
type SentDatabaseChanges struct {
	Saved   []string
	Deleted []string
	Failed  []ZoneFailure
}

// RecordFailure is a record save that failed.
type RecordFailure struct {
	ID  RecordID
	Err error
}

// SentRecordChanges reports the outcome of SendRecordChanges.
type SentRecordChanges struct {
	Saved  []Record
	Failed []RecordFailure
}

// StateUpdated carries a new backend state token to persist.
type StateUpdated struct {
	Token []byte
}

func (AccountChanged) event()      {}
func (ZonesAdded) event()          {}
func (ZonesDeleted) event()        {}
func (RecordsModified) event()     {}
func (RecordsDeleted) event()      {}
func (SentDatabaseChanges) event() {}
func (SentRecordChanges) event()   {}
func (StateUpdated) event()        {}
