// ABOUTME: Persisted engine state: backend token, pending intents and orphaned records
// ABOUTME: Stored as one JSON document in the local key-value layer

package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/harper/feedradar/internal/kv"
)

// StateKey is the kv key holding the engine state.
const StateKey = "syncState"

type state struct {
	Token       []byte     `json:"token,omitempty"`
	ZoneSaves   []string   `json:"zoneSaves,omitempty"`
	ZoneDeletes []string   `json:"zoneDeletes,omitempty"`
	RecordSaves []RecordID `json:"recordSaves,omitempty"`
	Orphans     []Record   `json:"orphans,omitempty"`
}

func loadState(store kv.Store) (*state, error) {
	data, err := store.Get(StateKey)
	if errors.Is(err, kv.ErrNotFound) {
		return &state{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode sync state: %w", err)
	}
	return &st, nil
}

func (s *state) save(store kv.Store) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	if err := store.Set(StateKey, data); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

// saveZone queues a zone creation, cancelling a pending deletion.
func (s *state) saveZone(source string) {
	s.ZoneDeletes = remove(s.ZoneDeletes, source)
	s.ZoneSaves = appendUnique(s.ZoneSaves, source)
}

// deleteZone queues a zone deletion and forgets everything pending for it.
func (s *state) deleteZone(source string) {
	s.ZoneSaves = remove(s.ZoneSaves, source)
	s.ZoneDeletes = appendUnique(s.ZoneDeletes, source)
	s.forgetZone(source)
}

// forgetZone drops record intents and orphans belonging to source.
func (s *state) forgetZone(source string) {
	s.RecordSaves = slices.DeleteFunc(s.RecordSaves, func(id RecordID) bool { return id.Zone == source })
	s.Orphans = slices.DeleteFunc(s.Orphans, func(r Record) bool { return r.ID.Zone == source })
}

func (s *state) saveRecord(id RecordID) {
	s.RecordSaves = appendUnique(s.RecordSaves, id)
}

func (s *state) dequeueRecord(id RecordID) {
	s.RecordSaves = remove(s.RecordSaves, id)
}

// addOrphan stores r, replacing an older copy of the same record.
func (s *state) addOrphan(r Record) {
	for i := range s.Orphans {
		if s.Orphans[i].ID == r.ID {
			s.Orphans[i] = r
			return
		}
	}
	s.Orphans = append(s.Orphans, r)
}

func (s *state) orphansIn(source string) []Record {
	var out []Record
	for _, r := range s.Orphans {
		if r.ID.Zone == source {
			out = append(out, r)
		}
	}
	return out
}

func (s *state) removeOrphan(id RecordID) {
	s.Orphans = slices.DeleteFunc(s.Orphans, func(r Record) bool { return r.ID == id })
}

// reset clears everything, including the token.
func (s *state) reset() {
	*s = state{}
}

func appendUnique[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func remove[T comparable](list []T, v T) []T {
	return slices.DeleteFunc(list, func(x T) bool { return x == v })
}
