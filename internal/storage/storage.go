// ABOUTME: Storage types shared by the SQLite store: sentinel errors, tables, and commit notifications
// ABOUTME: Subscribers are re-notified after every committed write that touches a table they watch

package storage

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a feed or item does not exist.
var ErrNotFound = errors.New("not found")

// Table names a relational table that subscribers can watch.
type Table string

const (
	TableFeeds       Table = "feeds"
	TableItems       Table = "items"
	TableAttachments Table = "attachments"
)

// notifier fans committed-write signals out to subscribers. Signals are
// coalesced: a subscriber that has not drained its channel sees one pending
// signal no matter how many commits happened.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]subscription
}

type subscription struct {
	tables map[Table]bool
	ch     chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]subscription)}
}

func (n *notifier) subscribe(tables []Table) (<-chan struct{}, func()) {
	sub := subscription{tables: make(map[Table]bool), ch: make(chan struct{}, 1)}
	for _, t := range tables {
		sub.tables[t] = true
	}

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = sub
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (n *notifier) publish(tables ...Table) {
	if len(tables) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		if !sub.watches(tables) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

func (s subscription) watches(tables []Table) bool {
	if len(s.tables) == 0 {
		return true
	}
	for _, t := range tables {
		if s.tables[t] {
			return true
		}
	}
	return false
}
