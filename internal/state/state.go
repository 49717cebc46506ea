package state

import (
	"sync"

	"github.com/sokinpui/revise/model"
)

// Log is the session's ordered, append-only record of applied mutations.
// Insertion order is apply order. It lives in memory for one session.
type Log struct {
	mu      sync.Mutex
	entries []model.HistoryEntry
}

// NewLog creates an empty history log.
func NewLog() *Log {
	return &Log{}
}

// Append adds entries to the end of the log.
func (l *Log) Append(entries ...model.HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
}

// Entries returns a copy of the log in apply order.
func (l *Log) Entries() []model.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.HistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Last returns the most recently appended entry.
func (l *Log) Last() (model.HistoryEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return model.HistoryEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// TakeLastBatch removes and returns every entry sharing the batch id of the
// most recent entry, in apply order. An entry without a batch id is taken
// on its own.
func (l *Log) TakeLastBatch() []model.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil
	}
	last := l.entries[len(l.entries)-1]
	if last.BatchID == "" {
		l.entries = l.entries[:len(l.entries)-1]
		return []model.HistoryEntry{last}
	}

	var taken []model.HistoryEntry
	remaining := make([]model.HistoryEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.BatchID == last.BatchID {
			taken = append(taken, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	l.entries = remaining
	return taken
}

// Batches groups the log by batch id, oldest batch first.
func (l *Log) Batches() [][]model.HistoryEntry {
	entries := l.Entries()
	var batches [][]model.HistoryEntry
	index := make(map[string]int)
	for _, e := range entries {
		if e.BatchID == "" {
			batches = append(batches, []model.HistoryEntry{e})
			continue
		}
		if i, ok := index[e.BatchID]; ok {
			batches[i] = append(batches[i], e)
			continue
		}
		index[e.BatchID] = len(batches)
		batches = append(batches, []model.HistoryEntry{e})
	}
	return batches
}
