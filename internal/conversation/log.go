// Package conversation holds the append-only transcript shown to the user.
package conversation

import (
	"sync"
	"time"
)

// Role identifies who produced a log entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one immutable line of the conversation.
type Entry struct {
	Seq  int
	Role Role
	Text string
	At   time.Time
}

// Log is an ordered, append-only sequence of entries. Entries are never
// edited or reordered once appended.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records a new entry and returns it.
func (l *Log) Append(role Role, text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Seq:  len(l.entries) + 1,
		Role: role,
		Text: text,
		At:   l.now(),
	}
	l.entries = append(l.entries, entry)
	return entry
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a snapshot copy of all entries in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count reports how many entries carry the given role.
func (l *Log) Count(role Role) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.Role == role {
			n++
		}
	}
	return n
}

// Last returns the most recent entry with the given role.
func (l *Log) Last(role Role) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Role == role {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}
