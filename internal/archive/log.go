package archive

import (
	"slices"
	"sync"
)

// Log is the in-memory conversation of the current lesson and the single
// writer for it. Transcript deltas, hydration from the store and resets all
// go through its methods. Every mutation bumps a monotonically increasing
// version so observers can coalesce work.
//
// All methods are safe for concurrent use. Change listeners run after the lock
// is released, on the mutating goroutine, and must not block.
type Log struct {
	mu        sync.Mutex
	messages  []Message
	version   uint64
	listeners []func(version uint64)
}

// NewLog returns an empty Log.
func NewLog() *Log { return &Log{} }

// OnChange registers fn to be called after every mutation.
func (l *Log) OnChange(fn func(version uint64)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Append adds m at the end.
func (l *Log) Append(m Message) {
	_, _ = l.mutate(func() bool {
		l.messages = append(l.messages, m)
		return true
	})
}

// AppendText appends delta to the text of the message with id. It reports
// false if no such message exists.
func (l *Log) AppendText(id, delta string) bool {
	_, ok := l.mutate(func() bool {
		for i := len(l.messages) - 1; i >= 0; i-- {
			if l.messages[i].ID == id {
				l.messages[i].Text += delta
				return true
			}
		}
		return false
	})
	return ok
}

// Replace swaps the whole conversation for msgs and returns the version the
// swap produced. Listeners may have mutated the log again by the time it
// returns.
func (l *Log) Replace(msgs []Message) uint64 {
	v, _ := l.mutate(func() bool {
		l.messages = slices.Clone(msgs)
		return true
	})
	return v
}

// Reset empties the log and returns the version the reset produced.
func (l *Log) Reset() uint64 {
	v, _ := l.mutate(func() bool {
		l.messages = nil
		return true
	})
	return v
}

// Snapshot returns a copy of the messages and the version they belong to.
func (l *Log) Snapshot() ([]Message, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages), l.version
}

// Get returns the message with id.
func (l *Log) Get(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].ID == id {
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Version returns the current version.
func (l *Log) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

func (l *Log) mutate(fn func() bool) (uint64, bool) {
	l.mu.Lock()
	if !fn() {
		v := l.version
		l.mu.Unlock()
		return v, false
	}
	l.version++
	v := l.version
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()

	for _, cb := range listeners {
		cb(v)
	}
	return v, true
}
