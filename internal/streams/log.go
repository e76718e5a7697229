package streams

// Log is a capped most-recent-N buffer. When full, appending drops the oldest
// entry; archiving old entries is not this layer's job. Not safe for
// concurrent use; each broadcaster guards its log with its own mutex.
type Log[T any] struct {
	capacity int
	items    []T
}

// NewLog creates a log holding at most capacity entries.
func NewLog[T any](capacity int) *Log[T] {
	return &Log[T]{capacity: capacity}
}

// Append adds an entry, evicting the oldest when the log is full.
func (l *Log[T]) Append(item T) {
	if len(l.items) == l.capacity {
		copy(l.items, l.items[1:])
		l.items[len(l.items)-1] = item
		return
	}
	l.items = append(l.items, item)
}

// Items returns a copy of the entries, oldest first.
func (l *Log[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of entries.
func (l *Log[T]) Len() int {
	return len(l.items)
}

// Patch applies fn to the first entry matching the predicate, in place.
// Returns false when nothing matched.
func (l *Log[T]) Patch(match func(T) bool, fn func(*T)) bool {
	for i := range l.items {
		if match(l.items[i]) {
			fn(&l.items[i])
			return true
		}
	}
	return false
}
