package claimwriter

import "context"

// WriteBuffer accumulates a writer's pending storage items, keeping only the
// latest item per key.
//
// Claims are ordered by the first arrival of their key: a later record for
// the same key replaces the value in place without moving it. Messages keeps
// every entry added since the last Clear, superseded ones included, so a
// flush can acknowledge exactly the records it covers.
//
// A WriteBuffer is owned by a single writer and is not safe for concurrent use.
type WriteBuffer[T any] struct {
	index    map[string]int
	claims   []T
	messages []Entry
}

// NewWriteBuffer creates a buffer sized for capacity distinct keys.
func NewWriteBuffer[T any](capacity int) *WriteBuffer[T] {
	return &WriteBuffer[T]{
		index:    make(map[string]int, capacity),
		claims:   make([]T, 0, capacity),
		messages: make([]Entry, 0, capacity),
	}
}

// Add transforms e with sink and buffers the result.
//
// A skipped record is only added to Messages. A failed transform returns a
// *TransformError and leaves the buffer unchanged.
func (b *WriteBuffer[T]) Add(ctx context.Context, sink Sink[T], e Entry) error {
	key := keyOf(sink, e.Record)
	item, ok, err := sink.Transform(ctx, e.Version, e.Record.Payload)
	if err != nil {
		return &TransformError{Key: key, Sequence: e.Sequence(), Err: err}
	}

	if ok {
		if i, found := b.index[key]; found {
			b.claims[i] = item
		} else {
			b.index[key] = len(b.claims)
			b.claims = append(b.claims, item)
		}
	}
	b.messages = append(b.messages, e)
	return nil
}

// Claims returns the deduplicated storage items in first-arrival order.
func (b *WriteBuffer[T]) Claims() []T {
	return b.claims
}

// Messages returns every entry added since the last Clear, in arrival order.
func (b *WriteBuffer[T]) Messages() []Entry {
	return b.messages
}

// Len returns the number of distinct keys buffered.
func (b *WriteBuffer[T]) Len() int {
	return len(b.claims)
}

// Empty reports whether nothing has been added since the last Clear,
// including skipped records.
func (b *WriteBuffer[T]) Empty() bool {
	return len(b.messages) == 0
}

// Clear resets the buffer. Slices previously returned by Claims and Messages
// remain valid.
func (b *WriteBuffer[T]) Clear() {
	clear(b.index)
	b.claims = make([]T, 0, cap(b.claims))
	b.messages = make([]Entry, 0, cap(b.messages))
}

// keyOf returns the record's key, extracting it from the payload when unset.
func keyOf[T any](sink Sink[T], r Record) string {
	if r.Key != "" {
		return r.Key
	}
	return sink.Key(r.Payload)
}
