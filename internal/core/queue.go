package core

import "errors"

// ErrQueueInvariant signals a structural invariant violation (min_offset
// larger than the window bound with no successor to trim into). Per the
// error-handling policy this is fatal to the source, not the process: the
// caller aborts the source rather than panicking.
var ErrQueueInvariant = errors.New("core: source queue invariant violation")

// SourceQueue is a singly-linked chain of RefBlocks with a burst-window
// cursor. It enforces size limits and retains exactly the window of
// blocks a freshly-joined listener needs to find a sync point.
//
// All methods assume the caller holds the owning Source's lock; the queue
// has no internal locking of its own.
type SourceQueue struct {
	head *RefBlock
	tail *RefBlock

	minCursor *RefBlock
	minOffset int

	minSize          int
	defaultBurstSize int

	queueSize      int
	queueSizeLimit int
}

// NewSourceQueue builds an empty queue with the given burst/size policy.
func NewSourceQueue(minSize, defaultBurstSize, queueSizeLimit int) *SourceQueue {
	return &SourceQueue{
		minSize:          minSize,
		defaultBurstSize: defaultBurstSize,
		queueSizeLimit:   queueSizeLimit,
	}
}

// Head returns the oldest retained block, or nil if the queue is empty.
func (q *SourceQueue) Head() *RefBlock { return q.head }

// Tail returns the newest block, or nil if the queue is empty.
func (q *SourceQueue) Tail() *RefBlock { return q.tail }

// MinCursor returns the burst-window start, or nil if the queue is empty.
func (q *SourceQueue) MinCursor() *RefBlock { return q.minCursor }

// MinOffset returns the byte span from min_cursor through tail inclusive.
func (q *SourceQueue) MinOffset() int { return q.minOffset }

// Size returns the total bytes from head through tail.
func (q *SourceQueue) Size() int { return q.queueSize }

// Empty reports whether the queue currently holds no blocks.
func (q *SourceQueue) Empty() bool { return q.head == nil }

// DefaultBurstSize returns the configured default burst window in bytes.
func (q *SourceQueue) DefaultBurstSize() int { return q.defaultBurstSize }

// SetLimits updates the size policy, e.g. after a mount config reload.
func (q *SourceQueue) SetLimits(minSize, defaultBurstSize, queueSizeLimit int) {
	q.minSize = minSize
	q.defaultBurstSize = defaultBurstSize
	q.queueSizeLimit = queueSizeLimit
}

// Append links b onto the tail (spec.md §4.2 step 7). b must arrive fresh
// — produced by FormatAdapter.GetBuffer and not yet referenced by
// anything — since Append establishes the block's canonical references
// from zero: one permanent tail-retention reference (handed off from the
// previous tail) and one burst-window reference, matching P4 exactly
// (refcount = listener cursors + tail-retention + window-retention).
func (q *SourceQueue) Append(b *RefBlock) error {
	b.refs.Store(0)
	b.flags.Store(b.flags.Load() | uint32(FlagQueueBlock))

	if q.head == nil {
		q.head = b
		q.minCursor = b
		q.minOffset = 0
	} else {
		// Hand off the previous tail's retention reference to the new
		// tail; the old tail keeps only listener-cursor references (if
		// any) and, if still inside the min-window, its window reference.
		q.tail.linkNext(b)
		q.tail.Unref()
	}
	q.tail = b
	b.Ref() // new tail retention reference

	q.queueSize += b.length

	b.Ref() // burst-window retention reference
	q.minOffset += b.length

	for q.minOffset > q.minSize && q.minCursor != q.tail {
		nxt := q.minCursor.Next()
		if nxt == nil {
			return ErrQueueInvariant
		}
		q.minCursor.Unref()
		q.minOffset -= q.minCursor.length
		q.minCursor = nxt
	}
	return nil
}

// TrimHead releases head blocks while the queue is over its size limit or
// the head block carries no references at all (not a listener cursor, not
// tail retention, not in the min-window — i.e. truly orphaned). Spec.md
// §4.2 step 8.
func (q *SourceQueue) TrimHead() {
	for q.head != nil && (q.queueSize > q.queueSizeLimit || q.head.RefCount() == 0) {
		h := q.head
		if h.RefCount() > 0 {
			// Over the size limit but still referenced by a listener or
			// the burst window: stop: we never forcibly evict a block a
			// listener cursor still needs, the listener eviction path
			// (send_listener step 10) handles that case via
			// FlagReleaseMarker once the listener itself falls behind.
			break
		}
		h.setReleaseMarker()
		q.queueSize -= h.length
		nxt := h.Next()
		q.head = nxt
		if nxt == nil {
			q.tail = nil
			q.minCursor = nil
			q.minOffset = 0
		}
	}
}

// Release drops every reference the queue itself holds: the min-window
// reference of each block from min_cursor through the tail and the tail
// retention reference, then unlinks the chain. Called from free_source
// once listener_count is confirmed zero.
func (q *SourceQueue) Release() {
	if q.head == nil {
		return
	}
	for b := q.minCursor; b != nil; b = b.Next() {
		b.Unref()
	}
	if q.tail != nil {
		q.tail.Unref()
	}
	q.head, q.tail, q.minCursor, q.minOffset, q.queueSize = nil, nil, nil, 0, 0
}
