// Package core implements the per-mountpoint streaming engine: the
// reference-counted block queue, the source and listener state machines,
// the mount registry, and the admission/fallback resolver.
package core

import "sync/atomic"

// BlockFlag tags a RefBlock with metadata that governs queue trimming and
// listener catch-up.
type BlockFlag uint32

const (
	// FlagSync marks a block as a valid codec boundary; listeners may only
	// begin reading from a SYNC-tagged block.
	FlagSync BlockFlag = 1 << iota
	// FlagQueueBlock marks a block that is linked into a SourceQueue (as
	// opposed to a private per-listener copy made by listenerDetach).
	FlagQueueBlock
	// FlagReleaseMarker is set on a block once it has been unlinked from
	// the queue; any listener cursor still pointing at it must release and
	// drop.
	FlagReleaseMarker
)

// RefBlock is an immutable, reference-counted container of encoded stream
// bytes. Once linked into a SourceQueue, bytes and length never change;
// only flags (to add FlagReleaseMarker) and next (once, to extend the
// chain) may change, and only while the owning source's lock is held.
type RefBlock struct {
	bytes  []byte
	length int

	flags atomic.Uint32
	refs  atomic.Int32

	next atomic.Pointer[RefBlock]
}

// NewRefBlock wraps p (which callers must not mutate afterward) in a
// RefBlock with an initial refcount of one, held by the caller.
func NewRefBlock(p []byte, flags BlockFlag) *RefBlock {
	b := &RefBlock{
		bytes:  p,
		length: len(p),
	}
	b.flags.Store(uint32(flags))
	b.refs.Store(1)
	return b
}

// Bytes returns the block's immutable payload.
func (b *RefBlock) Bytes() []byte { return b.bytes }

// Len returns the block's byte length.
func (b *RefBlock) Len() int { return b.length }

// Flags returns the current flag set.
func (b *RefBlock) Flags() BlockFlag { return BlockFlag(b.flags.Load()) }

// HasFlag reports whether all bits of f are set.
func (b *RefBlock) HasFlag(f BlockFlag) bool {
	return BlockFlag(b.flags.Load())&f == f
}

// setReleaseMarker sets FlagReleaseMarker. Callers must hold the owning
// source's lock.
func (b *RefBlock) setReleaseMarker() {
	for {
		old := b.flags.Load()
		nv := old | uint32(FlagReleaseMarker)
		if old == nv || b.flags.CompareAndSwap(old, nv) {
			return
		}
	}
}

// Next returns the successor block, or nil at the tail.
func (b *RefBlock) Next() *RefBlock { return b.next.Load() }

// linkNext appends n as this block's successor. May only be called once
// per block (queue append), while holding the owning source's lock.
func (b *RefBlock) linkNext(n *RefBlock) {
	b.next.Store(n)
}

// Ref takes an additional reference on the block (P4: the refcount is the
// sum of listener cursors, tail retention, and min-window retention).
func (b *RefBlock) Ref() {
	b.refs.Add(1)
}

// Unref drops a reference. It returns true the first time the refcount
// reaches zero, signalling the caller that now owns destruction.
func (b *RefBlock) Unref() bool {
	return b.refs.Add(-1) == 0
}

// RefCount returns the current reference count, for tests and invariant
// checks (P4).
func (b *RefBlock) RefCount() int32 { return b.refs.Load() }
