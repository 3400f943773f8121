package core

import "testing"

func appendBytes(t *testing.T, q *SourceQueue, n int, flags BlockFlag) *RefBlock {
	t.Helper()
	b := NewRefBlock(make([]byte, n), flags)
	if err := q.Append(b); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return b
}

func TestSourceQueueAppendSizeTracking(t *testing.T) {
	q := NewSourceQueue(1024, 512, 1<<20)

	appendBytes(t, q, 100, FlagSync)
	appendBytes(t, q, 200, 0)
	appendBytes(t, q, 300, FlagSync)

	if got, want := q.Size(), 600; got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}

	// P2: queue_size equals the sum of block lengths head..tail.
	sum := 0
	for b := q.Head(); b != nil; b = b.Next() {
		sum += b.Len()
	}
	if sum != q.Size() {
		t.Errorf("sum of chain lengths = %d, want Size() = %d", sum, q.Size())
	}
}

func TestSourceQueueMinWindowRetention(t *testing.T) {
	q := NewSourceQueue(500, 500, 1<<20)

	b1 := appendBytes(t, q, 400, FlagSync)
	if got := b1.RefCount(); got != 2 {
		t.Fatalf("fresh single block refcount = %d, want 2 (tail+window)", got)
	}

	b2 := appendBytes(t, q, 400, FlagSync)
	// b1 is no longer the tail but min_offset (800) exceeds min_size
	// (500), so the cursor should have advanced past it, dropping its
	// window reference along with the earlier tail-retention handoff.
	if got := b1.RefCount(); got != 0 {
		t.Errorf("evicted-from-window block refcount = %d, want 0", got)
	}
	if got := b2.RefCount(); got != 2 {
		t.Errorf("new tail refcount = %d, want 2 (tail+window)", got)
	}
	if q.MinCursor() != b2 {
		t.Errorf("min cursor did not advance to the new tail")
	}

	// P3: min_offset is the byte span from min_cursor through tail.
	if got, want := q.MinOffset(), 400; got != want {
		t.Errorf("MinOffset() = %d, want %d", got, want)
	}
}

func TestSourceQueueTrimHeadReleasesOrphans(t *testing.T) {
	// min_size 0 means every append immediately slides the min-window past
	// the previous blocks, so by the third append b1 and b2 carry no
	// references at all and TrimHead must reclaim both.
	q := NewSourceQueue(0, 0, 1<<20)

	b1 := appendBytes(t, q, 50, FlagSync)
	b2 := appendBytes(t, q, 50, FlagSync)
	b3 := appendBytes(t, q, 50, FlagSync)

	if got := b1.RefCount(); got != 0 {
		t.Fatalf("b1 refcount = %d, want 0 before TrimHead", got)
	}
	if got := b2.RefCount(); got != 0 {
		t.Fatalf("b2 refcount = %d, want 0 before TrimHead", got)
	}

	q.TrimHead()

	if got, want := q.Size(), 50; got != want {
		t.Errorf("Size() = %d, want %d after trimming the two orphaned blocks", got, want)
	}
	if q.Head() != b3 {
		t.Errorf("Head() did not advance to the last remaining block")
	}
	if !b1.HasFlag(FlagReleaseMarker) || !b2.HasFlag(FlagReleaseMarker) {
		t.Errorf("trimmed blocks were not marked released")
	}
}

func TestSourceQueueOversizedSoleBlockIsNotAnInvariantViolation(t *testing.T) {
	q := NewSourceQueue(10, 10, 1<<20)
	// A single oversized block whose length alone exceeds min_size is
	// legitimate (min_cursor simply stays at head, since it has no
	// successor to advance into) — Append must not error in that case.
	if err := q.Append(NewRefBlock(make([]byte, 1000), FlagSync)); err != nil {
		t.Fatalf("unexpected invariant error on first block: %v", err)
	}
}

func TestSourceQueueRelease(t *testing.T) {
	q := NewSourceQueue(100, 100, 1<<20)
	b1 := appendBytes(t, q, 50, FlagSync)
	b2 := appendBytes(t, q, 50, FlagSync)

	q.Release()

	if b1.RefCount() != 0 || b2.RefCount() != 0 {
		t.Errorf("Release left references: b1=%d b2=%d", b1.RefCount(), b2.RefCount())
	}
	if !q.Empty() {
		t.Errorf("queue not empty after Release")
	}
}
