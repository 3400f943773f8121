package core

import (
	"testing"
	"time"
)

func newRunningSource(t *testing.T) (*Source, *fakeFormat) {
	t.Helper()
	src := NewSource("/live.mp3")
	src.services = &Services{}
	src.SetFlag(FlagRunning)
	src.Queue = NewSourceQueue(65536, 65536, 1<<20)
	f := &fakeFormat{}
	src.Format = f
	src.Producer = &Client{}
	return src, f
}

func TestReadAppendsBlocksToQueue(t *testing.T) {
	src, f := newRunningSource(t)
	f.blocks = []*RefBlock{
		NewRefBlock(make([]byte, 100), FlagSync),
		NewRefBlock(make([]byte, 100), 0),
	}

	res := Read(src, true)

	if res.Moved {
		t.Fatalf("Read() unexpectedly reported Moved")
	}
	if got, want := src.Queue.Size(), 200; got != want {
		t.Errorf("Queue.Size() = %d, want %d", got, want)
	}
	if got, want := src.bytesRead, int64(200); got != want {
		t.Errorf("bytesRead = %d, want %d", got, want)
	}
}

func TestReadNoDataGrowsSkipDuration(t *testing.T) {
	src, _ := newRunningSource(t)
	src.lastRead = time.Now()

	before := src.skipDurationMs
	Read(src, true)
	if src.skipDurationMs <= before {
		t.Errorf("skipDurationMs = %v, want > %v after a no-data tick", src.skipDurationMs, before)
	}
}

func TestReadFormatErrorStopsSource(t *testing.T) {
	src, f := newRunningSource(t)
	f.err = errDummyFormat

	Read(src, true)

	if src.HasFlag(FlagRunning) {
		t.Errorf("source still FlagRunning after a GetBuffer error")
	}
}

func TestReadGlobalStopClearsRunning(t *testing.T) {
	src, _ := newRunningSource(t)
	Read(src, false)
	if src.HasFlag(FlagRunning) {
		t.Errorf("source still FlagRunning after globalRunning=false")
	}
}

func TestReadForcedSyncClearTimeout(t *testing.T) {
	src, _ := newRunningSource(t)
	src.SetFlag(FlagListenersSync)
	src.terminationCount = 2
	// timerStart left at its zero value reads as far in the past, which
	// exceeds the forced-clear timeout on the very first tick.

	res := Read(src, true)

	if src.HasFlag(FlagListenersSync) {
		t.Errorf("LISTENERS_SYNC not force-cleared after the 1500ms timeout elapsed")
	}
	if src.HasFlag(FlagRunning) {
		t.Errorf("FlagRunning not cleared alongside the forced LISTENERS_SYNC clear")
	}
	_ = res
}
