package core

import "testing"

func newTestSourceWithQueue(t *testing.T, minSize, windowCap int) (*Source, *Client) {
	t.Helper()
	src := NewSource("/test.mp3")
	src.services = &Services{}
	src.Queue = NewSourceQueue(minSize, minSize, windowCap)
	src.Producer = &Client{}
	cl := &Client{}
	return src, cl
}

func TestRequestedBurstSizeQueryWinsOverHeader(t *testing.T) {
	tests := []struct {
		name           string
		hasBurstQuery  bool
		requestedBurst int
		defaultBurst   int
		want           int
	}{
		{"query present wins over header/default", true, 4096, 8192, 4096},
		{"no query, header value used", false, 2048, 8192, 2048},
		{"neither present, default used", false, 0, 8192, 8192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := &Client{HasBurstQuery: tt.hasBurstQuery, RequestedBurst: tt.requestedBurst}
			if got := requestedBurstSize(cl, tt.defaultBurst); got != tt.want {
				t.Errorf("requestedBurstSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLocateStartOnQueueEmptyQueue(t *testing.T) {
	src, cl := newTestSourceWithQueue(t, 100, 1<<20)
	ok, resched := locateStartOnQueue(src, cl)
	if ok {
		t.Fatalf("locateStartOnQueue() ok = true on empty queue")
	}
	if resched <= 0 {
		t.Errorf("resched = %d, want positive backoff", resched)
	}
}

func TestLocateStartOnQueueNegativeLagClampsToZero(t *testing.T) {
	src, cl := newTestSourceWithQueue(t, 1000, 1<<20)

	appendBytes(t, src.Queue, 100, FlagSync)

	// A listener whose SentBytes already exceeds the requested burst
	// window would compute a negative remaining-burst value; the Open
	// Question decision (DESIGN.md) clamps this to zero rather than
	// letting it go negative. SentBytes stays below MinOffset (100) so
	// the tail shortcut is not taken and the clamp path runs.
	cl.RequestedBurst = 10
	cl.Connection.SentBytes = 50

	ok, _ := locateStartOnQueue(src, cl)
	if !ok {
		t.Fatalf("locateStartOnQueue() ok = false, want true (single sync block present)")
	}
	if cl.Refbuf == nil {
		t.Fatalf("Refbuf not set")
	}
}

func TestLocateStartOnQueuePicksSyncBlock(t *testing.T) {
	src, cl := newTestSourceWithQueue(t, 1000, 1<<20)

	appendBytes(t, src.Queue, 50, 0) // no sync flag, must be skipped
	b2 := appendBytes(t, src.Queue, 50, FlagSync)
	appendBytes(t, src.Queue, 50, 0)

	cl.RequestedBurst = 1000

	ok, _ := locateStartOnQueue(src, cl)
	if !ok {
		t.Fatalf("locateStartOnQueue() ok = false")
	}
	if cl.Refbuf != b2 && cl.Refbuf.HasFlag(FlagSync) == false {
		t.Errorf("locateStartOnQueue() selected a non-sync block")
	}
}

func TestTickDispatchUnknownStateErrors(t *testing.T) {
	src := NewSource("/test.mp3")
	cl := &Client{State: ListenerState(999)}
	res := tick(src, cl)
	if res.err == nil {
		t.Errorf("tick() on unknown state returned nil err, want ErrListenerReleased")
	}
}

func TestTickPauseReschedulesWhileSynced(t *testing.T) {
	src := NewSource("/test.mp3")
	src.SetFlag(FlagListenersSync)
	cl := &Client{State: StatePause}

	res := tickPause(src, cl)
	if res.err != nil {
		t.Fatalf("tickPause() err = %v", res.err)
	}
	if res.next != StatePause || res.resched <= 0 {
		t.Errorf("tickPause() = %+v, want parked with positive resched", res)
	}
}

func TestTickPauseReleasesWhenRunningResumes(t *testing.T) {
	src := NewSource("/test.mp3")
	src.SetFlag(FlagRunning)
	cl := &Client{State: StatePause}

	res := tickPause(src, cl)
	if res.err == nil {
		t.Errorf("tickPause() err = nil, want release once source is running again")
	}
}

func TestTickWaitFallsThroughWhenNotSyncing(t *testing.T) {
	src := NewSource("/test.mp3")
	cl := &Client{State: StateWait}

	res := tickWait(src, cl)
	if res.next != StateQueueAdvance {
		t.Errorf("tickWait() next = %v, want StateQueueAdvance", res.next)
	}
}
