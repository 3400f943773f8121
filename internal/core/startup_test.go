package core

import (
	"errors"
	"testing"
)

func TestGlobalSourcesUnlimited(t *testing.T) {
	g := NewGlobalSources(0)
	for i := 0; i < 100; i++ {
		if !g.TryAcquire() {
			t.Fatalf("TryAcquire() failed with no configured limit at i=%d", i)
		}
	}
}

func TestGlobalSourcesLimitEnforced(t *testing.T) {
	g := NewGlobalSources(2)
	if !g.TryAcquire() || !g.TryAcquire() {
		t.Fatalf("TryAcquire() failed within the limit")
	}
	if g.TryAcquire() {
		t.Errorf("TryAcquire() succeeded beyond the configured limit")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Errorf("TryAcquire() failed after Release() freed a slot")
	}
}

func TestStartupNewProducerRejectsWhenMountInUse(t *testing.T) {
	registry := NewMountRegistry(nil, nil)
	running := newLiveSource("/live.mp3")
	registry.mounts["/live.mp3"] = running

	global := NewGlobalSources(0)
	cl := &Client{}
	connect := func(*Client) (FormatAdapter, *SourceQueue, error) {
		t.Fatalf("connect should not be called when the mount is already in use")
		return nil, nil, nil
	}

	res := Startup(registry, "/live.mp3", cl, global, connect, false)
	if !errors.Is(res.Err, ErrMountInUse) {
		t.Errorf("Startup() err = %v, want ErrMountInUse", res.Err)
	}
}

func TestStartupHijackerSwapsExistingProducer(t *testing.T) {
	registry := NewMountRegistry(nil, nil)
	running := newLiveSource("/live.mp3")
	running.Format = &fakeFormat{}
	registry.mounts["/live.mp3"] = running

	global := NewGlobalSources(0)
	newCl := &Client{Flags: FlagHijacker}
	connect := func(*Client) (FormatAdapter, *SourceQueue, error) {
		t.Fatalf("connect should not be called on the hijack path")
		return nil, nil, nil
	}

	res := Startup(registry, "/live.mp3", newCl, global, connect, false)
	if res.Err != nil {
		t.Fatalf("Startup() err = %v", res.Err)
	}
	if !res.Hijack {
		t.Errorf("Startup() Hijack = false, want true")
	}
	if running.Producer != newCl {
		t.Errorf("Producer not swapped to the hijacking client")
	}
}

func TestStartupNewSourceRunsConnect(t *testing.T) {
	registry := NewMountRegistry(nil, nil)
	global := NewGlobalSources(0)
	cl := &Client{}
	format := &fakeFormat{}
	queue := NewSourceQueue(100, 100, 1<<20)
	connect := func(c *Client) (FormatAdapter, *SourceQueue, error) {
		if c != cl {
			t.Errorf("connect called with unexpected client")
		}
		return format, queue, nil
	}

	res := Startup(registry, "/new.mp3", cl, global, connect, false)
	if res.Err != nil {
		t.Fatalf("Startup() err = %v", res.Err)
	}
	if res.Source == nil || res.Source.Format != format {
		t.Errorf("Startup() did not wire the connected format adapter onto the source")
	}
	if !cl.HasFlag(FlagActive) {
		t.Errorf("producer client not marked active after Startup")
	}
}

func TestStartupSourceLimitRejectsNewProducer(t *testing.T) {
	registry := NewMountRegistry(nil, nil)
	global := NewGlobalSources(1)
	global.TryAcquire() // consume the only slot

	cl := &Client{}
	connect := func(*Client) (FormatAdapter, *SourceQueue, error) {
		t.Fatalf("connect should not be called once the source limit is hit")
		return nil, nil, nil
	}

	res := Startup(registry, "/new.mp3", cl, global, connect, false)
	if !errors.Is(res.Err, ErrSourceLimit) {
		t.Errorf("Startup() err = %v, want ErrSourceLimit", res.Err)
	}
}

func TestHijackSwapTransfersByteAccounting(t *testing.T) {
	src := NewSource("/live.mp3")
	src.Format = &fakeFormat{}
	src.bytesRead = 12345
	old := &Client{Flags: FlagAuthenticated, Worker: &fakeWorker{}}
	src.Producer = old

	newCl := &Client{}
	if err := hijackSwap(src, newCl); err != nil {
		t.Fatalf("hijackSwap() err = %v", err)
	}

	if old.HasFlag(FlagAuthenticated) {
		t.Errorf("old producer still marked authenticated after hijack")
	}
	if old.Connection.SentBytes != 12345 {
		t.Errorf("old.Connection.SentBytes = %d, want the source's bytesRead (12345)", old.Connection.SentBytes)
	}
	if src.Producer != newCl {
		t.Errorf("Producer not swapped")
	}
}

type fakeWorker struct {
	woke bool
}

func (w *fakeWorker) CurrentTimeMs() int64 { return 0 }
func (w *fakeWorker) Count() int           { return 0 }
func (w *fakeWorker) Wakeup()              { w.woke = true }
func (w *fakeWorker) ClientChangeWorker(client *Client, target Worker) bool {
	return false
}
