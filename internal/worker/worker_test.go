package worker

import (
	"testing"
	"time"

	"github.com/corecast/corecast/internal/core"
)

func TestWorkerAddSchedulesImmediateTick(t *testing.T) {
	w := New("w0", nil, nil)
	cl := &core.Client{}
	src := core.NewSource("/live.mp3")

	w.Add(cl, src, RoleListener)

	if got := w.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	if cl.Worker != w {
		t.Errorf("Client.Worker not set to the owning worker")
	}
}

func TestWorkerRemove(t *testing.T) {
	w := New("w0", nil, nil)
	cl := &core.Client{}
	src := core.NewSource("/live.mp3")
	w.Add(cl, src, RoleListener)

	w.Remove(cl)

	if got := w.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0 after Remove", got)
	}
}

func TestWorkerClientChangeWorkerMovesOwnership(t *testing.T) {
	w1 := New("w1", nil, nil)
	w2 := New("w2", nil, nil)
	cl := &core.Client{}
	src := core.NewSource("/live.mp3")
	w1.Add(cl, src, RoleListener)

	ok := w1.ClientChangeWorker(cl, w2)
	if !ok {
		t.Fatalf("ClientChangeWorker() = false, want true")
	}
	if w1.Count() != 0 {
		t.Errorf("source worker still holds the client: Count() = %d", w1.Count())
	}
	if w2.Count() != 1 {
		t.Errorf("target worker did not gain the client: Count() = %d", w2.Count())
	}
	if cl.Worker != w2 {
		t.Errorf("Client.Worker not updated to the target worker")
	}
}

func TestWorkerClientChangeWorkerRejectsForeignClient(t *testing.T) {
	w1 := New("w1", nil, nil)
	w2 := New("w2", nil, nil)
	cl := &core.Client{}

	if w1.ClientChangeWorker(cl, w2) {
		t.Errorf("ClientChangeWorker() = true for a client w1 never owned")
	}
}

func TestWorkerRunTicksProducerAndReschedules(t *testing.T) {
	w := New("w0", func() bool { return true }, nil)
	go w.Run()
	defer w.Stop()

	src := core.NewSource("/live.mp3")
	src.Lock()
	src.SetFlag(core.FlagRunning)
	src.Queue = core.NewSourceQueue(1024, 1024, 1<<20)
	src.Producer = &core.Client{}
	src.Format = &blockingFakeFormat{}
	src.Unlock()

	cl := src.Producer
	w.Add(cl, src, RoleProducer)

	w.mu.Lock()
	initial := w.byClient[cl].scheduleMs
	w.mu.Unlock()

	// A freshly-added producer must be picked up, ticked, and
	// re-scheduled (not dropped) within a bounded window.
	deadline := time.After(500 * time.Millisecond)
	for {
		w.mu.Lock()
		sc, stillScheduled := w.byClient[cl]
		w.mu.Unlock()

		if !stillScheduled {
			t.Fatalf("producer client was dropped from scheduling instead of rescheduled")
		}
		if sc.scheduleMs != initial {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("worker loop never ticked the producer client within the deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// blockingFakeFormat never produces data, so Read's no-data branch is what
// gets exercised by TestWorkerRunTicksProducerAndReschedules.
type blockingFakeFormat struct{}

func (f *blockingFakeFormat) GetBuffer(src *core.Source) (*core.RefBlock, error) { return nil, nil }
func (f *blockingFakeFormat) CreateClientData(cl *core.Client) (*core.RefBlock, error) {
	return nil, nil
}
func (f *blockingFakeFormat) WriteBufToClient(cl *core.Client, refbuf *core.RefBlock, pos int) (int, error) {
	return 0, nil
}
func (f *blockingFakeFormat) WriteBufToFile(src *core.Source, b *core.RefBlock) error { return nil }
func (f *blockingFakeFormat) ApplySettings(settings core.MountSettings)              {}
func (f *blockingFakeFormat) SwapClient(newClient, oldClient *core.Client) error     { return nil }
func (f *blockingFakeFormat) ContentType() string                                    { return "audio/mpeg" }
