package worker

import (
	"testing"

	"github.com/corecast/corecast/internal/core"
)

func TestBalancerSourceChangeWorkerSkipsWhenBalanced(t *testing.T) {
	w1 := New("w1", nil, nil)
	w2 := New("w2", nil, nil)
	pool := &Pool{workers: []*Worker{w1, w2}}
	b := NewBalancer(pool)

	src := core.NewSource("/live.mp3")
	src.Lock()
	src.Producer = &core.Client{}
	src.Unlock()
	w1.Add(src.Producer, src, RoleProducer)

	src.Lock()
	moved := b.SourceChangeWorker(src)
	if moved {
		t.Errorf("SourceChangeWorker() = true with workers evenly balanced")
	}
	src.Unlock()
}

func TestBalancerSourceChangeWorkerMigratesWhenImbalanced(t *testing.T) {
	w1 := New("w1", nil, nil)
	w2 := New("w2", nil, nil)
	pool := &Pool{workers: []*Worker{w1, w2}}
	b := NewBalancer(pool)

	src := core.NewSource("/live.mp3")
	src.Lock()
	src.Producer = &core.Client{}
	src.Unlock()
	w1.Add(src.Producer, src, RoleProducer)

	// Pile enough other clients onto w1 to exceed MigrationThreshold
	// against the empty w2.
	for i := 0; i < MigrationThreshold+1; i++ {
		w1.Add(&core.Client{}, core.NewSource("/other.mp3"), RoleListener)
	}

	src.Lock()
	moved := b.SourceChangeWorker(src)
	if !moved {
		t.Fatalf("SourceChangeWorker() = false, want true once imbalance exceeds the threshold")
	}
	// The balancer must have released the lock on a true return.
	src.Lock()
	src.Unlock()

	if src.Producer.Worker != w2 {
		t.Errorf("producer was not migrated to the least-busy worker")
	}
}

func TestBalancerListenerChangeWorkerMovesToProducerWorker(t *testing.T) {
	w1 := New("w1", nil, nil)
	w2 := New("w2", nil, nil)
	pool := &Pool{workers: []*Worker{w1, w2}}
	b := NewBalancer(pool)

	src := core.NewSource("/live.mp3")
	src.Lock()
	src.Producer = &core.Client{}
	src.Unlock()
	w1.Add(src.Producer, src, RoleProducer)

	listener := &core.Client{}
	w2.Add(listener, src, RoleListener)

	src.Lock()
	moved := b.ListenerChangeWorker(src, listener)
	if !moved {
		t.Fatalf("ListenerChangeWorker() = false, want true")
	}
	src.Lock()
	src.Unlock()

	if listener.Worker != w1 {
		t.Errorf("listener was not migrated onto the producer's worker")
	}
}
