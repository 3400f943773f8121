package core

import (
	"testing"
	"time"
)

func TestRateMeterTotalAccumulates(t *testing.T) {
	m := NewRateMeter(60 * time.Second)
	m.Add(100)
	m.Add(250)
	if got, want := m.Total(), int64(350); got != want {
		t.Errorf("Total() = %d, want %d", got, want)
	}
}

func TestRateMeterRateZeroWithoutElapsedTime(t *testing.T) {
	m := NewRateMeter(60 * time.Second)
	if got := m.Rate(); got != 0 {
		t.Errorf("Rate() = %v, want 0 on an empty meter", got)
	}
}

func TestRateMeterRatePositiveAfterSamples(t *testing.T) {
	m := NewRateMeter(60 * time.Second)
	m.Add(1000)
	time.Sleep(5 * time.Millisecond)
	m.Add(1000)

	if got := m.Rate(); got <= 0 {
		t.Errorf("Rate() = %v, want > 0 once two distinct-timestamp samples exist", got)
	}
}
