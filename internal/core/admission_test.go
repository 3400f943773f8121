package core

import "testing"

func newLiveSource(mount string) *Source {
	src := NewSource(mount)
	src.services = &Services{}
	src.SetFlag(FlagRunning)
	src.Producer = &Client{}
	return src
}

func TestAddListenerSuccess(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	src := newLiveSource("/live.mp3")
	r.mounts["/live.mp3"] = src

	lookup := func(string) (AdmissionConfig, bool) {
		return AdmissionConfig{MaxListeners: -1}, true
	}

	cl := &Client{Connection: Connection{ID: "c1"}}
	got, reason := AddListener(r, "/live.mp3", cl, lookup, GlobalAdmission{MaxBandwidth: -1}, nil)

	if reason != RejectNone {
		t.Fatalf("AddListener() reason = %v, want RejectNone", reason)
	}
	if got != src {
		t.Errorf("AddListener() did not return the live source")
	}
	if src.TrackedListenerCount() != 1 {
		t.Errorf("listenerCount = %d, want 1", src.TrackedListenerCount())
	}
}

func TestAddListenerMountFullNoFallback(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	src := newLiveSource("/live.mp3")
	src.listenerCount = 5
	r.mounts["/live.mp3"] = src

	lookup := func(string) (AdmissionConfig, bool) {
		return AdmissionConfig{MaxListeners: 5}, true
	}

	cl := &Client{Connection: Connection{ID: "c2"}}
	_, reason := AddListener(r, "/live.mp3", cl, lookup, GlobalAdmission{MaxBandwidth: -1}, nil)

	if reason != RejectMountFull {
		t.Errorf("AddListener() reason = %v, want RejectMountFull", reason)
	}
}

func TestAddListenerFallbackWhenFull(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	full := newLiveSource("/live.mp3")
	full.listenerCount = 1
	r.mounts["/live.mp3"] = full

	fallback := newLiveSource("/backup.mp3")
	r.mounts["/backup.mp3"] = fallback

	lookup := func(mount string) (AdmissionConfig, bool) {
		if mount == "/live.mp3" {
			return AdmissionConfig{MaxListeners: 1, FallbackWhenFull: true, FallbackMount: "/backup.mp3"}, true
		}
		return AdmissionConfig{MaxListeners: -1}, true
	}

	cl := &Client{Connection: Connection{ID: "c3"}}
	got, reason := AddListener(r, "/live.mp3", cl, lookup, GlobalAdmission{MaxBandwidth: -1}, nil)

	if reason != RejectNone {
		t.Fatalf("AddListener() reason = %v, want RejectNone", reason)
	}
	if got != fallback {
		t.Errorf("AddListener() did not fall back to /backup.mp3")
	}
}

func TestAddListenerNotFoundNoFallback(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	lookup := func(string) (AdmissionConfig, bool) { return AdmissionConfig{}, false }

	cl := &Client{Connection: Connection{ID: "c4"}}
	_, reason := AddListener(r, "/missing.mp3", cl, lookup, GlobalAdmission{MaxBandwidth: -1}, nil)

	if reason != RejectNotFound {
		t.Errorf("AddListener() reason = %v, want RejectNotFound", reason)
	}
}

func TestAddListenerFallbackTooDeep(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	// Every mount points back to itself, so the fallback loop in
	// AddListener never finds a live source and never terminates early.
	lookup := func(mount string) (AdmissionConfig, bool) {
		return AdmissionConfig{FallbackMount: mount}, true
	}

	cl := &Client{Connection: Connection{ID: "c5"}}
	_, reason := AddListener(r, "/loop.mp3", cl, lookup, GlobalAdmission{MaxBandwidth: -1}, nil)

	if reason != RejectFallbackTooDeep {
		t.Errorf("AddListener() reason = %v, want RejectFallbackTooDeep", reason)
	}
}

func TestAddListenerBandwidthExceeded(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	src := newLiveSource("/live.mp3")
	r.mounts["/live.mp3"] = src

	lookup := func(string) (AdmissionConfig, bool) {
		return AdmissionConfig{MaxListeners: -1, LimitRate: 200}, true
	}

	cl := &Client{Connection: Connection{ID: "c6"}}
	_, reason := AddListener(r, "/live.mp3", cl, lookup, GlobalAdmission{MaxBandwidth: 100, CurrentBandwidth: 0}, nil)

	if reason != RejectBandwidth {
		t.Errorf("AddListener() reason = %v, want RejectBandwidth", reason)
	}
}
