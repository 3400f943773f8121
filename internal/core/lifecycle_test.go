package core

import "testing"

func TestParseAudioInfoFiltersAndUnescapes(t *testing.T) {
	raw := "ice-bitrate=128;ice-name=Test%20Stream;bitrate=128;irrelevant=skip"
	got := parseAudioInfo(raw)

	if got["ice-name"] != "Test Stream" {
		t.Errorf("ice-name = %q, want %q", got["ice-name"], "Test Stream")
	}
	if got["ice-bitrate"] != "128" {
		t.Errorf("ice-bitrate = %q, want 128", got["ice-bitrate"])
	}
	if got["bitrate"] != "128" {
		t.Errorf("bitrate = %q, want 128", got["bitrate"])
	}
	if _, ok := got["irrelevant"]; ok {
		t.Errorf("irrelevant key was not filtered out")
	}
}

func TestParseAudioInfoEmpty(t *testing.T) {
	got := parseAudioInfo("")
	if len(got) != 0 {
		t.Errorf("parseAudioInfo(\"\") = %v, want empty map", got)
	}
}

func TestInitSetsRunningAndClearsOnDemand(t *testing.T) {
	src := NewSource("/live.mp3")
	producer := &Client{}

	Init(src, producer, InitOptions{})

	src.Lock()
	defer src.Unlock()
	if !src.HasFlag(FlagRunning) {
		t.Errorf("FlagRunning not set after Init")
	}
	if src.HasFlag(FlagOnDemand) {
		t.Errorf("FlagOnDemand still set after Init")
	}
	if src.Producer != producer {
		t.Errorf("Producer not assigned")
	}
}

func TestSetOverrideSkipsWhenNoListeners(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	target, _ := r.Reserve("/live.mp3", false)
	dest := NewSource("/backup.mp3")

	SetOverride(r, "/live.mp3", dest)

	target.Lock()
	defer target.Unlock()
	if target.HasFlag(FlagListenersSync) {
		t.Errorf("SetOverride armed a migration with zero listeners")
	}
}

func TestSetOverrideArmsMigrationWhenCodecsMatch(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	target, _ := r.Reserve("/live.mp3", false)
	target.Lock()
	target.listenerCount = 3
	target.config = MountSettings{Name: "mp3"}
	target.Unlock()

	dest := NewSource("/backup.mp3")
	dest.config = MountSettings{Name: "mp3"}

	SetOverride(r, "/live.mp3", dest)

	target.Lock()
	defer target.Unlock()
	if !target.HasFlag(FlagListenersSync) {
		t.Errorf("SetOverride did not arm LISTENERS_SYNC for matching codecs")
	}
	if target.fallback.Mount != "/backup.mp3" {
		t.Errorf("fallback.Mount = %q, want /backup.mp3", target.fallback.Mount)
	}
}

func TestSetOverrideRejectsMismatchedCodec(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	target, _ := r.Reserve("/live.mp3", false)
	target.Lock()
	target.listenerCount = 3
	target.config = MountSettings{Name: "mp3"}
	target.Unlock()

	dest := NewSource("/backup.ogg")
	dest.config = MountSettings{Name: "ogg"}

	SetOverride(r, "/live.mp3", dest)

	target.Lock()
	defer target.Unlock()
	if target.HasFlag(FlagListenersSync) {
		t.Errorf("SetOverride armed a migration across mismatched codecs")
	}
}

func TestShutdownArmsTerminationAndFallback(t *testing.T) {
	src := NewSource("/live.mp3")
	src.services = &Services{}
	src.listenerCount = 2

	Shutdown(src, true, "", "/backup.mp3")

	src.Lock()
	defer src.Unlock()
	if !src.HasFlag(FlagTerminating) || !src.HasFlag(FlagListenersSync) {
		t.Errorf("Shutdown did not arm termination flags")
	}
	if src.terminationCount != 2 {
		t.Errorf("terminationCount = %d, want 2", src.terminationCount)
	}
	if src.fallback.Mount != "/backup.mp3" {
		t.Errorf("fallback.Mount = %q, want /backup.mp3", src.fallback.Mount)
	}
}

func TestSetFallbackNoopWithoutListeners(t *testing.T) {
	src := NewSource("/live.mp3")
	SetFallback(src, "/backup.mp3")

	if src.fallback.Mount != "" {
		t.Errorf("SetFallback armed a fallback with zero listeners")
	}
}

func TestSetFallbackUsesLimitRateBeforeFortySeconds(t *testing.T) {
	src := NewSource("/live.mp3")
	src.listenerCount = 1
	src.limitRate = 256
	// createdAt left at its zero value short-circuits the 40-second
	// rolling-bitrate rule, so limit_rate is used as-is.

	SetFallback(src, "/backup.mp3")

	if src.fallback.BitrateHint != 256 {
		t.Errorf("BitrateHint = %d, want limit_rate fallback of 256", src.fallback.BitrateHint)
	}
}

func TestFreeSourceRemovesFromRegistryAndReleasesQueue(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	src, _ := r.Reserve("/live.mp3", false)
	src.services = &Services{}
	src.Queue = NewSourceQueue(100, 100, 1<<20)
	b := appendBytes(t, src.Queue, 50, FlagSync)

	FreeSource(src)

	if r.FindRaw("/live.mp3") != nil {
		t.Errorf("FreeSource did not remove the mount from the registry")
	}
	if b.RefCount() != 0 {
		t.Errorf("FreeSource did not release the queue's block references")
	}
}

func TestFreeSourceRefusesWithListeners(t *testing.T) {
	r := NewMountRegistry(nil, nil)
	src, _ := r.Reserve("/live.mp3", false)
	src.services = &Services{}
	src.listenerCount = 1

	FreeSource(src)

	// The registry unlink happens unconditionally; only the Source's own
	// teardown (queue release, YP removal) is guarded on listener_count.
	if r.FindRaw("/live.mp3") != nil {
		t.Errorf("FreeSource did not unlink the mount from the registry")
	}
}
