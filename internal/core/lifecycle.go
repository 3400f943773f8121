package core

import (
	"net/url"
	"strings"
	"time"
)

// InitOptions carries the pieces of mount configuration Init needs that
// the external config collaborator (spec.md §1) resolves.
type InitOptions struct {
	AudioInfoHeader string // raw "ice-audio-info" header value
	DumpFile        DumpWriter
	DumpFilename    string
	IntroFile       IntroReader
	FallbackOverride bool
	FallbackMount    string
	WaitTime         time.Duration
	TimeoutSeconds   int
	LimitRate        int64
	Settings         MountSettings
}

// Init implements spec.md §4.3 init(source): called when the producer's
// callback fires for the first time after headers were sent.
func Init(src *Source, producer *Client, opts InitOptions) {
	src.Lock()
	src.Producer = producer
	src.dumpFile = opts.DumpFile
	src.dumpFilename = opts.DumpFilename
	src.introFile = opts.IntroFile
	src.waitTime = opts.WaitTime
	src.timeoutSeconds = opts.TimeoutSeconds
	src.limitRate = opts.LimitRate
	src.config = opts.Settings

	src.audioInfo = parseAudioInfo(opts.AudioInfoHeader)

	src.incomingRate = NewRateMeter(60 * time.Second)
	src.outgoingRate = NewRateMeter(9000 * time.Second)

	src.createdAt = time.Now()
	src.lastRead = src.createdAt

	src.SetFlag(FlagRunning)
	src.ClearFlag(FlagOnDemand)

	svc := src.services
	registry := src.registry
	mount := src.Mount
	fallbackOverride := opts.FallbackOverride
	fallbackMount := opts.FallbackMount
	src.Unlock()

	// Auth/override happen outside the source lock (spec.md §5: release
	// the source lock before calling out to auth/config).
	_ = svc.auth().StartSourceSession(mount)

	if fallbackOverride && fallbackMount != "" && registry != nil {
		SetOverride(registry, fallbackMount, src)
	}
}

// parseAudioInfo extracts the "ice-audio-info" header into the audio_info
// dict: only keys beginning with "ice-" or equal to "bitrate" are kept,
// values are URL-unescaped (spec.md §4.3).
func parseAudioInfo(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if !strings.HasPrefix(key, "ice-") && key != "bitrate" {
			continue
		}
		val, err := url.QueryUnescape(strings.TrimSpace(kv[1]))
		if err != nil {
			val = kv[1]
		}
		out[key] = val
	}
	return out
}

// SetOverride implements spec.md §4.3 set_override(src_mount, dest). If a
// live source serves src_mount with listeners sharing dest's codec type,
// its listeners are handed off to dest via LISTENERS_SYNC; otherwise it
// returns without doing anything.
func SetOverride(registry *MountRegistry, srcMount string, dest *Source) {
	target := registry.FindRaw(srcMount)
	if target == nil {
		// No live source at srcMount: there is no listener to hand off,
		// so the override is dropped here.
		return
	}

	dest.Lock()
	destCodec := dest.config.Name
	dest.Unlock()

	target.Lock()
	defer target.Unlock()

	if target.listenerCount == 0 {
		return
	}
	if destCodec != "" && target.config.Name != "" && target.config.Name != destCodec {
		return
	}

	target.fallback = Fallback{Mount: dest.Mount, Kind: FallbackMount}
	target.terminationCount = target.listenerCount
	target.timerStart = time.Now()
	target.SetFlag(FlagListenersSync)
	wakeAllListeners(target)
}

// wakeAllListeners wakes every listener's worker so a pending state
// transition (e.g. into StateWait) is scheduled promptly. Caller must
// hold src.lock.
func wakeAllListeners(src *Source) {
	for _, cl := range src.listeners {
		if cl.Worker != nil {
			cl.Worker.Wakeup()
		}
	}
}

// Shutdown implements spec.md §4.3 shutdown(source, with_fallback).
func Shutdown(src *Source, withFallback bool, onDisconnectScript string, fallbackMount string) {
	src.Lock()
	src.ClearFlag(FlagOnDemand)
	src.ClearFlag(FlagTimeout)
	src.SetFlag(FlagTerminating)
	src.SetFlag(FlagListenersSync)
	src.terminationCount = src.listenerCount
	src.timerStart = time.Now()
	wakeAllListeners(src)

	bytesRead := src.bytesRead
	queueSize := 0
	if src.Queue != nil {
		queueSize = src.Queue.Size()
	}
	listeners := src.listenerCount
	svc := src.services
	mount := src.Mount
	src.Unlock()

	svc.stats().Publish(mount, listeners, bytesRead, 0, queueSize)
	if onDisconnectScript != "" {
		svc.scripts().OnDisconnect(mount, onDisconnectScript)
	}
	svc.auth().StreamEnd(mount)

	if withFallback && fallbackMount != "" {
		src.Lock()
		src.fallback = Fallback{Mount: fallbackMount, Kind: FallbackMount}
		src.Unlock()
	}
}

// SetFallback implements spec.md §4.3 set_fallback(source, dest_mount):
// no-op if dest_mount is empty or there are no listeners; otherwise
// computes a bitrate hint (the rolling in-bitrate if the source has been
// connected over 40s, else limit_rate) and stores the descriptor.
func SetFallback(src *Source, destMount string) {
	src.Lock()
	defer src.Unlock()

	if destMount == "" || src.listenerCount == 0 {
		return
	}

	bitrateHint := int(src.limitRate)
	if !src.createdAt.IsZero() && time.Since(src.createdAt) > 40*time.Second && src.incomingRate != nil {
		if r := src.incomingRate.Rate(); r > 0 {
			bitrateHint = int(r)
		}
	}

	src.fallback = Fallback{
		Mount:       destMount,
		Kind:        FallbackMount,
		BitrateHint: bitrateHint,
		CodecType:   src.config.Name,
	}
}

// FreeSource implements spec.md §4.3 free_source(source): remove from the
// registry, acquire the source lock, release the queue, remove the YP
// entry, drop the format plugin reference. Callers must have already
// confirmed ListenerCount() == 0.
func FreeSource(src *Source) {
	if src.registry != nil {
		src.registry.Remove(src)
	}

	src.Lock()
	defer src.Unlock()

	if src.listenerCount != 0 {
		// Defensive: free_source is documented as only valid once
		// listener_count is confirmed zero. Treat a violation as the
		// same soft-drop policy as any other structural invariant
		// failure rather than silently freeing referenced blocks.
		return
	}

	if src.Queue != nil {
		src.Queue.Release()
	}
	src.services.yp().Remove(src.Mount)
	src.Format = nil
}
