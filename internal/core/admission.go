package core

import "time"

// AdmissionConfig carries the per-mount options spec.md §4.8 consults.
type AdmissionConfig struct {
	FallbackMount      string
	FallbackWhenFull   bool
	MaxListeners       int   // -1 = unlimited
	MaxBandwidth       int64 // -1 = off
	MaxListenerDuration time.Duration
	LimitRate          int64
}

// AdmissionLookup resolves a mount's admission-relevant config; ok=false
// means "mount unknown to config". AddListener does not consult ok: it
// checks the returned config as is, and a zero MaxListeners admits no
// listener.
type AdmissionLookup func(mount string) (AdmissionConfig, bool)

// GlobalAdmission carries the server-wide caps spec.md §4.8 step 2 checks.
type GlobalAdmission struct {
	MaxBandwidth     int64 // -1 = off
	CurrentBandwidth int64
}

// RejectReason names why add_listener refused a client, for the caller to
// translate into an HTTP response (spec.md §7).
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectNotFound
	RejectBandwidth
	RejectDuplicateLogin
	RejectMountFull
	RejectFallbackTooDeep
)

// AddListener implements spec.md §4.8 add_listener. On success it returns
// RejectNone and the listener has been attached to src (caller must begin
// scheduling cl's ticks); on failure it returns the reason and src is nil.
// When no live source is found and the file-serve module serves the
// client instead, it returns (nil, RejectNone).
func AddListener(registry *MountRegistry, mount string, cl *Client, lookup AdmissionLookup, global GlobalAdmission, services *Services) (src *Source, reason RejectReason) {
	seen := mount
	for depth := 0; depth < MaxFallbackDepth; depth++ {
		candidate := registry.FindRaw(seen)
		cfg, _ := lookup(seen)

		if candidate != nil {
			candidate.Lock()
			available := candidate.Available()
			if available {
				ok, r := admitToSource(candidate, cl, cfg, global, services, mount)
				if ok {
					candidate.Unlock()
					return candidate, RejectNone
				}
				candidate.Unlock()
				if r == RejectMountFull && cfg.FallbackWhenFull && cfg.FallbackMount != "" {
					seen = cfg.FallbackMount
					continue
				}
				return nil, r
			}
			candidate.Unlock()
		}

		if cfg.FallbackMount == "" {
			if services != nil && services.FileServe != nil && cfg.LimitRate > 0 {
				if err := services.FileServe.Serve(cl, seen, int(cfg.LimitRate)); err == nil {
					return nil, RejectNone
				}
			}
			return nil, RejectNotFound
		}
		seen = cfg.FallbackMount
	}
	return nil, RejectFallbackTooDeep
}

// admitToSource applies the limit checks of spec.md §4.8 step 2-4 once a
// live source has been found. Caller holds src.lock.
func admitToSource(src *Source, cl *Client, cfg AdmissionConfig, global GlobalAdmission, services *Services, originalMount string) (bool, RejectReason) {
	if !cl.HasFlag(FlagIsSlave) {
		if global.MaxBandwidth >= 0 && cfg.LimitRate > 0 && global.CurrentBandwidth+cfg.LimitRate > global.MaxBandwidth {
			return false, RejectBandwidth
		}

		if cl.AuthUser != "" && services != nil && services.Auth != nil {
			allowDup, dropExisting := services.Auth.CheckDuplicateLogin(src.Mount, cl.AuthUser)
			if !allowDup && !dropExisting {
				return false, RejectDuplicateLogin
			}
		}

		if cfg.MaxListeners >= 0 && src.listenerCount >= cfg.MaxListeners {
			return false, RejectMountFull
		}

		if cfg.MaxBandwidth >= 0 && cfg.LimitRate > 0 {
			mountBandwidth := int64(src.listenerCount) * cfg.LimitRate
			if mountBandwidth+cfg.LimitRate > cfg.MaxBandwidth {
				return false, RejectMountFull
			}
		}
	}

	if cfg.MaxListenerDuration > 0 && cl.DisconTime.IsZero() {
		cl.DisconTime = time.Now().Add(cfg.MaxListenerDuration)
	}

	setupListener(src, cl)

	svc := src.services
	mount := src.Mount
	listeners := src.listenerCount
	bytesRead := src.bytesRead
	queueSize := 0
	if src.Queue != nil {
		queueSize = src.Queue.Size()
	}
	svc.stats().Publish(mount, listeners, bytesRead, 0, queueSize)

	if cl.HasFlag(FlagActive) && src.HasFlag(FlagRunning) {
		res := tick(src, cl)
		cl.State = res.next
	}

	return true, RejectNone
}
