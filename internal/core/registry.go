package core

import "sync"

// MaxFallbackDepth bounds fallback-chain traversal (spec.md §4.1, P6).
const MaxFallbackDepth = 10

// FallbackLookup resolves a mount name to its configured fallback_mount,
// the one piece of mount configuration the registry needs that otherwise
// lives in the external config collaborator (spec.md §1).
type FallbackLookup func(mount string) (fallbackMount string, ok bool)

// MountRegistry is the process-wide ordered map mount-name → Source
// (spec.md §2 component 4, §4.1). Iteration order is not load-bearing
// for any invariant the core makes (only membership and count are), so a
// plain map under an RWMutex serves the same contract spec.md describes
// for its AVL/BST-backed registry (explicitly an out-of-scope data
// structure choice per §1) without requiring a sorted-map implementation.
type MountRegistry struct {
	mu     sync.RWMutex
	mounts map[string]*Source

	fallbackMount FallbackLookup
	services      *Services
}

// NewMountRegistry builds an empty registry. lookup resolves a mount's
// configured fallback_mount; pass nil to disable fallback-chain walking
// (e.g. in tests of bare reserve/find behavior). services is attached to
// every Source the registry creates; pass nil to use no-op collaborators.
func NewMountRegistry(lookup FallbackLookup, services *Services) *MountRegistry {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &MountRegistry{
		mounts:        make(map[string]*Source),
		fallbackMount: lookup,
		services:      services,
	}
}

// Reserve implements spec.md §4.1 reserve(mount, return_existing_if_draining).
// Under the registry write lock: if absent, allocates and inserts a fresh
// Source. If present and returnExistingIfDraining is false, returns
// ErrMountInUse. If present and LISTENERS_SYNC is set, returns
// ErrMountMigrating regardless of returnExistingIfDraining — a migrating
// source must never be reused, new producer or not.
func (r *MountRegistry) Reserve(mount string, returnExistingIfDraining bool) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.mounts[mount]
	if !ok {
		src := NewSource(mount)
		src.registry = r
		src.services = r.services
		r.mounts[mount] = src
		return src, nil
	}

	existing.Lock()
	migrating := existing.HasFlag(FlagListenersSync)
	existing.Unlock()
	if migrating {
		return nil, ErrMountMigrating
	}
	if !returnExistingIfDraining {
		return nil, ErrMountInUse
	}
	return existing, nil
}

// FindRaw is a direct lookup with no fallback traversal.
func (r *MountRegistry) FindRaw(mount string) *Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mounts[mount]
}

// FindWithFallback walks at most MaxFallbackDepth fallback_mount links,
// stopping at the first mount whose source is Available (spec.md §4.1).
// Returns ErrFallbackTooDeep if the chain exceeds the bound without
// resolving (P6).
func (r *MountRegistry) FindWithFallback(mount string) (*Source, error) {
	seen := mount
	for depth := 0; depth < MaxFallbackDepth; depth++ {
		r.mu.RLock()
		src := r.mounts[seen]
		r.mu.RUnlock()

		if src != nil {
			src.Lock()
			available := src.Available()
			src.Unlock()
			if available {
				return src, nil
			}
		}

		next, ok := r.fallbackMount(seen)
		if !ok || next == "" {
			return nil, ErrMountNotFound
		}
		seen = next
	}
	return nil, ErrFallbackTooDeep
}

// Remove unlinks src from the registry under the write lock. Callers must
// invoke this before the source's own destructor runs (spec.md §4.3
// free_source).
func (r *MountRegistry) Remove(src *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mounts[src.Mount] == src {
		delete(r.mounts, src.Mount)
	}
}

// List returns a snapshot of every currently registered mount name, for
// admin/status surfaces.
func (r *MountRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.mounts))
	for name := range r.mounts {
		out = append(out, name)
	}
	return out
}
