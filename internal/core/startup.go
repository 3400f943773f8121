package core

import "sync/atomic"

// GlobalSources is the atomic counter spec.md §4.9 calls global.sources,
// checked against config.source_limit under a short global lock (here, a
// plain atomic, since the only operation is compare-and-increment).
type GlobalSources struct {
	count atomic.Int64
	limit int64
}

// NewGlobalSources builds a counter capped at limit; limit <= 0 means
// unlimited.
func NewGlobalSources(limit int64) *GlobalSources {
	return &GlobalSources{limit: limit}
}

// TryAcquire increments the counter if under the limit, returning false if
// the source limit was reached.
func (g *GlobalSources) TryAcquire() bool {
	if g.limit <= 0 {
		g.count.Add(1)
		return true
	}
	for {
		cur := g.count.Load()
		if cur >= g.limit {
			return false
		}
		if g.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release decrements the counter.
func (g *GlobalSources) Release() { g.count.Add(-1) }

// ConnectionComplete is the external codec-detection collaborator
// (spec.md §4.9 connection_complete_source): given the raw handshake, it
// builds the FormatAdapter and initial queue policy, or fails.
type ConnectionComplete func(cl *Client) (FormatAdapter, *SourceQueue, error)

// StartupResult tells the caller (the HTTP producer-attach handler) what
// response to send.
type StartupResult struct {
	Source  *Source
	Hijack  bool
	Reject  RejectReason
	Err     error
}

// Startup implements spec.md §4.9 startup(client, uri): reserve the
// mount, resolve hijack-vs-new-producer, run codec detection, and hand
// off to the caller to emit the HTTP response and switch to streaming.
func Startup(registry *MountRegistry, uri string, cl *Client, globalSources *GlobalSources, connect ConnectionComplete, shoutcastCompat bool) StartupResult {
	src, err := registry.Reserve(uri, cl.HasFlag(FlagHijacker))
	if err != nil {
		return StartupResult{Reject: RejectNotFound, Err: err}
	}

	src.Lock()
	running := src.HasFlag(FlagRunning)
	src.Unlock()

	if running {
		if !cl.HasFlag(FlagHijacker) {
			return StartupResult{Err: ErrMountInUse}
		}
		if err := hijackSwap(src, cl); err != nil {
			return StartupResult{Err: err}
		}
		return StartupResult{Source: src, Hijack: true}
	}

	if !globalSources.TryAcquire() {
		return StartupResult{Reject: RejectMountFull, Err: ErrSourceLimit}
	}

	format, queue, err := connect(cl)
	if err != nil {
		globalSources.Release()
		return StartupResult{Err: ErrUnsupportedContentType}
	}

	src.Lock()
	src.Format = format
	src.Queue = queue
	src.Producer = cl
	if shoutcastCompat {
		src.SetFlag(FlagShoutcastCompat)
	}
	src.Unlock()

	cl.Source = src
	cl.SetFlag(FlagActive)

	return StartupResult{Source: src}
}

// hijackSwap implements spec.md §4.9's hijack swap: replace the producer
// client with the new one, clear auth on the old one, transfer
// format.read_bytes accounting, hand the parser to the format plugin, and
// wake the old worker so it drops the old client.
func hijackSwap(src *Source, newClient *Client) error {
	src.Lock()
	old := src.Producer
	if old == nil {
		src.Unlock()
		src.Lock()
		src.Producer = newClient
		newClient.Source = src
		src.Unlock()
		return nil
	}

	if src.Format != nil {
		if err := src.Format.SwapClient(newClient, old); err != nil {
			src.Unlock()
			return err
		}
	}

	old.ClearFlag(FlagAuthenticated)
	old.Connection.SentBytes += src.bytesRead

	src.Producer = newClient
	newClient.Source = src
	newClient.SetFlag(FlagActive)

	oldWorker := old.Worker
	src.Unlock()

	if oldWorker != nil {
		oldWorker.Wakeup()
	}
	return nil
}
