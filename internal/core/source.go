package core

import (
	"sync"
	"time"
)

// SourceFlag is the bitset of state flags spec.md §3 defines on Source.
type SourceFlag uint32

const (
	FlagRunning SourceFlag = 1 << iota
	FlagOnDemand
	FlagTerminating
	FlagListenersSync
	FlagPauseListeners
	FlagTimeout
	FlagShoutcastCompat
)

// FallbackKind tells an empty fallback descriptor from one naming a mount.
// Shutdown, set_fallback and set_override all record FallbackMount; the
// kind does not tell them apart.
type FallbackKind int

const (
	FallbackNone FallbackKind = iota
	FallbackMount
)

// Fallback is the descriptor spec.md §3/§4.3 stores on Source.fallback.
type Fallback struct {
	Mount     string
	Kind      FallbackKind
	BitrateHint int
	CodecType   string
}

// Source is the per-mount state: spec.md §2 component 5, §3.
type Source struct {
	lock sync.Mutex

	Mount string

	flags SourceFlag

	Queue   *SourceQueue
	Format  FormatAdapter
	Producer *Client

	listeners      map[string]*Client
	listenerCount  int
	peakListeners  int
	terminationCount int
	prevListeners  int

	lastRead       time.Time
	timeoutSeconds int
	skipDurationMs float64

	// timerStart marks when LISTENERS_SYNC was most recently set, for the
	// 1500ms forced-clear timeout in Read (spec.md §4.2 step 2).
	timerStart time.Time

	statsInterval      time.Duration
	clientStatsUpdateAt time.Time

	workerBalanceRecheckAt time.Time

	limitRate        int64
	incomingRate     *RateMeter
	outgoingRate     *RateMeter
	listenerSendTrigger int64

	fallback Fallback

	introFile    IntroReader
	dumpFile     DumpWriter
	dumpFilename string

	audioInfo map[string]string

	ypPublic bool
	waitTime time.Duration

	config MountSettings

	bytesRead int64

	// createdAt marks when init() ran, used by set_fallback's "connected
	// > 40s" bitrate-hint rule.
	createdAt time.Time

	registry *MountRegistry
	services *Services
}

// DumpWriter is the optional external dump-to-file collaborator
// (spec.md §6).
type DumpWriter interface {
	WriteBlock(b *RefBlock) error
	Close() error
}

// NewSource allocates a Source in its initial (reserved, not running)
// state. Only MountRegistry.Reserve constructs these.
func NewSource(mount string) *Source {
	return &Source{
		Mount:               mount,
		flags:               FlagOnDemand,
		listeners:           make(map[string]*Client),
		statsInterval:       5 * time.Second,
		listenerSendTrigger: 65536,
		audioInfo:           make(map[string]string),
	}
}

func (s *Source) Lock()   { s.lock.Lock() }
func (s *Source) Unlock() { s.lock.Unlock() }

func (s *Source) HasFlag(f SourceFlag) bool { return s.flags&f == f }
func (s *Source) SetFlag(f SourceFlag)      { s.flags |= f }
func (s *Source) ClearFlag(f SourceFlag)    { s.flags &^= f }

// ListenerCount returns the cardinality of the listener map (must equal
// the tracked counter per P7; both are exposed so tests can assert it).
func (s *Source) ListenerCount() int { return len(s.listeners) }

// TrackedListenerCount returns the incrementally maintained counter.
func (s *Source) TrackedListenerCount() int { return s.listenerCount }

// PeakListeners returns the high-water mark.
func (s *Source) PeakListeners() int { return s.peakListeners }

// HasListener reports whether a connection ID is still attached, for the
// HTTP layer (owner of the socket per spec.md §1) to know when it is safe
// to close a hijacked connection.
func (s *Source) HasListener(id string) bool {
	s.Lock()
	defer s.Unlock()
	_, ok := s.listeners[id]
	return ok
}

// IsProducer reports whether cl is still this source's producer client,
// for the HTTP layer to know when a hijacked producer socket may close.
func (s *Source) IsProducer(cl *Client) bool {
	s.Lock()
	defer s.Unlock()
	return s.Producer == cl
}

// KillListener force-disconnects the listener with the given connection
// ID by closing its raw socket, for the admin killclient endpoint. The
// next scheduled tick observes the resulting read/write error and runs
// the normal release path (spec.md §4.4); this never touches source
// state directly. Reports whether a matching listener was found.
func (s *Source) KillListener(id string) bool {
	s.Lock()
	cl, ok := s.listeners[id]
	s.Unlock()
	if !ok || cl.Connection.Conn == nil {
		return false
	}
	cl.Connection.Conn.Close()
	return true
}

// KillProducer force-disconnects the current producer the same way
// KillListener does for a listener, for the admin killsource endpoint.
func (s *Source) KillProducer() bool {
	s.Lock()
	cl := s.Producer
	s.Unlock()
	if cl == nil || cl.Connection.Conn == nil {
		return false
	}
	cl.Connection.Conn.Close()
	return true
}

// Available reports whether this source can serve as a fallback target:
// exists, not terminating, has a producer (spec.md §4.1 find_with_fallback).
func (s *Source) Available() bool {
	return !s.HasFlag(FlagTerminating) && s.Producer != nil
}

// GetFallback returns a copy of the current fallback descriptor.
func (s *Source) GetFallback() Fallback { return s.fallback }
