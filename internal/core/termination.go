package core

type waitOutcome int

const (
	waitOutcomeParked waitOutcome = iota
	waitOutcomeReleased
	waitOutcomeMoved
	waitOutcomeReattached
)

// ListenerWaitingOnSource implements spec.md §4.6
// listener_waiting_on_source. Caller holds src.lock; on return the lock
// has already been released, whatever the outcome.
func ListenerWaitingOnSource(src *Source, cl *Client) (waitOutcome, int64) {
	src.terminationCount--

	if cl.Connection.Error != nil {
		src.services.logger().Printf("core: %s: listener %s socket error while waiting on source, detaching: %v", src.Mount, cl.Connection.ID, cl.Connection.Error)
		ReleaseListener(src, cl, "error")
		return waitOutcomeReleased, 0
	}

	if src.fallback.Mount != "" {
		fallback := src.fallback
		ListenerDetach(src, cl)
		mover := src.services.moveListener()
		src.Unlock()

		if err := mover.Move(cl, fallback); err == nil {
			return waitOutcomeMoved, 0
		}

		src.Lock()
		setupListener(src, cl)
		src.Unlock()
		return waitOutcomeReattached, 0
	}

	if src.HasFlag(FlagTerminating) && src.HasFlag(FlagPauseListeners) {
		cl.State = StatePause
		src.Unlock()
		return waitOutcomeParked, 60
	}

	ReleaseListener(src, cl, "terminating")
	return waitOutcomeReleased, 0
}

// ListenerDetach implements spec.md §4.6 listener_detach: if the listener
// is past the initial response phase, its current partial refbuf is
// copied into a private block so subsequent writes complete without
// retaining the shared queue block; unlinks from the listener set and
// decrements listener_count. Caller holds src.lock.
func ListenerDetach(src *Source, cl *Client) {
	if cl.State != StateHTTPListener && cl.Refbuf != nil && cl.Refbuf.HasFlag(FlagQueueBlock) {
		remaining := cl.Refbuf.Bytes()[cl.Pos:]
		private := make([]byte, len(remaining))
		copy(private, remaining)
		privateFlags := cl.Refbuf.Flags() &^ FlagQueueBlock
		cl.Refbuf.Unref()
		cl.Refbuf = NewRefBlock(private, privateFlags)
		cl.Pos = 0
	}

	if _, ok := src.listeners[cl.Connection.ID]; ok {
		delete(src.listeners, cl.Connection.ID)
		src.listenerCount--
	}
}

// ReleaseListener implements spec.md §4.6 release_listener: detach, clear
// shared_data, dampen the out-bitrate meter if the listener count hit
// zero, record the access-log line, call the external auth release hook.
// Caller holds src.lock; ReleaseListener always releases it.
func ReleaseListener(src *Source, cl *Client, reason string) {
	ListenerDetach(src, cl)
	cl.Source = nil

	mount := src.Mount
	hitZero := src.listenerCount == 0
	svc := src.services
	src.Unlock()

	if hitZero && svc != nil {
		// No dedicated damping hook is exposed on StatsPublisher beyond
		// Publish; a zero-listener publish is the equivalent signal.
		svc.stats().Publish(mount, 0, 0, 0, 0)
	}
	svc.accessLog().LogListenerSession(mount, cl, reason)
	svc.auth().ReleaseListener(mount, cl.Connection.ID)
}

// setupListener implements the attach half of spec.md §4.8 step 4,
// reused by the re-setup branch of ListenerWaitingOnSource when a
// fallback move fails. Caller holds src.lock.
func setupListener(src *Source, cl *Client) {
	switch {
	case src.HasFlag(FlagListenersSync):
		cl.State = StateWait
	case src.HasFlag(FlagOnDemand) && !src.HasFlag(FlagRunning):
		cl.State = StatePause
		if src.Producer != nil && src.Producer.Worker != nil {
			src.Producer.Worker.Wakeup()
		}
	default:
		cl.State = StateHTTPListener
	}

	cl.Refbuf = nil
	cl.Pos = 0
	cl.Connection.SentBytes = 0
	cl.Source = src

	src.listeners[cl.Connection.ID] = cl
	src.listenerCount++
}
