package core

import "time"

// ThrottleLevel is the global rate-governor level spec.md §4.5 step 7
// names; the governor itself (aggregate bandwidth across all sources) is
// external to a single Source, so SendListener takes it as a parameter.
type ThrottleLevel int

const (
	ThrottleNone ThrottleLevel = iota
	ThrottleLevel1
	ThrottleLevel2
	ThrottleLevel3
)

// SendListener implements the listener tick (spec.md §4.5). It runs
// under the source lock, which it always releases before returning
// (directly, or via a migration/release path that already released it).
// released reports whether the listener was detached and must not be
// rescheduled.
func SendListener(src *Source, cl *Client, throttle ThrottleLevel) (rescheduleMs int64, released bool) {
	src.Lock()

	if src.HasFlag(FlagListenersSync) {
		outcome, resched := ListenerWaitingOnSource(src, cl)
		switch outcome {
		case waitOutcomeMoved, waitOutcomeReleased:
			return 0, true
		case waitOutcomeReattached:
			return resched, false
		default:
			return resched, false
		}
	}

	if cl.Connection.Error != nil {
		src.services.logger().Printf("core: %s: listener %s socket error, detaching: %v", src.Mount, cl.Connection.ID, cl.Connection.Error)
		ReleaseListener(src, cl, "error")
		return 0, true
	}
	if !cl.DisconTime.IsZero() && time.Now().After(cl.DisconTime) {
		ReleaseListener(src, cl, "max_duration")
		return 0, true
	}
	if !src.HasFlag(FlagRunning) {
		src.Unlock()
		return 100, false
	}

	if attemptListenerMigration(src, cl) {
		return 0, false
	}

	var producerQueuePos int64
	var incomingRate float64
	if src.Producer != nil {
		producerQueuePos = src.Producer.QueuePos
	}
	if src.incomingRate != nil {
		incomingRate = src.incomingRate.Rate()
	}
	lag := producerQueuePos - cl.QueuePos

	budget := src.listenerSendTrigger
	if float64(lag) < incomingRate {
		budget /= 2
	}

	maxIter := 12
	var extraDelay int64
	switch {
	case throttle > ThrottleLevel2:
		maxIter = 0
		extraDelay = 30
	case throttle == ThrottleLevel2:
		maxIter = 2
		extraDelay = 50
	case throttle == ThrottleLevel1:
		if incomingRate > 0 && float64(lag) > 2*incomingRate {
			extraDelay = 150
		}
	}

	var written int64
	for i := 0; i < maxIter && written < budget; i++ {
		res := tick(src, cl)
		if res.err != nil {
			ReleaseListener(src, cl, "error")
			return 0, true
		}
		cl.State = res.next
		written += int64(res.written)
		if res.resched > 0 {
			extraDelay = res.resched
			break
		}
	}

	if src.outgoingRate != nil {
		src.outgoingRate.Add(written)
	}
	cl.BytesSentSinceUpdate += written

	if cl.Refbuf != nil && cl.Refbuf.HasFlag(FlagReleaseMarker) {
		ReleaseListener(src, cl, "slow_listener")
		return 0, true
	}

	src.Unlock()
	return extraDelay, false
}

// attemptListenerMigration implements spec.md §4.7 listener_change_worker,
// gated to at most once per stats-update boundary. Caller holds src.lock;
// on success the lock has already been released by the balancer.
func attemptListenerMigration(src *Source, cl *Client) bool {
	if cl.Worker == nil || src.Producer == nil || src.Producer.Worker == nil {
		return false
	}
	if cl.Worker == src.Producer.Worker {
		return false
	}
	if !cl.migrationCheckedAt.Before(src.clientStatsUpdateAt) {
		return false
	}
	cl.migrationCheckedAt = src.clientStatsUpdateAt
	return src.services.balancer().ListenerChangeWorker(src, cl)
}
