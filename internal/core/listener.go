package core

import "io"

// tickResult is what every per-state tick function returns: the next
// state to hold, a reschedule delay in milliseconds (0 means "tick again
// immediately within the same send_listener pass"), and an error. Any
// non-nil error, io.EOF included, ends the send_listener pull loop and
// SendListener releases the listener (spec.md §4.5 step 8: "any negative
// return ends the loop").
type tickResult struct {
	next    ListenerState
	resched int64
	written int
	err     error
}

// tick dispatches to the per-state handler named by cl.State (spec.md
// §4.4, §9's "tagged variant of listener states" / function-pointer
// replacement).
func tick(src *Source, cl *Client) tickResult {
	switch cl.State {
	case StateHTTPListener:
		return tickHTTPListener(src, cl)
	case StateIntro:
		return tickIntro(src, cl)
	case StateIntroFile:
		return tickIntroFile(src, cl)
	case StateQueueAdvance:
		return tickQueueAdvance(src, cl)
	case StatePause:
		return tickPause(src, cl)
	case StateWait:
		return tickWait(src, cl)
	default:
		return tickResult{next: cl.State, err: ErrListenerReleased}
	}
}

func tickHTTPListener(src *Source, cl *Client) tickResult {
	if cl.Refbuf == nil {
		if cl.Connection.SentBytes > 0 {
			return tickResult{next: StateIntro}
		}
		block, err := src.Format.CreateClientData(cl)
		if err != nil {
			return tickResult{next: cl.State, err: err}
		}
		if block == nil {
			return tickResult{next: StateHTTPListener, resched: 500}
		}
		cl.Refbuf = block
		cl.Pos = 0
	}

	n, err := src.Format.WriteBufToClient(cl, cl.Refbuf, cl.Pos)
	if err != nil {
		return tickResult{next: cl.State, err: err}
	}
	cl.Pos += n
	cl.Connection.SentBytes += int64(n)

	if cl.Pos < cl.Refbuf.Len() {
		return tickResult{next: StateHTTPListener, written: n}
	}

	if nxt := cl.Refbuf.Next(); nxt != nil && cl.HasFlag(FlagHasIntroContent) {
		cl.Refbuf = nxt
		cl.Pos = 0
		return tickResult{next: StateHTTPListener, written: n}
	}

	cl.Refbuf = nil
	cl.Pos = 0
	cl.Connection.SentBytes = 0
	return tickResult{next: StateIntro, written: n}
}

func tickIntro(src *Source, cl *Client) tickResult {
	if cl.Connection.SentBytes > 0 {
		return tickResult{next: StateQueueAdvance}
	}
	cl.IntroOffset = 0
	return tickResult{next: StateIntroFile}
}

func tickIntroFile(src *Source, cl *Client) tickResult {
	if cl.IntroFile == nil {
		return tickResult{next: StateQueueAdvance}
	}

	buf := make([]byte, 4096)
	n, rerr := cl.IntroFile.ReadAt(buf, cl.IntroOffset)

	if n > 0 {
		block := NewRefBlock(buf[:n], FlagSync)
		wn, werr := src.Format.WriteBufToClient(cl, block, 0)
		if werr != nil {
			return tickResult{next: cl.State, err: werr}
		}
		cl.IntroOffset += int64(wn)
		cl.Connection.SentBytes += int64(wn)
		if wn < n {
			return tickResult{next: StateIntroFile, written: wn}
		}
	}

	if rerr == io.EOF {
		if src.Queue != nil && !src.Queue.Empty() {
			return tickResult{next: StateQueueAdvance, written: n}
		}
		cl.IntroOffset = 0
		return tickResult{next: StateIntroFile, resched: 100, written: n}
	}
	if rerr != nil {
		return tickResult{next: cl.State, err: rerr}
	}
	return tickResult{next: StateIntroFile, written: n}
}

func tickQueueAdvance(src *Source, cl *Client) tickResult {
	if cl.Refbuf == nil {
		ok, resched := locateStartOnQueue(src, cl)
		if !ok {
			return tickResult{next: StateQueueAdvance, resched: resched}
		}
	}

	n, err := src.Format.WriteBufToClient(cl, cl.Refbuf, cl.Pos)
	if err != nil {
		return tickResult{next: cl.State, err: err}
	}
	cl.Pos += n
	cl.Connection.SentBytes += int64(n)
	cl.QueuePos += int64(n)

	if cl.Pos < cl.Refbuf.Len() {
		return tickResult{next: StateQueueAdvance, written: n}
	}

	nxt := cl.Refbuf.Next()
	if nxt == nil {
		var resched int64
		if src.Producer != nil {
			resched = src.Producer.ScheduleMs + 5
		} else {
			resched = 15
		}
		return tickResult{next: StateQueueAdvance, resched: resched, written: n}
	}

	old := cl.Refbuf
	nxt.Ref()
	cl.Refbuf = nxt
	cl.Pos = 0
	old.Unref()

	return tickResult{next: StateQueueAdvance, written: n}
}

func tickPause(src *Source, cl *Client) tickResult {
	if src.HasFlag(FlagRunning) || !src.HasFlag(FlagListenersSync) {
		return tickResult{next: cl.State, err: ErrListenerReleased}
	}
	return tickResult{next: StatePause, resched: 15000}
}

func tickWait(src *Source, cl *Client) tickResult {
	if !src.HasFlag(FlagListenersSync) {
		return tickResult{next: StateQueueAdvance}
	}
	return tickResult{next: StateWait, resched: 150}
}

// locateStartOnQueue picks the sync-aligned block a newly-joined (or
// resuming) listener should begin at (spec.md §4.4). Caller holds
// src.lock.
func locateStartOnQueue(src *Source, cl *Client) (ok bool, rescheduleMs int64) {
	if src.Queue == nil || src.Queue.Empty() {
		return false, 150
	}

	tail := src.Queue.Tail()
	if cl.Connection.SentBytes > int64(src.Queue.MinOffset()) && tail.HasFlag(FlagSync) {
		tail.Ref()
		cl.Refbuf = tail
		cl.Pos = 0
		cl.IntroOffset = -1
		if src.Producer != nil {
			cl.QueuePos = src.Producer.QueuePos
		}
		return true, 0
	}

	v := requestedBurstSize(cl, src.Queue.DefaultBurstSize())
	v -= int(cl.Connection.SentBytes)
	if v < 0 {
		// Open question resolved (DESIGN.md): negative remaining burst
		// (listener already caught up past the requested window) clamps
		// to zero rather than propagating a negative offset.
		v = 0
	}

	cursor := src.Queue.MinCursor()
	remaining := src.Queue.MinOffset()
	for cursor != nil && remaining > v {
		nxt := cursor.Next()
		if nxt == nil {
			break
		}
		remaining -= cursor.Len()
		cursor = nxt
	}
	for cursor != nil && !cursor.HasFlag(FlagSync) {
		cursor = cursor.Next()
	}
	if cursor == nil {
		return false, 150
	}

	lagBytes := 0
	for b := cursor; b != nil; b = b.Next() {
		lagBytes += b.Len()
	}

	cursor.Ref()
	cl.Refbuf = cursor
	cl.Pos = 0
	cl.IntroOffset = -1
	if src.Producer != nil {
		cl.QueuePos = src.Producer.QueuePos - int64(lagBytes)
	}
	return true, 0
}

// requestedBurstSize resolves ?burst=N against the initial-burst header
// and the mount default, per spec.md §9: the query parameter wins when
// both are present.
func requestedBurstSize(cl *Client, defaultBurst int) int {
	if cl.HasBurstQuery {
		return cl.RequestedBurst
	}
	if cl.RequestedBurst > 0 {
		return cl.RequestedBurst
	}
	return defaultBurst
}
