package core

import (
	"time"
)

// ReadResult tells the caller (the producer's Worker) how to reschedule,
// and whether the source lock was already released by a migration.
type ReadResult struct {
	RescheduleMs int64
	Moved        bool
}

const (
	maxPullIterations   = 2
	statsPublishPeriod  = 5 * time.Second
	skipDurationMaxMs   = 400.0
	skipDurationMinMs   = 10.0
	skipDurationGrowth  = 1.3
	skipDurationShrink  = 0.9
	forcedSyncTimeoutMs = 1500
)

// Read implements Source.read, the producer tick (spec.md §4.2). Invoked
// by the producer's worker when its scheduled time arrives; executes
// under the source lock, which Read releases before returning unless it
// reports Moved (a migration already released it).
func Read(src *Source, globalRunning bool) ReadResult {
	src.Lock()

	if !globalRunning {
		src.ClearFlag(FlagRunning)
	}

	if src.HasFlag(FlagListenersSync) {
		if src.terminationCount > 0 {
			if time.Since(src.timerStart) > forcedSyncTimeoutMs*time.Millisecond {
				src.services.logger().Printf("core: %s: forced LISTENERS_SYNC timeout after %dms, clearing RUNNING", src.Mount, forcedSyncTimeoutMs)
				src.ClearFlag(FlagRunning)
				src.ClearFlag(FlagListenersSync)
			} else {
				src.Unlock()
				return ReadResult{RescheduleMs: 30}
			}
		} else {
			src.fallback = Fallback{}
			src.ClearFlag(FlagListenersSync)
		}
	}

	if src.listenerCount != src.prevListeners {
		src.prevListeners = src.listenerCount
		if src.listenerCount > src.peakListeners {
			src.peakListeners = src.listenerCount
		}
		svc := src.services
		mount := src.Mount
		listeners := src.listenerCount
		bytesRead := src.bytesRead
		queueSize := 0
		if src.Queue != nil {
			queueSize = src.Queue.Size()
		}
		svc.stats().Publish(mount, listeners, bytesRead, 0, queueSize)
	}

	now := time.Now()
	if src.clientStatsUpdateAt.IsZero() || now.Sub(src.clientStatsUpdateAt) >= statsPublishPeriod {
		src.clientStatsUpdateAt = now
		svc := src.services
		mount := src.Mount
		listeners := src.listenerCount
		bytesRead := src.bytesRead
		queueSize := 0
		if src.Queue != nil {
			queueSize = src.Queue.Size()
		}
		svc.stats().Publish(mount, listeners, bytesRead, 0, queueSize)
	}

	balancePeriod := time.Duration(maxInt(src.balanceRecheckSeconds(), 6)) * time.Second
	if src.workerBalanceRecheckAt.IsZero() || now.Sub(src.workerBalanceRecheckAt) >= balancePeriod {
		src.workerBalanceRecheckAt = now
		if src.services.balancer().SourceChangeWorker(src) {
			return ReadResult{Moved: true}
		}
	}

	processed := false
	if src.Producer != nil && src.Producer.Connection.Error == nil {
		for i := 0; i < maxPullIterations; i++ {
			block, err := src.Format.GetBuffer(src)
			if err != nil {
				src.ClearFlag(FlagRunning)
				break
			}
			if block == nil {
				if processed {
					break
				}
				src.noDataTick(now)
				break
			}

			processed = true
			src.lastRead = now
			src.bytesRead += int64(block.Len())
			if src.Producer != nil {
				src.Producer.QueuePos += int64(block.Len())
			}
			if src.incomingRate != nil {
				src.incomingRate.Add(int64(block.Len()))
			}

			if err := src.Queue.Append(block); err != nil {
				// Structural invariant violation (min_offset exceeded the
				// window with no successor): fatal to this source, not
				// the process (spec.md §7).
				src.services.logger().Printf("core: %s: structural invariant violation, aborting source: %v", src.Mount, err)
				src.ClearFlag(FlagRunning)
				break
			}

			if src.dumpFile != nil {
				_ = src.dumpFile.WriteBlock(block)
			}
		}
	} else if src.Producer == nil || src.Producer.Connection.Error != nil {
		src.ClearFlag(FlagRunning)
	}

	if processed {
		src.skipDurationMs = maxF(src.skipDurationMs*skipDurationShrink, skipDurationMinMs)
	}

	if src.Queue != nil {
		src.Queue.TrimHead()
	}

	reschedule := int64(15)
	if !processed {
		reschedule = int64(src.skipDurationMs) | 0x0F
	}

	src.Unlock()
	return ReadResult{RescheduleMs: reschedule}
}

// noDataTick implements spec.md §4.2 step 6's no-data branch. Caller
// holds src.lock.
func (src *Source) noDataTick(now time.Time) {
	if src.lastRead.IsZero() {
		src.lastRead = now
		return
	}
	idle := now.Sub(src.lastRead)
	if src.timeoutSeconds > 0 && idle > time.Duration(src.timeoutSeconds)*time.Second {
		src.SetFlag(FlagTimeout)
		src.ClearFlag(FlagRunning)
		return
	}
	if idle > 3*time.Second {
		src.services.logger().Printf("core: %s: no data from producer for %s", src.Mount, idle.Round(time.Millisecond))
	}
	src.skipDurationMs = minF(src.skipDurationMs*skipDurationGrowth, skipDurationMaxMs)
	if src.skipDurationMs == 0 {
		src.skipDurationMs = skipDurationMinMs
	}
}

func (src *Source) balanceRecheckSeconds() int {
	return 6
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
