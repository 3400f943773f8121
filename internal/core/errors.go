package core

import "errors"

var (
	// ErrMountInUse is returned by reserve/Startup when a producer tries
	// to claim a mount that already has one and is not hijacking.
	ErrMountInUse = errors.New("core: mountpoint in use")
	// ErrMountMigrating is returned by reserve when the existing source is
	// mid listeners-sync and must not be reused (spec.md §4.1).
	ErrMountMigrating = errors.New("core: mount is mid-migration")
	// ErrSourceLimit is returned by Startup when global.sources exceeds
	// config.source_limit.
	ErrSourceLimit = errors.New("core: too many streams connected")
	// ErrUnsupportedContentType is returned when connection_complete_source
	// (external codec detection) fails.
	ErrUnsupportedContentType = errors.New("core: unsupported content type")

	// ErrMountNotFound is returned by admission when no live source and no
	// fallback chain resolves to one.
	ErrMountNotFound = errors.New("core: mount not found")
	// ErrFallbackTooDeep is returned when a fallback chain exceeds
	// MaxFallbackDepth (spec.md §4.1, §7).
	ErrFallbackTooDeep = errors.New("core: fallback through too many mountpoints")
	// ErrBandwidthExceeded is returned when admission would exceed a
	// global or per-mount bandwidth cap.
	ErrBandwidthExceeded = errors.New("core: bandwidth limit exceeded")
	// ErrMountFull is returned when a per-mount listener cap is reached
	// and no fallback-when-full is configured.
	ErrMountFull = errors.New("core: mount listener limit reached")
	// ErrDuplicateLogin is returned when auth rejects a duplicate
	// username attach.
	ErrDuplicateLogin = errors.New("core: duplicate login rejected")

	// ErrListenerReleased is returned by listener tick functions once the
	// listener has been detached; callers must stop scheduling it.
	ErrListenerReleased = errors.New("core: listener released")
)
