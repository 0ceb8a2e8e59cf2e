package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrChannelDisabled indicates that Send() was called on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrInvalidAlert indicates an alert without a component or failure kind.
	ErrInvalidAlert = errors.New("invalid alert data")

	// ErrNotificationDropped indicates that an alert was dropped because no
	// worker slot became free in time.
	ErrNotificationDropped = errors.New("notification dropped due to pool saturation")
)
