package models

import "time"

const (
	StatusConfirmed = "confirmed"
)

const (
	OpTypeBooking = "booking"
)

const (
	// ReferencePrefix is prepended to the random 6-digit suffix.
	ReferencePrefix = "BK-"

	// KeyBookingPrefix stores a single booking snapshot per reference.
	KeyBookingPrefix = "booking_"

	// KeyOfflineQueue stores the whole serialized operation queue.
	KeyOfflineQueue = "offline_queue"

	// KeyNetworkState stores the last-known connectivity flag.
	KeyNetworkState = "network_state"
)

const (
	// MaxSyncRetries is the per-operation retry ceiling; an operation
	// failing this many attempts is dropped from the queue.
	MaxSyncRetries = 3

	// DrainDebounce delays a drain after an offline-to-online flip so
	// flapping connectivity does not trigger back-to-back drains.
	DrainDebounce = time.Second

	// InterOpDelay spaces out remote writes within one drain pass.
	InterOpDelay = 500 * time.Millisecond

	// ProbeTimeout bounds the active reachability probe.
	ProbeTimeout = 3 * time.Second

	// SaveTimeout bounds the remote create call.
	SaveTimeout = 8 * time.Second

	// VerifyTimeout bounds the post-write read-back.
	VerifyTimeout = 5 * time.Second
)
