package models

import "time"

// BookingRecord is the client-side snapshot of a booking. Reference is the
// sole idempotency key used against the remote store; every other field is
// frozen at submission time and never recomputed.
type BookingRecord struct {
	Reference         string    `json:"reference"`
	UserID            string    `json:"user_id"`
	UserContact       string    `json:"user_contact"`
	ScheduledDate     time.Time `json:"scheduled_date"`
	ScheduledTime     time.Time `json:"scheduled_time"`
	ServiceSelections []string  `json:"service_selections"`
	Quantity          int       `json:"quantity"`
	DurationHours     int       `json:"duration_hours"`
	AddOns            []AddOn   `json:"add_ons,omitempty"`
	TotalAmount       int64     `json:"total_amount"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// AddOn is a priced extra attached to a booking. Price is in display
// currency units, never negative.
type AddOn struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// QueuedOperation is a pending remote write awaiting sync. ID exists for
// tracing only; de-duplication uses Type plus the booking reference.
type QueuedOperation struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Booking    *BookingRecord `json:"booking,omitempty"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ConnectivityState is the persisted last-known network flag.
type ConnectivityState struct {
	IsConnected bool      `json:"is_connected"`
	CheckedAt   time.Time `json:"checked_at"`
}
