package domain

import (
	"context"
	"time"

	"github.com/kingithegreat/AquaProject-sub000/internal/models"
)

// KeyValueStore is the local durable persistence port. Get returns
// (nil, nil) for absent or corrupt values; Remove of a missing key is not
// an error. Callers treat Put as best-effort.
type KeyValueStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Document is a remote record as returned by query.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// DocumentStore is the remote document-store port. The sync engine depends
// only on these two shapes.
type DocumentStore interface {
	Create(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	QueryByField(ctx context.Context, collection, field, value string) ([]Document, error)
}

// ConnectivitySource abstracts the platform network-status API.
// Subscribe returns an unsubscribe handle.
type ConnectivitySource interface {
	Current(ctx context.Context) (bool, error)
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

// ConnectivityChecker is the read surface the sync path needs.
type ConnectivityChecker interface {
	Online() bool
	Probe(ctx context.Context, timeout time.Duration) bool
}

// Syncer pushes one queued booking to the remote store. The boolean result
// is the only signal; failures are logged internally, never raised.
type Syncer interface {
	SyncBooking(ctx context.Context, booking *models.BookingRecord) bool
}

// OperationQueue is the pending-write queue port exposed to the monitor
// and the submission flow.
type OperationQueue interface {
	Enqueue(ctx context.Context, op models.QueuedOperation) error
	Drain(ctx context.Context)
	Size() int
}

// EventPublisher mirrors the in-process event bus surface.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
