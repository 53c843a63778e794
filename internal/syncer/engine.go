package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
	"github.com/kingithegreat/AquaProject-sub000/internal/events"
	"github.com/kingithegreat/AquaProject-sub000/internal/models"
)

var errTimeout = errors.New("remote operation timed out")

// Engine pushes one queued booking to the remote store
// exactly-effectively-once. Remote calls are raced against a timer, not
// cancelled: losing the race only stops the wait, so a timed-out create
// may still land server-side. The reference lookup before every write and
// the read-back before deleting the local backup bound that ambiguity.
type Engine struct {
	docs     domain.DocumentStore
	kv       domain.KeyValueStore
	checker  domain.ConnectivityChecker
	eventBus domain.EventPublisher
	logger   *zerolog.Logger

	collection    string
	probeTimeout  time.Duration
	saveTimeout   time.Duration
	verifyTimeout time.Duration
}

func NewEngine(
	docs domain.DocumentStore,
	kv domain.KeyValueStore,
	checker domain.ConnectivityChecker,
	eventBus domain.EventPublisher,
	collection string,
	probeTimeout, saveTimeout, verifyTimeout time.Duration,
	logger *zerolog.Logger,
) *Engine {
	if collection == "" {
		collection = "bookings"
	}
	if probeTimeout <= 0 {
		probeTimeout = models.ProbeTimeout
	}
	if saveTimeout <= 0 {
		saveTimeout = models.SaveTimeout
	}
	if verifyTimeout <= 0 {
		verifyTimeout = models.VerifyTimeout
	}
	return &Engine{
		docs:          docs,
		kv:            kv,
		checker:       checker,
		eventBus:      eventBus,
		logger:        logger,
		collection:    collection,
		probeTimeout:  probeTimeout,
		saveTimeout:   saveTimeout,
		verifyTimeout: verifyTimeout,
	}
}

// SyncBooking returns true when the booking is confirmed present remotely
// (freshly written or already there) and false when the caller should
// re-queue. It never panics out to the queue.
func (e *Engine) SyncBooking(ctx context.Context, booking *models.BookingRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("sync engine panic contained")
			ok = false
		}
	}()

	if booking == nil {
		return true
	}

	log := e.logger.With().Str("reference", booking.Reference).Logger()

	if !e.checker.Probe(ctx, e.probeTimeout) {
		log.Debug().Msg("offline, sync deferred")
		return false
	}

	// A previous attempt may have landed after its timeout; the reference
	// is the sole de-duplication key.
	existing, err := e.raceQuery(ctx, booking.Reference)
	if err != nil {
		log.Warn().Err(err).Msg("duplicate check failed")
		return false
	}
	if len(existing) > 0 {
		log.Info().Str("remote_id", existing[0].ID).Msg("booking already synced, skipping write")
		e.removeBackup(ctx, booking.Reference, &log)
		e.publishSynced(booking)
		return true
	}

	data, err := bookingDocument(booking)
	if err != nil {
		log.Error().Err(err).Msg("encode booking failed")
		return false
	}

	remoteID, err := e.raceCreate(ctx, data)
	if err != nil {
		log.Warn().Err(err).Msg("remote create failed")
		return false
	}
	log.Info().Str("remote_id", remoteID).Msg("booking written remotely")

	// Delete the local backup only once the record is visible remotely.
	// An unverifiable write keeps the backup: duplicate local data beats
	// data loss.
	visible, verr := e.raceQuery(ctx, booking.Reference)
	if verr != nil || len(visible) == 0 {
		log.Warn().AnErr("verify_error", verr).Msg("verification incomplete, retaining local backup")
	} else {
		e.removeBackup(ctx, booking.Reference, &log)
	}

	e.publishSynced(booking)
	return true
}

type createResult struct {
	id  string
	err error
}

func (e *Engine) raceCreate(ctx context.Context, data map[string]interface{}) (string, error) {
	ch := make(chan createResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- createResult{err: fmt.Errorf("remote create panic: %v", r)}
			}
		}()
		id, err := e.docs.Create(ctx, e.collection, data)
		ch <- createResult{id: id, err: err}
	}()

	timer := time.NewTimer(e.saveTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.id, res.err
	case <-timer.C:
		return "", errTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type queryResult struct {
	docs []domain.Document
	err  error
}

func (e *Engine) raceQuery(ctx context.Context, reference string) ([]domain.Document, error) {
	ch := make(chan queryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- queryResult{err: fmt.Errorf("remote query panic: %v", r)}
			}
		}()
		docs, err := e.docs.QueryByField(ctx, e.collection, "reference", reference)
		ch <- queryResult{docs: docs, err: err}
	}()

	timer := time.NewTimer(e.verifyTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.docs, res.err
	case <-timer.C:
		return nil, errTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) removeBackup(ctx context.Context, reference string, log *zerolog.Logger) {
	if err := e.kv.Remove(ctx, models.KeyBookingPrefix+reference); err != nil {
		log.Error().Err(err).Msg("remove local backup failed")
	}
}

func (e *Engine) publishSynced(booking *models.BookingRecord) {
	if e.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		Reference:   booking.Reference,
		UserID:      booking.UserID,
		TotalAmount: booking.TotalAmount,
		OccurredAt:  time.Now(),
	}
	if err := e.eventBus.PublishJSON(events.EventBookingSynced, payload); err != nil {
		e.logger.Error().Err(err).Str("reference", booking.Reference).Msg("publish synced event")
	}
}

// bookingDocument flattens the record into the document-store shape.
func bookingDocument(booking *models.BookingRecord) (map[string]interface{}, error) {
	raw, err := json.Marshal(booking)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
