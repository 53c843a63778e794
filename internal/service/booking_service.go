package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
	"github.com/kingithegreat/AquaProject-sub000/internal/events"
	"github.com/kingithegreat/AquaProject-sub000/internal/metrics"
	"github.com/kingithegreat/AquaProject-sub000/internal/models"
)

var (
	ErrEmptyServices     = errors.New("at least one service selection is required")
	ErrMissingIdentity   = errors.New("user id and contact are required")
	ErrAgreementRequired = errors.New("safety agreement must be accepted")
	ErrNegativeAddOn     = errors.New("add-on price must not be negative")
)

// SubmitRequest carries the structurally complete payload from the caller.
// Business rules (availability, opening hours) are the caller's problem;
// only structural completeness is checked here.
type SubmitRequest struct {
	UserID            string         `json:"user_id"`
	UserContact       string         `json:"user_contact"`
	ScheduledDate     time.Time      `json:"scheduled_date"`
	ScheduledTime     time.Time      `json:"scheduled_time"`
	ServiceSelections []string       `json:"service_selections"`
	Quantity          int            `json:"quantity"`
	DurationHours     int            `json:"duration_hours"`
	AddOns            []models.AddOn `json:"add_ons,omitempty"`
	AgreementAccepted bool           `json:"agreement_accepted"`
}

// SubmitResult is returned to the caller for immediate display.
type SubmitResult struct {
	Reference string                `json:"reference"`
	Record    *models.BookingRecord `json:"record"`
}

// BookingService is the caller-facing entry point: local-first, confirm
// immediately, sync in background. The caller gets a confirmed result as
// soon as the record is written locally and queued; remote durability is
// the queue's concern.
type BookingService struct {
	kv       domain.KeyValueStore
	queue    domain.OperationQueue
	eventBus domain.EventPublisher
	logger   *zerolog.Logger

	prices map[string]int64

	rngMu sync.Mutex
	rng   *rand.Rand

	syncWG sync.WaitGroup
}

// NewBookingService builds the submission flow. prices maps a service tag
// to its per-unit-hour price in display currency units; unknown tags
// price at zero.
func NewBookingService(
	kv domain.KeyValueStore,
	queue domain.OperationQueue,
	eventBus domain.EventPublisher,
	prices map[string]int64,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		kv:       kv,
		queue:    queue,
		eventBus: eventBus,
		logger:   logger,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Submit validates the request, snapshots the booking locally, enqueues it
// and fires a background sync. It returns once local persistence and
// queueing are done; the only rejection path is structural validation.
func (s *BookingService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	reference := s.generateReference()
	now := time.Now()

	record := &models.BookingRecord{
		Reference:         reference,
		UserID:            req.UserID,
		UserContact:       req.UserContact,
		ScheduledDate:     req.ScheduledDate,
		ScheduledTime:     req.ScheduledTime,
		ServiceSelections: append([]string(nil), req.ServiceSelections...),
		Quantity:          req.Quantity,
		DurationHours:     req.DurationHours,
		AddOns:            append([]models.AddOn(nil), req.AddOns...),
		TotalAmount:       s.computeTotal(req),
		Status:            models.StatusConfirmed,
		CreatedAt:         now,
	}

	// Best-effort local backup; losing the mirror is preferable to losing
	// the booking, so the record still proceeds to the queue on failure.
	if raw, err := json.Marshal(record); err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("marshal booking backup failed")
	} else if err := s.kv.Put(ctx, models.KeyBookingPrefix+reference, raw); err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("write booking backup failed")
	}

	op := models.QueuedOperation{
		ID:        uuid.NewString(),
		Type:      models.OpTypeBooking,
		Booking:   record,
		CreatedAt: now,
	}
	if err := s.queue.Enqueue(ctx, op); err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("queue persistence failed")
	}

	metrics.IncSubmitted()
	s.publishSubmitted(record)

	// Fire-and-forget, but tracked: Wait lets shutdown and tests await
	// completion instead of sleeping on real timers.
	s.syncWG.Add(1)
	go func() {
		defer s.syncWG.Done()
		s.queue.Drain(context.Background())
	}()

	return &SubmitResult{Reference: reference, Record: record}, nil
}

// QueueDepth reports pending operations for UI diagnostics.
func (s *BookingService) QueueDepth() int {
	return s.queue.Size()
}

// ForceSyncNow drains the queue synchronously (pull-to-refresh) and
// reports whether everything pending went through.
func (s *BookingService) ForceSyncNow(ctx context.Context) bool {
	s.queue.Drain(ctx)
	return s.queue.Size() == 0
}

// Wait blocks until all fired background syncs finish.
func (s *BookingService) Wait() {
	s.syncWG.Wait()
}

func validate(req *SubmitRequest) error {
	if req == nil {
		return ErrMissingIdentity
	}
	if req.UserID == "" || req.UserContact == "" {
		return ErrMissingIdentity
	}
	if len(req.ServiceSelections) == 0 {
		return ErrEmptyServices
	}
	if !req.AgreementAccepted {
		return ErrAgreementRequired
	}
	for _, a := range req.AddOns {
		if a.Price < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeAddOn, a.ID)
		}
	}
	return nil
}

// generateReference builds BK-<6 digits>. Uniqueness is probabilistic per
// device session; the remote store does not enforce it in this flow.
func (s *BookingService) generateReference() string {
	s.rngMu.Lock()
	n := s.rng.Intn(1000000)
	s.rngMu.Unlock()
	return fmt.Sprintf("%s%06d", models.ReferencePrefix, n)
}

// computeTotal snapshots the price at submission time. Quantity and
// duration default to 1 so a missing modifier never zeroes the total.
func (s *BookingService) computeTotal(req *SubmitRequest) int64 {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	hours := req.DurationHours
	if hours <= 0 {
		hours = 1
	}

	var total int64
	for _, tag := range req.ServiceSelections {
		total += s.prices[tag] * int64(quantity) * int64(hours)
	}
	for _, a := range req.AddOns {
		total += a.Price
	}
	return total
}

func (s *BookingService) publishSubmitted(record *models.BookingRecord) {
	if s.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		Reference:   record.Reference,
		UserID:      record.UserID,
		TotalAmount: record.TotalAmount,
		OccurredAt:  time.Now(),
	}
	if err := s.eventBus.PublishJSON(events.EventBookingSubmitted, payload); err != nil {
		s.logger.Error().Err(err).Str("reference", record.Reference).Msg("publish submitted event")
	}
}
