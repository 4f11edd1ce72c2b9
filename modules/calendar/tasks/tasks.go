package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/core/utils"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/repository"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/service"
)

// Task type names. Mirror tasks carry a dto.BookingEventParams payload.
const (
	TypeMirrorCreate = "calendar:mirror_create"
	TypeMirrorUpdate = "calendar:mirror_update"
	TypeMirrorCancel = "calendar:mirror_cancel"
	TypeWarmCache    = "calendar:warm_cache"
)

// NewBookingMirrorTask builds one of the three mirror tasks. MaxRetry is
// zero: a retried create or update could duplicate provider events, so
// drift waits for the next booking lifecycle event.
func NewBookingMirrorTask(taskType string, params dto.BookingEventParams) (*asynq.Task, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	opts := []asynq.Option{
		asynq.TaskID(utils.GenerateTaskID(taskType)),
		asynq.MaxRetry(0),
		asynq.Timeout(2 * time.Minute),
	}
	return asynq.NewTask(taskType, payload, opts...), nil
}

func NewWarmCacheTask() *asynq.Task {
	return asynq.NewTask(TypeWarmCache, nil, asynq.MaxRetry(0), asynq.Timeout(10*time.Minute))
}

// Handler owns the background side of the calendar module.
type Handler struct {
	mirror      service.MirrorService
	busyWindows service.BusyWindowService
	connRepo    repository.ConnectionRepository
}

func NewHandler(mirror service.MirrorService, busyWindows service.BusyWindowService, connRepo repository.ConnectionRepository) *Handler {
	return &Handler{mirror: mirror, busyWindows: busyWindows, connRepo: connRepo}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeMirrorCreate, h.HandleMirrorCreate)
	mux.HandleFunc(TypeMirrorUpdate, h.HandleMirrorUpdate)
	mux.HandleFunc(TypeMirrorCancel, h.HandleMirrorCancel)
	mux.HandleFunc(TypeWarmCache, h.HandleWarmCache)
}

func decodeBookingPayload(t *asynq.Task) (dto.BookingEventParams, error) {
	var params dto.BookingEventParams
	if err := json.Unmarshal(t.Payload(), &params); err != nil {
		return params, fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return params, nil
}

// Mirror handlers return nil even when the mirror reports failure: the
// booking is already committed and a failed mirror must not be retried into
// duplicate provider events. Failures are logged for operators.

func (h *Handler) HandleMirrorCreate(ctx context.Context, t *asynq.Task) error {
	params, err := decodeBookingPayload(t)
	if err != nil {
		return err
	}
	if result := h.mirror.CreateForBooking(ctx, params); !result.Success {
		logger.Error("mirror create task failed", "booking_id", params.BookingID, "error", result.Error)
	}
	return nil
}

func (h *Handler) HandleMirrorUpdate(ctx context.Context, t *asynq.Task) error {
	params, err := decodeBookingPayload(t)
	if err != nil {
		return err
	}
	if result := h.mirror.UpdateForBooking(ctx, params); !result.Success {
		logger.Error("mirror update task failed", "booking_id", params.BookingID, "error", result.Error)
	}
	return nil
}

func (h *Handler) HandleMirrorCancel(ctx context.Context, t *asynq.Task) error {
	params, err := decodeBookingPayload(t)
	if err != nil {
		return err
	}
	if result := h.mirror.CancelForBooking(ctx, params); !result.Success {
		logger.Error("mirror cancel task failed", "booking_id", params.BookingID, "error", result.Error)
	}
	return nil
}

// HandleWarmCache refreshes the event cache for every syncable tutor so the
// fallback path serves fresh data even for tutors nobody queried recently.
func (h *Handler) HandleWarmCache(ctx context.Context, t *asynq.Task) error {
	tutorIDs, err := h.connRepo.ListSyncableTutorIDs(ctx)
	if err != nil {
		return fmt.Errorf("list syncable tutors: %w", err)
	}

	warmed := 0
	for _, tutorID := range tutorIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := h.busyWindows.GetBusyWindowsWithStatus(ctx, tutorID, time.Now(), 14); err != nil {
			logger.Warn("warm cache skipped tutor", "tutor_id", tutorID, "error", err)
			continue
		}
		warmed++
	}

	logger.Info("cache warm cycle complete", "tutors", len(tutorIDs), "warmed", warmed)
	return nil
}
