package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	corecontroller "github.com/troy-samuels/tutor-space-sub004/core/controller"
	"github.com/troy-samuels/tutor-space-sub004/core/errors"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/service"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/tasks"
)

const (
	defaultWindowDays = 14
	maxWindowDays     = 60
)

type CalendarController struct {
	corecontroller.BaseController
	calendarService service.CalendarService
	busyWindows     service.BusyWindowService
	queue           *asynq.Client
}

func NewCalendarController(calendarService service.CalendarService, busyWindows service.BusyWindowService, queue *asynq.Client) *CalendarController {
	return &CalendarController{
		BaseController:  corecontroller.NewBaseController(),
		calendarService: calendarService,
		busyWindows:     busyWindows,
		queue:           queue,
	}
}

func tutorIDParam(ctx echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, errors.NewAppError(errors.ErrInvalidInput, "invalid tutor id", err)
	}
	return id, nil
}

// rangeParams reads the optional start/days query pair. Start defaults to
// now, days to two weeks.
func rangeParams(ctx echo.Context) (time.Time, int, error) {
	start := time.Now().UTC()
	if raw := ctx.QueryParam("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, 0, errors.NewAppError(errors.ErrInvalidInput, "start must be RFC3339", err)
		}
		start = parsed.UTC()
	}

	days := defaultWindowDays
	if raw := ctx.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxWindowDays {
			return time.Time{}, 0, errors.NewAppError(errors.ErrInvalidInput, "days must be between 1 and 60", err)
		}
		days = parsed
	}
	return start, days, nil
}

// GetBusyWindows returns the merged busy intervals consumed by slot
// availability.
// GET /api/v1/internal/tutors/:id/busy-windows
func (c *CalendarController) GetBusyWindows(ctx echo.Context) error {
	tutorID, err := tutorIDParam(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	start, days, err := rangeParams(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	windows, err := c.busyWindows.GetBusyWindows(ctx.Request().Context(), tutorID, start, days)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, dto.BusyWindowsResponse{Windows: windows}, "busy windows")
}

// GetBusyWindowsStatus adds per-provider sync health to the busy windows.
// GET /api/v1/internal/tutors/:id/busy-windows/status
func (c *CalendarController) GetBusyWindowsStatus(ctx echo.Context) error {
	tutorID, err := tutorIDParam(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	start, days, err := rangeParams(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	report, err := c.busyWindows.GetBusyWindowsWithStatus(ctx.Request().Context(), tutorID, start, days)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, report, "busy windows with status")
}

// GetEvents returns the tutor's unified calendar view.
// GET /api/v1/internal/tutors/:id/events
func (c *CalendarController) GetEvents(ctx echo.Context) error {
	tutorID, err := tutorIDParam(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	start, days, err := rangeParams(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	events, err := c.busyWindows.GetEventsWithDetails(ctx.Request().Context(), tutorID, start, days)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, events, "calendar events")
}

// GetConnections lists the tutor's calendar connections, tokens excluded.
// GET /api/v1/internal/tutors/:id/connections
func (c *CalendarController) GetConnections(ctx echo.Context) error {
	tutorID, err := tutorIDParam(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	resp, err := c.calendarService.GetConnections(ctx.Request().Context(), tutorID)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, resp, "calendar connections")
}

// SaveConnection stores an OAuth consent result for the tutor.
// POST /api/v1/internal/tutors/:id/connections
func (c *CalendarController) SaveConnection(ctx echo.Context) error {
	tutorID, err := tutorIDParam(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	var req dto.SaveConnectionRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(ctx, "invalid request body")
	}

	resp, err := c.calendarService.SaveConnection(ctx.Request().Context(), tutorID, &req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, resp, "calendar connected")
}

// DisableConnection stops syncing a provider and erases its tokens.
// DELETE /api/v1/internal/tutors/:id/connections/:provider
func (c *CalendarController) DisableConnection(ctx echo.Context) error {
	tutorID, err := tutorIDParam(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	provider := ctx.Param("provider")
	if provider != dto.ProviderGoogle && provider != dto.ProviderOutlook {
		return c.BadRequest(ctx, "unsupported calendar provider")
	}

	if err := c.calendarService.DisableConnection(ctx.Request().Context(), tutorID, provider); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "calendar disconnected")
}

func (c *CalendarController) bookingParams(ctx echo.Context) (dto.BookingEventParams, error) {
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return dto.BookingEventParams{}, errors.NewAppError(errors.ErrInvalidInput, "invalid booking id", err)
	}

	var params dto.BookingEventParams
	if err := ctx.Bind(&params); err != nil {
		return dto.BookingEventParams{}, errors.NewAppError(errors.ErrInvalidRequestData, "invalid request body", err)
	}
	params.BookingID = bookingID

	if params.TutorID == uuid.Nil {
		return dto.BookingEventParams{}, errors.NewAppError(errors.ErrInvalidInput, "tutor_id is required", nil)
	}
	if !params.Start.Before(params.End) {
		return dto.BookingEventParams{}, errors.NewAppError(errors.ErrInvalidInput, "start must be before end", nil)
	}
	return params, nil
}

func (c *CalendarController) enqueueMirror(ctx echo.Context, taskType string, params dto.BookingEventParams) error {
	task, err := tasks.NewBookingMirrorTask(taskType, params)
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInternalServer, "failed to build mirror task", err))
	}
	info, err := c.queue.EnqueueContext(ctx.Request().Context(), task)
	if err != nil {
		return c.ErrorResponse(ctx, errors.NewAppError(errors.ErrInternalServer, "failed to enqueue mirror task", err))
	}

	logger.Info("mirror task enqueued", "task", taskType, "task_id", info.ID, "booking_id", params.BookingID)
	return ctx.JSON(http.StatusAccepted, corecontroller.NewSuccessResponse(http.StatusAccepted, map[string]string{"task_id": info.ID}, "mirror scheduled"))
}

// MirrorCreate schedules calendar event creation for a confirmed booking.
// POST /api/v1/internal/bookings/:id/calendar-event
func (c *CalendarController) MirrorCreate(ctx echo.Context) error {
	params, err := c.bookingParams(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.enqueueMirror(ctx, tasks.TypeMirrorCreate, params)
}

// MirrorUpdate schedules calendar event updates for a rescheduled booking.
// PUT /api/v1/internal/bookings/:id/calendar-event
func (c *CalendarController) MirrorUpdate(ctx echo.Context) error {
	params, err := c.bookingParams(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.enqueueMirror(ctx, tasks.TypeMirrorUpdate, params)
}

// MirrorCancel schedules calendar event removal for a cancelled booking.
// DELETE /api/v1/internal/bookings/:id/calendar-event
func (c *CalendarController) MirrorCancel(ctx echo.Context) error {
	params, err := c.bookingParams(ctx)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.enqueueMirror(ctx, tasks.TypeMirrorCancel, params)
}
