package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
)

type stubBusyWindows struct {
	windows []dto.TimeWindow
	report  *dto.BusyWindowsReport
	lastDay int
}

func (s *stubBusyWindows) GetBusyWindows(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) ([]dto.TimeWindow, error) {
	s.lastDay = days
	return s.windows, nil
}

func (s *stubBusyWindows) GetBusyWindowsWithStatus(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) (*dto.BusyWindowsReport, error) {
	return s.report, nil
}

func (s *stubBusyWindows) GetEventsWithDetails(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) ([]dto.CalendarEventView, error) {
	return nil, nil
}

type stubCalendarService struct {
	connections *dto.CalendarConnectionListResponse
}

func (s *stubCalendarService) SaveConnection(ctx context.Context, tutorID uuid.UUID, req *dto.SaveConnectionRequest) (*dto.CalendarConnectionResponse, error) {
	return &dto.CalendarConnectionResponse{Provider: req.Provider, SyncStatus: "idle", SyncEnabled: true}, nil
}

func (s *stubCalendarService) GetConnections(ctx context.Context, tutorID uuid.UUID) (*dto.CalendarConnectionListResponse, error) {
	return s.connections, nil
}

func (s *stubCalendarService) DisableConnection(ctx context.Context, tutorID uuid.UUID, provider string) error {
	return nil
}

func perform(t *testing.T, handler echo.HandlerFunc, target string, paramName, paramValue string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames(paramName)
	c.SetParamValues(paramValue)
	require.NoError(t, handler(c))
	return rec
}

func TestGetBusyWindowsReturnsWindows(t *testing.T) {
	busy := &stubBusyWindows{windows: []dto.TimeWindow{
		{Start: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)},
	}}
	ctrl := NewCalendarController(&stubCalendarService{}, busy, nil)

	rec := perform(t, ctrl.GetBusyWindows, "/?days=7", "id", uuid.NewString())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, busy.lastDay)

	var body struct {
		Data dto.BusyWindowsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Windows, 1)
}

func TestGetBusyWindowsRejectsBadTutorID(t *testing.T) {
	ctrl := NewCalendarController(&stubCalendarService{}, &stubBusyWindows{}, nil)

	rec := perform(t, ctrl.GetBusyWindows, "/", "id", "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBusyWindowsRejectsBadRange(t *testing.T) {
	ctrl := NewCalendarController(&stubCalendarService{}, &stubBusyWindows{}, nil)

	rec := perform(t, ctrl.GetBusyWindows, "/?days=900", "id", uuid.NewString())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = perform(t, ctrl.GetBusyWindows, "/?start=tomorrow", "id", uuid.NewString())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBusyWindowsStatusReportsProviders(t *testing.T) {
	busy := &stubBusyWindows{report: &dto.BusyWindowsReport{
		Windows:             []dto.TimeWindow{},
		StaleProviders:      []string{"google"},
		UnverifiedProviders: []string{"google"},
	}}
	ctrl := NewCalendarController(&stubCalendarService{}, busy, nil)

	rec := perform(t, ctrl.GetBusyWindowsStatus, "/", "id", uuid.NewString())
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data dto.BusyWindowsReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"google"}, body.Data.StaleProviders)
}

func bindBookingParams(t *testing.T, ctrl *CalendarController, body string) dto.BookingEventParams {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	params, err := ctrl.bookingParams(c)
	require.NoError(t, err)
	return params
}

func TestBookingParamsKeepCallerCreateIfMissing(t *testing.T) {
	ctrl := NewCalendarController(&stubCalendarService{}, &stubBusyWindows{}, nil)
	base := `{"tutor_id":%q,"title":"Lesson","start":"2026-09-10T14:00:00Z","end":"2026-09-10T15:00:00Z"`
	tutorID := uuid.NewString()

	params := bindBookingParams(t, ctrl, fmt.Sprintf(base+`}`, tutorID))
	assert.False(t, params.CreateIfMissing)

	params = bindBookingParams(t, ctrl, fmt.Sprintf(base+`,"create_if_missing":true}`, tutorID))
	assert.True(t, params.CreateIfMissing)
}

func TestDisableConnectionRejectsUnknownProvider(t *testing.T) {
	ctrl := NewCalendarController(&stubCalendarService{}, &stubBusyWindows{}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "provider")
	c.SetParamValues(uuid.NewString(), "caldav")
	require.NoError(t, ctrl.DisableConnection(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
