package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outlookTestProvider(srv *httptest.Server) *OutlookProvider {
	p := NewOutlookProvider()
	p.BaseURL = srv.URL
	return p
}

func TestOutlookListEventsFiltersAndPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `outlook.timezone="UTC"`, r.Header.Get("Prefer"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/me/calendarview":
			require.NotEmpty(t, r.URL.Query().Get("startDateTime"))
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{
						"id":      "ev-busy",
						"subject": "English lesson",
						"showAs":  "busy",
						"start":   map[string]string{"dateTime": "2026-09-01T10:00:00.0000000", "timeZone": "UTC"},
						"end":     map[string]string{"dateTime": "2026-09-01T11:00:00.0000000", "timeZone": "UTC"},
					},
					{
						"id":          "ev-cancelled",
						"subject":     "Cancelled",
						"isCancelled": true,
						"start":       map[string]string{"dateTime": "2026-09-01T12:00:00", "timeZone": "UTC"},
						"end":         map[string]string{"dateTime": "2026-09-01T13:00:00", "timeZone": "UTC"},
					},
					{
						"id":      "ev-free",
						"subject": "Lunch hold",
						"showAs":  "Free",
						"start":   map[string]string{"dateTime": "2026-09-01T13:00:00", "timeZone": "UTC"},
						"end":     map[string]string{"dateTime": "2026-09-01T14:00:00", "timeZone": "UTC"},
					},
				},
				"@odata.nextLink": srv.URL + "/page-2",
			})
		case "/page-2":
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{
						"id":             "ev-series",
						"subject":        "Weekly lesson",
						"showAs":         "busy",
						"seriesMasterId": "ev-master",
						"start":          map[string]string{"dateTime": "2026-09-02T16:00:00", "timeZone": "Europe/Berlin"},
						"end":            map[string]string{"dateTime": "2026-09-02T17:00:00", "timeZone": "Europe/Berlin"},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	events, err := outlookTestProvider(srv).ListEvents(context.Background(), "tok",
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "ev-busy", events[0].ProviderEventID)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), events[0].Start)

	// Named-zone wall clock resolves to UTC (Berlin is UTC+2 in summer).
	assert.Equal(t, "ev-series", events[1].ProviderEventID)
	assert.Equal(t, "ev-master", events[1].RecurringEventID)
	assert.Equal(t, time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC), events[1].Start)
}

func TestOutlookCreateEventSendsWallClock(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/me/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "created-1"})
	}))
	defer srv.Close()

	result, err := outlookTestProvider(srv).CreateEvent(context.Background(), "tok", EventParams{
		Title:         "Chemistry lesson",
		Description:   "Organic chemistry",
		Location:      "Online",
		Start:         time.Date(2026, 9, 5, 9, 0, 0, 0, time.UTC),
		End:           time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC),
		Timezone:      "Europe/Berlin",
		AttendeeEmail: "student@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "created-1", result.ProviderEventID)

	assert.Equal(t, "Chemistry lesson", got["subject"])
	start := got["start"].(map[string]any)
	// 09:00 UTC is 11:00 wall clock in Berlin during summer time.
	assert.Equal(t, "2026-09-05T11:00:00", start["dateTime"])
	assert.Equal(t, "Europe/Berlin", start["timeZone"])
	location := got["location"].(map[string]any)
	assert.Equal(t, "Online", location["displayName"])
}

func TestOutlookCreateEventRejectsBadTimezone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	_, err := outlookTestProvider(srv).CreateEvent(context.Background(), "tok", EventParams{
		Timezone: "Not/AZone",
	})
	assert.Error(t, err)
}

func TestOutlookUpdateEventNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := outlookTestProvider(srv).UpdateEvent(context.Background(), "tok",
		EventRef{ProviderEventID: "gone"}, EventParams{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOutlookDeleteEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := outlookTestProvider(srv).DeleteEvent(context.Background(), "tok", EventRef{ProviderEventID: "ev-1"})
	assert.NoError(t, err)
}

func TestOutlookDeleteEventNotFoundIsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := outlookTestProvider(srv).DeleteEvent(context.Background(), "tok", EventRef{ProviderEventID: "gone"})
	assert.True(t, errors.Is(err, ErrNotFound))
}
