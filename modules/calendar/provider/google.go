package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/troy-samuels/tutor-space-sub004/core/constants"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
)

const googleCalendarAPIBase = "https://www.googleapis.com/calendar/v3"

// GoogleProvider talks to the Google Calendar v3 REST API.
type GoogleProvider struct {
	// BaseURL is overridable for tests.
	BaseURL string
	client  *http.Client
}

func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{
		BaseURL: googleCalendarAPIBase,
		client:  newHTTPClient(),
	}
}

func (p *GoogleProvider) Name() string {
	return dto.ProviderGoogle
}

type googleEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	Summary          string          `json:"summary"`
	Transparency     string          `json:"transparency"`
	RecurringEventID string          `json:"recurringEventId"`
	Start            googleEventTime `json:"start"`
	End              googleEventTime `json:"end"`
}

// ListEvents pages through the primary calendar's expanded event instances
// in [from, to), dropping cancelled events and events marked transparent
// (free). All timestamps come back in UTC; date-only events are resolved in
// the event's named timezone and flagged all-day.
func (p *GoogleProvider) ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error) {
	var events []Event
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("singleEvents", "true")
		params.Set("orderBy", "startTime")
		params.Set("timeMin", from.UTC().Format(time.RFC3339))
		params.Set("timeMax", to.UTC().Format(time.RFC3339))
		params.Set("maxResults", strconv.Itoa(constants.ProviderPageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		endpoint := p.BaseURL + "/calendars/primary/events?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &APIError{Provider: dto.ProviderGoogle, StatusCode: resp.StatusCode, Body: string(body)}
		}

		var page struct {
			Items         []googleEvent `json:"items"`
			NextPageToken string        `json:"nextPageToken"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode events page: %w", err)
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Transparency == "transparent" {
				continue
			}
			ev, err := p.convertEvent(&item)
			if err != nil {
				logger.Warn("skipping unparsable google event", "event_id", item.ID, "error", err)
				continue
			}
			events = append(events, *ev)
		}

		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (p *GoogleProvider) convertEvent(item *googleEvent) (*Event, error) {
	start, allDay, err := parseGoogleTime(item.Start)
	if err != nil {
		return nil, fmt.Errorf("bad start: %w", err)
	}
	end, _, err := parseGoogleTime(item.End)
	if err != nil {
		return nil, fmt.Errorf("bad end: %w", err)
	}

	status := item.Status
	if status == "" {
		status = "confirmed"
	}

	return &Event{
		ProviderEventID:  item.ID,
		CalendarID:       "primary",
		Summary:          item.Summary,
		Status:           status,
		Start:            start,
		End:              end,
		AllDay:           allDay,
		RecurringEventID: item.RecurringEventID,
	}, nil
}

// parseGoogleTime resolves Google's two representations: RFC3339 dateTime
// for timed events, date-only plus a named timezone for all-day events.
func parseGoogleTime(t googleEventTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return parsed.UTC(), false, nil
	}

	if t.Date == "" {
		return time.Time{}, false, fmt.Errorf("event time has neither dateTime nor date")
	}

	loc := time.UTC
	if t.TimeZone != "" {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}
	parsed, err := time.ParseInLocation("2006-01-02", t.Date, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed.UTC(), true, nil
}

func (p *GoogleProvider) eventPayload(params EventParams) map[string]any {
	event := map[string]any{
		"summary":     params.Title,
		"description": params.Description,
		"start": map[string]string{
			"dateTime": params.Start.UTC().Format(time.RFC3339),
			"timeZone": params.Timezone,
		},
		"end": map[string]string{
			"dateTime": params.End.UTC().Format(time.RFC3339),
			"timeZone": params.Timezone,
		},
	}
	if params.Location != "" {
		event["location"] = params.Location
	}
	if params.AttendeeEmail != "" {
		event["attendees"] = []map[string]string{{"email": params.AttendeeEmail}}
	}
	return event
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, accessToken string, params EventParams) (*EventResult, error) {
	body, _ := json.Marshal(p.eventPayload(params))
	endpoint := p.BaseURL + "/calendars/primary/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: dto.ProviderGoogle, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created event: %w", err)
	}

	return &EventResult{ProviderEventID: created.ID, CalendarID: "primary"}, nil
}

func (p *GoogleProvider) UpdateEvent(ctx context.Context, accessToken string, ref EventRef, params EventParams) (*EventResult, error) {
	body, _ := json.Marshal(p.eventPayload(params))
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", p.BaseURL, p.calendarID(ref), url.PathEscape(ref.ProviderEventID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: dto.ProviderGoogle, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var updated struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("failed to decode updated event: %w", err)
	}

	return &EventResult{ProviderEventID: updated.ID, CalendarID: p.calendarID(ref)}, nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, accessToken string, ref EventRef) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", p.BaseURL, p.calendarID(ref), url.PathEscape(ref.ProviderEventID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Provider: dto.ProviderGoogle, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func (p *GoogleProvider) calendarID(ref EventRef) string {
	if ref.CalendarID != "" {
		return ref.CalendarID
	}
	return "primary"
}
