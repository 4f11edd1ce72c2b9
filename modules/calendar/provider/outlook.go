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
	"strings"
	"time"

	"github.com/troy-samuels/tutor-space-sub004/core/constants"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
)

const (
	msGraphBaseURL    = "https://graph.microsoft.com/v1.0"
	outlookTimeFormat = "2006-01-02T15:04:05"
)

// OutlookProvider talks to the Microsoft Graph calendar API.
type OutlookProvider struct {
	// BaseURL is overridable for tests.
	BaseURL string
	client  *http.Client
}

func NewOutlookProvider() *OutlookProvider {
	return &OutlookProvider{
		BaseURL: msGraphBaseURL,
		client:  newHTTPClient(),
	}
}

func (p *OutlookProvider) Name() string {
	return dto.ProviderOutlook
}

type outlookDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type outlookEvent struct {
	ID             string          `json:"id"`
	Subject        string          `json:"subject"`
	ShowAs         string          `json:"showAs"`
	IsCancelled    bool            `json:"isCancelled"`
	IsAllDay       bool            `json:"isAllDay"`
	SeriesMasterID string          `json:"seriesMasterId"`
	Start          outlookDateTime `json:"start"`
	End            outlookDateTime `json:"end"`
}

// ListEvents pages the calendar view (recurrences already expanded by Graph)
// in [from, to), dropping cancelled events and events shown as free.
func (p *OutlookProvider) ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error) {
	params := url.Values{}
	params.Set("startDateTime", from.UTC().Format(time.RFC3339))
	params.Set("endDateTime", to.UTC().Format(time.RFC3339))
	params.Set("$top", strconv.Itoa(constants.ProviderPageSize))

	endpoint := p.BaseURL + "/me/calendarview?" + params.Encode()
	var events []Event

	for endpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &APIError{Provider: dto.ProviderOutlook, StatusCode: resp.StatusCode, Body: string(body)}
		}

		var page struct {
			Value    []outlookEvent `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode events page: %w", err)
		}

		for _, item := range page.Value {
			if item.IsCancelled || strings.EqualFold(item.ShowAs, "free") {
				continue
			}
			ev, err := p.convertEvent(&item)
			if err != nil {
				logger.Warn("skipping unparsable outlook event", "event_id", item.ID, "error", err)
				continue
			}
			events = append(events, *ev)
		}

		// Graph hands back the full next-page URL.
		endpoint = page.NextLink
	}

	return events, nil
}

func (p *OutlookProvider) convertEvent(item *outlookEvent) (*Event, error) {
	start, err := parseOutlookTime(item.Start)
	if err != nil {
		return nil, fmt.Errorf("bad start: %w", err)
	}
	end, err := parseOutlookTime(item.End)
	if err != nil {
		return nil, fmt.Errorf("bad end: %w", err)
	}

	return &Event{
		ProviderEventID:  item.ID,
		CalendarID:       "primary",
		Summary:          item.Subject,
		Status:           "confirmed",
		Start:            start,
		End:              end,
		AllDay:           item.IsAllDay,
		RecurringEventID: item.SeriesMasterID,
	}, nil
}

// parseOutlookTime resolves Graph's zone-qualified wall-clock timestamps,
// including the fractional-second form it emits, into UTC instants.
func parseOutlookTime(t outlookDateTime) (time.Time, error) {
	loc := time.UTC
	if t.TimeZone != "" && !strings.EqualFold(t.TimeZone, "UTC") {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}

	raw := t.DateTime
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		raw = raw[:idx]
	}
	parsed, err := time.ParseInLocation(outlookTimeFormat, raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

// eventPayload renders params as a Graph event body. Graph takes wall-clock
// dateTime plus a named timezone, so the instant is formatted in the
// booking's zone.
func (p *OutlookProvider) eventPayload(params EventParams) (map[string]any, error) {
	loc := time.UTC
	tz := "UTC"
	if params.Timezone != "" {
		l, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", params.Timezone, err)
		}
		loc = l
		tz = params.Timezone
	}

	event := map[string]any{
		"subject": params.Title,
		"body": map[string]string{
			"contentType": "text",
			"content":     params.Description,
		},
		"start": map[string]string{
			"dateTime": params.Start.In(loc).Format(outlookTimeFormat),
			"timeZone": tz,
		},
		"end": map[string]string{
			"dateTime": params.End.In(loc).Format(outlookTimeFormat),
			"timeZone": tz,
		},
	}
	if params.Location != "" {
		event["location"] = map[string]string{"displayName": params.Location}
	}
	if params.AttendeeEmail != "" {
		event["attendees"] = []map[string]any{
			{
				"emailAddress": map[string]string{"address": params.AttendeeEmail},
				"type":         "required",
			},
		}
	}
	return event, nil
}

func (p *OutlookProvider) CreateEvent(ctx context.Context, accessToken string, params EventParams) (*EventResult, error) {
	payload, err := p.eventPayload(params)
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/me/events", bytes.NewReader(body))
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

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: dto.ProviderOutlook, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created event: %w", err)
	}

	return &EventResult{ProviderEventID: created.ID, CalendarID: "primary"}, nil
}

func (p *OutlookProvider) UpdateEvent(ctx context.Context, accessToken string, ref EventRef, params EventParams) (*EventResult, error) {
	payload, err := p.eventPayload(params)
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(payload)
	endpoint := p.BaseURL + "/me/events/" + url.PathEscape(ref.ProviderEventID)

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
		return nil, &APIError{Provider: dto.ProviderOutlook, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var updated struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("failed to decode updated event: %w", err)
	}

	return &EventResult{ProviderEventID: updated.ID, CalendarID: ref.CalendarID}, nil
}

func (p *OutlookProvider) DeleteEvent(ctx context.Context, accessToken string, ref EventRef) error {
	endpoint := p.BaseURL + "/me/events/" + url.PathEscape(ref.ProviderEventID)

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
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Provider: dto.ProviderOutlook, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
