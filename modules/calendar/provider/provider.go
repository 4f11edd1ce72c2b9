package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/troy-samuels/tutor-space-sub004/core/constants"
)

// ErrNotFound reports a 404/410 from the provider on update or delete. It is
// a distinct steady-state outcome, not a transport failure: the event was
// deleted on the provider side and the caller must reconcile local state.
var ErrNotFound = errors.New("provider event not found")

// APIError is any other non-2xx provider response, kept with status and body
// for diagnostics.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Event is the normalized provider event shape. Start and End are UTC;
// cancelled and transparent/free events never appear here.
type Event struct {
	ProviderEventID  string
	CalendarID       string
	Summary          string
	Status           string
	Start            time.Time
	End              time.Time
	AllDay           bool
	RecurringEventID string
}

// EventParams describes an event to create or update. Timezone is an IANA
// zone identifier, never a bare offset, so providers keep zone-aware
// wall-clock semantics.
type EventParams struct {
	Title         string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	Timezone      string
	AttendeeEmail string
}

// EventRef identifies an existing provider event.
type EventRef struct {
	CalendarID      string
	ProviderEventID string
}

// EventResult is the provider's answer to a create or update.
type EventResult struct {
	ProviderEventID string
	CalendarID      string
}

// Provider translates the engine's uniform operations into one provider's
// REST calls. Implementations page through full listings, filter cancelled
// and free events, and normalize timestamps to UTC.
type Provider interface {
	Name() string
	ListEvents(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, accessToken string, params EventParams) (*EventResult, error)
	UpdateEvent(ctx context.Context, accessToken string, ref EventRef, params EventParams) (*EventResult, error)
	DeleteEvent(ctx context.Context, accessToken string, ref EventRef) error
}

// Registry maps a connection's provider tag to its adapter.
type Registry map[string]Provider

func (r Registry) ForName(name string) (Provider, bool) {
	p, ok := r[name]
	return p, ok
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: constants.ProviderCallTimeout}
}
