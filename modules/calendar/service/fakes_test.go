package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/provider"
)

// fakeConnectionRepo is an in-memory ConnectionRepository.
type fakeConnectionRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*entity.CalendarConnection
}

func newFakeConnectionRepo(conns ...*entity.CalendarConnection) *fakeConnectionRepo {
	repo := &fakeConnectionRepo{conns: make(map[uuid.UUID]*entity.CalendarConnection)}
	for _, c := range conns {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		stored := *c
		repo.conns[c.ID] = &stored
	}
	return repo
}

func (r *fakeConnectionRepo) Create(ctx context.Context, conn *entity.CalendarConnection) (*entity.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.ID = uuid.New()
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = conn.CreatedAt
	stored := *conn
	r.conns[conn.ID] = &stored
	return conn, nil
}

func (r *fakeConnectionRepo) GetByTutorAndProvider(ctx context.Context, tutorID uuid.UUID, providerName string) (*entity.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.TutorID == tutorID && c.Provider == providerName {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeConnectionRepo) GetByTutor(ctx context.Context, tutorID uuid.UUID) ([]entity.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CalendarConnection
	for _, c := range r.conns {
		if c.TutorID == tutorID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) ListSyncableTutorIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, c := range r.conns {
		if c.Syncable() && !seen[c.TutorID] {
			seen[c.TutorID] = true
			out = append(out, c.TutorID)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) UpdateTokens(ctx context.Context, conn *entity.CalendarConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *conn
	r.conns[conn.ID] = &stored
	return nil
}

func (r *fakeConnectionRepo) UpdateTokensIfNewer(ctx context.Context, conn *entity.CalendarConnection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.conns[conn.ID]
	if !ok || !existing.TokenExpiresAt.Before(conn.TokenExpiresAt) {
		return false, nil
	}
	stored := *conn
	r.conns[conn.ID] = &stored
	return true, nil
}

func (r *fakeConnectionRepo) UpdateSyncState(ctx context.Context, id uuid.UUID, status string, lastError *string, lastSyncedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.SyncStatus = status
		c.LastError = lastError
		if lastSyncedAt != nil {
			c.LastSyncedAt = lastSyncedAt
		}
	}
	return nil
}

func (r *fakeConnectionRepo) Disable(ctx context.Context, tutorID uuid.UUID, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.TutorID == tutorID && c.Provider == providerName {
			c.SyncEnabled = false
			c.AccessToken = ""
			c.RefreshToken = nil
		}
	}
	return nil
}

func (r *fakeConnectionRepo) get(id uuid.UUID) *entity.CalendarConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		copied := *c
		return &copied
	}
	return nil
}

// fakeEventRepo is an in-memory EventCacheRepository with the same
// soft-delete and linking semantics as the postgres implementation.
type fakeEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*entity.CachedCalendarEvent
	links  map[uuid.UUID]*entity.BookingCalendarLink
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		events: make(map[uuid.UUID]*entity.CachedCalendarEvent),
		links:  make(map[uuid.UUID]*entity.BookingCalendarLink),
	}
}

func (r *fakeEventRepo) UpsertEvent(ctx context.Context, ev *entity.CachedCalendarEvent) (*entity.CachedCalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, existing := range r.events {
		if existing.DeletedAt == nil &&
			existing.TutorID == ev.TutorID &&
			existing.Provider == ev.Provider &&
			existing.ProviderEventID == ev.ProviderEventID {
			existing.StartTime = ev.StartTime
			existing.EndTime = ev.EndTime
			existing.Summary = ev.Summary
			existing.Status = ev.Status
			existing.AllDay = ev.AllDay
			existing.RecurringEventID = ev.RecurringEventID
			existing.LastSeenAt = now
			copied := *existing
			return &copied, nil
		}
	}
	stored := *ev
	stored.ID = uuid.New()
	stored.LastSeenAt = now
	r.events[stored.ID] = &stored
	copied := stored
	return &copied, nil
}

func (r *fakeEventRepo) UpsertEvents(ctx context.Context, events []entity.CachedCalendarEvent) error {
	for i := range events {
		if _, err := r.UpsertEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeEventRepo) ListLive(ctx context.Context, tutorID uuid.UUID, providerName string, from, to time.Time) ([]entity.CachedCalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CachedCalendarEvent
	for _, ev := range r.events {
		if ev.DeletedAt != nil || ev.TutorID != tutorID {
			continue
		}
		if providerName != "" && ev.Provider != providerName {
			continue
		}
		if ev.StartTime.Before(to) && ev.EndTime.After(from) {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) GetByProviderEventID(ctx context.Context, tutorID uuid.UUID, providerName, providerEventID string) (*entity.CachedCalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.DeletedAt == nil && ev.TutorID == tutorID && ev.Provider == providerName && ev.ProviderEventID == providerEventID {
			copied := *ev
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepo) SoftDelete(ctx context.Context, tutorID uuid.UUID, providerName, providerEventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.DeletedAt == nil && ev.TutorID == tutorID && ev.Provider == providerName && ev.ProviderEventID == providerEventID {
			now := time.Now()
			ev.DeletedAt = &now
			ev.Status = entity.EventStatusCancelled
		}
	}
	return nil
}

func (r *fakeEventRepo) FindUnlinkedMatch(ctx context.Context, tutorID uuid.UUID, start, end time.Time, titlePrefix string) (*entity.CachedCalendarEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	linked := make(map[uuid.UUID]bool)
	for _, l := range r.links {
		linked[l.EventID] = true
	}
	for _, ev := range r.events {
		if ev.DeletedAt != nil || ev.TutorID != tutorID || linked[ev.ID] {
			continue
		}
		if ev.StartTime.Equal(start) && ev.EndTime.Equal(end) && strings.HasPrefix(ev.Summary, titlePrefix) {
			copied := *ev
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeEventRepo) CreateLink(ctx context.Context, link *entity.BookingCalendarLink) (*entity.BookingCalendarLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link.ID = uuid.New()
	stored := *link
	r.links[link.ID] = &stored
	return link, nil
}

func (r *fakeEventRepo) GetLinksByBooking(ctx context.Context, bookingID uuid.UUID) ([]entity.BookingCalendarLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.BookingCalendarLink
	for _, l := range r.links {
		if l.BookingID == bookingID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) UpdateLinkProviderEventID(ctx context.Context, linkID uuid.UUID, eventID uuid.UUID, providerEventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.links[linkID]; ok {
		l.EventID = eventID
		l.ProviderEventID = providerEventID
	}
	return nil
}

func (r *fakeEventRepo) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, linkID)
	return nil
}

func (r *fakeEventRepo) liveEvents() []entity.CachedCalendarEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.CachedCalendarEvent
	for _, ev := range r.events {
		if ev.DeletedAt == nil {
			out = append(out, *ev)
		}
	}
	return out
}

func (r *fakeEventRepo) allLinks() []entity.BookingCalendarLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.BookingCalendarLink
	for _, l := range r.links {
		out = append(out, *l)
	}
	return out
}

func (r *fakeEventRepo) seed(ev entity.CachedCalendarEvent) entity.CachedCalendarEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.LastSeenAt.IsZero() {
		ev.LastSeenAt = time.Now()
	}
	if ev.Status == "" {
		ev.Status = entity.EventStatusConfirmed
	}
	stored := ev
	r.events[ev.ID] = &stored
	return ev
}

// stubTokenService hands out canned tokens per provider. An empty string
// means "credentials unusable".
type stubTokenService struct {
	tokens map[string]string
}

func (s *stubTokenService) EnsureFreshAccessToken(ctx context.Context, conn *entity.CalendarConnection) (string, error) {
	return s.tokens[conn.Provider], nil
}

// stubProvider is a scriptable provider.Provider.
type stubProvider struct {
	name       string
	listFn     func(ctx context.Context, token string, from, to time.Time) ([]provider.Event, error)
	createFn   func(ctx context.Context, token string, params provider.EventParams) (*provider.EventResult, error)
	updateFn   func(ctx context.Context, token string, ref provider.EventRef, params provider.EventParams) (*provider.EventResult, error)
	deleteFn   func(ctx context.Context, token string, ref provider.EventRef) error
	listCalls  int
	createCall int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) ListEvents(ctx context.Context, token string, from, to time.Time) ([]provider.Event, error) {
	p.listCalls++
	if p.listFn == nil {
		return nil, nil
	}
	return p.listFn(ctx, token, from, to)
}

func (p *stubProvider) CreateEvent(ctx context.Context, token string, params provider.EventParams) (*provider.EventResult, error) {
	p.createCall++
	if p.createFn == nil {
		return &provider.EventResult{ProviderEventID: "stub-created", CalendarID: "primary"}, nil
	}
	return p.createFn(ctx, token, params)
}

func (p *stubProvider) UpdateEvent(ctx context.Context, token string, ref provider.EventRef, params provider.EventParams) (*provider.EventResult, error) {
	if p.updateFn == nil {
		return &provider.EventResult{ProviderEventID: ref.ProviderEventID, CalendarID: ref.CalendarID}, nil
	}
	return p.updateFn(ctx, token, ref, params)
}

func (p *stubProvider) DeleteEvent(ctx context.Context, token string, ref provider.EventRef) error {
	if p.deleteFn == nil {
		return nil
	}
	return p.deleteFn(ctx, token, ref)
}
