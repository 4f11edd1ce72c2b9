package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/database"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
)

// EventCacheRepository is the durable mirror of provider events plus the
// booking link rows. Event rows are only ever soft-deleted; retention and
// erasure belong to an external policy job.
type EventCacheRepository interface {
	UpsertEvent(ctx context.Context, ev *entity.CachedCalendarEvent) (*entity.CachedCalendarEvent, error)
	UpsertEvents(ctx context.Context, events []entity.CachedCalendarEvent) error
	ListLive(ctx context.Context, tutorID uuid.UUID, provider string, from, to time.Time) ([]entity.CachedCalendarEvent, error)
	GetByProviderEventID(ctx context.Context, tutorID uuid.UUID, provider, providerEventID string) (*entity.CachedCalendarEvent, error)
	SoftDelete(ctx context.Context, tutorID uuid.UUID, provider, providerEventID string) error

	// FindUnlinkedMatch locates a live event with the exact start/end whose
	// summary begins with titlePrefix and which no booking link references.
	// Best-effort legacy reattachment; first match wins.
	FindUnlinkedMatch(ctx context.Context, tutorID uuid.UUID, start, end time.Time, titlePrefix string) (*entity.CachedCalendarEvent, error)

	CreateLink(ctx context.Context, link *entity.BookingCalendarLink) (*entity.BookingCalendarLink, error)
	GetLinksByBooking(ctx context.Context, bookingID uuid.UUID) ([]entity.BookingCalendarLink, error)
	UpdateLinkProviderEventID(ctx context.Context, linkID uuid.UUID, eventID uuid.UUID, providerEventID string) error
	DeleteLink(ctx context.Context, linkID uuid.UUID) error
}

type eventCacheRepository struct {
	db database.IDatabase
}

func NewEventCacheRepository(db database.IDatabase) EventCacheRepository {
	return &eventCacheRepository{db: db}
}

const upsertEventQuery = `
	INSERT INTO cached_calendar_events
		(tutor_id, provider, calendar_email, provider_event_id, calendar_id,
		 start_time, end_time, summary, status, recurring_event_id, all_day, last_seen_at, deleted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NULL)
	ON CONFLICT (tutor_id, provider, provider_event_id) WHERE deleted_at IS NULL
	DO UPDATE SET
		calendar_email     = EXCLUDED.calendar_email,
		calendar_id        = EXCLUDED.calendar_id,
		start_time         = EXCLUDED.start_time,
		end_time           = EXCLUDED.end_time,
		summary            = EXCLUDED.summary,
		status             = EXCLUDED.status,
		recurring_event_id = EXCLUDED.recurring_event_id,
		all_day            = EXCLUDED.all_day,
		last_seen_at       = NOW(),
		deleted_at         = NULL,
		updated_at         = NOW()
	RETURNING id, last_seen_at, created_at, updated_at
`

func (r *eventCacheRepository) UpsertEvent(ctx context.Context, ev *entity.CachedCalendarEvent) (*entity.CachedCalendarEvent, error) {
	err := r.db.QueryRowContext(ctx, upsertEventQuery,
		ev.TutorID, ev.Provider, ev.CalendarEmail, ev.ProviderEventID, ev.CalendarID,
		ev.StartTime, ev.EndTime, ev.Summary, ev.Status, ev.RecurringEventID, ev.AllDay,
	).Scan(&ev.ID, &ev.LastSeenAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.DeletedAt = nil
	return ev, nil
}

func (r *eventCacheRepository) UpsertEvents(ctx context.Context, events []entity.CachedCalendarEvent) error {
	for i := range events {
		if _, err := r.UpsertEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *eventCacheRepository) ListLive(ctx context.Context, tutorID uuid.UUID, provider string, from, to time.Time) ([]entity.CachedCalendarEvent, error) {
	query := `
		SELECT id, tutor_id, provider, calendar_email, provider_event_id, calendar_id,
		       start_time, end_time, summary, status, recurring_event_id, all_day,
		       last_seen_at, deleted_at, created_at, updated_at
		FROM cached_calendar_events
		WHERE tutor_id = $1
		  AND ($2 = '' OR provider = $2)
		  AND deleted_at IS NULL
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time ASC
	`
	var events []entity.CachedCalendarEvent
	if err := r.db.SelectContext(ctx, &events, query, tutorID, provider, from, to); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventCacheRepository) GetByProviderEventID(ctx context.Context, tutorID uuid.UUID, provider, providerEventID string) (*entity.CachedCalendarEvent, error) {
	query := `
		SELECT id, tutor_id, provider, calendar_email, provider_event_id, calendar_id,
		       start_time, end_time, summary, status, recurring_event_id, all_day,
		       last_seen_at, deleted_at, created_at, updated_at
		FROM cached_calendar_events
		WHERE tutor_id = $1 AND provider = $2 AND provider_event_id = $3 AND deleted_at IS NULL
	`
	var ev entity.CachedCalendarEvent
	if err := r.db.GetContext(ctx, &ev, query, tutorID, provider, providerEventID); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *eventCacheRepository) SoftDelete(ctx context.Context, tutorID uuid.UUID, provider, providerEventID string) error {
	query := `
		UPDATE cached_calendar_events
		SET deleted_at = NOW(), status = 'cancelled', updated_at = NOW()
		WHERE tutor_id = $1 AND provider = $2 AND provider_event_id = $3 AND deleted_at IS NULL
	`
	return r.db.ExecContext(ctx, query, tutorID, provider, providerEventID)
}

func (r *eventCacheRepository) FindUnlinkedMatch(ctx context.Context, tutorID uuid.UUID, start, end time.Time, titlePrefix string) (*entity.CachedCalendarEvent, error) {
	query := `
		SELECT e.id, e.tutor_id, e.provider, e.calendar_email, e.provider_event_id, e.calendar_id,
		       e.start_time, e.end_time, e.summary, e.status, e.recurring_event_id, e.all_day,
		       e.last_seen_at, e.deleted_at, e.created_at, e.updated_at
		FROM cached_calendar_events e
		LEFT JOIN booking_calendar_links l ON l.event_id = e.id
		WHERE e.tutor_id = $1
		  AND e.deleted_at IS NULL
		  AND e.start_time = $2
		  AND e.end_time = $3
		  AND e.summary LIKE $4 || '%'
		  AND l.id IS NULL
		ORDER BY e.created_at ASC
		LIMIT 1
	`
	var ev entity.CachedCalendarEvent
	err := r.db.GetContext(ctx, &ev, query, tutorID, start, end, titlePrefix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func (r *eventCacheRepository) CreateLink(ctx context.Context, link *entity.BookingCalendarLink) (*entity.BookingCalendarLink, error) {
	query := `
		INSERT INTO booking_calendar_links (booking_id, tutor_id, provider, event_id, provider_event_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		link.BookingID, link.TutorID, link.Provider, link.EventID, link.ProviderEventID,
	).Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *eventCacheRepository) GetLinksByBooking(ctx context.Context, bookingID uuid.UUID) ([]entity.BookingCalendarLink, error) {
	query := `
		SELECT id, booking_id, tutor_id, provider, event_id, provider_event_id, created_at, updated_at
		FROM booking_calendar_links
		WHERE booking_id = $1
		ORDER BY created_at ASC
	`
	var links []entity.BookingCalendarLink
	if err := r.db.SelectContext(ctx, &links, query, bookingID); err != nil {
		return nil, err
	}
	return links, nil
}

func (r *eventCacheRepository) UpdateLinkProviderEventID(ctx context.Context, linkID uuid.UUID, eventID uuid.UUID, providerEventID string) error {
	query := `
		UPDATE booking_calendar_links
		SET event_id = $1, provider_event_id = $2, updated_at = NOW()
		WHERE id = $3
	`
	return r.db.ExecContext(ctx, query, eventID, providerEventID, linkID)
}

func (r *eventCacheRepository) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM booking_calendar_links WHERE id = $1`, linkID)
}
