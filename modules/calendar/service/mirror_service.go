package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/troy-samuels/tutor-space-sub004/core/cache"
	"github.com/troy-samuels/tutor-space-sub004/core/constants"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/provider"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/repository"
)

// MirrorService keeps provider calendars in step with the platform's
// bookings. Every operation is best-effort, idempotent and self-healing:
// the booking record is the source of truth, so no mirror outcome is ever
// allowed to fail a booking transaction. Results are reported, not raised.
type MirrorService interface {
	CreateForBooking(ctx context.Context, params dto.BookingEventParams) *dto.MirrorResult
	UpdateForBooking(ctx context.Context, params dto.BookingEventParams) *dto.MirrorResult
	CancelForBooking(ctx context.Context, params dto.BookingEventParams) *dto.MirrorResult
}

type mirrorService struct {
	connRepo  repository.ConnectionRepository
	eventRepo repository.EventCacheRepository
	tokens    TokenService
	providers provider.Registry
	memo      cache.Cache
}

func NewMirrorService(
	connRepo repository.ConnectionRepository,
	eventRepo repository.EventCacheRepository,
	tokens TokenService,
	providers provider.Registry,
	memo cache.Cache,
) MirrorService {
	return &mirrorService{
		connRepo:  connRepo,
		eventRepo: eventRepo,
		tokens:    tokens,
		providers: providers,
		memo:      memo,
	}
}

// bumpBusyMemo moves the tutor's busy-window memo generation forward so the
// next availability read recomputes. Every mirror pass can touch cached
// events (creates, adoptions, local cancels), including partially failed
// ones, so the bump is unconditional.
func (s *mirrorService) bumpBusyMemo(ctx context.Context, tutorID uuid.UUID) {
	s.memo.Set(ctx, busyMemoVersionKey(tutorID),
		strconv.FormatInt(time.Now().UnixNano(), 10), constants.BusyWindowsMemoTTL)
}

func success() *dto.MirrorResult {
	return &dto.MirrorResult{Success: true}
}

func failure(msg string) *dto.MirrorResult {
	return &dto.MirrorResult{Success: false, Error: msg}
}

func (s *mirrorService) CreateForBooking(ctx context.Context, params dto.BookingEventParams) *dto.MirrorResult {
	defer s.bumpBusyMemo(ctx, params.TutorID)

	links, err := s.eventRepo.GetLinksByBooking(ctx, params.BookingID)
	if err != nil {
		logger.Error("failed to read booking links", "booking_id", params.BookingID, "error", err)
	}
	if len(links) > 0 && !params.ForceCreate {
		// Already mirrored; repeat notifications are no-ops.
		return success()
	}

	// Events mirrored before link rows existed can be adopted instead of
	// duplicated.
	if len(links) == 0 {
		if adopted := s.adoptLegacyEvent(ctx, params, params.Start, params.End); adopted {
			return success()
		}
	}

	connections, err := s.connRepo.GetByTutor(ctx, params.TutorID)
	if err != nil {
		logger.Error("failed to load connections for mirror create",
			"booking_id", params.BookingID, "tutor_id", params.TutorID, "error", err)
		return failure("failed to load calendar connections")
	}

	attempted := 0
	succeeded := 0
	lastErr := ""
	for i := range connections {
		conn := &connections[i]
		if !conn.Syncable() {
			continue
		}
		attempted++
		if err := s.createOnConnection(ctx, conn, params); err != nil {
			lastErr = err.Error()
			logger.Error("mirror create failed on connection",
				"booking_id", params.BookingID, "provider", conn.Provider, "error", err)
			continue
		}
		succeeded++
	}

	// A tutor with no connected calendar is a legitimate state, not an
	// error. Failure means every connected provider refused us.
	if attempted == 0 || succeeded > 0 {
		return success()
	}
	return failure(lastErr)
}

func (s *mirrorService) createOnConnection(ctx context.Context, conn *entity.CalendarConnection, params dto.BookingEventParams) error {
	prov, ok := s.providers.ForName(conn.Provider)
	if !ok {
		return errors.New("no adapter registered for provider " + conn.Provider)
	}

	token, err := s.tokens.EnsureFreshAccessToken(ctx, conn)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no usable access token for provider " + conn.Provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()

	result, err := prov.CreateEvent(callCtx, token, eventParamsFromBooking(params))
	if err != nil {
		return err
	}

	s.recordMirroredEvent(ctx, conn, params, result, nil)
	return nil
}

// recordMirroredEvent upserts the cache row and link for a provider event
// that now exists. Persistence failures are logged only: the provider
// mutation already happened and the cache merely lags until the next sync.
func (s *mirrorService) recordMirroredEvent(ctx context.Context, conn *entity.CalendarConnection, params dto.BookingEventParams, result *provider.EventResult, existingLink *entity.BookingCalendarLink) {
	row := entity.CachedCalendarEvent{
		TutorID:         params.TutorID,
		Provider:        conn.Provider,
		CalendarEmail:   conn.CalendarEmail,
		ProviderEventID: result.ProviderEventID,
		CalendarID:      result.CalendarID,
		StartTime:       params.Start.UTC(),
		EndTime:         params.End.UTC(),
		Summary:         params.Title,
		Status:          entity.EventStatusConfirmed,
	}
	saved, err := s.eventRepo.UpsertEvent(ctx, &row)
	if err != nil {
		logger.Error("failed to cache mirrored event",
			"booking_id", params.BookingID, "provider", conn.Provider, "error", err)
		return
	}

	if existingLink != nil {
		if err := s.eventRepo.UpdateLinkProviderEventID(ctx, existingLink.ID, saved.ID, result.ProviderEventID); err != nil {
			logger.Error("failed to update booking link",
				"booking_id", params.BookingID, "provider", conn.Provider, "error", err)
		}
		return
	}

	link := entity.BookingCalendarLink{
		BookingID:       params.BookingID,
		TutorID:         params.TutorID,
		Provider:        conn.Provider,
		EventID:         saved.ID,
		ProviderEventID: result.ProviderEventID,
	}
	if _, err := s.eventRepo.CreateLink(ctx, &link); err != nil {
		logger.Error("failed to create booking link",
			"booking_id", params.BookingID, "provider", conn.Provider, "error", err)
	}
}

// adoptLegacyEvent links a pre-existing unlinked event that matches the
// booking's exact times and title prefix. First match wins.
func (s *mirrorService) adoptLegacyEvent(ctx context.Context, params dto.BookingEventParams, start, end time.Time) bool {
	match, err := s.eventRepo.FindUnlinkedMatch(ctx, params.TutorID, start.UTC(), end.UTC(), params.Title)
	if err != nil {
		logger.Error("legacy event lookup failed", "booking_id", params.BookingID, "error", err)
		return false
	}
	if match == nil {
		return false
	}

	link := entity.BookingCalendarLink{
		BookingID:       params.BookingID,
		TutorID:         params.TutorID,
		Provider:        match.Provider,
		EventID:         match.ID,
		ProviderEventID: match.ProviderEventID,
	}
	if _, err := s.eventRepo.CreateLink(ctx, &link); err != nil {
		logger.Error("failed to link legacy event", "booking_id", params.BookingID, "error", err)
		return false
	}

	logger.Info("adopted legacy calendar event for booking",
		"booking_id", params.BookingID, "provider", match.Provider, "provider_event_id", match.ProviderEventID)
	return true
}

func (s *mirrorService) UpdateForBooking(ctx context.Context, params dto.BookingEventParams) *dto.MirrorResult {
	defer s.bumpBusyMemo(ctx, params.TutorID)

	links, err := s.eventRepo.GetLinksByBooking(ctx, params.BookingID)
	if err != nil {
		logger.Error("failed to read booking links", "booking_id", params.BookingID, "error", err)
		return failure("failed to read booking links")
	}

	// No link rows: the booking may predate linking. Try to adopt the event
	// at its previous times before giving up.
	if len(links) == 0 && params.PreviousStart != nil && params.PreviousEnd != nil {
		if s.adoptLegacyEvent(ctx, params, *params.PreviousStart, *params.PreviousEnd) {
			links, _ = s.eventRepo.GetLinksByBooking(ctx, params.BookingID)
		}
	}

	if len(links) == 0 {
		if params.CreateIfMissing {
			return s.CreateForBooking(ctx, params)
		}
		return success()
	}

	attempted := 0
	succeeded := 0
	lastErr := ""
	for i := range links {
		link := &links[i]
		outcome, err := s.updateLinkedEvent(ctx, link, params)
		if outcome == mirrorSkipped {
			continue
		}
		attempted++
		if err != nil {
			lastErr = err.Error()
			logger.Error("mirror update failed on connection",
				"booking_id", params.BookingID, "provider", link.Provider, "error", err)
			continue
		}
		succeeded++
	}

	if attempted == 0 || succeeded > 0 {
		return success()
	}
	return failure(lastErr)
}

type mirrorOutcome int

const (
	mirrorApplied mirrorOutcome = iota
	mirrorSkipped
)

func (s *mirrorService) updateLinkedEvent(ctx context.Context, link *entity.BookingCalendarLink, params dto.BookingEventParams) (mirrorOutcome, error) {
	conn, err := s.connRepo.GetByTutorAndProvider(ctx, link.TutorID, link.Provider)
	if err != nil || conn == nil || !conn.Syncable() {
		// The connection went away or was disabled since the event was
		// mirrored: drop the mirrored event locally and move on.
		s.cancelLocally(ctx, link, "connection disabled")
		return mirrorSkipped, nil
	}

	prov, ok := s.providers.ForName(link.Provider)
	if !ok {
		s.cancelLocally(ctx, link, "no adapter registered")
		return mirrorSkipped, nil
	}

	token, err := s.tokens.EnsureFreshAccessToken(ctx, conn)
	if err != nil {
		return mirrorApplied, err
	}
	if token == "" {
		return mirrorApplied, errors.New("no usable access token for provider " + link.Provider)
	}

	ref := s.eventRef(ctx, link)
	callCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()

	result, err := prov.UpdateEvent(callCtx, token, ref, eventParamsFromBooking(params))
	if errors.Is(err, provider.ErrNotFound) {
		// The provider no longer has the event. Recreate it when the
		// booking is still live, otherwise reconcile by cancelling
		// locally. Either way this is steady-state, not a failure.
		if params.CreateIfMissing {
			createCtx, createCancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
			defer createCancel()
			recreated, createErr := prov.CreateEvent(createCtx, token, eventParamsFromBooking(params))
			if createErr != nil {
				return mirrorApplied, createErr
			}
			s.eventRepo.SoftDelete(ctx, link.TutorID, link.Provider, link.ProviderEventID)
			s.recordMirroredEvent(ctx, conn, params, recreated, link)
			return mirrorApplied, nil
		}
		s.cancelLocally(ctx, link, "provider reported event missing")
		return mirrorSkipped, nil
	}
	if err != nil {
		return mirrorApplied, err
	}

	s.recordMirroredEvent(ctx, conn, params, result, link)
	return mirrorApplied, nil
}

func (s *mirrorService) CancelForBooking(ctx context.Context, params dto.BookingEventParams) *dto.MirrorResult {
	defer s.bumpBusyMemo(ctx, params.TutorID)

	links, err := s.eventRepo.GetLinksByBooking(ctx, params.BookingID)
	if err != nil {
		logger.Error("failed to read booking links", "booking_id", params.BookingID, "error", err)
		return failure("failed to read booking links")
	}

	if len(links) == 0 {
		if s.adoptLegacyEvent(ctx, params, params.Start, params.End) {
			links, _ = s.eventRepo.GetLinksByBooking(ctx, params.BookingID)
		}
	}
	if len(links) == 0 {
		return success()
	}

	attempted := 0
	succeeded := 0
	lastErr := ""
	for i := range links {
		link := &links[i]
		outcome, err := s.deleteLinkedEvent(ctx, link)
		if outcome == mirrorSkipped {
			continue
		}
		attempted++
		if err != nil {
			lastErr = err.Error()
			logger.Error("mirror cancel failed on connection",
				"booking_id", params.BookingID, "provider", link.Provider, "error", err)
			continue
		}
		succeeded++
	}

	if attempted == 0 || succeeded > 0 {
		return success()
	}
	return failure(lastErr)
}

func (s *mirrorService) deleteLinkedEvent(ctx context.Context, link *entity.BookingCalendarLink) (mirrorOutcome, error) {
	conn, err := s.connRepo.GetByTutorAndProvider(ctx, link.TutorID, link.Provider)
	if err != nil || conn == nil || !conn.Syncable() {
		s.cancelLocally(ctx, link, "connection disabled")
		return mirrorSkipped, nil
	}

	prov, ok := s.providers.ForName(link.Provider)
	if !ok {
		s.cancelLocally(ctx, link, "no adapter registered")
		return mirrorSkipped, nil
	}

	token, err := s.tokens.EnsureFreshAccessToken(ctx, conn)
	if err != nil {
		return mirrorApplied, err
	}
	if token == "" {
		return mirrorApplied, errors.New("no usable access token for provider " + link.Provider)
	}

	ref := s.eventRef(ctx, link)
	callCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()

	err = prov.DeleteEvent(callCtx, token, ref)
	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		return mirrorApplied, err
	}

	// Deleted, or already gone on the provider side: both satisfied.
	s.cancelLocally(ctx, link, "")
	return mirrorApplied, nil
}

// cancelLocally soft-deletes the cached event and removes its booking link.
func (s *mirrorService) cancelLocally(ctx context.Context, link *entity.BookingCalendarLink, reason string) {
	if reason != "" {
		logger.Info("cancelling mirrored event locally",
			"booking_id", link.BookingID, "provider", link.Provider, "reason", reason)
	}
	if err := s.eventRepo.SoftDelete(ctx, link.TutorID, link.Provider, link.ProviderEventID); err != nil {
		logger.Error("failed to soft-delete cached event",
			"booking_id", link.BookingID, "provider", link.Provider, "error", err)
	}
	if err := s.eventRepo.DeleteLink(ctx, link.ID); err != nil {
		logger.Error("failed to delete booking link",
			"booking_id", link.BookingID, "provider", link.Provider, "error", err)
	}
}

// eventRef resolves the provider calendar id from the cached row when it is
// still present.
func (s *mirrorService) eventRef(ctx context.Context, link *entity.BookingCalendarLink) provider.EventRef {
	ref := provider.EventRef{ProviderEventID: link.ProviderEventID}
	if ev, err := s.eventRepo.GetByProviderEventID(ctx, link.TutorID, link.Provider, link.ProviderEventID); err == nil && ev != nil {
		ref.CalendarID = ev.CalendarID
	}
	return ref
}

func eventParamsFromBooking(params dto.BookingEventParams) provider.EventParams {
	return provider.EventParams{
		Title:         params.Title,
		Description:   params.Description,
		Location:      params.Location,
		Start:         params.Start,
		End:           params.End,
		Timezone:      params.Timezone,
		AttendeeEmail: params.StudentEmail,
	}
}
