package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/troy-samuels/tutor-space-sub004/core/cache"
	"github.com/troy-samuels/tutor-space-sub004/core/constants"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/entity"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/provider"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/repository"
)

// BusyWindowService aggregates busy intervals across every syncable
// connection of a tutor, falling back to the durable cache when a provider
// cannot be reached. The booking page must never see a slot that is actually
// busy, so cached data is always preferred over no data.
type BusyWindowService interface {
	GetBusyWindows(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) ([]dto.TimeWindow, error)
	GetBusyWindowsWithStatus(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) (*dto.BusyWindowsReport, error)
	GetEventsWithDetails(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) ([]dto.CalendarEventView, error)
}

type busyWindowService struct {
	connRepo  repository.ConnectionRepository
	eventRepo repository.EventCacheRepository
	tokens    TokenService
	providers provider.Registry
	memo      cache.Cache
}

func NewBusyWindowService(
	connRepo repository.ConnectionRepository,
	eventRepo repository.EventCacheRepository,
	tokens TokenService,
	providers provider.Registry,
	memo cache.Cache,
) BusyWindowService {
	return &busyWindowService{
		connRepo:  connRepo,
		eventRepo: eventRepo,
		tokens:    tokens,
		providers: providers,
		memo:      memo,
	}
}

type connectionResult struct {
	provider   string
	windows    []dto.TimeWindow
	stale      bool
	unverified bool
}

// busyMemoVersionKey holds a per-tutor generation marker. Mirror operations
// bump it so memoized busy windows never outlive a booking change; the
// start/days-parameterized memo keys themselves cannot be enumerated for
// deletion.
func busyMemoVersionKey(tutorID uuid.UUID) string {
	return fmt.Sprintf("calendar:busy:ver:%s", tutorID)
}

func (s *busyWindowService) GetBusyWindows(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) ([]dto.TimeWindow, error) {
	version, ok := s.memo.Get(ctx, busyMemoVersionKey(tutorID))
	if !ok {
		version = "0"
	}
	memoKey := fmt.Sprintf("calendar:busy:%s:%s:%d:%d", tutorID, version, start.UTC().Unix(), days)
	if raw, ok := s.memo.Get(ctx, memoKey); ok {
		var windows []dto.TimeWindow
		if err := json.Unmarshal([]byte(raw), &windows); err == nil {
			return windows, nil
		}
	}

	report, err := s.GetBusyWindowsWithStatus(ctx, tutorID, start, days)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(report.Windows); err == nil {
		s.memo.Set(ctx, memoKey, string(encoded), constants.BusyWindowsMemoTTL)
	}
	return report.Windows, nil
}

func (s *busyWindowService) GetBusyWindowsWithStatus(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) (*dto.BusyWindowsReport, error) {
	from := start.UTC()
	to := from.Add(time.Duration(days) * 24 * time.Hour)

	connections, err := s.connRepo.GetByTutor(ctx, tutorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	report := &dto.BusyWindowsReport{
		Windows:             []dto.TimeWindow{},
		StaleProviders:      []string{},
		UnverifiedProviders: []string{},
	}

	var syncable []entity.CalendarConnection
	for _, conn := range connections {
		if conn.Syncable() {
			syncable = append(syncable, conn)
		}
	}
	if len(syncable) == 0 {
		return report, nil
	}

	// Connections fan out independently: each owns its network call and its
	// own rows, so per-connection failures never cross over.
	results := make([]connectionResult, len(syncable))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(constants.MaxConcurrentConnections)
	for i := range syncable {
		g.Go(func() error {
			results[i] = s.collectConnection(groupCtx, &syncable[i], from, to)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		report.Windows = append(report.Windows, res.windows...)
		if res.stale {
			report.StaleProviders = append(report.StaleProviders, res.provider)
		}
		if res.unverified {
			report.UnverifiedProviders = append(report.UnverifiedProviders, res.provider)
		}
	}

	sort.Slice(report.Windows, func(i, j int) bool {
		return report.Windows[i].Start.Before(report.Windows[j].Start)
	})
	return report, nil
}

// collectConnection produces the busy windows for one connection, live when
// possible, cached otherwise. It never fails: the worst case is an empty,
// unverified result.
func (s *busyWindowService) collectConnection(ctx context.Context, conn *entity.CalendarConnection, from, to time.Time) connectionResult {
	res := connectionResult{provider: conn.Provider}

	token, err := s.tokens.EnsureFreshAccessToken(ctx, conn)
	if err != nil {
		logger.Error("token refresh failed unexpectedly",
			"connection_id", conn.ID, "provider", conn.Provider, "error", err)
		token = ""
	}
	if token == "" {
		res.windows, res.stale = s.cachedWindows(ctx, conn, from, to)
		res.unverified = true
		return res
	}

	prov, ok := s.providers.ForName(conn.Provider)
	if !ok {
		logger.Warn("no adapter registered for provider", "provider", conn.Provider)
		res.windows, res.stale = s.cachedWindows(ctx, conn, from, to)
		res.unverified = true
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()

	events, err := prov.ListEvents(callCtx, token, from, to)
	if err != nil {
		msg := err.Error()
		logger.Error("live listing failed, serving cached windows",
			"connection_id", conn.ID, "provider", conn.Provider, "error", err)
		if updateErr := s.connRepo.UpdateSyncState(ctx, conn.ID, entity.SyncStatusError, &msg, nil); updateErr != nil {
			logger.Error("failed to persist sync error", "connection_id", conn.ID, "error", updateErr)
		}
		res.windows, res.stale = s.cachedWindows(ctx, conn, from, to)
		res.unverified = true
		return res
	}

	s.persistLiveEvents(ctx, conn, events)

	res.windows = make([]dto.TimeWindow, 0, len(events))
	for _, ev := range events {
		res.windows = append(res.windows, dto.TimeWindow{Start: ev.Start, End: ev.End})
	}
	return res
}

func (s *busyWindowService) persistLiveEvents(ctx context.Context, conn *entity.CalendarConnection, events []provider.Event) {
	if len(events) > 0 {
		rows := make([]entity.CachedCalendarEvent, 0, len(events))
		for _, ev := range events {
			rows = append(rows, cachedEventFromProvider(conn, ev))
		}
		if err := s.eventRepo.UpsertEvents(ctx, rows); err != nil {
			// The live answer is already in hand; a cache write failure
			// only means the fallback lags until the next sync.
			logger.Error("failed to upsert cached events",
				"connection_id", conn.ID, "provider", conn.Provider, "error", err)
		}
	}

	var syncedAt *time.Time
	if len(events) > 0 {
		now := time.Now().UTC()
		syncedAt = &now
	}
	if err := s.connRepo.UpdateSyncState(ctx, conn.ID, entity.SyncStatusHealthy, nil, syncedAt); err != nil {
		logger.Error("failed to persist sync success", "connection_id", conn.ID, "error", err)
	}
}

// cachedWindows serves the durable cache for one connection and reports
// whether the data is older than the freshness threshold.
func (s *busyWindowService) cachedWindows(ctx context.Context, conn *entity.CalendarConnection, from, to time.Time) ([]dto.TimeWindow, bool) {
	events, err := s.eventRepo.ListLive(ctx, conn.TutorID, conn.Provider, from, to)
	if err != nil {
		logger.Error("cache read failed", "connection_id", conn.ID, "provider", conn.Provider, "error", err)
		return nil, false
	}

	windows := make([]dto.TimeWindow, 0, len(events))
	var newestSeen time.Time
	for _, ev := range events {
		windows = append(windows, dto.TimeWindow{Start: ev.StartTime, End: ev.EndTime})
		if ev.LastSeenAt.After(newestSeen) {
			newestSeen = ev.LastSeenAt
		}
	}

	stale := len(windows) > 0 && time.Since(newestSeen) > constants.CacheStaleThreshold
	return windows, stale
}

func (s *busyWindowService) GetEventsWithDetails(ctx context.Context, tutorID uuid.UUID, start time.Time, days int) ([]dto.CalendarEventView, error) {
	// Refresh first so the view reflects the latest reachable state.
	if _, err := s.GetBusyWindowsWithStatus(ctx, tutorID, start, days); err != nil {
		return nil, err
	}

	from := start.UTC()
	to := from.Add(time.Duration(days) * 24 * time.Hour)
	events, err := s.eventRepo.ListLive(ctx, tutorID, "", from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached events: %w", err)
	}

	views := make([]dto.CalendarEventView, 0, len(events))
	for _, ev := range events {
		if ev.Status == entity.EventStatusCancelled {
			continue
		}
		views = append(views, dto.CalendarEventView{
			Title:  ev.Summary,
			Start:  ev.StartTime,
			End:    ev.EndTime,
			AllDay: ev.AllDay,
			Source: dto.ProviderLabel(ev.Provider),
		})
	}
	return views, nil
}

func cachedEventFromProvider(conn *entity.CalendarConnection, ev provider.Event) entity.CachedCalendarEvent {
	var recurring *string
	if ev.RecurringEventID != "" {
		recurring = &ev.RecurringEventID
	}
	return entity.CachedCalendarEvent{
		TutorID:          conn.TutorID,
		Provider:         conn.Provider,
		CalendarEmail:    conn.CalendarEmail,
		ProviderEventID:  ev.ProviderEventID,
		CalendarID:       ev.CalendarID,
		StartTime:        ev.Start,
		EndTime:          ev.End,
		Summary:          ev.Summary,
		Status:           ev.Status,
		RecurringEventID: recurring,
		AllDay:           ev.AllDay,
	}
}
