package calendar

import (
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"github.com/troy-samuels/tutor-space-sub004/core/cache"
	"github.com/troy-samuels/tutor-space-sub004/core/config"
	"github.com/troy-samuels/tutor-space-sub004/core/crypto"
	"github.com/troy-samuels/tutor-space-sub004/core/database"
	"github.com/troy-samuels/tutor-space-sub004/core/middleware"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/controller"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/dto"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/provider"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/repository"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/router"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/service"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/tasks"
)

// Init wires the calendar module: HTTP routes on e and background handlers
// on mux.
func Init(e *echo.Echo, db database.IDatabase, memo cache.Cache, cipher crypto.TokenCipher, queue *asynq.Client, mux *asynq.ServeMux) {
	cfg, ok := config.GetSafe()
	if !ok {
		cfg = &config.Config{}
	}

	// Initialize layers
	connRepo := repository.NewConnectionRepository(db)
	eventRepo := repository.NewEventCacheRepository(db)

	providers := provider.Registry{
		dto.ProviderGoogle:  provider.NewGoogleProvider(),
		dto.ProviderOutlook: provider.NewOutlookProvider(),
	}

	tokenSvc := service.NewTokenService(connRepo, cipher, service.DefaultEndpoints(cfg.MicrosoftAPI.Tenant))
	busySvc := service.NewBusyWindowService(connRepo, eventRepo, tokenSvc, providers, memo)
	mirrorSvc := service.NewMirrorService(connRepo, eventRepo, tokenSvc, providers, memo)
	calendarSvc := service.NewCalendarService(connRepo, cipher)

	calendarController := controller.NewCalendarController(calendarSvc, busySvc, queue)

	// Service-token auth for the internal API
	mw := middleware.NewMiddleware(cfg.Auth.ServiceTokenSecret)

	// Setup routes
	router.NewCalendarRouter(calendarController).Setup(e, mw)

	// Background handlers
	tasks.NewHandler(mirrorSvc, busySvc, connRepo).Register(mux)
}
