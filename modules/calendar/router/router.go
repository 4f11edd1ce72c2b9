package router

import (
	"github.com/labstack/echo/v4"

	"github.com/troy-samuels/tutor-space-sub004/core/middleware"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/controller"
)

type CalendarRouter struct {
	controller *controller.CalendarController
}

func NewCalendarRouter(controller *controller.CalendarController) *CalendarRouter {
	return &CalendarRouter{
		controller: controller,
	}
}

func (r *CalendarRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")

	// Internal routes, callable by the booking and availability services
	// with a service token.
	internal := v1.Group("/internal")
	internal.Use(mw.ServiceAuthMiddleware())

	// Availability and the unified calendar view
	tutorRoutes := internal.Group("/tutors/:id")
	tutorRoutes.GET("/busy-windows", r.controller.GetBusyWindows)
	tutorRoutes.GET("/busy-windows/status", r.controller.GetBusyWindowsStatus)
	tutorRoutes.GET("/events", r.controller.GetEvents)

	// Connection lifecycle
	tutorRoutes.GET("/connections", r.controller.GetConnections)
	tutorRoutes.POST("/connections", r.controller.SaveConnection)
	tutorRoutes.DELETE("/connections/:provider", r.controller.DisableConnection)

	// Booking event mirroring
	bookingRoutes := internal.Group("/bookings/:id")
	bookingRoutes.POST("/calendar-event", r.controller.MirrorCreate)
	bookingRoutes.PUT("/calendar-event", r.controller.MirrorUpdate)
	bookingRoutes.DELETE("/calendar-event", r.controller.MirrorCancel)
}
