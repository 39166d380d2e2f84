package routes

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	"GOSAFE_BACK-END/internal/config"
	"GOSAFE_BACK-END/internal/handlers"
	"GOSAFE_BACK-END/internal/metrics"
	"GOSAFE_BACK-END/internal/middleware"
)

// Handlers groups every HTTP handler the service exposes
type Handlers struct {
	Health        *handlers.HealthHandler
	Locations     *handlers.LocationsHandler
	Journeys      *handlers.JourneysHandler
	Positions     *handlers.PositionsHandler
	Companions    *handlers.CompanionsHandler
	Notifications *handlers.NotificationsHandler
}

// SetupRoutes configures all application routes on a new mux
func SetupRoutes(h Handlers, jwtCfg *config.JWTConfig) *http.ServeMux {
	mux := http.NewServeMux()
	auth := func(fn http.HandlerFunc) http.HandlerFunc { return middleware.AuthMiddleware(fn, jwtCfg) }

	// Health check routes
	mux.HandleFunc("GET /healthz", h.Health.HealthCheck)
	mux.HandleFunc("GET /livez", h.Health.LivenessCheck)
	mux.HandleFunc("GET /readyz", h.Health.ReadinessCheck)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /swagger/", httpSwagger.WrapHandler)

	// Locations
	mux.HandleFunc("POST /api/locations", auth(h.Locations.CreateLocation))
	mux.HandleFunc("GET /api/locations/{id}", auth(h.Locations.GetLocation))

	// Journeys and participations
	mux.HandleFunc("POST /api/journeys", auth(h.Journeys.CreateJourney))
	mux.HandleFunc("GET /api/journeys/{id}", auth(h.Journeys.GetJourney))
	mux.HandleFunc("POST /api/journeys/{id}/state", auth(h.Journeys.TransitionState))
	mux.HandleFunc("POST /api/journeys/{id}/join", auth(h.Journeys.Join))
	mux.HandleFunc("GET /api/journeys/{id}/participations", auth(h.Journeys.ListParticipations))
	mux.HandleFunc("GET /api/groups/{groupId}/journeys", auth(h.Journeys.ListGroupJourneys))
	mux.HandleFunc("POST /api/participations/{id}/accept", auth(h.Journeys.AcceptParticipation))
	mux.HandleFunc("POST /api/participations/{id}/decline", auth(h.Journeys.DeclineParticipation))
	mux.HandleFunc("POST /api/participations/{id}/sharing", auth(h.Journeys.SetSharing))

	// Positions
	mux.HandleFunc("POST /api/journeys/{id}/positions", auth(h.Positions.Append))
	mux.HandleFunc("GET /api/journeys/{id}/positions", auth(h.Positions.ReadRecent))
	mux.HandleFunc("GET /api/journeys/{id}/positions/stream", auth(h.Positions.Stream))

	// Companion requests
	mux.HandleFunc("POST /api/companions", auth(h.Companions.CreateCompanion))
	mux.HandleFunc("GET /api/companions", auth(h.Companions.ListCompanions))
	mux.HandleFunc("GET /api/companions/{id}", auth(h.Companions.GetCompanion))
	mux.HandleFunc("POST /api/companions/{id}/apply", auth(h.Companions.Apply))
	mux.HandleFunc("POST /api/companions/{id}/accept", auth(h.Companions.Accept))
	mux.HandleFunc("POST /api/companions/{id}/reject", auth(h.Companions.Reject))
	mux.HandleFunc("POST /api/companions/{id}/finish", auth(h.Companions.Finish))
	mux.HandleFunc("POST /api/companions/{id}/cancel", auth(h.Companions.Cancel))
	mux.HandleFunc("POST /api/companions/{id}/repair", auth(h.Companions.Repair))

	// Notifications
	mux.HandleFunc("GET /api/notifications", auth(h.Notifications.ListNotifications))
	mux.HandleFunc("POST /api/notifications/read-all", auth(h.Notifications.MarkAllRead))
	mux.HandleFunc("POST /api/notifications/{id}/read", auth(h.Notifications.MarkRead))

	// Root route
	mux.HandleFunc("GET /{$}", rootHandler)
	return mux
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("GoSafe backend is running."))
}
