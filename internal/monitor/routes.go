package monitor

import "net/http"

const (
	routeHealth    = "/health"
	routeStats     = "/stats"
	routeGames     = "/games"
	routeDashboard = "/dashboard"
	routeLogs      = "/logs"
)

// NewRouter creates an [http.ServeMux] with all monitoring routes registered.
// The dashboard feed is also served at the root.
func NewRouter(s *Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+routeHealth, s.handleHealth)
	mux.HandleFunc("GET "+routeStats, s.handleStats)
	mux.HandleFunc("GET "+routeGames, s.handleGames)
	mux.HandleFunc("GET "+routeDashboard, s.handleDashboard)
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET "+routeLogs, s.handleLogs)

	return mux
}
