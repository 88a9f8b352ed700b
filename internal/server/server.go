package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/weeme/internal/backup"
	"github.com/dukerupert/weeme/internal/billing"
	"github.com/dukerupert/weeme/internal/config"
	"github.com/dukerupert/weeme/internal/handler"
	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/middleware"
	"github.com/dukerupert/weeme/internal/records"
	"github.com/dukerupert/weeme/internal/scan"
	"github.com/dukerupert/weeme/internal/session"
	ws "github.com/dukerupert/weeme/internal/websocket"
)

// Deps are the long-lived services the HTTP API is built on.
type Deps struct {
	Config   *config.Config
	Sessions *session.Manager
	Reports  *records.Reports
	Tracking *records.Tracking
	Scans    *scan.Service
	Billing  *billing.Service
	Backups  *backup.Manager
	Hub      *ws.Hub
	// Store is watched for record cache changes; nil disables forwarding.
	Store kv.Store

	// Registry receives the HTTP metrics; Gatherer backs /metrics. Both
	// default to the process-wide prometheus registry.
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer

	// OriginPatterns are the extra origins allowed to open /ws.
	OriginPatterns []string
}

type Server struct {
	deps        Deps
	hub         *ws.Hub
	accountH    *handler.AccountHandler
	recordsH    *handler.RecordsHandler
	scanH       *handler.ScanHandler
	billingH    *handler.BillingHandler
	systemH     *handler.SystemHandler
	rateLimiter *middleware.RateLimiter
	metrics     func(http.Handler) http.Handler
	stops       []func()
	logger      *slog.Logger
}

// New builds the server and starts forwarding session and record changes to
// websocket clients. Call Close to stop forwarding.
func New(deps Deps, logger *slog.Logger) *Server {
	if deps.Registry == nil {
		deps.Registry = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	hub := deps.Hub
	if hub == nil {
		hub = ws.NewHub(logger.With("component", "websocket"))
	}

	s := &Server{
		deps:        deps,
		hub:         hub,
		accountH:    handler.NewAccountHandler(deps.Sessions, logger.With("component", "account")),
		recordsH:    handler.NewRecordsHandler(deps.Sessions, deps.Reports, deps.Tracking, logger.With("component", "records")),
		scanH:       handler.NewScanHandler(deps.Scans, logger.With("component", "scan")),
		billingH:    handler.NewBillingHandler(deps.Billing, logger.With("component", "billing")),
		systemH:     handler.NewSystemHandler(deps.Config, deps.Backups, logger.With("component", "system")),
		rateLimiter: middleware.NewRateLimiter(),
		metrics:     middleware.Metrics(deps.Registry),
		logger:      logger,
	}

	s.stops = append(s.stops, ws.ForwardSession(hub, deps.Sessions))
	if deps.Store != nil {
		s.stops = append(s.stops, ws.ForwardRecords(hub, deps.Store))
	}
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupStatusBroadcaster returns a callback that pushes backup state to tabs.
func BackupStatusBroadcaster(hub *ws.Hub) backup.StatusCallback {
	return func(st backup.Status) {
		hub.Broadcast(ws.NewMessage("backup", string(st.State), "", st))
	}
}

// Close stops forwarding changes to the hub.
func (s *Server) Close() {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.Handle("POST /api/login", s.rateLimitedHandler(s.accountH.Login))
	mux.Handle("POST /api/register", s.rateLimitedHandler(s.accountH.Register))
	mux.HandleFunc("POST /api/logout", s.accountH.Logout)
	mux.HandleFunc("GET /api/me", s.accountH.Me)
	mux.HandleFunc("GET /api/config", s.systemH.Config)
	mux.HandleFunc("GET /api/billing/packages", s.billingH.Packages)
	mux.HandleFunc("GET /health", s.systemH.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.deps.OriginPatterns, s.logger.With("component", "websocket")))

	s.registerProtectedRoutes(mux)

	return middleware.RequestID(
		middleware.RequestLogger(s.logger.With("component", "http"))(
			s.metrics(mux)))
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.Handler {
	return middleware.LimitSignIn(s.rateLimiter, middleware.SignInPolicy)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	auth := middleware.RequireSession(s.deps.Sessions)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(h))
	}

	// Account
	protect("POST /api/me/refresh", s.accountH.Refresh)
	protect("POST /api/credits", s.accountH.Credits)
	protect("POST /api/membership", s.accountH.Membership)
	protect("POST /api/billing/purchase", s.billingH.Purchase)

	// Scans and reports
	protect("POST /api/scan", s.scanH.Scan)
	protect("GET /api/reports", s.recordsH.ListReports)
	protect("GET /api/stats", s.recordsH.Stats)

	// Tracking codes
	protect("GET /api/tracking-codes", s.recordsH.ListTracking)
	protect("POST /api/tracking-codes", s.recordsH.CreateTracking)
	protect("GET /api/tracking-codes/due", s.recordsH.DueTracking)
	protect("DELETE /api/tracking-codes/{id}", s.recordsH.DeleteTracking)

	// Backups
	protect("GET /api/backups", s.systemH.ListBackups)
	protect("POST /api/backups", s.systemH.RunBackup)
	protect("GET /api/backups/status", s.systemH.BackupStatus)
}
