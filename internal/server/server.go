// Package server exposes the booking form and staff endpoints over HTTP
// using goa's muxer and middleware.
package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/http/middleware"

	"talwar/internal/booking"
	"talwar/internal/config"
	"talwar/internal/domain"
	"talwar/internal/metrics"
	"talwar/internal/services"
)

const maxBodyBytes = 64 << 10

// Server routes HTTP requests to the services
type Server struct {
	cfg      *config.Config
	bookings *services.BookingService
	auth     *services.AuthService
	health   *services.HealthService
	limiter  *ipRateLimiter
	clients  clientResolver
	logger   *zap.Logger
	mux      goahttp.Muxer
	handler  http.Handler
}

// SessionResponse is a booking form state tagged with its session id
type SessionResponse struct {
	SessionID string `json:"session_id"`
	booking.State
}

// FieldRequest is the body of a field update
type FieldRequest struct {
	Value string `json:"value"`
}

// LoginRequest is the body of a staff login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// New mounts every route and builds the middleware chain
func New(cfg *config.Config, bookings *services.BookingService, auth *services.AuthService, health *services.HealthService, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		bookings: bookings,
		auth:     auth,
		health:   health,
		limiter:  newIPRateLimiter(cfg.Booking.SubmitRatePerMin, cfg.Booking.SubmitBurst),
		logger:   logger.Named("http"),
		mux:      goahttp.NewMuxer(),
	}
	proxies, err := config.ParseTrustedProxies(cfg.App.TrustedProxies)
	if err != nil {
		s.logger.Warn("ignoring TRUSTED_PROXIES, forwarding headers will not be trusted", zap.Error(err))
	}
	s.clients = clientResolver{trusted: proxies}
	s.mount()

	// Security -> CORS -> request id -> logging -> Prometheus -> mux
	var h http.Handler = s.root()
	h = metrics.PrometheusMiddleware(h)
	h = requestLogging(s.logger, s.clients)(h)
	h = middleware.PopulateRequestContext()(h)
	h = middleware.RequestID()(h)
	h = setupCORS(h, cfg)
	h = setupSecurityHeaders(h, cfg)
	s.handler = h
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) root() http.Handler {
	promHandler := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			promHandler.ServeHTTP(w, r)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) mount() {
	staff := services.RequireScope(s.auth, domain.RoleStaff, s.writeError)

	s.mux.Handle(http.MethodGet, "/health", s.handleHealth)

	s.mux.Handle(http.MethodPost, "/api/v1/booking/sessions", s.handleOpenSession)
	s.mux.Handle(http.MethodGet, "/api/v1/booking/sessions/{id}", s.handleGetSession)
	s.mux.Handle(http.MethodDelete, "/api/v1/booking/sessions/{id}", s.handleCloseSession)
	s.mux.Handle(http.MethodPut, "/api/v1/booking/sessions/{id}/fields/{field}", s.handleUpdateField)
	s.mux.Handle(http.MethodPost, "/api/v1/booking/sessions/{id}/submit", s.rateLimited(s.handleSubmitSession))
	s.mux.Handle(http.MethodPost, "/api/v1/booking/submit", s.rateLimited(s.handleBook))
	s.mux.Handle(http.MethodGet, "/api/v1/booking/", staff(http.HandlerFunc(s.handleListBookings)).ServeHTTP)

	s.mux.Handle(http.MethodPost, "/api/v1/auth/login", s.rateLimited(s.handleLogin))
	s.mux.Handle(http.MethodGet, "/api/v1/auth/me", staff(http.HandlerFunc(s.handleMe)).ServeHTTP)
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.clients.clientIP(r)
		if !s.limiter.Allow(ip) {
			s.logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "60")
			s.writeError(r.Context(), w, services.RateLimited("too many requests, try again later"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, s.health.Check(r.Context()))
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	id, st, err := s.bookings.OpenSession(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/booking/sessions/"+id)
	s.encode(r.Context(), w, http.StatusCreated, SessionResponse{SessionID: id, State: st})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := s.mux.Vars(r)["id"]
	st, err := s.bookings.Session(r.Context(), id)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, SessionResponse{SessionID: id, State: st})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.bookings.CloseSession(r.Context(), s.mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	vars := s.mux.Vars(r)
	var body FieldRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	st, err := s.bookings.UpdateField(r.Context(), vars["id"], booking.Field(vars["field"]), body.Value)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, SessionResponse{SessionID: vars["id"], State: st})
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	id := s.mux.Vars(r)["id"]
	st, err := s.bookings.SubmitSession(r.Context(), id)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, SessionResponse{SessionID: id, State: st})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := s.decode(r, &fields); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	st, err := s.bookings.Book(r.Context(), fields)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, st)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	records, err := s.bookings.List(r.Context(), skip, limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if records == nil {
		records = []booking.Record{}
	}
	s.encode(r.Context(), w, http.StatusOK, records)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if err := s.decode(r, &body); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	res, err := s.auth.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Me(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, user)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.BadRequest("%s must be an integer", name)
	}
	return n, nil
}
