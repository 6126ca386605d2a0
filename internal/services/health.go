package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const healthCheckTimeout = 3 * time.Second

// Pinger is a dependency the health check can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx)
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthResult is the health check response
type HealthResult struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Version  string            `json:"version"`
	Checks   map[string]string `json:"checks"`
	Sessions int               `json:"open_sessions"`
}

// HealthService implements the health service
type HealthService struct {
	service  string
	version  string
	checks   map[string]Pinger
	bookings *BookingService
	logger   *zap.Logger
}

// NewHealthService creates a new health service. A nil Pinger in checks
// marks that dependency as not configured.
func NewHealthService(service, version string, checks map[string]Pinger, bookings *BookingService, logger *zap.Logger) *HealthService {
	return &HealthService{
		service:  service,
		version:  version,
		checks:   checks,
		bookings: bookings,
		logger:   logger.Named("health"),
	}
}

// Check probes every dependency. The service is degraded, not down, when a
// dependency fails: the booking form still reports errors per submission.
func (s *HealthService) Check(ctx context.Context) *HealthResult {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	result := &HealthResult{
		Status:  "healthy",
		Service: s.service,
		Version: s.version,
		Checks:  make(map[string]string, len(s.checks)),
	}
	for name, p := range s.checks {
		if p == nil {
			result.Checks[name] = "not_configured"
			result.Status = "degraded"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			result.Checks[name] = "unavailable"
			result.Status = "degraded"
			continue
		}
		result.Checks[name] = "ok"
	}
	if s.bookings != nil {
		result.Sessions = s.bookings.OpenSessions()
	}
	return result
}
