package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	goa "goa.design/goa/v3/pkg"

	"talwar/internal/booking"
	"talwar/internal/config"
	"talwar/internal/metrics"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	minSweepInterval = 10 * time.Second
)

// BookingNotifier tells the studio about a new booking
type BookingNotifier interface {
	SendBookingNotification(p booking.Payload, id booking.RecordID) error
}

// BookingAcknowledger tells the customer their booking arrived
type BookingAcknowledger interface {
	SendBookingAcknowledgement(phone string, id booking.RecordID) error
}

type formSession struct {
	ctrl     *booking.Controller
	lastSeen time.Time
}

// BookingService owns the open booking forms, one controller per page
// view, and the staff listing.
type BookingService struct {
	store  booking.Store
	cfg    config.BookingConfig
	clock  clock.Clock
	logger *zap.Logger

	notifier     BookingNotifier
	acknowledger BookingAcknowledger
	notifying    sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*formSession
	// shutdown is set once Shutdown starts; no notification starts after it
	shutdown bool
}

// BookingOption configures a BookingService
type BookingOption func(*BookingService)

// WithBookingClock replaces the wall clock used for session expiry and
// the controllers' reset timers
func WithBookingClock(c clock.Clock) BookingOption {
	return func(s *BookingService) { s.clock = c }
}

// WithNotifier sends a studio notification for every created booking
func WithNotifier(n BookingNotifier) BookingOption {
	return func(s *BookingService) { s.notifier = n }
}

// WithAcknowledger sends a customer acknowledgement for every created booking
func WithAcknowledger(a BookingAcknowledger) BookingOption {
	return func(s *BookingService) { s.acknowledger = a }
}

// NewBookingService creates a booking service on store. store may be nil,
// in which case every submission reports a configuration error.
func NewBookingService(store booking.Store, cfg config.BookingConfig, logger *zap.Logger, opts ...BookingOption) *BookingService {
	s := &BookingService{
		store:    store,
		cfg:      cfg,
		clock:    clock.New(),
		logger:   logger.Named("booking"),
		sessions: make(map[string]*formSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) newController(sessionID string) *booking.Controller {
	log := s.logger
	if sessionID != "" {
		log = log.With(zap.String("session", sessionID))
	}
	return booking.NewController(s.store,
		booking.WithClock(s.clock),
		booking.WithResetDelay(s.cfg.ResetDelay),
		booking.WithLogger(log),
		booking.WithHooks(booking.Hooks{
			Submitted: s.submitted,
			Failed: func(kind booking.ErrorKind, err error) {
				metrics.RecordBookingSubmission(string(kind))
			},
		}),
	)
}

func (s *BookingService) submitted(p booking.Payload, id booking.RecordID) {
	metrics.RecordBookingSubmission("success")

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.logger.Warn("shutting down, booking notifications skipped", zap.String("id", id.String()))
		return
	}
	if s.notifier != nil {
		s.notifying.Add(1)
	}
	if s.acknowledger != nil {
		s.notifying.Add(1)
	}
	s.mu.Unlock()

	if s.notifier != nil {
		go func() {
			defer s.notifying.Done()
			err := s.notifier.SendBookingNotification(p, id)
			metrics.RecordNotification("email", err)
			if err != nil {
				s.logger.Warn("booking notification failed", zap.String("id", id.String()), zap.Error(err))
			}
		}()
	}
	if s.acknowledger != nil {
		go func() {
			defer s.notifying.Done()
			err := s.acknowledger.SendBookingAcknowledgement(p.Phone, id)
			metrics.RecordNotification("sms", err)
			if err != nil {
				s.logger.Warn("booking acknowledgement failed", zap.String("id", id.String()), zap.Error(err))
			}
		}()
	}
}

// OpenSession starts a new empty booking form
func (s *BookingService) OpenSession(ctx context.Context) (string, booking.State, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return "", booking.State{}, Unavailable(errors.New("booking service is shutting down"))
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		s.logger.Warn("booking session limit reached", zap.Int("max", s.cfg.MaxSessions))
		return "", booking.State{}, Unavailable(errors.New("too many open booking forms, try again shortly"))
	}
	id := uuid.NewString()
	sess := &formSession{ctrl: s.newController(id), lastSeen: s.clock.Now()}
	s.sessions[id] = sess
	open := len(s.sessions)
	s.mu.Unlock()

	metrics.SetOpenSessions(open)
	s.logger.Debug("booking session opened", zap.String("session", id))
	return id, sess.ctrl.State(), nil
}

func (s *BookingService) lookup(id string) (*booking.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, NotFound("booking session %s not found", id)
	}
	sess.lastSeen = s.clock.Now()
	return sess.ctrl, nil
}

// Session returns the current state of a form
func (s *BookingService) Session(ctx context.Context, id string) (booking.State, error) {
	ctrl, err := s.lookup(id)
	if err != nil {
		return booking.State{}, err
	}
	return ctrl.State(), nil
}

// UpdateField changes one field of a form
func (s *BookingService) UpdateField(ctx context.Context, id string, field booking.Field, value string) (booking.State, error) {
	ctrl, err := s.lookup(id)
	if err != nil {
		return booking.State{}, err
	}
	if err := ctrl.UpdateField(field, value); err != nil {
		return ctrl.State(), s.controllerError(id, err)
	}
	return ctrl.State(), nil
}

// SubmitSession submits a form. Booking failures come back in the state;
// the error is set only when the form did not accept the submission.
func (s *BookingService) SubmitSession(ctx context.Context, id string) (booking.State, error) {
	ctrl, err := s.lookup(id)
	if err != nil {
		return booking.State{}, err
	}
	st, err := ctrl.Submit(ctx)
	if err != nil {
		return st, s.controllerError(id, err)
	}
	return st, nil
}

// CloseSession tears a form down. Closing an unknown form is not an error.
func (s *BookingService) CloseSession(ctx context.Context, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	open := len(s.sessions)
	s.mu.Unlock()

	if ok {
		sess.ctrl.Close()
		metrics.SetOpenSessions(open)
		s.logger.Debug("booking session closed", zap.String("session", id))
	}
}

// Book fills a fresh form with fields and submits it once. Unknown field
// names are rejected before anything is sent.
func (s *BookingService) Book(ctx context.Context, fields map[string]string) (booking.State, error) {
	ctrl := s.newController("")
	defer ctrl.Close()

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctrl.UpdateField(booking.Field(name), fields[name]); err != nil {
			return booking.State{}, s.controllerError("", err)
		}
	}
	st, err := ctrl.Submit(ctx)
	if err != nil {
		return st, s.controllerError("", err)
	}
	return st, nil
}

// List returns stored bookings newest first. The store has to support
// listing.
func (s *BookingService) List(ctx context.Context, skip, limit int) ([]booking.Record, error) {
	lister, ok := s.store.(booking.Lister)
	if !ok {
		return nil, Unavailable(errors.New("booking store does not support listing"))
	}
	if skip < 0 {
		return nil, BadRequest("skip must not be negative")
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	records, err := lister.List(ctx, skip, limit)
	if err != nil {
		s.logger.Error("failed to list bookings", zap.Error(err))
		return nil, Unavailable(errors.New(booking.DisplayMessage(err)))
	}
	return records, nil
}

// OpenSessions returns the number of open forms
func (s *BookingService) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes forms idle for longer than the session TTL and returns how
// many it closed
func (s *BookingService) Sweep() int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}
	cutoff := s.clock.Now().Add(-s.cfg.SessionTTL)

	var expired []*booking.Controller
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess.ctrl)
			delete(s.sessions, id)
		}
	}
	open := len(s.sessions)
	s.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close()
	}
	if len(expired) > 0 {
		metrics.SetOpenSessions(open)
		s.logger.Info("expired idle booking sessions", zap.Int("closed", len(expired)), zap.Int("open", open))
	}
	return len(expired)
}

// RunJanitor sweeps idle forms until ctx is cancelled
func (s *BookingService) RunJanitor(ctx context.Context) {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	interval := s.cfg.SessionTTL / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Shutdown closes every open form and waits for pending notifications
// until ctx is done
func (s *BookingService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	sessions := s.sessions
	s.sessions = make(map[string]*formSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.ctrl.Close()
	}
	metrics.SetOpenSessions(0)

	done := make(chan struct{})
	go func() {
		s.notifying.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// controllerError maps a rejected controller call to a service error
func (s *BookingService) controllerError(sessionID string, err error) *goa.ServiceError {
	switch {
	case errors.Is(err, booking.ErrUnknownField):
		return BadRequest("unknown booking field")
	case errors.Is(err, booking.ErrClosed):
		return NotFound("booking session %s not found", sessionID)
	case errors.Is(err, booking.ErrSubmitInFlight),
		errors.Is(err, booking.ErrAlreadySubmitted),
		errors.Is(err, booking.ErrFormLocked):
		return Conflict(err)
	}
	s.logger.Error("unexpected booking error", zap.String("session", sessionID), zap.Error(err))
	return Internal(err)
}
