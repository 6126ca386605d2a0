package booking

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultResetDelay is how long a confirmation stays visible before the
// form clears itself.
const DefaultResetDelay = 3500 * time.Millisecond

// Status is the form's state machine state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusError      Status = "error"
)

// State is a snapshot of a form. ErrorMessage and ErrorKind are set only
// in StatusError, ConfirmationID only in StatusSubmitted.
type State struct {
	Fields         Request   `json:"fields"`
	Status         Status    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	ConfirmationID *RecordID `json:"confirmation_id,omitempty"`
}

// Hooks observe submission outcomes. They run outside the controller lock
// and must not block.
type Hooks struct {
	Submitted func(p Payload, id RecordID)
	Failed    func(kind ErrorKind, err error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithResetDelay overrides DefaultResetDelay.
func WithResetDelay(d time.Duration) Option {
	return func(ctrl *Controller) {
		if d > 0 {
			ctrl.resetDelay = d
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(ctrl *Controller) {
		if l != nil {
			ctrl.logger = l
		}
	}
}

// WithHooks registers outcome observers.
func WithHooks(h Hooks) Option {
	return func(ctrl *Controller) { ctrl.hooks = h }
}

// Controller mediates between form input, validation and the remote
// store for one page view.
type Controller struct {
	store      Store
	configErr  error
	clock      clock.Clock
	resetDelay time.Duration
	logger     *zap.Logger
	hooks      Hooks

	mu           sync.Mutex
	fields       Request
	status       Status
	lastErr      error
	confirmation RecordID
	resetTimer   *clock.Timer
	// generation increments on every transition out of submitted so a
	// stale reset timer can recognise itself.
	generation uint64
	closed     bool
}

// NewController returns an idle controller with empty fields. A nil store,
// or one whose CheckConfig fails, leaves the controller permanently
// unconfigured.
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		clock:      clock.New(),
		resetDelay: DefaultResetDelay,
		logger:     zap.NewNop(),
		status:     StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.configErr = checkStore(store)
	return c
}

func checkStore(store Store) error {
	if store == nil {
		return ErrNotConfigured
	}
	if checker, ok := store.(ConfigChecker); ok {
		return checker.CheckConfig()
	}
	return nil
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{Fields: c.fields, Status: c.status}
	switch c.status {
	case StatusError:
		st.ErrorMessage = DisplayMessage(c.lastErr)
		st.ErrorKind = KindOf(c.lastErr)
	case StatusSubmitted:
		id := c.confirmation
		st.ConfirmationID = &id
	}
	return st
}

// UpdateField sets one field of the in-progress request. It is accepted
// only while the form is editable.
func (c *Controller) UpdateField(field Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.status != StatusIdle && c.status != StatusError {
		return ErrFormLocked
	}
	if err := c.fields.Set(field, value); err != nil {
		return err
	}
	if field == FieldTime {
		if slot := TimeSlot(c.fields.Time); slot != "" && !slot.Valid() {
			c.logger.Debug("preferred time is not an offered slot", zap.String("time", string(slot)))
		}
	}
	return nil
}

// Submit validates the form and, if it passes, creates exactly one record
// in the store. Booking outcomes (validation, configuration or remote
// failures) are reported through the returned State; the error is non-nil
// only when the call was not accepted at all, in which case nothing
// changed and no store call was made.
func (c *Controller) Submit(ctx context.Context) (State, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		st := c.stateLocked()
		c.mu.Unlock()
		return st, ErrClosed
	case c.status == StatusSubmitting:
		st := c.stateLocked()
		c.mu.Unlock()
		return st, ErrSubmitInFlight
	case c.status == StatusSubmitted:
		st := c.stateLocked()
		c.mu.Unlock()
		return st, ErrAlreadySubmitted
	}

	if c.configErr != nil {
		err := newConfigurationError(c.configErr)
		st := c.failLocked(err)
		c.mu.Unlock()
		c.logger.Warn("booking store not configured", zap.Error(c.configErr))
		c.notifyFailed(KindConfiguration, err)
		return st, nil
	}
	if missing := c.fields.Missing(); len(missing) > 0 {
		err := newValidationError(missing)
		st := c.failLocked(err)
		c.mu.Unlock()
		c.logger.Debug("booking validation failed", zap.Any("missing", missing))
		c.notifyFailed(KindValidation, err)
		return st, nil
	}

	payload := c.fields.Payload(c.clock.Now())
	c.status = StatusSubmitting
	c.lastErr = nil
	c.mu.Unlock()

	start := c.clock.Now()
	id, insertErr := c.store.Insert(ctx, payload)
	elapsed := c.clock.Since(start)

	c.mu.Lock()
	if c.closed {
		st := c.stateLocked()
		c.mu.Unlock()
		c.logger.Info("booking response after close discarded", zap.Error(insertErr))
		return st, ErrClosed
	}
	if insertErr != nil {
		err := newRemoteError(insertErr)
		st := c.failLocked(err)
		c.mu.Unlock()
		c.logger.Error("booking insert failed", zap.Error(insertErr), zap.Duration("elapsed", elapsed))
		c.notifyFailed(KindRemote, err)
		return st, nil
	}

	c.status = StatusSubmitted
	c.confirmation = id
	c.scheduleResetLocked()
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info("booking created", zap.String("id", id.String()), zap.Duration("elapsed", elapsed))
	if c.hooks.Submitted != nil {
		c.hooks.Submitted(payload, id)
	}
	return st, nil
}

func (c *Controller) failLocked(err error) State {
	c.status = StatusError
	c.lastErr = err
	return c.stateLocked()
}

func (c *Controller) notifyFailed(kind ErrorKind, err error) {
	if c.hooks.Failed != nil {
		c.hooks.Failed(kind, err)
	}
}

func (c *Controller) scheduleResetLocked() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	gen := c.generation
	c.resetTimer = c.clock.AfterFunc(c.resetDelay, func() {
		c.reset(gen)
	})
}

func (c *Controller) reset(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.generation != gen || c.status != StatusSubmitted {
		return
	}
	c.generation++
	c.fields = Request{}
	c.confirmation = ""
	c.lastErr = nil
	c.status = StatusIdle
	c.resetTimer = nil
}

// Close tears the controller down. A pending reset is cancelled and any
// in-flight response is discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}
