package booking

import (
	"errors"
	"strings"

	apperrors "talwar/pkg/errors"
)

// User facing messages.
const (
	ValidationMessage    = "Please fill in name, email, and phone."
	ConfigurationMessage = "Booking store is not configured. Set SUPABASE_URL and SUPABASE_ANON_KEY."
	FallbackMessage      = "Something went wrong while booking."
)

var (
	ErrUnknownField     = errors.New("unknown booking field")
	ErrFormLocked       = errors.New("booking form is locked")
	ErrSubmitInFlight   = errors.New("booking submission already in flight")
	ErrAlreadySubmitted = errors.New("booking already submitted")
	ErrClosed           = errors.New("booking form closed")

	// ErrNotConfigured is returned by stores constructed without usable
	// connection settings.
	ErrNotConfigured = errors.New("booking store not configured")
)

// ErrorKind classifies a failed submission.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindRemote        ErrorKind = "remote"
)

// KindOf maps an error to its ErrorKind. Anything unclassified counts as
// remote.
func KindOf(err error) ErrorKind {
	switch {
	case apperrors.IsValidation(err):
		return KindValidation
	case apperrors.IsConfiguration(err):
		return KindConfiguration
	default:
		return KindRemote
	}
}

// ValidationError lists the required fields that were blank.
type ValidationError struct {
	Missing []Field
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return "missing required fields: " + strings.Join(names, ", ")
}

func newValidationError(missing []Field) error {
	return apperrors.Wrap(apperrors.ErrCodeValidation, ValidationMessage, &ValidationError{Missing: missing})
}

func newConfigurationError(cause error) error {
	return apperrors.Wrap(apperrors.ErrCodeConfiguration, ConfigurationMessage, cause)
}

func newRemoteError(cause error) error {
	return apperrors.Wrap(apperrors.ErrCodeRemote, DisplayMessage(cause), cause)
}

// displayer is implemented by store errors that carry a structured,
// user presentable message.
type displayer interface {
	DisplayMessage() string
}

// DisplayMessage extracts the text shown to the user for err. A structured
// message wins over the error string; an empty result falls back to a
// generic message.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	var d displayer
	if errors.As(err, &d) {
		if msg := strings.TrimSpace(d.DisplayMessage()); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackMessage
}
