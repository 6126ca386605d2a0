package booking

import (
	"strings"
	"time"
)

// Field names a BookingRequest field as it appears in the form.
type Field string

const (
	FieldName    Field = "name"
	FieldEmail   Field = "email"
	FieldPhone   Field = "phone"
	FieldDate    Field = "date"
	FieldTime    Field = "time"
	FieldMessage Field = "message"
)

// Fields lists every form field in display order.
var Fields = []Field{FieldName, FieldEmail, FieldPhone, FieldDate, FieldTime, FieldMessage}

// requiredFields must be non-empty at submit time.
var requiredFields = []Field{FieldName, FieldEmail, FieldPhone}

// TimeSlot is a preferred consultation window.
type TimeSlot string

const (
	TimeMorning   TimeSlot = "morning"
	TimeAfternoon TimeSlot = "afternoon"
	TimeEvening   TimeSlot = "evening"
)

var timeSlotLabels = map[TimeSlot]string{
	TimeMorning:   "Morning (9AM - 12PM)",
	TimeAfternoon: "Afternoon (12PM - 4PM)",
	TimeEvening:   "Evening (4PM - 7PM)",
}

// Label returns the human readable window, or the raw value for slots the
// form does not offer.
func (t TimeSlot) Label() string {
	if label, ok := timeSlotLabels[t]; ok {
		return label
	}
	return string(t)
}

// Valid reports whether t is one of the offered slots.
func (t TimeSlot) Valid() bool {
	_, ok := timeSlotLabels[t]
	return ok
}

// Request is the in-progress consultation request held by a form.
type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

// Set stores value in the named field.
func (r *Request) Set(field Field, value string) error {
	switch field {
	case FieldName:
		r.Name = value
	case FieldEmail:
		r.Email = value
	case FieldPhone:
		r.Phone = value
	case FieldDate:
		r.Date = value
	case FieldTime:
		r.Time = value
	case FieldMessage:
		r.Message = value
	default:
		return ErrUnknownField
	}
	return nil
}

// Get returns the value of the named field.
func (r Request) Get(field Field) (string, bool) {
	switch field {
	case FieldName:
		return r.Name, true
	case FieldEmail:
		return r.Email, true
	case FieldPhone:
		return r.Phone, true
	case FieldDate:
		return r.Date, true
	case FieldTime:
		return r.Time, true
	case FieldMessage:
		return r.Message, true
	}
	return "", false
}

// Missing returns the required fields that are blank after trimming.
func (r Request) Missing() []Field {
	var missing []Field
	for _, f := range requiredFields {
		v, _ := r.Get(f)
		if strings.TrimSpace(v) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Payload is the record sent to the remote store on create. Optional
// fields left empty are encoded as null.
type Payload struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Date      *string   `json:"date"`
	Time      *string   `json:"time"`
	Message   *string   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Payload freezes r into the outbound shape.
func (r Request) Payload(now time.Time) Payload {
	return Payload{
		Name:      strings.TrimSpace(r.Name),
		Email:     strings.TrimSpace(r.Email),
		Phone:     strings.TrimSpace(r.Phone),
		Date:      optional(r.Date),
		Time:      optional(r.Time),
		Message:   optional(r.Message),
		CreatedAt: now.UTC(),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
