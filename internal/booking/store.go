package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RecordID is the identifier the remote store assigns to a created
// booking. Stores may hand back numbers or strings; numeric ids stay
// numeric on the wire.
type RecordID string

// UnmarshalJSON accepts a JSON number, string or null.
func (id *RecordID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id must be a string or number: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// MarshalJSON writes ids that are JSON numbers as numbers and everything
// else as strings.
func (id RecordID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id RecordID) numeric() bool {
	if id == "" {
		return false
	}
	if c := id[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	if c := id[len(id)-1]; c < '0' || c > '9' {
		return false
	}
	return json.Valid([]byte(id))
}

func (id RecordID) String() string {
	return string(id)
}

// Store creates booking records in a single named collection.
type Store interface {
	Insert(ctx context.Context, p Payload) (RecordID, error)
}

// ConfigChecker is implemented by stores that can tell whether they were
// given usable connection settings. Controllers consult it once.
type ConfigChecker interface {
	CheckConfig() error
}

// Record is a stored booking as returned to staff.
type Record struct {
	ID        RecordID  `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Date      *string   `json:"date"`
	Time      *string   `json:"time"`
	Message   *string   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Lister is implemented by stores that can page through stored bookings,
// newest first.
type Lister interface {
	List(ctx context.Context, skip, limit int) ([]Record, error)
}
