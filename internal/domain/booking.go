package domain

import (
	"strconv"
	"time"

	"gorm.io/gorm"

	"talwar/internal/booking"
)

// Booking represents a stored consultation request
type Booking struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"not null;index" json:"email"`
	Phone     string    `gorm:"not null" json:"phone"`
	Date      *string   `json:"date"`
	Time      *string   `json:"time"`
	Message   *string   `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Booking
func (Booking) TableName() string {
	return "bookings"
}

// BeforeCreate hook
func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	return nil
}

// NewBooking converts an outbound payload into a row
func NewBooking(p booking.Payload) *Booking {
	return &Booking{
		Name:      p.Name,
		Email:     p.Email,
		Phone:     p.Phone,
		Date:      p.Date,
		Time:      p.Time,
		Message:   p.Message,
		CreatedAt: p.CreatedAt,
	}
}

// RecordID returns the row id in the form the booking form displays
func (b *Booking) RecordID() booking.RecordID {
	return booking.RecordID(strconv.FormatUint(uint64(b.ID), 10))
}

// Record converts the row for staff listings
func (b *Booking) Record() booking.Record {
	return booking.Record{
		ID:        b.RecordID(),
		Name:      b.Name,
		Email:     b.Email,
		Phone:     b.Phone,
		Date:      b.Date,
		Time:      b.Time,
		Message:   b.Message,
		CreatedAt: b.CreatedAt,
	}
}
