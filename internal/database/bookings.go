package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"talwar/internal/booking"
	"talwar/internal/domain"
	"talwar/internal/metrics"
)

// BookingStore persists bookings in the application database. It
// satisfies booking.Store and booking.Lister.
type BookingStore struct {
	db *gorm.DB
}

// NewBookingStore creates a booking store on db
func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

// CheckConfig reports an unusable store when no database handle was given
func (s *BookingStore) CheckConfig() error {
	if s == nil || s.db == nil {
		return booking.ErrNotConfigured
	}
	return nil
}

// Insert creates a booking row and returns its id
func (s *BookingStore) Insert(ctx context.Context, p booking.Payload) (booking.RecordID, error) {
	row := domain.NewBooking(p)

	start := time.Now()
	err := s.db.WithContext(ctx).Create(row).Error
	metrics.RecordDBQuery("booking_insert", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("failed to save booking: %w", err)
	}
	return row.RecordID(), nil
}

// List returns bookings newest first
func (s *BookingStore) List(ctx context.Context, skip, limit int) ([]booking.Record, error) {
	var rows []domain.Booking

	start := time.Now()
	err := s.db.WithContext(ctx).Order("created_at DESC").Offset(skip).Limit(limit).Find(&rows).Error
	metrics.RecordDBQuery("booking_list", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookings: %w", err)
	}

	records := make([]booking.Record, len(rows))
	for i := range rows {
		records[i] = rows[i].Record()
	}
	return records, nil
}
