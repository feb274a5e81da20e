package model

import "time"

// BookingStatusRecord is one observed status update (append-only log).
type BookingStatusRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	BookingID      string `gorm:"size:64;not null;index:idx_booking_observed,priority:1"`
	Status         string `gorm:"size:32;not null"`
	PreviousStatus string `gorm:"size:32"`
	Valid          bool   `gorm:"not null"` // false when the transition was not allowed
	UpdatedBy      string `gorm:"size:128"`
	Notes          string
	ObservedAt     time.Time `gorm:"not null;index:idx_booking_observed,priority:2"`
}
