package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey;size:512"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Bookings []PushSubscriptionBooking `gorm:"foreignKey:Endpoint;references:Endpoint;constraint:OnDelete:CASCADE"`
}

// PushSubscriptionBooking links a push subscription to a booking it follows.
type PushSubscriptionBooking struct {
	Endpoint  string `gorm:"primaryKey;size:512"`
	BookingID string `gorm:"primaryKey;size:64;index"`
}
