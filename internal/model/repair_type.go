package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RepairType is a catalog entry with its base price.
type RepairType struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	Name            string          `gorm:"size:128;not null" json:"name"`
	Category        string          `gorm:"size:64;index" json:"category"`
	BasePrice       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"basePrice"`
	ExpressPremium  float64         `gorm:"not null;default:1" json:"expressPremium"`
	DurationMinutes int             `json:"durationMinutes"`
	CreatedAt       time.Time       `json:"-"`
	UpdatedAt       time.Time       `json:"-"`
}
