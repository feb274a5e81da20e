package model

import (
	"time"

	"github.com/shopspring/decimal"

	"repair-pricing-backend/internal/pricing"
)

// PriceQuote is an issued quote. Rows are never updated.
type PriceQuote struct {
	ID             string                `gorm:"primaryKey;size:36"`
	RepairTypeID   string                `gorm:"size:64;index;not null"`
	Device         string                `gorm:"size:128"`
	Express        bool                  `gorm:"not null"`
	BasePrice      decimal.Decimal       `gorm:"type:numeric(12,2);not null"`
	AdjustedPrice  decimal.Decimal       `gorm:"type:numeric(12,2);not null"`
	AdjustmentPct  decimal.Decimal       `gorm:"type:numeric(8,2);not null"`
	Recommendation string                `gorm:"size:16;not null"`
	Confidence     int                   `gorm:"not null"`
	FactorsOrigin  string                `gorm:"size:16"`
	Factors        pricing.MarketFactors `gorm:"serializer:json"`
	FiredRules     []string              `gorm:"serializer:json"`
	ValidUntil     time.Time             `gorm:"not null"`
	CreatedAt      time.Time             `gorm:"not null;index"`
}
