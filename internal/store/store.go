package store

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"repair-pricing-backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	UpsertRepairTypes(ctx context.Context, types []model.RepairType) error
	ListRepairTypes(ctx context.Context) ([]model.RepairType, error)
	GetRepairType(ctx context.Context, id string) (*model.RepairType, error)

	SaveQuote(ctx context.Context, quote *model.PriceQuote) error

	RecordStatusUpdate(ctx context.Context, record *model.BookingStatusRecord) error
	StatusHistory(ctx context.Context, bookingID string) ([]model.BookingStatusRecord, error)

	SubscriptionsForBooking(ctx context.Context, bookingID string) ([]model.PushSubscription, error)
	PutSubscription(ctx context.Context, sub *model.PushSubscription, bookingIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// UpsertRepairTypes inserts the catalog entries or refreshes their prices.
func (s *gormStore) UpsertRepairTypes(ctx context.Context, types []model.RepairType) error {
	if len(types) == 0 {
		return nil
	}
	log.Printf("Batch upserting %d repair types...", len(types))
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "base_price", "express_premium", "duration_minutes", "updated_at"}),
	}).Create(&types).Error
	if err != nil {
		return fmt.Errorf("batch upsert repair types failed: %w", err)
	}
	return nil
}

func (s *gormStore) ListRepairTypes(ctx context.Context) ([]model.RepairType, error) {
	var types []model.RepairType
	if err := s.db.WithContext(ctx).Order("category, name").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("failed to list repair types: %w", err)
	}
	return types, nil
}

func (s *gormStore) GetRepairType(ctx context.Context, id string) (*model.RepairType, error) {
	var rt model.RepairType
	if err := s.db.WithContext(ctx).First(&rt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch repair type %q: %w", id, err)
	}
	return &rt, nil
}

func (s *gormStore) SaveQuote(ctx context.Context, quote *model.PriceQuote) error {
	if err := s.db.WithContext(ctx).Create(quote).Error; err != nil {
		return fmt.Errorf("failed to save quote %s: %w", quote.ID, err)
	}
	return nil
}

func (s *gormStore) RecordStatusUpdate(ctx context.Context, record *model.BookingStatusRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to record status for booking %s: %w", record.BookingID, err)
	}
	return nil
}

// StatusHistory returns the observed updates for a booking, oldest first.
func (s *gormStore) StatusHistory(ctx context.Context, bookingID string) ([]model.BookingStatusRecord, error) {
	var records []model.BookingStatusRecord
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("observed_at, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status history for booking %s: %w", bookingID, err)
	}
	return records, nil
}

func (s *gormStore) SubscriptionsForBooking(ctx context.Context, bookingID string) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN push_subscription_bookings psb ON psb.endpoint = push_subscriptions.endpoint").
		Where("psb.booking_id = ?", bookingID).
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for booking %s: %w", bookingID, err)
	}
	return subscriptions, nil
}

// PutSubscription creates or replaces a subscription and the bookings it follows.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, bookingIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Bookings").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return err
		}

		if err := tx.Where("endpoint = ?", sub.Endpoint).Delete(&model.PushSubscriptionBooking{}).Error; err != nil {
			return err
		}

		links := make([]model.PushSubscriptionBooking, 0, len(bookingIDs))
		seen := make(map[string]bool, len(bookingIDs))
		for _, id := range bookingIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			links = append(links, model.PushSubscriptionBooking{Endpoint: sub.Endpoint, BookingID: id})
		}
		if len(links) > 0 {
			if err := tx.Create(&links).Error; err != nil {
				return err
			}
		}
		sub.Bookings = links
		return nil
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Bookings", func(db *gorm.DB) *gorm.DB {
		return db.Order("booking_id")
	}).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", endpoint).Delete(&model.PushSubscriptionBooking{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	})
}
