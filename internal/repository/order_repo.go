package repository

import (
	"context"
	"errors"

	"freightdesk/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Omit(clause.Associations).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateTrackingNumber
	}
	return err
}

func (r *OrderRepository) GetByIDWithDetails(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Customer").
		Preload("ShippingRate").
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByIDForUpdate 事务内加行锁读取订单，保证状态校验和写入之间不被并发修改
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) Update(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"tracking_number":     order.TrackingNumber,
			"name":                order.Name,
			"product_url":         order.ProductURL,
			"status":              order.Status,
			"weight":              order.Weight,
			"shipping_rate_id":    order.ShippingRateID,
			"shipping_cost":       order.ShippingCost,
			"shipping_rate_name":  order.RateSnapshot.Name,
			"shipping_rate_price": order.RateSnapshot.Price,
			"shipping_rate_type":  order.RateSnapshot.Type,
			"usd_price":           order.USDPrice,
			"cny_price":           order.CNYPrice,
			"customer_id":         order.CustomerID,
			"flight_number":       order.FlightNumber,
			"notes":               order.Notes,
			"version":             gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateTrackingNumber
		}
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	order.Version++
	return nil
}

func (r *OrderRepository) AppendLog(ctx context.Context, tx *gorm.DB, entry *model.OrderLog) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{})
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("tracking_number LIKE ? OR name LIKE ?", like, like)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	offset, limit := Page(filter.Page, filter.PageSize)
	err = query.
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error

	return orders, total, err
}
