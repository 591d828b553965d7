package repository

import (
	"context"
	"errors"

	"freightdesk/internal/model"

	"gorm.io/gorm"
)

type ShippingRateRepository struct {
	db *gorm.DB
}

func NewShippingRateRepository(db *gorm.DB) *ShippingRateRepository {
	return &ShippingRateRepository{db: db}
}

func (r *ShippingRateRepository) Create(ctx context.Context, rate *model.ShippingRate) error {
	return r.db.WithContext(ctx).Create(rate).Error
}

// Update 修改价目，不存在时返回 ErrShippingRateNotFound
func (r *ShippingRateRepository) Update(ctx context.Context, rate *model.ShippingRate) error {
	if _, err := r.GetByID(ctx, rate.ID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&model.ShippingRate{}).
		Where("id = ?", rate.ID).
		Updates(map[string]interface{}{
			"type":    rate.Type,
			"name":    rate.Name,
			"price":   rate.Price,
			"country": rate.Country,
		}).Error
}

func (r *ShippingRateRepository) GetByID(ctx context.Context, id int64) (*model.ShippingRate, error) {
	var rate model.ShippingRate
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShippingRateNotFound
		}
		return nil, err
	}
	return &rate, nil
}

func (r *ShippingRateRepository) List(ctx context.Context, country string, shippingType model.ShippingType) ([]*model.ShippingRate, error) {
	var rates []*model.ShippingRate
	query := r.db.WithContext(ctx).Model(&model.ShippingRate{})
	if country != "" {
		query = query.Where("country = ?", country)
	}
	if shippingType != "" {
		query = query.Where("type = ?", shippingType)
	}
	err := query.Order("id ASC").Find(&rates).Error
	return rates, err
}
