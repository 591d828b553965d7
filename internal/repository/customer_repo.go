package repository

import (
	"context"
	"errors"

	"freightdesk/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, customer *model.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// UpdateBalance 写入某一币种的新余额，version 不一致时说明有并发修改
func (r *CustomerRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, customer *model.Customer, currency model.Currency) error {
	result := tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ? AND version = ?", customer.ID, customer.Version).
		Updates(map[string]interface{}{
			model.BalanceColumn(currency): customer.Balance(currency),
			"version":                     gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	customer.Version++
	return nil
}

func (r *CustomerRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Customer, error) {
	var customers []*model.Customer
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&customers).Error
	return customers, err
}

// AddDevice 同一个 token 重复注册时改绑到最新的客户
func (r *CustomerRepository) AddDevice(ctx context.Context, device *model.CustomerDevice) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "push_token"}},
			DoUpdates: clause.AssignmentColumns([]string{"customer_id"}),
		}).
		Create(device).Error
}

func (r *CustomerRepository) ListPushTokens(ctx context.Context, customerID int64) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).
		Model(&model.CustomerDevice{}).
		Where("customer_id = ?", customerID).
		Order("id ASC").
		Pluck("push_token", &tokens).Error
	return tokens, err
}
