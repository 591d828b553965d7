package repository

import (
	"context"

	"freightdesk/internal/model"

	"gorm.io/gorm"
)

// GormStore 基于 MySQL 的 Store 实现
type GormStore struct {
	db              *gorm.DB
	orderRepo       *OrderRepository
	customerRepo    *CustomerRepository
	transactionRepo *TransactionRepository
	rateRepo        *ShippingRateRepository
	outboxRepo      *OutboxRepository
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:              db,
		orderRepo:       NewOrderRepository(db),
		customerRepo:    NewCustomerRepository(db),
		transactionRepo: NewTransactionRepository(db),
		rateRepo:        NewShippingRateRepository(db),
		outboxRepo:      NewOutboxRepository(db),
	}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{store: s, tx: tx})
	})
}

func (s *GormStore) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.orderRepo.GetByIDWithDetails(ctx, id)
}

func (s *GormStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error) {
	return s.orderRepo.List(ctx, filter)
}

func (s *GormStore) CreateCustomer(ctx context.Context, customer *model.Customer) error {
	return s.customerRepo.Create(ctx, customer)
}

func (s *GormStore) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return s.customerRepo.GetByID(ctx, id)
}

func (s *GormStore) ListCustomers(ctx context.Context, afterID int64, limit int) ([]*model.Customer, error) {
	return s.customerRepo.ListAfter(ctx, afterID, limit)
}

func (s *GormStore) AddDevice(ctx context.Context, device *model.CustomerDevice) error {
	return s.customerRepo.AddDevice(ctx, device)
}

func (s *GormStore) ListPushTokens(ctx context.Context, customerID int64) ([]string, error) {
	return s.customerRepo.ListPushTokens(ctx, customerID)
}

func (s *GormStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.List(ctx, filter)
}

func (s *GormStore) LatestTransaction(ctx context.Context, customerID int64, currency model.Currency) (*model.Transaction, error) {
	return s.transactionRepo.Latest(ctx, customerID, currency)
}

func (s *GormStore) CreateShippingRate(ctx context.Context, rate *model.ShippingRate) error {
	return s.rateRepo.Create(ctx, rate)
}

func (s *GormStore) UpdateShippingRate(ctx context.Context, rate *model.ShippingRate) error {
	return s.rateRepo.Update(ctx, rate)
}

func (s *GormStore) GetShippingRate(ctx context.Context, id int64) (*model.ShippingRate, error) {
	return s.rateRepo.GetByID(ctx, id)
}

func (s *GormStore) ListShippingRates(ctx context.Context, country string, shippingType model.ShippingType) ([]*model.ShippingRate, error) {
	return s.rateRepo.List(ctx, country, shippingType)
}

func (s *GormStore) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	return s.outboxRepo.GetPendingMessages(ctx, limit)
}

func (s *GormStore) UpdateOutboxStatus(ctx context.Context, id int64, status string) error {
	return s.outboxRepo.UpdateStatus(ctx, id, status)
}

func (s *GormStore) IncrementOutboxRetry(ctx context.Context, id int64) error {
	return s.outboxRepo.IncrementRetryCount(ctx, id)
}

func (s *GormStore) MarkOutboxFailed(ctx context.Context, id int64) error {
	return s.outboxRepo.MarkAsFailed(ctx, id)
}

// gormTx 把同一个 *gorm.DB 事务句柄传给各个 repo
type gormTx struct {
	store *GormStore
	tx    *gorm.DB
}

func (t *gormTx) CreateOrder(ctx context.Context, order *model.Order) error {
	return t.store.orderRepo.Create(ctx, t.tx, order)
}

func (t *gormTx) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return t.store.orderRepo.GetByIDForUpdate(ctx, t.tx, id)
}

func (t *gormTx) UpdateOrder(ctx context.Context, order *model.Order) error {
	return t.store.orderRepo.Update(ctx, t.tx, order)
}

func (t *gormTx) AppendOrderLog(ctx context.Context, entry *model.OrderLog) error {
	return t.store.orderRepo.AppendLog(ctx, t.tx, entry)
}

func (t *gormTx) GetCustomerForUpdate(ctx context.Context, id int64) (*model.Customer, error) {
	return t.store.customerRepo.GetByIDForUpdate(ctx, t.tx, id)
}

func (t *gormTx) UpdateBalance(ctx context.Context, customer *model.Customer, currency model.Currency) error {
	return t.store.customerRepo.UpdateBalance(ctx, t.tx, customer, currency)
}

func (t *gormTx) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	return t.store.transactionRepo.Create(ctx, t.tx, txn)
}

func (t *gormTx) EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	return t.store.outboxRepo.Create(ctx, t.tx, msg)
}
