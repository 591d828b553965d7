package repository

import (
	"context"
	"errors"
	"time"

	"freightdesk/internal/model"
)

var (
	ErrOrderNotFound           = errors.New("订单不存在")
	ErrCustomerNotFound        = errors.New("客户不存在")
	ErrShippingRateNotFound    = errors.New("运费价目不存在")
	ErrVersionConflict         = errors.New("乐观锁冲突，请重试")
	ErrDuplicateTrackingNumber = errors.New("运单号重复")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Page 规范化分页参数
func Page(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return (page - 1) * pageSize, pageSize
}

type OrderFilter struct {
	CustomerID *int64
	Status     model.OrderStatus
	Search     string
	Page       int
	PageSize   int
}

type TransactionFilter struct {
	CustomerID *int64
	Currency   model.Currency
	Type       model.TransactionType
	StartDate  *time.Time
	EndDate    *time.Time
	Search     string
	Page       int
	PageSize   int
}

// Tx is one atomic unit of work. Everything written through a Tx commits together
// or not at all.
type Tx interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error)
	// UpdateOrder writes every mutable column when the stored version equals
	// order.Version, then bumps order.Version. ErrVersionConflict otherwise.
	UpdateOrder(ctx context.Context, order *model.Order) error
	AppendOrderLog(ctx context.Context, entry *model.OrderLog) error

	GetCustomerForUpdate(ctx context.Context, id int64) (*model.Customer, error)
	// UpdateBalance persists customer's balance for one currency with the same
	// version check as UpdateOrder.
	UpdateBalance(ctx context.Context, customer *model.Customer, currency model.Currency) error
	CreateTransaction(ctx context.Context, txn *model.Transaction) error

	EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error
}

// OutboxStore 本地消息表的投递侧操作
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateOutboxStatus(ctx context.Context, id int64, status string) error
	IncrementOutboxRetry(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64) error
}

// Store is the persistence boundary. Order, log, balance and ledger writes are only
// reachable through Transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// GetOrder loads the order with customer, shipping rate and logs (oldest first).
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error)

	CreateCustomer(ctx context.Context, customer *model.Customer) error
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomers(ctx context.Context, afterID int64, limit int) ([]*model.Customer, error)
	AddDevice(ctx context.Context, device *model.CustomerDevice) error
	ListPushTokens(ctx context.Context, customerID int64) ([]string, error)

	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, int64, error)
	// LatestTransaction returns nil when the customer has no entry in currency.
	LatestTransaction(ctx context.Context, customerID int64, currency model.Currency) (*model.Transaction, error)

	CreateShippingRate(ctx context.Context, rate *model.ShippingRate) error
	// UpdateShippingRate edits a catalog entry. Orders keep the snapshot they were charged with.
	UpdateShippingRate(ctx context.Context, rate *model.ShippingRate) error
	GetShippingRate(ctx context.Context, id int64) (*model.ShippingRate, error)
	ListShippingRates(ctx context.Context, country string, shippingType model.ShippingType) ([]*model.ShippingRate, error)

	OutboxStore
}
