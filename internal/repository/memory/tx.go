package memory

import (
	"context"

	"freightdesk/internal/model"
	"freightdesk/internal/repository"
)

type memTx struct {
	store *Store
	data  *state
}

func (t *memTx) CreateOrder(_ context.Context, order *model.Order) error {
	for _, o := range t.data.orders {
		if o.TrackingNumber == order.TrackingNumber {
			return repository.ErrDuplicateTrackingNumber
		}
	}
	order.ID = t.data.next("orders")
	order.CreatedAt = t.store.clock()
	order.UpdatedAt = order.CreatedAt
	t.data.orders[order.ID] = copyOrder(*order)
	return nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id int64) (*model.Order, error) {
	o, ok := t.data.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	order := copyOrder(o)
	return &order, nil
}

func (t *memTx) UpdateOrder(_ context.Context, order *model.Order) error {
	stored, ok := t.data.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return repository.ErrVersionConflict
	}
	for id, o := range t.data.orders {
		if id != order.ID && o.TrackingNumber == order.TrackingNumber {
			return repository.ErrDuplicateTrackingNumber
		}
	}
	order.Version++
	order.UpdatedAt = t.store.clock()
	updated := copyOrder(*order)
	updated.CreatedAt = stored.CreatedAt
	t.data.orders[order.ID] = updated
	return nil
}

func (t *memTx) AppendOrderLog(_ context.Context, entry *model.OrderLog) error {
	if _, ok := t.data.orders[entry.OrderID]; !ok {
		return repository.ErrOrderNotFound
	}
	entry.ID = t.data.next("order_log")
	entry.CreatedAt = t.store.clock()
	t.data.logs[entry.OrderID] = append(t.data.logs[entry.OrderID], *entry)
	return nil
}

func (t *memTx) GetCustomerForUpdate(_ context.Context, id int64) (*model.Customer, error) {
	c, ok := t.data.customers[id]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	return &c, nil
}

func (t *memTx) UpdateBalance(_ context.Context, customer *model.Customer, currency model.Currency) error {
	stored, ok := t.data.customers[customer.ID]
	if !ok || stored.Version != customer.Version {
		return repository.ErrVersionConflict
	}
	stored.SetBalance(currency, customer.Balance(currency))
	stored.Version++
	stored.UpdatedAt = t.store.clock()
	t.data.customers[customer.ID] = stored
	customer.Version = stored.Version
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, txn *model.Transaction) error {
	txn.ID = t.data.next("transaction")
	txn.CreatedAt = t.store.clock()
	t.data.transactions = append(t.data.transactions, *txn)
	return nil
}

func (t *memTx) EnqueueOutbox(_ context.Context, msg *model.OutboxMessage) error {
	msg.ID = t.data.next("outbox_message")
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	msg.CreatedAt = t.store.clock()
	msg.UpdatedAt = msg.CreatedAt
	t.data.outbox = append(t.data.outbox, *msg)
	return nil
}
