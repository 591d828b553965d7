// Package memory is an in-process implementation of repository.Store.
//
// Transactions are serialized and run against a private copy of the data; the copy
// replaces the committed state only when the callback returns nil.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"freightdesk/internal/model"
	"freightdesk/internal/repository"
)

type state struct {
	seq          map[string]int64
	orders       map[int64]model.Order
	logs         map[int64][]model.OrderLog
	customers    map[int64]model.Customer
	devices      []model.CustomerDevice
	transactions []model.Transaction
	rates        map[int64]model.ShippingRate
	outbox       []model.OutboxMessage
}

func newState() *state {
	return &state{
		seq:       make(map[string]int64),
		orders:    make(map[int64]model.Order),
		logs:      make(map[int64][]model.OrderLog),
		customers: make(map[int64]model.Customer),
		rates:     make(map[int64]model.ShippingRate),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.logs {
		c.logs[k] = append([]model.OrderLog(nil), v...)
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.rates {
		c.rates[k] = v
	}
	c.devices = append([]model.CustomerDevice(nil), s.devices...)
	c.transactions = append([]model.Transaction(nil), s.transactions...)
	c.outbox = append([]model.OutboxMessage(nil), s.outbox...)
	return c
}

func (s *state) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// copyOrder strips associations and detaches pointer fields.
func copyOrder(o model.Order) model.Order {
	o.ShippingRateID = copyInt64(o.ShippingRateID)
	o.CustomerID = copyInt64(o.CustomerID)
	o.Customer = nil
	o.ShippingRate = nil
	o.Logs = nil
	return o
}

type Store struct {
	// txMu serializes every write so a committing transaction never overwrites a
	// concurrent non-transactional write.
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		data: newState(),
		now:  time.Now,
	}
}

// SetClock overrides the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) clock() time.Time {
	return s.now()
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{store: s, data: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// write applies fn to the committed state outside of a transaction.
func (s *Store) write(fn func(d *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	order := copyOrder(o)
	if order.CustomerID != nil {
		if c, ok := s.data.customers[*order.CustomerID]; ok {
			order.Customer = &c
		}
	}
	if order.ShippingRateID != nil {
		if r, ok := s.data.rates[*order.ShippingRateID]; ok {
			order.ShippingRate = &r
		}
	}
	order.Logs = append([]model.OrderLog(nil), s.data.logs[id]...)
	return &order, nil
}

func (s *Store) ListOrders(_ context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Order
	search := strings.ToLower(filter.Search)
	for _, o := range s.data.orders {
		if filter.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *filter.CustomerID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(o.TrackingNumber), search) &&
			!strings.Contains(strings.ToLower(o.Name), search) {
			continue
		}
		order := copyOrder(o)
		matched = append(matched, &order)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.PageSize), int64(len(matched)), nil
}

func (s *Store) CreateCustomer(_ context.Context, customer *model.Customer) error {
	return s.write(func(d *state) error {
		customer.ID = d.next("customer")
		customer.CreatedAt = s.clock()
		customer.UpdatedAt = customer.CreatedAt
		d.customers[customer.ID] = *customer
		return nil
	})
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data.customers[id]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	return &c, nil
}

func (s *Store) ListCustomers(_ context.Context, afterID int64, limit int) ([]*model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Customer
	for id, c := range s.data.customers {
		if id > afterID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AddDevice(_ context.Context, device *model.CustomerDevice) error {
	return s.write(func(d *state) error {
		for i := range d.devices {
			if d.devices[i].PushToken == device.PushToken {
				d.devices[i].CustomerID = device.CustomerID
				*device = d.devices[i]
				return nil
			}
		}
		device.ID = d.next("customer_device")
		device.CreatedAt = s.clock()
		d.devices = append(d.devices, *device)
		return nil
	})
}

func (s *Store) ListPushTokens(_ context.Context, customerID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []string
	for _, dev := range s.data.devices {
		if dev.CustomerID == customerID {
			tokens = append(tokens, dev.PushToken)
		}
	}
	return tokens, nil
}

func (s *Store) ListTransactions(_ context.Context, filter repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Transaction
	search := strings.ToLower(filter.Search)
	for i := len(s.data.transactions) - 1; i >= 0; i-- {
		t := s.data.transactions[i]
		if filter.CustomerID != nil && t.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Currency != "" && t.Currency != filter.Currency {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.StartDate != nil && t.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && t.CreatedAt.After(*filter.EndDate) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Notes), search) &&
			!strings.Contains(strings.ToLower(t.TransactionNo), search) {
			continue
		}
		matched = append(matched, &t)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.PageSize), int64(len(matched)), nil
}

func (s *Store) LatestTransaction(_ context.Context, customerID int64, currency model.Currency) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.data.transactions) - 1; i >= 0; i-- {
		t := s.data.transactions[i]
		if t.CustomerID == customerID && t.Currency == currency {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateShippingRate(_ context.Context, rate *model.ShippingRate) error {
	return s.write(func(d *state) error {
		rate.ID = d.next("shipping_rate")
		rate.CreatedAt = s.clock()
		rate.UpdatedAt = rate.CreatedAt
		d.rates[rate.ID] = *rate
		return nil
	})
}

func (s *Store) UpdateShippingRate(_ context.Context, rate *model.ShippingRate) error {
	return s.write(func(d *state) error {
		stored, ok := d.rates[rate.ID]
		if !ok {
			return repository.ErrShippingRateNotFound
		}
		rate.CreatedAt = stored.CreatedAt
		rate.UpdatedAt = s.clock()
		d.rates[rate.ID] = *rate
		return nil
	})
}

func (s *Store) GetShippingRate(_ context.Context, id int64) (*model.ShippingRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data.rates[id]
	if !ok {
		return nil, repository.ErrShippingRateNotFound
	}
	return &r, nil
}

func (s *Store) ListShippingRates(_ context.Context, country string, shippingType model.ShippingType) ([]*model.ShippingRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.ShippingRate
	for _, r := range s.data.rates {
		if country != "" && r.Country != country {
			continue
		}
		if shippingType != "" && r.Type != shippingType {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.OutboxMessage
	for _, m := range s.data.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		m := m
		out = append(out, &m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) updateOutbox(id int64, fn func(m *model.OutboxMessage)) error {
	return s.write(func(d *state) error {
		for i := range d.outbox {
			if d.outbox[i].ID == id {
				fn(&d.outbox[i])
				d.outbox[i].UpdatedAt = s.clock()
				return nil
			}
		}
		return nil
	})
}

func (s *Store) UpdateOutboxStatus(_ context.Context, id int64, status string) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.Status = status })
}

func (s *Store) IncrementOutboxRetry(_ context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.RetryCount++ })
}

func (s *Store) MarkOutboxFailed(_ context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusFailed })
}

// Outbox returns every outbox row in insertion order.
func (s *Store) Outbox() []model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutboxMessage(nil), s.data.outbox...)
}

func paginate[T any](items []T, page, pageSize int) []T {
	offset, limit := repository.Page(page, pageSize)
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
