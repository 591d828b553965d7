package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"freightdesk/internal/config"
	"freightdesk/internal/infrastructure/lock"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository"
	"freightdesk/internal/repository/memory"
)

var (
	admin   = policy.Actor{ID: 1, Role: policy.RoleAdmin}
	buyer   = policy.Actor{ID: 2, Role: policy.RolePurchaseOfficer}
	chinaWH = policy.Actor{ID: 3, Role: policy.RoleChinaWarehouse}
	libyaWH = policy.Actor{ID: 4, Role: policy.RoleLibyaWarehouse}
)

type notifyCall struct {
	tokens []string
	title  string
	body   string
	data   map[string]string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, tokens []string, title, body string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{tokens: tokens, title: title, body: body, data: data})
	return n.err
}

func (n *fakeNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type testEnv struct {
	store    *memory.Store
	redis    *miniredis.Miniredis
	rates    *ShippingRateService
	ledger   *LedgerService
	orders   *OrderService
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zaptest.NewLogger(t)
	cfg := config.Default()
	store := memory.NewStore()
	locker := lock.NewLocker(rdb, cfg.Business.LockTTL, 5*time.Millisecond, 400)
	notifier := &fakeNotifier{}

	rates := NewShippingRateService(store, rdb, time.Minute, log)
	ledger := NewLedgerService(store, locker, cfg.Kafka.Topic.Ledger, log)
	orders := NewOrderService(store, locker, rates, ledger, notifier, cfg, log)
	t.Cleanup(orders.Wait)

	return &testEnv{
		store:    store,
		redis:    mr,
		rates:    rates,
		ledger:   ledger,
		orders:   orders,
		notifier: notifier,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// customer 创建客户，usd 非空时通过一笔 DEPOSIT 入账
func (e *testEnv) customer(t *testing.T, usd string) *model.Customer {
	t.Helper()
	ctx := context.Background()

	c := &model.Customer{Name: "Salem"}
	require.NoError(t, e.store.CreateCustomer(ctx, c))
	if usd != "" {
		_, err := e.ledger.CreateTransaction(ctx, admin, &CreateTransactionRequest{
			CustomerID: c.ID,
			Type:       model.TransactionTypeDeposit,
			Amount:     dec(usd),
			Currency:   model.CurrencyUSD,
			Notes:      "opening deposit",
		})
		require.NoError(t, err)
	}
	return c
}

func (e *testEnv) rate(t *testing.T, typ model.ShippingType, price string) *model.ShippingRate {
	t.Helper()
	r := &model.ShippingRate{Type: typ, Name: string(typ) + " standard", Price: dec(price), Country: "CN"}
	require.NoError(t, e.store.CreateShippingRate(context.Background(), r))
	return r
}

func (e *testEnv) order(t *testing.T, customerID *int64) *model.Order {
	t.Helper()
	o, err := e.orders.CreateOrder(context.Background(), buyer, &CreateOrderRequest{
		Name:       "Phone case",
		USDPrice:   dec("12.50"),
		CustomerID: customerID,
	})
	require.NoError(t, err)
	return o
}

// advance 以管理员身份逐步推进状态
func (e *testEnv) advance(t *testing.T, orderID int64, to ...model.OrderStatus) {
	t.Helper()
	for _, s := range to {
		_, err := e.orders.UpdateOrder(context.Background(), admin, orderID, &UpdateOrderRequest{Status: ptr(s)})
		require.NoError(t, err)
	}
}

func (e *testEnv) balance(t *testing.T, customerID int64, currency model.Currency) decimal.Decimal {
	t.Helper()
	c, err := e.store.GetCustomer(context.Background(), customerID)
	require.NoError(t, err)
	return c.Balance(currency)
}

func (e *testEnv) transactions(t *testing.T, customerID int64) []*model.Transaction {
	t.Helper()
	txns, _, err := e.ledger.ListTransactions(context.Background(), admin, repository.TransactionFilter{
		CustomerID: &customerID,
		PageSize:   repository.MaxPageSize,
	})
	require.NoError(t, err)
	return txns
}
