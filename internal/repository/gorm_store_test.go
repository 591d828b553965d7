package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"freightdesk/internal/infrastructure/database"
	"freightdesk/internal/model"
	"freightdesk/internal/repository"
)

func setupGormStore(t *testing.T) *repository.GormStore {
	t.Helper()
	if testing.Short() {
		t.Skip("需要 docker，-short 模式下跳过")
	}
	ctx := context.Background()

	container, err := mysql.Run(ctx,
		"mysql:8.0.36",
		mysql.WithDatabase("freightdesk"),
		mysql.WithUsername("test"),
		mysql.WithPassword("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	require.NoError(t, err)

	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	return repository.NewGormStore(db)
}

func TestGormStore(t *testing.T) {
	store := setupGormStore(t)
	ctx := context.Background()

	customer := &model.Customer{Name: "Salem"}
	require.NoError(t, store.CreateCustomer(ctx, customer))

	rate := &model.ShippingRate{Type: model.ShippingTypeAir, Name: "Air", Price: decimal.RequireFromString("8"), Country: "CN"}
	require.NoError(t, store.CreateShippingRate(ctx, rate))

	t.Run("order with logs", func(t *testing.T) {
		order := &model.Order{TrackingNumber: "FD100", Name: "Lamp", Status: model.OrderStatusPurchased, CustomerID: &customer.ID, Country: "CN"}
		require.NoError(t, store.Transaction(ctx, func(tx repository.Tx) error {
			if err := tx.CreateOrder(ctx, order); err != nil {
				return err
			}
			return tx.AppendOrderLog(ctx, &model.OrderLog{OrderID: order.ID, Status: order.Status, CreatedBy: 1})
		}))

		require.NoError(t, store.Transaction(ctx, func(tx repository.Tx) error {
			current, err := tx.GetOrderForUpdate(ctx, order.ID)
			if err != nil {
				return err
			}
			current.Status = model.OrderStatusArrivedToChina
			current.Weight = decimal.NewNullDecimal(decimal.NewFromInt(10))
			current.ShippingRateID = &rate.ID
			current.RateSnapshot = rate.Snapshot()
			current.ShippingCost = decimal.NewNullDecimal(decimal.NewFromInt(80))
			if err := tx.UpdateOrder(ctx, current); err != nil {
				return err
			}
			return tx.AppendOrderLog(ctx, &model.OrderLog{OrderID: order.ID, Status: current.Status, CreatedBy: 3})
		}))

		got, err := store.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.True(t, got.ShippingCost.Decimal.Equal(decimal.NewFromInt(80)))
		assert.Equal(t, model.ShippingTypeAir, got.RateSnapshot.Type)
		require.NotNil(t, got.Customer)
		require.NotNil(t, got.ShippingRate)
		require.Len(t, got.Logs, 2)
		assert.Equal(t, model.OrderStatusPurchased, got.Logs[0].Status)

		stale := *got
		stale.Version = 0
		err = store.Transaction(ctx, func(tx repository.Tx) error {
			return tx.UpdateOrder(ctx, &stale)
		})
		assert.ErrorIs(t, err, repository.ErrVersionConflict)

		err = store.Transaction(ctx, func(tx repository.Tx) error {
			return tx.CreateOrder(ctx, &model.Order{TrackingNumber: "FD100", Status: model.OrderStatusPurchased, Country: "CN"})
		})
		assert.ErrorIs(t, err, repository.ErrDuplicateTrackingNumber)

		orders, total, err := store.ListOrders(ctx, repository.OrderFilter{Search: "lam"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, order.ID, orders[0].ID)

		_, err = store.GetOrder(ctx, 999999)
		assert.ErrorIs(t, err, repository.ErrOrderNotFound)
	})

	t.Run("balance and ledger roll back together", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx repository.Tx) error {
			c, err := tx.GetCustomerForUpdate(ctx, customer.ID)
			if err != nil {
				return err
			}
			c.SetBalance(model.CurrencyLYD, decimal.NewFromInt(500))
			if err := tx.UpdateBalance(ctx, c, model.CurrencyLYD); err != nil {
				return err
			}
			return tx.CreateTransaction(ctx, &model.Transaction{
				TransactionNo: "TXN-1", CustomerID: c.ID, Type: model.TransactionTypeDeposit,
				Amount: decimal.NewFromInt(500), Currency: model.CurrencyLYD,
				BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(500), CreatedBy: 1,
			})
		})
		require.NoError(t, err)

		err = store.Transaction(ctx, func(tx repository.Tx) error {
			c, err := tx.GetCustomerForUpdate(ctx, customer.ID)
			if err != nil {
				return err
			}
			c.SetBalance(model.CurrencyLYD, decimal.Zero)
			if err := tx.UpdateBalance(ctx, c, model.CurrencyLYD); err != nil {
				return err
			}
			// 流水号重复，整个事务回滚
			return tx.CreateTransaction(ctx, &model.Transaction{
				TransactionNo: "TXN-1", CustomerID: c.ID, Type: model.TransactionTypeWithdrawal,
				Amount: decimal.NewFromInt(500), Currency: model.CurrencyLYD,
				BalanceBefore: decimal.NewFromInt(500), BalanceAfter: decimal.Zero, CreatedBy: 1,
			})
		})
		require.Error(t, err)

		got, err := store.GetCustomer(ctx, customer.ID)
		require.NoError(t, err)
		assert.True(t, got.BalanceLYD.Equal(decimal.NewFromInt(500)))

		latest, err := store.LatestTransaction(ctx, customer.ID, model.CurrencyLYD)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.BalanceAfter.Equal(got.BalanceLYD))

		none, err := store.LatestTransaction(ctx, customer.ID, model.CurrencyCNY)
		require.NoError(t, err)
		assert.Nil(t, none)

		start := time.Now().Add(-time.Hour)
		txns, total, err := store.ListTransactions(ctx, repository.TransactionFilter{
			CustomerID: &customer.ID, Currency: model.CurrencyLYD, StartDate: &start,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, "TXN-1", txns[0].TransactionNo)
	})

	t.Run("outbox delivery states", func(t *testing.T) {
		require.NoError(t, store.Transaction(ctx, func(tx repository.Tx) error {
			return tx.EnqueueOutbox(ctx, &model.OutboxMessage{
				MessageKey: "FD100", Topic: "order.status", EventType: model.EventOrderStatusChanged, Payload: `{}`,
			})
		}))

		pending, err := store.GetPendingMessages(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		require.NoError(t, store.IncrementOutboxRetry(ctx, pending[0].ID))
		require.NoError(t, store.UpdateOutboxStatus(ctx, pending[0].ID, model.OutboxStatusSent))

		pending, err = store.GetPendingMessages(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("rate catalog and devices", func(t *testing.T) {
		rate.Name = "Air express"
		rate.Price = decimal.RequireFromString("9.5")
		require.NoError(t, store.UpdateShippingRate(ctx, rate))

		got, err := store.GetShippingRate(ctx, rate.ID)
		require.NoError(t, err)
		assert.Equal(t, "Air express", got.Name)

		rates, err := store.ListShippingRates(ctx, "CN", model.ShippingTypeSea)
		require.NoError(t, err)
		assert.Empty(t, rates)

		other := &model.Customer{Name: "Huda"}
		require.NoError(t, store.CreateCustomer(ctx, other))
		require.NoError(t, store.AddDevice(ctx, &model.CustomerDevice{CustomerID: customer.ID, PushToken: "tok"}))
		require.NoError(t, store.AddDevice(ctx, &model.CustomerDevice{CustomerID: other.ID, PushToken: "tok"}))

		tokens, err := store.ListPushTokens(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"tok"}, tokens)

		customers, err := store.ListCustomers(ctx, customer.ID, 10)
		require.NoError(t, err)
		require.Len(t, customers, 1)
		assert.Equal(t, other.ID, customers[0].ID)
	})
}
