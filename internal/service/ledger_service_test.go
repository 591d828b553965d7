package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightdesk/internal/apperr"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository"
)

func TestCreateTransaction_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "50.00")

	_, err := env.ledger.CreateTransaction(ctx, admin, &CreateTransactionRequest{
		CustomerID: c.ID,
		Type:       model.TransactionTypeWithdrawal,
		Amount:     dec("75"),
		Currency:   model.CurrencyUSD,
	})
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Equal(t, 400, apperr.KindOf(err).HTTPStatus())
	assert.Equal(t, "insufficient balance", apperr.MessageOf(err))

	assert.True(t, env.balance(t, c.ID, model.CurrencyUSD).Equal(dec("50")))
	assert.Len(t, env.transactions(t, c.ID), 1)
}

func TestCreateTransaction_DepositThenWithdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "")

	dep, err := env.ledger.CreateTransaction(ctx, admin, &CreateTransactionRequest{
		CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("300"), Currency: model.CurrencyLYD,
	})
	require.NoError(t, err)
	assert.True(t, dep.BalanceBefore.IsZero())
	assert.True(t, dep.BalanceAfter.Equal(dec("300")))
	assert.Equal(t, admin.ID, dep.CreatedBy)

	wd, err := env.ledger.CreateTransaction(ctx, admin, &CreateTransactionRequest{
		CustomerID: c.ID, Type: model.TransactionTypeWithdrawal, Amount: dec("300"), Currency: model.CurrencyLYD,
	})
	require.NoError(t, err)
	assert.True(t, wd.BalanceAfter.IsZero())

	for _, txn := range env.transactions(t, c.ID) {
		assert.True(t, txn.Consistent(), txn.TransactionNo)
	}
	assert.True(t, env.balance(t, c.ID, model.CurrencyLYD).IsZero())
	assert.True(t, env.balance(t, c.ID, model.CurrencyUSD).IsZero())
}

func TestCreateTransaction_Validation(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, "")

	tests := []struct {
		name string
		req  CreateTransactionRequest
	}{
		{"zero amount", CreateTransactionRequest{CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("0"), Currency: model.CurrencyUSD}},
		{"negative amount", CreateTransactionRequest{CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("-5"), Currency: model.CurrencyUSD}},
		{"three decimals", CreateTransactionRequest{CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("1.005"), Currency: model.CurrencyUSD}},
		{"unknown currency", CreateTransactionRequest{CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("5"), Currency: "EUR"}},
		{"unknown type", CreateTransactionRequest{CustomerID: c.ID, Type: "REFUND", Amount: dec("5"), Currency: model.CurrencyUSD}},
		{"missing customer", CreateTransactionRequest{Type: model.TransactionTypeDeposit, Amount: dec("5"), Currency: model.CurrencyUSD}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.CreateTransaction(context.Background(), admin, &tt.req)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), err)
		})
	}
	assert.Empty(t, env.transactions(t, c.ID))
}

func TestCreateTransaction_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, "")

	for _, actor := range []policy.Actor{buyer, chinaWH, libyaWH} {
		t.Run(string(actor.Role), func(t *testing.T) {
			_, err := env.ledger.CreateTransaction(context.Background(), actor, &CreateTransactionRequest{
				CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("5"), Currency: model.CurrencyUSD,
			})
			assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
			assert.Contains(t, apperr.MessageOf(err), string(actor.Role))
		})
	}
	assert.Empty(t, env.transactions(t, c.ID))
}

func TestCreateTransaction_UnknownCustomer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.CreateTransaction(context.Background(), admin, &CreateTransactionRequest{
		CustomerID: 999, Type: model.TransactionTypeDeposit, Amount: dec("5"), Currency: model.CurrencyUSD,
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateTransaction_WritesOutboxEvent(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, "25")

	var events []LedgerEvent
	for _, msg := range env.store.Outbox() {
		if msg.EventType != model.EventLedgerTransaction {
			continue
		}
		var ev LedgerEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, ev.TransactionNo, msg.MessageKey)
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, c.ID, events[0].CustomerID)
	assert.True(t, events[0].BalanceAfter.Equal(dec("25")))
}

func TestApplyDelta_NoBalanceFloor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "10")

	var txn *model.Transaction
	err := env.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		txn, err = env.ledger.ApplyDelta(ctx, tx, DeltaRequest{
			CustomerID: c.ID, Currency: model.CurrencyUSD, Delta: dec("25.5"), ActorID: chinaWH.ID, Memo: "shipping",
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeWithdrawal, txn.Type)
	assert.True(t, txn.Amount.Equal(dec("25.5")))
	assert.True(t, env.balance(t, c.ID, model.CurrencyUSD).Equal(dec("-15.5")))
}

func TestApplyDelta_ZeroIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "")

	err := env.store.Transaction(ctx, func(tx repository.Tx) error {
		txn, err := env.ledger.ApplyDelta(ctx, tx, DeltaRequest{CustomerID: c.ID, Currency: model.CurrencyUSD, Delta: dec("0")})
		assert.Nil(t, txn)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, env.transactions(t, c.ID))
}

func TestListTransactions_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "100")

	_, _, err := env.ledger.ListTransactions(ctx, chinaWH, repository.TransactionFilter{})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, _, err = env.ledger.ListTransactions(ctx, admin, repository.TransactionFilter{Currency: "EUR"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	start := time.Now()
	end := start.Add(-time.Hour)
	_, _, err = env.ledger.ListTransactions(ctx, admin, repository.TransactionFilter{StartDate: &start, EndDate: &end})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	txns, total, err := env.ledger.ListTransactions(ctx, admin, repository.TransactionFilter{
		CustomerID: &c.ID,
		Type:       model.TransactionTypeDeposit,
		Search:     "opening",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, txns, 1)
}

func TestAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "40")

	current, err := env.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	issues, err := env.ledger.Audit(ctx, current)
	require.NoError(t, err)
	assert.Empty(t, issues)

	drifted := &model.Customer{Name: "Drift"}
	drifted.BalanceCNY = dec("5")
	require.NoError(t, env.store.CreateCustomer(ctx, drifted))

	issues, err = env.ledger.Audit(ctx, drifted)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.CurrencyCNY, issues[0].Currency)
	assert.True(t, issues[0].LedgerBalance.IsZero())
}

func TestAudit_StaleSnapshotIsRechecked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, "40")

	stale, err := env.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)

	// 对账任务读到客户之后又入账一笔，最新流水和旧余额对不上
	_, err = env.ledger.CreateTransaction(ctx, admin, &CreateTransactionRequest{
		CustomerID: c.ID, Type: model.TransactionTypeDeposit, Amount: dec("15"), Currency: model.CurrencyUSD,
	})
	require.NoError(t, err)

	issues, err := env.ledger.Audit(ctx, stale)
	require.NoError(t, err)
	assert.Empty(t, issues)
}
