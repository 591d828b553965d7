package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightdesk/internal/apperr"
	"freightdesk/internal/infrastructure/lock"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository"
	"freightdesk/pkg/idgen"
)

var errBalanceConflict = apperr.Conflict("customer balance was modified by another request, retry")

// LedgerService 客户钱包记账，余额变动的唯一入口
//
// 每次余额变动都在同一个事务里：
//  1. 锁定客户行（SELECT ... FOR UPDATE）
//  2. 计算 before/after，带版本号更新余额
//  3. 写一条流水
//  4. 写 outbox 事件
type LedgerService struct {
	store  repository.Store
	locker Locker
	topic  string
	log    *zap.Logger
}

func NewLedgerService(store repository.Store, locker Locker, topic string, log *zap.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		locker: locker,
		topic:  topic,
		log:    log.Named("ledger"),
	}
}

// DeltaRequest 订单驱动的余额变动
// Delta 为正表示扣款（WITHDRAWAL），为负表示退款（DEPOSIT）
type DeltaRequest struct {
	CustomerID int64
	Currency   model.Currency
	Delta      decimal.Decimal
	ActorID    int64
	Memo       string
	OrderID    *int64
}

// ApplyDelta 在调用方的事务里记一笔账：after = before - delta
// 订单运费允许把余额扣成负数（客户欠款），不做余额校验
func (s *LedgerService) ApplyDelta(ctx context.Context, tx repository.Tx, req DeltaRequest) (*model.Transaction, error) {
	if req.Delta.IsZero() {
		return nil, nil
	}
	if !req.Currency.Valid() {
		return nil, apperr.Validation("unsupported currency %q", req.Currency)
	}

	customer, err := tx.GetCustomerForUpdate(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, apperr.NotFound("customer")
		}
		return nil, fmt.Errorf("锁定客户失败: %w", err)
	}
	return s.post(ctx, tx, customer, req)
}

func (s *LedgerService) post(ctx context.Context, tx repository.Tx, customer *model.Customer, req DeltaRequest) (*model.Transaction, error) {
	before := customer.Balance(req.Currency)
	after := before.Sub(req.Delta)

	txnType := model.TransactionTypeDeposit
	if req.Delta.IsPositive() {
		txnType = model.TransactionTypeWithdrawal
	}

	customer.SetBalance(req.Currency, after)
	if err := tx.UpdateBalance(ctx, customer, req.Currency); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, errBalanceConflict
		}
		return nil, fmt.Errorf("更新余额失败: %w", err)
	}

	txn := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		CustomerID:    customer.ID,
		OrderID:       req.OrderID,
		Type:          txnType,
		Amount:        req.Delta.Abs(),
		Currency:      req.Currency,
		BalanceBefore: before,
		BalanceAfter:  after,
		Notes:         req.Memo,
		CreatedBy:     req.ActorID,
	}
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	msg, err := newOutboxMessage(s.topic, txn.TransactionNo, model.EventLedgerTransaction, LedgerEvent{
		EventType:     model.EventLedgerTransaction,
		TransactionNo: txn.TransactionNo,
		CustomerID:    txn.CustomerID,
		OrderID:       txn.OrderID,
		Type:          txn.Type,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		BalanceAfter:  txn.BalanceAfter,
		OccurredAt:    txn.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return nil, fmt.Errorf("写入消息失败: %w", err)
	}
	return txn, nil
}

// CreateTransactionRequest 手工充值/扣款
type CreateTransactionRequest struct {
	CustomerID int64                 `json:"customer_id" binding:"required"`
	Type       model.TransactionType `json:"type" binding:"required"`
	Amount     decimal.Decimal       `json:"amount"`
	Currency   model.Currency        `json:"currency" binding:"required"`
	Notes      string                `json:"notes"`
}

// UnmarshalJSON 兼容驼峰的 customerId
func (r *CreateTransactionRequest) UnmarshalJSON(data []byte) error {
	type plain CreateTransactionRequest
	var aux struct {
		plain
		CustomerIDAlias int64 `json:"customerId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = CreateTransactionRequest(aux.plain)
	if r.CustomerID == 0 {
		r.CustomerID = aux.CustomerIDAlias
	}
	return nil
}

func (r *CreateTransactionRequest) validate() error {
	if r.CustomerID <= 0 {
		return apperr.Validation("customer_id is required")
	}
	if !r.Type.Valid() {
		return apperr.Validation("type must be DEPOSIT or WITHDRAWAL")
	}
	if !r.Currency.Valid() {
		return apperr.Validation("currency must be one of USD, LYD, CNY")
	}
	if !r.Amount.IsPositive() {
		return apperr.Validation("amount must be greater than 0")
	}
	if !withinPlaces(r.Amount, moneyPlaces) {
		return apperr.Validation("amount supports at most %d decimal places", moneyPlaces)
	}
	return nil
}

// CreateTransaction 管理员手工记账，扣款时余额不足直接拒绝
func (s *LedgerService) CreateTransaction(ctx context.Context, actor policy.Actor, req *CreateTransactionRequest) (*model.Transaction, error) {
	if !policy.CanManageLedger(actor.Role) {
		return nil, apperr.Forbidden(fmt.Sprintf("role %s may not post ledger transactions", actor.Role))
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.CustomerLockKey(req.CustomerID))
	if err != nil {
		return nil, lockError(err, "customer wallet is busy, retry later")
	}
	defer release()

	delta := req.Amount.Neg()
	if req.Type == model.TransactionTypeWithdrawal {
		delta = req.Amount
	}

	var txn *model.Transaction
	err = s.store.Transaction(ctx, func(tx repository.Tx) error {
		customer, err := tx.GetCustomerForUpdate(ctx, req.CustomerID)
		if err != nil {
			if errors.Is(err, repository.ErrCustomerNotFound) {
				return apperr.NotFound("customer")
			}
			return fmt.Errorf("锁定客户失败: %w", err)
		}
		if req.Type == model.TransactionTypeWithdrawal && customer.Balance(req.Currency).LessThan(req.Amount) {
			return apperr.ErrInsufficientBalance
		}

		txn, err = s.post(ctx, tx, customer, DeltaRequest{
			CustomerID: req.CustomerID,
			Currency:   req.Currency,
			Delta:      delta,
			ActorID:    actor.ID,
			Memo:       req.Notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("记账成功",
		zap.String("transaction_no", txn.TransactionNo),
		zap.Int64("customer_id", txn.CustomerID),
		zap.String("type", string(txn.Type)),
		zap.String("amount", txn.Amount.StringFixed(2)),
		zap.String("currency", string(txn.Currency)),
		zap.Int64("actor_id", actor.ID),
	)
	return txn, nil
}

// ListTransactions 流水查询，按时间倒序
func (s *LedgerService) ListTransactions(ctx context.Context, actor policy.Actor, filter repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	if !policy.CanManageLedger(actor.Role) {
		return nil, 0, apperr.Forbidden(fmt.Sprintf("role %s may not view ledger transactions", actor.Role))
	}
	if filter.Currency != "" && !filter.Currency.Valid() {
		return nil, 0, apperr.Validation("currency must be one of USD, LYD, CNY")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, apperr.Validation("type must be DEPOSIT or WITHDRAWAL")
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, 0, apperr.Validation("end_date must not be before start_date")
	}

	txns, total, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("查询流水失败: %w", err)
	}
	return txns, total, nil
}

// Discrepancy 余额与最后一条流水的 balance_after 不一致
type Discrepancy struct {
	CustomerID    int64
	Currency      model.Currency
	Balance       decimal.Decimal
	LedgerBalance decimal.Decimal
}

// auditAttempts 钱包持续变动时最多重读的次数
const auditAttempts = 3

// Audit 对账：每个币种的当前余额必须等于最后一条流水的 balance_after，没有流水时必须为 0
// 余额和流水不是同一时刻读出的，发现差异后重新读客户，version 没变才算真实差异
func (s *LedgerService) Audit(ctx context.Context, customer *model.Customer) ([]Discrepancy, error) {
	current := customer
	for attempt := 0; attempt < auditAttempts; attempt++ {
		out, err := s.compare(ctx, current)
		if err != nil || len(out) == 0 {
			return out, err
		}

		fresh, err := s.store.GetCustomer(ctx, customer.ID)
		if err != nil {
			if errors.Is(err, repository.ErrCustomerNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("查询客户失败: %w", err)
		}
		if fresh.Version == current.Version {
			return out, nil
		}
		current = fresh
	}

	s.log.Info("客户钱包持续变动，本轮跳过对账", zap.Int64("customer_id", customer.ID))
	return nil, nil
}

func (s *LedgerService) compare(ctx context.Context, customer *model.Customer) ([]Discrepancy, error) {
	var out []Discrepancy
	for _, currency := range model.Currencies() {
		latest, err := s.store.LatestTransaction(ctx, customer.ID, currency)
		if err != nil {
			return nil, fmt.Errorf("查询最新流水失败: %w", err)
		}
		expected := decimal.Zero
		if latest != nil {
			expected = latest.BalanceAfter
		}
		if balance := customer.Balance(currency); !balance.Equal(expected) {
			out = append(out, Discrepancy{
				CustomerID:    customer.ID,
				Currency:      currency,
				Balance:       balance,
				LedgerBalance: expected,
			})
		}
	}
	return out, nil
}
