package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
)

func (t TransactionType) Valid() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeWithdrawal
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyLYD Currency = "LYD"
	CurrencyCNY Currency = "CNY"
)

func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyLYD || c == CurrencyCNY
}

// Currencies 钱包支持的全部币种
func Currencies() []Currency {
	return []Currency{CurrencyUSD, CurrencyLYD, CurrencyCNY}
}

// Transaction 钱包流水
//
// 流水设计原则：
// 1. 只追加，不修改，不删除
// 2. 一条流水只涉及一个币种
// 3. 记录交易前后余额：DEPOSIT 时 after = before + amount，WITHDRAWAL 时 after = before - amount
type Transaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	CustomerID    int64           `gorm:"index:idx_txn_customer_currency;not null" json:"customer_id"`
	OrderID       *int64          `gorm:"index" json:"order_id,omitempty"`
	Type          TransactionType `gorm:"type:varchar(16);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Currency      Currency        `gorm:"type:varchar(3);index:idx_txn_customer_currency;not null" json:"currency"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance_after"`
	Notes         string          `gorm:"type:varchar(512)" json:"notes,omitempty"`
	CreatedBy     int64           `gorm:"not null" json:"created_by"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// Consistent 校验前后余额与金额、类型是否一致
func (t *Transaction) Consistent() bool {
	switch t.Type {
	case TransactionTypeDeposit:
		return t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter)
	case TransactionTypeWithdrawal:
		return t.BalanceBefore.Sub(t.Amount).Equal(t.BalanceAfter)
	default:
		return false
	}
}
