package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer 客户及其三币种钱包
// 余额只允许由 LedgerService 修改，每次变动都必须有对应的流水
type Customer struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string          `gorm:"type:varchar(128);not null" json:"name"`
	Phone      string          `gorm:"type:varchar(32);index" json:"phone"`
	BalanceUSD decimal.Decimal `gorm:"column:balance_usd;type:decimal(18,2);not null;default:0" json:"balance_usd"`
	BalanceLYD decimal.Decimal `gorm:"column:balance_lyd;type:decimal(18,2);not null;default:0" json:"balance_lyd"`
	BalanceCNY decimal.Decimal `gorm:"column:balance_cny;type:decimal(18,2);not null;default:0" json:"balance_cny"`
	Version    int             `gorm:"not null;default:0" json:"version"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customer"
}

// Balance 返回指定币种余额
func (c *Customer) Balance(currency Currency) decimal.Decimal {
	switch currency {
	case CurrencyLYD:
		return c.BalanceLYD
	case CurrencyCNY:
		return c.BalanceCNY
	default:
		return c.BalanceUSD
	}
}

// SetBalance 只在 LedgerService 写流水时调用
func (c *Customer) SetBalance(currency Currency, amount decimal.Decimal) {
	switch currency {
	case CurrencyLYD:
		c.BalanceLYD = amount
	case CurrencyCNY:
		c.BalanceCNY = amount
	default:
		c.BalanceUSD = amount
	}
}

// BalanceColumn 币种对应的余额字段
func BalanceColumn(currency Currency) string {
	switch currency {
	case CurrencyLYD:
		return "balance_lyd"
	case CurrencyCNY:
		return "balance_cny"
	default:
		return "balance_usd"
	}
}

// CustomerDevice 客户推送 token
type CustomerDevice struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID int64     `gorm:"index;not null" json:"customer_id"`
	PushToken  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"push_token"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CustomerDevice) TableName() string {
	return "customer_device"
}
