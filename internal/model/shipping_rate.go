package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShippingType 运输方式
type ShippingType string

const (
	ShippingTypeAir ShippingType = "AIR"
	ShippingTypeSea ShippingType = "SEA"
)

func (t ShippingType) Valid() bool {
	return t == ShippingTypeAir || t == ShippingTypeSea
}

// ShippingRate 运费价目，按发货地区区分
type ShippingRate struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      ShippingType    `gorm:"type:varchar(8);not null" json:"type"`
	Name      string          `gorm:"type:varchar(128);not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"price"`
	Country   string          `gorm:"type:varchar(8);index;not null" json:"country"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ShippingRate) TableName() string {
	return "shipping_rate"
}

// Snapshot 生成挂在订单上的价目快照
func (r *ShippingRate) Snapshot() RateSnapshot {
	return RateSnapshot{
		Name:  r.Name,
		Price: decimal.NewNullDecimal(r.Price),
		Type:  r.Type,
	}
}
