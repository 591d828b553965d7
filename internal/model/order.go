package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单履约状态（封闭枚举）
type OrderStatus string

const (
	OrderStatusPurchased       OrderStatus = "purchased"
	OrderStatusArrivedToChina  OrderStatus = "arrived_to_china"
	OrderStatusShippingToLibya OrderStatus = "shipping_to_libya"
	OrderStatusArrivedLibya    OrderStatus = "arrived_libya"
	OrderStatusReadyForPickup  OrderStatus = "ready_for_pickup"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// forwardOrder 正向流转顺序，canceled 不在其中
var forwardOrder = [...]OrderStatus{
	OrderStatusPurchased,
	OrderStatusArrivedToChina,
	OrderStatusShippingToLibya,
	OrderStatusArrivedLibya,
	OrderStatusReadyForPickup,
	OrderStatusDelivered,
}

var forwardIndex = func() map[OrderStatus]int {
	m := make(map[OrderStatus]int, len(forwardOrder))
	for i, s := range forwardOrder {
		m[s] = i
	}
	return m
}()

// ForwardStatuses 返回正向流转顺序的副本
func ForwardStatuses() []OrderStatus {
	out := make([]OrderStatus, len(forwardOrder))
	copy(out, forwardOrder[:])
	return out
}

// Index 返回状态在正向顺序中的位置；canceled 或未知状态返回 -1
func (s OrderStatus) Index() int {
	if i, ok := forwardIndex[s]; ok {
		return i
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	return s == OrderStatusCanceled || s.Index() >= 0
}

func (s OrderStatus) IsCanceled() bool {
	return s == OrderStatusCanceled
}

// ChargesShipping 进入这些状态时按重量结算运费
func (s OrderStatus) ChargesShipping() bool {
	return s == OrderStatusArrivedToChina || s == OrderStatusShippingToLibya
}

// RateSnapshot 计费时冻结的运费价目快照，价目表后续修改不影响历史订单
type RateSnapshot struct {
	Name  string              `gorm:"type:varchar(128)" json:"name,omitempty"`
	Price decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"price"`
	Type  ShippingType        `gorm:"type:varchar(8)" json:"type,omitempty"`
}

// Order 包裹订单
type Order struct {
	ID             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	TrackingNumber string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"tracking_number"`
	Name           string              `gorm:"type:varchar(255)" json:"name"`
	ProductURL     string              `gorm:"type:varchar(1024)" json:"product_url"`
	Status         OrderStatus         `gorm:"type:varchar(32);index;not null" json:"status"`
	Weight         decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"weight"`
	ShippingRateID *int64              `gorm:"index" json:"shipping_rate_id"`
	ShippingCost   decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"shipping_cost"`
	RateSnapshot   RateSnapshot        `gorm:"embedded;embeddedPrefix:shipping_rate_" json:"shipping_rate_snapshot"`
	USDPrice       decimal.Decimal     `gorm:"type:decimal(18,2);not null;default:0" json:"usd_price"`
	CNYPrice       decimal.Decimal     `gorm:"type:decimal(18,2);not null;default:0" json:"cny_price"`
	CustomerID     *int64              `gorm:"index" json:"customer_id"`
	Country        string              `gorm:"type:varchar(8);not null;default:CN" json:"country"`
	FlightNumber   string              `gorm:"type:varchar(64)" json:"flight_number"`
	Notes          string              `gorm:"type:text" json:"notes"`
	Version        int                 `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`

	Customer     *Customer     `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	ShippingRate *ShippingRate `gorm:"foreignKey:ShippingRateID" json:"shipping_rate,omitempty"`
	Logs         []OrderLog    `gorm:"foreignKey:OrderID" json:"logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// ShippingCostOrZero 未计费时按 0 处理
func (o *Order) ShippingCostOrZero() decimal.Decimal {
	if o.ShippingCost.Valid {
		return o.ShippingCost.Decimal
	}
	return decimal.Zero
}

// OrderLog 状态变更日志，只追加
type OrderLog struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64       `gorm:"index;not null" json:"order_id"`
	Status    OrderStatus `gorm:"type:varchar(32);not null" json:"status"`
	Note      string      `gorm:"type:varchar(512)" json:"note,omitempty"`
	CreatedBy int64       `gorm:"not null;default:0" json:"created_by"`
	CreatedAt time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_log"
}
