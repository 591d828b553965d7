package service

import (
	"github.com/shopspring/decimal"

	"freightdesk/internal/apperr"
	"freightdesk/internal/model"
)

// 与数据库列精度一致：金额 decimal(18,2)，重量 decimal(12,3)，单价 decimal(18,4)
// 超出精度的输入直接拒绝，否则入库截断后重算运费会产生差额
const (
	moneyPlaces  int32 = 2
	weightPlaces int32 = 3
	pricePlaces  int32 = 4
)

func withinPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Round(places))
}

// CostResult 一次运费计算的结果
type CostResult struct {
	NewCost decimal.Decimal
	// Delta = NewCost - 已收运费，正数表示需要补扣
	Delta   decimal.Decimal
	changed bool
}

// Changed 差额超过 epsilon 时才需要记账
func (r CostResult) Changed() bool {
	return r.changed
}

// ShippingCostCalculator 按重量 × 单价计算运费，并给出与已收运费的差额
type ShippingCostCalculator struct {
	epsilon decimal.Decimal
}

func NewShippingCostCalculator(epsilon float64) *ShippingCostCalculator {
	return &ShippingCostCalculator{epsilon: decimal.NewFromFloat(epsilon)}
}

// CheckMethod 运输方式一旦确定就不能在 AIR/SEA 之间切换
// existing 为空表示订单还没有关联过价目
func (c *ShippingCostCalculator) CheckMethod(existing model.ShippingType, rate *model.ShippingRate) error {
	if existing == "" || rate == nil {
		return nil
	}
	if existing != rate.Type {
		return apperr.ErrShippingMethodChange
	}
	return nil
}

// Compute 计算新运费，金额保留两位小数
func (c *ShippingCostCalculator) Compute(order *model.Order, weight decimal.Decimal, rate *model.ShippingRate) (CostResult, error) {
	if rate == nil {
		return CostResult{}, apperr.Validation("shipping rate is required to compute shipping cost")
	}
	if weight.IsNegative() {
		return CostResult{}, apperr.Validation("weight must not be negative")
	}
	if err := c.CheckMethod(order.RateSnapshot.Type, rate); err != nil {
		return CostResult{}, err
	}

	newCost := weight.Mul(rate.Price).Round(2)
	delta := newCost.Sub(order.ShippingCostOrZero())
	return CostResult{
		NewCost: newCost,
		Delta:   delta,
		changed: delta.Abs().GreaterThan(c.epsilon),
	}, nil
}
