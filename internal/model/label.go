package model

import "fmt"

// originWarehouses 发货地区 -> 集运仓名称
var originWarehouses = map[string]string{
	"CN": "China",
	"AE": "Dubai",
	"TR": "Turkey",
}

// OriginWarehouse 返回发货地区对应的集运仓名称，未知地区按中国仓处理
func OriginWarehouse(country string) string {
	if name, ok := originWarehouses[country]; ok {
		return name
	}
	return originWarehouses["CN"]
}

// StatusLabel 面向客户展示的状态文案，和发货地区相关
func StatusLabel(status OrderStatus, country string) string {
	origin := OriginWarehouse(country)
	switch status {
	case OrderStatusPurchased:
		return "Purchased"
	case OrderStatusArrivedToChina:
		return fmt.Sprintf("Arrived at %s warehouse", origin)
	case OrderStatusShippingToLibya:
		return fmt.Sprintf("Shipping from %s to Libya", origin)
	case OrderStatusArrivedLibya:
		return "Arrived at Libya warehouse"
	case OrderStatusReadyForPickup:
		return "Ready for pickup"
	case OrderStatusDelivered:
		return "Delivered"
	case OrderStatusCanceled:
		return "Canceled"
	default:
		return string(status)
	}
}
