// Package policy decides which order statuses and fields each back-office role may touch.
// It is pure data lookup with no I/O.
package policy

import (
	"fmt"
	"sort"

	"freightdesk/internal/model"
)

type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RolePurchaseOfficer Role = "PURCHASE_OFFICER"
	RoleChinaWarehouse  Role = "CHINA_WAREHOUSE"
	RoleLibyaWarehouse  Role = "LIBYA_WAREHOUSE"
)

// Actor 请求发起人，由认证中间件注入
type Actor struct {
	ID   int64
	Role Role
}

// 可编辑字段名，与 PATCH /orders/:id 的 JSON 字段一致
const (
	FieldName           = "name"
	FieldUSDPrice       = "usd_price"
	FieldCNYPrice       = "cny_price"
	FieldProductURL     = "product_url"
	FieldNotes          = "notes"
	FieldTrackingNumber = "tracking_number"
	FieldWeight         = "weight"
	FieldShippingRateID = "shipping_rate_id"
	FieldFlightNumber   = "flight_number"
)

type statusSet map[model.OrderStatus]struct{}

type fieldSet map[string]struct{}

func statuses(list ...model.OrderStatus) statusSet {
	s := make(statusSet, len(list))
	for _, v := range list {
		s[v] = struct{}{}
	}
	return s
}

func fields(list ...string) fieldSet {
	s := make(fieldSet, len(list))
	for _, v := range list {
		s[v] = struct{}{}
	}
	return s
}

// rule nil 的集合表示不限制
type rule struct {
	canChangeStatus bool
	allowedStatuses statusSet
	allowedFields   fieldSet
}

var warehouseFields = fields(FieldWeight, FieldShippingRateID, FieldFlightNumber, FieldNotes, FieldTrackingNumber)

var rules = map[Role]rule{
	RoleAdmin: {
		canChangeStatus: true,
	},
	RolePurchaseOfficer: {
		canChangeStatus: false,
		allowedFields:   fields(FieldName, FieldUSDPrice, FieldCNYPrice, FieldProductURL, FieldNotes, FieldTrackingNumber),
	},
	RoleChinaWarehouse: {
		canChangeStatus: true,
		allowedStatuses: statuses(model.OrderStatusPurchased, model.OrderStatusArrivedToChina, model.OrderStatusShippingToLibya),
		allowedFields:   warehouseFields,
	},
	RoleLibyaWarehouse: {
		canChangeStatus: true,
		allowedStatuses: statuses(model.OrderStatusShippingToLibya, model.OrderStatusArrivedLibya, model.OrderStatusReadyForPickup, model.OrderStatusDelivered),
		allowedFields:   warehouseFields,
	},
}

// Decision is the outcome of Evaluate. Reason is set when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Evaluate checks whether role may move an order from current to requested and edit
// editedFields. An empty requested status means no status change was asked for.
func Evaluate(role Role, current, requested model.OrderStatus, editedFields []string) Decision {
	r, ok := rules[role]
	if !ok {
		return deny("unrecognized role")
	}

	if requested != "" && requested != current {
		if !r.canChangeStatus {
			return deny("role %s may not change order status", role)
		}
		if r.allowedStatuses != nil {
			if _, ok := r.allowedStatuses[current]; !ok {
				return deny("role %s may not change status of an order in %s", role, current)
			}
			if _, ok := r.allowedStatuses[requested]; !ok {
				return deny("role %s may not set status %s", role, requested)
			}
		}
	}

	if r.allowedFields != nil {
		var denied []string
		for _, f := range editedFields {
			if _, ok := r.allowedFields[f]; !ok {
				denied = append(denied, f)
			}
		}
		if len(denied) > 0 {
			sort.Strings(denied)
			return deny("role %s may not edit fields %v", role, denied)
		}
	}

	return allow()
}

// CanCreateOrders 下单（录入采购）权限
func CanCreateOrders(role Role) bool {
	return role == RoleAdmin || role == RolePurchaseOfficer
}

// CanManageLedger 钱包充值/扣款和流水查询只允许管理员
func CanManageLedger(role Role) bool {
	return role == RoleAdmin
}

func CanManageRates(role Role) bool {
	return role == RoleAdmin
}
