package service

import (
	"freightdesk/internal/apperr"
	"freightdesk/internal/model"
)

// CheckTransition 校验状态流转
//
// 规则：
//   - canceled 是终态，之后任何修改都拒绝
//   - 任意非终态都可以取消；delivered 之后不允许取消
//   - 正向最多前进一步，不能跳过中间状态
//   - 允许回退（仓库录错状态时纠正），包括从 delivered 回退
//   - requested == current 视为未修改状态
func CheckTransition(current, requested model.OrderStatus) error {
	if current.IsCanceled() {
		return apperr.ErrOrderCanceled
	}
	if !requested.Valid() {
		return apperr.Validation("unknown status %q", requested)
	}
	if requested == current {
		return nil
	}
	if requested.IsCanceled() {
		if current == model.OrderStatusDelivered {
			return apperr.ErrCancelAfterDelivery
		}
		return nil
	}
	if requested.Index() > current.Index()+1 {
		return apperr.ErrStatusSkip
	}
	return nil
}

// NextStatuses 返回从 current 出发合法的目标状态，按正向顺序，canceled 放在最后
func NextStatuses(current model.OrderStatus) []model.OrderStatus {
	var out []model.OrderStatus
	for _, s := range model.ForwardStatuses() {
		if s != current && CheckTransition(current, s) == nil {
			out = append(out, s)
		}
	}
	if CheckTransition(current, model.OrderStatusCanceled) == nil {
		out = append(out, model.OrderStatusCanceled)
	}
	return out
}
