package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightdesk/internal/apperr"
	"freightdesk/internal/config"
	"freightdesk/internal/infrastructure/lock"
	"freightdesk/internal/infrastructure/notify"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository"
	"freightdesk/pkg/idgen"
)

// 运费按美元计价，从客户 USD 钱包扣除
const shippingCurrency = model.CurrencyUSD

type OrderService struct {
	store         repository.Store
	locker        Locker
	rates         RateSource
	calculator    *ShippingCostCalculator
	ledger        *LedgerService
	notifier      notify.Notifier
	topic         string
	notifyTimeout time.Duration
	log           *zap.Logger

	// 未完成的异步推送，优雅退出时等待
	inflight sync.WaitGroup
}

func NewOrderService(
	store repository.Store,
	locker Locker,
	rates RateSource,
	ledger *LedgerService,
	notifier notify.Notifier,
	cfg *config.Config,
	log *zap.Logger,
) *OrderService {
	timeout := cfg.Business.NotificationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OrderService{
		store:         store,
		locker:        locker,
		rates:         rates,
		calculator:    NewShippingCostCalculator(cfg.Business.CostEpsilon),
		ledger:        ledger,
		notifier:      notifier,
		topic:         cfg.Kafka.Topic.OrderStatus,
		notifyTimeout: timeout,
		log:           log.Named("order"),
	}
}

// Wait 等待已发出的推送结束
func (s *OrderService) Wait() {
	s.inflight.Wait()
}

type CreateOrderRequest struct {
	TrackingNumber string          `json:"tracking_number"`
	Name           string          `json:"name" binding:"required"`
	ProductURL     string          `json:"product_url"`
	USDPrice       decimal.Decimal `json:"usd_price"`
	CNYPrice       decimal.Decimal `json:"cny_price"`
	CustomerID     *int64          `json:"customer_id"`
	Country        string          `json:"country"`
	Notes          string          `json:"notes"`
}

// CreateOrder 录入新订单，初始状态 purchased，同时写第一条状态日志
func (s *OrderService) CreateOrder(ctx context.Context, actor policy.Actor, req *CreateOrderRequest) (*model.Order, error) {
	if !policy.CanCreateOrders(actor.Role) {
		return nil, apperr.Forbidden(fmt.Sprintf("role %s may not create orders", actor.Role))
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if req.USDPrice.IsNegative() || req.CNYPrice.IsNegative() {
		return nil, apperr.Validation("prices must not be negative")
	}
	if !withinPlaces(req.USDPrice, moneyPlaces) || !withinPlaces(req.CNYPrice, moneyPlaces) {
		return nil, apperr.Validation("prices support at most %d decimal places", moneyPlaces)
	}
	if req.CustomerID != nil {
		if _, err := s.store.GetCustomer(ctx, *req.CustomerID); err != nil {
			if errors.Is(err, repository.ErrCustomerNotFound) {
				return nil, apperr.Validation("customer %d does not exist", *req.CustomerID)
			}
			return nil, fmt.Errorf("查询客户失败: %w", err)
		}
	}

	trackingNumber := strings.TrimSpace(req.TrackingNumber)
	if trackingNumber == "" {
		trackingNumber = idgen.GenerateTrackingNumber()
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		country = "CN"
	}

	order := &model.Order{
		TrackingNumber: trackingNumber,
		Name:           strings.TrimSpace(req.Name),
		ProductURL:     req.ProductURL,
		Status:         model.OrderStatusPurchased,
		USDPrice:       req.USDPrice,
		CNYPrice:       req.CNYPrice,
		CustomerID:     req.CustomerID,
		Country:        country,
		Notes:          req.Notes,
	}

	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicateTrackingNumber) {
				return apperr.Conflict(fmt.Sprintf("tracking number %s already exists", order.TrackingNumber))
			}
			return fmt.Errorf("创建订单失败: %w", err)
		}
		return s.recordStatusChange(ctx, tx, order, "", actor.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("订单创建成功",
		zap.Int64("order_id", order.ID),
		zap.String("tracking_number", order.TrackingNumber),
		zap.Int64("actor_id", actor.ID),
	)
	return s.GetOrder(ctx, order.ID)
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperr.NotFound("order")
		}
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperr.Validation("unknown status %q", filter.Status)
	}
	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("查询订单列表失败: %w", err)
	}
	return orders, total, nil
}

// UpdateOrderRequest PATCH 请求体，nil 表示未提交该字段
type UpdateOrderRequest struct {
	Status         *model.OrderStatus `json:"status"`
	Weight         *decimal.Decimal   `json:"weight"`
	TrackingNumber *string            `json:"tracking_number"`
	Name           *string            `json:"name"`
	USDPrice       *decimal.Decimal   `json:"usd_price"`
	CNYPrice       *decimal.Decimal   `json:"cny_price"`
	ProductURL     *string            `json:"product_url"`
	Notes          *string            `json:"notes"`
	ShippingRateID *int64             `json:"shipping_rate_id"`
	FlightNumber   *string            `json:"flight_number"`
	// Version 客户端读到的版本号，提交时不一致返回 409
	Version *int `json:"version"`
}

// UnmarshalJSON 兼容 shippingRateId、flightNumber 两个驼峰字段名，同时出现时以下划线字段为准
func (r *UpdateOrderRequest) UnmarshalJSON(data []byte) error {
	type plain UpdateOrderRequest
	var aux struct {
		plain
		ShippingRateIDAlias *int64  `json:"shippingRateId"`
		FlightNumberAlias   *string `json:"flightNumber"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = UpdateOrderRequest(aux.plain)
	if r.ShippingRateID == nil {
		r.ShippingRateID = aux.ShippingRateIDAlias
	}
	if r.FlightNumber == nil {
		r.FlightNumber = aux.FlightNumberAlias
	}
	return nil
}

// EditedFields 请求里出现的字段，不含 status 和 version
func (r *UpdateOrderRequest) EditedFields() []string {
	var out []string
	add := func(present bool, field string) {
		if present {
			out = append(out, field)
		}
	}
	add(r.Name != nil, policy.FieldName)
	add(r.USDPrice != nil, policy.FieldUSDPrice)
	add(r.CNYPrice != nil, policy.FieldCNYPrice)
	add(r.ProductURL != nil, policy.FieldProductURL)
	add(r.Notes != nil, policy.FieldNotes)
	add(r.TrackingNumber != nil, policy.FieldTrackingNumber)
	add(r.Weight != nil, policy.FieldWeight)
	add(r.ShippingRateID != nil, policy.FieldShippingRateID)
	add(r.FlightNumber != nil, policy.FieldFlightNumber)
	return out
}

func (r *UpdateOrderRequest) validate() error {
	if r.Status == nil && len(r.EditedFields()) == 0 {
		return apperr.Validation("request body has no updatable fields")
	}
	if r.Status != nil && !r.Status.Valid() {
		return apperr.Validation("unknown status %q", *r.Status)
	}
	if r.Weight != nil {
		if r.Weight.IsNegative() {
			return apperr.Validation("weight must not be negative")
		}
		if !withinPlaces(*r.Weight, weightPlaces) {
			return apperr.Validation("weight supports at most %d decimal places", weightPlaces)
		}
	}
	for _, price := range []*decimal.Decimal{r.USDPrice, r.CNYPrice} {
		if price == nil {
			continue
		}
		if price.IsNegative() {
			return apperr.Validation("prices must not be negative")
		}
		if !withinPlaces(*price, moneyPlaces) {
			return apperr.Validation("prices support at most %d decimal places", moneyPlaces)
		}
	}
	if r.TrackingNumber != nil && strings.TrimSpace(*r.TrackingNumber) == "" {
		return apperr.Validation("tracking_number must not be empty")
	}
	if r.ShippingRateID != nil && *r.ShippingRateID <= 0 {
		return apperr.Validation("shipping_rate_id must be a positive id")
	}
	return nil
}

func (r *UpdateOrderRequest) applyTo(order *model.Order) {
	if r.Name != nil {
		order.Name = strings.TrimSpace(*r.Name)
	}
	if r.USDPrice != nil {
		order.USDPrice = *r.USDPrice
	}
	if r.CNYPrice != nil {
		order.CNYPrice = *r.CNYPrice
	}
	if r.ProductURL != nil {
		order.ProductURL = *r.ProductURL
	}
	if r.Notes != nil {
		order.Notes = *r.Notes
	}
	if r.TrackingNumber != nil {
		order.TrackingNumber = strings.TrimSpace(*r.TrackingNumber)
	}
	if r.Weight != nil {
		order.Weight = decimal.NewNullDecimal(*r.Weight)
	}
	if r.FlightNumber != nil {
		order.FlightNumber = *r.FlightNumber
	}
}

// UpdateOrder 订单修改的唯一入口
//
// 流程：
//  0. 校验请求，获取订单分布式锁
//  1. 事务内锁定订单行
//  2. 已取消订单拒绝一切修改
//  3. 角色权限校验（状态 + 字段）
//  4. 状态流转校验、版本号校验
//  5. 进入计费状态且重量、价目齐全时计算运费，差额记入客户钱包
//  6. 更新订单，状态变化时追加日志并写 outbox，全部在同一事务提交
//  7. 提交后异步推送，失败只记日志
func (s *OrderService) UpdateOrder(ctx context.Context, actor policy.Actor, orderID int64, req *UpdateOrderRequest) (*model.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.OrderLockKey(orderID))
	if err != nil {
		return nil, lockError(err, "order is being modified by another request, retry later")
	}
	defer release()

	var (
		changed bool
		updated model.Order
	)
	err = s.store.Transaction(ctx, func(tx repository.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return apperr.NotFound("order")
			}
			return fmt.Errorf("锁定订单失败: %w", err)
		}

		if order.Status.IsCanceled() {
			return apperr.ErrOrderCanceled
		}

		current := order.Status
		requested := current
		if req.Status != nil {
			requested = *req.Status
		}

		if d := policy.Evaluate(actor.Role, current, requested, req.EditedFields()); !d.Allowed {
			return apperr.Forbidden(d.Reason)
		}
		if err := CheckTransition(current, requested); err != nil {
			return err
		}
		if req.Version != nil && *req.Version != order.Version {
			return apperr.ErrConcurrentModification
		}

		var rate *model.ShippingRate
		if req.ShippingRateID != nil {
			if rate, err = s.lookupRate(ctx, *req.ShippingRateID); err != nil {
				return err
			}
			existing, err := s.existingMethod(ctx, order)
			if err != nil {
				return err
			}
			if err := s.calculator.CheckMethod(existing, rate); err != nil {
				return err
			}
			order.ShippingRateID = &rate.ID
			// 已计费订单的快照只在计费时刷新，和已收的运费保持一致
			if !order.ShippingCost.Valid {
				order.RateSnapshot = rate.Snapshot()
			}
		}

		req.applyTo(order)
		order.Status = requested

		if requested.ChargesShipping() && order.Weight.Valid && order.ShippingRateID != nil {
			if rate == nil {
				if rate, err = s.lookupRate(ctx, *order.ShippingRateID); err != nil {
					return err
				}
			}
			if err := s.chargeShipping(ctx, tx, actor, order, rate); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrder(ctx, order); err != nil {
			switch {
			case errors.Is(err, repository.ErrVersionConflict):
				return apperr.ErrConcurrentModification
			case errors.Is(err, repository.ErrDuplicateTrackingNumber):
				return apperr.Conflict(fmt.Sprintf("tracking number %s already exists", order.TrackingNumber))
			}
			return fmt.Errorf("更新订单失败: %w", err)
		}

		if requested != current {
			changed = true
			if err := s.recordStatusChange(ctx, tx, order, current, actor.ID); err != nil {
				return err
			}
		}
		updated = *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("订单状态变更",
			zap.Int64("order_id", updated.ID),
			zap.String("status", string(updated.Status)),
			zap.Int64("actor_id", actor.ID),
			zap.String("role", string(actor.Role)),
		)
		s.notifyStatusChange(&updated)
	}

	// 已提交，重新加载失败时返回事务内的结果，避免调用方重试已生效的修改
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		s.log.Warn("重新加载订单失败，返回提交时的数据", zap.Int64("order_id", orderID), zap.Error(err))
		return &updated, nil
	}
	return order, nil
}

// chargeShipping 重新计算运费并刷新快照，差额超过 epsilon 才改运费并记账
func (s *OrderService) chargeShipping(ctx context.Context, tx repository.Tx, actor policy.Actor, order *model.Order, rate *model.ShippingRate) error {
	res, err := s.calculator.Compute(order, order.Weight.Decimal, rate)
	if err != nil {
		return err
	}
	order.RateSnapshot = rate.Snapshot()
	if !res.Changed() {
		return nil
	}

	order.ShippingCost = decimal.NewNullDecimal(res.NewCost)
	if order.CustomerID == nil {
		return nil
	}

	orderID := order.ID
	_, err = s.ledger.ApplyDelta(ctx, tx, DeltaRequest{
		CustomerID: *order.CustomerID,
		Currency:   shippingCurrency,
		Delta:      res.Delta,
		ActorID:    actor.ID,
		Memo:       fmt.Sprintf("shipping cost for order %s (%s)", order.TrackingNumber, rate.Name),
		OrderID:    &orderID,
	})
	return err
}

func (s *OrderService) lookupRate(ctx context.Context, id int64) (*model.ShippingRate, error) {
	rate, err := s.rates.GetRate(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("shipping rate %d does not exist", id)
		}
		return nil, err
	}
	return rate, nil
}

// existingMethod 订单已确定的运输方式：优先取快照，没有快照时取当前关联的价目
func (s *OrderService) existingMethod(ctx context.Context, order *model.Order) (model.ShippingType, error) {
	if order.RateSnapshot.Type != "" {
		return order.RateSnapshot.Type, nil
	}
	if order.ShippingRateID == nil {
		return "", nil
	}
	rate, err := s.rates.GetRate(ctx, *order.ShippingRateID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return "", nil
		}
		return "", err
	}
	return rate.Type, nil
}

// recordStatusChange 追加状态日志并写 outbox，from 为空表示新建订单
func (s *OrderService) recordStatusChange(ctx context.Context, tx repository.Tx, order *model.Order, from model.OrderStatus, actorID int64) error {
	label := model.StatusLabel(order.Status, order.Country)
	if err := tx.AppendOrderLog(ctx, &model.OrderLog{
		OrderID:   order.ID,
		Status:    order.Status,
		Note:      label,
		CreatedBy: actorID,
	}); err != nil {
		return fmt.Errorf("写入状态日志失败: %w", err)
	}

	msg, err := newOutboxMessage(s.topic, order.TrackingNumber, model.EventOrderStatusChanged, OrderStatusEvent{
		EventType:      model.EventOrderStatusChanged,
		OrderID:        order.ID,
		TrackingNumber: order.TrackingNumber,
		CustomerID:     order.CustomerID,
		From:           from,
		To:             order.Status,
		Label:          label,
		ActorID:        actorID,
		OccurredAt:     time.Now(),
	})
	if err != nil {
		return err
	}
	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// notifyStatusChange 事务提交后推送给客户的所有设备，不影响请求结果
func (s *OrderService) notifyStatusChange(order *model.Order) {
	if s.notifier == nil || order.CustomerID == nil {
		return
	}

	customerID := *order.CustomerID
	title := fmt.Sprintf("Order %s", order.TrackingNumber)
	body := model.StatusLabel(order.Status, order.Country)
	data := map[string]string{
		"order_id":        strconv.FormatInt(order.ID, 10),
		"tracking_number": order.TrackingNumber,
		"status":          string(order.Status),
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("推送通知 panic", zap.Int64("customer_id", customerID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		tokens, err := s.store.ListPushTokens(ctx, customerID)
		if err != nil {
			s.log.Warn("查询推送设备失败", zap.Int64("customer_id", customerID), zap.Error(err))
			return
		}
		if len(tokens) == 0 {
			return
		}
		if err := s.notifier.Notify(ctx, tokens, title, body, data); err != nil {
			s.log.Warn("推送通知失败",
				zap.Int64("customer_id", customerID),
				zap.String("tracking_number", order.TrackingNumber),
				zap.Error(err),
			)
		}
	}()
}
