package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"freightdesk/internal/model"
)

// OrderStatusEvent 订单状态变更事件，写入 outbox 后投递到 Kafka
type OrderStatusEvent struct {
	EventType      string            `json:"event_type"`
	OrderID        int64             `json:"order_id"`
	TrackingNumber string            `json:"tracking_number"`
	CustomerID     *int64            `json:"customer_id,omitempty"`
	From           model.OrderStatus `json:"from"`
	To             model.OrderStatus `json:"to"`
	Label          string            `json:"label"`
	ActorID        int64             `json:"actor_id"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// LedgerEvent 钱包流水事件
type LedgerEvent struct {
	EventType     string                `json:"event_type"`
	TransactionNo string                `json:"transaction_no"`
	CustomerID    int64                 `json:"customer_id"`
	OrderID       *int64                `json:"order_id,omitempty"`
	Type          model.TransactionType `json:"type"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      model.Currency        `json:"currency"`
	BalanceAfter  decimal.Decimal       `json:"balance_after"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

func newOutboxMessage(topic, key, eventType string, payload interface{}) (*model.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(data),
		Status:     model.OutboxStatusPending,
	}, nil
}
