package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freightdesk/internal/apperr"
	"freightdesk/internal/model"
	"freightdesk/internal/repository"
	"freightdesk/internal/service"
	"freightdesk/pkg/response"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	orders    *service.OrderService
	ledger    *service.LedgerService
	customers *service.CustomerService
	rates     *service.ShippingRateService
	log       *zap.Logger
}

func NewHandler(
	orders *service.OrderService,
	ledger *service.LedgerService,
	customers *service.CustomerService,
	rates *service.ShippingRateService,
	log *zap.Logger,
) *Handler {
	return &Handler{
		orders:    orders,
		ledger:    ledger,
		customers: customers,
		rates:     rates,
		log:       log.Named("http"),
	}
}

// fail 内部错误记日志，其余按类型直接返回
func (h *Handler) fail(c *gin.Context, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err),
		)
	}
	response.FromError(c, err)
}

func bindJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid id %q", c.Param("id"))
	}
	return id, nil
}

// queryValue 取第一个非空的查询参数，后面的 key 是兼容的别名
func queryValue(c *gin.Context, keys ...string) (string, string) {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			return key, v
		}
	}
	return keys[0], ""
}

func queryInt64(c *gin.Context, keys ...string) (*int64, error) {
	key, raw := queryValue(c, keys...)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.Validation("%s must be an integer", key)
	}
	return &v, nil
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(repository.DefaultPageSize)))
	if page < 1 {
		page = 1
	}
	_, limit := repository.Page(page, pageSize)
	return page, limit
}

// queryDate 支持 2006-01-02 和 RFC3339；endOfDay 为 true 时纯日期取当天最后一刻
func queryDate(c *gin.Context, endOfDay bool, keys ...string) (*time.Time, error) {
	key, raw := queryValue(c, keys...)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.Validation("%s must be YYYY-MM-DD or RFC3339", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// OrderView 订单详情，附带展示文案和可选的下一步状态
type OrderView struct {
	*model.Order
	StatusLabel  string              `json:"status_label"`
	NextStatuses []model.OrderStatus `json:"next_statuses"`
}

func newOrderView(o *model.Order) OrderView {
	return OrderView{
		Order:        o,
		StatusLabel:  model.StatusLabel(o.Status, o.Country),
		NextStatuses: service.NextStatuses(o.Status),
	}
}

// ============================================================
// 订单
// ============================================================

// CreateOrder POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	order, err := h.orders.CreateOrder(c.Request.Context(), currentActor(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, newOrderView(order))
}

// GetOrder GET /api/v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newOrderView(order))
}

// ListOrders GET /api/v1/orders?customer_id=&status=&search=&page=&page_size=
func (h *Handler) ListOrders(c *gin.Context) {
	customerID, err := queryInt64(c, "customer_id", "customerId")
	if err != nil {
		h.fail(c, err)
		return
	}
	page, pageSize := pageParams(c)

	orders, total, err := h.orders.ListOrders(c.Request.Context(), repository.OrderFilter{
		CustomerID: customerID,
		Status:     model.OrderStatus(c.Query("status")),
		Search:     strings.TrimSpace(c.Query("search")),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	response.Success(c, response.PageData{Items: views, Total: total, Page: page, PageSize: pageSize})
}

// UpdateOrder PATCH /api/v1/orders/:id
func (h *Handler) UpdateOrder(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req service.UpdateOrderRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}

	order, err := h.orders.UpdateOrder(c.Request.Context(), currentActor(c), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, newOrderView(order))
}

// ============================================================
// 客户
// ============================================================

// CreateCustomer POST /api/v1/customers
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req service.CreateCustomerRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	customer, err := h.customers.CreateCustomer(c.Request.Context(), currentActor(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, customer)
}

// GetCustomer GET /api/v1/customers/:id
func (h *Handler) GetCustomer(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	customer, err := h.customers.GetCustomer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

// RegisterDevice POST /api/v1/customers/:id/devices
func (h *Handler) RegisterDevice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req service.RegisterDeviceRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	device, err := h.customers.RegisterDevice(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, device)
}

// ============================================================
// 钱包流水
// ============================================================

// CreateTransaction POST /api/v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req service.CreateTransactionRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	txn, err := h.ledger.CreateTransaction(c.Request.Context(), currentActor(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, txn)
}

// ListTransactions GET /api/v1/transactions?customer_id=&currency=&type=&start_date=&end_date=&search=&page=&page_size=
// customerId、startDate、endDate 作为别名同样支持
func (h *Handler) ListTransactions(c *gin.Context) {
	customerID, err := queryInt64(c, "customer_id", "customerId")
	if err != nil {
		h.fail(c, err)
		return
	}
	start, err := queryDate(c, false, "start_date", "startDate")
	if err != nil {
		h.fail(c, err)
		return
	}
	end, err := queryDate(c, true, "end_date", "endDate")
	if err != nil {
		h.fail(c, err)
		return
	}
	page, pageSize := pageParams(c)

	txns, total, err := h.ledger.ListTransactions(c.Request.Context(), currentActor(c), repository.TransactionFilter{
		CustomerID: customerID,
		Currency:   model.Currency(strings.ToUpper(c.Query("currency"))),
		Type:       model.TransactionType(strings.ToUpper(c.Query("type"))),
		StartDate:  start,
		EndDate:    end,
		Search:     strings.TrimSpace(c.Query("search")),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, response.PageData{Items: txns, Total: total, Page: page, PageSize: pageSize})
}

// ============================================================
// 运费价目
// ============================================================

// ListShippingRates GET /api/v1/shipping-rates?country=&type=
func (h *Handler) ListShippingRates(c *gin.Context) {
	rates, err := h.rates.ListRates(c.Request.Context(), c.Query("country"), model.ShippingType(strings.ToUpper(c.Query("type"))))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, rates)
}

// CreateShippingRate POST /api/v1/shipping-rates
func (h *Handler) CreateShippingRate(c *gin.Context) {
	var req service.ShippingRateRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	rate, err := h.rates.CreateRate(c.Request.Context(), currentActor(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, rate)
}

// UpdateShippingRate PUT /api/v1/shipping-rates/:id
func (h *Handler) UpdateShippingRate(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req service.ShippingRateRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	rate, err := h.rates.UpdateRate(c.Request.Context(), currentActor(c), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, rate)
}
