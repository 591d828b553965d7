package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"freightdesk/internal/config"
	"freightdesk/internal/infrastructure/lock"
	"freightdesk/internal/infrastructure/notify"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository/memory"
	"freightdesk/internal/service"
	"freightdesk/pkg/response"
)

var (
	admin   = policy.Actor{ID: 1, Role: policy.RoleAdmin}
	buyer   = policy.Actor{ID: 2, Role: policy.RolePurchaseOfficer}
	chinaWH = policy.Actor{ID: 3, Role: policy.RoleChinaWarehouse}
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	auth   *Authenticator
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zaptest.NewLogger(t)
	cfg := config.Default()
	cfg.Auth = config.AuthConfig{JWTSecret: "test-secret", Issuer: "freightdesk"}

	store := memory.NewStore()
	locker := lock.NewLocker(rdb, cfg.Business.LockTTL, 5*time.Millisecond, 100)
	rates := service.NewShippingRateService(store, rdb, time.Minute, log)
	ledger := service.NewLedgerService(store, locker, cfg.Kafka.Topic.Ledger, log)
	orders := service.NewOrderService(store, locker, rates, ledger, notify.NewLogNotifier(log), cfg, log)
	t.Cleanup(orders.Wait)
	customers := service.NewCustomerService(store)

	auth := NewAuthenticator(cfg.Auth)
	h := NewHandler(orders, ledger, customers, rates, log)
	return &testServer{router: SetupRouter(h, auth, log), auth: auth, store: store}
}

func (s *testServer) token(t *testing.T, actor policy.Actor) string {
	t.Helper()
	tok, err := s.auth.Issue(actor, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, actor *policy.Actor, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, *actor))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// seed 建客户、充值、建价目、建订单
func (s *testServer) seed(t *testing.T, deposit string) (customerID, rateID, orderID int64) {
	t.Helper()

	status, env := s.do(t, &buyer, http.MethodPost, "/api/v1/customers", map[string]string{"name": "Salem"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	customerID = decode[model.Customer](t, env.Data).ID

	if deposit != "" {
		status, env = s.do(t, &admin, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"customer_id": customerID, "type": "DEPOSIT", "amount": deposit, "currency": "USD",
		})
		require.Equal(t, http.StatusCreated, status, env.Message)
	}

	status, env = s.do(t, &admin, http.MethodPost, "/api/v1/shipping-rates", map[string]interface{}{
		"type": "AIR", "name": "Air standard", "price": "8.0", "country": "CN",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	rateID = decode[model.ShippingRate](t, env.Data).ID

	status, env = s.do(t, &buyer, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"name": "Headphones", "usd_price": "45.00", "customer_id": customerID,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	orderID = decode[OrderView](t, env.Data).ID
	return customerID, rateID, orderID
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, nil, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := NewAuthenticator(config.AuthConfig{JWTSecret: "other-secret", Issuer: "freightdesk"})
	forged, err := other.Issue(admin, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := s.auth.Issue(admin, -time.Hour)
	require.NoError(t, err)
	_, err = s.auth.Parse(expired)
	assert.Error(t, err)

	actor, err := s.auth.Parse(s.token(t, chinaWH))
	require.NoError(t, err)
	assert.Equal(t, chinaWH, actor)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPatchOrder_ChargesShipping(t *testing.T) {
	s := newTestServer(t)
	customerID, rateID, orderID := s.seed(t, "100")

	status, env := s.do(t, &chinaWH, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d", orderID), map[string]interface{}{
		"status": "arrived_to_china", "weight": 10, "shipping_rate_id": rateID,
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	view := decode[OrderView](t, env.Data)
	assert.Equal(t, model.OrderStatusArrivedToChina, view.Status)
	assert.Equal(t, "Arrived at China warehouse", view.StatusLabel)
	assert.True(t, view.ShippingCost.Decimal.Equal(decimal.NewFromInt(80)))
	require.NotNil(t, view.Customer)
	assert.True(t, view.Customer.BalanceUSD.Equal(decimal.NewFromInt(20)))
	require.NotNil(t, view.ShippingRate)
	assert.Len(t, view.Logs, 2)
	assert.Contains(t, view.NextStatuses, model.OrderStatusShippingToLibya)

	status, env = s.do(t, &admin, http.MethodGet, fmt.Sprintf("/api/v1/transactions?customer_id=%d&type=withdrawal", customerID), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	page := decode[struct {
		Items []model.Transaction `json:"items"`
		Total int64               `json:"total"`
	}](t, env.Data)
	require.EqualValues(t, 1, page.Total)
	assert.True(t, page.Items[0].Amount.Equal(decimal.NewFromInt(80)))
	assert.True(t, page.Items[0].BalanceAfter.Equal(decimal.NewFromInt(20)))
}

func TestPatchOrder_Errors(t *testing.T) {
	s := newTestServer(t)
	_, _, orderID := s.seed(t, "")
	path := fmt.Sprintf("/api/v1/orders/%d", orderID)

	status, env := s.do(t, &admin, http.MethodPatch, path, map[string]string{"status": "shipping_to_libya"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeStatusSkip, env.Code)
	assert.Equal(t, "cannot skip statuses; must complete the current status first", env.Message)

	status, env = s.do(t, &buyer, http.MethodPatch, path, map[string]string{"status": "arrived_to_china"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, env.Code)

	status, _ = s.do(t, &admin, http.MethodPatch, "/api/v1/orders/999", map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, &admin, http.MethodPatch, "/api/v1/orders/abc", map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &admin, http.MethodPatch, path, `{"weight": "heavy"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &admin, http.MethodPatch, path, map[string]interface{}{"notes": "x", "version": 42})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, &policy.Actor{ID: 9, Role: "DRIVER"}, http.MethodPatch, path, map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, &admin, http.MethodPatch, path, map[string]string{"status": "canceled"})
	require.Equal(t, http.StatusOK, status)
	status, env = s.do(t, &admin, http.MethodPatch, path, map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeOrderCanceled, env.Code)
}

func TestPostTransaction(t *testing.T) {
	s := newTestServer(t)
	customerID, _, _ := s.seed(t, "50.00")

	status, env := s.do(t, &admin, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"customer_id": customerID, "type": "WITHDRAWAL", "amount": 75, "currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "insufficient balance", env.Message)
	assert.Equal(t, response.CodeBalanceNotEnough, env.Code)

	status, env = s.do(t, &admin, http.MethodGet, fmt.Sprintf("/api/v1/customers/%d", customerID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[model.Customer](t, env.Data).BalanceUSD.Equal(decimal.NewFromInt(50)))

	status, _ = s.do(t, &buyer, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"customer_id": customerID, "type": "DEPOSIT", "amount": 5, "currency": "USD",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, &admin, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"customer_id": 999, "type": "DEPOSIT", "amount": 5, "currency": "USD",
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, &admin, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"customer_id": customerID, "type": "DEPOSIT", "amount": 5,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListTransactions_Query(t *testing.T) {
	s := newTestServer(t)
	customerID, _, _ := s.seed(t, "10")

	from := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	status, env := s.do(t, &admin, http.MethodGet,
		fmt.Sprintf("/api/v1/transactions?customer_id=%d&currency=usd&start_date=%s&end_date=%s&page=1&page_size=5", customerID, from, to), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	page := decode[response.PageData](t, env.Data)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)

	status, _ = s.do(t, &admin, http.MethodGet, "/api/v1/transactions?start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &admin, http.MethodGet, fmt.Sprintf("/api/v1/transactions?start_date=%s&end_date=%s", to, from), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &admin, http.MethodGet, "/api/v1/transactions?customer_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &chinaWH, http.MethodGet, "/api/v1/transactions", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestOrdersAndRates_Read(t *testing.T) {
	s := newTestServer(t)
	customerID, rateID, orderID := s.seed(t, "")

	status, env := s.do(t, &chinaWH, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	require.Equal(t, http.StatusOK, status)
	view := decode[OrderView](t, env.Data)
	assert.Equal(t, "Purchased", view.StatusLabel)

	status, env = s.do(t, &chinaWH, http.MethodGet, fmt.Sprintf("/api/v1/orders?customer_id=%d&status=purchased&search=head", customerID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, decode[response.PageData](t, env.Data).Total)

	status, _ = s.do(t, &chinaWH, http.MethodGet, "/api/v1/orders?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = s.do(t, &chinaWH, http.MethodGet, "/api/v1/shipping-rates?country=cn&type=air", nil)
	require.Equal(t, http.StatusOK, status)
	rates := decode[[]model.ShippingRate](t, env.Data)
	require.Len(t, rates, 1)
	assert.Equal(t, rateID, rates[0].ID)

	status, _ = s.do(t, &chinaWH, http.MethodPost, "/api/v1/shipping-rates", map[string]interface{}{"type": "SEA", "name": "x", "price": 1})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = s.do(t, &admin, http.MethodPut, fmt.Sprintf("/api/v1/shipping-rates/%d", rateID), map[string]interface{}{"type": "AIR", "name": "Air 2026", "price": "9"})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, "Air 2026", decode[model.ShippingRate](t, env.Data).Name)

	status, _ = s.do(t, &buyer, http.MethodPost, fmt.Sprintf("/api/v1/customers/%d/devices", customerID), map[string]string{"push_token": "tok"})
	assert.Equal(t, http.StatusCreated, status)
	tokens, err := s.store.ListPushTokens(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok"}, tokens)
}

func TestCamelCaseFieldNames(t *testing.T) {
	s := newTestServer(t)
	customerID, rateID, orderID := s.seed(t, "100")

	status, env := s.do(t, &chinaWH, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d", orderID), map[string]interface{}{
		"status": "arrived_to_china", "weight": "10", "shippingRateId": rateID, "flightNumber": "LY123",
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	view := decode[OrderView](t, env.Data)
	require.NotNil(t, view.ShippingRateID)
	assert.Equal(t, rateID, *view.ShippingRateID)
	assert.Equal(t, "LY123", view.FlightNumber)
	assert.True(t, view.ShippingCost.Decimal.Equal(decimal.NewFromInt(80)))

	status, env = s.do(t, &admin, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"customerId": customerID, "type": "DEPOSIT", "amount": "5", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)

	// 另一个客户的流水不应出现在过滤结果里
	status, env = s.do(t, &buyer, http.MethodPost, "/api/v1/customers", map[string]string{"name": "Omar"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	otherID := decode[model.Customer](t, env.Data).ID
	status, env = s.do(t, &admin, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"customerId": otherID, "type": "DEPOSIT", "amount": "7", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)

	from := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	status, env = s.do(t, &admin, http.MethodGet,
		fmt.Sprintf("/api/v1/transactions?customerId=%d&startDate=%s&endDate=%s", customerID, from, to), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	page := decode[struct {
		Items []model.Transaction `json:"items"`
		Total int64               `json:"total"`
	}](t, env.Data)
	require.EqualValues(t, 3, page.Total)
	for _, txn := range page.Items {
		assert.Equal(t, customerID, txn.CustomerID)
	}

	// 日期别名同样参与范围校验
	status, _ = s.do(t, &admin, http.MethodGet, fmt.Sprintf("/api/v1/transactions?startDate=%s&endDate=%s", to, from), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
