package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightdesk/internal/apperr"
	"freightdesk/internal/model"
	"freightdesk/internal/policy"
	"freightdesk/internal/repository"
)

// ShippingRateService 运费价目表，单条价目走 Redis 读穿缓存
// rdb 为 nil 时直接读库
type ShippingRateService struct {
	store repository.Store
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

var _ RateSource = (*ShippingRateService)(nil)

func NewShippingRateService(store repository.Store, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *ShippingRateService {
	return &ShippingRateService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.Named("shipping_rate"),
	}
}

func rateCacheKey(id int64) string {
	return fmt.Sprintf("shipping_rate:%d", id)
}

// GetRate 先查缓存，未命中再查库并回填；缓存故障只记日志
func (s *ShippingRateService) GetRate(ctx context.Context, id int64) (*model.ShippingRate, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, rateCacheKey(id)).Bytes()
		switch {
		case err == nil:
			var rate model.ShippingRate
			if err := json.Unmarshal(data, &rate); err == nil {
				return &rate, nil
			}
			s.log.Warn("价目缓存反序列化失败", zap.Int64("rate_id", id))
		case !errors.Is(err, redis.Nil):
			s.log.Warn("读取价目缓存失败", zap.Int64("rate_id", id), zap.Error(err))
		}
	}

	rate, err := s.store.GetShippingRate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrShippingRateNotFound) {
			return nil, apperr.NotFound("shipping rate")
		}
		return nil, fmt.Errorf("查询价目失败: %w", err)
	}

	if s.rdb != nil {
		if data, err := json.Marshal(rate); err == nil {
			if err := s.rdb.Set(ctx, rateCacheKey(id), data, s.ttl).Err(); err != nil {
				s.log.Warn("写入价目缓存失败", zap.Int64("rate_id", id), zap.Error(err))
			}
		}
	}
	return rate, nil
}

func (s *ShippingRateService) ListRates(ctx context.Context, country string, shippingType model.ShippingType) ([]*model.ShippingRate, error) {
	if shippingType != "" && !shippingType.Valid() {
		return nil, apperr.Validation("type must be AIR or SEA")
	}
	rates, err := s.store.ListShippingRates(ctx, strings.ToUpper(country), shippingType)
	if err != nil {
		return nil, fmt.Errorf("查询价目列表失败: %w", err)
	}
	return rates, nil
}

type ShippingRateRequest struct {
	Type    model.ShippingType `json:"type" binding:"required"`
	Name    string             `json:"name" binding:"required"`
	Price   decimal.Decimal    `json:"price"`
	Country string             `json:"country"`
}

func (r *ShippingRateRequest) toModel() (*model.ShippingRate, error) {
	if !r.Type.Valid() {
		return nil, apperr.Validation("type must be AIR or SEA")
	}
	if strings.TrimSpace(r.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if !r.Price.IsPositive() {
		return nil, apperr.Validation("price must be greater than 0")
	}
	if !withinPlaces(r.Price, pricePlaces) {
		return nil, apperr.Validation("price supports at most %d decimal places", pricePlaces)
	}
	country := strings.ToUpper(strings.TrimSpace(r.Country))
	if country == "" {
		country = "CN"
	}
	return &model.ShippingRate{
		Type:    r.Type,
		Name:    strings.TrimSpace(r.Name),
		Price:   r.Price,
		Country: country,
	}, nil
}

func (s *ShippingRateService) CreateRate(ctx context.Context, actor policy.Actor, req *ShippingRateRequest) (*model.ShippingRate, error) {
	if !policy.CanManageRates(actor.Role) {
		return nil, apperr.Forbidden(fmt.Sprintf("role %s may not manage shipping rates", actor.Role))
	}
	rate, err := req.toModel()
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateShippingRate(ctx, rate); err != nil {
		return nil, fmt.Errorf("创建价目失败: %w", err)
	}
	return rate, nil
}

// UpdateRate 修改价目名称和单价并删除缓存；已计费订单保留自己的快照
func (s *ShippingRateService) UpdateRate(ctx context.Context, actor policy.Actor, id int64, req *ShippingRateRequest) (*model.ShippingRate, error) {
	if !policy.CanManageRates(actor.Role) {
		return nil, apperr.Forbidden(fmt.Sprintf("role %s may not manage shipping rates", actor.Role))
	}
	rate, err := req.toModel()
	if err != nil {
		return nil, err
	}
	existing, err := s.store.GetShippingRate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrShippingRateNotFound) {
			return nil, apperr.NotFound("shipping rate")
		}
		return nil, fmt.Errorf("查询价目失败: %w", err)
	}
	// 已关联订单按类型判断运输方式，类型不可改
	if existing.Type != rate.Type {
		return nil, apperr.Validation("shipping rate type cannot be changed, create a new rate instead")
	}

	rate.ID = id
	if err := s.store.UpdateShippingRate(ctx, rate); err != nil {
		if errors.Is(err, repository.ErrShippingRateNotFound) {
			return nil, apperr.NotFound("shipping rate")
		}
		return nil, fmt.Errorf("更新价目失败: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Del(ctx, rateCacheKey(id)).Err(); err != nil {
			s.log.Warn("删除价目缓存失败", zap.Int64("rate_id", id), zap.Error(err))
		}
	}
	return rate, nil
}
