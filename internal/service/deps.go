package service

import (
	"context"
	"errors"

	"freightdesk/internal/apperr"
	"freightdesk/internal/infrastructure/lock"
	"freightdesk/internal/model"
)

// Locker 跨实例互斥，由 lock.Locker 基于 Redis 实现
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RateSource 查询运费价目，ShippingRateService 在前面加了一层 Redis 缓存
type RateSource interface {
	GetRate(ctx context.Context, id int64) (*model.ShippingRate, error)
}

// lockError 锁被占用或请求已取消时返回 409，Redis 不可用等其他错误按内部错误处理
func lockError(err error, busy string) error {
	if errors.Is(err, lock.ErrLockFailed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindConflict, busy, err)
	}
	return apperr.Internal("获取分布式锁失败", err)
}
