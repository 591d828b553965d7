package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"freightdesk/internal/model"
	"freightdesk/internal/repository"
	"freightdesk/internal/service"
)

// Auditor 校验单个客户的钱包与流水是否一致
type Auditor interface {
	Audit(ctx context.Context, customer *model.Customer) ([]service.Discrepancy, error)
}

// LedgerAuditJob 定时对账：余额必须等于该币种最后一条流水的 balance_after
// 只报告不修复，差异需要人工核对
type LedgerAuditJob struct {
	store     repository.Store
	auditor   Auditor
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewLedgerAuditJob(store repository.Store, auditor Auditor, interval time.Duration, log *zap.Logger) *LedgerAuditJob {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &LedgerAuditJob{
		store:     store,
		auditor:   auditor,
		log:       log.Named("ledger_audit"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 200,
	}
}

func (j *LedgerAuditJob) Start(ctx context.Context) {
	j.log.Info("对账任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.auditAll(ctx)
		}
	}
}

func (j *LedgerAuditJob) Stop() {
	close(j.stopCh)
}

// auditAll 按 id 分批扫描全部客户，返回发现的差异数
func (j *LedgerAuditJob) auditAll(ctx context.Context) int {
	var (
		afterID  int64
		checked  int
		mismatch int
	)
	for {
		customers, err := j.store.ListCustomers(ctx, afterID, j.batchSize)
		if err != nil {
			j.log.Error("查询客户失败", zap.Int64("after_id", afterID), zap.Error(err))
			return mismatch
		}
		if len(customers) == 0 {
			break
		}

		for _, customer := range customers {
			issues, err := j.auditor.Audit(ctx, customer)
			if err != nil {
				j.log.Error("对账失败", zap.Int64("customer_id", customer.ID), zap.Error(err))
				continue
			}
			for _, d := range issues {
				j.log.Error("余额与流水不一致",
					zap.Int64("customer_id", d.CustomerID),
					zap.String("currency", string(d.Currency)),
					zap.String("balance", d.Balance.String()),
					zap.String("ledger_balance", d.LedgerBalance.String()),
				)
			}
			mismatch += len(issues)
			checked++
		}
		afterID = customers[len(customers)-1].ID

		if ctx.Err() != nil {
			return mismatch
		}
	}

	if mismatch > 0 {
		j.log.Warn("对账完成，存在差异", zap.Int("customers", checked), zap.Int("mismatches", mismatch))
	} else {
		j.log.Debug("对账完成", zap.Int("customers", checked))
	}
	return mismatch
}
