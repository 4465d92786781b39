// Package scheduler 实现动作队列调度器：
// 周期性扫描到期的调度票据（延迟节点和重试退避），认领后交给引擎恢复。
// 票据持久化在数据库中，进程重启后扫描自然接续。
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// Config 调度器配置（对外导出）
type Config struct {
	// SweepSpec 扫描周期的Cron表达式（秒级精度），默认每5秒
	SweepSpec string
	// ClaimTTL 票据认领租约时长，默认2分钟。
	// 必须明显长于引擎的Run推进锁TTL（默认30秒）：恢复一张票据可能
	// 经历整次AdvanceRun，认领租约先于推进锁过期会让同一票据被
	// 另一个调度器重复恢复
	ClaimTTL time.Duration
	// BatchSize 单次扫描认领的票据上限
	BatchSize int
}

// withDefaults 填充配置默认值
func (c Config) withDefaults() Config {
	if c.SweepSpec == "" {
		c.SweepSpec = "*/5 * * * * *"
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// Scheduler 动作队列调度器（对外导出）
type Scheduler struct {
	cron   *cron.Cron
	engine *engine.Engine
	repo   storage.RunAggregateRepository
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler 创建动作队列调度器
func NewScheduler(eng *engine.Engine, repo storage.RunAggregateRepository, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()), // 支持秒级精度
		engine: eng,
		repo:   repo,
		cfg:    cfg.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动周期扫描（对外导出）
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, func() {
		if _, err := s.SweepOnce(s.ctx); err != nil {
			log.Printf("❌ [调度器] 扫描失败: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("添加扫描任务失败: %w", err)
	}
	s.cron.Start()
	log.Printf("🚀 [调度器] 已启动: Spec=%s, BatchSize=%d", s.cfg.SweepSpec, s.cfg.BatchSize)
	return nil
}

// Stop 停止调度器（对外导出）
// 等待进行中的扫描结束后返回
func (s *Scheduler) Stop() {
	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	log.Printf("🛑 [调度器] 已停止")
}

// SweepOnce 执行一次扫描（对外导出）
// 认领到期票据并逐张恢复，返回本次处理的票据数；测试模式下手动驱动时钟
func (s *Scheduler) SweepOnce(ctx context.Context) (int, error) {
	return s.SweepAt(ctx, time.Now())
}

// SweepAt 以指定时刻为"现在"执行一次扫描（对外导出）
// 测试中用未来时刻驱动延迟到期，不需要真实等待
func (s *Scheduler) SweepAt(ctx context.Context, now time.Time) (int, error) {
	// 先补写孤立步骤的票据再认领：补写的票据若已到期，本轮即可恢复
	if recovered, err := s.engine.RecoverOrphanedSteps(ctx, now, s.cfg.BatchSize); err != nil {
		log.Printf("⚠️ [调度器] 孤立步骤恢复失败: %v", err)
	} else if recovered > 0 {
		log.Printf("🔁 [调度器] 本轮补写孤立步骤票据: %d", recovered)
	}

	entries, err := s.repo.ClaimDueActions(ctx, s.engine.WorkerID(), now, s.cfg.ClaimTTL, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("认领到期票据失败: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		if err := s.engine.ResumeAction(ctx, entry); err != nil {
			// 恢复失败不阻塞其他票据；租约过期后会被重新认领
			log.Printf("⚠️ [调度器] 票据恢复失败: ID=%s, Step=%s, Error=%v", entry.ID, entry.StepID, err)
			continue
		}
		processed++
	}
	if processed > 0 {
		log.Printf("⏰ [调度器] 本轮恢复票据: %d/%d", processed, len(entries))
	}
	return processed, nil
}
