// Package journey 实现员工旅程视图：
// 分享令牌是一个能力凭证，持有者只能读取并操作这一个Run，
// 不需要账号或会话。
package journey

import (
	"context"
	"time"

	"github.com/stevelan1995/hrflow/pkg/core/cache"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// viewCacheTTL 旅程视图缓存有效期。
// 视图行在Run创建时写入后不再变化，缓存只是省掉令牌查找的数据库往返
const viewCacheTTL = 5 * time.Minute

// Journey 员工视角的旅程快照（对外导出）
// 只暴露员工需要看到的内容：标题、进度和待处理任务
type Journey struct {
	HeroTitle    string       `json:"hero_title"`
	HeroBody     string       `json:"hero_body"`
	RunStatus    run.Status   `json:"run_status"`
	PendingTasks []*task.Task `json:"pending_tasks"`
}

// Service 旅程视图服务（对外导出）
type Service struct {
	engine *engine.Engine
	repo   storage.RunAggregateRepository
	views  *cache.TTLCache
}

// NewService 创建旅程视图服务
func NewService(eng *engine.Engine, repo storage.RunAggregateRepository) *Service {
	return &Service{
		engine: eng,
		repo:   repo,
		views:  cache.NewTTLCache(),
	}
}

// GetJourney 根据分享令牌读取旅程快照（对外导出）
func (s *Service) GetJourney(ctx context.Context, token string) (*Journey, error) {
	view, r, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	tasks, err := s.repo.ListPendingTasksByRun(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	return &Journey{
		HeroTitle:    view.HeroTitle,
		HeroBody:     view.HeroBody,
		RunStatus:    r.Status,
		PendingTasks: tasks,
	}, nil
}

// CompleteTask 通过分享令牌完成任务（对外导出）
// 令牌只能操作它所指向的Run：任务不属于该Run时视同不存在
func (s *Service) CompleteTask(ctx context.Context, token, taskID string, payload *task.Payload) (*task.Task, error) {
	_, r, err := s.resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	t, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.RunID != r.ID {
		return nil, workflow.NewNotFoundError("task", taskID)
	}

	return s.engine.CompleteTask(ctx, taskID, payload)
}

// resolveToken 校验令牌并加载对应的Run
// 视图行创建后不可变，命中缓存时只需要重新加载Run状态
func (s *Service) resolveToken(ctx context.Context, token string) (*run.JourneyView, *run.Run, error) {
	var view *run.JourneyView
	if cached, ok := s.views.Get(token); ok {
		view = cached.(*run.JourneyView)
	} else {
		loaded, err := s.repo.GetJourneyViewByToken(ctx, token)
		if err != nil {
			return nil, nil, err
		}
		if loaded == nil {
			return nil, nil, workflow.NewNotFoundError("journey", token)
		}
		s.views.Set(token, loaded, viewCacheTTL)
		view = loaded
	}

	r, err := s.repo.GetRun(ctx, view.RunID)
	if err != nil {
		return nil, nil, err
	}
	if r == nil {
		return nil, nil, workflow.NewNotFoundError("run", view.RunID)
	}
	return view, r, nil
}
