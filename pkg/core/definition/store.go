// Package definition 提供工作流定义存储：草稿编辑、发布校验和已发布版本的编译缓存。
package definition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevelan1995/hrflow/pkg/core/dag"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// Store 工作流定义存储（对外导出）
// 已发布版本不可变，编译结果可以安全地按versionID缓存
type Store struct {
	repo storage.WorkflowRepository

	mu    sync.RWMutex
	cache map[string]*dag.CompiledGraph // versionID -> 编译结果
}

// NewStore 创建定义存储
func NewStore(repo storage.WorkflowRepository) *Store {
	return &Store{
		repo:  repo,
		cache: make(map[string]*dag.CompiledGraph),
	}
}

// CreateWorkflow 创建工作流定义
func (s *Store) CreateWorkflow(ctx context.Context, tenantID, name, description string, kind workflow.Kind) (*workflow.Workflow, error) {
	if kind != workflow.KindOnboarding && kind != workflow.KindOffboarding {
		return nil, workflow.NewValidationError("", []string{
			fmt.Sprintf("工作流类型 %s 不合法", kind),
		})
	}

	wf := workflow.NewWorkflow(tenantID, name, kind)
	wf.ID = uuid.New().String()
	wf.Description = description
	if err := s.repo.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// GetWorkflow 获取工作流定义
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, workflow.NewNotFoundError("workflow", id)
	}
	return wf, nil
}

// ListWorkflows 列出租户下的所有工作流定义
func (s *Store) ListWorkflows(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
	return s.repo.ListWorkflows(ctx, tenantID)
}

// SaveDraft 保存草稿版本（全量替换当前草稿）
// 草稿允许处于任何中间状态，结构校验推迟到发布时
func (s *Store) SaveDraft(ctx context.Context, workflowID string, nodes []*workflow.Node, edges []*workflow.Edge) (*workflow.Version, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status == workflow.StatusArchived {
		return nil, workflow.NewConflictError("工作流 %s 已归档，不允许编辑", workflowID)
	}

	// 草稿内节点Key必须唯一，否则边无法按Key指称节点
	keys := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if keys[n.Key] {
			return nil, workflow.NewValidationError(workflowID, []string{
				fmt.Sprintf("节点Key重复: %s", n.Key),
			})
		}
		keys[n.Key] = true
	}

	v := &workflow.Version{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		CreateTime: time.Now(),
		Nodes:      nodes,
		Edges:      edges,
	}
	for _, n := range nodes {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		n.VersionID = v.ID
	}
	for _, e := range edges {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.VersionID = v.ID
	}

	if err := s.repo.SaveDraftVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetDraft 获取工作流的草稿版本
func (s *Store) GetDraft(ctx context.Context, workflowID string) (*workflow.Version, error) {
	v, err := s.repo.GetDraftVersion(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, workflow.NewNotFoundError("草稿版本", workflowID)
	}
	return v, nil
}

// ListVersions 列出工作流的所有版本
func (s *Store) ListVersions(ctx context.Context, workflowID string) ([]*workflow.Version, error) {
	return s.repo.ListVersions(ctx, workflowID)
}

// Publish 校验并发布草稿版本（对外导出）
// 校验全部通过才写入：分配下一个版本号、冻结节点和边、切换激活版本；
// 校验失败返回枚举所有缺陷的ValidationError，没有部分写入
func (s *Store) Publish(ctx context.Context, workflowID string) (*workflow.Version, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status == workflow.StatusArchived {
		return nil, workflow.NewConflictError("工作流 %s 已归档，不允许发布", workflowID)
	}

	draft, err := s.GetDraft(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if defects := ValidateVersion(draft); len(defects) > 0 {
		return nil, workflow.NewValidationError(workflowID, defects)
	}

	published, err := s.repo.PublishVersion(ctx, workflowID, draft.ID)
	if err != nil {
		return nil, err
	}
	return published, nil
}

// Archive 归档工作流（对外导出）
// 归档后不再参与触发分发，也不允许编辑和发布；执行中的Run不受影响
func (s *Store) Archive(ctx context.Context, workflowID string) error {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	wf.Status = workflow.StatusArchived
	wf.UpdateTime = time.Now()
	return s.repo.SaveWorkflow(ctx, wf)
}

// GetActiveDefinition 获取工作流当前激活版本的编译结果（对外导出）
func (s *Store) GetActiveDefinition(ctx context.Context, workflowID string) (*dag.CompiledGraph, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != workflow.StatusPublished || wf.ActiveVersionID == "" {
		return nil, workflow.NewNotFoundError("激活版本", workflowID)
	}
	return s.GetDefinition(ctx, wf.ActiveVersionID)
}

// GetDefinition 获取指定版本的编译结果（对外导出）
// Run固定引用创建时的版本，执行期间都走这里取图
func (s *Store) GetDefinition(ctx context.Context, versionID string) (*dag.CompiledGraph, error) {
	s.mu.RLock()
	if g, ok := s.cache[versionID]; ok {
		s.mu.RUnlock()
		return g, nil
	}
	s.mu.RUnlock()

	v, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, workflow.NewNotFoundError("版本", versionID)
	}
	if !v.Published {
		return nil, workflow.NewConflictError("版本 %s 尚未发布，不能实例化", versionID)
	}

	g, err := dag.Compile(v)
	if err != nil {
		return nil, fmt.Errorf("编译版本失败: %w", err)
	}

	s.mu.Lock()
	s.cache[versionID] = g
	s.mu.Unlock()
	return g, nil
}
