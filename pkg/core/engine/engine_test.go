package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalstorage "github.com/stevelan1995/hrflow/internal/storage"
	"github.com/stevelan1995/hrflow/pkg/core/dag"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/directory"
	"github.com/stevelan1995/hrflow/pkg/core/docstore"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/plugin"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// testEnv 引擎测试环境：sqlite仓储、定义存储和静态协作方
type testEnv struct {
	repos *internalstorage.Repositories
	repo  storage.RunAggregateRepository
	defs  *definition.Store
	dir   *directory.StaticResolver
	docs  *docstore.StaticResolver
	eng   *Engine
	ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repos, err := internalstorage.NewRepositories("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	plugins := plugin.NewManager()
	require.NoError(t, plugins.Register(plugin.NewEmailNotifier()))
	require.NoError(t, plugins.Register(plugin.NewSmsNotifier()))

	dir := directory.NewStaticResolver()
	docs := docstore.NewStaticResolver()
	defs := definition.NewStore(repos.Workflow)
	eng := NewEngine(defs, repos.RunAggregate, plugins, dir, docs, Config{
		WorkerID:  "test-worker",
		LeaseTTL:  5 * time.Second,
		RetryBase: time.Millisecond,
	})
	return &testEnv{
		repos: repos,
		repo:  repos.RunAggregate,
		defs:  defs,
		dir:   dir,
		docs:  docs,
		eng:   eng,
		ctx:   context.Background(),
	}
}

// publish 创建工作流、保存草稿并发布，返回工作流和编译后的定义
func (env *testEnv) publish(t *testing.T, nodes []*workflow.Node, edges []*workflow.Edge) (*workflow.Workflow, *dag.CompiledGraph) {
	t.Helper()
	wf, err := env.defs.CreateWorkflow(env.ctx, "acme", "入职流程", "标准入职", workflow.KindOnboarding)
	require.NoError(t, err)
	_, err = env.defs.SaveDraft(env.ctx, wf.ID, nodes, edges)
	require.NoError(t, err)
	_, err = env.defs.Publish(env.ctx, wf.ID)
	require.NoError(t, err)
	g, err := env.defs.GetActiveDefinition(env.ctx, wf.ID)
	require.NoError(t, err)
	wf, err = env.defs.GetWorkflow(env.ctx, wf.ID)
	require.NoError(t, err)
	return wf, g
}

// startRun 创建Run并完成首轮推进
func (env *testEnv) startRun(t *testing.T, wf *workflow.Workflow, g *dag.CompiledGraph,
	employeeID, eventID string, payload map[string]any) *run.Run {
	t.Helper()
	trigger := g.TriggerByEventType("employee.hired")
	require.NotNil(t, trigger)
	r, created, err := env.eng.CreateRun(env.ctx, wf, g, employeeID, eventID, trigger, payload)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, env.eng.AdvanceRun(env.ctx, r.ID))
	return r
}

// sweep 模拟调度器在指定时刻的一轮扫描
func (env *testEnv) sweep(t *testing.T, now time.Time) int {
	t.Helper()
	entries, err := env.repo.ClaimDueActions(env.ctx, env.eng.WorkerID(), now, time.Minute, 100)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NoError(t, env.eng.ResumeAction(env.ctx, entry))
	}
	return len(entries)
}

// pendingTask 获取受理人名下唯一的待处理任务
func (env *testEnv) pendingTask(t *testing.T, assigneeID string) *task.Task {
	t.Helper()
	tasks, err := env.eng.ListPendingTasksByAssignee(env.ctx, "acme", assigneeID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

// stepsByKey 按节点Key索引Run的步骤
func (env *testEnv) stepsByKey(t *testing.T, runID string) map[string]*run.Step {
	t.Helper()
	steps, err := env.eng.GetRunSteps(env.ctx, runID)
	require.NoError(t, err)
	byKey := make(map[string]*run.Step, len(steps))
	for _, s := range steps {
		byKey[s.NodeKey] = s
	}
	return byKey
}

// onboardingNodes 测试用入职流程：
// 触发 -> 文档任务(HR, 必需) -> 逻辑(是否工程部) -> true:表单任务 / false:跳过 -> 延迟 -> 欢迎邮件
func onboardingNodes() []*workflow.Node {
	return []*workflow.Node{
		{
			ID: "n1", Key: "hired", Name: "入职事件", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}},
		},
		{
			ID: "n2", Key: "collect_documents", Name: "收集材料", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				TaskType:   "document",
				Title:      "收集 ${event.name} 的入职材料",
				Assignee:   &workflow.AssigneeRef{Mode: workflow.AssigneeModeRole, Value: "hr_manager"},
				DueInHours: 48,
				Required:   true,
			}},
		},
		{
			ID: "n3", Key: "is_engineering", Name: "是否工程部", Type: workflow.NodeTypeLogic,
			Config: workflow.NodeConfig{Logic: &workflow.LogicConfig{
				Expression: &workflow.Expression{All: []workflow.Comparison{
					{Field: "event.department", Op: workflow.OpEqual, Value: "engineering"},
				}},
			}},
		},
		{
			ID: "n4", Key: "request_equipment", Name: "设备申领", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				TaskType: "form",
				Title:    "选择办公设备",
				Form:     []workflow.FormField{{Key: "laptop_model", Label: "笔记本型号", Required: true}},
			}},
		},
		{
			ID: "n5", Key: "wait_first_day", Name: "等待入职日", Type: workflow.NodeTypeDelay,
			Config: workflow.NodeConfig{Delay: &workflow.DelayConfig{DurationSeconds: 3600}},
		},
		{
			ID: "n6", Key: "send_welcome", Name: "欢迎邮件", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				Notify: &workflow.NotifyConfig{Channel: "email", Template: "欢迎加入, ${event.name}!"},
			}},
		},
	}
}

func onboardingEdges() []*workflow.Edge {
	return []*workflow.Edge{
		{SourceNodeID: "n1", TargetNodeID: "n2", Position: 0},
		{SourceNodeID: "n2", TargetNodeID: "n3", Position: 0},
		{SourceNodeID: "n3", TargetNodeID: "n4", Condition: workflow.ConditionTrue, Position: 0},
		{SourceNodeID: "n3", TargetNodeID: "n5", Condition: workflow.ConditionFalse, Position: 1},
		{SourceNodeID: "n4", TargetNodeID: "n5", Position: 0},
		{SourceNodeID: "n5", TargetNodeID: "n6", Position: 0},
	}
}

// onboardingEnv 完整入职流程环境：角色和文档都已登记
func onboardingEnv(t *testing.T) (*testEnv, *workflow.Workflow, *dag.CompiledGraph) {
	t.Helper()
	env := newTestEnv(t)
	env.dir.RegisterRole("acme", "hr_manager", "emp-hr-001")
	env.docs.Register("acme", "doc-id-card-001")
	wf, g := env.publish(t, onboardingNodes(), onboardingEdges())
	return env, wf, g
}

// ========== Run生命周期 ==========

func TestEngine_HappyPath_EngineeringBranch(t *testing.T) {
	env, wf, g := onboardingEnv(t)

	r := env.startRun(t, wf, g, "emp-042", "evt-001",
		map[string]any{"name": "张三", "department": "engineering"})

	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusInProgress, loaded.Status)

	// HR收到文档任务，标题渲染了事件上下文
	docTask := env.pendingTask(t, "emp-hr-001")
	assert.Equal(t, task.TypeDocument, docTask.Type)
	assert.Equal(t, "收集 张三 的入职材料", docTask.Title)
	require.NotNil(t, docTask.DueAt)

	_, err = env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)

	// 逻辑节点命中true分支，员工收到表单任务
	formTask := env.pendingTask(t, "emp-042")
	assert.Equal(t, task.TypeForm, formTask.Type)
	_, err = env.eng.CompleteTask(env.ctx, formTask.ID, &task.Payload{
		Type: task.TypeForm,
		Form: &task.FormPayload{Fields: map[string]any{"laptop_model": "MacBook Pro"}},
	})
	require.NoError(t, err)

	// 延迟步骤挂起，时间未到扫描不恢复任何票据
	byKey := env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusQueued, byKey["wait_first_day"].Status)
	assert.Equal(t, 0, env.sweep(t, time.Now()))

	// 到期后整条流程跑完
	assert.Equal(t, 1, env.sweep(t, time.Now().Add(2*time.Hour)))

	loaded, err = env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, loaded.Status)

	byKey = env.stepsByKey(t, r.ID)
	for _, key := range []string{"hired", "collect_documents", "is_engineering",
		"request_equipment", "wait_first_day", "send_welcome"} {
		require.NotNil(t, byKey[key], key)
		assert.Equal(t, run.StepStatusCompleted, byKey[key].Status, key)
	}
	assert.Equal(t, true, byKey["is_engineering"].Result["outcome"])

	// 任务结果并入Run上下文，键是节点Key
	loaded, err = env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	collected, ok := loaded.Context["collect_documents"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "doc-id-card-001", collected["document_id"])
}

func TestEngine_FalseBranch_SkipsDeadNodes(t *testing.T) {
	env, wf, g := onboardingEnv(t)

	r := env.startRun(t, wf, g, "emp-100", "evt-002",
		map[string]any{"name": "李四", "department": "sales"})

	docTask := env.pendingTask(t, "emp-hr-001")
	_, err := env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)

	env.sweep(t, time.Now().Add(2*time.Hour))

	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, loaded.Status)

	// false分支上的设备申领节点从未生成步骤
	byKey := env.stepsByKey(t, r.ID)
	assert.Nil(t, byKey["request_equipment"])
	assert.Equal(t, false, byKey["is_engineering"].Result["outcome"])
	assert.Equal(t, run.StepStatusCompleted, byKey["send_welcome"].Status)
}

func TestEngine_ParallelBranches_JoinBeforeComplete(t *testing.T) {
	env := newTestEnv(t)

	// 触发后并行派发两个任务，汇合到一封通知邮件
	nodes := []*workflow.Node{
		{
			ID: "f1", Key: "hired", Name: "入职事件", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}},
		},
		{
			ID: "f2", Key: "prepare_badge", Name: "制作工牌", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				TaskType: "general",
				Assignee: &workflow.AssigneeRef{Mode: workflow.AssigneeModeExplicit, Value: "emp-admin"},
			}},
		},
		{
			ID: "f3", Key: "grant_access", Name: "开通账号", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				TaskType: "general",
				Assignee: &workflow.AssigneeRef{Mode: workflow.AssigneeModeExplicit, Value: "emp-it"},
			}},
		},
		{
			ID: "f4", Key: "notify_manager", Name: "通知主管", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				Notify: &workflow.NotifyConfig{Channel: "email", Template: "入职准备完成"},
			}},
		},
	}
	edges := []*workflow.Edge{
		{SourceNodeID: "f1", TargetNodeID: "f2", Position: 0},
		{SourceNodeID: "f1", TargetNodeID: "f3", Position: 1},
		{SourceNodeID: "f2", TargetNodeID: "f4", Position: 0},
		{SourceNodeID: "f3", TargetNodeID: "f4", Position: 0},
	}
	wf, g := env.publish(t, nodes, edges)

	r := env.startRun(t, wf, g, "emp-500", "evt-fan", map[string]any{"name": "孙七"})

	badgeTask := env.pendingTask(t, "emp-admin")
	accessTask := env.pendingTask(t, "emp-it")

	// 只完成一个分支：汇合节点不启动，Run保持in_progress
	_, err := env.eng.CompleteTask(env.ctx, badgeTask.ID, &task.Payload{Type: task.TypeGeneral})
	require.NoError(t, err)

	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusInProgress, loaded.Status)
	byKey := env.stepsByKey(t, r.ID)
	assert.Nil(t, byKey["notify_manager"])

	// 两个分支都终结后汇合节点执行，Run才完成
	_, err = env.eng.CompleteTask(env.ctx, accessTask.ID, &task.Payload{Type: task.TypeGeneral})
	require.NoError(t, err)

	loaded, err = env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, loaded.Status)
	byKey = env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusCompleted, byKey["prepare_badge"].Status)
	assert.Equal(t, run.StepStatusCompleted, byKey["grant_access"].Status)
	assert.Equal(t, run.StepStatusCompleted, byKey["notify_manager"].Status)
}

func TestEngine_CreateRun_Idempotent(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	trigger := g.TriggerByEventType("employee.hired")
	payload := map[string]any{"name": "王五"}

	r1, created, err := env.eng.CreateRun(env.ctx, wf, g, "emp-200", "evt-dup", trigger, payload)
	require.NoError(t, err)
	assert.True(t, created)

	// 同一去重键重复投递返回已有Run
	r2, created, err := env.eng.CreateRun(env.ctx, wf, g, "emp-200", "evt-dup", trigger, payload)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r1.ID, r2.ID)

	// 换一个触发事件ID则是新Run
	r3, created, err := env.eng.CreateRun(env.ctx, wf, g, "emp-200", "evt-other", trigger, payload)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, r1.ID, r3.ID)
}

func TestEngine_AdvanceRun_Reentrant(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	r := env.startRun(t, wf, g, "emp-300", "evt-003", map[string]any{"name": "赵六"})

	// 状态完全由已持久化的步骤推导，重复推进不产生新步骤或新任务
	before := env.stepsByKey(t, r.ID)
	require.NoError(t, env.eng.AdvanceRun(env.ctx, r.ID))
	require.NoError(t, env.eng.AdvanceRun(env.ctx, r.ID))
	after := env.stepsByKey(t, r.ID)
	assert.Equal(t, len(before), len(after))
	env.pendingTask(t, "emp-hr-001")
}

// ========== 任务完成 ==========

func TestEngine_CompleteTask_Idempotent(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	env.startRun(t, wf, g, "emp-400", "evt-004", map[string]any{"department": "sales"})

	docTask := env.pendingTask(t, "emp-hr-001")
	payload := &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	}
	first, err := env.eng.CompleteTask(env.ctx, docTask.ID, payload)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)

	// 重复完成返回先前结果，不报错也不改写
	second, err := env.eng.CompleteTask(env.ctx, docTask.ID, payload)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, second.Status)
	assert.Equal(t, first.Result, second.Result)
	assert.WithinDuration(t, *first.CompletedAt, *second.CompletedAt, time.Second)
}

func TestEngine_CompleteTask_PayloadValidation(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	env.startRun(t, wf, g, "emp-500", "evt-005", map[string]any{"department": "sales"})

	docTask := env.pendingTask(t, "emp-hr-001")

	// 文档任务缺少document_id
	_, err := env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{Type: task.TypeDocument})
	var vErr *workflow.ValidationError
	require.ErrorAs(t, err, &vErr)

	// 提交的文档ID未在文档存储中登记
	_, err = env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-ghost"},
	})
	require.ErrorAs(t, err, &vErr)

	// 校验失败不消耗任务，之后仍可正常完成
	_, err = env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)
}

func TestEngine_CompleteTask_FormRequiredFields(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	env.startRun(t, wf, g, "emp-600", "evt-006",
		map[string]any{"department": "engineering"})

	docTask := env.pendingTask(t, "emp-hr-001")
	_, err := env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)

	formTask := env.pendingTask(t, "emp-600")
	_, err = env.eng.CompleteTask(env.ctx, formTask.ID, &task.Payload{
		Type: task.TypeForm,
		Form: &task.FormPayload{Fields: map[string]any{"mouse": "wireless"}},
	})
	var vErr *workflow.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Defects[0], "laptop_model")
}

func TestEngine_CompleteTask_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.CompleteTask(env.ctx, "missing-task", nil)
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

// ========== 协作式取消 ==========

func TestEngine_CancelRun(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	r := env.startRun(t, wf, g, "emp-700", "evt-007", map[string]any{"name": "孙七"})
	docTask := env.pendingTask(t, "emp-hr-001")

	require.NoError(t, env.eng.CancelRun(env.ctx, r.ID))

	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCanceled, loaded.Status)

	// 挂起步骤和待处理任务都被关闭，已完成的触发步骤保持不变
	byKey := env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusCanceled, byKey["collect_documents"].Status)
	assert.Equal(t, run.StepStatusCompleted, byKey["hired"].Status)

	tasks, err := env.eng.ListPendingTasksByAssignee(env.ctx, "acme", "emp-hr-001")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// 取消后完成任务被拒绝
	_, err = env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	var rcErr *workflow.RunCanceledError
	require.ErrorAs(t, err, &rcErr)

	// 终态Run不能再次取消
	err = env.eng.CancelRun(env.ctx, r.ID)
	var cErr *workflow.ConflictError
	require.ErrorAs(t, err, &cErr)
}

func TestEngine_CancelRun_ClearsActionQueue(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	r := env.startRun(t, wf, g, "emp-800", "evt-008", map[string]any{"department": "sales"})

	docTask := env.pendingTask(t, "emp-hr-001")
	_, err := env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)

	// 此时延迟票据已入队；取消后队列清空，到期扫描不再恢复任何票据
	require.NoError(t, env.eng.CancelRun(env.ctx, r.ID))
	assert.Equal(t, 0, env.sweep(t, time.Now().Add(2*time.Hour)))
}

// ========== 失败与重试 ==========

func TestEngine_RequiredNodeFailure_FailsRun(t *testing.T) {
	env := newTestEnv(t)
	// 不登记hr_manager角色：受理人解析失败，重试预算1次直接耗尽
	nodes := onboardingNodes()
	nodes[1].Config.Action.MaxAttempts = 1
	wf, g := env.publish(t, nodes, onboardingEdges())

	r := env.startRun(t, wf, g, "emp-900", "evt-009", map[string]any{"name": "周八"})

	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, loaded.Status)
	assert.Contains(t, loaded.ErrorMessage, "collect_documents")

	byKey := env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusFailed, byKey["collect_documents"].Status)
	// 下游节点从未启动
	assert.Nil(t, byKey["is_engineering"])
	assert.Nil(t, byKey["send_welcome"])
}

func TestEngine_ActionRetry_BackoffThenBranchDeath(t *testing.T) {
	env := newTestEnv(t)
	// 触发 -> 非必需通知（渠道未注册，发送必然失败，预算2次）
	nodes := []*workflow.Node{
		{
			ID: "p1", Key: "hired", Name: "入职事件", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}},
		},
		{
			ID: "p2", Key: "notify_buddy", Name: "通知导师", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				Notify:      &workflow.NotifyConfig{Channel: "pager", Template: "hi"},
				MaxAttempts: 2,
			}},
		},
	}
	edges := []*workflow.Edge{{SourceNodeID: "p1", TargetNodeID: "p2", Position: 0}}
	wf, g := env.publish(t, nodes, edges)

	r := env.startRun(t, wf, g, "emp-950", "evt-010", nil)

	// 首次失败进入退避队列
	byKey := env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusQueued, byKey["notify_buddy"].Status)
	assert.Equal(t, 1, byKey["notify_buddy"].Attempts)

	// 重试再次失败：预算耗尽，非必需节点只终结所在分支，Run正常完成
	assert.Equal(t, 1, env.sweep(t, time.Now().Add(time.Minute)))

	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, loaded.Status)

	byKey = env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusFailed, byKey["notify_buddy"].Status)
	assert.Equal(t, 2, byKey["notify_buddy"].Attempts)
}

// ========== 故障注入 ==========

// interceptRepo 在指定仓储调用前插入回调，用来在步骤迁移的间隙制造并发
type interceptRepo struct {
	storage.RunAggregateRepository
	beforeSaveStep   func(*run.Step)
	beforeUpdateStep func(*run.Step)
}

func (h *interceptRepo) SaveStep(ctx context.Context, s *run.Step) error {
	if h.beforeSaveStep != nil {
		h.beforeSaveStep(s)
	}
	return h.RunAggregateRepository.SaveStep(ctx, s)
}

func (h *interceptRepo) UpdateStepIfOpen(ctx context.Context, s *run.Step) (bool, error) {
	if h.beforeUpdateStep != nil {
		h.beforeUpdateStep(s)
	}
	return h.RunAggregateRepository.UpdateStepIfOpen(ctx, s)
}

func TestEngine_CancelDuringAdvance_SkipsRemainingReadyNodes(t *testing.T) {
	env := newTestEnv(t)
	nodes := []*workflow.Node{
		{
			ID: "x1", Key: "hired", Name: "入职事件", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}},
		},
		{
			ID: "x2", Key: "prepare_badge", Name: "制作工牌", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				TaskType: "general",
				Assignee: &workflow.AssigneeRef{Mode: workflow.AssigneeModeExplicit, Value: "emp-admin"},
			}},
		},
		{
			ID: "x3", Key: "grant_access", Name: "开通账号", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
				TaskType: "general",
				Assignee: &workflow.AssigneeRef{Mode: workflow.AssigneeModeExplicit, Value: "emp-it"},
			}},
		},
	}
	edges := []*workflow.Edge{
		{SourceNodeID: "x1", TargetNodeID: "x2", Position: 0},
		{SourceNodeID: "x1", TargetNodeID: "x3", Position: 1},
	}
	wf, g := env.publish(t, nodes, edges)

	tap := &interceptRepo{RunAggregateRepository: env.repo}
	eng := NewEngine(env.defs, tap, nil, env.dir, env.docs, Config{
		WorkerID: "tap-worker",
		LeaseTTL: 5 * time.Second,
	})

	trigger := g.TriggerByEventType("employee.hired")
	r, created, err := eng.CreateRun(env.ctx, wf, g, "emp-600", "evt-cancel-race", trigger, nil)
	require.NoError(t, err)
	require.True(t, created)

	// 批次里第一个就绪节点落库的瞬间取消Run
	fired := false
	tap.beforeSaveStep = func(s *run.Step) {
		if fired {
			return
		}
		fired = true
		require.NoError(t, eng.CancelRun(env.ctx, s.RunID))
	}
	require.NoError(t, eng.AdvanceRun(env.ctx, r.ID))
	require.True(t, fired)

	loaded, err := eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCanceled, loaded.Status)

	// 取消允许进行中的步骤完成当前迁移，但批次里尚未启动的节点
	// 不再执行，也不再产生任务
	byKey := env.stepsByKey(t, r.ID)
	assert.Nil(t, byKey["grant_access"])
	tasks, err := eng.ListPendingTasksByAssignee(env.ctx, "acme", "emp-it")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEngine_CompleteTask_ContextCommittedBeforeStepCloses(t *testing.T) {
	env, wf, g := onboardingEnv(t)

	tap := &interceptRepo{RunAggregateRepository: env.repo}
	eng := NewEngine(env.defs, tap, nil, env.dir, env.docs, Config{
		WorkerID:  "tap-worker",
		LeaseTTL:  5 * time.Second,
		RetryBase: time.Millisecond,
	})

	r := env.startRun(t, wf, g, "emp-700", "evt-order",
		map[string]any{"name": "周八", "department": "engineering"})
	docTask := env.pendingTask(t, "emp-hr-001")

	// 步骤落为completed的瞬间上下文必须已包含任务结果：
	// 并发推进一旦看到步骤完成，下游逻辑节点读的就是这份上下文
	var observed map[string]any
	tap.beforeUpdateStep = func(s *run.Step) {
		if s.NodeKey != "collect_documents" || s.Status != run.StepStatusCompleted {
			return
		}
		loaded, err := env.repo.GetRun(env.ctx, r.ID)
		require.NoError(t, err)
		observed, _ = loaded.Context["collect_documents"].(map[string]any)
	}
	_, err := eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)
	require.NotNil(t, observed)
	assert.Equal(t, "doc-id-card-001", observed["document_id"])
}

func TestEngine_CompleteTask_ConcurrentSingleWinner(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	r := env.startRun(t, wf, g, "emp-800", "evt-race", map[string]any{"department": "sales"})
	docTask := env.pendingTask(t, "emp-hr-001")
	payload := &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	}

	const submitters = 8
	results := make([]*task.Task, submitters)
	errs := make([]error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.eng.CompleteTask(env.ctx, docTask.ID, payload)
		}(i)
	}
	wg.Wait()

	// 恰好一个提交胜出，其余拿到胜者写入的相同结果
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, task.StatusCompleted, results[i].Status)
		assert.Equal(t, "doc-id-card-001", results[i].Result["document_id"])
	}

	events, err := env.eng.GetRunTimeline(env.ctx, r.ID)
	require.NoError(t, err)
	completions := 0
	for _, ev := range events {
		if ev.Type == run.EventTaskCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	// Run只推进一次：延迟步骤只挂起一张票据
	byKey := env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusQueued, byKey["wait_first_day"].Status)
	assert.Equal(t, 1, env.sweep(t, time.Now().Add(2*time.Hour)))
}

// ========== 孤立步骤恢复 ==========

func TestEngine_RecoverOrphanedSteps_DelayTicketLost(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	r := env.startRun(t, wf, g, "emp-900", "evt-orphan-1", map[string]any{"department": "sales"})

	docTask := env.pendingTask(t, "emp-hr-001")
	_, err := env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)

	byKey := env.stepsByKey(t, r.ID)
	require.Equal(t, run.StepStatusQueued, byKey["wait_first_day"].Status)

	// 模拟崩溃遗留：步骤挂起但票据丢失，常规扫描永远恢复不了它
	require.NoError(t, env.repo.DeleteActionsByRun(env.ctx, r.ID))
	assert.Equal(t, 0, env.sweep(t, time.Now().Add(2*time.Hour)))

	// 超过租约TTL后补写票据，到期时间沿用步骤原本的DueAt
	recovered, err := env.eng.RecoverOrphanedSteps(env.ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	// 已有票据的步骤不会重复补写
	recovered, err = env.eng.RecoverOrphanedSteps(env.ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	assert.Equal(t, 1, env.sweep(t, time.Now().Add(2*time.Hour)))
	loaded, err := env.eng.GetRun(env.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, loaded.Status)
}

func TestEngine_RecoverOrphanedSteps_RedrivesInterruptedAction(t *testing.T) {
	env, wf, g := onboardingEnv(t)

	trigger := g.TriggerByEventType("employee.hired")
	r, created, err := env.eng.CreateRun(env.ctx, wf, g, "emp-901", "evt-orphan-2",
		trigger, map[string]any{"name": "吴九"})
	require.NoError(t, err)
	require.True(t, created)

	// 模拟崩溃遗留：动作步骤落库后进程死亡，任务从未创建
	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.repo.SaveStep(env.ctx, &run.Step{
		ID:         uuid.New().String(),
		RunID:      r.ID,
		NodeID:     "n2",
		NodeKey:    "collect_documents",
		NodeType:   workflow.NodeTypeAction,
		Status:     run.StepStatusInProgress,
		Attempts:   1,
		StartTime:  past,
		CreateTime: past,
	}))

	recovered, err := env.eng.RecoverOrphanedSteps(env.ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	// 补写的票据立即到期：重试走原执行路径，人工任务补建出来
	assert.Equal(t, 1, env.sweep(t, time.Now()))
	docTask := env.pendingTask(t, "emp-hr-001")
	assert.Equal(t, task.TypeDocument, docTask.Type)

	byKey := env.stepsByKey(t, r.ID)
	assert.Equal(t, run.StepStatusWaitingInput, byKey["collect_documents"].Status)
	assert.Equal(t, 2, byKey["collect_documents"].Attempts)
}

// ========== 事件日志 ==========

func TestEngine_Timeline_MonotonicPositions(t *testing.T) {
	env, wf, g := onboardingEnv(t)
	r := env.startRun(t, wf, g, "emp-990", "evt-011", map[string]any{"department": "sales"})

	docTask := env.pendingTask(t, "emp-hr-001")
	_, err := env.eng.CompleteTask(env.ctx, docTask.ID, &task.Payload{
		Type:     task.TypeDocument,
		Document: &task.DocumentPayload{DocumentID: "doc-id-card-001"},
	})
	require.NoError(t, err)
	env.sweep(t, time.Now().Add(2*time.Hour))

	events, err := env.eng.GetRunTimeline(env.ctx, r.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	assert.Equal(t, run.EventRunCreated, events[0].Type)
	assert.Equal(t, run.EventRunCompleted, events[len(events)-1].Type)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Position, events[i-1].Position,
			"事件Position必须在Run内严格递增")
	}

	seen := make(map[run.EventType]bool)
	for _, ev := range events {
		seen[ev.Type] = true
	}
	for _, et := range []run.EventType{
		run.EventRunStarted, run.EventTaskCreated, run.EventTaskCompleted,
		run.EventBranchEvaluated, run.EventDelayScheduled, run.EventDelayFired,
	} {
		assert.True(t, seen[et], string(et))
	}
}
