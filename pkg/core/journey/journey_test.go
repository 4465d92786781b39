package journey

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalstorage "github.com/stevelan1995/hrflow/internal/storage"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

type testFixture struct {
	repo storage.RunAggregateRepository
	defs *definition.Store
	eng  *engine.Engine
	svc  *Service
	ctx  context.Context
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	repos, err := internalstorage.NewRepositories("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	defs := definition.NewStore(repos.Workflow)
	eng := engine.NewEngine(defs, repos.RunAggregate, nil, nil, nil, engine.Config{
		WorkerID: "journey-test",
	})
	return &testFixture{
		repo: repos.RunAggregate,
		defs: defs,
		eng:  eng,
		svc:  NewService(eng, repos.RunAggregate),
		ctx:  context.Background(),
	}
}

// startRun 发布"触发->通用任务"流程并为指定员工创建一个Run，返回Run和分享令牌
func (f *testFixture) startRun(t *testing.T, employeeID, eventID string) (*run.Run, string) {
	t.Helper()
	wf, err := f.defs.CreateWorkflow(f.ctx, "acme", "入职旅程", "欢迎加入Acme", workflow.KindOnboarding)
	require.NoError(t, err)
	nodes := []*workflow.Node{
		{ID: wf.ID + "-t", Key: "start", Name: "触发", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}}},
		{ID: wf.ID + "-a", Key: "confirm", Name: "确认入职信息", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{TaskType: "general", Title: "确认入职信息"}}},
	}
	edges := []*workflow.Edge{{SourceNodeID: wf.ID + "-t", TargetNodeID: wf.ID + "-a", Position: 0}}
	_, err = f.defs.SaveDraft(f.ctx, wf.ID, nodes, edges)
	require.NoError(t, err)
	_, err = f.defs.Publish(f.ctx, wf.ID)
	require.NoError(t, err)
	g, err := f.defs.GetActiveDefinition(f.ctx, wf.ID)
	require.NoError(t, err)
	wf, err = f.defs.GetWorkflow(f.ctx, wf.ID)
	require.NoError(t, err)

	trigger := g.TriggerByEventType("employee.hired")
	r, _, err := f.eng.CreateRun(f.ctx, wf, g, employeeID, eventID, trigger, nil)
	require.NoError(t, err)
	require.NoError(t, f.eng.AdvanceRun(f.ctx, r.ID))

	view, err := f.repo.GetJourneyViewByRun(f.ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, view)
	return r, view.ShareToken
}

func TestService_GetJourney(t *testing.T) {
	f := newTestFixture(t)
	_, token := f.startRun(t, "emp-1", "evt-1")

	j, err := f.svc.GetJourney(f.ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "入职旅程", j.HeroTitle)
	assert.Equal(t, "欢迎加入Acme", j.HeroBody)
	assert.Equal(t, run.StatusInProgress, j.RunStatus)
	require.Len(t, j.PendingTasks, 1)
	assert.Equal(t, "确认入职信息", j.PendingTasks[0].Title)

	// 视图行已进缓存，第二次读取仍反映Run的最新状态
	_, err = f.svc.CompleteTask(f.ctx, token, j.PendingTasks[0].ID, nil)
	require.NoError(t, err)

	j, err = f.svc.GetJourney(f.ctx, token)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, j.RunStatus)
	assert.Empty(t, j.PendingTasks)
}

func TestService_GetJourney_UnknownToken(t *testing.T) {
	f := newTestFixture(t)
	_, err := f.svc.GetJourney(f.ctx, "not-a-token")
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestService_CompleteTask_ScopedToRun(t *testing.T) {
	f := newTestFixture(t)
	_, tokenA := f.startRun(t, "emp-a", "evt-a")
	runB, _ := f.startRun(t, "emp-b", "evt-b")

	tasksB, err := f.repo.ListPendingTasksByRun(f.ctx, runB.ID)
	require.NoError(t, err)
	require.Len(t, tasksB, 1)

	// 令牌A不能操作Run B的任务：视同不存在
	_, err = f.svc.CompleteTask(f.ctx, tokenA, tasksB[0].ID, nil)
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)

	// Run B的任务仍然待处理
	loaded, err := f.repo.GetTask(f.ctx, tasksB[0].ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, loaded.Status)
}

func TestService_CompleteTask_UnknownTask(t *testing.T) {
	f := newTestFixture(t)
	_, token := f.startRun(t, "emp-1", "evt-1")

	_, err := f.svc.CompleteTask(f.ctx, token, "missing-task", nil)
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}
