package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalstorage "github.com/stevelan1995/hrflow/internal/storage"
	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

type testFixture struct {
	repos      *internalstorage.Repositories
	defs       *definition.Store
	eng        *engine.Engine
	dispatcher *Dispatcher
	bus        *gochannel.GoChannel
	ctx        context.Context
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	repos, err := internalstorage.NewRepositories("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	defs := definition.NewStore(repos.Workflow)
	eng := engine.NewEngine(defs, repos.RunAggregate, nil, nil, nil, engine.Config{
		WorkerID: "dispatch-test",
	})
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16},
		watermill.NewStdLogger(false, false))
	t.Cleanup(func() { bus.Close() })

	return &testFixture{
		repos:      repos,
		defs:       defs,
		eng:        eng,
		dispatcher: NewDispatcher(defs, repos.Workflow, eng, bus, bus),
		bus:        bus,
		ctx:        context.Background(),
	}
}

// publishWorkflow 发布一个由指定事件类型触发、带直接后继通知节点的工作流
func (f *testFixture) publishWorkflow(t *testing.T, eventType string, predicate []workflow.Comparison) *workflow.Workflow {
	t.Helper()
	wf, err := f.defs.CreateWorkflow(f.ctx, "acme", "流程_"+eventType, "", workflow.KindOnboarding)
	require.NoError(t, err)

	nodes := []*workflow.Node{
		{
			ID: wf.ID + "-t", Key: "start", Name: "触发", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{
				EventType: eventType,
				Predicate: predicate,
			}},
		},
		{
			ID: wf.ID + "-a", Key: "greet", Name: "问候任务", Type: workflow.NodeTypeAction,
			Config: workflow.NodeConfig{Action: &workflow.ActionConfig{TaskType: "general"}},
		},
	}
	edges := []*workflow.Edge{{SourceNodeID: wf.ID + "-t", TargetNodeID: wf.ID + "-a", Position: 0}}
	_, err = f.defs.SaveDraft(f.ctx, wf.ID, nodes, edges)
	require.NoError(t, err)
	_, err = f.defs.Publish(f.ctx, wf.ID)
	require.NoError(t, err)
	return wf
}

func (f *testFixture) listRuns(t *testing.T) []*run.Run {
	t.Helper()
	runs, err := f.repos.RunAggregate.ListRuns(f.ctx, "acme", "", "")
	require.NoError(t, err)
	return runs
}

func TestDispatcher_Dispatch_CreatesRunAndAdvances(t *testing.T) {
	f := newTestFixture(t)
	wf := f.publishWorkflow(t, "employee.hired", nil)

	created, err := f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID:         "evt-1",
		Type:       "employee.hired",
		TenantID:   "acme",
		EmployeeID: "emp-1",
		Payload:    map[string]any{"name": "张三"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, wf.ID, created[0].WorkflowID)
	assert.Equal(t, "evt-1", created[0].TriggerEventID)

	// 触发节点的直接后继已在分发后推进：通用任务等待中
	steps, err := f.eng.GetRunSteps(f.ctx, created[0].ID)
	require.NoError(t, err)
	byKey := make(map[string]*run.Step)
	for _, s := range steps {
		byKey[s.NodeKey] = s
	}
	assert.Equal(t, run.StepStatusCompleted, byKey["start"].Status)
	assert.Equal(t, run.StepStatusWaitingInput, byKey["greet"].Status)
}

func TestDispatcher_Dispatch_Idempotent(t *testing.T) {
	f := newTestFixture(t)
	f.publishWorkflow(t, "employee.hired", nil)
	ev := &DomainEvent{ID: "evt-dup", Type: "employee.hired", TenantID: "acme", EmployeeID: "emp-1"}

	first, err := f.dispatcher.Dispatch(f.ctx, ev)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// 至少一次投递下的重复事件不产生新Run
	second, err := f.dispatcher.Dispatch(f.ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, f.listRuns(t), 1)
}

func TestDispatcher_Dispatch_DuplicateResumesStalledRun(t *testing.T) {
	f := newTestFixture(t)
	wf := f.publishWorkflow(t, "employee.hired", nil)

	// 模拟首次投递在首轮推进前崩溃：Run落库但从未推进
	g, err := f.defs.GetActiveDefinition(f.ctx, wf.ID)
	require.NoError(t, err)
	wf, err = f.defs.GetWorkflow(f.ctx, wf.ID)
	require.NoError(t, err)
	trigger := g.TriggerByEventType("employee.hired")
	r, isNew, err := f.eng.CreateRun(f.ctx, wf, g, "emp-1", "evt-crash", trigger, nil)
	require.NoError(t, err)
	require.True(t, isNew)

	loaded, err := f.eng.GetRun(f.ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, run.StatusPending, loaded.Status)

	// 同一事件重投命中去重键：不新建Run，但把停在pending的Run推进下去
	created, err := f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID: "evt-crash", Type: "employee.hired", TenantID: "acme", EmployeeID: "emp-1",
	})
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, f.listRuns(t), 1)

	loaded, err = f.eng.GetRun(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusInProgress, loaded.Status)

	steps, err := f.eng.GetRunSteps(f.ctx, r.ID)
	require.NoError(t, err)
	byKey := make(map[string]*run.Step)
	for _, s := range steps {
		byKey[s.NodeKey] = s
	}
	assert.Equal(t, run.StepStatusWaitingInput, byKey["greet"].Status)
}

func TestDispatcher_Dispatch_EventTypeMismatch(t *testing.T) {
	f := newTestFixture(t)
	f.publishWorkflow(t, "employee.hired", nil)

	created, err := f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID: "evt-x", Type: "employee.terminated", TenantID: "acme", EmployeeID: "emp-1",
	})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDispatcher_Dispatch_PredicateFilters(t *testing.T) {
	f := newTestFixture(t)
	f.publishWorkflow(t, "employee.hired", []workflow.Comparison{
		{Field: "department", Op: workflow.OpEqual, Value: "engineering"},
	})

	// 谓词未命中：不创建Run
	created, err := f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID: "evt-sales", Type: "employee.hired", TenantID: "acme", EmployeeID: "emp-1",
		Payload: map[string]any{"department": "sales"},
	})
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID: "evt-eng", Type: "employee.hired", TenantID: "acme", EmployeeID: "emp-2",
		Payload: map[string]any{"department": "engineering"},
	})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestDispatcher_Dispatch_SkipsUnpublishedWorkflow(t *testing.T) {
	f := newTestFixture(t)
	// 只有草稿，从未发布
	wf, err := f.defs.CreateWorkflow(f.ctx, "acme", "草稿流程", "", workflow.KindOnboarding)
	require.NoError(t, err)
	_, err = f.defs.SaveDraft(f.ctx, wf.ID, []*workflow.Node{
		{ID: "d1", Key: "start", Name: "触发", Type: workflow.NodeTypeTrigger,
			Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}}},
	}, nil)
	require.NoError(t, err)

	created, err := f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID: "evt-1", Type: "employee.hired", TenantID: "acme", EmployeeID: "emp-1",
	})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDispatcher_Dispatch_MultipleWorkflowsMatch(t *testing.T) {
	f := newTestFixture(t)
	wf1 := f.publishWorkflow(t, "employee.hired", nil)
	wf2 := f.publishWorkflow(t, "employee.hired", nil)

	created, err := f.dispatcher.Dispatch(f.ctx, &DomainEvent{
		ID: "evt-multi", Type: "employee.hired", TenantID: "acme", EmployeeID: "emp-1",
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	got := map[string]bool{created[0].WorkflowID: true, created[1].WorkflowID: true}
	assert.True(t, got[wf1.ID])
	assert.True(t, got[wf2.ID])
}

func TestDispatcher_BusRoundTrip(t *testing.T) {
	f := newTestFixture(t)
	f.publishWorkflow(t, "employee.hired", nil)

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	require.NoError(t, f.dispatcher.Start(ctx))

	require.NoError(t, f.dispatcher.Publish(f.ctx, &DomainEvent{
		Type:       "employee.hired",
		TenantID:   "acme",
		EmployeeID: "emp-9",
	}))

	// 订阅循环异步消费，轮询等待Run落库
	require.Eventually(t, func() bool {
		return len(f.listRuns(t)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	r := f.listRuns(t)[0]
	assert.Equal(t, "emp-9", r.EmployeeID)
	assert.NotEmpty(t, r.TriggerEventID)
}

// 确认事件总线消息携带类型元数据，供按类型过滤的订阅方使用
func TestDispatcher_Publish_SetsMetadata(t *testing.T) {
	f := newTestFixture(t)

	messages, err := f.bus.Subscribe(f.ctx, TopicDomainEvents)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Publish(f.ctx, &DomainEvent{
		Type: "employee.terminated", TenantID: "acme", EmployeeID: "emp-1",
	}))

	select {
	case msg := <-messages:
		assert.Equal(t, "employee.terminated", msg.Metadata.Get("event_type"))
		msg.Ack()
	case <-time.After(3 * time.Second):
		t.Fatal("等待总线消息超时")
	}
}
