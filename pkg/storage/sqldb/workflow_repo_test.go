package sqldb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

func seedWorkflow(t *testing.T, db *DB, ctx context.Context) *workflow.Workflow {
	t.Helper()
	now := time.Now()
	wf := &workflow.Workflow{
		ID:         uuid.New().String(),
		TenantID:   "acme",
		Name:       "入职流程",
		Kind:       workflow.KindOnboarding,
		Status:     workflow.StatusDraft,
		CreateTime: now,
		UpdateTime: now,
	}
	require.NoError(t, db.SaveWorkflow(ctx, wf))
	return wf
}

func seedDraft(t *testing.T, db *DB, ctx context.Context, workflowID string) *workflow.Version {
	t.Helper()
	v := &workflow.Version{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		CreateTime: time.Now(),
		Nodes: []*workflow.Node{
			{ID: uuid.New().String(), Key: "start", Name: "触发",
				Type:   workflow.NodeTypeTrigger,
				Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}}},
		},
	}
	require.NoError(t, db.SaveDraftVersion(ctx, v))
	return v
}

func TestDB_SaveWorkflow_Upsert(t *testing.T) {
	db, ctx := newTestDB(t)
	wf := seedWorkflow(t, db, ctx)

	wf.Name = "改名后的流程"
	wf.Status = workflow.StatusArchived
	require.NoError(t, db.SaveWorkflow(ctx, wf))

	loaded, err := db.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "改名后的流程", loaded.Name)
	assert.Equal(t, workflow.StatusArchived, loaded.Status)

	// 不存在返回nil而不是错误
	missing, err := db.GetWorkflow(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDB_ListPublishedWorkflows(t *testing.T) {
	db, ctx := newTestDB(t)
	draft := seedWorkflow(t, db, ctx)
	published := seedWorkflow(t, db, ctx)
	v := seedDraft(t, db, ctx, published.ID)
	_, err := db.PublishVersion(ctx, published.ID, v.ID)
	require.NoError(t, err)

	all, err := db.ListWorkflows(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// 触发分发只看已发布的
	pub, err := db.ListPublishedWorkflows(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pub, 1)
	assert.Equal(t, published.ID, pub[0].ID)
	assert.NotEqual(t, draft.ID, pub[0].ID)
}

func TestDB_PublishVersion(t *testing.T) {
	db, ctx := newTestDB(t)
	wf := seedWorkflow(t, db, ctx)
	v := seedDraft(t, db, ctx, wf.ID)

	published, err := db.PublishVersion(ctx, wf.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, published.VersionNumber)
	assert.True(t, published.Published)
	require.NotNil(t, published.PublishedAt)

	loaded, err := db.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPublished, loaded.Status)
	assert.Equal(t, v.ID, loaded.ActiveVersionID)

	// 同一版本重复发布：条件更新失败，返回冲突
	_, err = db.PublishVersion(ctx, wf.ID, v.ID)
	var cErr *workflow.ConflictError
	require.ErrorAs(t, err, &cErr)
}

func TestDB_PublishVersion_MonotonicNumbers(t *testing.T) {
	db, ctx := newTestDB(t)
	wf := seedWorkflow(t, db, ctx)

	v1 := seedDraft(t, db, ctx, wf.ID)
	p1, err := db.PublishVersion(ctx, wf.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.VersionNumber)

	v2 := seedDraft(t, db, ctx, wf.ID)
	p2, err := db.PublishVersion(ctx, wf.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p2.VersionNumber)

	// 两个已发布版本并存，新草稿替换不影响它们
	versions, err := db.ListVersions(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestDB_SaveDraftVersion_ReplacesOldDraft(t *testing.T) {
	db, ctx := newTestDB(t)
	wf := seedWorkflow(t, db, ctx)

	old := seedDraft(t, db, ctx, wf.ID)
	replacement := seedDraft(t, db, ctx, wf.ID)

	draft, err := db.GetDraftVersion(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, replacement.ID, draft.ID)

	// 旧草稿连同节点一起删除
	gone, err := db.GetVersion(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDB_GetVersion_LoadsNodesAndEdges(t *testing.T) {
	db, ctx := newTestDB(t)
	wf := seedWorkflow(t, db, ctx)

	triggerID := uuid.New().String()
	actionID := uuid.New().String()
	v := &workflow.Version{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		CreateTime: time.Now(),
		Nodes: []*workflow.Node{
			{ID: triggerID, Key: "start", Name: "触发", Type: workflow.NodeTypeTrigger,
				Config: workflow.NodeConfig{Trigger: &workflow.TriggerConfig{EventType: "employee.hired"}}},
			{ID: actionID, Key: "confirm", Name: "确认", Type: workflow.NodeTypeAction,
				Config: workflow.NodeConfig{Action: &workflow.ActionConfig{
					TaskType: "form",
					Form:     []workflow.FormField{{Key: "desk", Label: "工位", Required: true}},
				}}},
		},
		Edges: []*workflow.Edge{
			{ID: uuid.New().String(), SourceNodeID: triggerID, TargetNodeID: actionID, Position: 0},
		},
	}
	require.NoError(t, db.SaveDraftVersion(ctx, v))

	loaded, err := db.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Nodes, 2)
	require.Len(t, loaded.Edges, 1)

	// 节点配置按类型完整往返
	var action *workflow.Node
	for _, n := range loaded.Nodes {
		if n.Key == "confirm" {
			action = n
		}
	}
	require.NotNil(t, action)
	require.NotNil(t, action.Config.Action)
	assert.Equal(t, "form", action.Config.Action.TaskType)
	require.Len(t, action.Config.Action.Form, 1)
	assert.Equal(t, "工位", action.Config.Action.Form[0].Label)
	assert.Equal(t, triggerID, loaded.Edges[0].SourceNodeID)
}
