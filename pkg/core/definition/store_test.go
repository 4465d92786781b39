package definition

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevelan1995/hrflow/internal/storage"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	repos, err := storage.NewRepositories("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return NewStore(repos.Workflow), context.Background()
}

func TestStore_CreateWorkflow(t *testing.T) {
	s, ctx := newTestStore(t)

	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "标准入职", workflow.KindOnboarding)
	require.NoError(t, err)
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, workflow.StatusDraft, wf.Status)

	loaded, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, loaded.Name)
	assert.Equal(t, workflow.KindOnboarding, loaded.Kind)
}

func TestStore_CreateWorkflow_InvalidKind(t *testing.T) {
	s, ctx := newTestStore(t)

	_, err := s.CreateWorkflow(ctx, "acme", "x", "", workflow.Kind("approval"))
	var vErr *workflow.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestStore_GetWorkflow_NotFound(t *testing.T) {
	s, ctx := newTestStore(t)

	_, err := s.GetWorkflow(ctx, "missing")
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestStore_SaveDraft_ReplacesPrevious(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	v1 := validVersion()
	_, err = s.SaveDraft(ctx, wf.ID, v1.Nodes, v1.Edges)
	require.NoError(t, err)

	// 第二次保存全量替换草稿
	v2 := validVersion()
	v2.Nodes = v2.Nodes[:1]
	v2.Edges = nil
	saved, err := s.SaveDraft(ctx, wf.ID, v2.Nodes, v2.Edges)
	require.NoError(t, err)

	draft, err := s.GetDraft(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, draft.ID)
	assert.Len(t, draft.Nodes, 1)

	// 旧草稿被删除，只剩一个版本
	versions, err := s.ListVersions(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestStore_SaveDraft_DuplicateNodeKey(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	v := validVersion()
	v.Nodes[1].Key = v.Nodes[0].Key

	_, err = s.SaveDraft(ctx, wf.ID, v.Nodes, v.Edges)
	var vErr *workflow.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestStore_Publish(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	v := validVersion()
	_, err = s.SaveDraft(ctx, wf.ID, v.Nodes, v.Edges)
	require.NoError(t, err)

	published, err := s.Publish(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, published.VersionNumber)
	assert.True(t, published.Published)
	require.NotNil(t, published.PublishedAt)

	// 工作流切换到已发布状态并指向新版本
	loaded, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPublished, loaded.Status)
	assert.Equal(t, published.ID, loaded.ActiveVersionID)

	// 发布后的版本可以被编译加载
	g, err := s.GetActiveDefinition(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, published.ID, g.VersionID)
}

func TestStore_Publish_VersionNumbersMonotonic(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	v := validVersion()
	_, err = s.SaveDraft(ctx, wf.ID, v.Nodes, v.Edges)
	require.NoError(t, err)
	first, err := s.Publish(ctx, wf.ID)
	require.NoError(t, err)

	// 再保存并发布一版
	v2 := validVersion()
	for _, n := range v2.Nodes {
		n.ID = ""
	}
	for _, e := range v2.Edges {
		e.ID = ""
	}
	// 重新建立节点ID引用
	v2.Nodes[0].ID = "m1"
	v2.Nodes[1].ID = "m2"
	v2.Nodes[2].ID = "m3"
	v2.Nodes[3].ID = "m4"
	v2.Edges[0].SourceNodeID, v2.Edges[0].TargetNodeID = "m1", "m2"
	v2.Edges[1].SourceNodeID, v2.Edges[1].TargetNodeID = "m2", "m3"
	v2.Edges[2].SourceNodeID, v2.Edges[2].TargetNodeID = "m2", "m4"
	_, err = s.SaveDraft(ctx, wf.ID, v2.Nodes, v2.Edges)
	require.NoError(t, err)
	second, err := s.Publish(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, first.VersionNumber+1, second.VersionNumber)

	// 激活版本指向最新发布
	loaded, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ActiveVersionID)

	// 历史版本仍然可加载（运行中的Run固定引用旧版本）
	g, err := s.GetDefinition(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, g.VersionID)
}

func TestStore_Publish_InvalidDraft(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	// 只有逻辑节点的true分支
	v := validVersion()
	v.Edges = v.Edges[:2]
	_, err = s.SaveDraft(ctx, wf.ID, v.Nodes, v.Edges)
	require.NoError(t, err)

	_, err = s.Publish(ctx, wf.ID)
	var vErr *workflow.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.NotEmpty(t, vErr.Defects)

	// 校验失败没有部分写入：工作流还是草稿状态
	loaded, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDraft, loaded.Status)
}

func TestStore_Publish_NoDraft(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	_, err = s.Publish(ctx, wf.ID)
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestStore_Archive(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	require.NoError(t, s.Archive(ctx, wf.ID))

	// 归档后不允许编辑和发布
	v := validVersion()
	_, err = s.SaveDraft(ctx, wf.ID, v.Nodes, v.Edges)
	var cErr *workflow.ConflictError
	require.ErrorAs(t, err, &cErr)

	_, err = s.Publish(ctx, wf.ID)
	require.ErrorAs(t, err, &cErr)
}

func TestStore_GetDefinition_RejectsDraft(t *testing.T) {
	s, ctx := newTestStore(t)
	wf, err := s.CreateWorkflow(ctx, "acme", "入职流程", "", workflow.KindOnboarding)
	require.NoError(t, err)

	v := validVersion()
	draft, err := s.SaveDraft(ctx, wf.ID, v.Nodes, v.Edges)
	require.NoError(t, err)

	// 未发布的版本不允许进入执行路径
	_, err = s.GetDefinition(ctx, draft.ID)
	require.Error(t, err)
}
