package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/storage"
	"github.com/stevelan1995/hrflow/pkg/storage/dao"
)

// ========== Workflow定义相关操作 ==========

// SaveWorkflow 保存Workflow定义（幂等）
func (d *DB) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	wfDAO := workflowToDAO(wf)

	columns := []string{"id", "tenant_id", "name", "description", "kind", "status", "active_version_id", "create_time", "update_time"}
	updateColumns := []string{"name", "description", "kind", "status", "active_version_id", "update_time"}
	query := d.dialect.UpsertSQL("workflow", columns, "id", updateColumns)

	if _, err := d.db.NamedExecContext(ctx, query, wfDAO); err != nil {
		return fmt.Errorf("保存Workflow失败: %w", err)
	}
	return nil
}

// GetWorkflow 根据ID获取Workflow
func (d *DB) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wfDAO dao.WorkflowDAO
	query := d.rebind(`SELECT id, tenant_id, name, description, kind, status, active_version_id, create_time, update_time
	          FROM workflow WHERE id = ?`)
	if err := d.db.GetContext(ctx, &wfDAO, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询Workflow失败: %w", err)
	}
	return daoToWorkflow(&wfDAO), nil
}

// ListWorkflows 列出租户下的所有Workflow
func (d *DB) ListWorkflows(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
	return d.listWorkflows(ctx, tenantID, "")
}

// ListPublishedWorkflows 列出租户下所有已发布的Workflow
func (d *DB) ListPublishedWorkflows(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
	return d.listWorkflows(ctx, tenantID, string(workflow.StatusPublished))
}

// listWorkflows 列出Workflow，status为空表示不过滤
func (d *DB) listWorkflows(ctx context.Context, tenantID, status string) ([]*workflow.Workflow, error) {
	query := `SELECT id, tenant_id, name, description, kind, status, active_version_id, create_time, update_time
	          FROM workflow WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY create_time`

	var wfDAOs []dao.WorkflowDAO
	if err := d.db.SelectContext(ctx, &wfDAOs, d.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询Workflow列表失败: %w", err)
	}

	workflows := make([]*workflow.Workflow, 0, len(wfDAOs))
	for i := range wfDAOs {
		workflows = append(workflows, daoToWorkflow(&wfDAOs[i]))
	}
	return workflows, nil
}

// ========== 版本相关操作 ==========

// SaveDraftVersion 保存草稿版本及其节点和边（事务，全量替换）
func (d *DB) SaveDraftVersion(ctx context.Context, v *workflow.Version) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	// 1. 删除旧草稿（已发布版本不可变，不受影响）
	var oldDraftIDs []string
	selectSQL := tx.Rebind(`SELECT id FROM workflow_version WHERE workflow_id = ? AND published = 0`)
	if err := tx.SelectContext(ctx, &oldDraftIDs, selectSQL, v.WorkflowID); err != nil {
		return fmt.Errorf("查询旧草稿失败: %w", err)
	}
	for _, oldID := range oldDraftIDs {
		if err := deleteVersionInTx(ctx, tx, oldID); err != nil {
			return err
		}
	}

	// 2. 插入新草稿
	vDAO := &dao.VersionDAO{
		ID:            v.ID,
		WorkflowID:    v.WorkflowID,
		VersionNumber: 0,
		Published:     0,
		CreateTime:    v.CreateTime,
	}
	insertVersionSQL := `INSERT INTO workflow_version (id, workflow_id, version_number, published, published_at, create_time)
	          VALUES (:id, :workflow_id, :version_number, :published, :published_at, :create_time)`
	if _, err := tx.NamedExecContext(ctx, insertVersionSQL, vDAO); err != nil {
		return fmt.Errorf("保存版本失败: %w", err)
	}

	// 3. 插入节点和边
	for _, n := range v.Nodes {
		if err := saveNodeInTx(ctx, tx, v.ID, n); err != nil {
			return err
		}
	}
	for _, e := range v.Edges {
		if err := saveEdgeInTx(ctx, tx, v.ID, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// deleteVersionInTx 在事务中删除版本及其节点和边
func deleteVersionInTx(ctx context.Context, tx *sqlx.Tx, versionID string) error {
	for _, stmt := range []string{
		`DELETE FROM workflow_node WHERE version_id = ?`,
		`DELETE FROM workflow_edge WHERE version_id = ?`,
		`DELETE FROM workflow_version WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), versionID); err != nil {
			return fmt.Errorf("删除旧版本失败: %w", err)
		}
	}
	return nil
}

// saveNodeInTx 在事务中保存节点
func saveNodeInTx(ctx context.Context, tx *sqlx.Tx, versionID string, n *workflow.Node) error {
	configJSON, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("序列化节点配置失败: %w", err)
	}

	nDAO := &dao.NodeDAO{
		ID:        n.ID,
		VersionID: versionID,
		NodeKey:   n.Key,
		Name:      n.Name,
		NodeType:  string(n.Type),
		Config:    string(configJSON),
	}
	query := `INSERT INTO workflow_node (id, version_id, node_key, name, node_type, config)
	          VALUES (:id, :version_id, :node_key, :name, :node_type, :config)`
	if _, err := tx.NamedExecContext(ctx, query, nDAO); err != nil {
		return fmt.Errorf("保存节点 %s 失败: %w", n.Key, err)
	}
	return nil
}

// saveEdgeInTx 在事务中保存边
func saveEdgeInTx(ctx context.Context, tx *sqlx.Tx, versionID string, e *workflow.Edge) error {
	eDAO := &dao.EdgeDAO{
		ID:           e.ID,
		VersionID:    versionID,
		SourceNodeID: e.SourceNodeID,
		TargetNodeID: e.TargetNodeID,
		Condition:    e.Condition,
		Position:     e.Position,
	}
	query := `INSERT INTO workflow_edge (id, version_id, source_node_id, target_node_id, edge_condition, position)
	          VALUES (:id, :version_id, :source_node_id, :target_node_id, :edge_condition, :position)`
	if _, err := tx.NamedExecContext(ctx, query, eDAO); err != nil {
		return fmt.Errorf("保存边失败: %w", err)
	}
	return nil
}

// GetDraftVersion 获取Workflow的草稿版本（含节点和边）
func (d *DB) GetDraftVersion(ctx context.Context, workflowID string) (*workflow.Version, error) {
	var vDAO dao.VersionDAO
	query := d.rebind(`SELECT id, workflow_id, version_number, published, published_at, create_time
	          FROM workflow_version WHERE workflow_id = ? AND published = 0`)
	if err := d.db.GetContext(ctx, &vDAO, query, workflowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询草稿版本失败: %w", err)
	}
	return d.loadVersion(ctx, &vDAO)
}

// GetVersion 根据ID获取版本（含节点和边）
func (d *DB) GetVersion(ctx context.Context, versionID string) (*workflow.Version, error) {
	var vDAO dao.VersionDAO
	query := d.rebind(`SELECT id, workflow_id, version_number, published, published_at, create_time
	          FROM workflow_version WHERE id = ?`)
	if err := d.db.GetContext(ctx, &vDAO, query, versionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询版本失败: %w", err)
	}
	return d.loadVersion(ctx, &vDAO)
}

// ListVersions 列出Workflow的所有版本（不含节点和边）
func (d *DB) ListVersions(ctx context.Context, workflowID string) ([]*workflow.Version, error) {
	var vDAOs []dao.VersionDAO
	query := d.rebind(`SELECT id, workflow_id, version_number, published, published_at, create_time
	          FROM workflow_version WHERE workflow_id = ? ORDER BY version_number`)
	if err := d.db.SelectContext(ctx, &vDAOs, query, workflowID); err != nil {
		return nil, fmt.Errorf("查询版本列表失败: %w", err)
	}

	versions := make([]*workflow.Version, 0, len(vDAOs))
	for i := range vDAOs {
		versions = append(versions, daoToVersion(&vDAOs[i]))
	}
	return versions, nil
}

// loadVersion 加载版本的节点和边
func (d *DB) loadVersion(ctx context.Context, vDAO *dao.VersionDAO) (*workflow.Version, error) {
	v := daoToVersion(vDAO)

	var nodeDAOs []dao.NodeDAO
	nodeSQL := d.rebind(`SELECT id, version_id, node_key, name, node_type, config
	          FROM workflow_node WHERE version_id = ? ORDER BY node_key`)
	if err := d.db.SelectContext(ctx, &nodeDAOs, nodeSQL, v.ID); err != nil {
		return nil, fmt.Errorf("查询节点失败: %w", err)
	}
	for i := range nodeDAOs {
		n, err := daoToNode(&nodeDAOs[i])
		if err != nil {
			return nil, err
		}
		v.Nodes = append(v.Nodes, n)
	}

	var edgeDAOs []dao.EdgeDAO
	edgeSQL := d.rebind(`SELECT id, version_id, source_node_id, target_node_id, edge_condition, position
	          FROM workflow_edge WHERE version_id = ? ORDER BY position, id`)
	if err := d.db.SelectContext(ctx, &edgeDAOs, edgeSQL, v.ID); err != nil {
		return nil, fmt.Errorf("查询边失败: %w", err)
	}
	for i := range edgeDAOs {
		e := edgeDAOs[i]
		v.Edges = append(v.Edges, &workflow.Edge{
			ID:           e.ID,
			VersionID:    e.VersionID,
			SourceNodeID: e.SourceNodeID,
			TargetNodeID: e.TargetNodeID,
			Condition:    e.Condition,
			Position:     e.Position,
		})
	}

	return v, nil
}

// PublishVersion 发布草稿版本（事务）
// 分配下一个version_number并激活；旧激活版本通过active_version_id的切换自然停用
func (d *DB) PublishVersion(ctx context.Context, workflowID, versionID string) (*workflow.Version, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	// 1. 分配下一个版本号（按Workflow单调递增）
	var maxNumber int
	maxSQL := tx.Rebind(`SELECT COALESCE(MAX(version_number), 0) FROM workflow_version WHERE workflow_id = ?`)
	if err := tx.GetContext(ctx, &maxNumber, maxSQL, workflowID); err != nil {
		return nil, fmt.Errorf("查询版本号失败: %w", err)
	}
	nextNumber := maxNumber + 1
	now := time.Now()

	// 2. 冻结草稿为已发布版本（条件更新防止重复发布竞争）
	publishSQL := tx.Rebind(`UPDATE workflow_version SET version_number = ?, published = 1, published_at = ?
	          WHERE id = ? AND workflow_id = ? AND published = 0`)
	res, err := tx.ExecContext(ctx, publishSQL, nextNumber, now, versionID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("发布版本失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("获取影响行数失败: %w", err)
	}
	if affected == 0 {
		return nil, workflow.NewConflictError("版本 %s 已被发布或不存在", versionID)
	}

	// 3. 切换Workflow的激活版本
	activateSQL := tx.Rebind(`UPDATE workflow SET status = ?, active_version_id = ?, update_time = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, activateSQL, string(workflow.StatusPublished), versionID, now, workflowID); err != nil {
		return nil, fmt.Errorf("激活版本失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	return d.GetVersion(ctx, versionID)
}

// ========== DAO转换 ==========

// workflowToDAO 将Workflow实体转换为DAO
func workflowToDAO(wf *workflow.Workflow) *dao.WorkflowDAO {
	wfDAO := &dao.WorkflowDAO{
		ID:          wf.ID,
		TenantID:    wf.TenantID,
		Name:        wf.Name,
		Description: wf.Description,
		Kind:        string(wf.Kind),
		Status:      string(wf.Status),
		CreateTime:  wf.CreateTime,
		UpdateTime:  wf.UpdateTime,
	}
	if wf.ActiveVersionID != "" {
		wfDAO.ActiveVersionID.Valid = true
		wfDAO.ActiveVersionID.String = wf.ActiveVersionID
	}
	return wfDAO
}

// daoToWorkflow 将WorkflowDAO转换为Workflow实体
func daoToWorkflow(wfDAO *dao.WorkflowDAO) *workflow.Workflow {
	wf := &workflow.Workflow{
		ID:          wfDAO.ID,
		TenantID:    wfDAO.TenantID,
		Name:        wfDAO.Name,
		Description: wfDAO.Description,
		Kind:        workflow.Kind(wfDAO.Kind),
		Status:      workflow.Status(wfDAO.Status),
		CreateTime:  wfDAO.CreateTime,
		UpdateTime:  wfDAO.UpdateTime,
	}
	if wfDAO.ActiveVersionID.Valid {
		wf.ActiveVersionID = wfDAO.ActiveVersionID.String
	}
	return wf
}

// daoToVersion 将VersionDAO转换为Version实体（不含节点和边）
func daoToVersion(vDAO *dao.VersionDAO) *workflow.Version {
	v := &workflow.Version{
		ID:            vDAO.ID,
		WorkflowID:    vDAO.WorkflowID,
		VersionNumber: vDAO.VersionNumber,
		Published:     vDAO.Published != 0,
		CreateTime:    vDAO.CreateTime,
	}
	if vDAO.PublishedAt.Valid {
		t := vDAO.PublishedAt.Time
		v.PublishedAt = &t
	}
	return v
}

// daoToNode 将NodeDAO转换为Node实体
func daoToNode(nDAO *dao.NodeDAO) (*workflow.Node, error) {
	var config workflow.NodeConfig
	if nDAO.Config != "" {
		if err := json.Unmarshal([]byte(nDAO.Config), &config); err != nil {
			return nil, fmt.Errorf("反序列化节点配置失败: %w", err)
		}
	}
	return &workflow.Node{
		ID:        nDAO.ID,
		VersionID: nDAO.VersionID,
		Key:       nDAO.NodeKey,
		Name:      nDAO.Name,
		Type:      workflow.NodeType(nDAO.NodeType),
		Config:    config,
	}, nil
}

// 确保 DB 实现 WorkflowRepository 接口
var _ storage.WorkflowRepository = (*DB)(nil)
