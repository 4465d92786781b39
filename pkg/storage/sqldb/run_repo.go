package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/storage"
	"github.com/stevelan1995/hrflow/pkg/storage/dao"
)

// ========== Run相关操作 ==========

// CreateRun 创建Run及其初始步骤和旅程视图（事务）
// 幂等键唯一索引冲突时返回 storage.ErrDuplicateRun，不留下部分写入
func (d *DB) CreateRun(ctx context.Context, r *run.Run, steps []*run.Step, view *run.JourneyView) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	rDAO, err := runToDAO(r)
	if err != nil {
		return err
	}
	insertRunSQL := `INSERT INTO workflow_run (id, tenant_id, workflow_id, version_id, employee_id, trigger_event_id,
	          status, context, error_message, lease_owner, lease_expires_at, start_time, end_time, create_time)
	          VALUES (:id, :tenant_id, :workflow_id, :version_id, :employee_id, :trigger_event_id,
	          :status, :context, :error_message, :lease_owner, :lease_expires_at, :start_time, :end_time, :create_time)`
	if _, err := tx.NamedExecContext(ctx, insertRunSQL, rDAO); err != nil {
		if d.dialect.IsDuplicateKeyError(err) {
			return storage.ErrDuplicateRun
		}
		return fmt.Errorf("创建Run失败: %w", err)
	}

	for _, s := range steps {
		sDAO, err := stepToDAO(s)
		if err != nil {
			return err
		}
		insertStepSQL := `INSERT INTO workflow_run_step (id, run_id, node_id, node_key, node_type, status, attempts,
	          result, error_message, due_at, start_time, end_time, create_time)
	          VALUES (:id, :run_id, :node_id, :node_key, :node_type, :status, :attempts,
	          :result, :error_message, :due_at, :start_time, :end_time, :create_time)`
		if _, err := tx.NamedExecContext(ctx, insertStepSQL, sDAO); err != nil {
			return fmt.Errorf("创建步骤 %s 失败: %w", s.NodeKey, err)
		}
	}

	if view != nil {
		vDAO := &dao.JourneyDAO{
			ID:         view.ID,
			RunID:      view.RunID,
			ShareToken: view.ShareToken,
			HeroTitle:  view.HeroTitle,
			HeroBody:   view.HeroBody,
			CreateTime: view.CreateTime,
		}
		insertViewSQL := `INSERT INTO employee_journey_view (id, run_id, share_token, hero_title, hero_body, create_time)
	          VALUES (:id, :run_id, :share_token, :hero_title, :hero_body, :create_time)`
		if _, err := tx.NamedExecContext(ctx, insertViewSQL, vDAO); err != nil {
			return fmt.Errorf("创建旅程视图失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

const runSelectColumns = `id, tenant_id, workflow_id, version_id, employee_id, trigger_event_id,
	          status, context, error_message, lease_owner, lease_expires_at, start_time, end_time, create_time`

// GetRun 根据ID获取Run
func (d *DB) GetRun(ctx context.Context, id string) (*run.Run, error) {
	var rDAO dao.RunDAO
	query := d.rebind(`SELECT ` + runSelectColumns + ` FROM workflow_run WHERE id = ?`)
	if err := d.db.GetContext(ctx, &rDAO, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询Run失败: %w", err)
	}
	return daoToRun(&rDAO)
}

// GetRunByDedupKey 根据幂等键查找Run
func (d *DB) GetRunByDedupKey(ctx context.Context, workflowID, employeeID, triggerEventID string) (*run.Run, error) {
	var rDAO dao.RunDAO
	query := d.rebind(`SELECT ` + runSelectColumns + ` FROM workflow_run
	          WHERE workflow_id = ? AND employee_id = ? AND trigger_event_id = ?`)
	if err := d.db.GetContext(ctx, &rDAO, query, workflowID, employeeID, triggerEventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询Run失败: %w", err)
	}
	return daoToRun(&rDAO)
}

// ListRuns 列出Run，workflowID/employeeID为空表示不过滤
func (d *DB) ListRuns(ctx context.Context, tenantID, workflowID, employeeID string) ([]*run.Run, error) {
	query := `SELECT ` + runSelectColumns + ` FROM workflow_run WHERE tenant_id = ?`
	args := []any{tenantID}
	if workflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, workflowID)
	}
	if employeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, employeeID)
	}
	query += ` ORDER BY create_time`

	var rDAOs []dao.RunDAO
	if err := d.db.SelectContext(ctx, &rDAOs, d.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询Run列表失败: %w", err)
	}

	runs := make([]*run.Run, 0, len(rDAOs))
	for i := range rDAOs {
		r, err := daoToRun(&rDAOs[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// UpdateRunStatusIf 条件更新Run状态（单调迁移保证）
func (d *DB) UpdateRunStatusIf(ctx context.Context, id string, from []run.Status, to run.Status, errorMsg string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	query := `UPDATE workflow_run SET status = ?`
	args := []any{string(to)}
	if errorMsg != "" {
		query += `, error_message = ?`
		args = append(args, errorMsg)
	}
	if to.Terminal() {
		query += `, end_time = ?`
		args = append(args, time.Now())
	}
	query += ` WHERE id = ? AND status IN (`
	args = append(args, id)
	for i, f := range from {
		if i > 0 {
			query += `, `
		}
		query += `?`
		args = append(args, string(f))
	}
	query += `)`

	res, err := d.db.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("更新Run状态失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected > 0, nil
}

// UpdateRunContext 更新Run的累积上下文
func (d *DB) UpdateRunContext(ctx context.Context, id string, runCtx map[string]any) error {
	ctxJSON, err := marshalJSONMap(runCtx)
	if err != nil {
		return fmt.Errorf("序列化Run上下文失败: %w", err)
	}
	query := d.rebind(`UPDATE workflow_run SET context = ? WHERE id = ?`)
	if _, err := d.db.ExecContext(ctx, query, ctxJSON, id); err != nil {
		return fmt.Errorf("更新Run上下文失败: %w", err)
	}
	return nil
}

// AcquireRunLease 获取Run的单写者推进锁
// 条件更新：锁空闲、已过期或已被同一owner持有时才写入，保证同一Run只有一个推进者
func (d *DB) AcquireRunLease(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	query := d.rebind(`UPDATE workflow_run SET lease_owner = ?, lease_expires_at = ?
	          WHERE id = ? AND (lease_owner = '' OR lease_owner = ? OR lease_expires_at < ?)`)
	res, err := d.db.ExecContext(ctx, query, owner, now.Add(ttl), runID, owner, now)
	if err != nil {
		return false, fmt.Errorf("获取Run推进锁失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected > 0, nil
}

// ReleaseRunLease 释放Run推进锁（仅owner本人可释放，幂等）
func (d *DB) ReleaseRunLease(ctx context.Context, runID, owner string) error {
	query := d.rebind(`UPDATE workflow_run SET lease_owner = '', lease_expires_at = NULL
	          WHERE id = ? AND lease_owner = ?`)
	if _, err := d.db.ExecContext(ctx, query, runID, owner); err != nil {
		return fmt.Errorf("释放Run推进锁失败: %w", err)
	}
	return nil
}

// ========== Step相关操作 ==========

// SaveStep 保存步骤（幂等，存在则更新）
func (d *DB) SaveStep(ctx context.Context, s *run.Step) error {
	sDAO, err := stepToDAO(s)
	if err != nil {
		return err
	}

	columns := []string{"id", "run_id", "node_id", "node_key", "node_type", "status", "attempts",
		"result", "error_message", "due_at", "start_time", "end_time", "create_time"}
	updateColumns := []string{"status", "attempts", "result", "error_message", "due_at", "end_time"}
	query := d.dialect.UpsertSQL("workflow_run_step", columns, "id", updateColumns)

	if _, err := d.db.NamedExecContext(ctx, query, sDAO); err != nil {
		return fmt.Errorf("保存步骤失败: %w", err)
	}
	return nil
}

const stepSelectColumns = `id, run_id, node_id, node_key, node_type, status, attempts,
	          result, error_message, due_at, start_time, end_time, create_time`

// GetStep 根据ID获取步骤
func (d *DB) GetStep(ctx context.Context, id string) (*run.Step, error) {
	var sDAO dao.StepDAO
	query := d.rebind(`SELECT ` + stepSelectColumns + ` FROM workflow_run_step WHERE id = ?`)
	if err := d.db.GetContext(ctx, &sDAO, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询步骤失败: %w", err)
	}
	return daoToStep(&sDAO)
}

// GetStepsByRun 获取Run的所有步骤
func (d *DB) GetStepsByRun(ctx context.Context, runID string) ([]*run.Step, error) {
	var sDAOs []dao.StepDAO
	query := d.rebind(`SELECT ` + stepSelectColumns + ` FROM workflow_run_step
	          WHERE run_id = ? ORDER BY create_time, node_key`)
	if err := d.db.SelectContext(ctx, &sDAOs, query, runID); err != nil {
		return nil, fmt.Errorf("查询步骤列表失败: %w", err)
	}

	steps := make([]*run.Step, 0, len(sDAOs))
	for i := range sDAOs {
		s, err := daoToStep(&sDAOs[i])
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// UpdateStepIfOpen 条件更新步骤（终态不可再变）
func (d *DB) UpdateStepIfOpen(ctx context.Context, s *run.Step) (bool, error) {
	sDAO, err := stepToDAO(s)
	if err != nil {
		return false, err
	}

	query := d.rebind(`UPDATE workflow_run_step
	          SET status = ?, attempts = ?, result = ?, error_message = ?, due_at = ?, end_time = ?
	          WHERE id = ? AND status NOT IN (?, ?, ?)`)
	res, err := d.db.ExecContext(ctx, query,
		sDAO.Status, sDAO.Attempts, sDAO.Result, sDAO.ErrorMessage, sDAO.DueAt, sDAO.EndTime,
		sDAO.ID,
		string(run.StepStatusCompleted), string(run.StepStatusFailed), string(run.StepStatusCanceled))
	if err != nil {
		return false, fmt.Errorf("更新步骤失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected > 0, nil
}

// CancelOpenSteps 将Run下所有非终态步骤标记为canceled
func (d *DB) CancelOpenSteps(ctx context.Context, runID string) (int64, error) {
	query := d.rebind(`UPDATE workflow_run_step SET status = ?, end_time = ?
	          WHERE run_id = ? AND status NOT IN (?, ?, ?)`)
	res, err := d.db.ExecContext(ctx, query,
		string(run.StepStatusCanceled), time.Now(), runID,
		string(run.StepStatusCompleted), string(run.StepStatusFailed), string(run.StepStatusCanceled))
	if err != nil {
		return 0, fmt.Errorf("取消步骤失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected, nil
}

// ListOrphanedOpenSteps 列出失去驱动来源的孤立步骤
// 崩溃可能落在步骤落库与任务/票据写入之间：步骤停在in_progress或queued，
// 却没有任何待处理任务或调度票据能推动它。只看未终结Run下、
// 创建早于cutoff的步骤，避免把正在执行的步骤误判为孤立
func (d *DB) ListOrphanedOpenSteps(ctx context.Context, cutoff time.Time, limit int) ([]*run.Step, error) {
	query := d.rebind(`SELECT s.id, s.run_id, s.node_id, s.node_key, s.node_type, s.status, s.attempts,
	          s.result, s.error_message, s.due_at, s.start_time, s.end_time, s.create_time
	          FROM workflow_run_step s
	          JOIN workflow_run r ON r.id = s.run_id
	          WHERE s.status IN (?, ?) AND s.create_time < ?
	            AND r.status IN (?, ?)
	            AND NOT EXISTS (SELECT 1 FROM workflow_action_queue q WHERE q.step_id = s.id)
	            AND NOT EXISTS (SELECT 1 FROM hr_task t WHERE t.step_id = s.id AND t.status = ?)
	          ORDER BY s.create_time LIMIT ?`)

	var sDAOs []dao.StepDAO
	if err := d.db.SelectContext(ctx, &sDAOs, query,
		string(run.StepStatusInProgress), string(run.StepStatusQueued), cutoff,
		string(run.StatusPending), string(run.StatusInProgress),
		string(task.StatusPending), limit); err != nil {
		return nil, fmt.Errorf("查询孤立步骤失败: %w", err)
	}

	steps := make([]*run.Step, 0, len(sDAOs))
	for i := range sDAOs {
		s, err := daoToStep(&sDAOs[i])
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// ========== Task相关操作 ==========

// SaveTask 保存任务
func (d *DB) SaveTask(ctx context.Context, t *task.Task) error {
	tDAO, err := taskToDAO(t)
	if err != nil {
		return err
	}

	columns := []string{"id", "run_id", "step_id", "tenant_id", "employee_id", "task_type", "title",
		"description", "assignee_id", "form_fields", "status", "due_at", "result", "completed_at", "create_time"}
	updateColumns := []string{"status", "due_at", "result", "completed_at"}
	query := d.dialect.UpsertSQL("hr_task", columns, "id", updateColumns)

	if _, err := d.db.NamedExecContext(ctx, query, tDAO); err != nil {
		return fmt.Errorf("保存任务失败: %w", err)
	}
	return nil
}

const taskSelectColumns = `id, run_id, step_id, tenant_id, employee_id, task_type, title,
	          description, assignee_id, form_fields, status, due_at, result, completed_at, create_time`

// GetTask 根据ID获取任务
func (d *DB) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var tDAO dao.TaskDAO
	query := d.rebind(`SELECT ` + taskSelectColumns + ` FROM hr_task WHERE id = ?`)
	if err := d.db.GetContext(ctx, &tDAO, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return daoToTask(&tDAO)
}

// CompleteTaskIfPending 条件完成任务
// 并发重复提交时只有一个UPDATE命中pending行，其余调用返回false
func (d *DB) CompleteTaskIfPending(ctx context.Context, taskID string, result map[string]any, completedAt time.Time) (bool, error) {
	resultJSON, err := marshalJSONMap(result)
	if err != nil {
		return false, fmt.Errorf("序列化任务结果失败: %w", err)
	}

	query := d.rebind(`UPDATE hr_task SET status = ?, result = ?, completed_at = ?
	          WHERE id = ? AND status = ?`)
	res, err := d.db.ExecContext(ctx, query,
		string(task.StatusCompleted), resultJSON, completedAt, taskID, string(task.StatusPending))
	if err != nil {
		return false, fmt.Errorf("完成任务失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected > 0, nil
}

// ListPendingTasksByRun 列出Run下所有待处理任务
func (d *DB) ListPendingTasksByRun(ctx context.Context, runID string) ([]*task.Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM hr_task
	          WHERE run_id = ? AND status = ? ORDER BY create_time`
	return d.listTasks(ctx, query, runID, string(task.StatusPending))
}

// ListPendingTasksByAssignee 列出受理人名下所有待处理任务
func (d *DB) ListPendingTasksByAssignee(ctx context.Context, tenantID, assigneeID string) ([]*task.Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM hr_task
	          WHERE tenant_id = ? AND assignee_id = ? AND status = ? ORDER BY create_time`
	return d.listTasks(ctx, query, tenantID, assigneeID, string(task.StatusPending))
}

// ListOverdueTasks 列出已过期但仍待处理的任务（仅用于升级提醒）
func (d *DB) ListOverdueTasks(ctx context.Context, tenantID string, now time.Time) ([]*task.Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM hr_task
	          WHERE tenant_id = ? AND status = ? AND due_at IS NOT NULL AND due_at < ? ORDER BY due_at`
	return d.listTasks(ctx, query, tenantID, string(task.StatusPending), now)
}

// listTasks 执行任务查询并转换结果
func (d *DB) listTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	var tDAOs []dao.TaskDAO
	if err := d.db.SelectContext(ctx, &tDAOs, d.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}

	tasks := make([]*task.Task, 0, len(tDAOs))
	for i := range tDAOs {
		t, err := daoToTask(&tDAOs[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CancelOpenTasks 将Run下所有待处理任务标记为canceled
func (d *DB) CancelOpenTasks(ctx context.Context, runID string) (int64, error) {
	query := d.rebind(`UPDATE hr_task SET status = ? WHERE run_id = ? AND status = ?`)
	res, err := d.db.ExecContext(ctx, query,
		string(task.StatusCanceled), runID, string(task.StatusPending))
	if err != nil {
		return 0, fmt.Errorf("取消任务失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected, nil
}

// ========== 动作队列相关操作 ==========

// EnqueueAction 入队调度票据
func (d *DB) EnqueueAction(ctx context.Context, e *run.QueueEntry) error {
	eDAO := queueEntryToDAO(e)

	columns := []string{"id", "run_id", "step_id", "resume_at", "attempts", "last_error", "claimed_by", "claim_expire_at", "create_time"}
	updateColumns := []string{"resume_at", "attempts", "last_error", "claimed_by", "claim_expire_at"}
	query := d.dialect.UpsertSQL("workflow_action_queue", columns, "id", updateColumns)

	if _, err := d.db.NamedExecContext(ctx, query, eDAO); err != nil {
		return fmt.Errorf("入队调度票据失败: %w", err)
	}
	return nil
}

// ClaimDueActions 认领到期的调度票据（单一所有者租约）
// 先查出候选再逐条条件认领：只有空闲或租约过期的票据才会命中UPDATE，
// 因此多个调度器并发扫描时同一票据最多被一个调度器恢复
func (d *DB) ClaimDueActions(ctx context.Context, owner string, now time.Time, leaseTTL time.Duration, limit int) ([]*run.QueueEntry, error) {
	selectSQL := d.rebind(`SELECT id, run_id, step_id, resume_at, attempts, last_error, claimed_by, claim_expire_at, create_time
	          FROM workflow_action_queue
	          WHERE resume_at <= ? AND (claimed_by = '' OR claim_expire_at < ?)
	          ORDER BY resume_at LIMIT ?`)

	var candidates []dao.QueueDAO
	if err := d.db.SelectContext(ctx, &candidates, selectSQL, now, now, limit); err != nil {
		return nil, fmt.Errorf("查询到期票据失败: %w", err)
	}

	claimSQL := d.rebind(`UPDATE workflow_action_queue SET claimed_by = ?, claim_expire_at = ?
	          WHERE id = ? AND (claimed_by = '' OR claim_expire_at < ?)`)

	expire := now.Add(leaseTTL)
	claimed := make([]*run.QueueEntry, 0, len(candidates))
	for i := range candidates {
		res, err := d.db.ExecContext(ctx, claimSQL, owner, expire, candidates[i].ID, now)
		if err != nil {
			return nil, fmt.Errorf("认领票据失败: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("获取影响行数失败: %w", err)
		}
		if affected == 0 {
			// 被其他调度器抢先认领
			continue
		}
		e := daoToQueueEntry(&candidates[i])
		e.ClaimedBy = owner
		e.ClaimExpire = &expire
		claimed = append(claimed, e)
	}
	return claimed, nil
}

// RescheduleAction 失败后重新排期
func (d *DB) RescheduleAction(ctx context.Context, id string, resumeAt time.Time, attempts int, lastError string) error {
	query := d.rebind(`UPDATE workflow_action_queue
	          SET resume_at = ?, attempts = ?, last_error = ?, claimed_by = '', claim_expire_at = NULL
	          WHERE id = ?`)
	if _, err := d.db.ExecContext(ctx, query, resumeAt, attempts, lastError, id); err != nil {
		return fmt.Errorf("重新排期失败: %w", err)
	}
	return nil
}

// DeleteAction 删除调度票据（幂等）
func (d *DB) DeleteAction(ctx context.Context, id string) error {
	query := d.rebind(`DELETE FROM workflow_action_queue WHERE id = ?`)
	if _, err := d.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("删除调度票据失败: %w", err)
	}
	return nil
}

// DeleteActionsByRun 删除Run下所有调度票据（幂等）
func (d *DB) DeleteActionsByRun(ctx context.Context, runID string) error {
	query := d.rebind(`DELETE FROM workflow_action_queue WHERE run_id = ?`)
	if _, err := d.db.ExecContext(ctx, query, runID); err != nil {
		return fmt.Errorf("删除调度票据失败: %w", err)
	}
	return nil
}

// ========== 事件日志相关操作 ==========

// AppendEvent 追加事件（事务内分配Run内单调递增的Position）
func (d *DB) AppendEvent(ctx context.Context, ev *run.Event) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	var maxPosition int64
	maxSQL := tx.Rebind(`SELECT COALESCE(MAX(position), 0) FROM workflow_event WHERE run_id = ?`)
	if err := tx.GetContext(ctx, &maxPosition, maxSQL, ev.RunID); err != nil {
		return fmt.Errorf("查询事件位置失败: %w", err)
	}
	ev.Position = maxPosition + 1

	payloadJSON, err := marshalJSONMap(ev.Payload)
	if err != nil {
		return fmt.Errorf("序列化事件负载失败: %w", err)
	}

	eDAO := &dao.EventDAO{
		ID:         ev.ID,
		RunID:      ev.RunID,
		Position:   ev.Position,
		EventType:  string(ev.Type),
		Payload:    payloadJSON,
		CreateTime: ev.CreateTime,
	}
	if ev.StepID != "" {
		eDAO.StepID.Valid = true
		eDAO.StepID.String = ev.StepID
	}
	if ev.TaskID != "" {
		eDAO.TaskID.Valid = true
		eDAO.TaskID.String = ev.TaskID
	}

	insertSQL := `INSERT INTO workflow_event (id, run_id, position, event_type, step_id, task_id, payload, create_time)
	          VALUES (:id, :run_id, :position, :event_type, :step_id, :task_id, :payload, :create_time)`
	if _, err := tx.NamedExecContext(ctx, insertSQL, eDAO); err != nil {
		return fmt.Errorf("追加事件失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// ListEventsByRun 按Position顺序列出Run的所有事件
func (d *DB) ListEventsByRun(ctx context.Context, runID string) ([]*run.Event, error) {
	var eDAOs []dao.EventDAO
	query := d.rebind(`SELECT id, run_id, position, event_type, step_id, task_id, payload, create_time
	          FROM workflow_event WHERE run_id = ? ORDER BY position`)
	if err := d.db.SelectContext(ctx, &eDAOs, query, runID); err != nil {
		return nil, fmt.Errorf("查询事件列表失败: %w", err)
	}

	events := make([]*run.Event, 0, len(eDAOs))
	for i := range eDAOs {
		e := eDAOs[i]
		ev := &run.Event{
			ID:         e.ID,
			RunID:      e.RunID,
			Position:   e.Position,
			Type:       run.EventType(e.EventType),
			CreateTime: e.CreateTime,
		}
		if e.StepID.Valid {
			ev.StepID = e.StepID.String
		}
		if e.TaskID.Valid {
			ev.TaskID = e.TaskID.String
		}
		payload, err := unmarshalJSONMap(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("反序列化事件负载失败: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, nil
}

// ========== 旅程视图相关操作 ==========

// GetJourneyViewByToken 根据分享令牌获取旅程视图
func (d *DB) GetJourneyViewByToken(ctx context.Context, token string) (*run.JourneyView, error) {
	return d.getJourneyView(ctx, `share_token`, token)
}

// GetJourneyViewByRun 根据Run ID获取旅程视图
func (d *DB) GetJourneyViewByRun(ctx context.Context, runID string) (*run.JourneyView, error) {
	return d.getJourneyView(ctx, `run_id`, runID)
}

// getJourneyView 按指定列查询旅程视图
func (d *DB) getJourneyView(ctx context.Context, column, value string) (*run.JourneyView, error) {
	var vDAO dao.JourneyDAO
	query := d.rebind(`SELECT id, run_id, share_token, hero_title, hero_body, create_time
	          FROM employee_journey_view WHERE ` + column + ` = ?`)
	if err := d.db.GetContext(ctx, &vDAO, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询旅程视图失败: %w", err)
	}
	return &run.JourneyView{
		ID:         vDAO.ID,
		RunID:      vDAO.RunID,
		ShareToken: vDAO.ShareToken,
		HeroTitle:  vDAO.HeroTitle,
		HeroBody:   vDAO.HeroBody,
		CreateTime: vDAO.CreateTime,
	}, nil
}

// ========== DAO转换 ==========

// marshalJSONMap 将map序列化为JSON字符串，nil得到"{}"
func marshalJSONMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalJSONMap 将JSON字符串反序列化为map，空串得到nil
func unmarshalJSONMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// runToDAO 将Run实体转换为DAO
func runToDAO(r *run.Run) (*dao.RunDAO, error) {
	ctxJSON, err := marshalJSONMap(r.Context)
	if err != nil {
		return nil, fmt.Errorf("序列化Run上下文失败: %w", err)
	}
	rDAO := &dao.RunDAO{
		ID:             r.ID,
		TenantID:       r.TenantID,
		WorkflowID:     r.WorkflowID,
		VersionID:      r.VersionID,
		EmployeeID:     r.EmployeeID,
		TriggerEventID: r.TriggerEventID,
		Status:         string(r.Status),
		Context:        ctxJSON,
		StartTime:      r.StartTime,
		CreateTime:     r.CreateTime,
	}
	if r.ErrorMessage != "" {
		rDAO.ErrorMessage.Valid = true
		rDAO.ErrorMessage.String = r.ErrorMessage
	}
	if r.EndTime != nil {
		rDAO.EndTime.Valid = true
		rDAO.EndTime.Time = *r.EndTime
	}
	return rDAO, nil
}

// daoToRun 将RunDAO转换为Run实体
func daoToRun(rDAO *dao.RunDAO) (*run.Run, error) {
	runCtx, err := unmarshalJSONMap(rDAO.Context)
	if err != nil {
		return nil, fmt.Errorf("反序列化Run上下文失败: %w", err)
	}
	r := &run.Run{
		ID:             rDAO.ID,
		TenantID:       rDAO.TenantID,
		WorkflowID:     rDAO.WorkflowID,
		VersionID:      rDAO.VersionID,
		EmployeeID:     rDAO.EmployeeID,
		TriggerEventID: rDAO.TriggerEventID,
		Status:         run.Status(rDAO.Status),
		Context:        runCtx,
		StartTime:      rDAO.StartTime,
		CreateTime:     rDAO.CreateTime,
	}
	if rDAO.ErrorMessage.Valid {
		r.ErrorMessage = rDAO.ErrorMessage.String
	}
	if rDAO.EndTime.Valid {
		t := rDAO.EndTime.Time
		r.EndTime = &t
	}
	return r, nil
}

// stepToDAO 将Step实体转换为DAO
func stepToDAO(s *run.Step) (*dao.StepDAO, error) {
	resultJSON, err := marshalJSONMap(s.Result)
	if err != nil {
		return nil, fmt.Errorf("序列化步骤结果失败: %w", err)
	}
	sDAO := &dao.StepDAO{
		ID:         s.ID,
		RunID:      s.RunID,
		NodeID:     s.NodeID,
		NodeKey:    s.NodeKey,
		NodeType:   string(s.NodeType),
		Status:     string(s.Status),
		Attempts:   s.Attempts,
		Result:     resultJSON,
		StartTime:  s.StartTime,
		CreateTime: s.CreateTime,
	}
	if s.ErrorMessage != "" {
		sDAO.ErrorMessage.Valid = true
		sDAO.ErrorMessage.String = s.ErrorMessage
	}
	if s.DueAt != nil {
		sDAO.DueAt.Valid = true
		sDAO.DueAt.Time = *s.DueAt
	}
	if s.EndTime != nil {
		sDAO.EndTime.Valid = true
		sDAO.EndTime.Time = *s.EndTime
	}
	return sDAO, nil
}

// daoToStep 将StepDAO转换为Step实体
func daoToStep(sDAO *dao.StepDAO) (*run.Step, error) {
	result, err := unmarshalJSONMap(sDAO.Result)
	if err != nil {
		return nil, fmt.Errorf("反序列化步骤结果失败: %w", err)
	}
	s := &run.Step{
		ID:         sDAO.ID,
		RunID:      sDAO.RunID,
		NodeID:     sDAO.NodeID,
		NodeKey:    sDAO.NodeKey,
		NodeType:   workflow.NodeType(sDAO.NodeType),
		Status:     run.StepStatus(sDAO.Status),
		Attempts:   sDAO.Attempts,
		Result:     result,
		StartTime:  sDAO.StartTime,
		CreateTime: sDAO.CreateTime,
	}
	if sDAO.ErrorMessage.Valid {
		s.ErrorMessage = sDAO.ErrorMessage.String
	}
	if sDAO.DueAt.Valid {
		t := sDAO.DueAt.Time
		s.DueAt = &t
	}
	if sDAO.EndTime.Valid {
		t := sDAO.EndTime.Time
		s.EndTime = &t
	}
	return s, nil
}

// taskToDAO 将Task实体转换为DAO
func taskToDAO(t *task.Task) (*dao.TaskDAO, error) {
	formJSON := "[]"
	if len(t.Form) > 0 {
		data, err := json.Marshal(t.Form)
		if err != nil {
			return nil, fmt.Errorf("序列化表单字段失败: %w", err)
		}
		formJSON = string(data)
	}

	tDAO := &dao.TaskDAO{
		ID:          t.ID,
		RunID:       t.RunID,
		StepID:      t.StepID,
		TenantID:    t.TenantID,
		EmployeeID:  t.EmployeeID,
		TaskType:    string(t.Type),
		Title:       t.Title,
		Description: t.Description,
		AssigneeID:  t.AssigneeID,
		FormFields:  formJSON,
		Status:      string(t.Status),
		CreateTime:  t.CreateTime,
	}
	if t.DueAt != nil {
		tDAO.DueAt.Valid = true
		tDAO.DueAt.Time = *t.DueAt
	}
	if t.Result != nil {
		resultJSON, err := marshalJSONMap(t.Result)
		if err != nil {
			return nil, fmt.Errorf("序列化任务结果失败: %w", err)
		}
		tDAO.Result.Valid = true
		tDAO.Result.String = resultJSON
	}
	if t.CompletedAt != nil {
		tDAO.CompletedAt.Valid = true
		tDAO.CompletedAt.Time = *t.CompletedAt
	}
	return tDAO, nil
}

// daoToTask 将TaskDAO转换为Task实体
func daoToTask(tDAO *dao.TaskDAO) (*task.Task, error) {
	t := &task.Task{
		ID:          tDAO.ID,
		RunID:       tDAO.RunID,
		StepID:      tDAO.StepID,
		TenantID:    tDAO.TenantID,
		EmployeeID:  tDAO.EmployeeID,
		Type:        task.Type(tDAO.TaskType),
		Title:       tDAO.Title,
		Description: tDAO.Description,
		AssigneeID:  tDAO.AssigneeID,
		Status:      task.Status(tDAO.Status),
		CreateTime:  tDAO.CreateTime,
	}
	if tDAO.FormFields != "" && tDAO.FormFields != "[]" {
		if err := json.Unmarshal([]byte(tDAO.FormFields), &t.Form); err != nil {
			return nil, fmt.Errorf("反序列化表单字段失败: %w", err)
		}
	}
	if tDAO.DueAt.Valid {
		dueAt := tDAO.DueAt.Time
		t.DueAt = &dueAt
	}
	if tDAO.Result.Valid {
		result, err := unmarshalJSONMap(tDAO.Result.String)
		if err != nil {
			return nil, fmt.Errorf("反序列化任务结果失败: %w", err)
		}
		t.Result = result
	}
	if tDAO.CompletedAt.Valid {
		completedAt := tDAO.CompletedAt.Time
		t.CompletedAt = &completedAt
	}
	return t, nil
}

// queueEntryToDAO 将QueueEntry实体转换为DAO
func queueEntryToDAO(e *run.QueueEntry) *dao.QueueDAO {
	eDAO := &dao.QueueDAO{
		ID:         e.ID,
		RunID:      e.RunID,
		StepID:     e.StepID,
		ResumeAt:   e.ResumeAt,
		Attempts:   e.Attempts,
		LastError:  e.LastError,
		ClaimedBy:  e.ClaimedBy,
		CreateTime: e.CreateTime,
	}
	if e.ClaimExpire != nil {
		eDAO.ClaimExpireAt.Valid = true
		eDAO.ClaimExpireAt.Time = *e.ClaimExpire
	}
	return eDAO
}

// daoToQueueEntry 将QueueDAO转换为QueueEntry实体
func daoToQueueEntry(eDAO *dao.QueueDAO) *run.QueueEntry {
	e := &run.QueueEntry{
		ID:         eDAO.ID,
		RunID:      eDAO.RunID,
		StepID:     eDAO.StepID,
		ResumeAt:   eDAO.ResumeAt,
		Attempts:   eDAO.Attempts,
		LastError:  eDAO.LastError,
		ClaimedBy:  eDAO.ClaimedBy,
		CreateTime: eDAO.CreateTime,
	}
	if eDAO.ClaimExpireAt.Valid {
		t := eDAO.ClaimExpireAt.Time
		e.ClaimExpire = &t
	}
	return e
}

// 确保 DB 实现 RunAggregateRepository 接口
var _ storage.RunAggregateRepository = (*DB)(nil)
