package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// timeLayout 时间列的统一格式
const timeLayout = "2006-01-02 15:04:05"

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row []string) {
	// 更新列宽
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

// Render 渲染表格
func (t *Table) Render() {
	// 打印表头
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Printf("%-*s  ", t.widths[i], h)
	}
	fmt.Println()

	// 打印分隔线
	for i := range t.headers {
		fmt.Print(strings.Repeat("-", t.widths[i]))
		fmt.Print("  ")
	}
	fmt.Println()

	// 打印数据行
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Printf("%-*s  ", t.widths[i], cell)
			}
		}
		fmt.Println()
	}
}

// ========== 域内预设表格 ==========

// RunsTable Run列表的预设列
func RunsTable() *Table {
	return NewTable([]string{"RUN_ID", "WORKFLOW", "EMPLOYEE", "STATUS", "STARTED"})
}

// AddRun 按Run预设列追加一行
func (t *Table) AddRun(r *run.Run) {
	t.AddRow([]string{
		r.ID,
		r.WorkflowID,
		r.EmployeeID,
		FormatStatus(string(r.Status)),
		FormatTime(r.StartTime),
	})
}

// TasksTable 任务列表的预设列
func TasksTable() *Table {
	return NewTable([]string{"TASK_ID", "TITLE", "TYPE", "ASSIGNEE", "DUE", "CREATED"})
}

// AddTask 按任务预设列追加一行
func (t *Table) AddTask(tk *task.Task) {
	t.AddRow([]string{
		tk.ID,
		tk.Title,
		string(tk.Type),
		tk.AssigneeID,
		FormatOptionalTime(tk.DueAt),
		FormatTime(tk.CreateTime),
	})
}

// WorkflowsTable Workflow列表的预设列
func WorkflowsTable() *Table {
	return NewTable([]string{"WORKFLOW_ID", "NAME", "KIND", "STATUS", "CREATED"})
}

// AddWorkflow 按Workflow预设列追加一行
func (t *Table) AddWorkflow(wf *workflow.Workflow) {
	t.AddRow([]string{
		wf.ID,
		wf.Name,
		string(wf.Kind),
		string(wf.Status),
		FormatTime(wf.CreateTime),
	})
}

// VersionsTable 版本列表的预设列
func VersionsTable() *Table {
	return NewTable([]string{"VERSION_ID", "NUMBER", "PUBLISHED", "CREATED"})
}

// AddVersion 按版本预设列追加一行，草稿没有版本号
func (t *Table) AddVersion(v *workflow.Version) {
	published := "-"
	if v.Published {
		published = "✅"
	}
	number := "draft"
	if v.VersionNumber > 0 {
		number = fmt.Sprintf("v%d", v.VersionNumber)
	}
	t.AddRow([]string{v.ID, number, published, FormatTime(v.CreateTime)})
}

// TimelineTable 事件时间线的预设列
func TimelineTable() *Table {
	return NewTable([]string{"POS", "TYPE", "STEP", "TIME"})
}

// AddEvent 按时间线预设列追加一行
func (t *Table) AddEvent(e *run.Event) {
	stepID := "-"
	if e.StepID != "" {
		stepID = e.StepID
	}
	t.AddRow([]string{
		fmt.Sprintf("%d", e.Position),
		string(e.Type),
		stepID,
		FormatTime(e.CreateTime),
	})
}

// ========== 列格式化 ==========

// FormatTime 时间列展示
func FormatTime(tm time.Time) string {
	return tm.Format(timeLayout)
}

// FormatOptionalTime 可空时间列展示
func FormatOptionalTime(tm *time.Time) string {
	if tm == nil {
		return "-"
	}
	return tm.Format(timeLayout)
}

// FormatStatus 状态列展示，带图标
func FormatStatus(status string) string {
	switch status {
	case "completed":
		return "✅ completed"
	case "failed":
		return "❌ failed"
	case "in_progress":
		return "🔄 in_progress"
	case "pending":
		return "⏳ pending"
	case "canceled":
		return "🛑 canceled"
	default:
		return status
	}
}

// StatusIcon 状态图标
func StatusIcon(status string) string {
	switch status {
	case "completed":
		return "✅"
	case "failed":
		return "❌"
	case "in_progress":
		return "🔄"
	case "waiting_input":
		return "📋"
	case "queued":
		return "⏰"
	case "pending":
		return "⏳"
	case "canceled":
		return "🛑"
	default:
		return "❓"
	}
}
