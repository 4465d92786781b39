package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
)

func TestTable_AddRun(t *testing.T) {
	table := RunsTable()
	table.AddRun(&run.Run{
		ID:         "run-1",
		WorkflowID: "wf-onboarding",
		EmployeeID: "emp-1",
		Status:     run.StatusInProgress,
		StartTime:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})

	assert.Len(t, table.rows, 1)
	assert.Equal(t, "run-1", table.rows[0][0])
	assert.Equal(t, "🔄 in_progress", table.rows[0][3])
	assert.Equal(t, "2026-03-01 09:00:00", table.rows[0][4])
	// 列宽跟随最长单元格
	assert.GreaterOrEqual(t, table.widths[1], len("wf-onboarding"))
}

func TestTable_AddTask_OptionalDue(t *testing.T) {
	table := TasksTable()
	due := time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC)
	table.AddTask(&task.Task{ID: "t-1", Title: "提交证件", Type: task.TypeDocument, AssigneeID: "emp-hr"})
	table.AddTask(&task.Task{ID: "t-2", Title: "填写表单", Type: task.TypeForm, AssigneeID: "emp-hr", DueAt: &due})

	assert.Equal(t, "-", table.rows[0][4])
	assert.Equal(t, "2026-03-05 18:00:00", table.rows[1][4])
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "✅ completed", FormatStatus("completed"))
	assert.Equal(t, "🛑 canceled", FormatStatus("canceled"))
	// 未知状态原样输出
	assert.Equal(t, "archived", FormatStatus("archived"))
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "📋", StatusIcon("waiting_input"))
	assert.Equal(t, "⏰", StatusIcon("queued"))
	assert.Equal(t, "❓", StatusIcon("unknown"))
}
