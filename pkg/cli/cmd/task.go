package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevelan1995/hrflow/pkg/cli/hrflow"
	"github.com/stevelan1995/hrflow/pkg/cli/output"
	"github.com/stevelan1995/hrflow/pkg/core/task"
)

var (
	taskAssigneeID string
	taskDocumentID string
	taskFormJSON   string
)

// taskCmd task子命令
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "人工任务管理命令",
	Long:  `管理工作流产生的人工任务，包括列出、查看详情、完成和查询过期任务。`,
}

// taskListCmd 列出待处理任务
var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出受理人名下的待处理任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		result, err := client.ListPendingTasks(tenantID, taskAssigneeID)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无待处理任务")
			return nil
		}

		renderTaskTable(result.Items)
		return nil
	},
}

// taskOverdueCmd 列出过期任务
var taskOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "列出已过期但仍待处理的任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		result, err := client.ListOverdueTasks(tenantID)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无过期任务")
			return nil
		}

		renderTaskTable(result.Items)
		return nil
	},
}

// taskGetCmd 查看任务详情
var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "查看任务详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		t, err := client.GetTask(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(t)
		}

		fmt.Printf("Task:     %s\n", t.ID)
		fmt.Printf("Title:    %s\n", t.Title)
		fmt.Printf("Type:     %s\n", t.Type)
		fmt.Printf("Status:   %s\n", t.Status)
		fmt.Printf("Assignee: %s\n", t.AssigneeID)
		fmt.Printf("Employee: %s\n", t.EmployeeID)
		fmt.Printf("Run:      %s\n", t.RunID)
		if t.DueAt != nil {
			fmt.Printf("Due:      %s\n", t.DueAt.Format("2006-01-02 15:04:05"))
		}
		if t.Description != "" {
			fmt.Printf("Desc:     %s\n", t.Description)
		}
		if len(t.Form) > 0 {
			fmt.Println("\nForm Fields:")
			for _, f := range t.Form {
				required := ""
				if f.Required {
					required = " *"
				}
				fmt.Printf("  %s (%s)%s\n", f.Key, f.Label, required)
			}
		}
		return nil
	},
}

// taskCompleteCmd 完成任务
var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "完成任务",
	Long: `完成任务。文档任务需要--document指定文档ID，表单任务需要--form提供JSON格式的字段值。

使用示例：
  # 完成普通确认任务
  hrflow task complete task-001

  # 完成文档任务
  hrflow task complete task-002 --document doc-123

  # 完成表单任务
  hrflow task complete task-003 --form '{"laptop_model":"macbook-pro"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := buildTaskPayload()
		if err != nil {
			output.Error("构造负载失败: %v", err)
			return err
		}

		client := hrflow.New(serverURL)
		t, err := client.CompleteTask(args[0], payload)
		if err != nil {
			output.Error("完成任务失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(t)
		}
		output.Success("任务已完成: %s (%s)", t.Title, t.ID)
		return nil
	},
}

// buildTaskPayload 按flags构造任务提交负载
func buildTaskPayload() (*task.Payload, error) {
	if taskDocumentID != "" {
		return &task.Payload{
			Type:     task.TypeDocument,
			Document: &task.DocumentPayload{DocumentID: taskDocumentID},
		}, nil
	}
	if taskFormJSON != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(taskFormJSON), &fields); err != nil {
			return nil, fmt.Errorf("解析表单JSON失败: %w", err)
		}
		return &task.Payload{
			Type: task.TypeForm,
			Form: &task.FormPayload{Fields: fields},
		}, nil
	}
	return &task.Payload{Type: task.TypeGeneral}, nil
}

// renderTaskTable 渲染任务表格
func renderTaskTable(tasks []*task.Task) {
	table := output.TasksTable()
	for _, t := range tasks {
		table.AddTask(t)
	}
	table.Render()
}

func init() {
	// 添加flags
	taskListCmd.Flags().StringVar(&taskAssigneeID, "assignee", "", "受理人ID")
	_ = taskListCmd.MarkFlagRequired("assignee")

	taskCompleteCmd.Flags().StringVar(&taskDocumentID, "document", "", "文档任务的文档ID")
	taskCompleteCmd.Flags().StringVar(&taskFormJSON, "form", "", "表单任务的字段值（JSON）")

	// 添加子命令
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskOverdueCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCompleteCmd)
}
