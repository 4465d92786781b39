package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevelan1995/hrflow/pkg/cli/hrflow"
	"github.com/stevelan1995/hrflow/pkg/cli/output"
)

var (
	runWorkflowID string
	runEmployeeID string
)

// runCmd run子命令
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run管理命令",
	Long:  `管理工作流运行实例，包括查看状态、步骤、时间线、取消和手动推进。`,
}

// runListCmd 列出Run
var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出Run",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		result, err := client.ListRuns(tenantID, runWorkflowID, runEmployeeID)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无Run")
			return nil
		}

		table := output.RunsTable()
		for _, r := range result.Items {
			table.AddRun(r)
		}
		table.Render()
		fmt.Printf("\n总计: %d 条记录\n", result.Total)
		return nil
	},
}

// runStatusCmd 查看Run执行状态
var runStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "查看Run执行状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)

		// 获取Run详情
		r, err := client.GetRun(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		// 获取Steps
		steps, err := client.GetRunSteps(args[0])
		if err != nil {
			output.Error("查询Steps失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(map[string]interface{}{
				"run":   r,
				"steps": steps.Items,
			})
		}

		fmt.Printf("Run:      %s\n", r.ID)
		fmt.Printf("Workflow: %s (version %s)\n", r.WorkflowID, r.VersionID)
		fmt.Printf("Employee: %s\n", r.EmployeeID)
		fmt.Printf("Status:   %s\n", output.FormatStatus(string(r.Status)))
		fmt.Printf("Started:  %s\n", output.FormatTime(r.StartTime))
		if r.EndTime != nil {
			fmt.Printf("Finished: %s\n", output.FormatTime(*r.EndTime))
		}
		if r.ErrorMessage != "" {
			fmt.Printf("Error:    %s\n", r.ErrorMessage)
		}

		fmt.Println("\nSteps:")
		for _, s := range steps.Items {
			due := ""
			if s.DueAt != nil {
				due = fmt.Sprintf(" (due %s)", output.FormatTime(*s.DueAt))
			}
			fmt.Printf("  %s %s [%s]  %s%s\n", output.StatusIcon(string(s.Status)), s.NodeKey, s.NodeType, s.Status, due)
		}
		return nil
	},
}

// runTimelineCmd 查看Run事件时间线
var runTimelineCmd = &cobra.Command{
	Use:   "timeline <id>",
	Short: "查看Run事件时间线",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		result, err := client.GetRunTimeline(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无事件")
			return nil
		}

		table := output.TimelineTable()
		for _, e := range result.Items {
			table.AddEvent(e)
		}
		table.Render()
		return nil
	},
}

// runCancelCmd 取消Run
var runCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "取消Run执行",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		if err := client.CancelRun(args[0]); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}
		output.Success("Run已取消: %s", args[0])
		return nil
	},
}

// runAdvanceCmd 手动推进Run
var runAdvanceCmd = &cobra.Command{
	Use:   "advance <id>",
	Short: "手动推进Run（运维用途）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		if err := client.AdvanceRun(args[0]); err != nil {
			output.Error("推进失败: %v", err)
			return err
		}
		output.Success("Run已推进: %s", args[0])
		return nil
	},
}

func init() {
	// 添加flags
	runListCmd.Flags().StringVar(&runWorkflowID, "workflow", "", "按Workflow过滤")
	runListCmd.Flags().StringVar(&runEmployeeID, "employee", "", "按员工过滤")

	// 添加子命令
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runTimelineCmd)
	runCmd.AddCommand(runCancelCmd)
	runCmd.AddCommand(runAdvanceCmd)
}
