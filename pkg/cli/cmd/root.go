package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	tenantID   string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "hrflow",
	Short: "HRFlow CLI - HR工作流自动化引擎命令行工具",
	Long: `HRFlow CLI 是一个用于管理HR工作流的命令行工具。

支持的功能：
  - 管理Workflow定义（创建、保存草稿、发布、归档、查看版本）
  - 管理Run（列出、查看步骤、查看时间线、取消、手动推进）
  - 管理人工任务（列出、查看、完成、查询过期任务）
  - 上报HR域事件触发工作流

使用示例：
  # 列出租户下的所有Workflow
  hrflow workflow list --tenant acme

  # 发布Workflow草稿
  hrflow workflow publish <workflow-id>

  # 上报入职事件
  hrflow event dispatch --tenant acme --type employee.hired --employee emp-001

  # 查看Run执行状态
  hrflow run status <run-id>

  # 完成人工任务
  hrflow task complete <task-id>`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "HRFlow服务器地址")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "default", "租户ID")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(versionCmd)
}
