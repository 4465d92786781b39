package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/cli/hrflow"
	"github.com/stevelan1995/hrflow/pkg/cli/output"
)

var (
	workflowName string
	workflowDesc string
	workflowKind string
)

// workflowCmd workflow子命令
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Workflow定义管理命令",
	Long:  `管理工作流定义，包括创建、保存草稿、发布、归档和查看版本历史。`,
}

// workflowListCmd 列出Workflow
var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出租户下的所有Workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		result, err := client.ListWorkflows(tenantID)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无Workflow")
			return nil
		}

		table := output.WorkflowsTable()
		for _, wf := range result.Items {
			table.AddWorkflow(wf)
		}
		table.Render()
		return nil
	},
}

// workflowCreateCmd 创建Workflow
var workflowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建Workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		wf, err := client.CreateWorkflow(dto.CreateWorkflowRequest{
			TenantID:    tenantID,
			Name:        workflowName,
			Description: workflowDesc,
			Kind:        workflowKind,
		})
		if err != nil {
			output.Error("创建失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(wf)
		}
		output.Success("Workflow已创建: %s (%s)", wf.Name, wf.ID)
		return nil
	},
}

// workflowGetCmd 查看Workflow详情
var workflowGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "查看Workflow详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		wf, err := client.GetWorkflow(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(wf)
		}

		fmt.Printf("Workflow: %s\n", wf.ID)
		fmt.Printf("Name:     %s\n", wf.Name)
		fmt.Printf("Kind:     %s\n", wf.Kind)
		fmt.Printf("Status:   %s\n", wf.Status)
		if wf.ActiveVersionID != "" {
			fmt.Printf("Active:   %s\n", wf.ActiveVersionID)
		}
		if wf.Description != "" {
			fmt.Printf("Desc:     %s\n", wf.Description)
		}
		return nil
	},
}

// workflowDraftCmd 从JSON文件保存草稿
var workflowDraftCmd = &cobra.Command{
	Use:   "draft <id> <file>",
	Short: "从JSON文件保存草稿版本（全量替换节点和边）",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			output.Error("读取文件失败: %v", err)
			return err
		}

		var req dto.SaveDraftRequest
		if err := json.Unmarshal(data, &req); err != nil {
			output.Error("解析文件失败: %v", err)
			return err
		}

		client := hrflow.New(serverURL)
		v, err := client.SaveDraft(args[0], req)
		if err != nil {
			output.Error("保存草稿失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(v)
		}
		output.Success("草稿已保存: %s (%d节点 %d边)", v.ID, len(v.Nodes), len(v.Edges))
		return nil
	},
}

// workflowPublishCmd 发布草稿
var workflowPublishCmd = &cobra.Command{
	Use:   "publish <id>",
	Short: "发布当前草稿版本",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		v, err := client.PublishWorkflow(args[0])
		if err != nil {
			output.Error("发布失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(v)
		}
		output.Success("已发布版本 v%d: %s", v.VersionNumber, v.ID)
		return nil
	},
}

// workflowVersionsCmd 查看版本历史
var workflowVersionsCmd = &cobra.Command{
	Use:   "versions <id>",
	Short: "查看Workflow版本历史",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		result, err := client.ListVersions(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无版本")
			return nil
		}

		table := output.VersionsTable()
		for _, v := range result.Items {
			table.AddVersion(v)
		}
		table.Render()
		return nil
	},
}

// workflowArchiveCmd 归档Workflow
var workflowArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "归档Workflow（不再触发新Run）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := hrflow.New(serverURL)
		if err := client.ArchiveWorkflow(args[0]); err != nil {
			output.Error("归档失败: %v", err)
			return err
		}
		output.Success("Workflow已归档: %s", args[0])
		return nil
	},
}

func init() {
	// 添加flags
	workflowCreateCmd.Flags().StringVar(&workflowName, "name", "", "Workflow名称")
	workflowCreateCmd.Flags().StringVar(&workflowDesc, "desc", "", "Workflow描述")
	workflowCreateCmd.Flags().StringVar(&workflowKind, "kind", "onboarding", "Workflow类型 (onboarding/offboarding)")
	_ = workflowCreateCmd.MarkFlagRequired("name")

	// 添加子命令
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowCreateCmd)
	workflowCmd.AddCommand(workflowGetCmd)
	workflowCmd.AddCommand(workflowDraftCmd)
	workflowCmd.AddCommand(workflowPublishCmd)
	workflowCmd.AddCommand(workflowVersionsCmd)
	workflowCmd.AddCommand(workflowArchiveCmd)
}
