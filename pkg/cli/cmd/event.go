package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/cli/hrflow"
	"github.com/stevelan1995/hrflow/pkg/cli/output"
)

var (
	eventType       string
	eventEmployeeID string
	eventID         string
	eventPayload    string
)

// eventCmd event子命令
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "HR域事件命令",
	Long:  `上报HR域事件（如员工入职、离职排期），触发匹配的已发布工作流。`,
}

// eventDispatchCmd 上报事件
var eventDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "上报HR域事件并触发匹配的工作流",
	Long: `上报HR域事件。同一事件重复上报是安全的：每个(workflow, employee, event)组合只会创建一个Run。

使用示例：
  # 上报入职事件
  hrflow event dispatch --type employee.hired --employee emp-001

  # 携带事件负载
  hrflow event dispatch --type employee.hired --employee emp-001 \
    --payload '{"department":"engineering","location":"remote"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if eventPayload != "" {
			if err := json.Unmarshal([]byte(eventPayload), &payload); err != nil {
				output.Error("解析payload失败: %v", err)
				return err
			}
		}

		client := hrflow.New(serverURL)
		result, err := client.DispatchEvent(dto.DispatchEventRequest{
			ID:         eventID,
			Type:       eventType,
			TenantID:   tenantID,
			EmployeeID: eventEmployeeID,
			Payload:    payload,
		})
		if err != nil {
			output.Error("上报失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.RunIDs) == 0 {
			output.Info("事件已接收，无新Run创建: %s", result.EventID)
			return nil
		}
		output.Success("事件已接收: %s", result.EventID)
		for _, id := range result.RunIDs {
			fmt.Printf("  🚀 Run: %s\n", id)
		}
		return nil
	},
}

func init() {
	// 添加flags
	eventDispatchCmd.Flags().StringVar(&eventType, "type", "", "事件类型 (如 employee.hired)")
	eventDispatchCmd.Flags().StringVar(&eventEmployeeID, "employee", "", "员工ID")
	eventDispatchCmd.Flags().StringVar(&eventID, "id", "", "事件ID（留空自动生成，用于幂等重发）")
	eventDispatchCmd.Flags().StringVar(&eventPayload, "payload", "", "事件负载（JSON）")
	_ = eventDispatchCmd.MarkFlagRequired("type")
	_ = eventDispatchCmd.MarkFlagRequired("employee")

	// 添加子命令
	eventCmd.AddCommand(eventDispatchCmd)
}
