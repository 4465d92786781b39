// Package hrflow 提供HRFlow HTTP API的命令行客户端。
package hrflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/task"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// Client HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建Client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ========== Workflow API ==========

// ListWorkflows 列出租户下的所有工作流
func (c *Client) ListWorkflows(tenantID string) (*dto.ListResponse[*workflow.Workflow], error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID)

	var resp dto.APIResponse[dto.ListResponse[*workflow.Workflow]]
	if err := c.get("/api/v1/workflows?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// CreateWorkflow 创建工作流
func (c *Client) CreateWorkflow(req dto.CreateWorkflowRequest) (*workflow.Workflow, error) {
	var resp dto.APIResponse[*workflow.Workflow]
	if err := c.post("/api/v1/workflows", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// GetWorkflow 获取工作流详情
func (c *Client) GetWorkflow(id string) (*workflow.Workflow, error) {
	var resp dto.APIResponse[*workflow.Workflow]
	if err := c.get("/api/v1/workflows/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// SaveDraft 保存草稿版本（全量替换节点和边）
func (c *Client) SaveDraft(id string, req dto.SaveDraftRequest) (*workflow.Version, error) {
	var resp dto.APIResponse[*workflow.Version]
	if err := c.put("/api/v1/workflows/"+id+"/draft", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// PublishWorkflow 发布草稿版本
func (c *Client) PublishWorkflow(id string) (*workflow.Version, error) {
	var resp dto.APIResponse[*workflow.Version]
	if err := c.post("/api/v1/workflows/"+id+"/publish", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// ListVersions 列出工作流的所有版本
func (c *Client) ListVersions(id string) (*dto.ListResponse[*workflow.Version], error) {
	var resp dto.APIResponse[dto.ListResponse[*workflow.Version]]
	if err := c.get("/api/v1/workflows/"+id+"/versions", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ArchiveWorkflow 归档工作流
func (c *Client) ArchiveWorkflow(id string) error {
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/workflows/"+id+"/archive", nil, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// ========== Run API ==========

// ListRuns 列出Run
func (c *Client) ListRuns(tenantID, workflowID, employeeID string) (*dto.ListResponse[*run.Run], error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID)
	if workflowID != "" {
		params.Set("workflow_id", workflowID)
	}
	if employeeID != "" {
		params.Set("employee_id", employeeID)
	}

	var resp dto.APIResponse[dto.ListResponse[*run.Run]]
	if err := c.get("/api/v1/runs?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// GetRun 获取Run详情
func (c *Client) GetRun(id string) (*run.Run, error) {
	var resp dto.APIResponse[*run.Run]
	if err := c.get("/api/v1/runs/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// GetRunSteps 获取Run的步骤
func (c *Client) GetRunSteps(id string) (*dto.ListResponse[*run.Step], error) {
	var resp dto.APIResponse[dto.ListResponse[*run.Step]]
	if err := c.get("/api/v1/runs/"+id+"/steps", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// GetRunTimeline 获取Run的事件时间线
func (c *Client) GetRunTimeline(id string) (*dto.ListResponse[*run.Event], error) {
	var resp dto.APIResponse[dto.ListResponse[*run.Event]]
	if err := c.get("/api/v1/runs/"+id+"/timeline", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// CancelRun 取消Run
func (c *Client) CancelRun(id string) error {
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/runs/"+id+"/cancel", nil, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// AdvanceRun 手动推进Run
func (c *Client) AdvanceRun(id string) error {
	var resp dto.APIResponse[any]
	if err := c.post("/api/v1/runs/"+id+"/advance", nil, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// ========== Task API ==========

// ListPendingTasks 列出受理人名下的待处理任务
func (c *Client) ListPendingTasks(tenantID, assigneeID string) (*dto.ListResponse[*task.Task], error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID)
	params.Set("assignee_id", assigneeID)

	var resp dto.APIResponse[dto.ListResponse[*task.Task]]
	if err := c.get("/api/v1/tasks?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ListOverdueTasks 列出已过期的待处理任务
func (c *Client) ListOverdueTasks(tenantID string) (*dto.ListResponse[*task.Task], error) {
	params := url.Values{}
	params.Set("tenant_id", tenantID)

	var resp dto.APIResponse[dto.ListResponse[*task.Task]]
	if err := c.get("/api/v1/tasks/overdue?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// GetTask 获取任务详情
func (c *Client) GetTask(id string) (*task.Task, error) {
	var resp dto.APIResponse[*task.Task]
	if err := c.get("/api/v1/tasks/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// CompleteTask 完成任务
func (c *Client) CompleteTask(id string, payload *task.Payload) (*task.Task, error) {
	req := dto.CompleteTaskRequest{Payload: payload}
	var resp dto.APIResponse[*task.Task]
	if err := c.post("/api/v1/tasks/"+id+"/complete", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Data, nil
}

// ========== Event API ==========

// DispatchEvent 上报HR域事件
func (c *Client) DispatchEvent(req dto.DispatchEventRequest) (*dto.DispatchResponse, error) {
	var resp dto.APIResponse[dto.DispatchResponse]
	if err := c.post("/api/v1/events", req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ========== Health API ==========

// Health 健康检查
func (c *Client) Health() (*dto.HealthResponse, error) {
	var resp dto.APIResponse[dto.HealthResponse]
	if err := c.get("/health", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp.Data, nil
}

// ========== HTTP Methods ==========

func (c *Client) get(path string, result interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) post(path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reqBody)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) put(path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, result)
}

func (c *Client) parseResponse(resp *http.Response, result interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(body))
	}

	return nil
}
