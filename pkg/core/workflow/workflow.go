// Package workflow 定义HR工作流引擎的核心领域模型：
// 工作流（Workflow）、不可变版本（Version）、节点（Node）与边（Edge）。
package workflow

import (
	"fmt"
	"time"
)

// Kind 工作流类型（对外导出）
type Kind string

const (
	// KindOnboarding 入职流程
	KindOnboarding Kind = "onboarding"
	// KindOffboarding 离职流程
	KindOffboarding Kind = "offboarding"
)

// Status 工作流状态（对外导出）
type Status string

const (
	// StatusDraft 草稿状态，不可被触发
	StatusDraft Status = "draft"
	// StatusPublished 已发布状态，可被领域事件触发
	StatusPublished Status = "published"
	// StatusArchived 已归档状态，不再匹配任何事件，也不能再发布
	StatusArchived Status = "archived"
)

// NodeType 节点类型（对外导出）
type NodeType string

const (
	// NodeTypeTrigger 触发节点：声明工作流由哪类领域事件启动
	NodeTypeTrigger NodeType = "trigger"
	// NodeTypeAction 动作节点：生成人工任务或发送通知
	NodeTypeAction NodeType = "action"
	// NodeTypeDelay 延迟节点：引擎的挂起点，由调度器在到期后恢复
	NodeTypeDelay NodeType = "delay"
	// NodeTypeLogic 逻辑节点：根据运行上下文同步选择一条出边
	NodeTypeLogic NodeType = "logic"
)

// 逻辑节点出边的条件取值
const (
	// ConditionTrue 逻辑节点为真时走的分支
	ConditionTrue = "true"
	// ConditionFalse 逻辑节点为假时走的分支
	ConditionFalse = "false"
)

// Workflow 工作流定义（对外导出）
// 租户范围内的命名自动化流程，同一时刻最多有一个激活版本
type Workflow struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Kind            Kind      `json:"kind"`
	Status          Status    `json:"status"`
	ActiveVersionID string    `json:"active_version_id,omitempty"`
	CreateTime      time.Time `json:"create_time"`
	UpdateTime      time.Time `json:"update_time"`
}

// Version 工作流版本（对外导出）
// 节点和边的不可变快照：发布之后不会再被修改，运行中的Run固定引用创建时的激活版本
type Version struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflow_id"`
	VersionNumber int        `json:"version_number"`
	Published     bool       `json:"published"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Nodes         []*Node    `json:"nodes"`
	Edges         []*Edge    `json:"edges"`
	CreateTime    time.Time  `json:"create_time"`
}

// Node 工作流节点（对外导出）
// Key在所属版本内唯一，Config只填充与Type对应的配置段
type Node struct {
	ID        string     `json:"id"`
	VersionID string     `json:"version_id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Type      NodeType   `json:"type"`
	Config    NodeConfig `json:"config"`
}

// NodeConfig 节点配置（对外导出）
// 按节点类型区分的标签联合，只允许填充一个配置段
type NodeConfig struct {
	Trigger *TriggerConfig `json:"trigger,omitempty"`
	Action  *ActionConfig  `json:"action,omitempty"`
	Delay   *DelayConfig   `json:"delay,omitempty"`
	Logic   *LogicConfig   `json:"logic,omitempty"`
}

// TriggerConfig 触发节点配置（对外导出）
type TriggerConfig struct {
	// EventType 匹配的领域事件类型（如 employee_hired / termination_scheduled）
	EventType string `json:"event_type"`
	// Predicate 可选的事件负载过滤条件，全部满足才触发
	Predicate []Comparison `json:"predicate,omitempty"`
}

// AssigneeMode 任务受理人解析方式（对外导出）
type AssigneeMode string

const (
	// AssigneeModeEmployee 指派给Run对应的员工本人
	AssigneeModeEmployee AssigneeMode = "employee"
	// AssigneeModeExplicit 指派给显式指定的员工ID
	AssigneeModeExplicit AssigneeMode = "explicit"
	// AssigneeModeRole 通过员工目录按角色查找受理人
	AssigneeModeRole AssigneeMode = "role"
	// AssigneeModeDepartment 通过员工目录按部门查找受理人
	AssigneeModeDepartment AssigneeMode = "department"
)

// AssigneeRef 任务受理人引用（对外导出）
// 在执行动作节点时由员工目录协作方解析为具体员工ID
type AssigneeRef struct {
	Mode  AssigneeMode `json:"mode"`
	Value string       `json:"value,omitempty"`
}

// FormField 表单任务的字段定义（对外导出）
type FormField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// NotifyConfig 自动通知配置（对外导出）
type NotifyConfig struct {
	// Channel 通知渠道（email/sms），对应已注册的通知插件
	Channel string `json:"channel"`
	// Template 通知模板标识
	Template string `json:"template"`
	// Recipient 可选的收件人引用，为空时发送给Run对应的员工
	Recipient *AssigneeRef `json:"recipient,omitempty"`
}

// ActionConfig 动作节点配置（对外导出）
// TaskType非空时生成人工任务（步骤进入waiting_input），
// 否则执行Notify声明的自动通知后立即完成
type ActionConfig struct {
	// TaskType 人工任务类型（general/document/form），空表示无人工任务
	TaskType    string      `json:"task_type,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	// Assignee 人工任务受理人，未设置时默认为员工本人
	Assignee *AssigneeRef `json:"assignee,omitempty"`
	// Form 表单任务的字段定义（仅task_type=form时有效）
	Form []FormField `json:"form,omitempty"`
	// DueInHours 任务到期时间（小时），0表示不设到期时间；到期仅用于升级提醒，不自动失败
	DueInHours int `json:"due_in_hours,omitempty"`
	// Notify 自动通知配置
	Notify *NotifyConfig `json:"notify,omitempty"`
	// Required 必需节点：重试耗尽后整个Run标记为failed；
	// 非必需节点失败只终结所在分支，其他分支继续执行
	Required bool `json:"required,omitempty"`
	// MaxAttempts 步骤级重试预算，0表示使用引擎默认值
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// DelayConfig 延迟节点配置（对外导出）
type DelayConfig struct {
	// DurationSeconds 等待时长（秒）
	DurationSeconds int64 `json:"duration_seconds"`
}

// Duration 返回延迟时长
func (c *DelayConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// LogicConfig 逻辑节点配置（对外导出）
type LogicConfig struct {
	// Expression 布尔表达式，对Run上下文求值后选择true/false分支
	Expression *Expression `json:"expression"`
}

// NewWorkflow 创建工作流定义（对外导出）
func NewWorkflow(tenantID, name string, kind Kind) *Workflow {
	now := time.Now()
	return &Workflow{
		TenantID:   tenantID,
		Name:       name,
		Kind:       kind,
		Status:     StatusDraft,
		CreateTime: now,
		UpdateTime: now,
	}
}

// NodeByKey 根据Key查找版本内的节点
// 如果不存在返回 nil
func (v *Version) NodeByKey(key string) *Node {
	for _, n := range v.Nodes {
		if n.Key == key {
			return n
		}
	}
	return nil
}

// NodeByID 根据ID查找版本内的节点
// 如果不存在返回 nil
func (v *Version) NodeByID(id string) *Node {
	for _, n := range v.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// ValidateConfig 校验节点配置与节点类型是否匹配
// 返回该节点的配置缺陷列表（为空表示合法）
func (n *Node) ValidateConfig() []string {
	var defects []string
	switch n.Type {
	case NodeTypeTrigger:
		if n.Config.Trigger == nil {
			defects = append(defects, fmt.Sprintf("触发节点 %s 缺少trigger配置", n.Key))
		} else if n.Config.Trigger.EventType == "" {
			defects = append(defects, fmt.Sprintf("触发节点 %s 未声明事件类型", n.Key))
		}
	case NodeTypeAction:
		cfg := n.Config.Action
		if cfg == nil {
			defects = append(defects, fmt.Sprintf("动作节点 %s 缺少action配置", n.Key))
			break
		}
		switch cfg.TaskType {
		case "", "general", "document":
		case "form":
			if len(cfg.Form) == 0 {
				defects = append(defects, fmt.Sprintf("动作节点 %s 的表单任务未定义任何字段", n.Key))
			}
		default:
			defects = append(defects, fmt.Sprintf("动作节点 %s 的任务类型 %s 不合法", n.Key, cfg.TaskType))
		}
		if cfg.TaskType == "" && cfg.Notify == nil {
			defects = append(defects, fmt.Sprintf("动作节点 %s 既没有人工任务也没有通知配置", n.Key))
		}
		if cfg.Notify != nil && cfg.Notify.Channel == "" {
			defects = append(defects, fmt.Sprintf("动作节点 %s 的通知配置未指定渠道", n.Key))
		}
	case NodeTypeDelay:
		if n.Config.Delay == nil {
			defects = append(defects, fmt.Sprintf("延迟节点 %s 缺少delay配置", n.Key))
		} else if n.Config.Delay.DurationSeconds <= 0 {
			defects = append(defects, fmt.Sprintf("延迟节点 %s 的等待时长必须为正数", n.Key))
		}
	case NodeTypeLogic:
		if n.Config.Logic == nil || n.Config.Logic.Expression == nil {
			defects = append(defects, fmt.Sprintf("逻辑节点 %s 缺少布尔表达式", n.Key))
		}
	default:
		defects = append(defects, fmt.Sprintf("节点 %s 的类型 %s 不合法", n.Key, n.Type))
	}
	return defects
}

// Edge 工作流边（对外导出）
// 有向边 source -> target；Condition仅对逻辑节点出边有意义（true/false），
// Position用于兄弟边之间的确定性排序
type Edge struct {
	ID           string `json:"id"`
	VersionID    string `json:"version_id"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	Condition    string `json:"condition,omitempty"`
	Position     int    `json:"position"`
}
