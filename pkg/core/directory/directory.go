// Package directory 定义员工目录协作方的契约。
// 引擎只消费这个接口：动作节点创建人工任务时用它解析受理人。
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// Resolver 受理人解析接口（对外导出）
// 由外部员工目录服务实现；解析失败时引擎按外部依赖错误走退避重试
type Resolver interface {
	// ResolveAssignee 将受理人引用解析为具体员工ID
	// employeeID 是Run对应的员工，用于 employee 模式和相对查找（如员工所在部门的HR）
	ResolveAssignee(ctx context.Context, tenantID string, ref workflow.AssigneeRef, employeeID string) (string, error)
}

// StaticResolver 静态员工目录（对外导出）
// 内存实现，用于测试和单机开发环境
type StaticResolver struct {
	mu          sync.RWMutex
	roles       map[string]string // tenantID/role -> 员工ID
	departments map[string]string // tenantID/department -> 负责人员工ID
}

// NewStaticResolver 创建静态员工目录
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		roles:       make(map[string]string),
		departments: make(map[string]string),
	}
}

// RegisterRole 注册角色到员工的映射
func (r *StaticResolver) RegisterRole(tenantID, role, employeeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[tenantID+"/"+role] = employeeID
}

// RegisterDepartment 注册部门到负责人的映射
func (r *StaticResolver) RegisterDepartment(tenantID, department, employeeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.departments[tenantID+"/"+department] = employeeID
}

// ResolveAssignee 实现Resolver接口
func (r *StaticResolver) ResolveAssignee(ctx context.Context, tenantID string, ref workflow.AssigneeRef, employeeID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch ref.Mode {
	case workflow.AssigneeModeEmployee, "":
		return employeeID, nil
	case workflow.AssigneeModeExplicit:
		if ref.Value == "" {
			return "", fmt.Errorf("显式受理人引用缺少员工ID")
		}
		return ref.Value, nil
	case workflow.AssigneeModeRole:
		if id, ok := r.roles[tenantID+"/"+ref.Value]; ok {
			return id, nil
		}
		return "", fmt.Errorf("角色 %s 在租户 %s 下没有对应员工", ref.Value, tenantID)
	case workflow.AssigneeModeDepartment:
		if id, ok := r.departments[tenantID+"/"+ref.Value]; ok {
			return id, nil
		}
		return "", fmt.Errorf("部门 %s 在租户 %s 下没有负责人", ref.Value, tenantID)
	default:
		return "", fmt.Errorf("受理人解析方式 %s 不合法", ref.Mode)
	}
}

var _ Resolver = (*StaticResolver)(nil)
