// Package plugin 提供通知插件体系。
// 动作节点的自动通知通过插件管理器按渠道分发；
// 通知投递本身是外部协作方的职责，内置插件只做接口适配和本地日志投递。
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Notification 通知内容（对外导出）
type Notification struct {
	TenantID    string         // 租户ID
	RunID       string         // 关联的Run ID
	RecipientID string         // 收件员工ID
	Channel     string         // 渠道（email/sms）
	Subject     string         // 渲染后的主题
	Body        string         // 渲染后的正文
	Context     map[string]any // Run上下文快照
	CreatedAt   time.Time
}

// Notifier 通知插件接口（对外导出）
type Notifier interface {
	// Name 插件名称，同时作为渠道标识
	Name() string
	// Init 初始化插件
	Init(params map[string]string) error
	// Send 发送通知
	Send(ctx context.Context, n *Notification) error
}

// Manager 通知插件管理器（对外导出）
type Manager struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier // 渠道名称 -> 插件实例
}

// NewManager 创建通知插件管理器
func NewManager() *Manager {
	return &Manager{notifiers: make(map[string]Notifier)}
}

// Register 注册通知插件
func (m *Manager) Register(n Notifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.notifiers[n.Name()]; exists {
		return fmt.Errorf("通知插件 %s 已注册", n.Name())
	}
	m.notifiers[n.Name()] = n
	return nil
}

// RegisterWithInit 注册并初始化通知插件
func (m *Manager) RegisterWithInit(n Notifier, params map[string]string) error {
	if err := n.Init(params); err != nil {
		return fmt.Errorf("初始化通知插件 %s 失败: %w", n.Name(), err)
	}
	return m.Register(n)
}

// Send 按渠道分发通知
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	m.mu.RLock()
	notifier, ok := m.notifiers[n.Channel]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("通知渠道 %s 没有对应的插件", n.Channel)
	}
	return notifier.Send(ctx, n)
}

// ListChannels 列出所有已注册的渠道
func (m *Manager) ListChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channels := make([]string, 0, len(m.notifiers))
	for name := range m.notifiers {
		channels = append(channels, name)
	}
	return channels
}
