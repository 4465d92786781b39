package plugin

import (
	"context"
	"log"
)

// EmailNotifier 邮件通知插件（对外导出）
type EmailNotifier struct {
	name     string
	smtpHost string
	smtpPort string
	from     string
}

// NewEmailNotifier 创建邮件通知插件（对外导出）
func NewEmailNotifier() Notifier {
	return &EmailNotifier{name: "email"}
}

// Name 插件名称（实现Notifier接口，对外导出）
func (e *EmailNotifier) Name() string {
	return e.name
}

// Init 初始化插件（实现Notifier接口，对外导出）
func (e *EmailNotifier) Init(params map[string]string) error {
	e.smtpHost = params["smtp_host"]
	e.smtpPort = params["smtp_port"]
	e.from = params["from"]
	log.Println("✅ 邮件通知插件初始化完成")
	return nil
}

// Send 发送邮件通知（实现Notifier接口，对外导出）
func (e *EmailNotifier) Send(ctx context.Context, n *Notification) error {
	log.Printf("📧 发送邮件通知：recipient=%s subject=%q", n.RecipientID, n.Subject)
	return nil
}
