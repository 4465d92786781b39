package plugin

import (
	"context"
	"log"
)

// SmsNotifier 短信通知插件（对外导出）
type SmsNotifier struct {
	name      string
	url       string
	apiKey    string
	apiSecret string
}

// NewSmsNotifier 创建短信通知插件（对外导出）
func NewSmsNotifier() Notifier {
	return &SmsNotifier{name: "sms"}
}

// Name 插件名称（实现Notifier接口，对外导出）
func (s *SmsNotifier) Name() string {
	return s.name
}

// Init 初始化插件（实现Notifier接口，对外导出）
func (s *SmsNotifier) Init(params map[string]string) error {
	s.url = params["url"]
	s.apiKey = params["api_key"]
	s.apiSecret = params["api_secret"]
	log.Println("✅ 短信通知插件初始化完成")
	return nil
}

// Send 发送短信通知（实现Notifier接口，对外导出）
func (s *SmsNotifier) Send(ctx context.Context, n *Notification) error {
	log.Printf("🔔 发送短信通知：recipient=%s", n.RecipientID)
	return nil
}
