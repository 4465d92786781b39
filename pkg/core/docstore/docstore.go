// Package docstore 定义文档存储协作方的契约。
// 文档任务完成时，引擎用它确认提交的document_id确实存在。
package docstore

import (
	"context"
	"sync"
)

// Resolver 文档解析接口（对外导出）
type Resolver interface {
	// Exists 判断文档ID是否对应一份已上传的文档
	Exists(ctx context.Context, tenantID, documentID string) (bool, error)
}

// StaticResolver 静态文档存储（对外导出）
// 内存实现，用于测试和单机开发环境
type StaticResolver struct {
	mu   sync.RWMutex
	docs map[string]bool // tenantID/documentID
}

// NewStaticResolver 创建静态文档存储
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{docs: make(map[string]bool)}
}

// Register 登记一份文档
func (r *StaticResolver) Register(tenantID, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[tenantID+"/"+documentID] = true
}

// Exists 实现Resolver接口
func (r *StaticResolver) Exists(ctx context.Context, tenantID, documentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[tenantID+"/"+documentID], nil
}

var _ Resolver = (*StaticResolver)(nil)
