// Package cache 提供带TTL的内存缓存。
// 用于缓存只写一次的查找结果（如分享令牌到旅程视图的映射），减少热点读路径的数据库往返。
package cache

import (
	"sync"
	"time"
)

// TTLCache 带过期时间的内存缓存（对外导出）
type TTLCache struct {
	mu    sync.RWMutex
	cache map[string]*cacheEntry
	stop  chan struct{}
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	value      interface{}
	expireTime time.Time
}

// NewTTLCache 创建内存缓存实例（对外导出）
// 后台协程定期清理过期条目，Close后停止
func NewTTLCache() *TTLCache {
	c := &TTLCache{
		cache: make(map[string]*cacheEntry),
		stop:  make(chan struct{}),
	}
	go c.cleanupExpired()
	return c
}

// Set 设置缓存值
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cacheEntry{
		value:      value,
		expireTime: time.Now().Add(ttl),
	}
}

// Get 获取缓存值
func (c *TTLCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	entry, exists := c.cache[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	// 过期条目视同不存在，由清理协程回收
	if time.Now().After(entry.expireTime) {
		return nil, false
	}

	return entry.value, true
}

// Delete 删除缓存值
func (c *TTLCache) Delete(key string) {
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cache, key)
}

// Clear 清空所有缓存
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cacheEntry)
}

// Close 停止后台清理协程
func (c *TTLCache) Close() {
	close(c.stop)
}

// cleanupExpired 清理过期缓存（内部方法）
func (c *TTLCache) cleanupExpired() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.cache {
				if now.After(entry.expireTime) {
					delete(c.cache, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
