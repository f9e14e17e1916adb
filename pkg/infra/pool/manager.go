package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Manager 池管理器，管理多个命名池
type Manager struct {
	mu     sync.RWMutex
	pools  map[Type]*Pool
	closed atomic.Bool
}

// NewManager 创建新的池管理器
func NewManager() *Manager {
	return &Manager{
		pools: make(map[Type]*Pool),
	}
}

// Register 注册新池
func (m *Manager) Register(typ Type, config *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrPoolClosed
	}

	if _, exists := m.pools[typ]; exists {
		return fmt.Errorf("%w: %s", ErrPoolAlreadyExists, typ)
	}

	pool, err := NewPool(string(typ), typ, config)
	if err != nil {
		return err
	}

	m.pools[typ] = pool
	return nil
}

// Get 获取指定类型的池
func (m *Manager) Get(typ Type) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrPoolClosed
	}

	pool, exists := m.pools[typ]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, typ)
	}

	return pool, nil
}

// MustGet 获取池，不存在时 panic
func (m *Manager) MustGet(typ Type) *Pool {
	pool, err := m.Get(typ)
	if err != nil {
		panic(fmt.Sprintf("获取池 '%s' 失败: %v", typ, err))
	}
	return pool
}

// Submit 提交任务到指定池
func (m *Manager) Submit(typ Type, task func()) error {
	pool, err := m.Get(typ)
	if err != nil {
		return err
	}
	return pool.Submit(task)
}

// SubmitWithContext 提交带上下文的任务到指定池
func (m *Manager) SubmitWithContext(ctx context.Context, typ Type, task func()) error {
	pool, err := m.Get(typ)
	if err != nil {
		return err
	}
	return pool.SubmitWithContext(ctx, task)
}

// List 返回所有已注册的池类型
func (m *Manager) List() []Type {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]Type, 0, len(m.pools))
	for typ := range m.pools {
		types = append(types, typ)
	}
	return types
}

// Stats 返回所有池的统计信息
func (m *Manager) Stats() map[Type]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[Type]Stats, len(m.pools))
	for typ, pool := range m.pools {
		stats[typ] = pool.Stats()
	}
	return stats
}

// ReleaseAll 释放所有池
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed.Store(true)
	for _, pool := range m.pools {
		pool.Release()
	}
	m.pools = make(map[Type]*Pool)
}

// ReleaseAllTimeout 带超时释放所有池
func (m *Manager) ReleaseAllTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed.Store(true)
	var firstErr error

	for typ, pool := range m.pools {
		if err := pool.ReleaseTimeout(timeout); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("释放池 '%s' 超时: %w", typ, err)
		}
	}

	m.pools = make(map[Type]*Pool)
	return firstErr
}

// Close 关闭管理器（等同于 ReleaseAll）
func (m *Manager) Close() error {
	m.ReleaseAll()
	return nil
}

// IsClosed 检查管理器是否已关闭
func (m *Manager) IsClosed() bool {
	return m.closed.Load()
}
