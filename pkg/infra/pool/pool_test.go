package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p, err := NewPool("test", DefaultPool, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	if p.Name() != "test" {
		t.Errorf("池名称不匹配: 期望 test, 实际 %s", p.Name())
	}

	if p.Cap() != 64 {
		t.Errorf("池容量不匹配: 期望 64, 实际 %d", p.Cap())
	}
}

func TestPoolSubmit(t *testing.T) {
	p, err := NewPool("test", DefaultPool, &Config{
		Capacity:       10,
		ExpiryDuration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var counter atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		})
		if err != nil {
			t.Errorf("提交任务失败: %v", err)
			wg.Done()
		}
	}

	wg.Wait()

	if counter.Load() != 100 {
		t.Errorf("任务执行数不匹配: 期望 100, 实际 %d", counter.Load())
	}
}

func TestPoolSubmitWithContext(t *testing.T) {
	p, err := NewPool("test", DefaultPool, &Config{
		Capacity:       5,
		ExpiryDuration: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var executed atomic.Bool
	ctx := context.Background()
	err = p.SubmitWithContext(ctx, func() {
		executed.Store(true)
	})
	if err != nil {
		t.Errorf("提交任务失败: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if !executed.Load() {
		t.Error("任务未执行")
	}

	// 已取消的上下文应直接返回错误
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.SubmitWithContext(cancelled, func() {
		t.Error("已取消上下文的任务不应执行")
	})
	if err == nil {
		t.Error("期望返回上下文取消错误")
	}
}

func TestPoolSubmitAfterRelease(t *testing.T) {
	p, err := NewPool("test", DefaultPool, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}

	p.Release()

	if err := p.Submit(func() {}); err != ErrPoolClosed {
		t.Errorf("期望 ErrPoolClosed, 实际 %v", err)
	}
}

func TestManagerRegisterAndGet(t *testing.T) {
	m := NewManager()
	defer m.ReleaseAll()

	if err := m.Register(AnalysisPool, AnalysisPoolConfig(4)); err != nil {
		t.Fatalf("注册池失败: %v", err)
	}

	// 重复注册应报错
	if err := m.Register(AnalysisPool, AnalysisPoolConfig(4)); err == nil {
		t.Error("重复注册应返回错误")
	}

	p, err := m.Get(AnalysisPool)
	if err != nil {
		t.Fatalf("获取池失败: %v", err)
	}
	if p.Cap() != 4 {
		t.Errorf("池容量不匹配: 期望 4, 实际 %d", p.Cap())
	}

	if _, err := m.Get(IngestPool); err == nil {
		t.Error("获取未注册的池应返回错误")
	}
}

func TestManagerSubmit(t *testing.T) {
	m := NewManager()
	defer m.ReleaseAll()

	if err := m.Register(IngestPool, IngestPoolConfig()); err != nil {
		t.Fatalf("注册池失败: %v", err)
	}

	var wg sync.WaitGroup
	var counter atomic.Int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := m.Submit(IngestPool, func() {
			defer wg.Done()
			counter.Add(1)
		})
		if err != nil {
			t.Errorf("提交任务失败: %v", err)
			wg.Done()
		}
	}

	wg.Wait()

	if counter.Load() != 20 {
		t.Errorf("任务执行数不匹配: 期望 20, 实际 %d", counter.Load())
	}

	stats := m.Stats()
	if stats[IngestPool].CompletedTasks != 20 {
		t.Errorf("完成任务数不匹配: 期望 20, 实际 %d", stats[IngestPool].CompletedTasks)
	}
}

func TestManagerReleaseAll(t *testing.T) {
	m := NewManager()

	if err := m.Register(DefaultPool, DefaultPoolConfig()); err != nil {
		t.Fatalf("注册池失败: %v", err)
	}

	m.ReleaseAll()

	if !m.IsClosed() {
		t.Error("管理器应已关闭")
	}

	if err := m.Register(ConvertPool, ConvertPoolConfig()); err != ErrPoolClosed {
		t.Errorf("关闭后注册应返回 ErrPoolClosed, 实际 %v", err)
	}
}
