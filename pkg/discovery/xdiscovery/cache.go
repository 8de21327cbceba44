package xdiscovery

import (
	"reflect"
	"sync"
	"time"
	"unsafe"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/omeyang/graylb/pkg/balance/xbalance"
)

// snapshotCache 按服务名缓存实例快照，条目在 ttl 后过期。
//
// 每次 invalidate/purge 都推进服务的代数。加载前取 generation，
// 加载完成后 setIfCurrent 只在代数未变时回填，失效期间读到的旧快照不会写回。
type snapshotCache struct {
	lru       *expirable.LRU[string, []xbalance.Instance]
	closeOnce sync.Once

	mu    sync.Mutex
	epoch uint64            // purge 计数
	gens  map[string]uint64 // invalidate 计数，purge 时重置
}

// generation 标识某一时刻的缓存代数。
type generation struct {
	epoch, gen uint64
}

func newSnapshotCache(size int, ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		lru:  expirable.NewLRU[string, []xbalance.Instance](size, nil, ttl),
		gens: make(map[string]uint64),
	}
}

func (c *snapshotCache) get(service string) ([]xbalance.Instance, bool) {
	return c.lru.Get(service)
}

func (c *snapshotCache) generation(service string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{epoch: c.epoch, gen: c.gens[service]}
}

// setIfCurrent 在 service 的代数仍为 g 时写入快照，返回是否写入。
func (c *snapshotCache) setIfCurrent(service string, snapshot []xbalance.Instance, g generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != g.epoch || c.gens[service] != g.gen {
		return false
	}
	c.lru.Add(service, snapshot)
	return true
}

func (c *snapshotCache) invalidate(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[service]++
	c.lru.Remove(service)
}

func (c *snapshotCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.gens)
	c.lru.Purge()
}

// close 清空缓存并停止 expirable.LRU 的后台清理 goroutine。
func (c *snapshotCache) close() {
	c.closeOnce.Do(func() {
		c.lru.Purge()
		stopCleanupGoroutine(c.lru)
	})
}

// stopCleanupGoroutine 关闭 expirable.LRU 未导出的 done 通道。
// 字段不存在或类型变化时返回 false，goroutine 随进程退出。
func stopCleanupGoroutine(lru any) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			stopped = false
		}
	}()

	v := reflect.ValueOf(lru)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	done := v.Elem().FieldByName("done")
	if !done.IsValid() || done.IsNil() || done.Type() != reflect.TypeOf(make(chan struct{})) {
		return false
	}
	ch := *(*chan struct{})(unsafe.Pointer(done.UnsafeAddr())) //nolint:gosec // 访问未导出字段
	close(ch)
	return true
}
