package xbalance

import (
	"math/rand/v2"
	"sync"
)

// Rand 均匀随机数来源。IntN 返回 [0, n) 内的整数，n > 0。
// 实现必须并发安全：同一个规则会被多个 goroutine 同时使用。
type Rand interface {
	IntN(n int) int
}

// globalRand 使用 math/rand/v2 的全局生成器（并发安全，自动播种）。
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// lockedRand 用互斥锁保护的带种子生成器。
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand 返回以 seed 播种的并发安全生成器，相同种子产生相同序列。
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	v := l.r.IntN(n)
	l.mu.Unlock()
	return v
}

// pickUniform 从非空 pool 中等概率选择一个实例。
func pickUniform(r Rand, pool []Instance) Instance {
	return pool[r.IntN(len(pool))]
}
