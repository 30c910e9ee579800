// Package gctable 提供按键分桶、可回收过期对象的并发表.
package gctable

import (
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	bucketNum    = 256
	minThreshold = 100
	gcInterval   = 10 * time.Minute
)

// ErrFull 表中对象数已达容量上限, 且没有可回收的对象.
var ErrFull = errors.New("gctable: table full")

func SetGC(interval time.Duration) (previous time.Duration) {
	previous = gcInterval
	gcInterval = interval
	return
}

type Object interface {
	Key() string
	CanGC() bool
	ExecuteGC()
}

// Table 并发安全的对象表, 可回收的对象在访问时被惰性清理.
type Table struct {
	// Capacity 对象数上限, <=0则不做限制
	Capacity int

	once    sync.Once
	size    int64
	buckets []bucket
}

// Add 返回key对应的对象, 不存在则调用alloc创建.
//
// 表已满时先回收所有桶中可回收的对象, 仍无空间则返回ErrFull.
func (t *Table) Add(key string, alloc func() Object) (Object, error) {
	b := t.getBucket(key)
	if object, ok := b.get(key); ok {
		return object, nil
	}
	if t.Capacity > 0 && t.Len() >= t.Capacity {
		t.Collect()
		if t.Len() >= t.Capacity {
			return nil, ErrFull
		}
	}
	return b.add(key, alloc), nil
}

// Get 查找对象, 可回收的对象视为不存在.
func (t *Table) Get(key string) (Object, bool) {
	b := t.getBucket(key)
	return b.get(key)
}

func (t *Table) Remove(key string) {
	b := t.getBucket(key)
	b.remove(key)
}

// Len 返回表中对象数(含尚未回收的过期对象).
func (t *Table) Len() int {
	return int(atomic.LoadInt64(&t.size))
}

// Collect 回收所有桶中可回收的对象.
func (t *Table) Collect() {
	t.init()
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		b.performGC()
		b.mu.Unlock()
	}
}

func (t *Table) init() {
	t.once.Do(func() {
		t.buckets = make([]bucket, bucketNum)
		for i := range t.buckets {
			t.buckets[i].size = &t.size
		}
	})
}

func (t *Table) getBucket(key string) *bucket {
	t.init()
	hash := crc32.ChecksumIEEE([]byte(key))
	index := hash % uint32(len(t.buckets))
	return &t.buckets[index]
}

type bucket struct {
	mu        sync.Mutex
	m         map[string]Object
	threshold int
	lastGC    time.Time
	size      *int64
}

func (b *bucket) add(key string, alloc func() Object) Object {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gc()
	if b.m == nil {
		b.m = make(map[string]Object)
		b.threshold = minThreshold
		b.lastGC = time.Now()
	}
	object, ok := b.m[key]
	if !ok || object.CanGC() {
		if ok {
			b.delete(key, object)
		}
		object = alloc()
		b.m[key] = object
		b.incr(1)
	}
	return object
}

func (b *bucket) remove(key string) {
	b.mu.Lock()
	b.gc()
	if object, ok := b.m[key]; ok {
		b.delete(key, object)
	}
	b.mu.Unlock()
}

func (b *bucket) get(key string) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gc()
	object, ok := b.m[key]
	if !ok {
		return nil, false
	}
	if object.CanGC() {
		b.delete(key, object)
		return nil, false
	}
	return object, true
}

func (b *bucket) delete(key string, object Object) {
	delete(b.m, key)
	b.incr(-1)
	object.ExecuteGC()
}

func (b *bucket) incr(n int64) {
	if b.size != nil {
		atomic.AddInt64(b.size, n)
	}
}

func (b *bucket) gc() {
	if len(b.m) <= b.threshold && time.Since(b.lastGC) < gcInterval {
		return
	}
	b.performGC()
	b.threshold = 2 * len(b.m)
	if b.threshold < minThreshold {
		b.threshold = minThreshold
	}
	b.lastGC = time.Now()
}

func (b *bucket) performGC() {
	for key, object := range b.m {
		if object.CanGC() {
			b.delete(key, object)
		}
	}
}
