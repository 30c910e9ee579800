package coap

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// Constructor 为SubResource创建中间节点.
type Constructor func(segment string) (*Resource, error)

func defaultConstructor(segment string) (*Resource, error) {
	return NewResource(segment, nil), nil
}

// tree 一棵资源树共享的结构锁, 节点构造函数及日志
type tree struct {
	id          uint64
	mu          sync.RWMutex
	constructor Constructor
	log         logging.LeveledLogger
}

var (
	treeSeq        uint64
	defaultTreeLog = logging.NewDefaultLoggerFactory().NewLogger("coap-resource")
)

func newTree() *tree {
	return &tree{id: atomic.AddUint64(&treeSeq, 1), log: defaultTreeLog}
}

func (t *tree) construct(segment string) (*Resource, error) {
	ctor := t.constructor
	if ctor == nil {
		ctor = defaultConstructor
	}
	r, err := ctor(segment)
	if err != nil {
		return nil, errors.WithMessagef(err, "construct resource %q", segment)
	}
	if r == nil || r.segment != segment {
		return nil, errors.Errorf("construct resource %q: invalid resource", segment)
	}
	return r, nil
}

// Resource 资源树节点.
//
// 树结构(父子关系及计数)由整棵树共享的读写锁保护. 摘下的子树仍使用原来的锁,
// 只有在挂载到另一棵树时才在同时持有两把锁的情况下切换.
type Resource struct {
	segment string

	tree     atomic.Pointer[tree]
	parent   *Resource
	children map[string]*Resource
	total    int

	mu          sync.RWMutex
	name        string
	description string
	contentType int
	maxSize     int
	observable  bool
	hidden      bool
	handler     ResourceHandler

	observers *ObserveRegistry
	updateMu  sync.Mutex
}

// NewResource 创建资源, handler为空时所有方法回复5.01.
func NewResource(segment string, handler ResourceHandler) *Resource {
	if handler == nil {
		handler = LocalHandler{}
	}
	r := &Resource{
		segment:     segment,
		children:    make(map[string]*Resource),
		contentType: -1,
		maxSize:     -1,
		handler:     handler,
		observers:   NewObserveRegistry(),
	}
	r.tree.Store(newTree())
	return r
}

// lockTree 锁住节点当前所在的树, 加锁期间节点被挂到别的树上时重试.
func (r *Resource) lockTree() *tree {
	for {
		t := r.tree.Load()
		t.mu.Lock()
		if r.tree.Load() == t {
			return t
		}
		t.mu.Unlock()
	}
}

func (r *Resource) rlockTree() *tree {
	for {
		t := r.tree.Load()
		t.mu.RLock()
		if r.tree.Load() == t {
			return t
		}
		t.mu.RUnlock()
	}
}

// lockTrees 按id顺序锁住a与b所在的树.
func lockTrees(a, b *Resource) (ta, tb *tree) {
	for {
		ta, tb = a.tree.Load(), b.tree.Load()
		switch {
		case ta == tb:
			ta.mu.Lock()
		case ta.id < tb.id:
			ta.mu.Lock()
			tb.mu.Lock()
		default:
			tb.mu.Lock()
			ta.mu.Lock()
		}
		if a.tree.Load() == ta && b.tree.Load() == tb {
			return ta, tb
		}
		unlockTrees(ta, tb)
	}
}

func unlockTrees(ta, tb *tree) {
	ta.mu.Unlock()
	if tb != ta {
		tb.mu.Unlock()
	}
}

func (r *Resource) Segment() string {
	return r.segment
}

func (r *Resource) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *Resource) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

func (r *Resource) Description() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.description
}

func (r *Resource) SetDescription(d string) {
	r.mu.Lock()
	r.description = d
	r.mu.Unlock()
}

// ContentType 未设置时为-1.
func (r *Resource) ContentType() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contentType
}

func (r *Resource) SetContentType(ct int) {
	r.mu.Lock()
	r.contentType = ct
	r.mu.Unlock()
}

// MaxSize 未设置时为-1.
func (r *Resource) MaxSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxSize
}

func (r *Resource) SetMaxSize(sz int) {
	r.mu.Lock()
	r.maxSize = sz
	r.mu.Unlock()
}

func (r *Resource) Observable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observable
}

func (r *Resource) SetObservable(obs bool) {
	r.mu.Lock()
	r.observable = obs
	r.mu.Unlock()
}

// Hidden 隐藏的资源不出现在link-format中, 其子资源不受影响.
func (r *Resource) Hidden() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hidden
}

func (r *Resource) SetHidden(hidden bool) {
	r.mu.Lock()
	r.hidden = hidden
	r.mu.Unlock()
}

func (r *Resource) Handler() ResourceHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

func (r *Resource) SetHandler(h ResourceHandler) {
	if h == nil {
		h = LocalHandler{}
	}
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Observers 返回资源的订阅登记表.
func (r *Resource) Observers() *ObserveRegistry {
	return r.observers
}

// SetConstructor 设置整棵树创建中间节点所用的构造函数.
func (r *Resource) SetConstructor(c Constructor) {
	t := r.lockTree()
	t.constructor = c
	t.mu.Unlock()
}

// SetLogger 设置整棵树的日志, 挂载到其它树上的子树改用那棵树的日志.
func (r *Resource) SetLogger(log logging.LeveledLogger) {
	if log == nil {
		log = defaultTreeLog
	}
	t := r.lockTree()
	t.log = log
	t.mu.Unlock()
}

func (r *Resource) logger() logging.LeveledLogger {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return t.log
}

// Parent 返回父节点, 根节点返回nil.
func (r *Resource) Parent() *Resource {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return r.parent
}

// Path 返回从根节点开始的路径, 根节点为"/".
func (r *Resource) Path() string {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return r.pathLocked()
}

func (r *Resource) pathLocked() string {
	var segments []string
	for p := r; p != nil; p = p.parent {
		if p.segment != "" {
			segments = append(segments, p.segment)
		}
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return "/" + strings.Join(segments, "/")
}

// relativePathLocked 返回相对于祖先节点base的路径
func (r *Resource) relativePathLocked(base *Resource) string {
	var segments []string
	for p := r; p != nil && p != base; p = p.parent {
		segments = append(segments, p.segment)
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return "/" + strings.Join(segments, "/")
}

// SubResourceCount 返回直接子节点数.
func (r *Resource) SubResourceCount() int {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return len(r.children)
}

// TotalSubResourceCount 返回所有后代节点数.
func (r *Resource) TotalSubResourceCount() int {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return r.total
}

// Children 按段名顺序返回直接子节点的快照.
func (r *Resource) Children() []*Resource {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return r.childrenLocked()
}

func (r *Resource) childrenLocked() []*Resource {
	children := make([]*Resource, 0, len(r.children))
	for _, c := range r.children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].segment < children[j].segment
	})
	return children
}

// GetResource 按路径查找后代节点, 空路径返回自身.
func (r *Resource) GetResource(path string) (*Resource, bool) {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	cur := r
	for _, seg := range splitPath(path) {
		child, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// SubResource 按路径查找后代节点, create为true时用构造函数创建缺失的节点.
func (r *Resource) SubResource(path string, create bool) (*Resource, error) {
	if !create {
		res, ok := r.GetResource(path)
		if !ok {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return res, nil
	}

	t := r.lockTree()
	defer t.mu.Unlock()
	cur := r
	for _, seg := range splitPath(path) {
		child, ok := cur.children[seg]
		if !ok {
			var err error
			if child, err = t.construct(seg); err != nil {
				return nil, err
			}
			cur.attachLocked(child)
		}
		cur = child
	}
	return cur, nil
}

// deepest 返回路径上最深的已存在节点及剩余路径.
func (r *Resource) deepest(path string) (*Resource, string) {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	segments := splitPath(path)
	cur := r
	for i, seg := range segments {
		child, ok := cur.children[seg]
		if !ok {
			return cur, strings.Join(segments[i:], "/")
		}
		cur = child
	}
	return cur, ""
}

// AddSubResource 挂载子节点, 同名的已有子节点被替换.
func (r *Resource) AddSubResource(child *Resource) error {
	if child == nil || child.segment == "" || strings.Contains(child.segment, "/") {
		return errors.New("coap: invalid sub resource")
	}
	t, ct := lockTrees(r, child)
	defer unlockTrees(t, ct)
	if child.parent != nil {
		return ErrResourceAttached
	}
	for p := r; p != nil; p = p.parent {
		if p == child {
			return errors.New("coap: resource cycle")
		}
	}
	r.attachLocked(child)
	return nil
}

func (r *Resource) attachLocked(child *Resource) {
	if old, ok := r.children[child.segment]; ok {
		r.detachLocked(old)
	}
	child.parent = r
	child.setTree(r.tree.Load())
	r.children[child.segment] = child
	for p := r; p != nil; p = p.parent {
		p.total += 1 + child.total
	}
}

// RemoveSubResource 摘下直接子节点.
func (r *Resource) RemoveSubResource(child *Resource) bool {
	t := r.lockTree()
	defer t.mu.Unlock()
	if child == nil || r.children[child.segment] != child {
		return false
	}
	r.detachLocked(child)
	return true
}

func (r *Resource) detachLocked(child *Resource) {
	delete(r.children, child.segment)
	child.parent = nil
	for p := r; p != nil; p = p.parent {
		p.total -= 1 + child.total
	}
}

// setTree 切换子树所用的树, 调用方须同时持有新旧两棵树的锁.
func (r *Resource) setTree(t *tree) {
	if r.tree.Load() == t {
		return
	}
	r.tree.Store(t)
	for _, c := range r.children {
		c.setTree(t)
	}
}

// Remove 从父节点摘下, 可重复调用.
func (r *Resource) Remove() bool {
	t := r.lockTree()
	defer t.mu.Unlock()
	if r.parent == nil {
		return false
	}
	r.parent.detachLocked(r)
	return true
}

// Update 串行执行修改并在成功后通知订阅者.
func (r *Resource) Update(fn func() error) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	r.Changed()
	return nil
}

// Changed 以资源的GET处理器为每个订阅者生成通知.
func (r *Resource) Changed() {
	r.observers.notify(r.Handler(), r.logger())
}

// WriteTree 缩进输出子树.
func (r *Resource) WriteTree(w io.Writer) error {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	return r.writeTreeLocked(w, 0)
}

func (r *Resource) writeTreeLocked(w io.Writer, depth int) error {
	seg := r.segment
	if seg == "" {
		seg = "/"
	}
	r.mu.RLock()
	line := fmt.Sprintf("%s%s", strings.Repeat("  ", depth), seg)
	if r.name != "" {
		line += fmt.Sprintf(" n=%q", r.name)
	}
	if r.contentType >= 0 {
		line += fmt.Sprintf(" ct=%d", r.contentType)
	}
	if r.observable {
		line += " obs"
	}
	if r.hidden {
		line += " hidden"
	}
	r.mu.RUnlock()

	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, c := range r.childrenLocked() {
		if err := c.writeTreeLocked(w, depth+1); err != nil {
			return err
		}
	}
	return nil
}
