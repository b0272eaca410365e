package model

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/machconn/pkg/errors"
)

// Operation is a callable element of a Tree
type Operation func(ctx context.Context, args []interface{}) (interface{}, error)

// Tree is an in-memory hierarchical Backend. Inner nodes are created on
// write; leaves hold values, raw struct bytes or operations. It backs
// simulators and test fixtures.
type Tree struct {
	separator string
	top       string

	mu       sync.RWMutex
	root     *treeNode
	monitors []monitorEntry
	watchers []func(Path)
}

type treeNode struct {
	children map[string]*treeNode
	value    interface{}
	isLeaf   bool
	op       Operation
}

type monitorEntry struct {
	path   Path
	notify func(Path)
}

// NewTree creates an empty tree with the given separator and top instances name
func NewTree(separator, topInstances string) *Tree {
	return &Tree{
		separator: separator,
		top:       topInstances,
		root:      &treeNode{children: make(map[string]*treeNode)},
	}
}

func (t *Tree) Separator() string    { return t.separator }
func (t *Tree) TopInstances() string { return t.top }

func (t *Tree) find(path Path) *treeNode {
	n := t.root
	for _, name := range path {
		if n.children == nil {
			return nil
		}
		next, ok := n.children[name]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (t *Tree) ensure(path Path) (*treeNode, bool) {
	n := t.root
	created := false
	for _, name := range path {
		if n.isLeaf {
			return nil, false
		}
		if n.children == nil {
			n.children = make(map[string]*treeNode)
		}
		next, ok := n.children[name]
		if !ok {
			next = &treeNode{children: make(map[string]*treeNode)}
			n.children[name] = next
			created = true
		}
		n = next
	}
	return n, created
}

// Read returns the leaf value at path
func (t *Tree) Read(_ context.Context, path Path) (interface{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.find(path)
	if n == nil || !n.isLeaf || n.op != nil {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "element %s does not exist", path.Join(t.separator))
	}
	return n.value, nil
}

// Write stores value at path, creating inner nodes as needed
func (t *Tree) Write(_ context.Context, path Path, value interface{}) error {
	if len(path) == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot write the model root")
	}
	t.mu.Lock()
	n := t.find(path)
	if n != nil && !n.isLeaf && len(n.children) > 0 {
		t.mu.Unlock()
		return errors.Newf(errors.ErrorTypeValidation, "element %s is a structure", path.Join(t.separator))
	}
	n, created := t.ensure(path)
	if n == nil {
		t.mu.Unlock()
		return errors.Newf(errors.ErrorTypeValidation, "element %s is below a value", path.Join(t.separator))
	}
	n.isLeaf = true
	n.children = nil
	n.value = value
	notify := t.matchingMonitors(path)
	watchers := append([]func(Path){}, t.watchers...)
	t.mu.Unlock()

	for _, fn := range notify {
		fn(path)
	}
	if created {
		for _, fn := range watchers {
			fn(path)
		}
	}
	return nil
}

// Put is Write for setting up fixtures; qName is split on the separator
func (t *Tree) Put(qName string, value interface{}) error {
	return t.Write(context.Background(), Path(Split(qName, t.separator)), value)
}

// Delete removes the element at path
func (t *Tree) Delete(path Path) bool {
	if len(path) == 0 {
		return false
	}
	t.mu.Lock()
	parent := t.find(path.Parent())
	if parent == nil || parent.children == nil {
		t.mu.Unlock()
		return false
	}
	if _, ok := parent.children[path.Last()]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(parent.children, path.Last())
	watchers := append([]func(Path){}, t.watchers...)
	t.mu.Unlock()
	for _, fn := range watchers {
		fn(path)
	}
	return true
}

// DefineOperation registers an operation at qName
func (t *Tree) DefineOperation(qName string, op Operation) error {
	path := Path(Split(qName, t.separator))
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.ensure(path)
	if n == nil {
		return errors.Newf(errors.ErrorTypeValidation, "cannot define operation %s", qName)
	}
	n.isLeaf = true
	n.children = nil
	n.op = op
	return nil
}

// Call invokes the operation at path
func (t *Tree) Call(ctx context.Context, path Path, args []interface{}) (interface{}, error) {
	t.mu.RLock()
	n := t.find(path)
	var op Operation
	if n != nil {
		op = n.op
	}
	t.mu.RUnlock()
	if op == nil {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "operation %s does not exist", path.Join(t.separator))
	}
	return op(ctx, args)
}

// ReadRaw returns the raw bytes stored at path
func (t *Tree) ReadRaw(ctx context.Context, path Path, size int) ([]byte, error) {
	v, err := t.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "element %s is not a structure", path.Join(t.separator))
	}
	if size > 0 && size != len(data) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "element %s has %d bytes, expected %d", path.Join(t.separator), len(data), size)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteRaw stores raw bytes at path
func (t *Tree) WriteRaw(ctx context.Context, path Path, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	return t.Write(ctx, path, cp)
}

// Monitor notifies about writes to or below the given paths
func (t *Tree) Monitor(_ context.Context, _ time.Duration, paths []Path, notify func(Path)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		t.monitors = append(t.monitors, monitorEntry{path: p, notify: notify})
	}
	return nil
}

// MonitorModelChanges notifies about elements being created or deleted
func (t *Tree) MonitorModelChanges(_ context.Context, _ time.Duration, notify func(Path)) error {
	t.mu.Lock()
	t.watchers = append(t.watchers, notify)
	t.mu.Unlock()
	return nil
}

func (t *Tree) matchingMonitors(path Path) []func(Path) {
	var out []func(Path)
	for _, m := range t.monitors {
		if hasPrefix(path, m.path) {
			out = append(out, m.notify)
		}
	}
	return out
}

func hasPrefix(path, prefix Path) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Leaves returns the qualified names of all value leaves below qName
func (t *Tree) Leaves(qName string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := t.find(Path(Split(qName, t.separator)))
	if start == nil {
		return nil
	}
	var out []string
	var walk func(n *treeNode, prefix []string)
	walk = func(n *treeNode, prefix []string) {
		if n.isLeaf {
			if n.op == nil {
				out = append(out, strings.Join(prefix, t.separator))
			}
			return
		}
		for name, child := range n.children {
			walk(child, append(append([]string{}, prefix...), name))
		}
	}
	walk(start, Split(qName, t.separator))
	sort.Strings(out)
	return out
}
