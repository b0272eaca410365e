package model

import "sync"

// rootHandle is the handle of the root cursor node
const rootHandle = 0

type nodeKey struct {
	parent int
	name   string
}

type node struct {
	parent int
	path   Path
}

// arena stores cursor nodes indexed by integer handle. Nodes are immutable
// once created, so cursors holding a handle are independent values. A child
// is interned per (parent, name), which bounds the arena by the number of
// distinct paths visited.
type arena struct {
	mu     sync.RWMutex
	nodes  []node
	index  map[nodeKey]int
	closed bool
}

func newArena() *arena {
	return &arena{
		nodes: []node{{parent: rootHandle, path: Path{}}},
		index: make(map[nodeKey]int),
	}
}

// child returns the handle of name below parent, creating it on first use.
// It returns false once the arena is closed.
func (a *arena) child(parent int, name string) (int, bool) {
	key := nodeKey{parent: parent, name: name}

	a.mu.RLock()
	h, ok := a.index[key]
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return rootHandle, false
	}
	if ok {
		return h, true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || parent < 0 || parent >= len(a.nodes) {
		return rootHandle, false
	}
	if h, ok := a.index[key]; ok {
		return h, true
	}
	h = len(a.nodes)
	a.nodes = append(a.nodes, node{parent: parent, path: a.nodes[parent].path.Child(name)})
	a.index[key] = h
	return h, true
}

// parent returns the parent handle; false once the arena is closed
func (a *arena) parent(h int) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || h < 0 || h >= len(a.nodes) {
		return rootHandle, false
	}
	return a.nodes[h].parent, true
}

// path returns the absolute path of h; false once the arena is closed
func (a *arena) path(h int) (Path, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || h < 0 || h >= len(a.nodes) {
		return nil, false
	}
	return a.nodes[h].path, true
}

func (a *arena) size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

func (a *arena) close() {
	a.mu.Lock()
	a.closed = true
	a.nodes = a.nodes[:1]
	a.index = make(map[nodeKey]int)
	a.mu.Unlock()
}

func (a *arena) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}
