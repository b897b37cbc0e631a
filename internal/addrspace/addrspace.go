package addrspace

import (
	"sync"

	"github.com/gopcua/opcua/ua"
)

// AddressSpace indexes nodes by their canonical NodeID string.
type AddressSpace struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New creates an empty address space.
func New() *AddressSpace {
	return &AddressSpace{nodes: make(map[string]*Node)}
}

// Add inserts or replaces a node.
func (a *AddressSpace) Add(n *Node) {
	a.mu.Lock()
	a.nodes[n.ID().String()] = n
	a.mu.Unlock()
}

// Get looks up a node by id.
func (a *AddressSpace) Get(id *ua.NodeID) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.nodes[id.String()]
	return n, ok
}

// Remove deletes a node by id.
func (a *AddressSpace) Remove(id *ua.NodeID) {
	a.mu.Lock()
	delete(a.nodes, id.String())
	a.mu.Unlock()
}

// Len returns the number of nodes.
func (a *AddressSpace) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// Each calls fn for every node. The snapshot is taken up front, so fn may
// mutate the address space.
func (a *AddressSpace) Each(fn func(*Node)) {
	a.mu.RLock()
	snapshot := make([]*Node, 0, len(a.nodes))
	for _, n := range a.nodes {
		snapshot = append(snapshot, n)
	}
	a.mu.RUnlock()

	for _, n := range snapshot {
		fn(n)
	}
}
