package dispatch

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/cmcf/autoprocess/pkg/domain"
)

// NodeRegistry knows processing nodes and their capacity.
type NodeRegistry interface {
	// Node returns the node. domain.ErrUnknownNode if there are no such node.
	Node(id string) (domain.Node, error)

	// Nodes returns all nodes, ordered by id.
	Nodes() []domain.Node
}

// StaticNodes is a NodeRegistry of configured nodes.
//
// It can be replaced as a whole when the configuration is reloaded.
type StaticNodes struct {
	mu    sync.RWMutex
	nodes map[string]domain.Node
}

var _ NodeRegistry = &StaticNodes{}

func NewStaticNodes(nodes ...domain.Node) (*StaticNodes, error) {
	s := &StaticNodes{}
	if err := s.Replace(nodes...); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace replaces the registered nodes.
func (s *StaticNodes) Replace(nodes ...domain.Node) error {
	m := make(map[string]domain.Node, len(nodes))
	for _, n := range nodes {
		if n.Id == "" {
			return fmt.Errorf("node id is empty")
		}
		if n.Capacity < 1 {
			return fmt.Errorf("capacity of node %s should be positive: %d", n.Id, n.Capacity)
		}
		if _, ok := m[n.Id]; ok {
			return fmt.Errorf("node %s is registered twice", n.Id)
		}
		m[n.Id] = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = m
	return nil
}

func (s *StaticNodes) Node(id string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, fmt.Errorf("%w: %s", domain.ErrUnknownNode, id)
	}
	return n, nil
}

func (s *StaticNodes) Nodes() []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		ret = append(ret, n)
	}
	slices.SortFunc(ret, func(a, b domain.Node) int { return cmp.Compare(a.Id, b.Id) })
	return ret
}
