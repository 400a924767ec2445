package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/lease"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
)

// NodeStore keeps node records in process memory. The map lock only guards
// membership; each read-modify-write holds the lock for its own name.
type NodeStore struct {
	clock clock.Clock
	keys  *kmutex.Kmutex

	mu    sync.RWMutex
	nodes map[string]models.Node
}

func NewNodeStore(clk clock.Clock, seed ...models.Node) *NodeStore {
	if clk == nil {
		clk = clock.WallClock
	}
	store := &NodeStore{
		clock: clk,
		keys:  kmutex.New(),
		nodes: make(map[string]models.Node, len(seed)),
	}
	for _, node := range seed {
		store.nodes[node.Name] = node.Clone()
	}
	return store
}

func (s *NodeStore) Register(_ context.Context, name string, attributes map[string]any) (models.Node, error) {
	s.keys.Lock(name)
	defer s.keys.Unlock(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[name]; ok {
		return models.Node{}, nlerrors.ErrAlreadyExists
	}
	node := lease.New(name, attributes, s.clock.Now())
	s.nodes[name] = node
	return node.Clone(), nil
}

func (s *NodeStore) Remove(_ context.Context, name string) error {
	s.keys.Lock(name)
	defer s.keys.Unlock(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[name]; !ok {
		return nlerrors.ErrNotFound
	}
	delete(s.nodes, name)
	return nil
}

func (s *NodeStore) Get(_ context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(name, reconcile)
	return node, err
}

func (s *NodeStore) List(_ context.Context) ([]models.Node, error) {
	names := s.names()
	result := make([]models.Node, 0, len(names))
	for _, name := range names {
		node, _, err := s.mutate(name, reconcile)
		if errors.Is(err, nlerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, nil
}

func (s *NodeStore) Acquire(_ context.Context, name, holder string, expiresAt time.Time) (models.Node, error) {
	node, _, err := s.mutate(name, func(current models.Node, now time.Time) (models.Node, bool, error) {
		updated, err := lease.Grant(current, holder, expiresAt, now)
		return updated, err == nil, err
	})
	return node, err
}

func (s *NodeStore) Release(_ context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(name, func(current models.Node, now time.Time) (models.Node, bool, error) {
		return lease.Free(current, now), true, nil
	})
	return node, err
}

func (s *NodeStore) Sweep(_ context.Context) (int, error) {
	released := 0
	for _, name := range s.names() {
		_, changed, err := s.mutate(name, reconcile)
		if errors.Is(err, nlerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		if changed {
			released++
		}
	}
	return released, nil
}

func (s *NodeStore) mutate(name string, fn func(models.Node, time.Time) (models.Node, bool, error)) (models.Node, bool, error) {
	s.keys.Lock(name)
	defer s.keys.Unlock(name)

	s.mu.RLock()
	current, ok := s.nodes[name]
	s.mu.RUnlock()
	if !ok {
		return models.Node{}, false, nlerrors.ErrNotFound
	}

	updated, changed, err := fn(current, s.clock.Now())
	if err != nil {
		return models.Node{}, false, err
	}
	if changed {
		s.mu.Lock()
		s.nodes[name] = updated.Clone()
		s.mu.Unlock()
	}
	return updated.Clone(), changed, nil
}

func (s *NodeStore) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func reconcile(current models.Node, now time.Time) (models.Node, bool, error) {
	updated, changed := lease.Reconcile(current, now)
	return updated, changed, nil
}
