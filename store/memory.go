package store

import (
	"slices"
	"strings"
	"sync"

	"github.com/golemfactory/golem/state"
)

// MemStore keeps every rank table in memory. A single RWMutex makes each upsert atomic
// while trust queries share the read lock.
type MemStore struct {
	mu         sync.RWMutex
	local      map[state.NodeId]*state.LocalRank
	global     map[state.NodeId]state.GlobalRank
	neighbours map[state.Pair[state.NodeId, state.NodeId]]state.NeighbourRank
}

func opinionKey(observer, subject state.NodeId) state.Pair[state.NodeId, state.NodeId] {
	return state.Pair[state.NodeId, state.NodeId]{V1: observer, V2: subject}
}

func NewMemStore() *MemStore {
	return &MemStore{
		local:      make(map[state.NodeId]*state.LocalRank),
		global:     make(map[state.NodeId]state.GlobalRank),
		neighbours: make(map[state.Pair[state.NodeId, state.NodeId]]state.NeighbourRank),
	}
}

func (m *MemStore) Record(node state.NodeId, cat state.Category, sign state.Sign, amount float64) error {
	counter, err := state.CounterFor(cat, sign)
	if err != nil {
		return err
	}
	if err = state.ValidateAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.local[node]
	if !ok {
		l = &state.LocalRank{NodeId: node}
		m.local[node] = l
	}
	counter.Apply(l, amount)
	return nil
}

func (m *MemStore) LocalRank(node state.NodeId) (state.LocalRank, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.local[node]
	if !ok {
		return state.LocalRank{}, false, nil
	}
	return *l, true, nil
}

func (m *MemStore) LocalRanks() ([]state.LocalRank, error) {
	m.mu.RLock()
	ranks := make([]state.LocalRank, 0, len(m.local))
	for _, l := range m.local {
		ranks = append(ranks, *l)
	}
	m.mu.RUnlock()
	slices.SortFunc(ranks, func(a, b state.LocalRank) int {
		return strings.Compare(string(a.NodeId), string(b.NodeId))
	})
	return ranks, nil
}

func (m *MemStore) GlobalRank(node state.NodeId) (state.GlobalRank, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.global[node]
	return g, ok, nil
}

func (m *MemStore) PutGlobalRanks(ranks []state.GlobalRank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range ranks {
		m.global[g.NodeId] = g
	}
	return nil
}

func (m *MemStore) NeighbourRank(observer, subject state.NodeId) (state.NeighbourRank, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.neighbours[opinionKey(observer, subject)]
	return n, ok, nil
}

func (m *MemStore) PutNeighbourRank(rank state.NeighbourRank) error {
	if rank.Observer == rank.Subject {
		return state.ErrSelfOpinion
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.neighbours[opinionKey(rank.Observer, rank.Subject)] = rank
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
