package impl

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/protocol"
	"github.com/golemfactory/golem/state"
)

var ErrNotNeighbour = errors.New("target is not a neighbour")

type MemLink struct {
	PacketLoss float64
}

func (l *MemLink) WithPacketLoss(loss float64) *MemLink {
	l.PacketLoss = loss
	return l
}

func (l *MemLink) drop() bool {
	return l.PacketLoss > 0 && rand.Float64() < l.PacketLoss
}

// MemHub is a process-local network connecting MemNetwork peers over explicit links
type MemHub struct {
	mu    sync.Mutex
	nodes map[state.NodeId]*MemNetwork
	links map[state.NodeId]map[state.NodeId]*MemLink
}

func NewMemHub() *MemHub {
	return &MemHub{
		nodes: make(map[state.NodeId]*MemNetwork),
		links: make(map[state.NodeId]map[state.NodeId]*MemLink),
	}
}

// Join returns the network endpoint of id, creating it if needed
func (h *MemHub) Join(id state.NodeId) *MemNetwork {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.nodes[id]; ok {
		return n
	}
	n := &MemNetwork{
		id:      id,
		hub:     h,
		stopped: make(map[state.NodeId]struct{}),
	}
	h.nodes[id] = n
	return n
}

// AddLink connects a and b in both directions. Loss configured on the returned link applies to both.
func (h *MemHub) AddLink(a, b state.NodeId) *MemLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	link := &MemLink{}
	for _, e := range [][2]state.NodeId{{a, b}, {b, a}} {
		if h.links[e[0]] == nil {
			h.links[e[0]] = make(map[state.NodeId]*MemLink)
		}
		h.links[e[0]][e[1]] = link
	}
	return link
}

func (h *MemHub) RemoveLink(a, b state.NodeId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.links[a], b)
	delete(h.links[b], a)
}

// Line links the given nodes in order
func (h *MemHub) Line(ids ...state.NodeId) {
	for i := 1; i < len(ids); i++ {
		h.AddLink(ids[i-1], ids[i])
	}
}

func (h *MemHub) neighbours(id state.NodeId) []state.NodeId {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := make([]state.NodeId, 0, len(h.links[id]))
	for n := range h.links[id] {
		res = append(res, n)
	}
	slices.Sort(res)
	return res
}

// deliver hands fn the receiving endpoint if the link exists and does not drop the message
func (h *MemHub) deliver(from, to state.NodeId, fn func(n *MemNetwork)) error {
	h.mu.Lock()
	link, ok := h.links[from][to]
	dst := h.nodes[to]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrNotNeighbour, from, to)
	}
	if dst == nil || link.drop() {
		perf.DroppedPacketsPerMin.Add(1)
		return nil
	}
	fn(dst)
	return nil
}

// MemNetwork is one peer's view of a MemHub
type MemNetwork struct {
	id  state.NodeId
	hub *MemHub

	mu       sync.Mutex
	gossip   []state.GossipMessage
	stopped  map[state.NodeId]struct{}
	locRanks []state.NeighbourOpinion
}

func (m *MemNetwork) Id() state.NodeId {
	return m.id
}

func (m *MemNetwork) Neighbours() []state.NodeId {
	return m.hub.neighbours(m.id)
}

func (m *MemNetwork) NeighboursDegree() map[state.NodeId]int {
	res := make(map[state.NodeId]int)
	for _, n := range m.hub.neighbours(m.id) {
		res[n] = max(len(m.hub.neighbours(n)), 1)
	}
	return res
}

func (m *MemNetwork) SendGossip(msg state.GossipMessage, targets []state.NodeId) error {
	var errs []error
	for _, target := range targets {
		err := m.hub.deliver(m.id, target, func(dst *MemNetwork) {
			dst.mu.Lock()
			dst.gossip = append(dst.gossip, slices.Clone(msg))
			dst.mu.Unlock()
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		perf.CountMessage(protocol.KindGossip.String(), true, 1)
	}
	perf.SentGossipPerSecond.Add(float64(len(targets)))
	return errors.Join(errs...)
}

func (m *MemNetwork) CollectGossip() []state.GossipMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.gossip
	m.gossip = nil
	perf.RecvGossipPerSecond.Add(float64(len(res)))
	return res
}

func (m *MemNetwork) SendStopGossip() error {
	var errs []error
	for _, n := range m.Neighbours() {
		errs = append(errs, m.hub.deliver(m.id, n, func(dst *MemNetwork) {
			dst.mu.Lock()
			dst.stopped[m.id] = struct{}{}
			dst.mu.Unlock()
		}))
		perf.CountMessage(protocol.KindStop.String(), true, 1)
	}
	return errors.Join(errs...)
}

func (m *MemNetwork) CollectStoppedPeers() map[state.NodeId]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.stopped
	m.stopped = make(map[state.NodeId]struct{})
	return res
}

func (m *MemNetwork) PushLocalRank(node state.NodeId, trust state.TrustPair) error {
	var errs []error
	for _, n := range m.Neighbours() {
		errs = append(errs, m.hub.deliver(m.id, n, func(dst *MemNetwork) {
			dst.mu.Lock()
			dst.locRanks = append(dst.locRanks, state.NeighbourOpinion{
				Neighbour: m.id,
				Subject:   node,
				Trust:     trust,
			})
			dst.mu.Unlock()
		}))
		perf.CountMessage(protocol.KindLocRank.String(), true, 1)
	}
	return errors.Join(errs...)
}

func (m *MemNetwork) CollectNeighboursLocRanks() []state.NeighbourOpinion {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.locRanks
	m.locRanks = nil
	return res
}
