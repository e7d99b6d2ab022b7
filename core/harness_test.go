package core

import (
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/golemfactory/golem/impl"
	"github.com/golemfactory/golem/state"
	"github.com/golemfactory/golem/store"
	"github.com/stretchr/testify/require"
)

type sentGossip struct {
	msg     state.GossipMessage
	targets []state.NodeId
}

// stubNetwork records everything sent and replays whatever the test queued
type stubNetwork struct {
	degrees  map[state.NodeId]int
	sent     []sentGossip
	pushes   []state.NeighbourOpinion
	stops    int
	gossip   []state.GossipMessage
	stopped  map[state.NodeId]struct{}
	opinions []state.NeighbourOpinion
	panics   bool
	// collectPanics makes CollectGossip panic, which every stage init calls
	collectPanics bool
}

func (n *stubNetwork) NeighboursDegree() map[state.NodeId]int {
	if n.panics {
		panic("network exploded")
	}
	res := make(map[state.NodeId]int, len(n.degrees))
	for k, v := range n.degrees {
		res[k] = v
	}
	return res
}

func (n *stubNetwork) SendGossip(msg state.GossipMessage, targets []state.NodeId) error {
	n.sent = append(n.sent, sentGossip{msg, targets})
	return nil
}

func (n *stubNetwork) CollectGossip() []state.GossipMessage {
	if n.collectPanics {
		panic("gossip queue exploded")
	}
	res := n.gossip
	n.gossip = nil
	return res
}

func (n *stubNetwork) SendStopGossip() error {
	n.stops++
	return nil
}

func (n *stubNetwork) CollectStoppedPeers() map[state.NodeId]struct{} {
	res := n.stopped
	n.stopped = nil
	return res
}

func (n *stubNetwork) PushLocalRank(node state.NodeId, trust state.TrustPair) error {
	n.pushes = append(n.pushes, state.NeighbourOpinion{Subject: node, Trust: trust})
	return nil
}

func (n *stubNetwork) CollectNeighboursLocRanks() []state.NeighbourOpinion {
	res := n.opinions
	n.opinions = nil
	return res
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func stubEnv(net state.Network) *RankingEnv {
	cfg := state.DefaultRankingCfg()
	return &RankingEnv{
		Id:      "self",
		Cfg:     &cfg,
		Store:   store.NewMemStore(),
		Network: net,
		Log:     testLogger(),
		Rand:    rand.New(rand.NewPCG(1, 2)),
	}
}

// lockstepPeer runs the phase functions of one node without timers
type lockstepPeer struct {
	env    *RankingEnv
	net    *impl.MemNetwork
	epoch  Epoch
	pushed map[state.NodeId]state.TrustPair
}

func (p *lockstepPeer) trust() *Trust {
	return &Trust{
		id:      p.env.Id,
		cfg:     p.env.Cfg,
		store:   p.env.Store,
		network: p.net,
		log:     p.env.Log,
	}
}

type lockstep struct {
	hub   *impl.MemHub
	cfg   state.RankingCfg
	peers map[state.NodeId]*lockstepPeer
	order []state.NodeId
}

func newLockstep(ids ...state.NodeId) *lockstep {
	l := &lockstep{
		hub:   impl.NewMemHub(),
		cfg:   state.DefaultRankingCfg(),
		peers: make(map[state.NodeId]*lockstepPeer),
		order: ids,
	}
	for i, id := range ids {
		net := l.hub.Join(id)
		l.peers[id] = &lockstepPeer{
			env: &RankingEnv{
				Id:      id,
				Cfg:     &l.cfg,
				Store:   store.NewMemStore(),
				Network: net,
				Log:     testLogger(),
				Rand:    rand.New(rand.NewPCG(uint64(i), 42)),
			},
			net:    net,
			pushed: make(map[state.NodeId]state.TrustPair),
		}
	}
	return l
}

func (l *lockstep) each(fn func(p *lockstepPeer)) {
	for _, id := range l.order {
		fn(l.peers[id])
	}
}

// runEpoch drives every peer through one stage and returns the number of rounds it took
func (l *lockstep) runEpoch(t *testing.T) int {
	l.each(func(p *lockstepPeer) {
		DrainOpinions(p.env)
		ep, err := StageInit(p.env, p.pushed)
		require.NoError(t, err)
		p.epoch = ep
	})
	for round := 1; round <= 3*l.cfg.MaxSteps; round++ {
		phase := func(fn func(*RankingEnv, Epoch) (Epoch, error)) {
			l.each(func(p *lockstepPeer) {
				if p.epoch.GlobalFinished {
					return
				}
				DrainOpinions(p.env)
				ep, err := fn(p.env, p.epoch)
				require.NoError(t, err)
				p.epoch = ep
			})
		}
		phase(Round)
		phase(EndRound)
		phase(Break)

		done := true
		l.each(func(p *lockstepPeer) {
			done = done && p.epoch.GlobalFinished
		})
		if done {
			return round
		}
	}
	t.Fatalf("epoch did not finish within %d rounds", 3*l.cfg.MaxSteps)
	return 0
}
