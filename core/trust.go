package core

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/state"
)

type axis int

const (
	axisComputing axis = iota
	axisRequesting
)

func (a axis) pick(t state.TrustPair) float64 {
	if a == axisRequesting {
		return t.Requesting
	}
	return t.Computing
}

func (a axis) global(g state.GlobalRank) (trust, weight float64) {
	if a == axisRequesting {
		return g.RequestingTrust, g.GossipWeightRequesting
	}
	return g.ComputingTrust, g.GossipWeightComputing
}

// Trust answers trust queries and records interactions. Unlike other modules it only touches
// goroutine-safe parts of the environment, so it may be called from anywhere.
type Trust struct {
	id      state.NodeId
	cfg     *state.RankingCfg
	store   state.TrustStore
	network state.Network
	log     *slog.Logger
}

func NewTrust(env *state.Env) *Trust {
	return &Trust{
		id:      env.Id,
		cfg:     &env.Ranking,
		store:   env.Store,
		network: env.Network,
		log:     env.Log.With("module", "trust"),
	}
}

func (t *Trust) Init(s *state.State) error {
	*t = *NewTrust(s.Env)
	return nil
}

func (t *Trust) Cleanup(s *state.State) error {
	return nil
}

func (t *Trust) record(node state.NodeId, cat state.Category, sign state.Sign, amount float64) error {
	err := t.store.Record(node, cat, sign, amount)
	if err != nil {
		return err
	}
	perf.CountInteraction(cat.String(), sign.String())
	t.log.Debug("recorded interaction", "node", node, "category", cat, "sign", sign, "amount", amount)
	return nil
}

// Record updates the local counters of node
func (t *Trust) Record(node state.NodeId, cat state.Category, sign state.Sign, amount float64) error {
	return t.record(node, cat, sign, amount)
}

func (t *Trust) IncreaseTrust(node state.NodeId, cat state.Category, amount float64) error {
	return t.record(node, cat, state.Positive, amount)
}

func (t *Trust) DecreaseTrust(node state.NodeId, cat state.Category, amount float64) error {
	return t.record(node, cat, state.Negative, amount)
}

func (t *Trust) ComputingTrust(node state.NodeId) float64 {
	return t.trust(node, axisComputing)
}

func (t *Trust) RequestingTrust(node state.NodeId) float64 {
	return t.trust(node, axisRequesting)
}

func (t *Trust) TrustPair(node state.NodeId) state.TrustPair {
	return state.TrustPair{
		Computing:  t.ComputingTrust(node),
		Requesting: t.RequestingTrust(node),
	}
}

// localTrust returns our first-hand trust of node, ok is false when we never interacted with it
func (t *Trust) localTrust(node state.NodeId, a axis) (float64, bool) {
	l, ok, err := t.store.LocalRank(node)
	if err != nil {
		t.log.Error("failed to read local rank", "node", node, "err", err)
		return state.UnknownTrust, false
	}
	if !ok {
		return state.UnknownTrust, false
	}
	return a.pick(t.cfg.LocalTrust(l)), true
}

func (t *Trust) trust(node state.NodeId, a axis) float64 {
	if v, ok := t.localTrust(node, a); ok {
		return v
	}

	rank, weightSum := 0.0, 0.0
	for _, n := range slices.Sorted(maps.Keys(t.network.NeighboursDegree())) {
		if n == node {
			continue
		}
		opinion := state.UnknownTrust
		nr, ok, err := t.store.NeighbourRank(n, node)
		if err != nil {
			t.log.Error("failed to read neighbour rank", "neighbour", n, "node", node, "err", err)
		} else if ok {
			opinion = a.pick(state.TrustPair{Computing: nr.ComputingTrust, Requesting: nr.RequestingTrust})
		}
		nt, _ := t.localTrust(n, a)
		w := t.cfg.NeighbourWeight(nt)
		rank += (w - 1) * opinion
		weightSum += w
	}

	g, ok, err := t.store.GlobalRank(node)
	if err != nil {
		t.log.Error("failed to read global rank", "node", node, "err", err)
		ok = false
	}
	// (w-1) is negative for distrusted neighbours, so the quotients are clipped to the trust range
	if ok {
		trust, weight := a.global(g)
		if weightSum+weight != 0 {
			return state.ClipTrust((rank + trust) / (weightSum + weight))
		}
	}
	if weightSum != 0 {
		return state.ClipTrust(rank / weightSum)
	}
	return state.UnknownTrust
}
