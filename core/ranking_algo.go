package core

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/state"
)

type Phase int

const (
	PhaseStageInit Phase = iota
	PhaseRound
	PhaseEndRound
	PhaseBreak
)

func (p Phase) String() string {
	switch p {
	case PhaseStageInit:
		return "stage_init"
	case PhaseRound:
		return "round"
	case PhaseEndRound:
		return "end_round"
	case PhaseBreak:
		return "break"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Next returns the phase that follows p. Only a break can lead to a new stage.
func (p Phase) Next(globalFinished bool) Phase {
	switch p {
	case PhaseStageInit:
		return PhaseRound
	case PhaseRound:
		return PhaseEndRound
	case PhaseEndRound:
		return PhaseBreak
	default:
		if globalFinished {
			return PhaseStageInit
		}
		return PhaseRound
	}
}

// Epoch is the gossip state of one stage. It is reset by every stage init.
type Epoch struct {
	Step               int
	Finished           bool
	GlobalFinished     bool
	FinishedNeighbours map[state.NodeId]struct{}
	Vector             map[state.NodeId]state.RankVector
	PrevRank           map[state.NodeId]state.TrustPair
	// Received holds the share kept by this node followed by the gossip merged at the end of the round
	Received []state.GossipMessage
	Delta    float64
}

// RankingEnv is everything the phase functions touch outside the epoch
type RankingEnv struct {
	Id      state.NodeId
	Cfg     *state.RankingCfg
	Store   state.TrustStore
	Network state.Network
	Log     *slog.Logger
	Rand    *rand.Rand
}

func (e *RankingEnv) shuffle(ids []state.NodeId) {
	swap := func(i, j int) { ids[i], ids[j] = ids[j], ids[i] }
	if e.Rand != nil {
		e.Rand.Shuffle(len(ids), swap)
	} else {
		rand.Shuffle(len(ids), swap)
	}
}

// FanOut returns how many neighbours receive a share each round
func FanOut(degrees map[state.NodeId]int) int {
	if len(degrees) == 0 {
		return 0
	}
	sum := 0
	for _, d := range degrees {
		sum += max(d, 1)
	}
	avg := float64(sum) / float64(len(degrees))
	k := max(int(math.Round(float64(len(degrees))/avg)), 1)
	return min(k, len(degrees))
}

// ChooseTargets picks k distinct neighbours uniformly at random
func ChooseTargets(env *RankingEnv, degrees map[state.NodeId]int, k int) []state.NodeId {
	ids := slices.Sorted(maps.Keys(degrees))
	env.shuffle(ids)
	return ids[:min(k, len(ids))]
}

// ScaleVector turns the working vector into an ordered message with every pair multiplied by c
func ScaleVector(vector map[state.NodeId]state.RankVector, c float64) state.GossipMessage {
	msg := make(state.GossipMessage, 0, len(vector))
	for _, node := range slices.Sorted(maps.Keys(vector)) {
		msg = append(msg, state.GossipEntry{Node: node, Vector: vector[node].Scale(c)})
	}
	return msg
}

// MergeGossip sums every entry into a fresh working vector. Invalid entries are dropped.
func MergeGossip(log *slog.Logger, msgs []state.GossipMessage) map[state.NodeId]state.RankVector {
	res := make(map[state.NodeId]state.RankVector)
	for _, msg := range msgs {
		for _, e := range msg {
			if !e.Vector.Valid() {
				perf.Malformed.Inc()
				log.Warn("dropping invalid gossip entry", "node", e.Node, "vector", e.Vector)
				continue
			}
			res[e.Node] = res[e.Node].Add(e.Vector)
		}
	}
	return res
}

func Ratios(vector map[state.NodeId]state.RankVector) map[state.NodeId]state.TrustPair {
	res := make(map[state.NodeId]state.TrustPair, len(vector))
	for node, v := range vector {
		res[node] = v.Ratios()
	}
	return res
}

// Delta sums the absolute ratio change of every node in next. Nodes missing from prev count as (0, 0).
// ok is false if the sum is not a finite number.
func Delta(prev map[state.NodeId]state.TrustPair, next map[state.NodeId]state.RankVector) (float64, bool) {
	sum := 0.0
	for node, v := range next {
		r := v.Ratios()
		p := prev[node]
		sum += math.Abs(r.Computing-p.Computing) + math.Abs(r.Requesting-p.Requesting)
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return sum, false
	}
	return sum, true
}

// Converged reports whether the epoch should stop gossiping after this round
func Converged(cfg *state.RankingCfg, step int, delta float64, ok bool, size int) bool {
	if step >= cfg.MaxSteps {
		return true
	}
	return ok && delta <= 2*cfg.Epsilon*float64(size)
}

func pushNeeded(cfg *state.RankingCfg, last, cur state.TrustPair) bool {
	return math.Abs(cur.Computing-last.Computing) > cfg.LocRankPushDelta ||
		math.Abs(cur.Requesting-last.Requesting) > cfg.LocRankPushDelta
}

// DrainOpinions stores every local rank our neighbours pushed since the last call
func DrainOpinions(env *RankingEnv) {
	for _, op := range env.Network.CollectNeighboursLocRanks() {
		err := env.Store.PutNeighbourRank(state.NeighbourRank{
			Observer:        op.Neighbour,
			Subject:         op.Subject,
			ComputingTrust:  state.ClipTrust(op.Trust.Computing),
			RequestingTrust: state.ClipTrust(op.Trust.Requesting),
		})
		if errors.Is(err, state.ErrSelfOpinion) {
			env.Log.Warn("dropping self opinion", "neighbour", op.Neighbour)
		} else if err != nil {
			env.Log.Error("failed to store neighbour opinion", "neighbour", op.Neighbour, "subject", op.Subject, "err", err)
		}
	}
}

// StageInit pushes changed local ranks to our neighbours and seeds a new epoch from them.
// pushed remembers what was last sent per node and is updated in place.
func NewEpoch() Epoch {
	return Epoch{
		FinishedNeighbours: make(map[state.NodeId]struct{}),
		Vector:             make(map[state.NodeId]state.RankVector),
		PrevRank:           make(map[state.NodeId]state.TrustPair),
	}
}

func StageInit(env *RankingEnv, pushed map[state.NodeId]state.TrustPair) (Epoch, error) {
	ep := NewEpoch()
	// anything still queued belongs to the previous stage
	env.Network.CollectGossip()
	env.Network.CollectStoppedPeers()

	locals, err := env.Store.LocalRanks()
	if err != nil {
		return ep, fmt.Errorf("failed to read local ranks: %w", err)
	}
	var errs []error
	for _, l := range locals {
		t := env.Cfg.LocalTrust(l)
		if pushNeeded(env.Cfg, pushed[l.NodeId], t) {
			if err := env.Network.PushLocalRank(l.NodeId, t); err != nil {
				errs = append(errs, fmt.Errorf("failed to push local rank of %s: %w", l.NodeId, err))
			} else {
				pushed[l.NodeId] = t
			}
		}
		ep.Vector[l.NodeId] = state.RankVector{
			Computing:  state.Fraction{Num: t.Computing, Den: 1},
			Requesting: state.Fraction{Num: t.Requesting, Den: 1},
		}
	}
	return ep, errors.Join(errs...)
}

// Round keeps one share of the working vector and sends one share to each of k random neighbours
func Round(env *RankingEnv, ep Epoch) (Epoch, error) {
	degrees := env.Network.NeighboursDegree()
	k := FanOut(degrees)
	ep.Step++
	msg := ScaleVector(ep.Vector, 1/float64(k+1))
	ep.Received = []state.GossipMessage{msg}
	if k == 0 {
		return ep, nil
	}
	targets := ChooseTargets(env, degrees, k)
	env.Log.Debug("sending gossip", "step", ep.Step, "targets", targets, "entries", len(msg))
	if err := env.Network.SendGossip(msg, targets); err != nil {
		return ep, fmt.Errorf("failed to send gossip: %w", err)
	}
	return ep, nil
}

// EndRound merges the kept share with received gossip and checks for convergence
func EndRound(env *RankingEnv, ep Epoch) (Epoch, error) {
	incoming := env.Network.CollectGossip()
	ep.PrevRank = Ratios(ep.Vector)
	ep.Vector = MergeGossip(env.Log, append(ep.Received, incoming...))
	ep.Received = nil
	perf.MergedBatchSize.Add(float64(len(incoming)))
	if ep.Finished {
		return ep, nil
	}
	delta, ok := Delta(ep.PrevRank, ep.Vector)
	ep.Delta = delta
	if !ok {
		env.Log.Warn("convergence delta is not finite", "step", ep.Step)
	}
	if Converged(env.Cfg, ep.Step, delta, ok, len(ep.Vector)) {
		ep.Finished = true
		env.Log.Debug("gossip finished", "step", ep.Step, "delta", delta)
		if err := env.Network.SendStopGossip(); err != nil {
			return ep, fmt.Errorf("failed to send stop: %w", err)
		}
	}
	return ep, nil
}

// GlobalRanks converts the working vector into persisted rows
func GlobalRanks(vector map[state.NodeId]state.RankVector) []state.GlobalRank {
	res := make([]state.GlobalRank, 0, len(vector))
	for _, node := range slices.Sorted(maps.Keys(vector)) {
		v := vector[node]
		r := v.Ratios()
		res = append(res, state.GlobalRank{
			NodeId:                 node,
			ComputingTrust:         r.Computing,
			RequestingTrust:        r.Requesting,
			GossipWeightComputing:  v.Computing.Den,
			GossipWeightRequesting: v.Requesting.Den,
		})
	}
	return res
}

// Break records stopped neighbours and persists the epoch once we and all our neighbours are done
func Break(env *RankingEnv, ep Epoch) (Epoch, error) {
	for id := range env.Network.CollectStoppedPeers() {
		ep.FinishedNeighbours[id] = struct{}{}
	}
	if !ep.Finished {
		return ep, nil
	}
	for id := range env.Network.NeighboursDegree() {
		if _, ok := ep.FinishedNeighbours[id]; !ok {
			return ep, nil
		}
	}
	ep.GlobalFinished = true
	env.Network.CollectGossip()
	env.Network.CollectStoppedPeers()
	if err := env.Store.PutGlobalRanks(GlobalRanks(ep.Vector)); err != nil {
		return ep, fmt.Errorf("failed to persist global ranks: %w", err)
	}
	env.Log.Info("epoch complete", "step", ep.Step, "nodes", len(ep.Vector))
	return ep, nil
}
