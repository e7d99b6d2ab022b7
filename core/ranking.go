package core

import (
	"maps"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"time"

	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/state"
)

// Ranking drives the gossip engine. All of its state is owned by the main loop.
type Ranking struct {
	env    RankingEnv
	oracle state.RoundOracle
	epoch  Epoch
	pushed map[state.NodeId]state.TrustPair
	phase  Phase
	epochs int
	timer  *time.Timer

	now      func() time.Time
	schedule func(s *state.State, fun func(*state.State) error, delay time.Duration)
}

type RankingStatus struct {
	Phase              string         `json:"phase"`
	Step               int            `json:"step"`
	Finished           bool           `json:"finished"`
	GlobalFinished     bool           `json:"global_finished"`
	FinishedNeighbours []state.NodeId `json:"finished_neighbours"`
	Neighbours         []state.NodeId `json:"neighbours"`
	VectorSize         int            `json:"vector_size"`
	Delta              float64        `json:"delta"`
	Epochs             int            `json:"epochs"`
}

func (r *Ranking) Init(s *state.State) error {
	s.Log.Debug("init ranking")
	r.env = RankingEnv{
		Id:      s.Id,
		Cfg:     &s.Ranking,
		Store:   s.Store,
		Network: s.Network,
		Log:     s.Log.With("module", "ranking"),
		Rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	r.oracle = state.NewRoundOracle(&s.Ranking)
	r.pushed = make(map[state.NodeId]state.TrustPair)
	if r.now == nil {
		r.now = time.Now
	}
	if r.schedule == nil {
		r.schedule = func(s *state.State, fun func(*state.State) error, delay time.Duration) {
			r.timer = s.ScheduleTask(fun, delay)
		}
	}
	r.schedule(s, r.dispatch(PhaseStageInit), 0)
	return nil
}

func (r *Ranking) Cleanup(s *state.State) error {
	if r.timer != nil {
		r.timer.Stop()
	}
	return nil
}

func (r *Ranking) Status() RankingStatus {
	return RankingStatus{
		Phase:              r.phase.String(),
		Step:               r.epoch.Step,
		Finished:           r.epoch.Finished,
		GlobalFinished:     r.epoch.GlobalFinished,
		FinishedNeighbours: slices.Sorted(maps.Keys(r.epoch.FinishedNeighbours)),
		Neighbours:         slices.Sorted(maps.Keys(r.env.Network.NeighboursDegree())),
		VectorSize:         len(r.epoch.Vector),
		Delta:              r.epoch.Delta,
		Epochs:             r.epochs,
	}
}

func (r *Ranking) Epoch() Epoch {
	return r.epoch
}

func (r *Ranking) delay(p Phase) time.Duration {
	now := r.now()
	switch p {
	case PhaseRound:
		return r.oracle.SecToRound(now)
	case PhaseEndRound:
		return r.oracle.SecToEndRound(now)
	case PhaseBreak:
		return r.oracle.SecToBreak(now)
	default:
		return r.oracle.SecToNewStage(now)
	}
}

// dispatch wraps a phase so that it never fails the main loop and always arms its successor
func (r *Ranking) dispatch(p Phase) func(*state.State) error {
	return func(s *state.State) error {
		next := r.run(p)
		r.schedule(s, r.dispatch(next), r.delay(next))
		return nil
	}
}

func (r *Ranking) run(p Phase) (next Phase) {
	next = p.Next(false)
	log := r.env.Log.With("phase", p.String())
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("ranking phase panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	r.phase = p
	perf.SetPhase(string(r.env.Id), p.String())

	DrainOpinions(&r.env)

	var err error
	switch p {
	case PhaseStageInit:
		// a failed stage init must not leave the last stage's vector behind
		r.epoch = NewEpoch()
		r.epoch, err = StageInit(&r.env, r.pushed)
	case PhaseRound:
		r.epoch, err = Round(&r.env, r.epoch)
		perf.SetStep(string(r.env.Id), r.epoch.Step)
	case PhaseEndRound:
		r.epoch, err = EndRound(&r.env, r.epoch)
		perf.Delta.WithLabelValues(string(r.env.Id)).Observe(r.epoch.Delta)
	case PhaseBreak:
		r.epoch, err = Break(&r.env, r.epoch)
		if r.epoch.GlobalFinished {
			r.epochs++
			perf.Epochs.WithLabelValues(string(r.env.Id)).Inc()
		}
	}
	if err != nil {
		log.Error("ranking phase failed", "step", r.epoch.Step, "err", err)
	}
	return p.Next(r.epoch.GlobalFinished)
}
