//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/golemfactory/golem/core"
	"github.com/golemfactory/golem/impl"
	"github.com/golemfactory/golem/state"
	"github.com/golemfactory/golem/store"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// FastRanking shrinks the protocol timers so that a stage completes within a couple of seconds
func FastRanking() state.RankingCfg {
	cfg := state.DefaultRankingCfg()
	cfg.RoundTime = state.Duration(100 * time.Millisecond)
	cfg.EndRoundTime = state.Duration(50 * time.Millisecond)
	cfg.BreakTime = state.Duration(50 * time.Millisecond)
	cfg.StageTime = state.Duration(3 * time.Second)
	return cfg
}

// VirtualHarness runs complete nodes with real timers on top of an in-memory hub
type VirtualHarness struct {
	Hub    *impl.MemHub
	Local  []state.LocalCfg
	Stores []*store.MemStore
	States []*state.State

	wg   sync.WaitGroup
	errs chan error
}

func NewHarness() *VirtualHarness {
	return &VirtualHarness{Hub: impl.NewMemHub()}
}

func (v *VirtualHarness) IndexOf(id state.NodeId) int {
	return slices.IndexFunc(v.Local, func(cfg state.LocalCfg) bool {
		return cfg.Id == id
	})
}

func (v *VirtualHarness) NewNode(id state.NodeId) *store.MemStore {
	cfg := state.DefaultLocalCfg(id)
	cfg.InspectBind = netip.AddrPort{}
	cfg.Ranking = FastRanking()
	v.Local = append(v.Local, cfg)
	s := store.NewMemStore()
	v.Stores = append(v.Stores, s)
	v.Hub.Join(id)
	return s
}

func (v *VirtualHarness) state(idx int) *state.State {
	s := v.States[idx]
	if s == nil || !s.Started.Load() {
		return nil
	}
	return s
}

// Trust returns the trust facade of a running node
func (v *VirtualHarness) Trust(id state.NodeId) *core.Trust {
	return core.Get[*core.Trust](v.state(v.IndexOf(id)))
}

func (v *VirtualHarness) Start() chan error {
	v.States = make([]*state.State, len(v.Local))
	v.errs = make(chan error, 128)
	for idx, cfg := range v.Local {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			labels := pprof.Labels("golem node", string(cfg.Id))
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				err := core.Start(cfg, slog.LevelDebug, core.Options{
					Network:   v.Hub.Join(cfg.Id),
					Store:     v.Stores[idx],
					InitState: &v.States[idx],
				})
				if err != nil {
					v.errs <- fmt.Errorf("node %s: %w", cfg.Id, err)
				}
			})
		}()
	}
	// wait for all nodes to start
	for {
		started := true
		for idx := range v.Local {
			if v.state(idx) == nil {
				started = false
				break
			}
		}
		if started {
			return v.errs
		}
		select {
		case <-time.After(time.Millisecond * 50):
		case err := <-v.errs:
			v.errs <- err
			return v.errs
		}
	}
}

func (v *VirtualHarness) Stop() {
	for idx := range v.Local {
		if s := v.state(idx); s != nil {
			s.Cancel(fmt.Errorf("stopping harness"))
		}
	}
	v.wg.Wait()
}
