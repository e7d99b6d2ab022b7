package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/golemfactory/golem/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]state.TrustStore {
	sq, err := OpenSqlStore(filepath.Join(t.TempDir(), "golem.db"))
	require.NoError(t, err)
	mem := NewMemStore()
	t.Cleanup(func() {
		assert.NoError(t, sq.Close())
		assert.NoError(t, mem.Close())
	})
	return map[string]state.TrustStore{
		"mem":    mem,
		"sqlite": sq,
	}
}

func TestStore_RecordAccumulates(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.LocalRank("x")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Record("x", state.Computed, state.Positive, 1))
			require.NoError(t, s.Record("x", state.Computed, state.Positive, 2))
			require.NoError(t, s.Record("x", state.WrongComputed, state.Negative, 1))
			require.NoError(t, s.Record("x", state.Payment, state.Negative, 0.5))
			require.NoError(t, s.Record("y", state.Requested, state.Positive, 1))

			l, ok, err := s.LocalRank("x")
			require.NoError(t, err)
			require.True(t, ok)
			want := state.LocalRank{NodeId: "x", PositiveComputed: 3, WrongComputed: 1, NegativePayment: 0.5}
			if diff := cmp.Diff(want, l); diff != "" {
				t.Errorf("local rank mismatch (-want +got):\n%s", diff)
			}

			all, err := s.LocalRanks()
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, state.NodeId("x"), all[0].NodeId)
			assert.Equal(t, state.NodeId("y"), all[1].NodeId)
			assert.Equal(t, 1.0, all[1].PositiveRequested)
		})
	}
}

func TestStore_RecordRejectsInvalid(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Record("x", state.Computed, state.Positive, 0), state.ErrInvalidAmount)
			assert.ErrorIs(t, s.Record("x", state.Computed, state.Positive, -3), state.ErrInvalidAmount)
			assert.Error(t, s.Record("x", state.Category(99), state.Positive, 1))

			_, ok, err := s.LocalRank("x")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 8
			const perWorker = 25
			wg := sync.WaitGroup{}
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range perWorker {
						assert.NoError(t, s.Record("x", state.Computed, state.Positive, 1))
					}
				}()
			}
			wg.Wait()

			l, ok, err := s.LocalRank("x")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, float64(workers*perWorker), l.PositiveComputed)
		})
	}
}

func TestStore_GlobalRanks(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.GlobalRank("x")
			require.NoError(t, err)
			assert.False(t, ok)

			first := state.GlobalRank{NodeId: "x", ComputingTrust: 0.2, RequestingTrust: -0.1, GossipWeightComputing: 0.5, GossipWeightRequesting: 0.5}
			require.NoError(t, s.PutGlobalRanks([]state.GlobalRank{first}))
			second := state.GlobalRank{NodeId: "x", ComputingTrust: 0.4, RequestingTrust: 0.3, GossipWeightComputing: 0.25, GossipWeightRequesting: 0.75}
			require.NoError(t, s.PutGlobalRanks([]state.GlobalRank{second, {NodeId: "y"}}))

			g, ok, err := s.GlobalRank("x")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second, g)

			_, ok, err = s.GlobalRank("y")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStore_NeighbourRanks(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.PutNeighbourRank(state.NeighbourRank{Observer: "a", Subject: "a", ComputingTrust: 1}), state.ErrSelfOpinion)

			require.NoError(t, s.PutNeighbourRank(state.NeighbourRank{Observer: "a", Subject: "x", ComputingTrust: 0.5}))
			require.NoError(t, s.PutNeighbourRank(state.NeighbourRank{Observer: "a", Subject: "x", ComputingTrust: 0.1, RequestingTrust: -0.2}))

			n, ok, err := s.NeighbourRank("a", "x")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, state.NeighbourRank{Observer: "a", Subject: "x", ComputingTrust: 0.1, RequestingTrust: -0.2}, n)

			_, ok, err = s.NeighbourRank("x", "a")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = s.NeighbourRank("a", "a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSqlStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "golem.db")
	s, err := OpenSqlStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record("x", state.Requested, state.Negative, 2))
	require.NoError(t, s.Close())

	s, err = OpenSqlStore(path)
	require.NoError(t, err)
	defer s.Close()
	l, ok, err := s.LocalRank("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, l.NegativeRequested)
	assert.Equal(t, path, s.Path())
}
