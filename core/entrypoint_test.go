package core

import (
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/golemfactory/golem/state"
	"github.com/golemfactory/golem/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNeighbours(t *testing.T) {
	cfg := state.DefaultLocalCfg("self")
	cfg.Neighbours = []state.NeighbourCfg{
		{Id: "a", Endpoint: netip.MustParseAddrPort("10.0.0.1:40102")},
	}
	peers := []state.NeighbourCfg{
		{Id: "a", Endpoint: netip.MustParseAddrPort("10.9.9.9:40102")},
		{Id: "b", Endpoint: netip.MustParseAddrPort("10.0.0.2:40102")},
		{Id: "b", Endpoint: netip.MustParseAddrPort("10.0.0.3:40102")},
		{Id: "self", Endpoint: netip.MustParseAddrPort("10.0.0.4:40102")},
	}
	merged := mergeNeighbours(&cfg, peers)
	require.Len(t, merged, 2)
	assert.Equal(t, cfg.Neighbours[0], merged[0])
	assert.Equal(t, peers[1], merged[1])
	// the configured list is left alone
	assert.Len(t, cfg.Neighbours, 1)
}

func TestOpenStore(t *testing.T) {
	cfg := state.DefaultLocalCfg("self")
	s, err := openStore(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &store.MemStore{}, s)
	require.NoError(t, s.Close())

	cfg.StorePath = filepath.Join(t.TempDir(), "golem.db")
	s, err = openStore(cfg, testLogger())
	require.NoError(t, err)
	defer s.Close()
	sql, ok := s.(*store.SqlStore)
	require.True(t, ok)
	assert.Equal(t, cfg.StorePath, sql.Path())
}
