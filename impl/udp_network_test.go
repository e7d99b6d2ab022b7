package impl

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/golemfactory/golem/protocol"
	"github.com/golemfactory/golem/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type udpPair struct {
	a, b *UdpNetwork
	wg   sync.WaitGroup
}

func startPair(t *testing.T) (*udpPair, func()) {
	loopback := netip.MustParseAddrPort("127.0.0.1:0")
	a, err := ListenUdp(UdpOptions{Id: "a", Bind: loopback})
	require.NoError(t, err)
	b, err := ListenUdp(UdpOptions{Id: "b", Bind: loopback})
	require.NoError(t, err)
	a.SetNeighbours([]state.NeighbourCfg{{Id: "b", Endpoint: b.LocalAddr()}})
	b.SetNeighbours([]state.NeighbourCfg{{Id: "a", Endpoint: a.LocalAddr()}})

	ctx, cancel := context.WithCancel(context.Background())
	p := &udpPair{a: a, b: b}
	for _, n := range []*UdpNetwork{a, b} {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			assert.NoError(t, n.Run(ctx))
		}()
	}
	return p, func() {
		cancel()
		p.wg.Wait()
	}
}

func TestUdpNetwork_Exchange(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, stop := startPair(t)
	defer stop()

	gossip := make(state.GossipMessage, 0, 200)
	for i := range 200 {
		gossip = append(gossip, state.GossipEntry{
			Node: state.NodeId(fmt.Sprintf("node-%03d", i)),
			Vector: state.RankVector{
				Computing:  state.Fraction{Num: 0.1, Den: 0.5},
				Requesting: state.Fraction{Num: -0.1, Den: 0.5},
			},
		})
	}
	require.NoError(t, p.a.SendGossip(gossip, []state.NodeId{"b"}))
	require.NoError(t, p.a.SendStopGossip())
	require.NoError(t, p.a.PushLocalRank("x", state.TrustPair{Computing: 0.3}))

	var received state.GossipMessage
	require.Eventually(t, func() bool {
		for _, m := range p.b.CollectGossip() {
			received = append(received, m...)
		}
		return len(received) == len(gossip)
	}, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, gossip, received)

	require.Eventually(t, func() bool {
		_, ok := p.b.CollectStoppedPeers()["a"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	var ops []state.NeighbourOpinion
	require.Eventually(t, func() bool {
		ops = append(ops, p.b.CollectNeighboursLocRanks()...)
		return len(ops) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, state.NeighbourOpinion{Neighbour: "a", Subject: "x", Trust: state.TrustPair{Computing: 0.3}}, ops[0])

	// a advertises a single neighbour
	assert.Equal(t, map[state.NodeId]int{"a": 1}, p.b.NeighboursDegree())
}

func TestUdpNetwork_DropsDuplicatesAndStrangers(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, stop := startPair(t)
	defer stop()

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(p.b.LocalAddr()))
	require.NoError(t, err)
	defer conn.Close()

	env := protocol.NewEnvelope("a", 4, protocol.KindGossip)
	env.Entries = state.GossipMessage{{Node: "x", Vector: state.RankVector{
		Computing:  state.Fraction{Num: 1, Den: 1},
		Requesting: state.Fraction{Num: 1, Den: 1},
	}}}
	pkt := env.Marshal()
	_, err = conn.Write(pkt)
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	// claims to be a node that is not a neighbour
	stranger := protocol.NewEnvelope("mallory", 1, protocol.KindStop)
	_, err = conn.Write(stranger.Marshal())
	require.NoError(t, err)

	// a later valid envelope marks the point where everything before it was processed
	marker := protocol.NewEnvelope("a", 4, protocol.KindStop)
	_, err = conn.Write(marker.Marshal())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := p.b.CollectStoppedPeers()["a"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Len(t, p.b.CollectGossip(), 1)
	assert.Empty(t, p.b.CollectStoppedPeers())
	assert.Equal(t, 4, p.b.NeighboursDegree()["a"])
}

func TestUdpNetwork_RejectsOutsidePrefix(t *testing.T) {
	defer goleak.VerifyNone(t)
	b, err := ListenUdp(UdpOptions{Id: "b", Bind: netip.MustParseAddrPort("127.0.0.1:0")})
	require.NoError(t, err)
	b.SetNeighbours([]state.NeighbourCfg{{
		Id:       "a",
		Endpoint: netip.MustParseAddrPort("10.1.2.3:40102"),
		Prefix:   netip.MustParsePrefix("10.1.0.0/16"),
	}})
	assert.True(t, b.admitted("a", netip.MustParseAddrPort("10.1.9.9:1")))
	assert.False(t, b.admitted("a", netip.MustParseAddrPort("127.0.0.1:1")))
	assert.False(t, b.admitted("c", netip.MustParseAddrPort("10.1.9.9:1")))

	_, err = b.endpoint("c")
	assert.ErrorIs(t, err, ErrNotNeighbour)
	require.NoError(t, b.Close())
}
