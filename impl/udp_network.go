package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/gaissmai/bart"
	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/protocol"
	"github.com/golemfactory/golem/state"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

type UdpOptions struct {
	Id         state.NodeId
	Bind       netip.AddrPort
	Neighbours []state.NeighbourCfg
	// DedupTTL is how long envelope ids are remembered, it should cover at least one stage
	DedupTTL time.Duration
	Log      *slog.Logger
}

type udpPeer struct {
	cfg    state.NeighbourCfg
	degree int
}

// UdpNetwork implements state.Network over UDP datagrams exchanged with configured neighbours
type UdpNetwork struct {
	id   state.NodeId
	log  *slog.Logger
	conn *net.UDPConn
	seen *ttlcache.Cache[uuid.UUID, struct{}]

	mu       sync.Mutex
	peers    map[state.NodeId]*udpPeer
	admit    *bart.Table[[]state.NodeId]
	gossip   []state.GossipMessage
	stopped  map[state.NodeId]struct{}
	locRanks []state.NeighbourOpinion
}

func ListenUdp(opts UdpOptions) (*UdpNetwork, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(opts.Bind))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", opts.Bind, err)
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = state.StageTime
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	u := &UdpNetwork{
		id:   opts.Id,
		log:  log,
		conn: conn,
		seen: ttlcache.New[uuid.UUID, struct{}](
			ttlcache.WithTTL[uuid.UUID, struct{}](ttl),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, struct{}](),
		),
		stopped: make(map[state.NodeId]struct{}),
	}
	u.SetNeighbours(opts.Neighbours)
	return u, nil
}

func (u *UdpNetwork) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// SetNeighbours replaces the neighbour set. Degrees learnt from peers that remain are kept.
func (u *UdpNetwork) SetNeighbours(neighbours []state.NeighbourCfg) {
	u.mu.Lock()
	defer u.mu.Unlock()
	peers := make(map[state.NodeId]*udpPeer)
	byPrefix := make(map[netip.Prefix][]state.NodeId)
	for _, n := range neighbours {
		if n.Id == u.id {
			continue
		}
		p := &udpPeer{cfg: n, degree: 1}
		if old, ok := u.peers[n.Id]; ok {
			p.degree = old.degree
		}
		peers[n.Id] = p
		pfx := n.SourcePrefix()
		byPrefix[pfx] = append(byPrefix[pfx], n.Id)
	}
	admit := new(bart.Table[[]state.NodeId])
	for pfx, ids := range byPrefix {
		admit.Insert(pfx, ids)
	}
	u.peers = peers
	u.admit = admit
}

func (u *UdpNetwork) Neighbours() []state.NodeId {
	u.mu.Lock()
	defer u.mu.Unlock()
	res := make([]state.NodeId, 0, len(u.peers))
	for id := range u.peers {
		res = append(res, id)
	}
	slices.Sort(res)
	return res
}

// Run reads datagrams until ctx is cancelled
func (u *UdpNetwork) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		u.conn.Close()
	})
	defer stop()

	buf := make([]byte, 65535)
	for {
		n, src, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		perf.RecvPacketPerSecond.Add(1)
		perf.RecvBytesPerSecond.Add(float64(n))
		u.receive(buf[:n], src)
	}
}

func (u *UdpNetwork) Close() error {
	err := u.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (u *UdpNetwork) admitted(from state.NodeId, src netip.AddrPort) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids, ok := u.admit.Lookup(src.Addr().Unmap())
	return ok && slices.Contains(ids, from)
}

func (u *UdpNetwork) receive(pkt []byte, src netip.AddrPort) {
	env, skipped, err := protocol.Unmarshal(pkt)
	if err != nil {
		perf.Malformed.Inc()
		perf.DroppedPacketsPerMin.Add(1)
		u.log.Debug("dropped malformed envelope", "src", src, "err", err)
		return
	}
	if !u.admitted(env.From, src) {
		perf.DroppedPacketsPerMin.Add(1)
		u.log.Debug("dropped envelope from unknown sender", "src", src, "from", env.From)
		return
	}
	if _, dup := u.seen.GetOrSet(env.Id, struct{}{}); dup {
		return
	}
	for _, s := range skipped {
		perf.Malformed.Inc()
		u.log.Warn("skipped malformed gossip entry", "from", env.From, "err", s)
	}
	perf.CountMessage(env.Kind.String(), false, 1)

	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.peers[env.From]; ok {
		p.degree = max(env.Degree, 1)
	}
	switch env.Kind {
	case protocol.KindGossip:
		if len(env.Entries) > 0 {
			u.gossip = append(u.gossip, env.Entries)
		}
	case protocol.KindStop:
		u.stopped[env.From] = struct{}{}
	case protocol.KindLocRank:
		u.locRanks = append(u.locRanks, state.NeighbourOpinion{
			Neighbour: env.From,
			Subject:   env.LocRank.Subject,
			Trust:     env.LocRank.Trust,
		})
	}
}

func (u *UdpNetwork) envelope(kind protocol.Kind) *protocol.Envelope {
	u.mu.Lock()
	degree := len(u.peers)
	u.mu.Unlock()
	return protocol.NewEnvelope(u.id, degree, kind)
}

func (u *UdpNetwork) endpoint(id state.NodeId) (netip.AddrPort, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.peers[id]
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrNotNeighbour, id)
	}
	return p.cfg.Endpoint, nil
}

func (u *UdpNetwork) send(targets []state.NodeId, chunks [][]byte, kind protocol.Kind) error {
	var errs []error
	for _, target := range targets {
		ep, err := u.endpoint(target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, c := range chunks {
			n, err := u.conn.WriteToUDPAddrPort(c, ep)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to send %s to %s: %w", kind, target, err))
				break
			}
			perf.SentPacketPerSecond.Add(1)
			perf.SentBytesPerSecond.Add(float64(n))
		}
		perf.CountMessage(kind.String(), true, 1)
	}
	return errors.Join(errs...)
}

func (u *UdpNetwork) NeighboursDegree() map[state.NodeId]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	res := make(map[state.NodeId]int, len(u.peers))
	for id, p := range u.peers {
		res[id] = p.degree
	}
	return res
}

func (u *UdpNetwork) SendGossip(msg state.GossipMessage, targets []state.NodeId) error {
	env := u.envelope(protocol.KindGossip)
	env.Entries = msg
	perf.SentGossipPerSecond.Add(float64(len(targets)))
	perf.GossipBatchSize.Add(float64(len(msg)))
	return u.send(targets, env.MarshalChunks(state.SafeMTU), protocol.KindGossip)
}

func (u *UdpNetwork) CollectGossip() []state.GossipMessage {
	u.seen.DeleteExpired()
	u.mu.Lock()
	defer u.mu.Unlock()
	res := u.gossip
	u.gossip = nil
	perf.RecvGossipPerSecond.Add(float64(len(res)))
	return res
}

func (u *UdpNetwork) SendStopGossip() error {
	env := u.envelope(protocol.KindStop)
	return u.send(u.Neighbours(), [][]byte{env.Marshal()}, protocol.KindStop)
}

func (u *UdpNetwork) CollectStoppedPeers() map[state.NodeId]struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	res := u.stopped
	u.stopped = make(map[state.NodeId]struct{})
	return res
}

func (u *UdpNetwork) PushLocalRank(node state.NodeId, trust state.TrustPair) error {
	env := u.envelope(protocol.KindLocRank)
	env.LocRank = &protocol.LocRank{Subject: node, Trust: trust}
	return u.send(u.Neighbours(), [][]byte{env.Marshal()}, protocol.KindLocRank)
}

func (u *UdpNetwork) CollectNeighboursLocRanks() []state.NeighbourOpinion {
	u.mu.Lock()
	defer u.mu.Unlock()
	res := u.locRanks
	u.locRanks = nil
	return res
}
