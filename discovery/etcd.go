package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/golemfactory/golem/state"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Registry advertises this node in etcd and tracks the other registered nodes
type Registry struct {
	cli    *clientv3.Client
	self   state.NodeId
	prefix string
	cfg    state.DiscoveryCfg
	log    *slog.Logger
	lease  clientv3.LeaseID
}

func NewRegistry(self state.NodeId, cfg state.DiscoveryCfg, log *slog.Logger, verbose bool) (*Registry, error) {
	zl := zap.NewNop()
	if verbose {
		var err error
		zl, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = state.DiscoveryPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Registry{
		cli:    cli,
		self:   self,
		prefix: prefix,
		cfg:    cfg,
		log:    log,
	}, nil
}

func (r *Registry) key(id state.NodeId) string {
	return r.prefix + string(id)
}

// Register writes our advertised endpoint under a lease and keeps the lease alive until ctx ends
func (r *Registry) Register(ctx context.Context) error {
	ttl := r.cfg.LeaseTTL
	if ttl <= 0 {
		ttl = state.DefaultLeaseTTL
	}
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	_, err = r.cli.Put(ctx, r.key(r.self), r.cfg.Advertise.String(), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", r.self, err)
	}
	ch, err := r.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}
	r.lease = lease.ID
	go func() {
		for range ch {
		}
		r.log.Debug("etcd lease keep-alive ended", "lease", lease.ID)
	}()
	r.log.Info("registered with etcd", "key", r.key(r.self), "advertise", r.cfg.Advertise)
	return nil
}

// Peers lists every registered node except ourselves, along with the store revision it was read at
func (r *Registry) Peers(ctx context.Context) ([]state.NeighbourCfg, int64, error) {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list peers: %w", err)
	}
	peers := parsePeers(r.prefix, r.self, resp.Kvs, r.log)
	return sortedPeers(peers), resp.Header.Revision, nil
}

// Watch calls fn with the full peer set initially and whenever it changes. It returns when ctx ends.
func (r *Registry) Watch(ctx context.Context, fn func([]state.NeighbourCfg)) error {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list peers: %w", err)
	}
	peers := parsePeers(r.prefix, r.self, resp.Kvs, r.log)
	fn(sortedPeers(peers))

	wch := r.cli.Watch(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	for wr := range wch {
		if err := wr.Err(); err != nil {
			return fmt.Errorf("peer watch failed: %w", err)
		}
		if applyEvents(r.prefix, r.self, peers, wr.Events, r.log) {
			fn(sortedPeers(peers))
		}
	}
	return ctx.Err()
}

func (r *Registry) Close() error {
	if r.lease != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := r.cli.Revoke(ctx, r.lease)
		cancel()
		if err != nil {
			r.log.Warn("failed to revoke etcd lease", "err", err)
		}
	}
	return r.cli.Close()
}

func parsePeer(prefix string, self state.NodeId, kv *mvccpb.KeyValue) (state.NeighbourCfg, bool, error) {
	id := state.NodeId(strings.TrimPrefix(string(kv.Key), prefix))
	if id == self || id == "" || strings.Contains(string(id), "/") {
		return state.NeighbourCfg{}, false, nil
	}
	ep, err := netip.ParseAddrPort(string(kv.Value))
	if err != nil {
		return state.NeighbourCfg{}, false, fmt.Errorf("bad endpoint for %s: %w", id, err)
	}
	return state.NeighbourCfg{Id: id, Endpoint: ep}, true, nil
}

func parsePeers(prefix string, self state.NodeId, kvs []*mvccpb.KeyValue, log *slog.Logger) map[state.NodeId]state.NeighbourCfg {
	peers := make(map[state.NodeId]state.NeighbourCfg)
	for _, kv := range kvs {
		p, ok, err := parsePeer(prefix, self, kv)
		if err != nil {
			log.Warn("ignoring peer registration", "key", string(kv.Key), "err", err)
			continue
		}
		if ok {
			peers[p.Id] = p
		}
	}
	return peers
}

// applyEvents updates peers in place and reports whether anything changed
func applyEvents(prefix string, self state.NodeId, peers map[state.NodeId]state.NeighbourCfg, events []*clientv3.Event, log *slog.Logger) bool {
	changed := false
	for _, ev := range events {
		switch ev.Type {
		case clientv3.EventTypePut:
			p, ok, err := parsePeer(prefix, self, ev.Kv)
			if err != nil {
				log.Warn("ignoring peer registration", "key", string(ev.Kv.Key), "err", err)
				continue
			}
			if ok && peers[p.Id] != p {
				peers[p.Id] = p
				changed = true
			}
		case clientv3.EventTypeDelete:
			id := state.NodeId(strings.TrimPrefix(string(ev.Kv.Key), prefix))
			if _, ok := peers[id]; ok {
				delete(peers, id)
				changed = true
			}
		}
	}
	return changed
}

func sortedPeers(peers map[state.NodeId]state.NeighbourCfg) []state.NeighbourCfg {
	res := slices.Collect(maps.Values(peers))
	slices.SortFunc(res, func(a, b state.NeighbourCfg) int {
		return strings.Compare(string(a.Id), string(b.Id))
	})
	return res
}
