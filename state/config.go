package state

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

var (
	NodeConfigPath = "node.yaml"
)

// Duration is a time.Duration written as "10s" in config files
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// RankingCfg holds every tunable of the trust calculator and the gossip protocol
type RankingCfg struct {
	RoundTime            Duration `yaml:"round_time"`
	EndRoundTime         Duration `yaml:"end_round_time"`
	BreakTime            Duration `yaml:"break_time"`
	StageTime            Duration `yaml:"stage_time"`
	MaxSteps             int      `yaml:"max_steps"`
	Epsilon              float64  `yaml:"epsilon"`
	LocRankPushDelta     float64  `yaml:"loc_rank_push_delta"`
	PosPar               float64  `yaml:"pos_par"`
	NegPar               float64  `yaml:"neg_par"`
	MinOpNum             float64  `yaml:"min_op_num"`
	NeighbourWeightBase  float64  `yaml:"neighbour_weight_base"`
	NeighbourWeightPower float64  `yaml:"neighbour_weight_power"`
}

func DefaultRankingCfg() RankingCfg {
	return RankingCfg{
		RoundTime:            Duration(RoundTime),
		EndRoundTime:         Duration(EndRoundTime),
		BreakTime:            Duration(BreakTime),
		StageTime:            Duration(StageTime),
		MaxSteps:             MaxSteps,
		Epsilon:              Epsilon,
		LocRankPushDelta:     LocRankPushDelta,
		PosPar:               PosPar,
		NegPar:               NegPar,
		MinOpNum:             MinOpNum,
		NeighbourWeightBase:  NeighbourWeightBase,
		NeighbourWeightPower: NeighbourWeightPower,
	}
}

type NeighbourCfg struct {
	Id       NodeId
	Endpoint netip.AddrPort
	// Prefix is the source range datagrams from this neighbour may arrive from.
	// Defaults to the endpoint's host prefix.
	Prefix netip.Prefix `yaml:",omitempty"`
}

func (n NeighbourCfg) SourcePrefix() netip.Prefix {
	if n.Prefix.IsValid() {
		return n.Prefix.Masked()
	}
	addr := n.Endpoint.Addr().Unmap()
	return netip.PrefixFrom(addr, addr.BitLen())
}

type DiscoveryCfg struct {
	Endpoints []string
	Prefix    string `yaml:",omitempty"`
	LeaseTTL  int64  `yaml:"lease_ttl,omitempty"`
	// Advertise is the endpoint other peers should use to reach this node
	Advertise netip.AddrPort
}

// LocalCfg represents node-level configuration
type LocalCfg struct {
	Id          NodeId
	Bind        netip.AddrPort
	InspectBind netip.AddrPort `yaml:"inspect_bind,omitempty"` // http endpoint for trust queries and metrics
	StorePath   string         `yaml:"store_path,omitempty"`   // sqlite database, in-memory stores if empty
	LogPath     string         `yaml:"log_path,omitempty"`     // if not empty, golem will also write logs to this file
	Neighbours  []NeighbourCfg `yaml:",omitempty"`
	Discovery   *DiscoveryCfg  `yaml:",omitempty"`
	Ranking     RankingCfg
}

func DefaultLocalCfg(id NodeId) LocalCfg {
	return LocalCfg{
		Id:          id,
		Bind:        netip.AddrPortFrom(netip.IPv4Unspecified(), DefaultPort),
		InspectBind: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), DefaultInspectPort),
		Ranking:     DefaultRankingCfg(),
	}
}

func (c *LocalCfg) GetNeighbour(id NodeId) *NeighbourCfg {
	for i := range c.Neighbours {
		if c.Neighbours[i].Id == id {
			return &c.Neighbours[i]
		}
	}
	return nil
}

// ParseNodeConfig decodes a node config, filling unset ranking fields with defaults
func ParseNodeConfig(data []byte) (*LocalCfg, error) {
	cfg := LocalCfg{Ranking: DefaultRankingCfg()}
	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ReadNodeConfig(path string) (*LocalCfg, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseNodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
