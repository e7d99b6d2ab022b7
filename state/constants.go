package state

import "time"

const (
	MinTrust     = -1.0
	MaxTrust     = 1.0
	UnknownTrust = 0.0
)

var (
	// trust calculator
	PosPar   = 1.0
	NegPar   = 2.0
	MinOpNum = 50.0

	// neighbour opinions are weighted by NeighbourWeightBase ^ (NeighbourWeightPower * trust)
	NeighbourWeightBase  = 2.0
	NeighbourWeightPower = 2.0

	// gossip protocol
	LocRankPushDelta = 0.1
	MaxSteps         = 10
	Epsilon          = 0.01

	// round oracle
	RoundTime    = time.Second * 10
	EndRoundTime = time.Second * 3
	BreakTime    = time.Second * 5
	StageTime    = time.Minute * 5

	// a dispatch slower than this is logged
	SlowDispatchThreshold = time.Millisecond * 4

	// transport
	SafeMTU            = 1200
	DefaultPort        = uint16(40102)
	DefaultInspectPort = uint16(40103)
	DefaultLeaseTTL    = int64(10)
	DiscoveryPrefix    = "/golem/nodes/"
)
