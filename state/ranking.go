package state

import (
	"fmt"
	"math"
)

type NodeId string

// LocalRank holds first-hand interaction counters about one node
type LocalRank struct {
	NodeId            NodeId  `json:"node_id"`
	PositiveComputed  float64 `json:"positive_computed"`
	NegativeComputed  float64 `json:"negative_computed"`
	WrongComputed     float64 `json:"wrong_computed"`
	PositiveRequested float64 `json:"positive_requested"`
	NegativeRequested float64 `json:"negative_requested"`
	PositivePayment   float64 `json:"positive_payment"`
	NegativePayment   float64 `json:"negative_payment"`
	PositiveResource  float64 `json:"positive_resource"`
	NegativeResource  float64 `json:"negative_resource"`
}

// ComputingCounters returns the (positive, negative) observations of a node acting as a provider
func (l LocalRank) ComputingCounters() (float64, float64) {
	return l.PositiveComputed, l.NegativeComputed + l.WrongComputed
}

// RequestingCounters returns the (positive, negative) observations of a node acting as a requestor
func (l LocalRank) RequestingCounters() (float64, float64) {
	return l.PositiveRequested + l.PositivePayment, l.NegativeRequested + l.NegativePayment
}

// GlobalRank is the gossip-converged view of a node, written once per epoch
type GlobalRank struct {
	NodeId                 NodeId  `json:"node_id"`
	ComputingTrust         float64 `json:"computing_trust_value"`
	RequestingTrust        float64 `json:"requesting_trust_value"`
	GossipWeightComputing  float64 `json:"gossip_weight_computing"`
	GossipWeightRequesting float64 `json:"gossip_weight_requesting"`
}

// NeighbourRank is the opinion Observer pushed to us about Subject
type NeighbourRank struct {
	Observer        NodeId
	Subject         NodeId
	ComputingTrust  float64
	RequestingTrust float64
}

type TrustPair struct {
	Computing  float64 `json:"computing"`
	Requesting float64 `json:"requesting"`
}

func (t TrustPair) String() string {
	return fmt.Sprintf("(comp: %.4f, req: %.4f)", t.Computing, t.Requesting)
}

// Fraction is a push-sum (numerator, denominator) pair
type Fraction struct {
	Num float64
	Den float64
}

func (f Fraction) Add(o Fraction) Fraction {
	return Fraction{f.Num + o.Num, f.Den + o.Den}
}

func (f Fraction) Scale(c float64) Fraction {
	return Fraction{f.Num * c, f.Den * c}
}

func (f Fraction) Valid() bool {
	return !math.IsNaN(f.Num) && !math.IsInf(f.Num, 0) &&
		!math.IsNaN(f.Den) && !math.IsInf(f.Den, 0) && f.Den >= 0
}

type RankVector struct {
	Computing  Fraction
	Requesting Fraction
}

func (v RankVector) Add(o RankVector) RankVector {
	return RankVector{v.Computing.Add(o.Computing), v.Requesting.Add(o.Requesting)}
}

func (v RankVector) Scale(c float64) RankVector {
	return RankVector{v.Computing.Scale(c), v.Requesting.Scale(c)}
}

func (v RankVector) Ratios() TrustPair {
	return TrustPair{Ratio(v.Computing), Ratio(v.Requesting)}
}

func (v RankVector) Valid() bool {
	return v.Computing.Valid() && v.Requesting.Valid()
}

type GossipEntry struct {
	Node   NodeId
	Vector RankVector
}

// GossipMessage is an ordered batch of working vector entries
type GossipMessage []GossipEntry

// NeighbourOpinion is a local rank pushed by a neighbour about Subject
type NeighbourOpinion struct {
	Neighbour NodeId
	Subject   NodeId
	Trust     TrustPair
}
