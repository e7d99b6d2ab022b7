package state

// Network is the peer transport seen by the gossip engine. Sends are best-effort;
// collect calls drain what has arrived so far and never block.
type Network interface {
	NeighboursDegree() map[NodeId]int
	SendGossip(msg GossipMessage, targets []NodeId) error
	CollectGossip() []GossipMessage
	SendStopGossip() error
	CollectStoppedPeers() map[NodeId]struct{}
	PushLocalRank(node NodeId, trust TrustPair) error
	CollectNeighboursLocRanks() []NeighbourOpinion
}
