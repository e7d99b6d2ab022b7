package state

// TrustStore persists local, global and neighbour ranks. Implementations must be safe for
// concurrent use, and every mutation of a single key must be an atomic upsert.
type TrustStore interface {
	// Record adds amount to the LocalRank counter selected by (cat, sign), creating the row if needed
	Record(node NodeId, cat Category, sign Sign, amount float64) error
	LocalRank(node NodeId) (LocalRank, bool, error)
	LocalRanks() ([]LocalRank, error)

	GlobalRank(node NodeId) (GlobalRank, bool, error)
	// PutGlobalRanks overwrites the global rank of every given node
	PutGlobalRanks(ranks []GlobalRank) error

	NeighbourRank(observer, subject NodeId) (NeighbourRank, bool, error)
	// PutNeighbourRank overwrites an opinion, returning ErrSelfOpinion when Observer == Subject
	PutNeighbourRank(rank NeighbourRank) error

	Close() error
}
