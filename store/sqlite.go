package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golemfactory/golem/state"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_rank (
	node_id TEXT PRIMARY KEY,
	positive_computed REAL NOT NULL DEFAULT 0,
	negative_computed REAL NOT NULL DEFAULT 0,
	wrong_computed REAL NOT NULL DEFAULT 0,
	positive_requested REAL NOT NULL DEFAULT 0,
	negative_requested REAL NOT NULL DEFAULT 0,
	positive_payment REAL NOT NULL DEFAULT 0,
	negative_payment REAL NOT NULL DEFAULT 0,
	positive_resource REAL NOT NULL DEFAULT 0,
	negative_resource REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS global_rank (
	node_id TEXT PRIMARY KEY,
	computing_trust_value REAL NOT NULL,
	requesting_trust_value REAL NOT NULL,
	gossip_weight_computing REAL NOT NULL,
	gossip_weight_requesting REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS neighbour_rank (
	observer_node_id TEXT NOT NULL,
	subject_node_id TEXT NOT NULL,
	computing_trust_value REAL NOT NULL,
	requesting_trust_value REAL NOT NULL,
	PRIMARY KEY (observer_node_id, subject_node_id),
	CHECK (observer_node_id <> subject_node_id)
);
`

const localColumns = `node_id, positive_computed, negative_computed, wrong_computed,
	positive_requested, negative_requested, positive_payment, negative_payment,
	positive_resource, negative_resource`

// SqlStore persists ranks in a SQLite database. Every mutation is a single upsert statement.
type SqlStore struct {
	db   *sql.DB
	path string
}

func OpenSqlStore(path string) (*SqlStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// sqlite serialises writers anyway, a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SqlStore{db: db, path: path}, nil
}

func (s *SqlStore) Path() string {
	return s.path
}

func (s *SqlStore) Close() error {
	return s.db.Close()
}

func (s *SqlStore) Record(node state.NodeId, cat state.Category, sign state.Sign, amount float64) error {
	counter, err := state.CounterFor(cat, sign)
	if err != nil {
		return err
	}
	if err = state.ValidateAmount(amount); err != nil {
		return err
	}
	col := counter.Column()
	query := fmt.Sprintf(`INSERT INTO local_rank (node_id, %[1]s) VALUES (?, ?)
		ON CONFLICT (node_id) DO UPDATE SET %[1]s = %[1]s + excluded.%[1]s`, col)
	if _, err = s.db.Exec(query, string(node), amount); err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", col, node, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocal(row rowScanner) (state.LocalRank, error) {
	var l state.LocalRank
	var id string
	err := row.Scan(&id,
		&l.PositiveComputed, &l.NegativeComputed, &l.WrongComputed,
		&l.PositiveRequested, &l.NegativeRequested,
		&l.PositivePayment, &l.NegativePayment,
		&l.PositiveResource, &l.NegativeResource)
	l.NodeId = state.NodeId(id)
	return l, err
}

func (s *SqlStore) LocalRank(node state.NodeId) (state.LocalRank, bool, error) {
	row := s.db.QueryRow(`SELECT `+localColumns+` FROM local_rank WHERE node_id = ?`, string(node))
	l, err := scanLocal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return state.LocalRank{}, false, nil
	}
	if err != nil {
		return state.LocalRank{}, false, err
	}
	return l, true, nil
}

func (s *SqlStore) LocalRanks() ([]state.LocalRank, error) {
	rows, err := s.db.Query(`SELECT ` + localColumns + ` FROM local_rank ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ranks := make([]state.LocalRank, 0)
	for rows.Next() {
		l, err := scanLocal(rows)
		if err != nil {
			return nil, err
		}
		ranks = append(ranks, l)
	}
	return ranks, rows.Err()
}

func (s *SqlStore) GlobalRank(node state.NodeId) (state.GlobalRank, bool, error) {
	g := state.GlobalRank{NodeId: node}
	err := s.db.QueryRow(`SELECT computing_trust_value, requesting_trust_value,
		gossip_weight_computing, gossip_weight_requesting FROM global_rank WHERE node_id = ?`, string(node)).
		Scan(&g.ComputingTrust, &g.RequestingTrust, &g.GossipWeightComputing, &g.GossipWeightRequesting)
	if errors.Is(err, sql.ErrNoRows) {
		return state.GlobalRank{}, false, nil
	}
	if err != nil {
		return state.GlobalRank{}, false, err
	}
	return g, true, nil
}

func (s *SqlStore) PutGlobalRanks(ranks []state.GlobalRank) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO global_rank (node_id, computing_trust_value, requesting_trust_value,
		gossip_weight_computing, gossip_weight_requesting) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (node_id) DO UPDATE SET
			computing_trust_value = excluded.computing_trust_value,
			requesting_trust_value = excluded.requesting_trust_value,
			gossip_weight_computing = excluded.gossip_weight_computing,
			gossip_weight_requesting = excluded.gossip_weight_requesting`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, g := range ranks {
		_, err = stmt.Exec(string(g.NodeId), g.ComputingTrust, g.RequestingTrust, g.GossipWeightComputing, g.GossipWeightRequesting)
		if err != nil {
			return fmt.Errorf("failed to store global rank of %s: %w", g.NodeId, err)
		}
	}
	return tx.Commit()
}

func (s *SqlStore) NeighbourRank(observer, subject state.NodeId) (state.NeighbourRank, bool, error) {
	n := state.NeighbourRank{Observer: observer, Subject: subject}
	err := s.db.QueryRow(`SELECT computing_trust_value, requesting_trust_value FROM neighbour_rank
		WHERE observer_node_id = ? AND subject_node_id = ?`, string(observer), string(subject)).
		Scan(&n.ComputingTrust, &n.RequestingTrust)
	if errors.Is(err, sql.ErrNoRows) {
		return state.NeighbourRank{}, false, nil
	}
	if err != nil {
		return state.NeighbourRank{}, false, err
	}
	return n, true, nil
}

func (s *SqlStore) PutNeighbourRank(rank state.NeighbourRank) error {
	if rank.Observer == rank.Subject {
		return state.ErrSelfOpinion
	}
	_, err := s.db.Exec(`INSERT INTO neighbour_rank (observer_node_id, subject_node_id,
		computing_trust_value, requesting_trust_value) VALUES (?, ?, ?, ?)
		ON CONFLICT (observer_node_id, subject_node_id) DO UPDATE SET
			computing_trust_value = excluded.computing_trust_value,
			requesting_trust_value = excluded.requesting_trust_value`,
		string(rank.Observer), string(rank.Subject), rank.ComputingTrust, rank.RequestingTrust)
	return err
}
