package state

import (
	"fmt"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

// BindValidator checks that s is an ip:port another node can send to
func BindValidator(s string) error {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return err
	}
	if ap.Port() == 0 {
		return fmt.Errorf("%s has no port", s)
	}
	return nil
}

func RankingConfigValidator(cfg *RankingCfg) error {
	durations := []struct {
		name string
		d    Duration
	}{
		{"round_time", cfg.RoundTime},
		{"end_round_time", cfg.EndRoundTime},
		{"break_time", cfg.BreakTime},
		{"stage_time", cfg.StageTime},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("ranking.%s must be positive, got %s", d.name, d.d.Duration())
		}
	}
	if cfg.MaxSteps < 1 {
		return fmt.Errorf("ranking.max_steps must be at least 1")
	}
	if cfg.Epsilon < 0 {
		return fmt.Errorf("ranking.epsilon must not be negative")
	}
	if cfg.LocRankPushDelta < 0 {
		return fmt.Errorf("ranking.loc_rank_push_delta must not be negative")
	}
	if cfg.MinOpNum <= 0 {
		return fmt.Errorf("ranking.min_op_num must be positive")
	}
	if cfg.PosPar < 0 || cfg.NegPar < 0 {
		return fmt.Errorf("ranking.pos_par and ranking.neg_par must not be negative")
	}
	if cfg.NeighbourWeightBase <= 0 {
		return fmt.Errorf("ranking.neighbour_weight_base must be positive")
	}
	return nil
}

func NodeConfigValidator(node *LocalCfg) error {
	err := NameValidator(string(node.Id))
	if err != nil {
		return err
	}
	if !node.Bind.IsValid() {
		return fmt.Errorf("node.Bind is invalid")
	}
	if node.StorePath != "" {
		err = PathValidator(node.StorePath)
		if err != nil {
			return fmt.Errorf("invalid store_path: %w", err)
		}
	}
	seen := make(map[NodeId]struct{})
	for _, neigh := range node.Neighbours {
		err = NameValidator(string(neigh.Id))
		if err != nil {
			return err
		}
		if neigh.Id == node.Id {
			return fmt.Errorf("node %s cannot be its own neighbour", neigh.Id)
		}
		if _, ok := seen[neigh.Id]; ok {
			return fmt.Errorf("duplicate neighbour: %s", neigh.Id)
		}
		seen[neigh.Id] = struct{}{}
		if !neigh.Endpoint.IsValid() {
			return fmt.Errorf("neighbour %s has an invalid endpoint", neigh.Id)
		}
		if neigh.Prefix.IsValid() && !neigh.Prefix.Contains(neigh.Endpoint.Addr().Unmap()) {
			return fmt.Errorf("neighbour %s endpoint %s is outside prefix %s", neigh.Id, neigh.Endpoint, neigh.Prefix)
		}
	}
	if node.Discovery != nil {
		if len(node.Discovery.Endpoints) == 0 {
			return fmt.Errorf("discovery requires at least one etcd endpoint")
		}
		if err = BindValidator(node.Discovery.Advertise.String()); err != nil {
			return fmt.Errorf("discovery.advertise is invalid: %w", err)
		}
	}
	return RankingConfigValidator(&node.Ranking)
}
