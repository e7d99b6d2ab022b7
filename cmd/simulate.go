package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"os"
	"text/tabwriter"
	"time"

	"github.com/golemfactory/golem/core"
	"github.com/golemfactory/golem/impl"
	"github.com/golemfactory/golem/state"
	"github.com/golemfactory/golem/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type simNode struct {
	cfg   state.LocalCfg
	net   *impl.MemNetwork
	store *store.MemStore
}

func (n *simNode) trust() *core.Trust {
	return core.NewTrust(&state.Env{
		LocalCfg: n.cfg,
		Store:    n.store,
		Network:  n.net,
		Log:      slog.New(slog.DiscardHandler),
	})
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Runs many nodes in-process over an in-memory network and prints what they learnt",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, _ := cmd.Flags().GetInt("nodes")
		chords, _ := cmd.Flags().GetInt("chords")
		subjects, _ := cmd.Flags().GetInt("subjects")
		loss, _ := cmd.Flags().GetFloat64("loss")
		duration, _ := cmd.Flags().GetDuration("duration")
		seed, _ := cmd.Flags().GetUint64("seed")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if nodes < 2 {
			return fmt.Errorf("need at least 2 nodes, got %d", nodes)
		}
		rng := rand.New(rand.NewPCG(seed, seed))

		ranking := state.DefaultRankingCfg()
		ranking.RoundTime = state.Duration(200 * time.Millisecond)
		ranking.EndRoundTime = state.Duration(100 * time.Millisecond)
		ranking.BreakTime = state.Duration(100 * time.Millisecond)
		ranking.StageTime = state.Duration(5 * time.Second)

		hub := impl.NewMemHub()
		sim := make([]*simNode, nodes)
		for i := range sim {
			cfg := state.DefaultLocalCfg(state.NodeId(fmt.Sprintf("node%d", i)))
			cfg.InspectBind = netip.AddrPort{}
			cfg.Ranking = ranking
			sim[i] = &simNode{cfg: cfg, net: hub.Join(cfg.Id), store: store.NewMemStore()}
		}
		link := func(a, b int) {
			hub.AddLink(sim[a].cfg.Id, sim[b].cfg.Id).WithPacketLoss(loss)
		}
		for i := range sim {
			link(i, (i+1)%nodes)
		}
		for range chords {
			a, b := rng.IntN(nodes), rng.IntN(nodes)
			if a != b {
				link(a, b)
			}
		}

		// every subject gets an honesty level, and about half the nodes have dealt with it
		subjectIds := make([]state.NodeId, subjects)
		for s := range subjectIds {
			subjectIds[s] = state.NodeId(fmt.Sprintf("subject%d", s))
			honesty := rng.Float64()
			for _, n := range sim {
				if rng.IntN(2) == 0 {
					continue
				}
				jobs := 1 + rng.IntN(60)
				for range jobs {
					var err error
					if rng.Float64() < honesty {
						err = n.store.Record(subjectIds[s], state.Computed, state.Positive, 1)
					} else {
						err = n.store.Record(subjectIds[s], state.WrongComputed, state.Negative, 1)
					}
					if err != nil {
						return err
					}
				}
			}
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), duration)
		defer cancel()
		g := errgroup.Group{}
		for _, n := range sim {
			g.Go(func() error {
				return core.Start(n.cfg, level, core.Options{
					Context: ctx,
					Network: n.net,
					Store:   n.store,
					Verbose: verbose,
				})
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tSUBJECT\tLOCAL\tGLOBAL\tWEIGHT\tTRUST")
		for _, n := range sim {
			tr := n.trust()
			for _, subject := range subjectIds {
				local := "-"
				if l, ok, _ := n.store.LocalRank(subject); ok {
					local = fmt.Sprintf("%.3f", ranking.ComputingTrust(l))
				}
				global, weight := "-", "-"
				if gr, ok, _ := n.store.GlobalRank(subject); ok {
					global = fmt.Sprintf("%.3f", gr.ComputingTrust)
					weight = fmt.Sprintf("%.3f", gr.GossipWeightComputing)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.3f\n", n.cfg.Id, subject, local, global, weight, tr.ComputingTrust(subject))
			}
		}
		return w.Flush()
	},
	SilenceUsage: true,
	GroupID:      "golem",
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Int("nodes", 8, "number of nodes")
	simulateCmd.Flags().Int("chords", 4, "random links added on top of the ring")
	simulateCmd.Flags().Int("subjects", 3, "number of rated nodes")
	simulateCmd.Flags().Float64("loss", 0, "packet loss of every link")
	simulateCmd.Flags().Duration("duration", 12*time.Second, "how long to run")
	simulateCmd.Flags().Uint64("seed", 1, "random seed")
	simulateCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}
