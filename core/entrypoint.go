package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/encodeous/tint"
	"github.com/golemfactory/golem/discovery"
	"github.com/golemfactory/golem/impl"
	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/state"
	"github.com/golemfactory/golem/store"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/sync/errgroup"
)

// Options lets callers replace the components Start would otherwise build from the config
type Options struct {
	// Context stops the node when cancelled, in addition to SIGINT and SIGTERM
	Context   context.Context
	Network   state.Network
	Store     state.TrustStore
	Verbose   bool
	InitState **state.State
}

// Bootstrap reads and validates the node config, then runs the node until it is stopped
func Bootstrap(configPath, logPath string, verbose bool) error {
	cfg, err := state.ReadNodeConfig(configPath)
	if err != nil {
		return err
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	if err = state.NodeConfigValidator(cfg); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return Start(*cfg, level, Options{Verbose: verbose})
}

func NewLogger(id state.NodeId, logPath string, level slog.Level) (*slog.Logger, func() error, error) {
	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: string(id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}),
	}
	closer := func() error { return nil }
	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

func openStore(cfg state.LocalCfg, log *slog.Logger) (state.TrustStore, error) {
	if cfg.StorePath == "" {
		log.Info("keeping ranks in memory")
		return store.NewMemStore(), nil
	}
	sql, err := store.OpenSqlStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	log.Info("opened trust store", "path", sql.Path())
	return sql, nil
}

// mergeNeighbours adds discovered peers to the configured neighbours, static entries win
func mergeNeighbours(cfg *state.LocalCfg, peers []state.NeighbourCfg) []state.NeighbourCfg {
	merged := slices.Clone(cfg.Neighbours)
	for _, p := range peers {
		if p.Id == cfg.Id || cfg.GetNeighbour(p.Id) != nil {
			continue
		}
		if slices.ContainsFunc(merged, func(n state.NeighbourCfg) bool { return n.Id == p.Id }) {
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

func Start(cfg state.LocalCfg, logLevel slog.Level, opts Options) error {
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(context.Canceled)

	logger, closeLog, err := NewLogger(cfg.Id, cfg.LogPath, logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	dispatch := make(chan func(s *state.State) error, 128)
	s := state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			LocalCfg:        cfg,
			Log:             logger,
			Store:           opts.Store,
			Network:         opts.Network,
		},
	}
	if opts.InitState != nil {
		*opts.InitState = &s
	}

	if s.Store == nil {
		s.Store, err = openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer s.Store.Close()
	}

	g := errgroup.Group{}
	if s.Network == nil {
		udp, err := impl.ListenUdp(impl.UdpOptions{
			Id:         cfg.Id,
			Bind:       cfg.Bind,
			Neighbours: cfg.Neighbours,
			DedupTTL:   cfg.Ranking.StageTime.Duration(),
			Log:        logger.With("module", "udp"),
		})
		if err != nil {
			return err
		}
		s.Network = udp
		s.Log.Info("gossip transport listening", "addr", udp.LocalAddr())
		g.Go(func() error {
			err := udp.Run(ctx)
			if err != nil {
				s.Cancel(fmt.Errorf("gossip transport failed: %w", err))
			}
			return err
		})
		if cfg.Discovery != nil {
			reg, err := discovery.NewRegistry(cfg.Id, *cfg.Discovery, logger.With("module", "discovery"), opts.Verbose)
			if err != nil {
				s.Cancel(err)
				_ = g.Wait()
				return err
			}
			defer reg.Close()
			g.Go(func() error {
				return runDiscovery(ctx, &s, reg, udp)
			})
		}
	}

	s.Log.Info("init modules")
	err = initModules(&s)
	if err != nil {
		Stop(&s)
		_ = g.Wait()
		return err
	}
	s.Log.Info("init modules complete")

	s.Log.Info("Golem node has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
			return
		}
	}()

	err = MainLoop(&s, dispatch)
	werr := g.Wait()
	if err != nil {
		return err
	}
	return werr
}

func runDiscovery(ctx context.Context, s *state.State, reg *discovery.Registry, udp *impl.UdpNetwork) error {
	if err := reg.Register(ctx); err != nil {
		s.Log.Error("discovery registration failed", "err", err)
		return nil
	}
	err := reg.Watch(ctx, func(peers []state.NeighbourCfg) {
		merged := mergeNeighbours(&s.LocalCfg, peers)
		udp.SetNeighbours(merged)
		s.Log.Info("neighbours updated", "count", len(merged))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.Log.Error("discovery watch ended", "err", err)
	}
	return nil
}

func initModules(s *state.State) error {
	var modules []state.Module
	modules = append(modules, &Trust{})
	modules = append(modules, &Ranking{})
	modules = append(modules, &Inspect{})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			perf.DispatchSeconds.Observe(elapsed.Seconds())
			if elapsed > state.SlowDispatchThreshold {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
