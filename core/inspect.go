package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/golemfactory/golem/perf"
	"github.com/golemfactory/golem/state"
)

type TrustReport struct {
	Node       state.NodeId      `json:"node"`
	Computing  float64           `json:"computing"`
	Requesting float64           `json:"requesting"`
	Local      *state.LocalRank  `json:"local,omitempty"`
	LocalTrust *state.TrustPair  `json:"local_trust,omitempty"`
	Global     *state.GlobalRank `json:"global,omitempty"`
}

func (t *Trust) Report(node state.NodeId) (TrustReport, error) {
	r := TrustReport{
		Node:       node,
		Computing:  t.ComputingTrust(node),
		Requesting: t.RequestingTrust(node),
	}
	l, ok, err := t.store.LocalRank(node)
	if err != nil {
		return r, err
	}
	if ok {
		lt := t.cfg.LocalTrust(l)
		r.Local, r.LocalTrust = &l, &lt
	}
	g, ok, err := t.store.GlobalRank(node)
	if err != nil {
		return r, err
	}
	if ok {
		r.Global = &g
	}
	return r, nil
}

// Inspect serves the node's trust state and the interaction API over HTTP
type Inspect struct {
	srv *http.Server
}

func (i *Inspect) Init(s *state.State) error {
	if !s.InspectBind.IsValid() {
		return nil
	}
	ln, err := net.Listen("tcp", s.InspectBind.String())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.InspectBind, err)
	}
	i.srv = &http.Server{
		Handler:           NewInspectHandler(s.Env, Get[*Trust](s)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.Log.Info("inspect endpoint listening", "addr", ln.Addr().String())
	go func() {
		err := i.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("inspect endpoint failed", "err", err)
		}
	}()
	return nil
}

func (i *Inspect) Cleanup(s *state.State) error {
	if i.srv == nil {
		return nil
	}
	return i.srv.Close()
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, map[string]string{"error": err.Error()})
}

func NewInspectHandler(env *state.Env, trust *Trust) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]any{"id": env.Id, "started": env.Started.Load()})
	})
	mux.HandleFunc("GET /trust/{node}", func(w http.ResponseWriter, r *http.Request) {
		report, err := trust.Report(state.NodeId(r.PathValue("node")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJson(w, http.StatusOK, report)
	})
	mux.HandleFunc("POST /trust/{node}/{category}/{direction}", func(w http.ResponseWriter, r *http.Request) {
		node := state.NodeId(r.PathValue("node"))
		cat, err := state.ParseCategory(r.PathValue("category"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sign, err := state.ParseSign(r.PathValue("direction"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount := 1.0
		if v := r.URL.Query().Get("amount"); v != "" {
			amount, err = strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("bad amount %q: %w", v, err))
				return
			}
		}
		if err = trust.Record(node, cat, sign, amount); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, state.ErrInvalidAmount) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		report, err := trust.Report(node)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJson(w, http.StatusOK, report)
	})
	mux.HandleFunc("GET /ranking", func(w http.ResponseWriter, r *http.Request) {
		res, err := env.DispatchWait(func(s *state.State) (any, error) {
			return Get[*Ranking](s).Status(), nil
		})
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJson(w, http.StatusOK, res)
	})
	mux.Handle("GET /metrics", perf.MetricsHandler())
	mux.Handle("GET /debug/metrics", perf.Handler())
	return mux
}
