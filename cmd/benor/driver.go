package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/bft-benor/api"
	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
	"github.com/usernamenenad/bft-benor/readiness"
	bfthttp "github.com/usernamenenad/bft-benor/transport/bft-http"
)

const statePollInterval = 200 * time.Millisecond

// runDriver hosts the readiness registry, starts every node once all of them
// registered and collects their final states.
func runDriver(ctx context.Context, config *benor.Config, opts options, logger *slog.Logger) error {
	n := int(config.N)
	registry := readiness.NewRegistry(n)

	srv := &http.Server{Addr: opts.driverAddr, Handler: registry.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("registry stopped", "error", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	logger.Info("driver up", "addr", opts.driverAddr, "expecting", n)
	if err := readiness.Wait(ctx, registry, benor.DefaultPollInterval); err != nil {
		return fmt.Errorf("waiting for nodes: %w", err)
	}
	logger.Info("all nodes registered")

	addrs := bfthttp.PortOffset(opts.host, opts.basePort)
	clients := make([]*api.Client, n)
	for i := range n {
		clients[i] = api.NewClient(addrs(core.NodeId(i)))
	}

	faulty := make(map[core.NodeId]bool)
	for i, c := range clients {
		st, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("status of node %d: %w", i, err)
		}
		if st == benor.StatusFaulty {
			faulty[core.NodeId(i)] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clients {
		g.Go(func() error {
			if err := c.Start(gctx); err != nil {
				return fmt.Errorf("start node %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	states, err := pollStates(ctx, clients, faulty)

	for i, c := range clients {
		if err := c.Stop(context.Background()); err != nil {
			logger.Warn("stop failed", "node", i, "error", err)
		}
	}

	if err != nil {
		return err
	}
	return report(os.Stdout, states, faulty)
}

// pollStates queries every node until all honest nodes report decided.
func pollStates(ctx context.Context, clients []*api.Client, faulty map[core.NodeId]bool) ([]benor.NodeState, error) {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	states := make([]benor.NodeState, len(clients))
	for {
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range clients {
			g.Go(func() error {
				st, err := c.GetState(gctx)
				if err != nil {
					return fmt.Errorf("state of node %d: %w", i, err)
				}
				states[i] = st
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if allDecided(states, faulty) {
			return states, nil
		}

		select {
		case <-ctx.Done():
			return states, fmt.Errorf("honest nodes did not decide: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func allDecided(states []benor.NodeState, faulty map[core.NodeId]bool) bool {
	for i, st := range states {
		if faulty[core.NodeId(i)] {
			continue
		}
		if st.Decided == nil || !*st.Decided {
			return false
		}
	}
	return true
}
