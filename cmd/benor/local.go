package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/bft-benor/api"
	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
	"github.com/usernamenenad/bft-benor/metrics"
	"github.com/usernamenenad/bft-benor/readiness"
	bfthttp "github.com/usernamenenad/bft-benor/transport/bft-http"
	bftquic "github.com/usernamenenad/bft-benor/transport/bft-quic"
	bfttcp "github.com/usernamenenad/bft-benor/transport/bft-tcp"
)

// meshTransport is a stream transport that has to be told its peers.
type meshTransport interface {
	core.Transport
	Addr() string
	Connect(peers map[core.NodeId]string)
	Close() error
}

// runLocal runs the whole peer set inside this process.
func runLocal(ctx context.Context, config *benor.Config, opts options, logger *slog.Logger) error {
	n := int(config.N)
	registry := readiness.NewRegistry(n)

	transports, cleanup, err := localTransports(opts, n, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	nodes := make([]*benor.BenOr, n)
	for i := range n {
		id := core.NodeId(i)
		nodes[i] = benor.NewBenOr(
			benor.NewNode(id, opts.values[i], opts.faulty[id]),
			config,
			transports[i],
			benor.NewStore(),
			registry,
			logger,
			benor.WithMetrics(metrics.DefaultMetrics),
		)
	}
	defer func() {
		for _, node := range nodes {
			node.Close()
		}
	}()

	for i, node := range nodes {
		if opts.transport == "http" {
			srv := api.NewServer(node, logger)
			if err := srv.Listen(bfthttp.PortOffset(opts.host, opts.basePort)(core.NodeId(i))); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
			defer srv.Shutdown(context.Background())
		}
		if err := registry.SetReady(ctx, core.NodeId(i)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		g.Go(func() error {
			return node.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	began := time.Now()
	var timedOut error
	for i, node := range nodes {
		if opts.faulty[core.NodeId(i)] {
			continue
		}
		select {
		case <-node.Done():
		case <-ctx.Done():
			timedOut = fmt.Errorf("node %d did not decide: %w", i, ctx.Err())
		}
		if timedOut != nil {
			break
		}
	}
	logger.Info("consensus finished", "elapsed", time.Since(began))

	states := make([]benor.NodeState, n)
	for i, node := range nodes {
		states[i] = node.GetState()
	}

	return errors.Join(timedOut, report(os.Stdout, states, opts.faulty))
}

func localTransports(opts options, n int, logger *slog.Logger) ([]core.Transport, func(), error) {
	out := make([]core.Transport, n)
	codec := benor.NewCodec()

	switch opts.transport {
	case "local":
		network := benor.NewNetwork()
		for i := range n {
			out[i] = network.Join(core.NodeId(i))
		}
		return out, func() {}, nil

	case "http":
		addrs := bfthttp.PortOffset(opts.host, opts.basePort)
		for i := range n {
			out[i] = bfthttp.NewHTTPTransport(core.NodeId(i), n, addrs, codec, logger)
		}
		return out, func() {}, nil

	case "tcp", "quic":
		mesh := make([]meshTransport, 0, n)
		cleanup := func() {
			for _, tr := range mesh {
				tr.Close()
			}
		}

		for i := range n {
			addr := fmt.Sprintf("%s:%d", opts.host, opts.transportPort+i)
			var (
				tr  meshTransport
				err error
			)
			if opts.transport == "tcp" {
				tr, err = bfttcp.NewTCPTransport(core.NodeId(i), addr, codec, logger)
			} else {
				var q *bftquic.QUICTransport
				q, err = bftquic.NewQUICTransport(core.NodeId(i), addr, codec, logger)
				if err == nil {
					q.StartHeartbeat(time.Second)
				}
				tr = q
			}
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("node %d: %w", i, err)
			}
			mesh = append(mesh, tr)
			out[i] = tr
		}

		for i, tr := range mesh {
			peers := make(map[core.NodeId]string, n-1)
			for j, other := range mesh {
				if j != i {
					peers[core.NodeId(j)] = other.Addr()
				}
			}
			tr.Connect(peers)
		}
		return out, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", opts.transport)
	}
}
