package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/usernamenenad/bft-benor/api"
	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
	"github.com/usernamenenad/bft-benor/metrics"
	"github.com/usernamenenad/bft-benor/readiness"
	bfthttp "github.com/usernamenenad/bft-benor/transport/bft-http"
)

const registerRetryInterval = 250 * time.Millisecond

// runNode runs a single node process that talks HTTP to its peers and registers
// with the driver's readiness registry.
func runNode(ctx context.Context, config *benor.Config, opts options, logger *slog.Logger) error {
	if opts.id < 0 || uint64(opts.id) >= config.N {
		return fmt.Errorf("-id %d outside peer set of %d", opts.id, config.N)
	}

	id := core.NodeId(opts.id)
	addrs := bfthttp.PortOffset(opts.host, opts.basePort)
	registry := readiness.NewClient(opts.driverAddr)

	tr := bfthttp.NewHTTPTransport(id, int(config.N), addrs, benor.NewCodec(), logger)
	node := benor.NewBenOr(
		benor.NewNode(id, opts.values[id], opts.faulty[id]),
		config,
		tr,
		benor.NewStore(),
		registry,
		logger,
		benor.WithMetrics(metrics.DefaultMetrics),
	)
	defer node.Close()

	srv := api.NewServer(node, logger)
	if err := srv.Listen(addrs(id)); err != nil {
		return err
	}
	defer srv.Shutdown(context.Background())

	ticker := time.NewTicker(registerRetryInterval)
	defer ticker.Stop()
	for {
		err := registry.SetReady(ctx, id)
		if err == nil {
			break
		}
		logger.Warn("registering with driver failed", "driver", opts.driverAddr, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	logger.Info("registered with driver", "driver", opts.driverAddr)

	<-ctx.Done()
	return nil
}
