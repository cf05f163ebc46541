package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
)

type options struct {
	n, f          uint64
	values        []benor.Value
	faulty        map[core.NodeId]bool
	transport     string
	host          string
	basePort      int
	transportPort int
	driverAddr    string
	id            int
	timeout       time.Duration
}

func main() {
	role := flag.String("role", "local", "role: local | node | driver")
	n := flag.Uint64("n", 4, "number of nodes")
	f := flag.Uint64("f", 1, "fault bound")
	values := flag.String("values", "1", "initial values, comma separated (one per node, or one for all)")
	faulty := flag.String("faulty", "", "comma separated ids of faulty nodes")
	transport := flag.String("transport", "local", "local role transport: local | http | tcp | quic")
	host := flag.String("host", "127.0.0.1", "host of every node")
	basePort := flag.Int("base-port", 3000, "control surface port of node 0; node i uses base-port+i")
	transportPort := flag.Int("transport-port", 4000, "tcp/quic port of node 0; node i uses transport-port+i")
	driverAddr := flag.String("driver", "127.0.0.1:2999", "readiness registry address (driver listens, nodes register)")
	id := flag.Int("id", 0, "node id (node role)")
	timeout := flag.Duration("timeout", 30*time.Second, "time allowed for every honest node to decide")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")

	flag.Parse()

	logger := newLogger(*logLevel)

	opts, err := parseOptions(*n, *f, *values, *faulty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts.transport = *transport
	opts.host = *host
	opts.basePort = *basePort
	opts.transportPort = *transportPort
	opts.driverAddr = *driverAddr
	opts.id = *id
	opts.timeout = *timeout

	config, err := benor.NewConfig(opts.n, opts.f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *role {
	case "local":
		err = runLocal(ctx, config, opts, logger)
	case "node":
		err = runNode(ctx, config, opts, logger)
	case "driver":
		err = runDriver(ctx, config, opts, logger)
	default:
		err = fmt.Errorf("unknown role %q", *role)
	}

	if err != nil {
		logger.Error("benor failed", "role", *role, "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func parseOptions(n, f uint64, values, faulty string) (options, error) {
	opts := options{n: n, f: f, faulty: make(map[core.NodeId]bool)}

	parts := strings.Split(values, ",")
	if len(parts) != 1 && uint64(len(parts)) != n {
		return opts, fmt.Errorf("-values: want 1 or %d values, got %d", n, len(parts))
	}
	for i := uint64(0); i < n; i++ {
		p := parts[0]
		if len(parts) > 1 {
			p = parts[i]
		}
		v, err := benor.ParseValue(strings.TrimSpace(p))
		if err != nil || !v.IsBinary() {
			return opts, fmt.Errorf("-values: %q is not 0 or 1", p)
		}
		opts.values = append(opts.values, v)
	}

	for _, p := range strings.Split(faulty, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil || id < 0 || uint64(id) >= n {
			return opts, fmt.Errorf("-faulty: %q is not a node id", p)
		}
		opts.faulty[core.NodeId(id)] = true
	}

	return opts, nil
}
