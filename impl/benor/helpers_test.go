package benor_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
	"github.com/usernamenenad/bft-benor/readiness"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixedCoin always lands on the same side.
type fixedCoin benor.Value

func (c fixedCoin) Flip() benor.Value {
	return benor.Value(c)
}

// recordingTransport keeps every broadcast and never delivers anything, so a
// test can drive a single node by hand.
type recordingTransport struct {
	mu   sync.Mutex
	sent []*benor.Message
	ch   chan core.Message
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{ch: make(chan core.Message)}
}

func (r *recordingTransport) Broadcast(_ context.Context, msg core.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg.(*benor.Message))
	return nil
}

func (r *recordingTransport) Send(ctx context.Context, _ core.NodeId, msg core.Message) error {
	return r.Broadcast(ctx, msg)
}

func (r *recordingTransport) Subscribe() <-chan core.Message {
	return r.ch
}

func (r *recordingTransport) messages() []benor.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]benor.Message, len(r.sent))
	for i, m := range r.sent {
		out[i] = *m
	}
	return out
}

func (r *recordingTransport) has(want benor.Message) bool {
	for _, m := range r.messages() {
		if m == want {
			return true
		}
	}
	return false
}

// alwaysReady is a barrier that is already open.
type alwaysReady struct{}

func (alwaysReady) SetReady(context.Context, core.NodeId) error { return nil }
func (alwaysReady) AllReady(context.Context) (bool, error)      { return true, nil }

// newSingleNode starts node 0 of an n-node peer set on a recording transport.
func newSingleNode(t *testing.T, n, f uint64, initial benor.Value, opts ...benor.Option) (*benor.BenOr, *recordingTransport) {
	t.Helper()

	config, err := benor.NewConfig(n, f)
	require.NoError(t, err)

	tr := newRecordingTransport()
	opts = append([]benor.Option{benor.WithPollInterval(time.Millisecond)}, opts...)
	node := benor.NewBenOr(benor.NewNode(0, initial, false), config, tr, benor.NewStore(), alwaysReady{}, silentLogger, opts...)
	t.Cleanup(node.Close)

	require.NoError(t, node.Start(context.Background()))
	return node, tr
}

type cluster struct {
	config  *benor.Config
	network *benor.Network
	nodes   []*benor.BenOr
	faulty  map[int]bool
}

// newCluster wires n engines over an in-memory network and starts them all.
func newCluster(t *testing.T, f uint64, values []benor.Value, faulty ...int) *cluster {
	t.Helper()

	n := uint64(len(values))
	config, err := benor.NewConfig(n, f)
	require.NoError(t, err)

	c := &cluster{
		config:  config,
		network: benor.NewNetwork(),
		faulty:  make(map[int]bool),
	}
	for _, id := range faulty {
		c.faulty[id] = true
	}

	registry := readiness.NewRegistry(int(n))
	for i, v := range values {
		id := core.NodeId(i)
		node := benor.NewBenOr(
			benor.NewNode(id, v, c.faulty[i]),
			config,
			c.network.Join(id),
			benor.NewStore(),
			registry,
			silentLogger,
			benor.WithPollInterval(time.Millisecond),
		)
		t.Cleanup(node.Close)
		c.nodes = append(c.nodes, node)
	}

	for i := range values {
		require.NoError(t, registry.SetReady(context.Background(), core.NodeId(i)))
	}

	errs := make(chan error, len(c.nodes))
	for _, node := range c.nodes {
		go func() {
			errs <- node.Start(context.Background())
		}()
	}
	for range c.nodes {
		require.NoError(t, <-errs)
	}

	return c
}

// awaitDecisions waits for every honest node and returns the decided values.
func (c *cluster) awaitDecisions(t *testing.T, timeout time.Duration) []benor.Value {
	t.Helper()

	deadline := time.After(timeout)
	var decided []benor.Value
	for i, node := range c.nodes {
		if c.faulty[i] {
			continue
		}
		select {
		case <-node.Done():
		case <-deadline:
			t.Fatalf("node %d did not decide within %s", i, timeout)
		}

		st := node.GetState()
		require.NotNil(t, st.Decided)
		require.True(t, *st.Decided)
		require.NotNil(t, st.X)
		require.NotEqual(t, benor.ValueUnknown, *st.X)
		decided = append(decided, *st.X)
	}
	return decided
}

func values(vs ...benor.Value) []benor.Value {
	return vs
}

const (
	zero = benor.ValueZero
	one  = benor.ValueOne
	unk  = benor.ValueUnknown
)
