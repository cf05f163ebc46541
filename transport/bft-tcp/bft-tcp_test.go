package bfttcp_test

import (
	"context"
	"testing"
	"time"

	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
	"github.com/usernamenenad/bft-benor/readiness"
	bfttcp "github.com/usernamenenad/bft-benor/transport/bft-tcp"
)

func setupTCPNetwork(t *testing.T, n int) ([]*bfttcp.TCPTransport, func()) {
	t.Helper()

	codec := benor.NewCodec()

	// Phase 1: Create transports (start listeners on random ports)
	transports := make([]*bfttcp.TCPTransport, n)
	for i := range n {
		tr, err := bfttcp.NewTCPTransport(core.NodeId(i), "127.0.0.1:0", codec, nil)
		if err != nil {
			t.Fatalf("failed to create transport for %d: %v", i, err)
		}
		transports[i] = tr
	}

	// Phase 2: Connect peers
	for i := range n {
		peers := make(map[core.NodeId]string)
		for j, tr := range transports {
			if j != i {
				peers[core.NodeId(j)] = tr.Addr()
			}
		}
		transports[i].Connect(peers)
	}

	cleanup := func() {
		for _, tr := range transports {
			tr.Close()
		}
	}

	return transports, cleanup
}

func runConsensus(t *testing.T, f uint64, values []benor.Value) []benor.Value {
	t.Helper()

	n := len(values)
	transports, cleanup := setupTCPNetwork(t, n)
	t.Cleanup(cleanup)

	config, err := benor.NewConfig(uint64(n), f)
	if err != nil {
		t.Fatal(err)
	}

	registry := readiness.NewRegistry(n)
	nodes := make([]*benor.BenOr, n)
	for i, v := range values {
		nodes[i] = benor.NewBenOr(benor.NewNode(core.NodeId(i), v, false), config, transports[i], benor.NewStore(), registry, nil,
			benor.WithPollInterval(10*time.Millisecond))
		t.Cleanup(nodes[i].Close)
	}

	ctx := context.Background()
	for i, tr := range transports {
		tr.WaitForReady()
		_ = registry.SetReady(ctx, core.NodeId(i))
	}

	for _, node := range nodes {
		go node.Start(ctx)
	}

	decided := make([]benor.Value, n)
	for i, node := range nodes {
		select {
		case <-node.Done():
		case <-time.After(10 * time.Second):
			t.Fatalf("node %d timed out waiting for consensus", i)
		}
		decided[i] = *node.GetState().X
	}

	return decided
}

func TestTCPHappyPath(t *testing.T) {
	decided := runConsensus(t, 1, []benor.Value{benor.ValueOne, benor.ValueOne, benor.ValueOne, benor.ValueOne})

	for i, v := range decided {
		if v != benor.ValueOne {
			t.Errorf("node %d decided %s, want 1", i, v)
		}
	}
}

func TestTCPSplitValues(t *testing.T) {
	decided := runConsensus(t, 2, []benor.Value{
		benor.ValueZero, benor.ValueOne, benor.ValueZero, benor.ValueOne, benor.ValueOne, benor.ValueZero, benor.ValueOne,
	})

	for i, v := range decided {
		if v != decided[0] {
			t.Errorf("node %d decided %s, node 0 decided %s", i, v, decided[0])
		}
	}
}

func TestTCPSendAndBroadcast(t *testing.T) {
	transports, cleanup := setupTCPNetwork(t, 3)
	defer cleanup()

	for _, tr := range transports {
		tr.WaitForReady()
	}

	ctx := context.Background()
	receive := func(tr *bfttcp.TCPTransport) *benor.Message {
		t.Helper()
		select {
		case msg := <-tr.Subscribe():
			return msg.(*benor.Message)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
			return nil
		}
	}

	msg := benor.NewVote(0, 3, benor.ValueUnknown)
	if err := transports[0].Broadcast(ctx, msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for i, tr := range transports {
		if got := receive(tr); *got != *msg {
			t.Errorf("transport %d: got %+v, want %+v", i, *got, *msg)
		}
	}

	direct := benor.NewPropose(2, 1, benor.ValueZero)
	if err := transports[2].Send(ctx, 1, direct); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := receive(transports[1]); *got != *direct {
		t.Errorf("got %+v, want %+v", *got, *direct)
	}

	if err := transports[0].Send(ctx, 9, direct); err == nil {
		t.Error("expected error sending to unknown peer")
	}
}
