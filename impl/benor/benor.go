package benor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/metrics"
)

var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrStopped        = errors.New("node stopped")
	ErrInitialValue   = errors.New("initial value must be 0 or 1")
)

type BenOr struct {
	node *Node

	state     *State
	config    *Config
	validator *Validator
	network   core.Transport
	store     core.Store
	readiness core.Readiness
	coin      Coin
	metrics   *metrics.Metrics

	pollInterval time.Duration
	started      atomic.Bool
	done         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewBenOr creates the engine of one node and starts consuming the transport's
// inbound messages right away, so that proposals from peers that start earlier
// are kept in the inbox until this node reaches their round.
func NewBenOr(
	node *Node,
	config *Config,
	network core.Transport,
	store core.Store,
	readiness core.Readiness,
	logger *slog.Logger,
	opts ...Option,
) *BenOr {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &BenOr{
		node:         node,
		state:        NewState(),
		config:       config,
		validator:    NewValidator(config),
		network:      network,
		store:        store,
		readiness:    readiness,
		pollInterval: DefaultPollInterval,
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("id", node.GetNodeId()),
	}

	for _, opt := range opts {
		opt(b)
	}
	if b.coin == nil {
		b.coin = NewRandomCoin()
	}
	if config.F > config.EffectiveF() {
		b.logger.Warn("fault bound above N/2, termination is not guaranteed",
			"n", config.N, "f", config.F, "effectiveF", config.EffectiveF())
	}

	ch := network.Subscribe()
	b.wg.Add(1)
	go b.startMessageHandler(ch)

	return b
}

func (b *BenOr) GetNodeId() core.NodeId {
	return b.node.GetNodeId()
}

// Start waits until every peer is ready and then begins round 1.
// A faulty node returns nil without ever taking part in the protocol.
func (b *BenOr) Start(ctx context.Context) error {
	if !b.node.IsFaulty() && !b.node.InitialValue().IsBinary() {
		return fmt.Errorf("%w: node %d", ErrInitialValue, b.GetNodeId())
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := b.awaitPeers(ctx); err != nil {
		return err
	}
	b.logger.Info("all nodes are ready")

	if b.node.IsFaulty() {
		b.logger.Info("faulty node, not participating")
		return nil
	}

	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	if b.state.Killed {
		return nil
	}

	b.state.Started = true
	b.state.Round = 1
	b.state.X = b.node.InitialValue()
	b.metrics.UpdateRound(int(b.GetNodeId()), 1)

	b.broadcast(NewPropose(b.GetNodeId(), 1, b.state.X))
	b.progress()

	return nil
}

func (b *BenOr) awaitPeers(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		ready, err := b.readiness.AllReady(ctx)
		if err != nil {
			b.logger.Warn("readiness check failed", "error", err)
		} else if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ctx.Done():
			return ErrStopped
		case <-ticker.C:
		}
	}
}

// Stop kills the node. Later inbound messages are ignored and nothing new is
// sent; broadcasts already in flight are not retracted.
func (b *BenOr) Stop() {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	if !b.state.Killed {
		b.logger.Info("node killed")
	}
	b.state.Killed = true
}

// Close kills the node and releases its goroutines.
func (b *BenOr) Close() {
	b.Stop()
	b.cancel()
	b.wg.Wait()
}

func (b *BenOr) Status() Status {
	if b.node.IsFaulty() {
		return StatusFaulty
	}
	return StatusLive
}

func (b *BenOr) GetState() NodeState {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	return b.state.snapshot(b.node.IsFaulty())
}

// LastProposedValue returns the current x, if any.
func (b *BenOr) LastProposedValue() (Value, bool) {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	if b.node.IsFaulty() || !b.state.Started {
		return ValueUnknown, false
	}
	return b.state.X, true
}

// Done is closed once the node decides.
func (b *BenOr) Done() <-chan struct{} {
	return b.done
}

// Deliver feeds one protocol message into the node.
func (b *BenOr) Deliver(msg *Message) error {
	return b.handleMessage(msg)
}

func (b *BenOr) handleMessage(msg *Message) error {
	id := int(b.GetNodeId())

	if err := b.validator.ValidateMessage(msg); err != nil {
		b.metrics.RecordRejected(id, "malformed")
		return err
	}

	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	if b.state.Killed {
		b.metrics.RecordRejected(id, "killed")
		return nil
	}
	if b.node.IsFaulty() {
		b.metrics.RecordRejected(id, "faulty")
		return nil
	}

	if err := b.store.AddMessage(msg); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			b.metrics.RecordRejected(id, "duplicate")
			b.logger.Debug("duplicate message", "from", msg.From, "round", msg.Round, "phase", msg.MessageType.String())
			return nil
		}
		return fmt.Errorf("store %s: %w", msg.MessageType, err)
	}
	b.metrics.RecordReceived(id, msg.MessageType.String())

	if b.state.Started {
		b.progress()
	}

	return nil
}

// progress fires every transition whose quorum is met. Caller holds state.mu.
func (b *BenOr) progress() {
	if b.node.IsFaulty() {
		panic(fmt.Sprintf("benor: node %d is faulty and cannot progress", b.GetNodeId()))
	}

	quorum := b.config.QuorumSize()

	for !b.state.Killed && !b.state.Finished {
		round := b.state.activeRound()

		if b.state.VotedRound < round {
			proposals := b.values(round, MessageTypePropose)
			if uint64(len(proposals)) < quorum {
				return
			}

			vote := MajorityOrUnknown(proposals, b.config)
			b.state.VotedRound = round
			b.logger.Debug("proposal quorum reached", "round", round, "vote", vote.String())
			b.broadcast(NewVote(b.GetNodeId(), round, vote))
			continue
		}

		votes := b.values(round, MessageTypeVote)
		if uint64(len(votes)) < quorum {
			return
		}

		if b.state.Decided {
			b.state.Finished = true
			b.logger.Debug("help round complete", "round", round)
			return
		}

		outcome := DecideOrContinue(votes, b.config, b.coin)
		if outcome.Decided {
			b.decide(round, outcome.Value)
			continue
		}

		b.state.Round = round + 1
		b.state.X = outcome.Value
		b.metrics.UpdateRound(int(b.GetNodeId()), uint64(b.state.Round))
		b.logger.Debug("no decision, next round", "round", b.state.Round, "value", b.state.X.String())
		b.broadcast(NewPropose(b.GetNodeId(), b.state.Round, b.state.X))
	}
}

// decide records the decision and opens the help round. Caller holds state.mu.
func (b *BenOr) decide(round core.Round, value Value) {
	b.state.X = value
	b.state.Decided = true
	b.state.HelpRound = round + 1
	close(b.done)

	b.metrics.RecordDecision(int(b.GetNodeId()), value.String(), uint64(round))
	b.logger.Info("decided!", "round", round, "value", value.String())

	b.broadcast(NewPropose(b.GetNodeId(), b.state.HelpRound, value))
}

func (b *BenOr) values(round core.Round, mt MessageType) []Value {
	msgs, err := b.store.GetMessagesByKey(Key(round, mt))
	if err != nil {
		b.logger.Error("failed to read inbox", "round", round, "phase", mt.String(), "error", err)
		return nil
	}

	values := make([]Value, 0, len(msgs))
	for _, msg := range msgs {
		if m, ok := msg.(*Message); ok {
			values = append(values, m.Value)
		}
	}
	return values
}

// broadcast sends msg without waiting for any peer. Caller holds state.mu.
func (b *BenOr) broadcast(msg *Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		err := b.network.Broadcast(b.ctx, msg)
		b.metrics.RecordBroadcast(int(b.GetNodeId()), msg.MessageType.String(), err != nil)
		if err != nil {
			b.logger.Warn(
				"error broadcasting",
				"type", msg.MessageType.String(),
				"round", msg.Round,
				"error", err,
			)
		}
	}()
}

func (b *BenOr) startMessageHandler(ch <-chan core.Message) {
	defer b.wg.Done()

	b.logger.Debug("start listening on messages")

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			m, ok := msg.(*Message)
			if !ok {
				b.logger.Error("received message of unexpected type", "type", fmt.Sprintf("%T", msg))
				continue
			}

			if err := b.handleMessage(m); err != nil {
				b.logger.Warn("rejected message", "from", m.From, "error", err)
			}
		}
	}
}
