package benor

import (
	"sync"

	"github.com/usernamenenad/bft-benor/core"
)

type State struct {
	mu sync.Mutex

	Killed  bool
	Started bool
	X       Value
	Decided bool
	Round   core.Round

	// VotedRound is the last round this node broadcast a vote for.
	VotedRound core.Round
	// HelpRound is the round after the decision, in which a decided node keeps
	// proposing and voting its value. Zero until decided.
	HelpRound core.Round
	// Finished is set once the help round has collected its vote quorum.
	Finished bool
}

func NewState() *State {
	return &State{}
}

// activeRound is the round whose inboxes drive the next transition.
func (s *State) activeRound() core.Round {
	if s.Decided {
		return s.HelpRound
	}
	return s.Round
}

// Status is the answer to a liveness query.
type Status string

const (
	StatusLive   Status = "live"
	StatusFaulty Status = "faulty"
)

// NodeState is the externally visible state of a node. Nil fields encode null.
type NodeState struct {
	Killed  bool        `json:"killed"`
	X       *Value      `json:"x"`
	Decided *bool       `json:"decided"`
	K       *core.Round `json:"k"`
}

func (s *State) snapshot(faulty bool) NodeState {
	ns := NodeState{Killed: s.Killed}
	if faulty || !s.Started {
		return ns
	}

	x, decided, k := s.X, s.Decided, s.Round
	ns.X = &x
	ns.Decided = &decided
	ns.K = &k

	return ns
}
